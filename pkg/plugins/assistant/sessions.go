package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"opsbot/pkg/provider"
	providertypes "opsbot/pkg/provider/types"
)

// sessions maps a chat to its provider session and serializes prompts
// within one chat.
type sessions struct {
	client provider.Client
	model  string
	agent  string
	log    *slog.Logger

	mu    sync.Mutex
	chats map[string]*chatSession
}

type chatSession struct {
	ready    chan struct{}
	id       string
	err      error
	promptMu sync.Mutex
}

func newSessions(client provider.Client, model string, agent string, log *slog.Logger) *sessions {
	return &sessions{
		client: client,
		model:  model,
		agent:  agent,
		log:    log,
		chats:  make(map[string]*chatSession),
	}
}

// Prompt sends text into the session for chatKey, creating it on first use.
func (s *sessions) Prompt(ctx context.Context, chatKey string, text string) (providertypes.PromptResult, error) {
	session, err := s.sessionFor(ctx, chatKey)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	session.promptMu.Lock()
	defer session.promptMu.Unlock()

	return s.client.Prompt(ctx, session.id, text, s.model, s.agent)
}

func (s *sessions) sessionFor(ctx context.Context, chatKey string) (*chatSession, error) {
	s.mu.Lock()
	session, ok := s.chats[chatKey]
	if !ok {
		session = &chatSession{ready: make(chan struct{})}
		s.chats[chatKey] = session
	}
	s.mu.Unlock()

	if !ok {
		session.id, session.err = s.client.CreateSession(ctx, "opsbot:"+chatKey)
		if session.err != nil {
			session.err = fmt.Errorf("start session for %s: %w", chatKey, session.err)
			s.forget(chatKey, session)
		} else {
			s.log.Debug("Provider session created", "chat", chatKey, "session_id", session.id)
		}
		close(session.ready)
	}

	select {
	case <-session.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if session.err != nil {
		return nil, session.err
	}

	return session, nil
}

// forget drops a failed session so the next ask retries.
func (s *sessions) forget(chatKey string, session *chatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chats[chatKey] == session {
		delete(s.chats, chatKey)
	}
}

// Reset drops every tracked session.
func (s *sessions) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.chats)
	clear(s.chats)
	return n
}
