// Package assistant forwards free-form questions to a language model.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"opsbot/pkg/engine"
	"opsbot/pkg/provider"
	providertypes "opsbot/pkg/provider/types"
)

// Namespace is the plugin namespace of the assistant commands.
const Namespace = "assistant"

// Plugin implements engine.Plugin.
type Plugin struct {
	sessions *sessions
	log      *slog.Logger
}

// New builds the plugin around a provider client. model and agent are passed
// through on every prompt.
func New(client provider.Client, model string, agent string, log *slog.Logger) (*Plugin, error) {
	if client == nil {
		return nil, errors.New("assistant plugin: provider client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "plugins.assistant")

	return &Plugin{
		sessions: newSessions(client, strings.TrimSpace(model), strings.TrimSpace(agent), log),
		log:      log,
	}, nil
}

func (p *Plugin) Name() string {
	return Namespace
}

func (p *Plugin) Commands() []engine.Descriptor {
	return []engine.Descriptor{
		{Name: "ask", Pattern: `(?P<prompt>(?s:.+))`, Help: "Ask the assistant a question.", Run: p.ask},
		{Name: "forget", Require: engine.RequireAdmin, Help: "Drop every assistant conversation.", Run: p.forget},
	}
}

func (p *Plugin) ask(inv *engine.Invocation) error {
	prompt := strings.TrimSpace(inv.Args.Get("prompt"))
	chatKey := inv.Message.Channel + ":" + inv.Message.ChatID

	if err := inv.Typing(); err != nil {
		return err
	}

	result, err := engine.Await(inv, func(ctx context.Context) (providertypes.PromptResult, error) {
		return p.sessions.Prompt(ctx, chatKey, prompt)
	})
	if errors.Is(err, engine.ErrAborted) {
		return err
	}
	if err != nil {
		p.log.Warn("Ask failed", "chat", chatKey, "invocation_id", inv.ID, "error", err)
		return inv.Replyf("Ask failed: %v", err)
	}

	if usage := result.Metadata.Usage; usage != nil {
		p.log.Info("Ask answered",
			"chat", chatKey,
			"invocation_id", inv.ID,
			"model", result.Metadata.Model,
			"tokens", usage.Summary(),
		)
	}

	return inv.Reply(result.Text)
}

func (p *Plugin) forget(inv *engine.Invocation) error {
	n := p.sessions.Reset()
	return inv.Reply(fmt.Sprintf("Forgot %d conversation(s)", n))
}
