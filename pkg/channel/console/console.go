// Package console is a terminal chat channel for running the bot locally.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"opsbot/pkg/bus"
	"opsbot/pkg/channel"
	"opsbot/pkg/config"
)

const (
	channelName = "console"
	chatID      = "console"
)

// ErrQuit is returned by Run when the operator leaves the console.
var ErrQuit = errors.New("console closed by operator")

// Adapter runs a bubbletea chat window as a bot channel.
type Adapter struct {
	cfg    config.ConsoleConfig
	marker string
	log    *slog.Logger
	opts   []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
	seq     atomic.Int64
}

// NewAdapter builds the console channel. marker is shown as an input hint.
func NewAdapter(cfg config.ConsoleConfig, marker string, log *slog.Logger, opts ...tea.ProgramOption) *Adapter {
	if strings.TrimSpace(cfg.SenderID) == "" {
		cfg.SenderID = channelName
	}
	if strings.TrimSpace(cfg.ChatName) == "" {
		cfg.ChatName = channelName
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:    cfg,
		marker: marker,
		log:    log.With("component", "channel.console"),
		opts:   opts,
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// Run blocks until the operator quits (ErrQuit) or ctx ends (nil).
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	submit := func(text string) {
		handler(ctx, a.inbound(text))
	}

	m := newModel(submit, a.cfg, a.marker)
	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion()}, a.opts...)
	program := tea.NewProgram(m, opts...)

	a.mu.Lock()
	a.program = program
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.program = nil
		a.mu.Unlock()
	}()

	a.log.Info("Console channel started", "sender_id", a.cfg.SenderID, "chat_name", a.cfg.ChatName)

	final, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("console program: %w", err)
	}
	if fm, ok := final.(*model); ok && fm.quit {
		return ErrQuit
	}

	return nil
}

// Send shows a reply or the typing indicator in the window.
func (a *Adapter) Send(_ context.Context, msg bus.OutboundMessage) error {
	a.mu.Lock()
	program := a.program
	a.mu.Unlock()

	if program == nil {
		return errors.New("console is not running")
	}

	switch msg.Kind {
	case bus.OutboundTyping:
		program.Send(typingMsg{})
	case bus.OutboundReply:
		program.Send(replyMsg{text: msg.Content})
	default:
		return fmt.Errorf("unsupported outbound kind %q", msg.Kind)
	}

	return nil
}

func (a *Adapter) inbound(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    channelName,
		MessageID:  strconv.FormatInt(a.seq.Add(1), 10),
		SenderID:   a.cfg.SenderID,
		SenderName: a.cfg.SenderID,
		ChatID:     chatID,
		ChatName:   a.cfg.ChatName,
		Content:    text,
		At:         time.Now().UTC(),
	}
}
