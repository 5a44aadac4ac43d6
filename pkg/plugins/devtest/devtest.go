// Package devtest holds a command for checking that sleeping handlers do not
// hold up other chats.
package devtest

import (
	"strings"
	"time"

	"opsbot/pkg/engine"
)

const (
	Namespace = "devtest"

	DefaultChannel = "developer"
	DefaultDelay   = 3 * time.Second
)

// Plugin implements engine.Plugin.
type Plugin struct {
	channel string
	delay   time.Duration
}

// New returns the plugin. It only answers in chats named channel.
func New(channel string, delay time.Duration) *Plugin {
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = DefaultChannel
	}
	if delay <= 0 {
		delay = DefaultDelay
	}

	return &Plugin{channel: channel, delay: delay}
}

func (p *Plugin) Name() string {
	return Namespace
}

func (p *Plugin) Commands() []engine.Descriptor {
	return []engine.Descriptor{{
		Name: "test",
		Help: "Reply twice with a pause in between (developer chat only).",
		Run:  p.test,
	}}
}

func (p *Plugin) test(inv *engine.Invocation) error {
	if !strings.EqualFold(inv.Message.ChatName, p.channel) {
		return nil
	}

	if err := inv.Reply("First handler"); err != nil {
		return err
	}
	if err := inv.Sleep(p.delay); err != nil {
		return err
	}

	return inv.Reply("First handler, message 2")
}
