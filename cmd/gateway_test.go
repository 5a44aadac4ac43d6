package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"opsbot/pkg/bus"
	channelpkg "opsbot/pkg/channel"
	"opsbot/pkg/config"
	"opsbot/pkg/engine"
	"opsbot/pkg/roster"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func (a testAdapter) Send(_ context.Context, _ bus.OutboundMessage) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "console"}}
	if got := enabledChannelNames(adapters); got != "telegram,console" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,console")
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&exitError{code: 3, err: cause})

	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected exitError to unwrap its cause")
	}
	if got := (&exitError{code: 75}).Error(); got != "exit status 75" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestRenderCommandsSortsAndShowsUsage(t *testing.T) {
	t.Parallel()

	out := renderCommands("!", []engine.CommandInfo{
		{Namespace: "system", Name: "sysinfo", Prefix: "sysinfo", Require: engine.RequireOpen, Help: "Show status."},
		{Namespace: "devtest", Name: "test", Prefix: "test", Require: engine.RequireOpen},
		{Namespace: "system", Name: "git_checkout", Prefix: "git checkout", Pattern: `(?P<branch>.+)`, Require: engine.RequireAdmin},
	})

	for _, want := range []string{"devtest.test", "!sysinfo", "!git checkout (?P<branch>.+)", "admin", "Show status."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "devtest.test") > strings.Index(out, "system.git_checkout") {
		t.Fatalf("expected namespaces in order:\n%s", out)
	}
	if strings.Index(out, "system.git_checkout") > strings.Index(out, "system.sysinfo") {
		t.Fatalf("expected prefixes in order within a namespace:\n%s", out)
	}
}

func TestRenderMembers(t *testing.T) {
	t.Parallel()

	if got := renderMembers(nil); got != "roster is empty" {
		t.Fatalf("renderMembers(nil) = %q", got)
	}

	out := renderMembers([]roster.Member{
		{SenderID: "1001", Permission: engine.PermissionAdmin, Source: roster.SourceConfig},
		{SenderID: "2002", Permission: engine.PermissionNormal, Source: roster.SourceRoster, GrantedBy: "cli:ops"},
	})
	for _, want := range []string{"1001", "config", "2002", "normal", "cli:ops"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
