package console

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"opsbot/pkg/config"
)

func testModel(submit func(string)) *model {
	if submit == nil {
		submit = func(string) {}
	}
	return newModel(submit, config.ConsoleConfig{SenderID: "console", ChatName: "developer"}, "!")
}

func typeText(m *model, text string) {
	m.input.SetValue(text)
}

func TestEnterSubmitsTrimmedText(t *testing.T) {
	var got []string
	m := testModel(func(text string) { got = append(got, text) })

	typeText(m, "  !sysinfo  ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a submit command")
	}
	cmd()

	if len(got) != 1 || got[0] != "!sysinfo" {
		t.Fatalf("submitted = %q", got)
	}
	if m.input.Value() != "" {
		t.Fatalf("input not cleared: %q", m.input.Value())
	}
	if m.sent != 1 || len(m.entries) != 1 || m.entries[0].role != roleUser {
		t.Fatalf("unexpected transcript: sent=%d entries=%+v", m.sent, m.entries)
	}
}

func TestEnterIgnoresBlankInput(t *testing.T) {
	m := testModel(func(string) { t.Fatal("blank input must not be submitted") })

	typeText(m, "   ")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("expected no command for blank input")
	}
}

func TestExitCommandQuits(t *testing.T) {
	m := testModel(func(string) { t.Fatal("exit must not be submitted") })

	typeText(m, "/exit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if !m.quit {
		t.Fatal("expected quit flag")
	}
}

func TestReplyClearsTyping(t *testing.T) {
	m := testModel(nil)

	m.Update(typingMsg{})
	if !m.typing {
		t.Fatal("expected typing indicator")
	}
	if !strings.Contains(m.View(), "bot is typing") {
		t.Fatal("expected typing status in view")
	}

	m.Update(replyMsg{text: "Pulled the latest commits"})
	if m.typing {
		t.Fatal("reply must clear typing indicator")
	}
	if m.replies != 1 || m.entries[0].role != roleBot {
		t.Fatalf("unexpected transcript: %+v", m.entries)
	}
	if !strings.Contains(m.View(), "Pulled the latest commits") {
		t.Fatal("expected reply in view")
	}
}

func TestStaleTypingExpiryIsIgnored(t *testing.T) {
	m := testModel(nil)

	m.Update(typingMsg{})
	m.Update(typingMsg{})

	m.Update(typingExpiredMsg{gen: 1})
	if !m.typing {
		t.Fatal("expiry of an older typing action must not clear the indicator")
	}

	m.Update(typingExpiredMsg{gen: 2})
	if m.typing {
		t.Fatal("expected indicator to clear")
	}
}

func TestHandleViewportMouseWheel(t *testing.T) {
	m := testModel(nil)
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()
	m.followLog = true

	previousOffset := m.viewport.YOffset
	if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}) {
		t.Fatal("expected wheel-up mouse event to be handled")
	}
	if m.followLog {
		t.Fatal("expected followLog to be disabled after wheel-up scroll")
	}
	if m.viewport.YOffset >= previousOffset {
		t.Fatalf("expected YOffset to decrease, got %d want < %d", m.viewport.YOffset, previousOffset)
	}

	for !m.viewport.AtBottom() {
		m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown})
	}
	if !m.followLog {
		t.Fatal("expected followLog to re-enable at the bottom")
	}

	if m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}) {
		t.Fatal("expected non-wheel mouse event to be ignored")
	}
}

func TestAdapterInbound(t *testing.T) {
	a := NewAdapter(config.ConsoleConfig{}, "!", nil)

	first := a.inbound("!sysinfo")
	second := a.inbound("!git pull")

	if first.Channel != "console" || first.SenderID != "console" || first.ChatName != "console" {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	if first.MessageID == second.MessageID {
		t.Fatal("expected distinct message ids")
	}
}
