package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"opsbot/pkg/config"
)

// typingTimeout clears the indicator when no reply follows it.
const typingTimeout = 5 * time.Second

type role int

const (
	roleUser role = iota
	roleBot
)

type entry struct {
	role role
	text string
}

type replyMsg struct{ text string }

type typingMsg struct{}

// typingExpiredMsg carries the typing generation it belongs to.
type typingExpiredMsg struct{ gen int }

type model struct {
	submit func(string)
	cfg    config.ConsoleConfig
	marker string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	typing    bool
	typingGen int
	followLog bool
	sent      int
	replies   int
	quit      bool
}

func newModel(submit func(string), cfg config.ConsoleConfig, marker string) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = marker + "sysinfo"
	in.Focus()
	in.CharLimit = 0

	return &model{
		submit:    submit,
		cfg:       cfg,
		marker:    marker,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case replyMsg:
		m.typing = false
		m.replies++
		m.entries = append(m.entries, entry{role: roleBot, text: typed.text})
		m.refreshViewport(false)
		return m, nil
	case typingMsg:
		m.typingGen++
		gen := m.typingGen
		expire := tea.Tick(typingTimeout, func(time.Time) tea.Msg { return typingExpiredMsg{gen: gen} })
		if m.typing {
			return m, expire
		}
		m.typing = true
		return m, tea.Batch(m.spinner.Tick, expire)
	case typingExpiredMsg:
		if typed.gen == m.typingGen {
			m.typing = false
		}
		return m, nil
	case spinner.TickMsg:
		if !m.typing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quit = true
		return m, tea.Quit
	}

	if m.handleViewportKey(msg) {
		return m, nil
	}

	if msg.Type != tea.KeyEnter {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if isExitCommand(text) {
		m.quit = true
		return m, tea.Quit
	}

	m.input.SetValue("")
	m.sent++
	m.entries = append(m.entries, entry{role: roleUser, text: text})
	m.followLog = true
	m.refreshViewport(true)

	submit := m.submit
	return m, func() tea.Msg {
		submit(text)
		return nil
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("opsbot console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"sender:%s · chat:%s · marker:%s · sent:%d · replies:%d",
		m.cfg.SenderID, m.cfg.ChatName, m.marker, m.sent, m.replies,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · PgUp/PgDn scroll · End jump latest · Ctrl+C/Esc quit")
	if m.typing {
		status = m.theme.statusBusy.Render(m.spinner.View() + " bot is typing...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		body := strings.TrimSpace(item.text)
		switch item.role {
		case roleUser:
			sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
				m.theme.userTitle.Render(m.cfg.SenderID),
				m.theme.userBox.Width(m.viewport.Width).Render(body),
			))
		case roleBot:
			sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
				m.theme.botTitle.Render("opsbot"),
				m.theme.botBox.Width(m.viewport.Width).Render(body),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
