package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/mstepanenko/craftchat/internal/engine"
	"github.com/mstepanenko/craftchat/internal/models"
)

// Theme holds the color scheme for the watch UI.
type Theme struct {
	Badge   lipgloss.Color
	Me      lipgloss.Color
	Them    lipgloss.Color
	Hint    lipgloss.Color
	Error   lipgloss.Color
	Pending lipgloss.Color
}

var defaultTheme = Theme{
	Badge:   lipgloss.Color("#FF005F"), // red
	Me:      lipgloss.Color("#00D787"), // green
	Them:    lipgloss.Color("#5FAFD7"), // light blue
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
	Error:   lipgloss.Color("#FF005F"), // red
	Pending: lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) badgeStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Badge).Bold(true)
}

func (t Theme) meStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Me)
}

func (t Theme) themStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Them)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) pendingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Pending).Italic(true)
}

// Messages bridged from the engine into the update loop.
type (
	liveMsg        struct{ message models.Message }
	unreadMsg      struct{ total int }
	connStateMsg   struct{ state models.ConnState }
	viewChangedMsg struct{}
	sendResultMsg  struct{ err error }
)

type watchMode int

const (
	modeList watchMode = iota
	modeChat
)

// watchModel is the bubbletea model for the watch command.
type watchModel struct {
	eng    *engine.Engine
	theme  Theme
	notify func(tea.Msg)

	mode      watchMode
	width     int
	height    int
	connState models.ConnState
	unread    int
	spinner   spinner.Model

	// list mode
	convs  []models.Conversation
	cursor int

	// chat mode
	view        *engine.View
	unsubChange func()
	offset      int  // first visible transcript line
	follow      bool // stick to the newest message
	restored    bool // scroll position applied once per open
	input       string
	sendErr     string
	quitting    bool
}

func newWatchModel(eng *engine.Engine) *watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &watchModel{
		eng:       eng,
		theme:     defaultTheme,
		spinner:   sp,
		connState: eng.ConnectionState(),
		convs:     eng.Conversations(),
		unread:    eng.UnreadTotal(),
		follow:    true,
	}
}

// Init starts the spinner.
func (m *watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and returns the updated model.
func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case liveMsg:
		m.convs = m.eng.Conversations()
		return m, nil

	case unreadMsg:
		m.unread = msg.total
		m.convs = m.eng.Conversations()
		return m, nil

	case connStateMsg:
		m.connState = msg.state
		return m, nil

	case viewChangedMsg:
		m.applyViewChange()
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			var sendErr *engine.SendError
			if errors.As(msg.err, &sendErr) {
				// Keep the typed content so the user can retry.
				m.input = sendErr.Draft
			}
			m.sendErr = "send failed, draft restored"
		}
		return m, nil

	case tea.KeyPressMsg:
		if m.mode == modeChat {
			return m.updateChat(msg)
		}
		return m.updateList(msg)
	}

	return m, nil
}

func (m *watchModel) updateList(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.convs)-1 {
			m.cursor++
		}
	case "enter":
		if m.cursor < len(m.convs) {
			m.openChat(m.convs[m.cursor].OtherUserID)
		}
	}
	return m, nil
}

func (m *watchModel) updateChat(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.closeChat()
		return m, nil
	case "up":
		m.follow = false
		if m.offset > 0 {
			m.offset--
		}
		return m, nil
	case "down":
		m.offset++
		m.clampOffset()
		return m, nil
	case "enter":
		content := strings.TrimSpace(m.input)
		if content == "" || m.view == nil {
			return m, nil
		}
		m.input = ""
		m.sendErr = ""
		view := m.view
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_, err := view.Send(ctx, content)
			return sendResultMsg{err: err}
		}
	case "backspace":
		if len(m.input) > 0 {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
		return m, nil
	case "space":
		m.input += " "
		return m, nil
	default:
		s := msg.String()
		if len([]rune(s)) == 1 {
			m.input += s
		}
		return m, nil
	}
}

func (m *watchModel) openChat(otherUserID int64) {
	v := m.eng.OpenConversation(context.Background(), otherUserID)
	m.view = v
	m.mode = modeChat
	m.input = ""
	m.sendErr = ""
	m.restored = false
	m.follow = true
	m.offset = 0
	if m.notify != nil {
		m.unsubChange = v.Changed(func() {
			m.notify(viewChangedMsg{})
		})
	}
}

func (m *watchModel) closeChat() {
	if m.view != nil {
		m.view.SaveScroll(m.offset, 0)
		if m.unsubChange != nil {
			m.unsubChange()
			m.unsubChange = nil
		}
		m.view.Close()
		m.view = nil
	}
	m.mode = modeList
	m.convs = m.eng.Conversations()
}

// applyViewChange reacts to transcript/state changes of the open view.
func (m *watchModel) applyViewChange() {
	if m.view == nil {
		return
	}
	if m.view.State() == engine.ViewReady && !m.restored {
		m.restored = true
		if pos, ok := m.view.ScrollPosition(); ok {
			// Resume where the user left off instead of jumping around.
			m.offset = pos.Index
			m.follow = false
			m.clampOffset()
		} else {
			m.follow = true
		}
	}
	if m.follow {
		m.offset = m.maxOffset()
	}
}

func (m *watchModel) transcriptHeight() int {
	h := m.height - 4 // header, input line, status line, padding
	if h < 1 {
		h = 10
	}
	return h
}

func (m *watchModel) transcriptLines() []string {
	if m.view == nil {
		return nil
	}
	meID := m.eng.Session().UserID()
	bubbles := m.view.Transcript()
	lines := make([]string, 0, len(bubbles))
	for _, b := range bubbles {
		stamp := b.CreatedAt.Local().Format("15:04")
		switch {
		case b.Pending:
			lines = append(lines, m.theme.pendingStyle().Render(fmt.Sprintf("[%s] me: %s (sending...)", stamp, b.Content)))
		case b.SenderID == meID:
			lines = append(lines, m.theme.meStyle().Render(fmt.Sprintf("[%s] me: %s", stamp, b.Content)))
		default:
			name := b.SenderName
			if name == "" {
				name = fmt.Sprintf("user %d", b.SenderID)
			}
			lines = append(lines, m.theme.themStyle().Render(fmt.Sprintf("[%s] %s: %s", stamp, name, b.Content)))
		}
	}
	return lines
}

func (m *watchModel) maxOffset() int {
	n := len(m.transcriptLines()) - m.transcriptHeight()
	if n < 0 {
		n = 0
	}
	return n
}

func (m *watchModel) clampOffset() {
	if max := m.maxOffset(); m.offset > max {
		m.offset = max
		m.follow = true
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// View renders the UI.
func (m *watchModel) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}
	if m.mode == modeChat {
		return tea.NewView(m.renderChat())
	}
	return tea.NewView(m.renderList())
}

func (m *watchModel) renderList() string {
	var b strings.Builder

	title := "Conversations"
	if m.unread > 0 {
		title += " " + m.theme.badgeStyle().Render(fmt.Sprintf("(%d unread)", m.unread))
	}
	b.WriteString(title + "\n\n")

	if len(m.convs) == 0 {
		b.WriteString(m.theme.hintStyle().Render("No conversations yet.") + "\n")
	}

	for i, c := range m.convs {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		badge := ""
		if c.UnreadCount > 0 {
			badge = " " + m.theme.badgeStyle().Render(fmt.Sprintf("[%d]", c.UnreadCount))
		}
		prefix := ""
		if c.IsLastMessageFromMe {
			prefix = "me: "
		}
		name := c.OtherUserName
		if name == "" {
			name = fmt.Sprintf("user %d", c.OtherUserID)
		}
		b.WriteString(fmt.Sprintf("%s%s%s\n", cursor, name, badge))
		b.WriteString(fmt.Sprintf("   %s\n", m.theme.hintStyle().Render(prefix+c.LastMessage)))
	}

	b.WriteString("\n" + m.statusLine())
	return b.String()
}

func (m *watchModel) renderChat() string {
	var b strings.Builder

	name := m.view.OtherUserName()
	if name == "" {
		name = fmt.Sprintf("user %d", m.view.OtherUserID())
	}
	b.WriteString(fmt.Sprintf("Chat with %s\n\n", name))

	switch m.view.State() {
	case engine.ViewLoading:
		b.WriteString(m.spinner.View() + " loading history...\n")
	case engine.ViewError:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("failed to load history: %v", m.view.Err())) + "\n")
	case engine.ViewReady:
		lines := m.transcriptLines()
		h := m.transcriptHeight()
		start := m.offset
		if start > len(lines) {
			start = len(lines)
		}
		end := start + h
		if end > len(lines) {
			end = len(lines)
		}
		for _, line := range lines[start:end] {
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n> " + m.input + "\n")
	if m.sendErr != "" {
		b.WriteString(m.theme.errorStyle().Render(m.sendErr) + "\n")
	}
	b.WriteString(m.statusLine())
	return b.String()
}

func (m *watchModel) statusLine() string {
	state := m.connState.String()
	hint := "enter: open  q: quit"
	if m.mode == modeChat {
		hint = "enter: send  esc: back  up/down: scroll"
	}
	return m.theme.hintStyle().Render(fmt.Sprintf("[%s] %s", state, hint))
}
