package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sessiondto "dwell/internal/modules/session/dto"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/ui/theme"
)

const historySize = 50

// ─── port ────────────────────────────────────────────────────────────────────

type SessionPort interface {
	Active(ctx context.Context) (sessiondto.SessionOutput, error)
	History(ctx context.Context, limit int) ([]sessiondto.SessionOutput, error)
}

// ─── messages ────────────────────────────────────────────────────────────────

type ActiveMsg struct {
	Session sessiondto.SessionOutput
	Err     error
}

type HistoryMsg struct {
	Items []sessiondto.SessionOutput
	Err   error
}

type tickMsg time.Time

// ─── list item ───────────────────────────────────────────────────────────────

type historyItem struct{ s sessiondto.SessionOutput }

func (i historyItem) Title() string {
	return fmt.Sprintf("%s  %s", i.s.Type, time.UnixMilli(i.s.StartTime).Format("Jan 2 15:04"))
}

func (i historyItem) Description() string {
	return theme.Status(string(i.s.Status)) + "  " + theme.Duration(i.s.Elapsed.Milliseconds())
}

func (i historyItem) FilterValue() string { return string(i.s.Type) + " " + string(i.s.Status) }

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	port      SessionPort
	history   list.Model
	bar       progress.Model
	active    sessiondto.SessionOutput
	hasActive bool
	errLine   string
	width     int
	height    int
}

func New(port SessionPort) Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Peach).BorderForeground(theme.Peach)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Peach)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "History"
	l.Styles.Title = theme.Title
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	return Model{
		port:    port,
		history: l,
		bar:     progress.New(progress.WithGradient(theme.BarFrom, theme.BarTo)),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Reload(), tick())
}

// Reload fetches the active session and the history list.
func (m Model) Reload() tea.Cmd {
	return tea.Batch(m.loadActiveCmd(), m.loadHistoryCmd())
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.history.SetSize(m.width, max(m.height-10, 3))
		m.bar.Width = max(m.width-8, 10)

	case ActiveMsg:
		m.errLine = ""
		switch {
		case errors.Is(msg.Err, apperrors.ErrNoActiveSession):
			m.hasActive = false
		case msg.Err != nil:
			m.errLine = msg.Err.Error()
		default:
			m.hasActive = !msg.Session.Status.Terminal()
			m.active = msg.Session
		}

	case HistoryMsg:
		if msg.Err != nil {
			m.errLine = msg.Err.Error()
			break
		}
		items := make([]list.Item, len(msg.Items))
		for i, s := range msg.Items {
			items[i] = historyItem{s: s}
		}
		cmds = append(cmds, m.history.SetItems(items))

	case tickMsg:
		// Elapsed and remaining come from the lifecycle, so poll instead of
		// counting locally.
		cmds = append(cmds, tick())
		if m.hasActive {
			cmds = append(cmds, m.loadActiveCmd())
		}
	}

	var lCmd tea.Cmd
	m.history, lCmd = m.history.Update(msg)
	cmds = append(cmds, lCmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	top := theme.Pane.Width(max(m.width-2, 10)).Render(m.renderActive())
	return lipgloss.JoinVertical(lipgloss.Left, top, m.history.View())
}

// Active returns the current session, if any.
func (m Model) Active() (sessiondto.SessionOutput, bool) {
	return m.active, m.hasActive
}

func (m Model) Filtering() bool {
	return m.history.FilterState() == list.Filtering
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m Model) renderActive() string {
	if m.errLine != "" {
		return theme.Bad.Render(m.errLine)
	}
	if !m.hasActive {
		return theme.Muted.Render("No active session. Use :session:start focus 25 to begin.")
	}
	s := m.active
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s  %s\n", theme.Title.Render(string(s.Type)), theme.Status(string(s.Status)), theme.Muted.Render(s.LocalID))
	ratio := 0.0
	if s.PlannedDuration > 0 {
		ratio = float64(s.Elapsed.Milliseconds()) / float64(s.PlannedDuration)
	}
	sb.WriteString(m.bar.ViewAs(min(ratio, 1)) + "\n")
	fmt.Fprintf(&sb, "%s elapsed  %s remaining  %s paused",
		theme.Duration(s.Elapsed.Milliseconds()),
		theme.Duration(s.Remaining.Milliseconds()),
		theme.Duration(s.PausedDuration))
	return sb.String()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) loadActiveCmd() tea.Cmd {
	return func() tea.Msg {
		s, err := m.port.Active(context.Background())
		return ActiveMsg{Session: s, Err: err}
	}
}

func (m Model) loadHistoryCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.port.History(context.Background(), historySize)
		return HistoryMsg{Items: items, Err: err}
	}
}
