package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sessiondto "dwell/internal/modules/session/dto"
	"dwell/internal/ui/components"
	"dwell/internal/ui/theme"
	sessionview "dwell/internal/ui/views/session"
	"dwell/internal/ui/views/syncstatus"
	todayview "dwell/internal/ui/views/today"
)

// ─── ports ───────────────────────────────────────────────────────────────────

// SessionPort drives the lifecycle from the palette and feeds the session tab.
type SessionPort interface {
	sessionview.SessionPort
	Start(ctx context.Context, sessionType string, planned time.Duration) (sessiondto.SessionOutput, error)
	Pause(ctx context.Context, reason string) (sessiondto.SessionOutput, error)
	Resume(ctx context.Context) (sessiondto.SessionOutput, error)
	Complete(ctx context.Context, notes string, wasSuccessful bool) (sessiondto.SessionOutput, error)
	Abandon(ctx context.Context, reason string, interrupted bool) (sessiondto.SessionOutput, error)
}

// ─── tab index ───────────────────────────────────────────────────────────────

type tabID int

const (
	tabToday tabID = iota
	tabSession
	tabSync
	tabCount
)

var tabLabels = [tabCount]string{"Today", "Session", "Sync"}

// ─── async messages ──────────────────────────────────────────────────────────

type sessionChangedMsg struct {
	verb string
	out  sessiondto.SessionOutput
	err  error
}

// ─── key bindings ────────────────────────────────────────────────────────────

type keyMap struct {
	Tab      key.Binding
	Help     key.Binding
	Palette  key.Binding
	Quit     key.Binding
	Pause    key.Binding
	Resume   key.Binding
	Complete key.Binding
	Sync     key.Binding
	Refresh  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next tab")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Palette:  key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "palette")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
		Pause:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause session")),
		Resume:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume session")),
		Complete: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "complete session")),
		Sync:     key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "sync now")),
		Refresh:  key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "refresh")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Help, k.Palette, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Refresh, k.Sync},
		{k.Pause, k.Resume, k.Complete},
		{k.Help, k.Palette, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root dashboard model. It routes tabs, runs palette commands
// and leaves loading and rendering to the views.
type Model struct {
	session SessionPort

	todayView   todayview.Model
	sessionView sessionview.Model
	syncView    syncstatus.Model

	activeTab tabID
	keys      keyMap
	help      help.Model
	showHelp  bool
	palette   components.Palette
	status    string
	width     int
	height    int
}

func NewModel(today todayview.TodayPort, session SessionPort, sync syncstatus.SyncPort, dailyCap time.Duration) Model {
	return Model{
		session:     session,
		todayView:   todayview.New(today, dailyCap),
		sessionView: sessionview.New(session),
		syncView:    syncstatus.New(sync),
		activeTab:   tabToday,
		keys:        defaultKeys(),
		help:        help.New(),
		palette:     components.NewPalette(),
		status:      "ready",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.todayView.Init(), m.sessionView.Init(), m.syncView.Init())
}

// ─── update ──────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if m.palette.Visible() {
		var cmd tea.Cmd
		m.palette, cmd = m.palette.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.palette.SetWidth(min(m.width-4, 80))
		m.help.Width = m.width
		cmd := m.propagateSize()
		return m, cmd

	case sessionChangedMsg:
		if msg.err != nil {
			m.status = msg.verb + " failed: " + msg.err.Error()
		} else {
			m.status = "session " + string(msg.out.Status) + ": " + msg.out.LocalID
		}
		return m, m.sessionView.Reload()

	case syncstatus.SyncedMsg:
		if msg.Err != nil {
			m.status = "sync: " + msg.Err.Error()
		} else {
			m.status = "sync done"
		}
		cmds = append(cmds, m.todayView.Reload(), m.sessionView.Reload())
		var cmd tea.Cmd
		m.syncView, cmd = m.syncView.Update(msg)
		return m, tea.Batch(append(cmds, cmd)...)

	case components.PaletteSubmitMsg:
		return m.executePalette(msg)

	case components.PaletteCancelMsg:
		m.status = "ready"
		return m, nil

	case todayview.DayLoadedMsg:
		var cmd tea.Cmd
		m.todayView, cmd = m.todayView.Update(msg)
		return m, cmd

	case sessionview.ActiveMsg, sessionview.HistoryMsg:
		var cmd tea.Cmd
		m.sessionView, cmd = m.sessionView.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		// Spinners carry ids, so each view ignores the others' ticks.
		var todayCmd, syncCmd tea.Cmd
		m.todayView, todayCmd = m.todayView.Update(msg)
		m.syncView, syncCmd = m.syncView.Update(msg)
		return m, tea.Batch(todayCmd, syncCmd)

	case syncstatus.StatusMsg:
		var cmd tea.Cmd
		m.syncView, cmd = m.syncView.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.showHelp {
			if msg.String() == "?" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}
		if m.subViewFiltering() {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		case ":":
			cmd := m.palette.Open()
			return m, cmd
		case "p":
			return m, m.sessionCmd("pause", func(ctx context.Context) (sessiondto.SessionOutput, error) {
				return m.session.Pause(ctx, "")
			})
		case "r":
			return m, m.sessionCmd("resume", m.session.Resume)
		case "c":
			return m, m.sessionCmd("complete", func(ctx context.Context) (sessiondto.SessionOutput, error) {
				return m.session.Complete(ctx, "", true)
			})
		case "y":
			m.status = "syncing"
			cmd := m.syncView.SyncNow()
			return m, cmd
		case "R":
			return m, tea.Batch(m.todayView.Reload(), m.sessionView.Reload(), m.syncView.Reload())
		}
	}

	// Session ticks must reach the session view whichever tab is shown.
	var tabCmd tea.Cmd
	switch m.activeTab {
	case tabToday:
		m.todayView, tabCmd = m.todayView.Update(msg)
		cmds = append(cmds, tabCmd)
		m.sessionView, tabCmd = m.sessionView.Update(nonKey(msg))
	case tabSession:
		m.sessionView, tabCmd = m.sessionView.Update(msg)
	case tabSync:
		m.syncView, tabCmd = m.syncView.Update(msg)
		cmds = append(cmds, tabCmd)
		m.sessionView, tabCmd = m.sessionView.Update(nonKey(msg))
	}
	cmds = append(cmds, tabCmd)
	return m, tea.Batch(cmds...)
}

// nonKey drops key presses meant for another tab.
func nonKey(msg tea.Msg) tea.Msg {
	if _, ok := msg.(tea.KeyMsg); ok {
		return nil
	}
	return msg
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	tabBar := m.renderTabBar()
	statusBar := m.renderStatusBar()
	contentH := max(m.height-lipgloss.Height(tabBar)-lipgloss.Height(statusBar), 1)

	var content string
	switch {
	case m.showHelp:
		content = lipgloss.NewStyle().Width(m.width).Height(contentH).Render(m.help.View(m.keys))
	case m.palette.Visible():
		content = lipgloss.Place(m.width, contentH, lipgloss.Center, lipgloss.Center, m.palette.View())
	default:
		switch m.activeTab {
		case tabToday:
			content = m.todayView.View()
		case tabSession:
			content = m.sessionView.View()
		case tabSync:
			content = m.syncView.View()
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, tabBar, content, statusBar)
}

func (m Model) renderTabBar() string {
	parts := make([]string, tabCount)
	for i := tabID(0); i < tabCount; i++ {
		if i == m.activeTab {
			parts[i] = theme.Hot.Render(" " + tabLabels[i] + " ")
		} else {
			parts[i] = theme.Muted.Render(" " + tabLabels[i] + " ")
		}
	}
	bar := "dwell  " + strings.Join(parts, theme.Muted.Render(" │ "))
	return lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar) + "\n"
}

func (m Model) renderStatusBar() string {
	left := m.status
	if s, ok := m.sessionView.Active(); ok {
		left = theme.Hot.Render("● "+string(s.Type)+" "+theme.Duration(s.Remaining.Milliseconds())) + "  " + left
	}
	right := theme.Muted.Render("?:help  tab:switch  :::palette  q:quit")
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	bar := left + strings.Repeat(" ", gap) + right
	return "\n" + lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar)
}

// ─── palette execution ───────────────────────────────────────────────────────

func (m Model) executePalette(line components.PaletteSubmitMsg) (tea.Model, tea.Cmd) {
	if line.Name == "" {
		return m, nil
	}
	if c, ok := components.LookupCommand(line.Name); ok && len(line.Args) < c.MinArgs {
		m.status = "usage: " + c.Usage()
		return m, nil
	}

	switch line.Name {
	case "session:start":
		minutes, err := strconv.Atoi(line.Args[1])
		if err != nil || minutes <= 0 {
			m.status = "invalid minutes"
			return m, nil
		}
		m.activeTab = tabSession
		return m, m.sessionCmd("start", func(ctx context.Context) (sessiondto.SessionOutput, error) {
			return m.session.Start(ctx, line.Args[0], time.Duration(minutes)*time.Minute)
		})
	case "session:pause":
		return m, m.sessionCmd("pause", func(ctx context.Context) (sessiondto.SessionOutput, error) {
			return m.session.Pause(ctx, line.Rest)
		})
	case "session:resume":
		return m, m.sessionCmd("resume", m.session.Resume)
	case "session:complete", "session:fail":
		ok := line.Name == "session:complete"
		return m, m.sessionCmd("complete", func(ctx context.Context) (sessiondto.SessionOutput, error) {
			return m.session.Complete(ctx, line.Rest, ok)
		})
	case "session:abandon", "session:interrupt":
		interrupted := line.Name == "session:interrupt"
		return m, m.sessionCmd("abandon", func(ctx context.Context) (sessiondto.SessionOutput, error) {
			return m.session.Abandon(ctx, line.Rest, interrupted)
		})
	case "sync:now":
		m.activeTab = tabSync
		m.status = "syncing"
		cmd := m.syncView.SyncNow()
		return m, cmd
	case "refresh":
		return m, tea.Batch(m.todayView.Reload(), m.sessionView.Reload(), m.syncView.Reload())
	default:
		m.status = "unknown command: " + line.Name
		return m, nil
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (m Model) sessionCmd(verb string, fn func(context.Context) (sessiondto.SessionOutput, error)) tea.Cmd {
	return func() tea.Msg {
		out, err := fn(context.Background())
		return sessionChangedMsg{verb: verb, out: out, err: err}
	}
}

func (m Model) subViewFiltering() bool {
	switch m.activeTab {
	case tabToday:
		return m.todayView.Filtering()
	case tabSession:
		return m.sessionView.Filtering()
	}
	return false
}

func (m *Model) propagateSize() tea.Cmd {
	contentH := max(m.height-4, 1)
	size := tea.WindowSizeMsg{Width: m.width, Height: contentH}
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.todayView, cmd = m.todayView.Update(size)
	cmds = append(cmds, cmd)
	m.sessionView, cmd = m.sessionView.Update(size)
	cmds = append(cmds, cmd)
	m.syncView, cmd = m.syncView.Update(size)
	cmds = append(cmds, cmd)
	return tea.Batch(cmds...)
}
