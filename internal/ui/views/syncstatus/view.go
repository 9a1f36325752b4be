package syncstatus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	syncerdto "dwell/internal/modules/syncer/dto"
	"dwell/internal/ui/theme"
)

type SyncPort interface {
	SyncNow(ctx context.Context) (syncerdto.Result, error)
	Status(ctx context.Context) (syncerdto.DaemonStatus, error)
}

type StatusMsg struct {
	Status syncerdto.DaemonStatus
	Err    error
}

// SyncedMsg is emitted after a manual sync, successful or not.
type SyncedMsg struct {
	Result syncerdto.Result
	Err    error
}

type Model struct {
	port    SyncPort
	detail  viewport.Model
	spinner spinner.Model
	status  syncerdto.DaemonStatus
	last    *SyncedMsg
	errLine string
	syncing bool
	width   int
	height  int
}

func New(port SyncPort) Model {
	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().Background(theme.Mantle).Foreground(theme.Text).Padding(1)
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Peach)
	return Model{port: port, detail: vp, spinner: sp}
}

func (m Model) Init() tea.Cmd {
	return m.Reload()
}

func (m Model) Reload() tea.Cmd {
	return func() tea.Msg {
		status, err := m.port.Status(context.Background())
		return StatusMsg{Status: status, Err: err}
	}
}

// SyncNow starts a manual dispatch.
func (m *Model) SyncNow() tea.Cmd {
	if m.syncing {
		return nil
	}
	m.syncing = true
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		result, err := m.port.SyncNow(context.Background())
		return SyncedMsg{Result: result, Err: err}
	})
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detail.Width = m.width - 4
		m.detail.Height = m.height - 2

	case StatusMsg:
		m.errLine = ""
		if msg.Err != nil {
			m.errLine = msg.Err.Error()
		} else {
			m.status = msg.Status
		}

	case SyncedMsg:
		m.syncing = false
		m.last = &msg
		cmds = append(cmds, m.Reload())

	case spinner.TickMsg:
		if m.syncing {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	m.detail.SetContent(m.render())
	var vCmd tea.Cmd
	m.detail, vCmd = m.detail.Update(msg)
	cmds = append(cmds, vCmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	return m.detail.View()
}

func (m Model) render() string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Sync") + "\n\n")
	if m.errLine != "" {
		sb.WriteString(theme.Bad.Render(m.errLine) + "\n\n")
	}
	s := m.status
	if s.Online {
		fmt.Fprintf(&sb, "%s pid %d since %s\n", theme.Good.Render("daemon online"), s.PID, stamp(s.StartedAt))
		if s.CurrentDomain != "" {
			fmt.Fprintf(&sb, "%s %s since %s\n", theme.Muted.Render("watching"), s.CurrentDomain, stamp(s.CurrentSince))
		}
		if s.MetricsAddress != "" {
			fmt.Fprintf(&sb, "%s http://%s/metrics\n", theme.Muted.Render("metrics"), s.MetricsAddress)
		}
	} else {
		sb.WriteString(theme.Warn.Render("daemon offline") + theme.Muted.Render("  syncs run in this process") + "\n")
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%s %d  %s %s\n", theme.Muted.Render("runs"), s.Sync.Runs, theme.Muted.Render("last"), stamp(s.Sync.LastRunAt))
	if s.Sync.BackingOff > 0 {
		fmt.Fprintf(&sb, "%s %d waiting, next retry %s\n", theme.Warn.Render("backoff"), s.Sync.BackingOff, stamp(s.Sync.NextRetry))
	}
	if s.Sync.LastError != "" {
		sb.WriteString(theme.Bad.Render("last error: "+s.Sync.LastError) + "\n")
	}
	sb.WriteString(renderResult(s.Sync.LastResult))

	switch {
	case m.syncing:
		sb.WriteString("\n" + m.spinner.View() + " syncing…\n")
	case m.last != nil:
		sb.WriteString("\n" + theme.Title.Render("manual sync") + "\n")
		if m.last.Err != nil {
			sb.WriteString(theme.Bad.Render(m.last.Err.Error()) + "\n")
		}
		sb.WriteString(renderResult(m.last.Result))
	}
	sb.WriteString("\n" + theme.Muted.Render("y: sync now  R: refresh"))
	return sb.String()
}

func renderResult(r syncerdto.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "intervals  %d synced  %d failed  %d dropped  %d deferred  %d duplicate\n",
		r.Synced, r.Failed, r.Dropped, r.Deferred, r.Suppressed)
	fmt.Fprintf(&sb, "sessions   %d synced  %d failed  %d dropped  %d deferred\n",
		r.Sessions, r.SessionsFailed, r.SessionsDropped, r.SessionsDeferred)
	for _, id := range r.Conflicts {
		sb.WriteString(theme.Warn.Render("interrupted "+id) + "\n")
	}
	return sb.String()
}

func stamp(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}
