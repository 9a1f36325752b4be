package today

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	activitydto "dwell/internal/modules/activity/dto"
	"dwell/internal/ui/theme"
)

// ─── port ────────────────────────────────────────────────────────────────────

type TodayPort interface {
	Today(ctx context.Context, localDate string) (activitydto.DayOutput, error)
}

// ─── messages ────────────────────────────────────────────────────────────────

type DayLoadedMsg struct {
	Day activitydto.DayOutput
	Err error
}

// ─── list item ───────────────────────────────────────────────────────────────

type domainItem struct {
	agg activitydto.Aggregate
}

func (i domainItem) Title() string { return i.agg.Domain }
func (i domainItem) Description() string {
	return fmt.Sprintf("%s  %s", theme.Duration(i.agg.TotalTime), i.agg.Category)
}
func (i domainItem) FilterValue() string { return i.agg.Domain + " " + i.agg.Category }

// ─── model ───────────────────────────────────────────────────────────────────

type Model struct {
	port     TodayPort
	dailyCap time.Duration
	list     list.Model
	detail   viewport.Model
	bar      progress.Model
	spinner  spinner.Model
	day      activitydto.DayOutput
	loading  bool
	width    int
	height   int
}

// New builds the view. dailyCap scales each domain's bar.
func New(port TodayPort, dailyCap time.Duration) Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Lavender).BorderForeground(theme.Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Lavender)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Today"
	l.Styles.Title = theme.Title
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().Background(theme.Mantle).Foreground(theme.Text).Padding(1)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Lavender)

	if dailyCap <= 0 {
		dailyCap = 24 * time.Hour
	}
	return Model{
		port:     port,
		dailyCap: dailyCap,
		list:     l,
		detail:   vp,
		bar:      progress.New(progress.WithGradient(theme.BarFrom, theme.BarTo)),
		spinner:  sp,
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Reload(), m.spinner.Tick)
}

// Reload fetches the current local day again.
func (m Model) Reload() tea.Cmd {
	return func() tea.Msg {
		day, err := m.port.Today(context.Background(), "")
		return DayLoadedMsg{Day: day, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case DayLoadedMsg:
		m.loading = false
		if msg.Err != nil {
			m.list.Title = "Today: " + msg.Err.Error()
			return m, nil
		}
		m.day = msg.Day
		m.list.Title = fmt.Sprintf("Today %s  %s", msg.Day.LocalDate, theme.Duration(msg.Day.TotalTime))
		items := make([]list.Item, len(msg.Day.Aggregates))
		for i, agg := range msg.Day.Aggregates {
			items[i] = domainItem{agg: agg}
		}
		cmds = append(cmds, m.list.SetItems(items))
		m.detail.SetContent(m.renderDetail())

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if !m.loading {
		prev := m.list.Index()
		var lCmd tea.Cmd
		m.list, lCmd = m.list.Update(msg)
		cmds = append(cmds, lCmd)
		if m.list.Index() != prev {
			m.detail.SetContent(m.renderDetail())
		}
		var vCmd tea.Cmd
		m.detail, vCmd = m.detail.Update(msg)
		cmds = append(cmds, vCmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.loading {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" Loading today…")
	}
	listW := m.width * 4 / 10
	detailW := m.width - listW

	listPane := lipgloss.NewStyle().Width(listW).Height(m.height).Render(m.list.View())
	detailPane := theme.Pane.Padding(0).Width(detailW - 2).Height(m.height - 2).Render(m.detail.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)
}

// Filtering reports whether the list's search filter is active.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m *Model) resize() {
	listW := m.width * 4 / 10
	detailW := m.width - listW
	m.list.SetSize(listW, m.height)
	m.detail.Width = detailW - 4
	m.detail.Height = m.height - 4
	m.bar.Width = max(detailW-8, 10)
}

func (m Model) renderDetail() string {
	item, ok := m.list.SelectedItem().(domainItem)
	if !ok {
		return theme.Muted.Render("No activity recorded yet today")
	}
	agg := item.agg
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(agg.Domain) + "\n\n")
	sb.WriteString(theme.Muted.Render("category: ") + agg.Category + "\n")
	sb.WriteString(theme.Muted.Render("total:    ") + theme.Duration(agg.TotalTime) + "\n")
	sb.WriteString(theme.Muted.Render("timezone: ") + fmt.Sprintf("%s (%+d)", agg.Timezone.Name, agg.Timezone.OffsetMinutes) + "\n\n")
	sb.WriteString(m.bar.ViewAs(float64(agg.TotalTime)/float64(m.dailyCap.Milliseconds())) + "\n\n")

	loc := time.FixedZone(agg.Timezone.Name, agg.Timezone.OffsetMinutes*60)
	sb.WriteString(theme.Muted.Render(fmt.Sprintf("recent spans (%d)", len(agg.Sessions))) + "\n")
	for i := len(agg.Sessions) - 1; i >= 0 && i >= len(agg.Sessions)-10; i-- {
		span := agg.Sessions[i]
		fmt.Fprintf(&sb, "  %s-%s  %s\n",
			time.UnixMilli(span.StartMs).In(loc).Format("15:04"),
			time.UnixMilli(span.EndMs).In(loc).Format("15:04"),
			theme.Duration(span.Duration))
	}
	return sb.String()
}
