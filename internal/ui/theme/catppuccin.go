package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	Base     = lipgloss.Color("#1e1e2e")
	Mantle   = lipgloss.Color("#181825")
	Surface0 = lipgloss.Color("#313244")
	Surface1 = lipgloss.Color("#45475a")
	Text     = lipgloss.Color("#cdd6f4")
	Subtext0 = lipgloss.Color("#a6adc8")
	Lavender = lipgloss.Color("#b4befe")
	Sapphire = lipgloss.Color("#74c7ec")
	Green    = lipgloss.Color("#a6e3a1")
	Yellow   = lipgloss.Color("#f9e2af")
	Peach    = lipgloss.Color("#fab387")
	Red      = lipgloss.Color("#f38ba8")

	// Gradient endpoints for progress bars. bubbles/progress wants hex
	// strings, not lipgloss colors.
	BarFrom = "#74c7ec"
	BarTo   = "#b4befe"

	Pane = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Surface1).
		Background(Mantle).
		Foreground(Text).
		Padding(1)

	Title = lipgloss.NewStyle().Foreground(Sapphire).Bold(true)
	Muted = lipgloss.NewStyle().Foreground(Subtext0)
	Hot   = lipgloss.NewStyle().Foreground(Peach).Bold(true)
	Good  = lipgloss.NewStyle().Foreground(Green)
	Warn  = lipgloss.NewStyle().Foreground(Yellow)
	Bad   = lipgloss.NewStyle().Foreground(Red)
)

// Status colours a session status.
func Status(status string) string {
	switch status {
	case "active":
		return Good.Render(status)
	case "paused":
		return Warn.Render(status)
	case "completed":
		return Title.Render(status)
	case "interrupted", "abandoned":
		return Bad.Render(status)
	default:
		return Muted.Render(status)
	}
}

// Duration renders milliseconds as 1h02m or 4m05s.
func Duration(ms int64) string {
	secs := ms / 1000
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
