package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dwell/internal/ui/theme"
)

// PaletteCommand is one verb the palette offers.
type PaletteCommand struct {
	Name    string
	Args    string
	Summary string
	MinArgs int
}

// Usage renders the command with its argument synopsis.
func (c PaletteCommand) Usage() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

// PaletteCommands is the table app.Model dispatches on.
var PaletteCommands = []PaletteCommand{
	{Name: "session:start", Args: "<focus|problem> <minutes>", Summary: "begin a timed session", MinArgs: 2},
	{Name: "session:pause", Args: "[reason]", Summary: "pause the active session"},
	{Name: "session:resume", Summary: "resume a paused session"},
	{Name: "session:complete", Args: "[notes]", Summary: "finish successfully"},
	{Name: "session:fail", Args: "[notes]", Summary: "finish unsuccessfully"},
	{Name: "session:abandon", Args: "[reason]", Summary: "give up on the session"},
	{Name: "session:interrupt", Args: "[reason]", Summary: "stop because something cut in"},
	{Name: "sync:now", Summary: "push buffered activity to the ledger"},
	{Name: "refresh", Summary: "reload every tab"},
}

// LookupCommand finds a palette command by exact name.
func LookupCommand(name string) (PaletteCommand, bool) {
	for _, c := range PaletteCommands {
		if c.Name == name {
			return c, true
		}
	}
	return PaletteCommand{}, false
}

// PaletteSubmitMsg carries a parsed command line. Rest is everything after
// the command word with inner spacing kept, for free-text notes.
type PaletteSubmitMsg struct {
	Name string
	Args []string
	Rest string
}

// ParseCommandLine splits a palette input into a PaletteSubmitMsg.
func ParseCommandLine(input string) PaletteSubmitMsg {
	input = strings.TrimSpace(input)
	name, rest, _ := strings.Cut(input, " ")
	line := PaletteSubmitMsg{Name: name, Rest: strings.TrimSpace(rest)}
	if line.Rest != "" {
		line.Args = strings.Fields(line.Rest)
	}
	return line
}

// PaletteCancelMsg is emitted when the user presses esc.
type PaletteCancelMsg struct{}

const maxShownCommands = 5

var paletteStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(theme.Peach).
	Background(theme.Mantle).
	Foreground(theme.Text).
	Padding(0, 1)

// Palette is a command line overlay with prefix matching over
// PaletteCommands.
type Palette struct {
	input    textinput.Model
	visible  bool
	width    int
	selected int
	problem  string
}

func NewPalette() Palette {
	ti := textinput.New()
	ti.Placeholder = "session:start focus 25"
	ti.CharLimit = 256
	return Palette{input: ti}
}

func (p Palette) Visible() bool { return p.visible }

// Open shows an empty palette and returns the focus command.
func (p *Palette) Open() tea.Cmd {
	p.visible = true
	p.selected = 0
	p.problem = ""
	p.input.SetValue("")
	return p.input.Focus()
}

func (p *Palette) SetWidth(w int) { p.width = w }

func (p *Palette) close() {
	p.visible = false
	p.input.Blur()
}

func (p Palette) Update(msg tea.Msg) (Palette, tea.Cmd) {
	if !p.visible {
		return p, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		matches := matchCommands(p.input.Value(), len(PaletteCommands))
		switch key.String() {
		case "esc":
			p.close()
			return p, func() tea.Msg { return PaletteCancelMsg{} }
		case "up", "ctrl+p":
			if p.selected > 0 {
				p.selected--
			}
			return p, nil
		case "down", "ctrl+n":
			if p.selected < min(len(matches), maxShownCommands)-1 {
				p.selected++
			}
			return p, nil
		case "tab":
			typed := strings.TrimLeft(p.input.Value(), " ")
			if !strings.Contains(typed, " ") && p.selected < len(matches) {
				p.input.SetValue(matches[p.selected].Name + " ")
				p.input.CursorEnd()
				p.selected = 0
			}
			return p, nil
		case "enter":
			line := ParseCommandLine(p.input.Value())
			if line.Name == "" {
				p.close()
				return p, func() tea.Msg { return PaletteCancelMsg{} }
			}
			if c, known := LookupCommand(line.Name); known && len(line.Args) < c.MinArgs {
				p.problem = "usage: " + c.Usage()
				return p, nil
			}
			p.close()
			return p, func() tea.Msg { return line }
		}
	}
	before := p.input.Value()
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	if p.input.Value() != before {
		p.selected = 0
		p.problem = ""
	}
	return p, cmd
}

func (p Palette) View() string {
	if !p.visible {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Command") + "\n")
	sb.WriteString(": " + p.input.View() + "\n")
	if p.problem != "" {
		sb.WriteString(theme.Bad.Render(p.problem) + "\n")
	}
	if matches := matchCommands(p.input.Value(), maxShownCommands); len(matches) > 0 {
		sb.WriteString("\n")
		for i, c := range matches {
			line := theme.Muted.Render("  " + c.Usage())
			if i == p.selected {
				line = theme.Hot.Render("> " + c.Usage())
			}
			sb.WriteString(line + theme.Muted.Render("  "+c.Summary) + "\n")
		}
	}

	w := p.width
	if w < 20 {
		w = 64
	}
	return paletteStyle.Width(w - 2).Render(sb.String())
}

// matchCommands returns up to limit commands whose name starts with the
// typed command word. Once arguments follow, only an exact name matches.
func matchCommands(input string, limit int) []PaletteCommand {
	typed, _, hasArgs := strings.Cut(strings.ToLower(strings.TrimLeft(input, " ")), " ")
	var out []PaletteCommand
	for _, c := range PaletteCommands {
		if len(out) == limit {
			break
		}
		switch {
		case hasArgs && c.Name == typed:
		case !hasArgs && strings.HasPrefix(c.Name, typed):
		default:
			continue
		}
		out = append(out, c)
	}
	return out
}
