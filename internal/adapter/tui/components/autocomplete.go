package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"colloquy/internal/adapter/tui/theme"
)

// CommandDef describes a slash command for completion and /help.
type CommandDef struct {
	Name        string // e.g. "/switch"
	Args        string // e.g. "<n>"
	Description string
}

// Usage returns the command with its argument synopsis.
func (c CommandDef) Usage() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

// AutocompleteModel is a popup of slash commands filtered by prefix.
type AutocompleteModel struct {
	Commands []CommandDef
	Filtered []CommandDef
	Selected int
	Visible  bool
	maxShow  int
	width    int
}

// NewAutocomplete creates a hidden popup over the given commands.
func NewAutocomplete(commands []CommandDef) AutocompleteModel {
	return AutocompleteModel{Commands: commands, maxShow: 7}
}

// SetWidth updates the popup width.
func (m *AutocompleteModel) SetWidth(w int) {
	m.width = w
}

// SetPrefix filters the commands by prefix and shows the popup on a match.
func (m *AutocompleteModel) SetPrefix(prefix string) {
	prefix = strings.ToLower(prefix)
	m.Filtered = m.Filtered[:0]
	for _, cmd := range m.Commands {
		if strings.HasPrefix(cmd.Name, prefix) {
			m.Filtered = append(m.Filtered, cmd)
		}
	}
	m.Visible = prefix != "" && len(m.Filtered) > 0
	if m.Selected >= len(m.Filtered) {
		m.Selected = 0
	}
}

// Hide closes the popup.
func (m *AutocompleteModel) Hide() {
	m.Visible = false
	m.Filtered = nil
	m.Selected = 0
}

// SelectNext moves the selection down, wrapping.
func (m *AutocompleteModel) SelectNext() {
	if n := len(m.Filtered); n > 0 {
		m.Selected = (m.Selected + 1) % n
	}
}

// SelectPrev moves the selection up, wrapping.
func (m *AutocompleteModel) SelectPrev() {
	if n := len(m.Filtered); n > 0 {
		m.Selected = (m.Selected - 1 + n) % n
	}
}

// Accept returns the selected command name and closes the popup.
func (m *AutocompleteModel) Accept() string {
	if len(m.Filtered) == 0 {
		return ""
	}
	name := m.Filtered[m.Selected].Name
	m.Hide()
	return name
}

// Height returns the popup's line count, border included.
func (m AutocompleteModel) Height() int {
	if !m.Visible {
		return 0
	}
	return min(len(m.Filtered), m.maxShow) + 2
}

// window returns the bounds of the visible slice of Filtered, scrolled so
// the selection stays on screen.
func (m AutocompleteModel) window() (from, to int) {
	n := min(len(m.Filtered), m.maxShow)
	from = max(m.Selected-n+1, 0)
	return from, from + n
}

// View renders the popup.
func (m AutocompleteModel) View() string {
	if !m.Visible || len(m.Filtered) == 0 {
		return ""
	}

	const usageW = 18
	maxDesc := max(m.width-4, 30) - usageW - 4

	from, to := m.window()
	var b strings.Builder
	for i := from; i < to; i++ {
		cmd := m.Filtered[i]
		desc := []rune(cmd.Description)
		if maxDesc > 1 && len(desc) > maxDesc {
			desc = append(desc[:maxDesc-1], []rune(theme.SymbolEllipsis)...)
		}

		marker := "  "
		if i == m.Selected {
			marker = theme.TextInfo.Render(theme.SymbolArrowR + " ")
		}
		if i > from {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s%-*s %s", marker, usageW, cmd.Usage(), theme.TextMuted.Render(string(desc)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Render(b.String())
}
