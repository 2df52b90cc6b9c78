package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"colloquy/internal/adapter/tui/theme"
)

// KeyHint is one keybinding shown in the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: key hints on the left, the active
// backend and request state on the right.
type StatusBarModel struct {
	Hints   []KeyHint
	Backend string // e.g. "local: llama3" or "openai"
	Local   bool
	State   string // e.g. "running"
	width   int
}

// NewStatusBar creates a status bar with the given hints.
func NewStatusBar(hints []KeyHint) StatusBarModel {
	return StatusBarModel{Hints: hints}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the bar as a single line.
func (m StatusBarModel) View() string {
	hints := make([]string, 0, len(m.Hints))
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  ")

	var right []string
	if m.Backend != "" {
		right = append(right, theme.Backend(m.Local).Render(m.Backend))
	}
	if m.State != "" && m.State != "idle" {
		right = append(right, theme.RequestState(m.State).Render(m.State))
	}
	rightText := strings.Join(right, " "+theme.SymbolBullet+" ")

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(rightText)-2, 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + rightText)
}
