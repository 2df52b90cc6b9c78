// Package components provides the Bubble Tea sub-models the chat screen is
// built from.
package components

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"colloquy/internal/adapter/tui/theme"
)

// maxTabLabel bounds a conversation title in the tab bar, in runes.
const maxTabLabel = 20

// Tab is one conversation in the tab bar.
type Tab struct {
	ID    string
	Label string
	Busy  bool // a reply is being generated for this conversation
}

// TabBarModel lists open conversations horizontally.
type TabBarModel struct {
	Tabs   []Tab
	Active int
	width  int
}

// NewTabBar creates an empty tab bar.
func NewTabBar() TabBarModel {
	return TabBarModel{}
}

// SetWidth updates the available width.
func (m *TabBarModel) SetWidth(w int) {
	m.width = w
}

// SetTabs replaces the tabs and activates the one with activeID, if present.
func (m *TabBarModel) SetTabs(tabs []Tab, activeID string) {
	m.Tabs = tabs
	m.Active = 0
	for i, t := range tabs {
		if t.ID == activeID {
			m.Active = i
			break
		}
	}
}

// ActiveID returns the ID of the active tab, or "".
func (m TabBarModel) ActiveID() string {
	if m.Active < 0 || m.Active >= len(m.Tabs) {
		return ""
	}
	return m.Tabs[m.Active].ID
}

// Next returns the ID of the tab after the active one, wrapping.
func (m TabBarModel) Next() string {
	if len(m.Tabs) == 0 {
		return ""
	}
	return m.Tabs[(m.Active+1)%len(m.Tabs)].ID
}

// Prev returns the ID of the tab before the active one, wrapping.
func (m TabBarModel) Prev() string {
	if len(m.Tabs) == 0 {
		return ""
	}
	return m.Tabs[(m.Active-1+len(m.Tabs))%len(m.Tabs)].ID
}

// View renders the bar. Narrow terminals get only the active tab and a counter.
func (m TabBarModel) View() string {
	if len(m.Tabs) == 0 {
		return theme.TabNormal.Render("no conversations")
	}

	if m.width > 0 && m.width < theme.MinTabWidth {
		label := theme.TabActive.Render(m.label(m.Active))
		counter := theme.Dim.Render("[" + strconv.Itoa(m.Active+1) + "/" + strconv.Itoa(len(m.Tabs)) + "]")
		return lipgloss.JoinHorizontal(lipgloss.Center, label, " ", counter)
	}

	parts := make([]string, 0, len(m.Tabs))
	for i := range m.Tabs {
		style := theme.TabNormal
		if i == m.Active {
			style = theme.TabActive
		}
		parts = append(parts, style.Render(m.label(i)))
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Center, parts...)

	if remaining := m.width - lipgloss.Width(bar); m.width > 0 && remaining > 0 {
		bar += theme.TabNormal.UnsetPadding().Render(strings.Repeat(" ", remaining))
	}
	return bar
}

func (m TabBarModel) label(i int) string {
	t := m.Tabs[i]
	title := t.Label
	if title == "" {
		title = "untitled"
	}
	if r := []rune(title); len(r) > maxTabLabel {
		title = string(r[:maxTabLabel-1]) + theme.SymbolEllipsis
	}
	label := strconv.Itoa(i+1) + " " + title
	if t.Busy {
		label += " " + theme.SymbolEllipsis
	}
	return label
}
