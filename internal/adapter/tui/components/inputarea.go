package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"colloquy/internal/adapter/tui/theme"
)

// InputSubmitMsg is sent when the user presses Enter on a non-blank input.
type InputSubmitMsg struct {
	Value string
}

// maxRecall bounds the number of remembered inputs.
const maxRecall = 100

// InputAreaModel is the prompt editor: a textarea with slash-command
// completion and recall of earlier inputs.
type InputAreaModel struct {
	Textarea     textarea.Model
	Autocomplete AutocompleteModel

	recall    []string
	recallPos int // len(recall) when not browsing
	width     int
}

// NewInputArea creates a focused input area.
func NewInputArea(commands []CommandDef) InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Ask something, or type / for commands"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{
		Textarea:     ta,
		Autocomplete: NewAutocomplete(commands),
	}
}

// SetWidth updates the editor width.
func (m *InputAreaModel) SetWidth(w int) {
	m.width = w
	m.Textarea.SetWidth(w - 2)
	m.Autocomplete.SetWidth(w)
}

// Height returns the number of lines the input area occupies.
func (m InputAreaModel) Height() int {
	return m.Textarea.Height() + m.Autocomplete.Height()
}

// Value returns the current input text.
func (m InputAreaModel) Value() string {
	return m.Textarea.Value()
}

// SetValue replaces the input text and moves the cursor to the end.
func (m *InputAreaModel) SetValue(s string) {
	m.Textarea.SetValue(s)
	m.Textarea.CursorEnd()
}

// Reset clears the input.
func (m *InputAreaModel) Reset() {
	m.Textarea.Reset()
	m.Autocomplete.Hide()
}

// ParseSlashCommand splits "/cmd arg1 arg2" into a lower-cased command and its
// arguments. ok is false when input is not a slash command.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Update handles editing keys. Enter submits; Alt+Enter inserts a newline.
// Up and Down recall earlier inputs while the editor holds a single line.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		if m.Autocomplete.Visible {
			switch key.Type {
			case tea.KeyTab, tea.KeyDown:
				m.Autocomplete.SelectNext()
				return m, nil
			case tea.KeyShiftTab, tea.KeyUp:
				m.Autocomplete.SelectPrev()
				return m, nil
			case tea.KeyEnter:
				if accepted := m.Autocomplete.Accept(); accepted != "" {
					m.SetValue(accepted + " ")
				}
				return m, nil
			case tea.KeyEsc:
				m.Autocomplete.Hide()
				return m, nil
			}
		}

		switch key.Type {
		case tea.KeyEnter:
			if key.Alt {
				break
			}
			value := strings.TrimSpace(m.Textarea.Value())
			if value == "" {
				return m, nil
			}
			m.remember(value)
			m.Reset()
			return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
		case tea.KeyUp:
			if m.Textarea.LineCount() <= 1 && m.browse(-1) {
				return m, nil
			}
		case tea.KeyDown:
			if m.Textarea.LineCount() <= 1 && m.browse(1) {
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)

	value := m.Textarea.Value()
	if strings.HasPrefix(value, "/") && !strings.Contains(value, " ") {
		m.Autocomplete.SetPrefix(value)
	} else {
		m.Autocomplete.Hide()
	}
	return m, cmd
}

func (m *InputAreaModel) remember(value string) {
	if n := len(m.recall); n == 0 || m.recall[n-1] != value {
		m.recall = append(m.recall, value)
		if len(m.recall) > maxRecall {
			m.recall = m.recall[len(m.recall)-maxRecall:]
		}
	}
	m.recallPos = len(m.recall)
}

// browse moves through recalled inputs and reports whether it changed the text.
func (m *InputAreaModel) browse(delta int) bool {
	if len(m.recall) == 0 {
		return false
	}
	pos := m.recallPos + delta
	if pos < 0 || pos > len(m.recall) {
		return false
	}
	m.recallPos = pos
	if pos == len(m.recall) {
		m.SetValue("")
	} else {
		m.SetValue(m.recall[pos])
	}
	return true
}

// View renders the completion popup, if any, above the editor.
func (m InputAreaModel) View() string {
	if popup := m.Autocomplete.View(); popup != "" {
		return popup + "\n" + m.Textarea.View()
	}
	return m.Textarea.View()
}
