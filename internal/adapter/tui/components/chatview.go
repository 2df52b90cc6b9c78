package components

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ChatViewModel shows one conversation in a scrollable viewport.
// It follows new content while the user is at the bottom and stays put once
// they scroll up.
type ChatViewModel struct {
	Viewport viewport.Model
	Messages MessageListModel
	ready    bool
	atBottom bool
}

// NewChatView creates a chat view. The viewport is built on the first SetSize.
func NewChatView(markdown bool, wrapAt int) ChatViewModel {
	list := NewMessageList()
	list.Markdown = markdown
	list.WrapAt = wrapAt
	return ChatViewModel{
		Messages: list,
		atBottom: true,
	}
}

// Ready reports whether the viewport has been sized.
func (m ChatViewModel) Ready() bool { return m.ready }

// SetSize sets the viewport dimensions and re-renders.
func (m *ChatViewModel) SetSize(w, h int) {
	m.Messages.SetWidth(w)
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refresh()
}

// SetMessages replaces the displayed transcript.
func (m *ChatViewModel) SetMessages(msgs []ChatMessage) {
	m.Messages.Set(msgs)
	m.refresh()
}

// AddMessage appends one entry, such as a notice or error.
func (m *ChatViewModel) AddMessage(msg ChatMessage) {
	m.Messages.Add(msg)
	m.refresh()
}

// SetContent replaces the text of entry i. The progressive reveal of a
// reply uses it.
func (m *ChatViewModel) SetContent(i int, content string) {
	m.Messages.SetContent(i, content)
	m.refresh()
}

// Clear empties the view and jumps back to the top.
func (m *ChatViewModel) Clear() {
	m.Messages.Clear()
	m.atBottom = true
	m.refresh()
	if m.ready {
		m.Viewport.GotoTop()
	}
}

// Update forwards scrolling input to the viewport.
func (m ChatViewModel) Update(msg tea.Msg) (ChatViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the viewport.
func (m ChatViewModel) View() string {
	if !m.ready {
		return "  Starting..."
	}
	return m.Viewport.View()
}

func (m *ChatViewModel) refresh() {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.Messages.View())
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}
