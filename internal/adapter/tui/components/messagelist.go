package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"colloquy/internal/adapter/tui/theme"
	"colloquy/internal/domain"
)

// MessageRole identifies who an entry in the chat view came from.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	// RoleNote is a transient line from the app itself, never stored.
	RoleNote  MessageRole = "note"
	RoleError MessageRole = "error"
)

// ChatMessage is one rendered entry in the chat view.
type ChatMessage struct {
	Role      MessageRole
	Content   string
	Tag       string // backend that produced an assistant reply
	Timestamp time.Time
	Rendered  string // cached markdown output; empty means not rendered yet
}

// FromDomain converts stored conversation messages for display.
func FromDomain(msgs []domain.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := RoleUser
		if m.Role == domain.RoleAssistant {
			role = RoleAssistant
		}
		out = append(out, ChatMessage{
			Role:      role,
			Content:   m.Content,
			Tag:       m.Model,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

// MessageListModel renders an ordered list of chat entries.
type MessageListModel struct {
	Messages []ChatMessage
	// Markdown renders assistant replies through glamour.
	Markdown bool
	// WrapAt caps the text column; 0 leaves ContentWidth's cap.
	WrapAt int

	width      int
	mdRenderer *glamour.TermRenderer
}

// NewMessageList creates an empty list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and drops cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// Set replaces the whole list.
func (m *MessageListModel) Set(msgs []ChatMessage) {
	m.Messages = msgs
}

// Add appends an entry.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
}

// Clear removes all entries.
func (m *MessageListModel) Clear() {
	m.Messages = nil
}

// SetContent replaces the text of entry i. Out-of-range indexes are ignored.
func (m *MessageListModel) SetContent(i int, content string) {
	if i < 0 || i >= len(m.Messages) {
		return
	}
	m.Messages[i].Content = content
	m.Messages[i].Rendered = ""
}

// View renders all entries as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Type a prompt and press Enter.")
	}

	width := ContentWidth(m.width)
	if m.WrapAt > 0 && width > m.WrapAt {
		width = m.WrapAt
	}
	var sb strings.Builder
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], width))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := roleLabel(msg)
	if ts := RelativeTime(msg.Timestamp); ts != "" && msg.Role != RoleNote {
		header += " " + theme.Timestamp.Render(ts)
	}

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.Rendered == "" {
			msg.Rendered = m.renderReply(msg.Content, width)
		}
		body = strings.TrimRight(msg.Rendered, "\n")
	case RoleError:
		body = "  " + theme.TextError.Render(wrapText(msg.Content, width-2))
	case RoleNote:
		return theme.TextMuted.Render("  " + theme.SymbolBullet + " " + wrapText(msg.Content, width-4))
	default:
		body = "  " + wrapText(msg.Content, width-2)
	}
	return header + "\n" + body
}

func roleLabel(msg *ChatMessage) string {
	switch msg.Role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		label := theme.BotLabel.Render(theme.SymbolBot)
		if msg.Tag != "" {
			label += " " + theme.ModelTag.Render("("+msg.Tag+")")
		}
		return label
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.SystemLabel.Render(string(msg.Role))
	}
}

func (m *MessageListModel) renderReply(content string, width int) string {
	if !m.Markdown {
		return "  " + wrapText(content, width-2)
	}
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + wrapText(content, width-2)
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return "  " + wrapText(content, width-2)
	}
	return rendered
}

// RelativeTime returns a short human-readable age.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps on spaces at width runes and indents continuation lines.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			idx := -1
			for i := width - 1; i > 0; i-- {
				if runes[i] == ' ' {
					idx = i
					break
				}
			}
			if idx <= 0 {
				idx = width
			}
			out = append(out, string(runes[:idx]))
			runes = runes[idx:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\n  ")
}

// ContentWidth clamps the terminal width to a readable column.
func ContentWidth(termWidth int) int {
	w := termWidth - 4
	if w > theme.MaxContentWidth {
		w = theme.MaxContentWidth
	}
	if w < 40 {
		w = 40
	}
	return w
}

// Divider renders a horizontal rule.
func Divider(width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
