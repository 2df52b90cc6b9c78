package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"colloquy/internal/adapter/tui/components"
	"colloquy/internal/adapter/tui/theme"
)

// modelListTimeout bounds a /models lookup.
const modelListTimeout = 10 * time.Second

var commands = []components.CommandDef{
	{Name: "/help", Description: "Show commands and keys"},
	{Name: "/new", Args: "[title]", Description: "Start a new conversation"},
	{Name: "/clear", Description: "Remove all messages of this conversation"},
	{Name: "/cancel", Description: "Cancel the reply being generated"},
	{Name: "/list", Description: "List conversations"},
	{Name: "/switch", Args: "<n>", Description: "Switch to conversation n"},
	{Name: "/rename", Args: "<title>", Description: "Rename this conversation"},
	{Name: "/delete", Description: "Delete this conversation"},
	{Name: "/local", Args: "[on|off]", Description: "Toggle local mode"},
	{Name: "/model", Args: "[name]", Description: "Show or set the local model"},
	{Name: "/models", Description: "List local models"},
	{Name: "/provider", Args: "[name]", Description: "Show or set the remote provider"},
	{Name: "/speed", Description: "Cycle reveal speed"},
	{Name: "/quit", Description: "Exit"},
}

const keyHelp = `Keys:
  Enter       send
  Alt+Enter   new line
  Up/Down     recall earlier input
  Ctrl+X      cancel the reply being generated
  Ctrl+N/P    next/previous conversation
  Ctrl+L      clear conversation
  PgUp/PgDn   scroll
  Ctrl+C      cancel, or quit when idle`

func (m Model) runCommand(name string, args []string) (Model, tea.Cmd) {
	switch name {
	case "/help":
		var sb strings.Builder
		sb.WriteString("Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(&sb, "  %-18s %s\n", c.Usage(), c.Description)
		}
		sb.WriteString("\n" + keyHelp)
		m.note(sb.String())

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/new":
		title := strings.Join(args, " ")
		if title == "" {
			title = "New conversation"
		}
		conv := m.deps.Store.Create(title)
		m.switchTo(conv.ID)

	case "/clear":
		if m.convID == "" {
			m.note("No conversation selected.")
			break
		}
		if err := m.deps.Store.Clear(m.convID); err != nil {
			m.fail(err)
			break
		}
		m.notes = nil
		m.stopReveal()
		m.note(theme.SymbolSuccess + " Conversation cleared.")

	case "/cancel":
		if m.busy() {
			return m, m.cancelCmd()
		}
		m.note("No active request to cancel.")

	case "/list":
		m.listConversations()

	case "/switch":
		convs := m.deps.Store.Conversations()
		n, err := strconv.Atoi(strings.Join(args, ""))
		if err != nil || n < 1 || n > len(convs) {
			m.note(fmt.Sprintf("Usage: /switch <n> with n between 1 and %d.", len(convs)))
			break
		}
		m.switchTo(convs[n-1].ID)

	case "/rename":
		title := strings.Join(args, " ")
		if m.convID == "" || title == "" {
			m.note("Usage: /rename <title> on a selected conversation.")
			break
		}
		if err := m.deps.Store.Rename(m.convID, title); err != nil {
			m.fail(err)
		}

	case "/delete":
		if m.convID == "" {
			m.note("No conversation selected.")
			break
		}
		if err := m.deps.Store.Delete(m.convID); err != nil {
			m.fail(err)
			break
		}
		m.switchTo(m.latestConversation())

	case "/local":
		on := !m.deps.Backend.LocalMode()
		if len(args) > 0 {
			on = strings.EqualFold(args[0], "on")
		}
		m.deps.Backend.SetLocalMode(on)
		m.note("Backend: " + backendLabel(m.deps.Backend) + ".")

	case "/model":
		if len(args) == 0 {
			m.note("Local model: " + orNone(m.deps.Backend.LocalModel()) + ".")
			break
		}
		m.deps.Backend.SetLocalModel(args[0])
		m.note("Local model set to " + args[0] + ".")

	case "/models":
		return m, listModelsCmd(m.deps.Backend)

	case "/provider":
		if len(args) == 0 {
			active := m.deps.Backend.RemoteProvider()
			var sb strings.Builder
			sb.WriteString("Providers:")
			for _, name := range m.deps.Backend.Providers() {
				marker := "  "
				if name == active {
					marker = theme.SymbolArrowR + " "
				}
				sb.WriteString("\n" + marker + name)
			}
			m.note(sb.String())
			break
		}
		if err := m.deps.Backend.SetRemoteProvider(args[0]); err != nil {
			m.fail(err)
			break
		}
		m.note("Remote provider set to " + args[0] + ".")

	case "/speed":
		m.streamCfg = StreamConfigForSpeed(CycleStreamSpeed(m.streamCfg.Speed))
		m.note("Reveal speed: " + m.streamCfg.Speed.String() + ".")

	default:
		m.note(fmt.Sprintf("Unknown command: %s. Type /help for the list.", name))
	}

	m.refresh()
	return m, nil
}

func (m *Model) listConversations() {
	convs := m.deps.Store.Conversations()
	if len(convs) == 0 {
		m.note("No conversations yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Conversations:")
	for i, c := range convs {
		marker := "  "
		if c.ID == m.convID {
			marker = theme.SymbolArrowR + " "
		}
		fmt.Fprintf(&sb, "\n%s%d. %s (%d messages)", marker, i+1, orNone(c.Title), c.MessageCount)
	}
	m.note(sb.String())
}

func listModelsCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), modelListTimeout)
		defer cancel()
		names, err := b.LocalModels(ctx)
		return modelsMsg{names: names, err: err}
	}
}

// streamTickCmd fires a StreamTickMsg after rate.
func streamTickCmd(rate time.Duration) tea.Cmd {
	if rate <= 0 {
		rate = 16 * time.Millisecond
	}
	return tea.Tick(rate, func(time.Time) tea.Msg {
		return StreamTickMsg{}
	})
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
