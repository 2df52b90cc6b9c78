package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"colloquy/internal/adapter/tui/components"
	"colloquy/internal/adapter/tui/theme"
	"colloquy/internal/adapter/tui/uxerror"
	"colloquy/internal/domain"
	"colloquy/internal/usecase/conversation"
	"colloquy/internal/usecase/request"
)

// Backend is the generation backend as the chat screen sees it.
type Backend interface {
	domain.ModeSource
	SetLocalMode(on bool)
	SetLocalModel(name string)
	SetRemoteProvider(name string) error
	Providers() []string
	LocalModels(ctx context.Context) ([]string, error)
}

// ModelDeps are the chat screen's collaborators and settings.
type ModelDeps struct {
	Store      *conversation.Store
	Controller *request.Controller
	Backend    Backend
	Notice     *Notice
	Logger     *slog.Logger

	Markdown bool
	WrapAt   int
	Speed    StreamSpeed
	// Conversation is selected at start; empty picks the most recent one.
	Conversation string
}

// Model is the root Bubble Tea model of the chat screen. Its Update runs on
// the main context: it is the only place that submits requests and the
// place where finished requests are merged.
type Model struct {
	deps ModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	tabBar    components.TabBarModel
	spinner   spinner.Model

	convID   string
	notes    []components.ChatMessage // app lines shown after the transcript, never stored
	watching *request.Handle

	streamCfg StreamConfig
	reveal    []rune // reply being revealed
	revealPos int
	revealIdx int // index of the revealed message in the chat view
	revealing bool

	width    int
	height   int
	quitting bool
}

// NewModel creates the chat screen.
func NewModel(deps ModelDeps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notice == nil {
		deps.Notice = &Notice{}
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	m := Model{
		deps:      deps,
		chatView:  components.NewChatView(deps.Markdown, deps.WrapAt),
		input:     components.NewInputArea(commands),
		statusBar: components.NewStatusBar(defaultHints()),
		tabBar:    components.NewTabBar(),
		spinner:   s,
		streamCfg: StreamConfigForSpeed(deps.Speed),
	}

	m.convID = deps.Conversation
	if m.convID == "" || !deps.Store.Exists(m.convID) {
		m.convID = m.latestConversation()
	}
	m.refresh()
	return m
}

// ConversationID returns the selected conversation, or "".
func (m Model) ConversationID() string { return m.convID }

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case postedMsg:
		msg.fn()
		return m.syncRequest()

	case noticeMsg:
		var cmd tea.Cmd
		m, cmd = m.syncRequest()
		if visible, _ := m.deps.Notice.State(); visible {
			return m, tea.Batch(cmd, m.spinner.Tick)
		}
		return m, cmd

	case cancelDoneMsg:
		if !msg.ran {
			m.deps.Logger.Debug("cancel had nothing to stop")
		}
		return m.syncRequest()

	case modelsMsg:
		if msg.err != nil {
			m.fail(msg.err)
		} else if len(msg.names) == 0 {
			m.note("No local models found.")
		} else {
			m.note("Local models:\n  " + strings.Join(msg.names, "\n  "))
		}
		m.refresh()
		return m, nil

	case StreamTickMsg:
		return m.handleRevealTick()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		if visible, _ := m.deps.Notice.State(); !visible {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	return m, cmd
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "  Starting..."
	}

	notice := ""
	if visible, title := m.deps.Notice.State(); visible {
		notice = m.spinner.View() + " " + theme.Notice.Render(title+theme.SymbolEllipsis) +
			theme.TextMuted.Render("  Ctrl+X to cancel")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.tabBar.View(),
		m.chatView.View(),
		components.Divider(m.width),
		notice,
		m.input.View(),
		m.statusBar.View(),
	)
}

func (m *Model) layout() {
	// tab bar, divider, notice line, status bar
	const chrome = 4
	contentH := max(m.height-chrome-m.input.Textarea.Height(), 5)

	m.tabBar.SetWidth(m.width)
	m.statusBar.SetWidth(m.width)
	m.input.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.busy() {
			return m, m.cancelCmd()
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlX:
		if m.busy() {
			return m, m.cancelCmd()
		}
		return m, nil

	case tea.KeyCtrlN:
		m.switchTo(m.tabBar.Next())
		return m, nil

	case tea.KeyCtrlP:
		m.switchTo(m.tabBar.Prev())
		return m, nil

	case tea.KeyCtrlL:
		return m.runCommand("/clear", nil)

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit sends a prompt, creating a conversation first when none is
// selected.
func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if name, args, ok := components.ParseSlashCommand(value); ok {
		return m.runCommand(name, args)
	}

	if m.convID == "" || !m.deps.Store.Exists(m.convID) {
		m.convID = m.deps.Store.Create(conversation.TitleFrom(value)).ID
	}
	m.notes = nil
	m.stopReveal()

	h, err := m.deps.Controller.Submit(m.convID, value)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			m.input.SetValue(value)
		}
		m.fail(err)
	} else if h != nil {
		m.watching = h
	}
	m.refresh()
	return m, nil
}

// syncRequest reports the outcome of the watched request once it settles.
func (m Model) syncRequest() (Model, tea.Cmd) {
	var cmd tea.Cmd
	if h := m.watching; h != nil && h.Settled() {
		m.watching = nil
		res, _ := h.Wait(context.Background())
		switch res.Outcome {
		case request.OutcomeCompleted:
			if h.ConversationID == m.convID {
				cmd = m.startReveal()
			}
		case request.OutcomeCancelled:
			m.note("Request cancelled.")
		case request.OutcomeFailed:
			m.fail(res.Err)
		}
	}
	m.refresh()
	return m, cmd
}

func (m Model) busy() bool {
	visible, _ := m.deps.Notice.State()
	return visible
}

// cancelCmd runs the notice's cancel action off the update loop; the
// controller may wait for the backend call to unwind.
func (m Model) cancelCmd() tea.Cmd {
	notice := m.deps.Notice
	return func() tea.Msg {
		return cancelDoneMsg{ran: notice.Cancel()}
	}
}

// startReveal shows the newest reply progressively.
func (m *Model) startReveal() tea.Cmd {
	m.stopReveal()
	if m.streamCfg.Speed == StreamInstant {
		return nil
	}
	msgs, err := m.deps.Store.List(m.convID)
	if err != nil || len(msgs) == 0 || msgs[len(msgs)-1].Role != domain.RoleAssistant {
		return nil
	}
	m.reveal = []rune(msgs[len(msgs)-1].Content)
	m.revealIdx = len(msgs) - 1
	m.revealPos = 0
	m.revealing = true
	return streamTickCmd(m.streamCfg.TickRate)
}

func (m Model) handleRevealTick() (tea.Model, tea.Cmd) {
	if !m.revealing {
		return m, nil
	}
	m.revealPos = min(m.revealPos+m.streamCfg.ChunkSize, len(m.reveal))
	m.chatView.SetContent(m.revealIdx, string(m.reveal[:m.revealPos]))
	if m.revealPos >= len(m.reveal) {
		m.stopReveal()
		return m, nil
	}
	return m, streamTickCmd(m.streamCfg.TickRate)
}

func (m *Model) stopReveal() {
	m.revealing = false
	m.reveal = nil
	m.revealPos = 0
}

func (m *Model) switchTo(id string) {
	if id == m.convID {
		return
	}
	m.convID = id
	m.notes = nil
	m.stopReveal()
	m.refresh()
}

func (m *Model) latestConversation() string {
	convs := m.deps.Store.Conversations()
	if len(convs) == 0 {
		return ""
	}
	return convs[len(convs)-1].ID
}

func (m *Model) note(text string) {
	m.notes = append(m.notes, components.ChatMessage{Role: components.RoleNote, Content: text})
}

func (m *Model) fail(err error) {
	m.notes = append(m.notes, components.ChatMessage{
		Role:    components.RoleError,
		Content: uxerror.Humanize(err).Render(),
	})
}

// refresh redraws the transcript, tabs and status bar from the store.
func (m *Model) refresh() {
	var msgs []components.ChatMessage
	if m.convID != "" {
		stored, err := m.deps.Store.List(m.convID)
		if err != nil {
			m.deps.Logger.Debug("selected conversation is gone", "conversation", m.convID)
			m.convID = ""
		}
		msgs = components.FromDomain(stored)
	}
	if m.revealing && m.revealIdx < len(msgs) {
		msgs[m.revealIdx].Content = string(m.reveal[:m.revealPos])
	}
	m.chatView.SetMessages(append(msgs, m.notes...))

	busyConv := ""
	if h := m.deps.Controller.Active(); h != nil {
		busyConv = h.ConversationID
	}
	convs := m.deps.Store.Conversations()
	tabs := make([]components.Tab, 0, len(convs))
	for _, c := range convs {
		tabs = append(tabs, components.Tab{ID: c.ID, Label: c.Title, Busy: c.ID == busyConv})
	}
	m.tabBar.SetTabs(tabs, m.convID)

	m.statusBar.Backend = backendLabel(m.deps.Backend)
	m.statusBar.Local = m.deps.Backend != nil && m.deps.Backend.LocalMode()
	m.statusBar.State = m.deps.Controller.State().String()
}

func backendLabel(b domain.ModeSource) string {
	if b == nil {
		return ""
	}
	if b.LocalMode() {
		return "local: " + orNone(b.LocalModel())
	}
	if p := b.RemoteProvider(); p != "" {
		return p
	}
	return "no backend"
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Ctrl+X", Desc: "Cancel"},
		{Key: "Ctrl+N/P", Desc: "Switch"},
		{Key: "/help", Desc: "Commands"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

// isMouseEscapeLeak reports mouse escape sequences that some terminals
// deliver as key input while cell motion tracking is on: SGR "<65;38;21M",
// X11 "[M..." and URXVT "[65;38;21M".
func isMouseEscapeLeak(s string) bool {
	if len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm') {
		return true
	}
	if len(s) < 5 {
		return false
	}
	last := s[len(s)-1]
	switch {
	case s[0] == '<' && (last == 'M' || last == 'm'):
	case s[0] == '[' && last == 'M':
	default:
		return false
	}
	for _, r := range s[1 : len(s)-1] {
		if r != ';' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
