package chat

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Notice is the state of the "generating" notification. The request
// controller writes it through Program; the screen reads it when drawing.
type Notice struct {
	mu      sync.Mutex
	visible bool
	title   string
	cancel  func()
}

// State reports whether the notice is showing and its title.
func (n *Notice) State() (visible bool, title string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible, n.title
}

// Cancel runs the cancel action of a showing notice and reports whether
// there was one. It blocks for as long as the action does.
func (n *Notice) Cancel() bool {
	n.mu.Lock()
	fn, visible := n.cancel, n.visible
	n.mu.Unlock()
	if !visible || fn == nil {
		return false
	}
	fn()
	return true
}

func (n *Notice) set(title string, cancel func()) {
	n.mu.Lock()
	n.visible, n.title, n.cancel = true, title, cancel
	n.mu.Unlock()
}

func (n *Notice) clear() {
	n.mu.Lock()
	n.visible, n.title, n.cancel = false, "", nil
	n.mu.Unlock()
}

// Program owns the Bubble Tea program. It is the request controller's
// domain.Dispatcher and domain.Notifier: posted functions and notice changes
// are queued and fed into the update loop in order, so callers never block
// on the UI. Once the screen has exited, posted functions run one at a time
// on their own goroutine so a late merge still reaches the store.
type Program struct {
	logger *slog.Logger
	notice *Notice

	mu      sync.Mutex
	queue   []tea.Msg
	wake    chan struct{}
	stopped bool

	afterMu sync.Mutex // serializes functions posted after exit
}

// NewProgram creates a program. Messages queued before Run are delivered
// once it starts.
func NewProgram(logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{
		logger: logger,
		notice: &Notice{},
		wake:   make(chan struct{}, 1),
	}
}

// Notice returns the shared notice state for the screen.
func (p *Program) Notice() *Notice { return p.notice }

// Post implements domain.Dispatcher. fn runs inside the update loop.
func (p *Program) Post(fn func()) {
	p.enqueue(postedMsg{fn: fn})
}

// Show implements domain.Notifier.
func (p *Program) Show(title string, cancel func()) {
	p.notice.set(title, cancel)
	p.enqueue(noticeMsg{})
}

// Dismiss implements domain.Notifier.
func (p *Program) Dismiss() {
	p.notice.clear()
	p.enqueue(noticeMsg{})
}

// Run shows model full-screen until the user quits or ctx is done.
// Extra options are applied after the defaults.
func (p *Program) Run(ctx context.Context, model tea.Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}, opts...)
	prog := tea.NewProgram(model, opts...)

	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()
	go p.pump(pumpCtx, prog)
	go func() {
		<-pumpCtx.Done()
		if ctx.Err() != nil {
			prog.Send(QuitMsg{})
		}
	}()

	_, err := prog.Run()

	p.mu.Lock()
	p.stopped = true
	rest := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, msg := range rest {
		p.afterExit(msg)
	}
	return err
}

func (p *Program) enqueue(msg tea.Msg) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.afterExit(msg)
		return
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// afterExit handles a message that arrives once the screen is gone. Notice
// changes are dropped.
func (p *Program) afterExit(msg tea.Msg) {
	posted, ok := msg.(postedMsg)
	if !ok {
		return
	}
	p.logger.Debug("chat program stopped, running posted function detached")
	go func() {
		p.afterMu.Lock()
		defer p.afterMu.Unlock()
		posted.fn()
	}()
}

func (p *Program) take() []tea.Msg {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.queue
	p.queue = nil
	return msgs
}

// pump forwards queued messages one by one. Send blocks until the update
// loop receives the message, which keeps posting order.
func (p *Program) pump(ctx context.Context, prog *tea.Program) {
	for {
		for _, msg := range p.take() {
			prog.Send(msg)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
	}
}
