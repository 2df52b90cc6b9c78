// Package request runs generation requests against a conversation: one at a
// time, cancellable, with the reply merged back on the main context.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"colloquy/internal/domain"
	"colloquy/internal/infra/tracer"
)

// State is the controller's request lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleting
	StateCancelling
)

// String returns a human-readable label for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleting:
		return "completing"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// DefaultNotificationTitle is shown while a request is running.
const DefaultNotificationTitle = "Generating response"

// detachReportAfter is how long a cancelled backend call may keep running
// before it is reported as detached, when Cancel does not wait for it.
const detachReportAfter = 250 * time.Millisecond

// ConversationStore is the subset of the conversation store the controller mutates.
type ConversationStore interface {
	Append(id string, msg domain.Message) error
	Get(id string) (domain.Conversation, error)
}

// Metrics records request lifecycle measurements.
type Metrics interface {
	RequestStarted(tag string)
	RequestFinished(tag string, outcome Outcome, elapsed time.Duration)
}

// Deps are the controller's collaborators and settings.
type Deps struct {
	Store      ConversationStore
	Backend    domain.Generator
	Mode       domain.ModeSource // optional; nil means untagged replies
	Notifier   domain.Notifier   // optional
	Dispatcher domain.Dispatcher
	Bus        domain.EventBus // optional
	Metrics    Metrics         // optional
	Logger     *slog.Logger
	OnError    func(convID string, err error) // optional; called on the main context

	// Timeout bounds a single backend call. Zero means no timeout.
	Timeout time.Duration
	// CancelGrace makes Cancel wait up to this long for the backend call to
	// return after its context is cancelled. Zero or negative means Cancel
	// returns to Idle without waiting.
	CancelGrace time.Duration
	// NotificationTitle overrides DefaultNotificationTitle.
	NotificationTitle string
}

// Controller owns at most one in-flight generation request.
//
// Submit, and the merge of a finished request, run on the main context given
// by Deps.Dispatcher. Cancel and State may be called from any goroutine.
type Controller struct {
	deps Deps

	mu     sync.Mutex
	active *Handle
	idle   chan struct{} // closed while no request is outstanding
}

// NewController creates a controller in the Idle state.
func NewController(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NotificationTitle == "" {
		deps.NotificationTitle = DefaultNotificationTitle
	}
	idle := make(chan struct{})
	close(idle)
	return &Controller{deps: deps, idle: idle}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return StateIdle
	}
	return c.active.State()
}

// Active returns the outstanding request, or nil when idle.
func (c *Controller) Active() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Wait blocks until the controller is idle or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit appends prompt as a user message to the conversation and starts a
// worker that asks the backend for a reply.
//
// A blank prompt is ignored: no message, no request, and a nil handle with a
// nil error. While another request is outstanding Submit fails with
// domain.ErrBusy and leaves the conversation untouched.
func (c *Controller) Submit(convID, prompt string) (*Handle, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		c.deps.Logger.Debug("ignoring empty prompt", "conversation", convID)
		return nil, nil
	}

	c.mu.Lock()
	if c.active != nil {
		state := c.active.State()
		c.mu.Unlock()
		return nil, domain.NewDomainError("Controller.Submit", domain.ErrBusy, state.String())
	}

	if err := c.deps.Store.Append(convID, domain.NewUserMessage(prompt)); err != nil {
		c.mu.Unlock()
		return nil, domain.WrapOp("Controller.Submit", err)
	}
	conv, err := c.deps.Store.Get(convID)
	if err != nil {
		c.mu.Unlock()
		return nil, domain.WrapOp("Controller.Submit", err)
	}

	tag := domain.ModeTag(c.deps.Mode)
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.deps.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.deps.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	h := newHandle(convID, prompt, tag, cancel)
	c.active = h
	c.idle = make(chan struct{})
	c.mu.Unlock()

	if c.deps.Notifier != nil {
		c.deps.Notifier.Show(c.deps.NotificationTitle, func() { c.Cancel() })
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RequestStarted(tag)
	}
	c.publish(domain.EventRequestSubmitted, h, nil)
	c.deps.Logger.Debug("request submitted",
		"request", h.ID,
		"conversation", convID,
		"tag", tag,
	)

	go c.work(ctx, h, conv)
	return h, nil
}

// Cancel stops the outstanding request. It returns true if a running request
// was cancelled, false when idle or when the request already produced its
// result (the merge then completes normally).
//
// The controller is Idle when Cancel returns. A backend call that ignores
// its context is left running detached, and its result is discarded; Cancel
// waits for it only up to Deps.CancelGrace.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	h := c.active
	if h == nil {
		c.mu.Unlock()
		return false
	}
	if !h.phase.CompareAndSwap(int32(StateRunning), int32(StateCancelling)) {
		c.mu.Unlock()
		c.deps.Logger.Debug("cancel ignored", "request", h.ID, "state", h.State().String())
		return false
	}
	c.mu.Unlock()

	h.cancel()
	<-h.done

	if c.deps.CancelGrace > 0 {
		select {
		case <-h.backendDone:
		case <-time.After(c.deps.CancelGrace):
			c.detach(h, c.deps.CancelGrace)
		}
	} else {
		go c.watchDetached(h)
	}

	c.settle(h, Result{Outcome: OutcomeCancelled, Err: context.Canceled})
	c.publish(domain.EventRequestCancelled, h, nil)
	c.deps.Logger.Info("request cancelled", "request", h.ID, "conversation", h.ConversationID)
	return true
}

// watchDetached reports a cancelled backend call that keeps running after
// the controller has already returned to Idle.
func (c *Controller) watchDetached(h *Handle) {
	t := time.NewTimer(detachReportAfter)
	defer t.Stop()
	select {
	case <-h.backendDone:
	case <-t.C:
		c.detach(h, detachReportAfter)
	}
}

func (c *Controller) detach(h *Handle, after time.Duration) {
	c.deps.Logger.Warn("backend call did not stop after cancel; detaching it",
		"request", h.ID,
		"after", after,
	)
	c.publish(domain.EventRequestDetached, h, nil)
}

// work runs on the worker goroutine. It never touches the store; the result
// travels back through the handle and the dispatcher.
func (c *Controller) work(ctx context.Context, h *Handle, conv domain.Conversation) {
	defer close(h.done)

	ctx, span := tracer.StartSpan(ctx, "request",
		trace.WithAttributes(
			tracer.StringAttr("request.id", h.ID),
			tracer.StringAttr("request.tag", h.Tag),
			tracer.StringAttr("conversation.id", h.ConversationID),
		),
	)
	defer span.End()

	reply, err := c.call(ctx, h, conv)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = domain.ErrEmptyResponse
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.NewDomainError("Controller.work", domain.ErrTimeout, c.deps.Timeout.String())
	}
	h.reply, h.err = reply, err
	if err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}

	if !h.phase.CompareAndSwap(int32(StateRunning), int32(StateCompleting)) {
		// Cancelled first; Cancel owns the transition back to Idle.
		return
	}
	c.deps.Dispatcher.Post(func() { c.complete(h) })
}

// call runs the backend in its own goroutine so the worker can return as soon
// as ctx is done, even if the backend ignores cancellation. A late result is
// dropped into the buffered channel and discarded.
func (c *Controller) call(ctx context.Context, h *Handle, conv domain.Conversation) (string, error) {
	type outcome struct {
		reply string
		err   error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer close(h.backendDone)
		defer func() {
			if r := recover(); r != nil {
				c.deps.Logger.Error("backend panicked", "request", h.ID, "panic", r)
				ch <- outcome{err: fmt.Errorf("%w: panic: %v", domain.ErrBackendFailure, r)}
			}
		}()
		reply, err := c.deps.Backend.Generate(ctx, h.Prompt, conv)
		if ctx.Err() != nil {
			c.deps.Logger.Debug("discarding backend result of stopped request", "request", h.ID)
		}
		ch <- outcome{reply: reply, err: err}
	}()

	select {
	case out := <-ch:
		return out.reply, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// complete merges a finished request on the main context.
func (c *Controller) complete(h *Handle) {
	<-h.done
	h.cancel()

	if h.err != nil {
		err := h.err
		if !errors.Is(err, domain.ErrBackendFailure) {
			err = fmt.Errorf("%w: %w", domain.ErrBackendFailure, err)
		}
		c.fail(h, err)
		return
	}

	msg := domain.NewAssistantMessage(h.reply, h.Tag)
	if err := c.deps.Store.Append(h.ConversationID, msg); err != nil {
		c.deps.Logger.Warn("dropping reply for missing conversation",
			"request", h.ID,
			"conversation", h.ConversationID,
			"error", err,
		)
		c.fail(h, err)
		return
	}

	c.settle(h, Result{Outcome: OutcomeCompleted, Reply: h.reply})
	c.publish(domain.EventRequestCompleted, h, nil)
	c.deps.Logger.Debug("request completed",
		"request", h.ID,
		"conversation", h.ConversationID,
		"elapsed", time.Since(h.StartedAt),
	)
}

func (c *Controller) fail(h *Handle, err error) {
	c.deps.Logger.Error("generation failed",
		"request", h.ID,
		"conversation", h.ConversationID,
		"code", string(domain.ErrorCodeOf(err)),
		"error", err,
	)
	c.settle(h, Result{Outcome: OutcomeFailed, Err: err})
	c.publish(domain.EventRequestFailed, h, err)
	if c.deps.OnError != nil {
		c.deps.OnError(h.ConversationID, err)
	}
}

// settle dismisses the notification and returns the controller to Idle.
func (c *Controller) settle(h *Handle, r Result) {
	if c.deps.Notifier != nil {
		c.deps.Notifier.Dismiss()
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RequestFinished(h.Tag, r.Outcome, time.Since(h.StartedAt))
	}

	c.mu.Lock()
	if c.active == h {
		c.active = nil
		close(c.idle)
	}
	c.mu.Unlock()
	h.settle(r)
}

func (c *Controller) publish(t domain.EventType, h *Handle, err error) {
	if c.deps.Bus == nil {
		return
	}
	payload := domain.RequestPayload{
		RequestID: h.ID,
		Tag:       h.Tag,
		LatencyMs: time.Since(h.StartedAt).Milliseconds(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	c.deps.Bus.Publish(context.Background(), domain.NewEvent(t, h.ConversationID, payload))
}
