package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colloquy/internal/domain"
	"colloquy/internal/usecase/conversation"
	"colloquy/internal/usecase/mainloop"
)

// --- fakes ---

type fakeNotifier struct {
	mu        sync.Mutex
	titles    []string
	cancel    func()
	dismissed int
}

func (n *fakeNotifier) Show(title string, cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.cancel = cancel
}

func (n *fakeNotifier) Dismiss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed++
}

func (n *fakeNotifier) shown() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func (n *fakeNotifier) dismissals() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dismissed
}

func (n *fakeNotifier) cancelAction() func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancel
}

type fakeMode struct {
	local  bool
	model  string
	remote string
}

func (m fakeMode) LocalMode() bool        { return m.local }
func (m fakeMode) LocalModel() string     { return m.model }
func (m fakeMode) RemoteProvider() string { return m.remote }

// heldDispatcher queues posted functions until the test flushes them.
type heldDispatcher struct {
	mu  sync.Mutex
	fns []func()
}

func (d *heldDispatcher) Post(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fns = append(d.fns, fn)
}

func (d *heldDispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fns)
}

func (d *heldDispatcher) flush() {
	d.mu.Lock()
	fns := d.fns
	d.fns = nil
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) SubscribeMany(domain.EventHandler, ...domain.EventType) func() {
	return func() {}
}
func (b *recordingBus) Close() {}

func (b *recordingBus) has(t domain.EventType) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

type countingMetrics struct {
	mu       sync.Mutex
	started  int
	outcomes []Outcome
}

func (m *countingMetrics) RequestStarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *countingMetrics) RequestFinished(_ string, outcome Outcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

// --- harness ---

type harness struct {
	store    *conversation.Store
	notifier *fakeNotifier
	bus      *recordingBus
	ctrl     *Controller
	convID   string
}

func startLoop(t *testing.T) *mainloop.Loop {
	t.Helper()
	loop := mainloop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

func newHarness(t *testing.T, gen domain.GeneratorFunc, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:    conversation.NewStore(nil),
		notifier: &fakeNotifier{},
		bus:      &recordingBus{},
	}
	h.convID = h.store.Create("test").ID

	deps := Deps{
		Store:      h.store,
		Backend:    gen,
		Mode:       fakeMode{remote: "openai"},
		Notifier:   h.notifier,
		Dispatcher: startLoop(t),
		Bus:        h.bus,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.ctrl = NewController(deps)
	return h
}

func waitResult(t *testing.T, hd *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := hd.Wait(ctx)
	require.NoError(t, err)
	return res
}

func echo(_ context.Context, prompt string, _ domain.Conversation) (string, error) {
	return "echo: " + prompt, nil
}

// blockUntilCancelled returns a generator that signals started and honours ctx.
func blockUntilCancelled(started chan<- struct{}) domain.GeneratorFunc {
	return func(ctx context.Context, _ string, _ domain.Conversation) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
}

// --- tests ---

func TestSubmitCompletes(t *testing.T) {
	h := newHarness(t, echo, nil)

	hd, err := h.ctrl.Submit(h.convID, "  hello  ")
	require.NoError(t, err)
	require.NotNil(t, hd)

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "echo: hello", res.Reply)
	assert.NoError(t, res.Err)

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Empty(t, msgs[0].Model)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "echo: hello", msgs[1].Content)
	assert.Equal(t, "openai", msgs[1].Model)

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.Active())
	assert.Equal(t, 1, h.notifier.shown())
	assert.Equal(t, 1, h.notifier.dismissals())
	assert.Equal(t, []string{DefaultNotificationTitle}, h.notifier.titles)
	assert.True(t, h.bus.has(domain.EventRequestSubmitted))
	assert.True(t, h.bus.has(domain.EventRequestCompleted))
}

func TestSubmitAppendsUserMessageBeforeWorkerRuns(t *testing.T) {
	release := make(chan struct{})
	var seen domain.Conversation
	gen := func(_ context.Context, _ string, conv domain.Conversation) (string, error) {
		seen = conv
		<-release
		return "ok", nil
	}
	h := newHarness(t, gen, nil)

	hd, err := h.ctrl.Submit(h.convID, "question")
	require.NoError(t, err)

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "user message must be visible as soon as Submit returns")
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, StateRunning, h.ctrl.State())

	close(release)
	waitResult(t, hd)

	require.Len(t, seen.Messages, 1, "backend sees the conversation including the prompt")
	assert.Equal(t, "question", seen.Messages[0].Content)
}

func TestSubmitEmptyPromptIsIgnored(t *testing.T) {
	called := false
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		called = true
		return "x", nil
	}
	h := newHarness(t, gen, nil)

	for _, prompt := range []string{"", "   ", "\n\t "} {
		hd, err := h.ctrl.Submit(h.convID, prompt)
		assert.NoError(t, err)
		assert.Nil(t, hd)
	}

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.notifier.shown())
	assert.False(t, called)
}

func TestSubmitWhileBusyIsRejected(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, blockUntilCancelled(started), nil)

	hd, err := h.ctrl.Submit(h.convID, "first")
	require.NoError(t, err)
	<-started

	second, err := h.ctrl.Submit(h.convID, "second")
	assert.Nil(t, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, domain.CodeBusy, domain.ErrorCodeOf(err))

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "rejected submit must not touch the conversation")
	assert.Equal(t, "first", msgs[0].Content)

	require.True(t, h.ctrl.Cancel())
	waitResult(t, hd)
}

func TestCancelMidFlight(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, blockUntilCancelled(started), nil)

	hd, err := h.ctrl.Submit(h.convID, "long question")
	require.NoError(t, err)
	<-started

	assert.True(t, h.ctrl.Cancel())

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "no assistant message after cancel")
	assert.Equal(t, domain.RoleUser, msgs[0].Role)

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, 1, h.notifier.dismissals())
	assert.True(t, h.bus.has(domain.EventRequestCancelled))
	assert.False(t, h.bus.has(domain.EventRequestDetached))
}

func TestCancelThroughNotification(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, blockUntilCancelled(started), nil)

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	<-started

	cancel := h.notifier.cancelAction()
	require.NotNil(t, cancel)
	cancel()

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestCancelWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t, echo, nil)

	assert.False(t, h.ctrl.Cancel())
	assert.False(t, h.ctrl.Cancel())
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.notifier.dismissals())

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCancelAfterResultIsDiscarded(t *testing.T) {
	disp := &heldDispatcher{}
	h := newHarness(t, echo, func(d *Deps) { d.Dispatcher = disp })

	hd, err := h.ctrl.Submit(h.convID, "race")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return disp.pending() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateCompleting, h.ctrl.State())

	assert.False(t, h.ctrl.Cancel(), "cancel loses once the worker has a result")
	assert.False(t, hd.Settled())

	disp.flush()

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "echo: race", msgs[1].Content)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.False(t, h.bus.has(domain.EventRequestCancelled))
}

func TestBackendFailureReturnsToIdle(t *testing.T) {
	var (
		mu       sync.Mutex
		reported error
	)
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		return "", domain.ErrRateLimit
	}
	h := newHarness(t, gen, func(d *Deps) {
		d.OnError = func(_ string, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = err
		}
	})

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrBackendFailure)
	assert.ErrorIs(t, res.Err, domain.ErrRateLimit)

	mu.Lock()
	assert.ErrorIs(t, reported, domain.ErrRateLimit)
	mu.Unlock()

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, 1, h.notifier.dismissals())
	assert.True(t, h.bus.has(domain.EventRequestFailed))

	// The controller accepts new work after a failure.
	h.ctrl.deps.Backend = domain.GeneratorFunc(echo)
	hd, err = h.ctrl.Submit(h.convID, "again")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, waitResult(t, hd).Outcome)
}

func TestBackendPanicIsRecovered(t *testing.T) {
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		panic("boom")
	}
	h := newHarness(t, gen, nil)

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrBackendFailure)
	assert.Contains(t, res.Err.Error(), "boom")
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestEmptyReplyIsFailure(t *testing.T) {
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		return "  \n", nil
	}
	h := newHarness(t, gen, nil)

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrEmptyResponse)

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRequestTimeout(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, blockUntilCancelled(started), func(d *Deps) {
		d.Timeout = 20 * time.Millisecond
	})

	hd, err := h.ctrl.Submit(h.convID, "slow")
	require.NoError(t, err)

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrTimeout)
	assert.ErrorIs(t, res.Err, domain.ErrBackendFailure)
	assert.Equal(t, domain.CodeTimeout, domain.ErrorCodeOf(res.Err))
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestUncooperativeBackendIsDetached(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		close(started)
		<-release
		return "too late", nil
	}
	h := newHarness(t, gen, func(d *Deps) { d.CancelGrace = 10 * time.Millisecond })

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	<-started

	assert.True(t, h.ctrl.Cancel())
	assert.True(t, h.bus.has(domain.EventRequestDetached))
	assert.Equal(t, OutcomeCancelled, waitResult(t, hd).Outcome)
	assert.Equal(t, StateIdle, h.ctrl.State())

	close(release)
	<-hd.backendDone

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "late result of a detached call is discarded")
}

func TestCancelDoesNotWaitForUncooperativeBackend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls sync.Mutex
	first := true
	gen := func(ctx context.Context, prompt string, conv domain.Conversation) (string, error) {
		calls.Lock()
		stall := first
		first = false
		calls.Unlock()
		if !stall {
			return echo(ctx, prompt, conv)
		}
		close(started)
		<-release
		return "too late", nil
	}
	h := newHarness(t, gen, nil)

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	<-started

	begin := time.Now()
	assert.True(t, h.ctrl.Cancel())
	assert.Less(t, time.Since(begin), 200*time.Millisecond)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, OutcomeCancelled, waitResult(t, hd).Outcome)

	next, err := h.ctrl.Submit(h.convID, "again")
	require.NoError(t, err, "controller accepts a new request while the old call is still running")
	assert.Equal(t, OutcomeCompleted, waitResult(t, next).Outcome)

	assert.Eventually(t, func() bool { return h.bus.has(domain.EventRequestDetached) },
		2*time.Second, 10*time.Millisecond)

	close(release)
	<-hd.backendDone

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "again", msgs[1].Content)
	assert.Equal(t, "echo: again", msgs[2].Content, "late result of the detached call is discarded")
}

func TestConversationClearedMidRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		close(started)
		<-release
		return "reply", nil
	}
	h := newHarness(t, gen, nil)

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	<-started
	require.NoError(t, h.store.Clear(h.convID))
	close(release)

	assert.Equal(t, OutcomeCompleted, waitResult(t, hd).Outcome)
	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "reply lands at the tail of the cleared list")
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
}

func TestConversationDeletedMidRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := func(context.Context, string, domain.Conversation) (string, error) {
		close(started)
		<-release
		return "reply", nil
	}
	h := newHarness(t, gen, nil)

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	<-started
	require.NoError(t, h.store.Delete(h.convID))
	close(release)

	res := waitResult(t, hd)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrConversationNotFound)
	assert.False(t, h.store.Exists(h.convID))
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestSubmitUnknownConversation(t *testing.T) {
	h := newHarness(t, echo, nil)

	hd, err := h.ctrl.Submit("missing", "q")
	assert.Nil(t, hd)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.notifier.shown())
}

func TestReplyTagFollowsMode(t *testing.T) {
	tests := []struct {
		name string
		mode domain.ModeSource
		want string
	}{
		{"local model", fakeMode{local: true, model: "llama3", remote: "openai"}, "llama3"},
		{"local without model", fakeMode{local: true, remote: "openai"}, "openai"},
		{"local without model or provider", fakeMode{local: true}, ""},
		{"remote", fakeMode{remote: "anthropic"}, "anthropic"},
		{"no mode", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, echo, func(d *Deps) { d.Mode = tt.mode })

			hd, err := h.ctrl.Submit(h.convID, "q")
			require.NoError(t, err)
			assert.Equal(t, tt.want, hd.Tag)
			waitResult(t, hd)

			msgs, err := h.store.List(h.convID)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, tt.want, msgs[1].Model)
		})
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	m := &countingMetrics{}
	started := make(chan struct{})
	h := newHarness(t, blockUntilCancelled(started), func(d *Deps) { d.Metrics = m })

	hd, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	<-started
	h.ctrl.Cancel()
	waitResult(t, hd)

	h.ctrl.deps.Backend = domain.GeneratorFunc(echo)
	hd, err = h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	waitResult(t, hd)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.started)
	assert.Equal(t, []Outcome{OutcomeCancelled, OutcomeCompleted}, m.outcomes)
}

func TestControllerWait(t *testing.T) {
	h := newHarness(t, echo, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx), "idle controller returns immediately")

	_, err := h.ctrl.Submit(h.convID, "q")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Wait(ctx))
	assert.Equal(t, StateIdle, h.ctrl.State())

	msgs, err := h.store.List(h.convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHandleWaitNil(t *testing.T) {
	var hd *Handle
	_, err := hd.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrHandleNil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completing", StateCompleting.String())
	assert.Equal(t, "cancelling", StateCancelling.String())
	assert.Equal(t, "unknown", State(42).String())
}
