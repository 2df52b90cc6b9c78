package request

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrHandleNil is returned by Wait on a nil handle.
var ErrHandleNil = errors.New("request handle is nil")

// Outcome is how a request left the Running state.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Result is the settled state of a request.
type Result struct {
	Outcome Outcome
	Reply   string
	Err     error
}

// Handle is a single generation request owned by a Controller.
type Handle struct {
	ID             string
	ConversationID string
	Prompt         string
	Tag            string
	StartedAt      time.Time

	phase  atomic.Int32 // State; Running until a worker result or a cancel wins the swap
	cancel context.CancelFunc

	done        chan struct{} // worker goroutine exited
	backendDone chan struct{} // backend call returned

	// Written by the worker before done is closed.
	reply string
	err   error

	settled chan struct{}
	mu      sync.Mutex
	result  Result
}

func newHandle(convID, prompt, tag string, cancel context.CancelFunc) *Handle {
	now := time.Now()
	h := &Handle{
		ID:             newRequestID(now),
		ConversationID: convID,
		Prompt:         prompt,
		Tag:            tag,
		StartedAt:      now,
		cancel:         cancel,
		done:           make(chan struct{}),
		backendDone:    make(chan struct{}),
		settled:        make(chan struct{}),
	}
	h.phase.Store(int32(StateRunning))
	return h
}

func newRequestID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// State returns the request's current phase.
func (h *Handle) State() State {
	return State(h.phase.Load())
}

func (h *Handle) settle(r Result) {
	h.mu.Lock()
	h.result = r
	h.mu.Unlock()
	close(h.settled)
}

// Settled reports whether the controller has finished with this request.
func (h *Handle) Settled() bool {
	select {
	case <-h.settled:
		return true
	default:
		return false
	}
}

// Wait blocks until the request is settled or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	if h == nil {
		return Result{}, ErrHandleNil
	}
	select {
	case <-h.settled:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
