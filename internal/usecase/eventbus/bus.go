// Package eventbus is the in-process publish/subscribe bus that carries
// conversation and request lifecycle events to persisters, metrics and the UI.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"colloquy/internal/domain"
)

// anyEvent keys the subscriptions that receive every event type.
const anyEvent domain.EventType = ""

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Each delivery runs on its
// own goroutine, so handlers never block publishers and events may arrive
// out of order.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	nextID uint64
	closed bool

	inflight sync.WaitGroup
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: make(map[domain.EventType][]subscription)}
}

// Publish delivers event to the handlers of its type and to the handlers of
// every type. Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("event bus closed, dropping event", "event", string(event.Type))
		return
	}
	targets := append(append([]subscription(nil), b.subs[event.Type]...), b.subs[anyEvent]...)
	b.inflight.Add(len(targets))
	b.mu.RUnlock()

	for _, sub := range targets {
		go b.deliver(ctx, event, sub.handler)
	}
}

func (b *Bus) deliver(ctx context.Context, event domain.Event, handler domain.EventHandler) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"conversation", event.ConversationID,
				"panic", r,
			)
		}
	}()
	handler(ctx, event)
}

// Subscribe registers a handler for one event type and returns the function
// that removes it.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() { once.Do(func() { b.remove(eventType, id) }) }
}

// SubscribeMany registers one handler for several event types.
// The returned function removes all of them.
func (b *Bus) SubscribeMany(handler domain.EventHandler, types ...domain.EventType) func() {
	unsubs := make([]func(), len(types))
	for i, t := range types {
		unsubs[i] = b.Subscribe(t, handler)
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.Subscribe(anyEvent, handler)
}

func (b *Bus) remove(eventType domain.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close stops accepting events and waits for the deliveries already under
// way. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}
