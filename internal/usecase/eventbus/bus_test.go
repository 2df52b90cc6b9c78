package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colloquy/internal/domain"
)

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now(), ConversationID: "conv-1"}
}

func TestPublishSubscribe(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.Subscribe(domain.EventConversationUpdated, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventConversationUpdated && e.ConversationID == "conv-1" {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventConversationUpdated))
	bus.Publish(context.Background(), newEvent(domain.EventConversationDeleted))
	bus.Close()

	assert.Equal(t, int32(1), got.Load())
}

func TestSubscribeAll(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventRequestSubmitted))
	bus.Publish(context.Background(), newEvent(domain.EventRequestCompleted))
	bus.Close()

	assert.Equal(t, int32(2), got.Load())
}

func TestSubscribeMany(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	unsub := bus.SubscribeMany(func(context.Context, domain.Event) { got.Add(1) },
		domain.EventConversationCreated,
		domain.EventConversationCleared,
	)
	bus.Publish(context.Background(), newEvent(domain.EventConversationCreated))
	bus.Publish(context.Background(), newEvent(domain.EventConversationCleared))
	bus.Publish(context.Background(), newEvent(domain.EventConversationDeleted))

	unsub()
	bus.Publish(context.Background(), newEvent(domain.EventConversationCreated))
	bus.Close()

	assert.Equal(t, int32(2), got.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := New(nil)

	var typed, all atomic.Int32
	unsubTyped := bus.Subscribe(domain.EventRequestFailed, func(context.Context, domain.Event) { typed.Add(1) })
	unsubAll := bus.SubscribeAll(func(context.Context, domain.Event) { all.Add(1) })
	unsubTyped()
	unsubAll()
	unsubAll() // second call is harmless

	bus.Publish(context.Background(), newEvent(domain.EventRequestFailed))
	bus.Close()

	assert.Zero(t, typed.Load())
	assert.Zero(t, all.Load())
}

func TestPublishCarriesPayload(t *testing.T) {
	bus := New(nil)

	received := make(chan domain.Event, 1)
	bus.Subscribe(domain.EventRequestCompleted, func(_ context.Context, e domain.Event) {
		received <- e
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventRequestCompleted, "conv-9", domain.RequestPayload{
		RequestID: "req-1",
		Tag:       "llama3",
	}))
	bus.Close()

	e := <-received
	assert.Equal(t, "conv-9", e.ConversationID)
	assert.False(t, e.Timestamp.IsZero())

	var p domain.RequestPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	assert.Equal(t, "req-1", p.RequestID)
	assert.Equal(t, "llama3", p.Tag)
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.Subscribe(domain.EventConversationUpdated, func(context.Context, domain.Event) { got.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventConversationUpdated))
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Equal(t, int32(100), got.Load())
}

func TestPanicRecovery(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.Subscribe(domain.EventRequestCancelled, func(context.Context, domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventRequestCancelled, func(context.Context, domain.Event) { got.Add(1) })

	bus.Publish(context.Background(), newEvent(domain.EventRequestCancelled))
	bus.Close()

	assert.Equal(t, int32(1), got.Load(), "second handler still runs")
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := New(nil)

	var got atomic.Int32
	bus.Subscribe(domain.EventConversationUpdated, func(context.Context, domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventConversationUpdated))
	bus.Close()
	assert.Equal(t, int32(1), got.Load(), "Close waits for in-flight handlers")

	bus.Publish(context.Background(), newEvent(domain.EventConversationUpdated))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), got.Load(), "no delivery after close")

	bus.Close()
}

func TestPublishRacingClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := New(nil)
		var got atomic.Int32
		bus.SubscribeAll(func(context.Context, domain.Event) { got.Add(1) })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventRequestSubmitted))
		}()
		go func() {
			defer wg.Done()
			bus.Close()
		}()
		wg.Wait()
		bus.Close()

		assert.LessOrEqual(t, got.Load(), int32(1))
	}
}
