package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventConversationUpdated EventType = "conversation.updated"
	EventConversationCleared EventType = "conversation.cleared"
	EventConversationDeleted EventType = "conversation.deleted"

	EventRequestSubmitted EventType = "request.submitted"
	EventRequestCompleted EventType = "request.completed"
	EventRequestCancelled EventType = "request.cancelled"
	EventRequestFailed    EventType = "request.failed"
	EventRequestDetached  EventType = "request.detached"

	EventModeChanged EventType = "mode.changed"

	EventProviderCircuit EventType = "provider.circuit"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// RequestPayload describes a generation request lifecycle event.
type RequestPayload struct {
	RequestID string `json:"request_id"`
	Tag       string `json:"tag,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// ModePayload describes a change of the active backend.
type ModePayload struct {
	LocalMode      bool   `json:"local_mode"`
	LocalModel     string `json:"local_model,omitempty"`
	RemoteProvider string `json:"remote_provider,omitempty"`
}

// CircuitPayload describes a provider circuit breaker state change.
type CircuitPayload struct {
	Provider string `json:"provider"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// SubscribeMany registers one handler for several event types.
	// Returns a function that removes all of them.
	SubscribeMany(handler EventHandler, types ...EventType) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewEvent builds an event with the payload marshalled to JSON.
// A payload that fails to marshal is dropped rather than failing the publish.
func NewEvent(eventType EventType, conversationID string, payload any) Event {
	ev := Event{Type: eventType, Timestamp: time.Now(), ConversationID: conversationID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}
