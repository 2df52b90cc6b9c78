package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colloquy/internal/domain"
)

type mockProvider struct {
	name     string
	model    string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}
func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return m.model }

// --- Circuit Breaker Tests ---

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "test", cb.Name())
	assert.Same(t, inner, cb.Unwrap())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			calls.Add(1)
			return nil, domain.ErrServerError
		},
	}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    60 * time.Second,
	}, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorIs(t, err, domain.ErrServerError)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Equal(t, int32(3), calls.Load(), "provider should not be called when circuit is open")
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			if failing.Load() {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Message: domain.Message{Content: "recovered"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     50 * time.Millisecond,
		Interval:    60 * time.Second,
	}, slog.Default())

	for i := 0; i < 2; i++ {
		cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	failing.Store(false)
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "slow",
		chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, context.Canceled
		},
	}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{MaxFailures: 2}, slog.Default())
	for i := 0; i < 5; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Zero(t, cb.Counts().ConsecutiveFailures)
}

func TestCircuitBreakerIgnoresContextOverflow(t *testing.T) {
	inner := &mockProvider{
		name: "small",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, fmt.Errorf("prompt too long: %w", domain.ErrContextOverflow)
		},
	}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{MaxFailures: 1}, nil)
	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorIs(t, err, domain.ErrContextOverflow)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerPublishesStateChanges(t *testing.T) {
	inner := &mockProvider{
		name: "down",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, domain.ErrServerError
		},
	}
	bus := &recordingBus{}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{MaxFailures: 1}, nil, WithCircuitEvents(bus))
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.ErrorIs(t, err, domain.ErrServerError)

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventProviderCircuit, events[0].Type)

	var p domain.CircuitPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &p))
	assert.Equal(t, domain.CircuitPayload{Provider: "down", From: "closed", To: "open"}, p)
}

func TestCircuitBreakerCounts(t *testing.T) {
	var fail atomic.Bool
	inner := &mockProvider{
		name: "counted",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			if fail.Load() {
				return nil, errors.New("boom")
			}
			return &domain.ChatResponse{}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, CircuitBreakerConfig{MaxFailures: 10}, slog.Default())
	cb.Chat(context.Background(), domain.ChatRequest{})
	cb.Chat(context.Background(), domain.ChatRequest{})
	fail.Store(true)
	cb.Chat(context.Background(), domain.ChatRequest{})

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

// --- Connection Pooling Tests ---

func TestNewPooledTransport_Defaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, PooledTransportConfig{})

	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestNewPooledTransport_CustomConfig(t *testing.T) {
	tr := NewPooledTransport(15*time.Second, 60*time.Second, PooledTransportConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     5 * time.Minute,
	})

	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, tr.IdleConnTimeout)
	assert.Equal(t, 60*time.Second, tr.ResponseHeaderTimeout)

	var _ http.RoundTripper = tr
}
