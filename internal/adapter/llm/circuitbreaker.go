package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"colloquy/internal/domain"
)

const (
	defaultCBMaxFailures uint32 = 5
	defaultCBTimeout            = 30 * time.Second
	defaultCBInterval           = 60 * time.Second
)

// CircuitBreakerConfig sets when a provider's circuit opens. Zero fields
// take the defaults.
type CircuitBreakerConfig struct {
	MaxFailures uint32        // consecutive failures that open the circuit
	Timeout     time.Duration // open time before a half-open probe
	Interval    time.Duration // closed-state period that clears the counts
}

// BreakerOption customizes a CircuitBreakerProvider.
type BreakerOption func(*CircuitBreakerProvider)

// WithCircuitEvents publishes EventProviderCircuit on bus when the circuit
// changes state.
func WithCircuitEvents(bus domain.EventBus) BreakerOption {
	return func(p *CircuitBreakerProvider) { p.bus = bus }
}

// CircuitBreakerProvider fails fast while its provider keeps failing, so a
// dead backend settles requests at once instead of at the request timeout.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
	bus     domain.EventBus
}

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)

// NewCircuitBreakerProvider wraps inner.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg CircuitBreakerConfig, logger *slog.Logger, opts ...BreakerOption) *CircuitBreakerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	p := &CircuitBreakerProvider{inner: inner, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: p.stateChanged,
		IsSuccessful:  providerHealthy,
	})
	return p
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = defaultCBMaxFailures
	}
	if c.Timeout == 0 {
		c.Timeout = defaultCBTimeout
	}
	if c.Interval == 0 {
		c.Interval = defaultCBInterval
	}
	return c
}

// providerHealthy reports whether err leaves the provider's health intact.
// Cancelled requests and prompts too long for the model are the caller's
// doing.
func providerHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrContextOverflow)
}

func (p *CircuitBreakerProvider) stateChanged(name string, from, to gobreaker.State) {
	log := p.logger.Warn
	if to == gobreaker.StateClosed {
		log = p.logger.Info
	}
	log("llm circuit state change", "provider", name, "from", from.String(), "to", to.String())

	if p.bus != nil {
		p.bus.Publish(context.Background(), domain.NewEvent(domain.EventProviderCircuit, "",
			domain.CircuitPayload{Provider: name, From: from.String(), To: to.String()}))
	}
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("provider %q circuit open: %w: %w", p.inner.Name(), domain.ErrProviderError, err)
	}
	return resp, err
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// Unwrap returns the wrapped provider.
func (p *CircuitBreakerProvider) Unwrap() domain.LLMProvider { return p.inner }

// State returns the circuit state.
func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

// Counts returns the request counts of the current generation.
func (p *CircuitBreakerProvider) Counts() gobreaker.Counts { return p.breaker.Counts() }
