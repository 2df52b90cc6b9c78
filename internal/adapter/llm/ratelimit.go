package llm

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"colloquy/internal/domain"
)

// RateLimitedProvider paces calls to a provider with a token bucket.
// Chat blocks until a token is available or ctx is done.
type RateLimitedProvider struct {
	inner   domain.LLMProvider
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ domain.LLMProvider = (*RateLimitedProvider)(nil)

// NewRateLimitedProvider allows requestsPerMinute calls with the given burst.
// A non-positive burst is treated as 1.
func NewRateLimitedProvider(inner domain.LLMProvider, requestsPerMinute float64, burst int, logger *slog.Logger) *RateLimitedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst),
		logger:  logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Wait fails fast when the deadline is earlier than the next token.
		p.logger.Debug("rate limit wait exceeds deadline", "provider", p.inner.Name(), "error", err)
		return nil, fmt.Errorf("%w: provider %q: %v", domain.ErrRateLimit, p.inner.Name(), err)
	}
	return p.inner.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// Unwrap returns the wrapped provider.
func (p *RateLimitedProvider) Unwrap() domain.LLMProvider { return p.inner }
