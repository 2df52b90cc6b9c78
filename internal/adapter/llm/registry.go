package llm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"colloquy/internal/domain"
)

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ModelNames(ctx context.Context) ([]string, error)
}

// Registry maps provider names, as written in the config, to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.LLMProvider)}
}

// Register adds provider under its Name, which must be unique and non-empty.
func (r *Registry) Register(provider domain.LLMProvider) error {
	name := provider.Name()
	if name == "" {
		return fmt.Errorf("register provider: %w: empty name", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.providers[name]; dup {
		return fmt.Errorf("register provider: %w: %q registered twice", domain.ErrInvalidInput, name)
	}
	r.providers[name] = provider
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}

// unwrapTo walks p and the providers it wraps (circuit breaker, rate
// limiter) and returns the first one that implements T.
func unwrapTo[T any](p domain.LLMProvider) (T, bool) {
	for p != nil {
		if t, ok := p.(T); ok {
			return t, true
		}
		u, ok := p.(interface{ Unwrap() domain.LLMProvider })
		if !ok {
			break
		}
		p = u.Unwrap()
	}
	var zero T
	return zero, false
}

func modelListerOf(p domain.LLMProvider) (ModelLister, bool) {
	return unwrapTo[ModelLister](p)
}

// defaultModelOf returns the configured model of p or a provider it wraps.
func defaultModelOf(p domain.LLMProvider) string {
	if m, ok := unwrapTo[interface{ Model() string }](p); ok {
		return m.Model()
	}
	return ""
}
