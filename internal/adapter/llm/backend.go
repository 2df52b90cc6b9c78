package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"colloquy/internal/domain"
	"colloquy/internal/infra/tracer"
)

// BackendConfig selects the active provider and shapes each chat request.
type BackendConfig struct {
	LocalMode      bool
	LocalProvider  string
	LocalModel     string
	RemoteProvider string

	SystemPrompt     string
	MaxTokens        int
	Temperature      float64
	MaxContextTokens int
}

// Backend turns a conversation into a chat request against whichever
// provider the current mode selects. It implements domain.Generator and
// domain.ModeSource.
type Backend struct {
	registry *Registry
	counter  *TokenCounter
	bus      domain.EventBus
	logger   *slog.Logger

	mu  sync.RWMutex
	cfg BackendConfig
}

var (
	_ domain.Generator  = (*Backend)(nil)
	_ domain.ModeSource = (*Backend)(nil)
)

// NewBackend creates a backend over the providers in registry.
// counter and bus may be nil.
func NewBackend(registry *Registry, cfg BackendConfig, counter *TokenCounter, bus domain.EventBus, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = NewTokenCounter(DefaultEncoding, logger)
	}
	return &Backend{
		registry: registry,
		counter:  counter,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
	}
}

// LocalMode implements domain.ModeSource.
func (b *Backend) LocalMode() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.LocalMode
}

// LocalModel implements domain.ModeSource. Without an explicit selection it
// reports the local provider's configured model.
func (b *Backend) LocalModel() string {
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	if cfg.LocalModel != "" {
		return cfg.LocalModel
	}
	p, err := b.registry.Get(cfg.LocalProvider)
	if err != nil {
		return ""
	}
	return defaultModelOf(p)
}

// RemoteProvider implements domain.ModeSource.
func (b *Backend) RemoteProvider() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.RemoteProvider
}

// Config returns a copy of the current settings.
func (b *Backend) Config() BackendConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// SetLocalMode switches between the local and the remote provider.
func (b *Backend) SetLocalMode(on bool) {
	b.mu.Lock()
	changed := b.cfg.LocalMode != on
	b.cfg.LocalMode = on
	b.mu.Unlock()
	if changed {
		b.publishMode()
	}
}

// SetLocalModel selects the model used in local mode.
func (b *Backend) SetLocalModel(name string) {
	name = strings.TrimSpace(name)
	b.mu.Lock()
	changed := b.cfg.LocalModel != name
	b.cfg.LocalModel = name
	b.mu.Unlock()
	if changed {
		b.publishMode()
	}
}

// SetRemoteProvider selects the provider used outside local mode. The name
// must be registered.
func (b *Backend) SetRemoteProvider(name string) error {
	name = strings.TrimSpace(name)
	if !b.registry.Has(name) {
		return domain.NewDomainError("Backend.SetRemoteProvider", domain.ErrProviderNotFound, name)
	}
	b.mu.Lock()
	changed := b.cfg.RemoteProvider != name
	b.cfg.RemoteProvider = name
	b.mu.Unlock()
	if changed {
		b.publishMode()
	}
	return nil
}

// Providers returns the registered provider names.
func (b *Backend) Providers() []string {
	return b.registry.List()
}

// LocalModels lists the models the local provider can serve, sorted by name.
func (b *Backend) LocalModels(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	name := b.cfg.LocalProvider
	b.mu.RUnlock()

	p, err := b.registry.Get(name)
	if err != nil {
		return nil, err
	}
	ml, ok := modelListerOf(p)
	if !ok {
		if m := defaultModelOf(p); m != "" {
			return []string{m}, nil
		}
		return nil, fmt.Errorf("provider %q cannot list models: %w", name, domain.ErrInvalidInput)
	}
	names, err := ml.ModelNames(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Generate implements domain.Generator. conv is expected to end with the
// prompt as its last user message; if it does not, the prompt is appended.
func (b *Backend) Generate(ctx context.Context, prompt string, conv domain.Conversation) (string, error) {
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	providerName, model := cfg.RemoteProvider, ""
	if cfg.LocalMode {
		providerName, model = cfg.LocalProvider, cfg.LocalModel
	}
	if providerName == "" {
		return "", domain.NewDomainError("Backend.Generate", domain.ErrNoActiveBackend, "no provider selected")
	}
	provider, err := b.registry.Get(providerName)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.StartSpan(ctx, "llm.generate",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", providerName),
			tracer.StringAttr("llm.model", model),
			tracer.BoolAttr("llm.local_mode", cfg.LocalMode),
			tracer.StringAttr("conversation.id", conv.ID),
		),
	)
	defer span.End()

	msgs := b.buildMessages(cfg, prompt, conv)
	span.SetAttributes(tracer.IntAttr("llm.messages", len(msgs)))

	resp, err := provider.Chat(ctx, domain.ChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		tracer.RecordError(span, err)
		b.logger.DebugContext(ctx, "llm call failed", "provider", providerName, "error", err)
		return "", err
	}
	tracer.SetOK(span)
	b.logger.DebugContext(ctx, "llm call finished", "provider", providerName, "messages", len(msgs))
	return resp.Message.Content, nil
}

func (b *Backend) buildMessages(cfg BackendConfig, prompt string, conv domain.Conversation) []domain.Message {
	msgs := make([]domain.Message, 0, len(conv.Messages)+2)
	if sp := strings.TrimSpace(cfg.SystemPrompt); sp != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: sp})
	}
	for _, m := range conv.Messages {
		msgs = append(msgs, domain.Message{Role: m.Role, Content: m.Content})
	}

	prompt = strings.TrimSpace(prompt)
	n := len(conv.Messages)
	if prompt != "" && (n == 0 || conv.Messages[n-1].Role != domain.RoleUser || conv.Messages[n-1].Content != prompt) {
		msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: prompt})
	}
	return b.counter.Trim(msgs, cfg.MaxContextTokens)
}

func (b *Backend) publishMode() {
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()
	b.logger.Info("generation backend changed",
		"local_mode", cfg.LocalMode,
		"local_model", cfg.LocalModel,
		"remote_provider", cfg.RemoteProvider,
	)
	if b.bus == nil {
		return
	}
	b.bus.Publish(context.Background(), domain.NewEvent(domain.EventModeChanged, "", domain.ModePayload{
		LocalMode:      cfg.LocalMode,
		LocalModel:     cfg.LocalModel,
		RemoteProvider: cfg.RemoteProvider,
	}))
}
