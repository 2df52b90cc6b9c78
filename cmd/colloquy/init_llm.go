package main

import (
	"fmt"
	"log/slog"

	"colloquy/internal/adapter/llm"
	"colloquy/internal/domain"
	"colloquy/internal/infra/config"
)

// LLMComponents holds all LLM-related components.
type LLMComponents struct {
	Registry *llm.Registry
	Counter  *llm.TokenCounter
	Backend  *llm.Backend
}

// initLLM registers the configured providers and builds the backend that
// picks between them. Providers that need an API key and have none are
// skipped so local-only setups start.
func initLLM(cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*LLMComponents, error) {
	registry := llm.NewRegistry()

	cbCfg := cfg.LLM.CircuitBreaker
	rlCfg := cfg.LLM.RateLimit
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if provider == nil {
			log.Warn("skipping llm provider without api key", "provider", pc.Name, "type", pc.Type)
			continue
		}

		// Local servers are not paced.
		if rlCfg.Enabled && pc.Type != "ollama" {
			provider = llm.NewRateLimitedProvider(provider, rlCfg.RequestsPerMinute, rlCfg.Burst, log)
		}

		if cbCfg.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, llm.CircuitBreakerConfig{
				MaxFailures: cbCfg.MaxFailures,
				Timeout:     cbCfg.Timeout,
				Interval:    cbCfg.Interval,
			}, log, llm.WithCircuitEvents(bus))
		}

		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	counter := llm.NewTokenCounter(llm.DefaultEncoding, log)
	go func() {
		if err := counter.Load(); err != nil {
			log.Warn("token counter stays in estimate mode", "error", err)
		}
	}()

	backend := llm.NewBackend(registry, llm.BackendConfig{
		LocalMode:        cfg.LLM.LocalMode,
		LocalProvider:    cfg.LLM.LocalProvider,
		LocalModel:       cfg.LLM.LocalModel,
		RemoteProvider:   cfg.LLM.RemoteProvider,
		SystemPrompt:     cfg.LLM.SystemPrompt,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		MaxContextTokens: cfg.LLM.MaxContextTokens,
	}, counter, bus, log)

	log.Info("llm backend ready",
		"providers", registry.List(),
		"local_mode", cfg.LLM.LocalMode,
		"tag", domain.ModeTag(backend),
	)

	return &LLMComponents{
		Registry: registry,
		Counter:  counter,
		Backend:  backend,
	}, nil
}

// createLLMProvider builds the provider for pc. It returns a nil provider
// when a hosted provider has no API key.
func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai":
		if pc.APIKey == "" {
			return nil, nil
		}
		return llm.NewOpenAIProvider(pc, log), nil
	case "anthropic":
		if pc.APIKey == "" {
			return nil, nil
		}
		return llm.NewAnthropicProvider(pc, log), nil
	case "ollama":
		return llm.NewOllamaProvider(pc, log), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", pc.Type)
	}
}
