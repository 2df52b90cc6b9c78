package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Missing API keys are not an error here: a provider without a key is skipped
// when the backend is built, so local-only setups still load.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateRequest(cfg, ve)
	validateHistory(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	if cfg.UI.WordWrap < 0 {
		ve.Add("ui.word_wrap must be >= 0")
	}
	switch cfg.UI.StreamSpeed {
	case "", "instant", "fast", "normal":
	default:
		ve.Add("ui.stream_speed %q is invalid (want: instant, fast, normal)", cfg.UI.StreamSpeed)
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"ollama":    true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	llm := &cfg.LLM
	if llm.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
	if llm.Temperature < 0 || llm.Temperature > 2 {
		ve.Add("llm.temperature must be between 0 and 2")
	}
	if llm.MaxContextTokens < 0 {
		ve.Add("llm.max_context_tokens must be >= 0")
	}

	types := make(map[string]string, len(llm.Providers))
	for i, p := range llm.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if _, dup := types[p.Name]; dup {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		types[p.Name] = p.Type

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic, ollama)", i, p.Type)
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] (%s): timeouts must be >= 0", i, p.Name)
		}
	}

	if llm.RemoteProvider != "" {
		switch typ, ok := types[llm.RemoteProvider]; {
		case !ok:
			ve.Add("llm.remote_provider %q does not match any configured provider", llm.RemoteProvider)
		case typ == "ollama":
			ve.Add("llm.remote_provider %q is a local (ollama) provider", llm.RemoteProvider)
		}
	}
	if llm.LocalMode {
		switch typ, ok := types[llm.LocalProvider]; {
		case llm.LocalProvider == "":
			ve.Add("llm.local_provider must be set when local_mode is enabled")
		case !ok:
			ve.Add("llm.local_provider %q does not match any configured provider", llm.LocalProvider)
		case typ != "ollama":
			ve.Add("llm.local_provider %q must be of type ollama", llm.LocalProvider)
		}
	}
	if llm.RemoteProvider == "" && !llm.LocalMode {
		ve.Add("llm.remote_provider must be set unless local_mode is enabled")
	}

	if llm.CircuitBreaker.Enabled && llm.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
	if llm.RateLimit.Enabled {
		if llm.RateLimit.RequestsPerMinute <= 0 {
			ve.Add("llm.rate_limit.requests_per_minute must be > 0 when enabled")
		}
		if llm.RateLimit.Burst <= 0 {
			ve.Add("llm.rate_limit.burst must be > 0 when enabled")
		}
	}
}

func validateRequest(cfg *Config, ve *ValidationError) {
	if cfg.Request.Timeout < 0 {
		ve.Add("request.timeout must be >= 0")
	}
	if cfg.Request.CancelGrace < 0 {
		ve.Add("request.cancel_grace must be >= 0")
	}
}

var validHistoryBackends = map[string]bool{
	"bolt":   true,
	"sqlite": true,
	"none":   true,
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if !validHistoryBackends[cfg.History.Backend] {
		ve.Add("history.backend %q is invalid (want: bolt, sqlite, none)", cfg.History.Backend)
		return
	}
	if cfg.History.Backend != "none" && cfg.History.Path == "" {
		ve.Add("history.path must not be empty for backend %q", cfg.History.Backend)
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	case "file":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint must be a file path for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, file, noop)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is invalid: %v", cfg.Metrics.Addr, err)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path must start with /")
	}
}
