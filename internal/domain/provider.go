package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "ollama").
	Name() string
}

// Generator produces an assistant reply for a prompt in the context of a conversation.
// Implementations block for the whole call and must honour ctx cancellation where they can.
type Generator interface {
	Generate(ctx context.Context, prompt string, conv Conversation) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, conv Conversation) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, conv Conversation) (string, error) {
	return f(ctx, prompt, conv)
}

// ModeSource exposes which backend is active, used to tag assistant messages.
type ModeSource interface {
	// LocalMode reports whether generation runs against a local model.
	LocalMode() bool
	// LocalModel returns the active local model name, or "".
	LocalModel() string
	// RemoteProvider returns the active remote provider identifier, or "".
	RemoteProvider() string
}

// ModeTag resolves the tag recorded on assistant messages: the local model name in
// local mode when one is set, otherwise the remote provider. It is "" when
// neither resolves.
func ModeTag(src ModeSource) string {
	if src == nil {
		return ""
	}
	if src.LocalMode() {
		if m := src.LocalModel(); m != "" {
			return m
		}
	}
	return src.RemoteProvider()
}
