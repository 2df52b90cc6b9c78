package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"colloquy/internal/domain"
	"colloquy/internal/infra/config"
	"colloquy/internal/infra/tracer"
)

var _ domain.LLMProvider = (*OpenAIProvider)(nil)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements domain.LLMProvider for any OpenAI-compatible API.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	return newOpenAICompatible(cfg.Name, cfg.Model, cfg.APIKey, baseURL, NewHTTPClient(cfg), logger)
}

func newOpenAICompatible(name, model, apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = baseURL
	oc.HTTPClient = httpClient

	return &OpenAIProvider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(oc),
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	resp, err := p.client.CreateChatCompletion(ctx, toOpenAIRequest(req))
	if err != nil {
		err = mapOpenAIError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromOpenAIResponse(resp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the configured default model.
func (p *OpenAIProvider) Model() string { return p.model }

func toOpenAIRequest(req domain.ChatRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) *domain.ChatResponse {
	out := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
	out.Message = domain.Message{Role: domain.RoleAssistant, Timestamp: time.Now()}
	if len(resp.Choices) > 0 {
		out.Message.Content = resp.Choices[0].Message.Content
	}
	return out
}

// mapOpenAIError converts go-openai error types into domain errors.
// Transport errors and context errors are returned unchanged.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return mapHTTPError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return mapHTTPError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return err
}
