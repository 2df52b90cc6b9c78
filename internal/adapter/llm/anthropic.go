package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	"colloquy/internal/domain"
	"colloquy/internal/infra/config"
	"colloquy/internal/infra/tracer"
)

var _ domain.LLMProvider = (*AnthropicProvider)(nil)

const (
	anthropicDefaultModel     = "claude-3-5-haiku-20241022"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider implements domain.LLMProvider over the Anthropic Messages API.
type AnthropicProvider struct {
	name   string
	model  string
	client *anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates a provider with configured timeouts.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(NewHTTPClient(cfg)),
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL+"/"))
	}
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	return &AnthropicProvider{
		name:   cfg.Name,
		model:  model,
		client: anthropic.NewClient(opts...),
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	msgs := toAnthropicMessages(req.Messages)
	if len(msgs) == 0 {
		err := domain.NewDomainError("AnthropicProvider.Chat", domain.ErrInvalidInput, "no user message")
		tracer.RecordError(span, err)
		return nil, err
	}

	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		params = append(params, anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(m.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(m.Content),
				},
			}),
		})
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(req.Model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(params),
	})
	if err != nil {
		err = mapAnthropicError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content.WriteString(block.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: string(resp.Model),
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   content.String(),
			Timestamp: time.Now(),
		},
		Usage: domain.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		CreatedAt: time.Now(),
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

// Model returns the configured default model.
func (p *AnthropicProvider) Model() string { return p.model }

// toAnthropicMessages reshapes a chat transcript for the Messages API: system
// text is folded into the first user turn, the transcript starts with a user
// turn, and consecutive turns of the same role are joined.
func toAnthropicMessages(in []domain.Message) []domain.Message {
	var system []string
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
			continue
		case domain.RoleUser, domain.RoleAssistant:
		default:
			continue
		}
		if len(out) == 0 && m.Role != domain.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, domain.Message{Role: m.Role, Content: m.Content})
	}
	if len(out) > 0 && len(system) > 0 {
		out[0].Content = strings.Join(system, "\n\n") + "\n\n" + out[0].Content
	}
	return out
}

// mapAnthropicError converts SDK API errors into domain errors.
func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return mapHTTPError(apiErr.StatusCode, apiErr.Error())
	}
	return err
}
