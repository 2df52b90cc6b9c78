package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"colloquy/internal/domain"
	"colloquy/internal/infra/config"
)

var _ domain.LLMProvider = (*OllamaProvider)(nil)

const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second // first call loads the model
	ollamaDefaultBaseURL     = "http://localhost:11434"

	maxTagsBody = 10 << 20
)

// OllamaProvider is the local backend. Replies come from the server's
// OpenAI-compatible endpoint under /v1; the model list comes from the
// native /api/tags.
type OllamaProvider struct {
	inner   *OpenAIProvider
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// OllamaModel is one entry of /api/tags.
type OllamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// NewOllamaProvider creates the provider. The API key is ignored.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = ollamaDefaultRespTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}

	client := NewHTTPClient(cfg)
	return &OllamaProvider{
		inner:   newOpenAICompatible(cfg.Name, cfg.Model, "ollama", baseURL+"/v1", client, logger),
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// Chat implements domain.LLMProvider. A model the server does not have and
// a server that is not running get errors that say so.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.inner.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	model := req.Model
	if model == "" {
		model = p.Model()
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("local model %q is not installed, try `ollama pull %s`: %w", model, model, err)
	case unreachable(err):
		return nil, fmt.Errorf("local server %s is not reachable: %w: %w", p.baseURL, domain.ErrProviderError, err)
	}
	return nil, err
}

func unreachable(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Name implements domain.LLMProvider.
func (p *OllamaProvider) Name() string { return p.inner.Name() }

// Model returns the configured default model.
func (p *OllamaProvider) Model() string { return p.inner.Model() }

// ListModels returns the models installed on the server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if unreachable(err) {
			return nil, fmt.Errorf("local server %s is not reachable: %w: %w", p.baseURL, domain.ErrProviderError, err)
		}
		return nil, fmt.Errorf("list local models: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxTagsBody)
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(body)
		return nil, mapHTTPError(resp.StatusCode, string(detail))
	}

	var tags struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.NewDecoder(body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	p.logger.Debug("listed local models", "server", p.baseURL, "count", len(tags.Models))
	return tags.Models, nil
}

// ModelNames implements ModelLister.
func (p *OllamaProvider) ModelNames(ctx context.Context) ([]string, error) {
	models, err := p.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names, nil
}
