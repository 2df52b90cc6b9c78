package llm

import (
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"colloquy/internal/domain"
)

// DefaultEncoding is the BPE encoding used to count tokens.
const DefaultEncoding = "cl100k_base"

// messageOverhead approximates the per-message framing tokens of chat APIs.
const messageOverhead = 4

// TokenCounter counts tokens with a tiktoken encoding once it is loaded and
// falls back to a character estimate until then.
type TokenCounter struct {
	encoding string
	enc      atomic.Pointer[tiktoken.Tiktoken]
	logger   *slog.Logger
}

// NewTokenCounter returns a counter for encoding. It starts in estimate mode;
// call Load to switch to exact counts.
func NewTokenCounter(encoding string, logger *slog.Logger) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCounter{encoding: encoding, logger: logger}
}

// Load fetches the encoding tables. It may hit the network on first use, so
// callers usually run it in the background.
func (c *TokenCounter) Load() error {
	enc, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		c.logger.Warn("token encoding unavailable, estimating token counts",
			"encoding", c.encoding,
			"error", err,
		)
		return err
	}
	c.enc.Store(enc)
	c.logger.Debug("token encoding loaded", "encoding", c.encoding)
	return nil
}

// Exact reports whether counts come from the loaded encoding.
func (c *TokenCounter) Exact() bool {
	return c.enc.Load() != nil
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.enc.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// CountMessages returns the token cost of msgs including per-message framing.
func (c *TokenCounter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += c.Count(m.Content) + messageOverhead
	}
	return total
}

// Trim drops the oldest non-system messages until msgs fits in budget.
// System messages and the final message are always kept. A budget <= 0
// disables trimming.
func (c *TokenCounter) Trim(msgs []domain.Message, budget int) []domain.Message {
	if budget <= 0 || len(msgs) == 0 || c.CountMessages(msgs) <= budget {
		return msgs
	}

	var system []domain.Message
	var rest []domain.Message
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) == 0 {
		return msgs
	}

	used := c.CountMessages(system)
	start := len(rest) - 1
	used += c.CountMessages(rest[start:])
	for start > 0 {
		cost := c.Count(rest[start-1].Content) + messageOverhead
		if used+cost > budget {
			break
		}
		used += cost
		start--
	}

	out := make([]domain.Message, 0, len(system)+len(rest)-start)
	out = append(out, system...)
	out = append(out, rest[start:]...)
	c.logger.Debug("trimmed conversation history",
		"dropped", start,
		"kept", len(rest)-start,
		"tokens", used,
		"budget", budget,
	)
	return out
}
