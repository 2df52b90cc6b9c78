package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colloquy/internal/domain"
)

// Counters in these tests never call Load, so counts use the estimate.

func TestTokenCounterEstimate(t *testing.T) {
	c := NewTokenCounter("", nil)
	assert.False(t, c.Exact())
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("hi"))
	assert.Equal(t, 10, c.Count(strings.Repeat("a", 40)))
	assert.Equal(t, 2, c.Count("éééééééé"))
}

func TestTokenCounterCountMessages(t *testing.T) {
	c := NewTokenCounter("", nil)
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: strings.Repeat("a", 40)},
		{Role: domain.RoleAssistant, Content: strings.Repeat("b", 20)},
	}
	assert.Equal(t, 10+5+2*messageOverhead, c.CountMessages(msgs))
}

func TestTokenCounterTrim(t *testing.T) {
	c := NewTokenCounter("", nil)
	long := strings.Repeat("x", 400) // 100 tokens
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "old " + long},
		{Role: domain.RoleAssistant, Content: "older reply " + long},
		{Role: domain.RoleUser, Content: "recent"},
		{Role: domain.RoleAssistant, Content: "recent reply"},
		{Role: domain.RoleUser, Content: "latest"},
	}

	t.Run("fits", func(t *testing.T) {
		assert.Equal(t, msgs, c.Trim(msgs, 10000))
	})

	t.Run("disabled", func(t *testing.T) {
		assert.Equal(t, msgs, c.Trim(msgs, 0))
	})

	t.Run("drops oldest", func(t *testing.T) {
		out := c.Trim(msgs, 50)
		require.Len(t, out, 4)
		assert.Equal(t, domain.RoleSystem, out[0].Role)
		assert.Equal(t, "recent", out[1].Content)
		assert.Equal(t, "latest", out[3].Content)
	})

	t.Run("always keeps last", func(t *testing.T) {
		out := c.Trim(msgs, 1)
		require.Len(t, out, 2)
		assert.Equal(t, domain.RoleSystem, out[0].Role)
		assert.Equal(t, "latest", out[1].Content)
	})
}
