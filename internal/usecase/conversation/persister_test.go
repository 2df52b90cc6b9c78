package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colloquy/internal/domain"
	"colloquy/internal/usecase/eventbus"
)

type memHistory struct {
	mu    sync.Mutex
	convs map[string]domain.Conversation
	order []string
}

func newMemHistory() *memHistory {
	return &memHistory{convs: make(map[string]domain.Conversation)}
}

func (h *memHistory) Load(context.Context) ([]domain.Conversation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Conversation, 0, len(h.order))
	for _, id := range h.order {
		if c, ok := h.convs[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *memHistory) Save(_ context.Context, conv domain.Conversation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.convs[conv.ID]; !ok {
		h.order = append(h.order, conv.ID)
	}
	h.convs[conv.ID] = conv
	return nil
}

func (h *memHistory) Delete(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, id)
	return nil
}

func (h *memHistory) Close() error { return nil }

func (h *memHistory) get(id string) (domain.Conversation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.convs[id]
	return c, ok
}

func TestPersisterMirrorsMutations(t *testing.T) {
	bus := eventbus.New(nil)
	store := NewStore(bus)
	hist := newMemHistory()
	p := NewPersister(store, hist, nil)
	p.Attach(bus)

	keep := store.Create("keep")
	drop := store.Create("drop")
	require.NoError(t, store.Append(keep.ID, domain.NewUserMessage("hello")))
	require.NoError(t, store.Append(keep.ID, domain.NewAssistantMessage("hi", "openai")))
	require.NoError(t, store.Delete(drop.ID))
	bus.Close()

	saved, ok := hist.get(keep.ID)
	require.True(t, ok)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "hi", saved.Messages[1].Content)
	assert.Equal(t, "openai", saved.Messages[1].Model)

	_, ok = hist.get(drop.ID)
	assert.False(t, ok, "deleted conversation must not be resurrected")
}

func TestPersisterDetach(t *testing.T) {
	bus := eventbus.New(nil)
	store := NewStore(bus)
	hist := newMemHistory()
	p := NewPersister(store, hist, nil)
	p.Attach(bus)
	p.Detach()

	store.Create("ignored")
	bus.Close()

	convs, err := hist.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestLoadHistory(t *testing.T) {
	hist := newMemHistory()
	ctx := context.Background()
	require.NoError(t, hist.Save(ctx, domain.Conversation{ID: "a", Title: "first", Messages: []domain.Message{domain.NewUserMessage("x")}}))
	require.NoError(t, hist.Save(ctx, domain.Conversation{ID: "b", Title: "second"}))

	store := NewStore(nil)
	n, err := LoadHistory(ctx, store, hist)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	summaries := store.Conversations()
	require.Len(t, summaries, 2)
	assert.Equal(t, "first", summaries[0].Title)
	assert.Equal(t, 1, summaries[0].MessageCount)
	assert.Equal(t, "second", summaries[1].Title)
}
