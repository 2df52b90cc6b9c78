package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"colloquy/internal/domain"
)

// Persister mirrors store mutations into a history store by listening to
// conversation events. Every write re-reads the latest snapshot, so events
// delivered out of order still leave the newest state on disk.
type Persister struct {
	store   *Store
	history domain.HistoryStore
	logger  *slog.Logger

	mu    sync.Mutex // serializes snapshot+write pairs
	unsub func()
}

// NewPersister creates a persister. Call Attach to start listening.
func NewPersister(store *Store, history domain.HistoryStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: store, history: history, logger: logger}
}

// Attach subscribes to conversation events on bus.
func (p *Persister) Attach(bus domain.EventBus) {
	p.unsub = bus.SubscribeMany(p.handle,
		domain.EventConversationCreated,
		domain.EventConversationUpdated,
		domain.EventConversationCleared,
		domain.EventConversationDeleted,
	)
}

// Detach removes the persister's subscriptions.
func (p *Persister) Detach() {
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
}

func (p *Persister) handle(ctx context.Context, e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Type == domain.EventConversationDeleted {
		if err := p.history.Delete(ctx, e.ConversationID); err != nil {
			p.logger.Warn("history delete failed", "conversation", e.ConversationID, "error", err)
		}
		return
	}

	conv, err := p.store.Get(e.ConversationID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		// Deleted after this event was published; the delete event handles it.
		return
	}
	if err != nil {
		p.logger.Warn("history snapshot failed", "conversation", e.ConversationID, "error", err)
		return
	}
	if err := p.history.Save(ctx, conv); err != nil {
		p.logger.Warn("history save failed", "conversation", e.ConversationID, "error", err)
	}
}

// LoadHistory restores the store from history and returns how many
// conversations were loaded.
func LoadHistory(ctx context.Context, store *Store, history domain.HistoryStore) (int, error) {
	convs, err := history.Load(ctx)
	if err != nil {
		return 0, domain.WrapOp("LoadHistory", err)
	}
	return store.Restore(convs), nil
}
