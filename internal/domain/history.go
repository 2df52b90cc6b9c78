package domain

import "context"

// HistoryStore persists conversations keyed by conversation ID.
type HistoryStore interface {
	// Load returns every stored conversation ordered by creation time.
	Load(ctx context.Context) ([]Conversation, error)
	// Save upserts the full conversation.
	Save(ctx context.Context, conv Conversation) error
	// Delete removes a conversation. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}
