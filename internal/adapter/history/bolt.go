// Package history persists conversations outside the process so they survive restarts.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"colloquy/internal/domain"
)

var conversationsBucket = []byte("conversations")

// BoltStore implements domain.HistoryStore on a bbolt file. Each conversation
// is one JSON value keyed by its ID.
type BoltStore struct {
	db *bolt.DB
}

var _ domain.HistoryStore = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load returns every stored conversation ordered by creation time.
// Malformed entries are skipped.
func (s *BoltStore) Load(ctx context.Context) ([]domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, v []byte) error {
			var conv domain.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return nil
			}
			out = append(out, conv)
			return nil
		})
	})
	if err != nil {
		return nil, domain.NewDomainError("BoltStore.Load", domain.ErrHistoryStore, err.Error())
	}
	sortByCreation(out)
	return out, nil
}

// Save upserts conv.
func (s *BoltStore) Save(ctx context.Context, conv domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put([]byte(conv.ID), data)
	})
	if err != nil {
		return domain.NewDomainError("BoltStore.Save", domain.ErrHistoryStore, err.Error())
	}
	return nil
}

// Delete removes a conversation. Unknown IDs are ignored.
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete([]byte(id))
	})
	if err != nil {
		return domain.NewDomainError("BoltStore.Delete", domain.ErrHistoryStore, err.Error())
	}
	return nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sortByCreation(convs []domain.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
}
