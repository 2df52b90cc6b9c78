// Package conversation holds the in-memory conversation store mutated by the main context.
package conversation

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"colloquy/internal/domain"
)

// DefaultTitle is used when a conversation is created without a title.
const DefaultTitle = "New conversation"

// maxTitleRunes bounds a title derived from a prompt.
const maxTitleRunes = 40

// Store holds every conversation and its ordered message list.
//
// Mutations are expected to come from a single main context; the lock only
// protects snapshot readers running on other goroutines.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
	order []string // creation order
	bus   domain.EventBus
	now   func() time.Time
}

// NewStore creates an empty store. bus may be nil.
func NewStore(bus domain.EventBus) *Store {
	return &Store{
		convs: make(map[string]*domain.Conversation),
		bus:   bus,
		now:   time.Now,
	}
}

// TitleFrom derives a conversation title from the first line of a prompt.
func TitleFrom(prompt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	if r := []rune(line); len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes-3]) + "..."
	}
	return line
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Create adds an empty conversation and returns a snapshot of it.
func (s *Store) Create(title string) domain.Conversation {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	conv := &domain.Conversation{
		ID:        generateULID(now),
		Title:     title,
		Messages:  make([]domain.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.convs[conv.ID] = conv
	s.order = append(s.order, conv.ID)
	snap := conv.Clone()
	s.mu.Unlock()

	s.publish(domain.EventConversationCreated, conv.ID)
	return snap
}

// Append adds msg to the tail of the conversation.
func (s *Store) Append(id string, msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return domain.NewDomainError("Store.Append", domain.ErrConversationNotFound, id)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(domain.EventConversationUpdated, id)
	return nil
}

// Clear empties the message list but keeps the conversation.
func (s *Store) Clear(id string) error {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return domain.NewDomainError("Store.Clear", domain.ErrConversationNotFound, id)
	}
	conv.Messages = make([]domain.Message, 0)
	conv.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(domain.EventConversationCleared, id)
	return nil
}

// List returns a snapshot of the conversation's messages in append order.
func (s *Store) List(id string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, domain.NewDomainError("Store.List", domain.ErrConversationNotFound, id)
	}
	cp := make([]domain.Message, len(conv.Messages))
	copy(cp, conv.Messages)
	return cp, nil
}

// Get returns a snapshot of the whole conversation.
func (s *Store) Get(id string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, domain.NewDomainError("Store.Get", domain.ErrConversationNotFound, id)
	}
	return conv.Clone(), nil
}

// Exists reports whether id names a conversation in the store.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.convs[id]
	return ok
}

// Rename changes a conversation's title. Blank titles are rejected.
func (s *Store) Rename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.NewDomainError("Store.Rename", domain.ErrInvalidInput, "empty title")
	}

	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return domain.NewDomainError("Store.Rename", domain.ErrConversationNotFound, id)
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	s.mu.Unlock()

	s.publish(domain.EventConversationUpdated, id)
	return nil
}

// Delete removes a conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return domain.NewDomainError("Store.Delete", domain.ErrConversationNotFound, id)
	}
	delete(s.convs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(domain.EventConversationDeleted, id)
	return nil
}

// Conversations lists summaries in creation order.
func (s *Store) Conversations() []domain.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConversationSummary, 0, len(s.order))
	for _, id := range s.order {
		conv := s.convs[id]
		out = append(out, domain.ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Restore replaces the store content with previously persisted conversations.
// Conversations with an empty ID or a duplicate ID are skipped. No events are published.
func (s *Store) Restore(convs []domain.Conversation) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[string]*domain.Conversation, len(convs))
	s.order = s.order[:0]
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		if _, dup := s.convs[c.ID]; dup {
			continue
		}
		cp := c.Clone()
		s.convs[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	return len(s.order)
}

func (s *Store) publish(t domain.EventType, id string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), domain.NewEvent(t, id, nil))
}
