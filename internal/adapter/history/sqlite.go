package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"colloquy/internal/domain"
)

// SQLiteStore implements domain.HistoryStore using SQLite. Messages are kept
// as a JSON column next to the conversation row.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			messages   TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, messages, created_at, updated_at FROM conversations ORDER BY created_at, id",
	)
	if err != nil {
		return nil, domain.NewDomainError("SQLiteStore.Load", domain.ErrHistoryStore, err.Error())
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, domain.NewDomainError("SQLiteStore.Load", domain.ErrHistoryStore, err.Error())
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainError("SQLiteStore.Load", domain.ErrHistoryStore, err.Error())
	}
	return out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, conv domain.Conversation) error {
	msgs := conv.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	msgJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, string(msgJSON),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("SQLiteStore.Save", domain.ErrHistoryStore, err.Error())
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return domain.NewDomainError("SQLiteStore.Delete", domain.ErrHistoryStore, err.Error())
	}
	return nil
}

func scanConversation(rows *sql.Rows) (domain.Conversation, error) {
	var (
		conv                 domain.Conversation
		msgJSON              string
		createdAt, updatedAt string
	)
	if err := rows.Scan(&conv.ID, &conv.Title, &msgJSON, &createdAt, &updatedAt); err != nil {
		return conv, err
	}
	if err := json.Unmarshal([]byte(msgJSON), &conv.Messages); err != nil {
		return conv, fmt.Errorf("unmarshal messages of %s: %w", conv.ID, err)
	}
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return conv, nil
}
