package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"colloquy/internal/adapter/history"
	"colloquy/internal/domain"
	"colloquy/internal/infra/config"
	"colloquy/internal/usecase/conversation"
)

// historyPath returns the configured history file, or the default file for
// the backend inside the data directory.
func historyPath(cfg config.HistoryConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	switch cfg.Backend {
	case "sqlite":
		return filepath.Join(config.DataDir(), "history.db")
	default:
		return filepath.Join(config.DataDir(), "history.bolt")
	}
}

// openHistory opens the configured history store. It returns nil for the
// "none" backend.
func openHistory(cfg config.HistoryConfig) (domain.HistoryStore, error) {
	path := historyPath(cfg)
	switch cfg.Backend {
	case "bolt", "":
		return history.NewBoltStore(path)
	case "sqlite":
		return history.NewSQLiteStore(path)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown history backend: %q", cfg.Backend)
	}
}

// initHistory restores saved conversations into store and starts mirroring
// changes back. The returned persister is nil when history is disabled.
func initHistory(ctx context.Context, cfg *config.Config, store *conversation.Store, bus domain.EventBus, log *slog.Logger) (domain.HistoryStore, *conversation.Persister, error) {
	hs, err := openHistory(cfg.History)
	if err != nil {
		return nil, nil, err
	}
	if hs == nil {
		log.Info("conversation history disabled")
		return nil, nil, nil
	}

	n, err := conversation.LoadHistory(ctx, store, hs)
	if err != nil {
		hs.Close()
		return nil, nil, err
	}

	p := conversation.NewPersister(store, hs, log)
	p.Attach(bus)
	log.Info("conversation history loaded",
		"backend", cfg.History.Backend,
		"path", historyPath(cfg.History),
		"conversations", n,
	)
	return hs, p, nil
}
