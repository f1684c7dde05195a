package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/kbindex/internal/config"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// NewBackend creates the backend selected by cfg.Store.Backend.
func NewBackend(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.BackendQdrant:
		b, err := NewQdrantBackend(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendHNSW:
		b, err := NewHNSWBackend(cfg.Store.Path, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, kberrors.ConfigError(fmt.Sprintf("unknown store backend %q", cfg.Store.Backend), nil)
	}
}

// Open creates the configured backend, binds a Store to the configured
// collection and ensures the collection exists.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, onSearch func(time.Duration, int, error)) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := New(backend, Options{
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Embedding.VectorSize,
		DefaultK:   cfg.Qdrant.SearchK,
		Logger:     logger,
		OnSearch:   onSearch,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}
