package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/kbindex/internal/config"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// NewBackend creates the embedder selected by cfg.Provider.
// There is no silent fallback: an explicit provider either works or errors.
func NewBackend(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	return newBackend(ctx, cfg, slog.Default())
}

func newBackend(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	retry := kberrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	switch strings.ToLower(cfg.Provider) {
	case config.ProviderHTTP:
		e, err := NewHTTPEmbedder(HTTPConfig{
			URL:        cfg.URL,
			Model:      cfg.Model,
			Dimensions: cfg.VectorSize,
			Timeout:    cfg.Timeout,
			Retry:      retry,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ProviderOllama:
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.URL,
			Model:      cfg.Model,
			Dimensions: cfg.VectorSize,
			Timeout:    cfg.Timeout,
			Retry:      retry,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ProviderStatic:
		return NewStaticEmbedder(cfg.VectorSize), nil
	default:
		return nil, kberrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
}

// New creates a Client for cfg with batching and the query cache configured.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Embedding backend ready",
		slog.String("provider", cfg.Provider),
		slog.String("model", backend.ModelName()),
		slog.Int("dimensions", backend.Dimensions()))

	base := []ClientOption{
		WithBatchSize(cfg.BatchSize),
		WithQueryCache(cfg.QueryCacheSize),
		WithLogger(logger),
	}
	return NewClient(backend, append(base, opts...)...), nil
}
