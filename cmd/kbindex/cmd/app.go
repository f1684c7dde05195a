package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/kbindex/internal/chunk"
	"github.com/Aman-CERP/kbindex/internal/config"
	"github.com/Aman-CERP/kbindex/internal/embed"
	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/loader"
	"github.com/Aman-CERP/kbindex/internal/store"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
	"github.com/Aman-CERP/kbindex/pkg/searcher"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// ledgerFile is the SQLite run ledger inside the data directory.
const ledgerFile = "kbindex.db"

// app holds the long-lived components of one kbindex process. Every command
// that touches the knowledge base builds exactly one.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	tracing  *telemetry.TracerProvider
	metrics  *telemetry.Metrics
	ledger   *telemetry.RunLedger
	stats    *telemetry.QueryStats
	embedder *embed.Client
	store    *store.Store
	source   *index.Source
	coord    *index.Coordinator
	searcher *searcher.Searcher
}

// newApp wires the pipeline: embedder, store, loaders, splitter, coordinator
// and searcher, plus the ledger, metrics and tracing around them. On error
// everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.tracing, err = telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	a.metrics = telemetry.NewMetrics()

	if err = os.MkdirAll(cfg.Indexer.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	a.ledger, err = telemetry.OpenRunLedger(filepath.Join(cfg.Indexer.DataDir, ledgerFile))
	if err != nil {
		return nil, err
	}
	a.stats = telemetry.NewQueryStats(a.ledger, telemetry.DefaultQueryStatsConfig())

	a.embedder, err = embed.New(ctx, cfg.Embedding, logger, embed.WithBatchObserver(a.metrics.ObserveEmbedBatch))
	if err != nil {
		return nil, err
	}
	a.store, err = store.Open(ctx, cfg, logger, a.metrics.ObserveSearch)
	if err != nil {
		return nil, err
	}

	splitter, err := chunk.NewRecursiveSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	loaders := loader.DefaultRegistry(loader.Options{
		Transcription: loader.TranscriberConfig{
			URL:     cfg.Transcription.URL,
			Model:   cfg.Transcription.Model,
			APIKey:  cfg.Transcription.APIKey,
			Timeout: cfg.Transcription.Timeout,
			Logger:  logger,
		},
	})

	a.source = index.NewSource(cfg.KnowledgeBase.Dir, cfg.KnowledgeBase.PublicURL)
	a.coord, err = index.NewCoordinator(index.Config{
		Source:   a.source,
		Loaders:  loaders,
		Splitter: splitter,
		Embedder: a.embedder,
		Store:    a.store,
		Lock:     index.NewDirLock(cfg.Indexer.DataDir),
		Metrics:  a.metrics,
		Ledger:   a.ledger,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a.searcher, err = searcher.New(a.embedder, a.store, a.source.PublicURL,
		searcher.WithStats(a.stats), searcher.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close stops a running job, flushes query statistics and releases every
// backend. It is safe on a partially built app.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.coord != nil {
		if err := a.coord.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop indexing: %w", err))
		}
	}
	if a.stats != nil {
		if err := a.stats.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush query stats: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
