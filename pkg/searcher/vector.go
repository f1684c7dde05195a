package searcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
)

// MaxK caps the number of results a single query may ask for.
const MaxK = 100

// Searcher is safe for concurrent use.
type Searcher struct {
	embedder QueryEmbedder
	vectors  VectorSearcher
	urlFor   func(name string) string
	stats    *telemetry.QueryStats
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithStats records every query in stats.
func WithStats(stats *telemetry.QueryStats) Option {
	return func(s *Searcher) { s.stats = stats }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// New creates a Searcher. urlFor maps a source file name to its public link.
func New(embedder QueryEmbedder, vectors VectorSearcher, urlFor func(string) string, opts ...Option) (*Searcher, error) {
	if embedder == nil {
		return nil, kberrors.InternalError("searcher needs an embedder", nil)
	}
	if vectors == nil {
		return nil, kberrors.InternalError("searcher needs a vector store", nil)
	}
	if urlFor == nil {
		urlFor = func(string) string { return "" }
	}
	s := &Searcher{embedder: embedder, vectors: vectors, urlFor: urlFor, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search returns up to k hits for query, best first. k <= 0 uses the
// store's default. An empty knowledge base yields an empty result list.
func (s *Searcher) Search(ctx context.Context, query string, k int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, kberrors.New(kberrors.ErrCodeInvalidQuery, "query must not be empty", nil)
	}
	if k > MaxK {
		return nil, kberrors.New(kberrors.ErrCodeInvalidQuery, "k must not exceed 100", nil).
			WithSuggestion("Ask for fewer results")
	}

	started := time.Now()
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			Text:   r.Payload.Text,
			Source: r.Payload.Source,
			Index:  r.Payload.Index,
			Score:  r.Score,
			URL:    s.urlFor(r.Payload.Source),
		}
	}

	elapsed := time.Since(started)
	s.stats.Record(telemetry.QueryEvent{
		Query:       query,
		ResultCount: len(hits),
		Latency:     elapsed,
		Timestamp:   started,
	})
	s.logger.Debug("Search complete",
		slog.Int("k", k),
		slog.Int("results", len(hits)),
		slog.Duration("elapsed", elapsed))

	return &Response{
		Query:   query,
		Results: hits,
		Context: index.FormatContext(results, s.urlFor),
	}, nil
}
