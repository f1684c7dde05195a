package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aman-CERP/kbindex/internal/chunk"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

const tracerName = "github.com/Aman-CERP/kbindex/internal/store"

// Options configures a Store.
type Options struct {
	// Collection is the collection name.
	Collection string
	// VectorSize is fixed for the collection's lifetime.
	VectorSize int
	// DefaultK is used when Search gets k <= 0.
	DefaultK int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// OnSearch, when set, is called after every search.
	OnSearch func(elapsed time.Duration, results int, err error)
}

// Store owns one collection of a Backend. It performs no client-side
// locking: write atomicity is whatever a single backend call guarantees.
type Store struct {
	backend Backend
	opts    Options
	tracer  trace.Tracer
}

// New binds a Store to opts.Collection on backend.
func New(backend Backend, opts Options) (*Store, error) {
	if opts.Collection == "" {
		return nil, kberrors.ConfigError("collection name is required", nil)
	}
	if opts.VectorSize <= 0 {
		return nil, kberrors.ConfigError(fmt.Sprintf("vector size must be positive, got %d", opts.VectorSize), nil)
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultSearchK
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{backend: backend, opts: opts, tracer: otel.Tracer(tracerName)}, nil
}

// Collection returns the collection name.
func (s *Store) Collection() string { return s.opts.Collection }

// VectorSize returns the collection's vector size.
func (s *Store) VectorSize() int { return s.opts.VectorSize }

// EnsureCollection creates the collection if absent. Safe to call repeatedly
// and from several processes.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if err := s.backend.EnsureCollection(ctx, s.opts.Collection, s.opts.VectorSize); err != nil {
		return err
	}
	s.opts.Logger.Debug("Collection ready",
		slog.String("collection", s.opts.Collection),
		slog.Int("vector_size", s.opts.VectorSize))
	return nil
}

// Upsert writes points; empty input is a no-op. Every vector must match the
// collection size.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if err := s.checkDims(p.Vector); err != nil {
			return err
		}
	}

	ctx, span := s.tracer.Start(ctx, "store.upsert",
		trace.WithAttributes(attribute.Int("store.points", len(points))))
	defer span.End()

	if err := s.backend.Upsert(ctx, s.opts.Collection, points); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// AddChunks pairs chunks with vectors, derives point IDs from
// (source, index) and upserts them.
func (s *Store) AddChunks(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return kberrors.New(kberrors.ErrCodeLengthMismatch,
			fmt.Sprintf("got %d chunks and %d vectors", len(chunks), len(vectors)), nil)
	}
	points := make([]Point, len(chunks))
	for i, ch := range chunks {
		points[i] = Point{
			ID:     PointID(ch.Source, ch.Index),
			Vector: vectors[i],
			Payload: Payload{
				Text:   ch.Text,
				Source: ch.Source,
				Index:  ch.Index,
			},
		}
	}
	return s.Upsert(ctx, points)
}

// Search returns up to k points by descending cosine similarity to vector.
// k <= 0 uses the configured default. An empty collection yields an empty
// slice.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = s.opts.DefaultK
	}
	if err := s.checkDims(vector); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "store.search",
		trace.WithAttributes(attribute.Int("store.k", k)))
	defer span.End()

	started := time.Now()
	results, err := s.backend.Search(ctx, s.opts.Collection, vector, k)
	if s.opts.OnSearch != nil {
		s.opts.OnSearch(time.Since(started), len(results), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if results == nil {
		results = []SearchResult{}
	}
	span.SetAttributes(attribute.Int("store.results", len(results)))
	return results, nil
}

// Reset deletes every point of the collection. Intended to be atomic: the
// local backends swap state only after a successful write; Qdrant applies
// the delete as one operation.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.backend.DeleteAll(ctx, s.opts.Collection); err != nil {
		return err
	}
	s.opts.Logger.Info("Collection reset", slog.String("collection", s.opts.Collection))
	return nil
}

// Count returns the number of points in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.backend.Count(ctx, s.opts.Collection)
}

// Compactor is implemented by backends whose index keeps overwritten nodes.
type Compactor interface {
	Compact(ctx context.Context, collection string) (int, error)
}

// Compact rebuilds the collection's index without overwritten nodes and
// returns how many were dropped. Backends without such nodes report 0.
func (s *Store) Compact(ctx context.Context) (int, error) {
	c, ok := s.backend.(Compactor)
	if !ok {
		return 0, nil
	}
	return c.Compact(ctx, s.opts.Collection)
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) checkDims(v []float32) error {
	if len(v) != s.opts.VectorSize {
		return kberrors.New(kberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector has %d dimensions, collection %q expects %d", len(v), s.opts.Collection, s.opts.VectorSize), nil)
	}
	return nil
}
