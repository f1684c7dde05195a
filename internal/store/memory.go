package store

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// MemoryBackend keeps collections in process memory and searches them
// exhaustively. Nothing survives a restart.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	closed      bool
}

type memoryCollection struct {
	dims   int
	points map[uint64]Point
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memoryCollection)}
}

// EnsureCollection creates name if absent.
func (b *MemoryBackend) EnsureCollection(_ context.Context, name string, vectorSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed()
	}
	if c, ok := b.collections[name]; ok {
		return checkCollectionDims(name, c.dims, vectorSize)
	}
	b.collections[name] = &memoryCollection{dims: vectorSize, points: make(map[uint64]Point)}
	return nil
}

// Upsert stores copies of points.
func (b *MemoryBackend) Upsert(_ context.Context, name string, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.collection(name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.dims {
			return kberrors.New(kberrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("point %d has %d dimensions, expected %d", p.ID, len(p.Vector), c.dims), nil)
		}
	}
	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		c.points[p.ID] = p
	}
	return nil
}

// Search scores every point.
func (b *MemoryBackend) Search(_ context.Context, name string, vector []float32, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(c.points))
	for _, p := range c.points {
		results = append(results, SearchResult{
			ID:      p.ID,
			Score:   cosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	return topK(results, limit), nil
}

// DeleteAll swaps in an empty point map.
func (b *MemoryBackend) DeleteAll(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.collection(name)
	if err != nil {
		return err
	}
	c.points = make(map[uint64]Point)
	return nil
}

// Count returns the number of points in name.
func (b *MemoryBackend) Count(_ context.Context, name string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	return len(c.points), nil
}

// Close drops all collections.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.collections = nil
	return nil
}

// collection must be called with b.mu held.
func (b *MemoryBackend) collection(name string) (*memoryCollection, error) {
	if b.closed {
		return nil, errClosed()
	}
	c, ok := b.collections[name]
	if !ok {
		return nil, errNoCollection(name)
	}
	return c, nil
}

func errClosed() error {
	return kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "store is closed", nil).WithRetryable(false)
}

func errNoCollection(name string) error {
	return kberrors.StoreError(kberrors.ErrCodeStoreUnavailable,
		fmt.Sprintf("collection %q does not exist", name), nil).
		WithRetryable(false).
		WithSuggestion("Run an indexing job or call EnsureCollection first")
}

func checkCollectionDims(name string, have, want int) error {
	if have != want {
		return kberrors.New(kberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("collection %q has vector size %d, configured %d", name, have, want), nil).
			WithSuggestion("Reset the store after changing embedding.vector_size")
	}
	return nil
}

// cosineSimilarity returns a·b / (|a||b|), 0 when either is a zero vector.
func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// topK sorts by descending score, ties by ascending ID, and keeps limit.
func topK(results []SearchResult, limit int) []SearchResult {
	slices.SortFunc(results, func(x, y SearchResult) int {
		if c := cmp.Compare(y.Score, x.Score); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
