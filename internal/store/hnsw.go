package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// HNSWBackend keeps each collection in a coder/hnsw graph and, when dir is
// set, persists it as <dir>/<collection>.hnsw plus a .meta file holding
// payloads and ID mappings.
//
// Graph keys are internal. Overwriting a point maps its ID to a fresh key and
// orphans the old node, because coder/hnsw misbehaves when the last node of a
// layer is deleted. Once orphans outnumber live points the graph is rebuilt
// from the live entries.
type HNSWBackend struct {
	dir    string
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*hnswCollection
	closed      bool
}

type hnswCollection struct {
	graph   *hnsw.Graph[uint64]
	dims    int
	keyOf   map[uint64]uint64    // point ID -> graph key
	entries map[uint64]hnswEntry // graph key -> live point
	nextKey uint64
}

type hnswEntry struct {
	ID      uint64
	Payload Payload
}

// hnswMetadata is the gob-encoded .meta file.
type hnswMetadata struct {
	Dims    int
	Entries map[uint64]hnswEntry
	NextKey uint64
}

var (
	_ Backend   = (*HNSWBackend)(nil)
	_ Compactor = (*HNSWBackend)(nil)
)

// minCompactOrphans keeps small collections from being rebuilt on every write.
const minCompactOrphans = 64

func (c *hnswCollection) orphans() int {
	return c.graph.Len() - len(c.entries)
}

func (c *hnswCollection) needsCompaction() bool {
	n := c.orphans()
	return n >= minCompactOrphans && n > len(c.entries)
}

// compacted returns a copy of c whose graph holds only live nodes. Keys
// continue after c.nextKey so metadata from before the rebuild can never
// name a node of the new graph. c is left untouched.
func (c *hnswCollection) compacted() *hnswCollection {
	keys := make([]uint64, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	fresh := newHNSWCollection(c.dims)
	fresh.nextKey = c.nextKey
	nodes := make([]hnsw.Node[uint64], 0, len(keys))
	for _, old := range keys {
		vec, ok := c.graph.Lookup(old)
		if !ok {
			// entry without a node cannot be searched; drop it
			continue
		}
		key := fresh.nextKey
		fresh.nextKey++
		e := c.entries[old]
		nodes = append(nodes, hnsw.MakeNode(key, vec))
		fresh.entries[key] = e
		fresh.keyOf[e.ID] = key
	}
	if len(nodes) > 0 {
		fresh.graph.Add(nodes...)
	}
	return fresh
}

// hnswUndo restores one overwritten mapping after a failed write.
type hnswUndo struct {
	id      uint64
	newKey  uint64
	oldKey  uint64
	hadOld  bool
	oldItem hnswEntry
}

// NewHNSWBackend creates a backend persisting under dir. An empty dir keeps
// everything in memory.
func NewHNSWBackend(dir string, logger *slog.Logger) (*HNSWBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kberrors.StoreError(kberrors.ErrCodeStoreUnavailable,
				fmt.Sprintf("create vector directory %s", dir), err).WithRetryable(false)
		}
	}
	return &HNSWBackend{
		dir:         dir,
		logger:      logger,
		collections: make(map[string]*hnswCollection),
	}, nil
}

func newHNSWCollection(dims int) *hnswCollection {
	return &hnswCollection{
		graph:   newGraph(),
		dims:    dims,
		keyOf:   make(map[uint64]uint64),
		entries: make(map[uint64]hnswEntry),
	}
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// EnsureCollection loads name from disk or creates it.
func (b *HNSWBackend) EnsureCollection(_ context.Context, name string, vectorSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed()
	}
	if c, ok := b.collections[name]; ok {
		return checkCollectionDims(name, c.dims, vectorSize)
	}

	c, err := b.load(name)
	if err != nil {
		return err
	}
	if c == nil {
		c = newHNSWCollection(vectorSize)
		if err := b.save(name, c); err != nil {
			return err
		}
	} else if err := checkCollectionDims(name, c.dims, vectorSize); err != nil {
		return err
	} else if c.needsCompaction() {
		fresh := c.compacted()
		if err := b.save(name, fresh); err != nil {
			b.logger.Warn("Failed to compact vector index",
				slog.String("collection", name),
				slog.String("error", err.Error()))
		} else {
			c = fresh
		}
	}
	b.collections[name] = c
	return nil
}

// Upsert adds the points and persists the collection, compacting it when
// orphans outnumber live points. If the write fails the live entries are
// rolled back; nodes already added stay behind as orphans.
func (b *HNSWBackend) Upsert(_ context.Context, name string, points []Point) error {
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

	undo := make([]hnswUndo, 0, len(points))
	for _, p := range points {
		u := hnswUndo{id: p.ID, newKey: c.nextKey}
		if old, ok := c.keyOf[p.ID]; ok {
			u.oldKey, u.hadOld, u.oldItem = old, true, c.entries[old]
			delete(c.entries, old)
		}
		c.nextKey++

		vec := slices.Clone(p.Vector)
		normalizeInPlace(vec)
		c.graph.Add(hnsw.MakeNode(u.newKey, vec))
		c.keyOf[p.ID] = u.newKey
		c.entries[u.newKey] = hnswEntry{ID: p.ID, Payload: p.Payload}
		undo = append(undo, u)
	}

	next := c
	if c.needsCompaction() {
		next = c.compacted()
	}
	if err := b.save(name, next); err != nil {
		c.rollback(undo)
		return kberrors.StoreError(kberrors.ErrCodeUpsertFailed, "persist vector index", err)
	}
	if next != c {
		b.logger.Debug("Compacted vector index",
			slog.String("collection", name),
			slog.Int("removed", c.orphans()),
			slog.Int("points", len(next.entries)))
		b.collections[name] = next
	}
	return nil
}

func (c *hnswCollection) rollback(undo []hnswUndo) {
	for i := len(undo) - 1; i >= 0; i-- {
		u := undo[i]
		delete(c.entries, u.newKey)
		if u.hadOld {
			c.entries[u.oldKey] = u.oldItem
			c.keyOf[u.id] = u.oldKey
		} else {
			delete(c.keyOf, u.id)
		}
	}
}

// Compact rebuilds name's graph from its live points and returns how many
// orphaned nodes were dropped.
func (b *HNSWBackend) Compact(_ context.Context, name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	removed := c.orphans()
	if removed == 0 {
		return 0, nil
	}
	fresh := c.compacted()
	if err := b.save(name, fresh); err != nil {
		return 0, kberrors.StoreError(kberrors.ErrCodeUpsertFailed, "persist compacted vector index", err)
	}
	b.collections[name] = fresh
	return removed, nil
}

// Search queries the graph, widening the candidate set by the number of
// orphaned nodes so overwritten points do not crowd out live ones.
func (b *HNSWBackend) Search(_ context.Context, name string, vector []float32, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	if len(c.entries) == 0 || c.graph.Len() == 0 {
		return []SearchResult{}, nil
	}

	query := slices.Clone(vector)
	normalizeInPlace(query)

	orphans := c.orphans()
	want := min(limit+orphans, c.graph.Len())
	nodes := c.graph.Search(query, want)

	results := make([]SearchResult, 0, min(limit, len(nodes)))
	for _, node := range nodes {
		entry, ok := c.entries[node.Key]
		if !ok {
			continue
		}
		results = append(results, SearchResult{
			ID:      entry.ID,
			Score:   1 - hnsw.CosineDistance(query, node.Value),
			Payload: entry.Payload,
		})
	}
	return topK(results, limit), nil
}

// DeleteAll replaces the collection with an empty one. The old state is kept
// if the empty index cannot be written.
func (b *HNSWBackend) DeleteAll(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.collection(name)
	if err != nil {
		return err
	}
	fresh := newHNSWCollection(c.dims)
	if err := b.save(name, fresh); err != nil {
		return kberrors.StoreError(kberrors.ErrCodeResetFailed, "persist empty vector index", err)
	}
	b.collections[name] = fresh
	return nil
}

// Count returns the number of live points.
func (b *HNSWBackend) Count(_ context.Context, name string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	return len(c.entries), nil
}

// Orphans returns the number of overwritten nodes still in name's graph.
func (b *HNSWBackend) Orphans(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return 0
	}
	return c.orphans()
}

// Close drops the in-memory graphs. Everything is already on disk.
func (b *HNSWBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.collections = nil
	return nil
}

func (b *HNSWBackend) collection(name string) (*hnswCollection, error) {
	if b.closed {
		return nil, errClosed()
	}
	c, ok := b.collections[name]
	if !ok {
		return nil, errNoCollection(name)
	}
	return c, nil
}

func (b *HNSWBackend) paths(name string) (graphPath, metaPath string) {
	graphPath = filepath.Join(b.dir, name+".hnsw")
	return graphPath, graphPath + ".meta"
}

// save writes graph and metadata through temp files and renames. An empty
// graph is stored as a missing graph file.
func (b *HNSWBackend) save(name string, c *hnswCollection) error {
	if b.dir == "" {
		return nil
	}
	graphPath, metaPath := b.paths(name)

	if c.graph.Len() == 0 {
		if err := os.Remove(graphPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove graph file: %w", err)
		}
	} else if err := writeAtomic(graphPath, func(f *os.File) error { return c.graph.Export(f) }); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	meta := hnswMetadata{Dims: c.dims, Entries: c.entries, NextKey: c.nextKey}
	if err := writeAtomic(metaPath, func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return nil
}

// load reads name from disk; (nil, nil) means it was never saved.
func (b *HNSWBackend) load(name string) (*hnswCollection, error) {
	if b.dir == "" {
		return nil, nil
	}
	graphPath, metaPath := b.paths(name)

	mf, err := os.Open(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "open vector metadata", err).WithRetryable(false)
	}
	defer func() {
		if err := mf.Close(); err != nil {
			b.logger.Warn("Failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return nil, kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "decode vector metadata", err).WithRetryable(false)
	}

	c := newHNSWCollection(meta.Dims)
	c.nextKey = meta.NextKey
	if meta.Entries != nil {
		c.entries = meta.Entries
	}
	for key, e := range c.entries {
		c.keyOf[e.ID] = key
	}

	gf, err := os.Open(graphPath)
	if errors.Is(err, os.ErrNotExist) {
		c.dropDangling(name, b.logger)
		return c, nil
	}
	if err != nil {
		return nil, kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "open vector index", err).WithRetryable(false)
	}
	defer func() { _ = gf.Close() }()

	// Import needs an io.ByteReader.
	if err := c.graph.Import(bufio.NewReader(gf)); err != nil {
		return nil, kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "import vector index", err).WithRetryable(false)
	}
	c.dropDangling(name, b.logger)
	b.logger.Debug("Loaded vector index",
		slog.String("collection", name),
		slog.Int("points", len(c.entries)),
		slog.Int("nodes", c.graph.Len()))
	return c, nil
}

// dropDangling removes entries whose node is missing from the graph, left by
// a write that stored the graph but not its metadata.
func (c *hnswCollection) dropDangling(name string, logger *slog.Logger) {
	var dropped int
	for key, e := range c.entries {
		if _, ok := c.graph.Lookup(key); ok {
			continue
		}
		delete(c.entries, key)
		if c.keyOf[e.ID] == key {
			delete(c.keyOf, e.ID)
		}
		dropped++
	}
	if dropped > 0 {
		logger.Warn("Dropped vector entries missing from the index; re-index to restore them",
			slog.String("collection", name),
			slog.Int("dropped", dropped))
	}
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
