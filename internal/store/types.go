// Package store persists chunk embeddings as points in a vector collection
// and answers nearest-neighbor queries over them.
//
// A Store binds one collection of a Backend. Backends: Qdrant over gRPC,
// a local coder/hnsw graph persisted to disk, and an in-memory brute-force
// index. All of them rank by cosine similarity.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// DefaultSearchK is the result count when a caller passes k <= 0.
const DefaultSearchK = 5

// Payload is stored with every point and returned by searches.
type Payload struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Index  int    `json:"index"`
}

// Point is the persisted unit: ID, vector and payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// SearchResult is a point ranked against a query vector.
// Score is the cosine similarity, higher is closer.
type SearchResult struct {
	ID      uint64  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// PointID derives the point ID of chunk index of source: the first eight
// bytes of SHA-256("source:index"), big-endian. Re-indexing a file yields
// the same IDs, so upserts overwrite instead of duplicating.
func PointID(source string, index int) uint64 {
	sum := sha256.Sum256([]byte(source + ":" + strconv.Itoa(index)))
	return binary.BigEndian.Uint64(sum[:8])
}

// Backend is a vector database holding named collections.
type Backend interface {
	// EnsureCollection creates the collection with cosine distance if it is
	// absent. A concurrent create that loses the race is success.
	EnsureCollection(ctx context.Context, name string, vectorSize int) error

	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, name string, points []Point) error

	// Search returns up to limit points by descending similarity.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]SearchResult, error)

	// DeleteAll removes every point; the collection stays.
	DeleteAll(ctx context.Context, name string) error

	// Count returns the number of points.
	Count(ctx context.Context, name string) (int, error)

	// Close releases connections and files.
	Close() error
}
