// Package telemetry holds the process's observability: prometheus
// collectors, OpenTelemetry tracing, the SQLite run ledger and local search
// query statistics. Nothing here reports to an external service unless an
// OTLP endpoint is configured.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a search latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search as seen by a consumer surface.
type QueryEvent struct {
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest one when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
		return result
	}
	n := copy(result, b.items[b.head:])
	copy(result[n:], b.items[:b.head])
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and returns its words of 3+ bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QuerySnapshot is a point-in-time copy of the query statistics.
type QuerySnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	TopTerms            []TermCount             `json:"top_terms"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of searches that found nothing.
func (s QuerySnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryStatsStore persists flushed query aggregates atomically.
// RunLedger implements it.
type QueryStatsStore interface {
	SaveQueryDelta(ctx context.Context, delta QueryDelta) error
}

// QueryDelta is what was recorded between two flushes.
type QueryDelta struct {
	Date        string
	Latency     map[LatencyBucket]int64
	Terms       map[string]int64
	ZeroResults []ZeroResultQuery
}

// Empty reports whether the delta carries nothing.
func (d QueryDelta) Empty() bool {
	return len(d.Latency) == 0 && len(d.Terms) == 0 && len(d.ZeroResults) == 0
}

// ZeroResultQuery is a search that returned nothing.
type ZeroResultQuery struct {
	Query     string
	Timestamp time.Time
}

// QueryStatsConfig sizes the in-memory aggregates.
type QueryStatsConfig struct {
	TopTermsCapacity      int // default 100
	ZeroResultsCapacity   int // default 100
	RecentQueriesCapacity int // default 500
}

// DefaultQueryStatsConfig returns the default capacities.
func DefaultQueryStatsConfig() QueryStatsConfig {
	return QueryStatsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// QueryStats aggregates search queries in memory. Safe for concurrent use.
//
// Flush writes only what was recorded since the previous flush, so the
// persisted counters can be summed across process restarts.
type QueryStats struct {
	mu sync.Mutex

	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64

	pendingLatency map[LatencyBucket]int64
	pendingTerms   map[string]int64
	pendingZero    []ZeroResultQuery

	store QueryStatsStore
}

// NewQueryStats creates a collector. store may be nil for memory-only stats.
func NewQueryStats(store QueryStatsStore, cfg QueryStatsConfig) *QueryStats {
	def := DefaultQueryStatsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryStats{
		topTerms:       topTerms,
		zeroResults:    NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:      make(map[LatencyBucket]int64),
		startTime:      time.Now(),
		recentQueries:  recent,
		pendingLatency: make(map[LatencyBucket]int64),
		pendingTerms:   make(map[string]int64),
		store:          store,
	}
}

// Record adds one search. A nil receiver is a no-op.
func (q *QueryStats) Record(event QueryEvent) {
	if q == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := q.topTerms.Get(term)
		q.topTerms.Add(term, count+1)
		q.pendingTerms[term]++
	}

	if event.ResultCount == 0 {
		q.zeroResults.Add(event.Query)
		q.zeroResultCount++
		q.pendingZero = append(q.pendingZero, ZeroResultQuery{Query: event.Query, Timestamp: event.Timestamp})
	}

	bucket := LatencyToBucket(event.Latency)
	q.latencies[bucket]++
	q.pendingLatency[bucket]++

	key := hashQuery(event.Query)
	if _, seen := q.recentQueries.Get(key); seen {
		q.exactRepeatCount++
	}
	q.recentQueries.Add(key, struct{}{})
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the current aggregates, top terms by count descending.
func (q *QueryStats) Snapshot() QuerySnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	terms := make([]TermCount, 0, q.topTerms.Len())
	for _, key := range q.topTerms.Keys() {
		if count, ok := q.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(q.latencies))
	for k, v := range q.latencies {
		latencies[k] = v
	}

	var repeatRate float64
	if q.totalQueries > 0 {
		repeatRate = float64(q.exactRepeatCount) / float64(q.totalQueries)
	}

	return QuerySnapshot{
		TotalQueries:        q.totalQueries,
		ZeroResultCount:     q.zeroResultCount,
		ZeroResultQueries:   q.zeroResults.Items(),
		TopTerms:            terms,
		LatencyDistribution: latencies,
		ExactRepeatCount:    q.exactRepeatCount,
		ExactRepeatRate:     repeatRate,
		Since:               q.startTime,
	}
}

// Flush writes the aggregates recorded since the last flush to the store.
// On error the delta is kept for the next attempt.
func (q *QueryStats) Flush(ctx context.Context) error {
	if q == nil || q.store == nil {
		return nil
	}

	q.mu.Lock()
	delta := QueryDelta{
		Date:        time.Now().Format(time.DateOnly),
		Latency:     q.pendingLatency,
		Terms:       q.pendingTerms,
		ZeroResults: q.pendingZero,
	}
	q.pendingLatency = make(map[LatencyBucket]int64)
	q.pendingTerms = make(map[string]int64)
	q.pendingZero = nil
	q.mu.Unlock()

	if delta.Empty() {
		return nil
	}
	if err := q.store.SaveQueryDelta(ctx, delta); err != nil {
		q.mu.Lock()
		for k, v := range delta.Latency {
			q.pendingLatency[k] += v
		}
		for k, v := range delta.Terms {
			q.pendingTerms[k] += v
		}
		q.pendingZero = append(delta.ZeroResults, q.pendingZero...)
		q.mu.Unlock()
		return err
	}
	return nil
}
