package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *RunLedger {
	t.Helper()

	ledger, err := OpenRunLedger(filepath.Join(t.TempDir(), "data", "kbindex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestRunLedger_RecordAndRecent(t *testing.T) {
	// Given: a ledger with two runs
	ctx := context.Background()
	ledger := openTestLedger(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := RunRecord{ID: "a", State: "done", StartedAt: base, FinishedAt: base.Add(time.Minute), FilesTotal: 3, FilesIndexed: 2, FilesSkipped: 1, Chunks: 9}
	second := RunRecord{ID: "b", State: "failed", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Second), Error: "store down"}
	require.NoError(t, ledger.Record(ctx, first))
	require.NoError(t, ledger.Record(ctx, second))

	// When: the recent runs are read
	runs, err := ledger.RecentRuns(ctx, 10)

	// Then: newest first with every field preserved
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0])
	assert.Equal(t, first, runs[1])
}

func TestRunLedger_RecordUpserts(t *testing.T) {
	ctx := context.Background()
	ledger := openTestLedger(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, RunRecord{ID: "a", State: "running", StartedAt: started}))
	require.NoError(t, ledger.Record(ctx, RunRecord{ID: "a", State: "stopped", StartedAt: started, FinishedAt: started.Add(time.Second), Chunks: 4}))

	runs, err := ledger.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "stopped", runs[0].State)
	assert.Equal(t, 4, runs[0].Chunks)
}

func TestRunLedger_RecentOrdersSubSecondTimes(t *testing.T) {
	// Given: runs started within the same second
	ctx := context.Background()
	ledger := openTestLedger(t)
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, RunRecord{ID: "early", State: "done", StartedAt: base.Add(100 * time.Millisecond)}))
	require.NoError(t, ledger.Record(ctx, RunRecord{ID: "late", State: "done", StartedAt: base.Add(120 * time.Millisecond)}))

	// Then: the later one is first
	runs, err := ledger.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "late", runs[0].ID)
}

func TestRunLedger_SaveQueryDeltaAccumulates(t *testing.T) {
	// Given: two deltas for the same day
	ctx := context.Background()
	ledger := openTestLedger(t)
	now := time.Now()

	require.NoError(t, ledger.SaveQueryDelta(ctx, QueryDelta{
		Date:        "2026-03-01",
		Latency:     map[LatencyBucket]int64{BucketP10: 2},
		Terms:       map[string]int64{"refund": 2, "policy": 1},
		ZeroResults: []ZeroResultQuery{{Query: "zebra", Timestamp: now}},
	}))
	require.NoError(t, ledger.SaveQueryDelta(ctx, QueryDelta{
		Date:    "2026-03-01",
		Latency: map[LatencyBucket]int64{BucketP10: 1, BucketP500: 1},
		Terms:   map[string]int64{"policy": 3},
	}))

	// Then: counts are summed
	latency, err := ledger.LatencyCounts(ctx, "2026-03-01", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latency[BucketP10])
	assert.Equal(t, int64(1), latency[BucketP500])

	terms, err := ledger.TopTerms(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "policy", Count: 4}, {Term: "refund", Count: 2}}, terms)

	zero, err := ledger.ZeroResultQueries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra"}, zero)
}

func TestRunLedger_ZeroResultQueriesTrimmed(t *testing.T) {
	// Given: more zero-result queries than the buffer holds
	ctx := context.Background()
	ledger := openTestLedger(t)
	var zs []ZeroResultQuery
	for i := 0; i < MaxZeroResultQueries+5; i++ {
		zs = append(zs, ZeroResultQuery{Query: "q" + time.Duration(i).String(), Timestamp: time.Now()})
	}

	// When: they are saved
	require.NoError(t, ledger.SaveQueryDelta(ctx, QueryDelta{Date: "2026-03-01", ZeroResults: zs}))

	// Then: only the newest are kept
	got, err := ledger.ZeroResultQueries(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, got, MaxZeroResultQueries)
	assert.Equal(t, zs[len(zs)-1].Query, got[0])
}

func TestRunLedger_QueryStatsFlush(t *testing.T) {
	// Given: query stats backed by a ledger
	ctx := context.Background()
	ledger := openTestLedger(t)
	stats := NewQueryStats(ledger, QueryStatsConfig{})
	stats.Record(QueryEvent{Query: "refund policy", ResultCount: 1})

	// When: flushed
	require.NoError(t, stats.Flush(ctx))

	// Then: the terms are persisted
	terms, err := ledger.TopTerms(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, terms, 2)
}

func TestRunLedger_Reopen(t *testing.T) {
	// Given: a run recorded then the ledger closed
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kbindex.db")
	ledger, err := OpenRunLedger(path)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(ctx, RunRecord{ID: "a", State: "done", StartedAt: time.Now()}))
	require.NoError(t, ledger.Close())

	// When: reopened
	ledger, err = OpenRunLedger(path)
	require.NoError(t, err)
	defer ledger.Close()

	// Then: the run is still there
	runs, err := ledger.RecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, path, ledger.Path())
}
