package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/chunk"
	"github.com/Aman-CERP/kbindex/internal/embed"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/loader"
	"github.com/Aman-CERP/kbindex/internal/store"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
)

const testDims = 64

// gateLoader blocks every Load until release is closed and reports each
// file it entered.
type gateLoader struct {
	entered chan string
	release chan struct{}

	mu     sync.Mutex
	loaded []string
}

func newGateLoader() *gateLoader {
	return &gateLoader{entered: make(chan string, 64), release: make(chan struct{})}
}

func (g *gateLoader) Load(_ context.Context, path string) (string, error) {
	name := filepath.Base(path)
	g.entered <- name
	<-g.release
	g.mu.Lock()
	g.loaded = append(g.loaded, name)
	g.mu.Unlock()
	return "contents of " + name, nil
}

func (g *gateLoader) Loaded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.loaded...)
}

type countingLister struct {
	Lister
	calls atomic.Int32
}

func (l *countingLister) List(ctx context.Context) ([]File, error) {
	l.calls.Add(1)
	return l.Lister.List(ctx)
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) EmbedChunks(context.Context, []chunk.Chunk) ([][]float32, error) {
	return nil, f.err
}

type testEnv struct {
	dir    string
	store  *store.Store
	client *embed.Client
	coord  *Coordinator
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

// newTestEnv wires a coordinator over a temp directory, the static embedder
// and an in-memory store. mutate may replace any part of the config.
func newTestEnv(t *testing.T, loaders map[string]loader.Loader, mutate func(*Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.New(store.NewMemoryBackend(), store.Options{Collection: "kb", VectorSize: testDims})
	require.NoError(t, err)
	client := embed.NewClient(embed.NewStaticEmbedder(testDims))
	splitter, err := chunk.NewRecursiveSplitter(chunk.DefaultSize, chunk.DefaultOverlap)
	require.NoError(t, err)

	if loaders == nil {
		loaders = map[string]loader.Loader{".txt": loader.NewTextLoader()}
	}
	cfg := Config{
		Source:   NewSource(dir, "http://kb.test"),
		Loaders:  loader.NewRegistry(loaders),
		Splitter: splitter,
		Embedder: client,
		Store:    st,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	coord, err := NewCoordinator(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return &testEnv{dir: dir, store: st, client: client, coord: coord}
}

func waitJob(t *testing.T, c *Coordinator) Progress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := c.Wait(ctx)
	require.NoError(t, err)
	return p
}

func nonRepeatingLetters(n int) string {
	var sb strings.Builder
	x := uint32(2463534242)
	for i := 0; i < n; i++ {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		sb.WriteByte(byte('a' + x%26))
	}
	return sb.String()
}

func TestNewCoordinator_RequiresCollaborators(t *testing.T) {
	_, err := NewCoordinator(Config{})

	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeInternal, kberrors.GetCode(err))
}

func TestCoordinator_InitiallyIdle(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	assert.Equal(t, StateIdle, env.coord.Status())
	assert.Equal(t, Progress{State: StateIdle}, env.coord.Progress())

	p, err := env.coord.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, p.State)
}

func TestCoordinator_IndexesAllFiles(t *testing.T) {
	// Given: two text files
	env := newTestEnv(t, nil, nil)
	writeFiles(t, env.dir, map[string]string{
		"a.txt": "The refund policy allows returns within thirty days.",
		"b.txt": "Shipping takes three to five business days.",
	})

	// When: a job runs to completion
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: both files are indexed and the state is Done
	assert.Equal(t, StateDone, env.coord.Status())
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, 2, p.FilesTotal)
	assert.Equal(t, 2, p.FilesIndexed)
	assert.Equal(t, 2, p.Chunks)
	assert.False(t, p.FinishedAt.IsZero())
	assert.Empty(t, p.CurrentFile)

	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCoordinator_EndToEndPDF(t *testing.T) {
	// Given: doc.pdf whose extracted text is exactly 1200 characters
	text := nonRepeatingLetters(1200)
	pdf := loader.Func(func(context.Context, string) (string, error) { return text, nil })
	env := newTestEnv(t, map[string]loader.Loader{".pdf": pdf}, nil)
	writeFiles(t, env.dir, map[string]string{"doc.pdf": "%PDF-1.4"})

	// When: indexed with size 500 and overlap 50
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)
	require.Equal(t, StateDone, p.State)

	// Then: three chunks are stored
	assert.Equal(t, 3, p.Chunks)
	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// And: searching with chunk 1's embedding returns chunk 1
	splitter, err := chunk.NewRecursiveSplitter(500, 50)
	require.NoError(t, err)
	chunks := splitter.Split(text, "doc.pdf")
	require.Len(t, chunks, 3)

	vec, err := env.client.EmbedQuery(context.Background(), chunks[1].Text)
	require.NoError(t, err)
	results, err := env.store.Search(context.Background(), vec, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc.pdf", results[0].Payload.Source)
	assert.Equal(t, 1, results[0].Payload.Index)
	assert.Equal(t, chunks[1].Text, results[0].Payload.Text)
}

func TestCoordinator_ReindexIsIdempotent(t *testing.T) {
	// Given: a file indexed once
	env := newTestEnv(t, nil, nil)
	writeFiles(t, env.dir, map[string]string{"a.txt": "Alpha beta gamma."})
	require.True(t, env.coord.Start())
	waitJob(t, env.coord)

	// When: indexed again without changes
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: the point count is unchanged
	assert.Equal(t, StateDone, p.State)
	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCoordinator_ShrunkFileLeavesOrphan(t *testing.T) {
	// Given: a document that first yields three chunks
	text := nonRepeatingLetters(1200)
	var mu sync.Mutex
	current := text
	pdf := loader.Func(func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	})
	env := newTestEnv(t, map[string]loader.Loader{".pdf": pdf}, nil)
	writeFiles(t, env.dir, map[string]string{"doc.pdf": "%PDF-1.4"})
	require.True(t, env.coord.Start())
	require.Equal(t, 3, waitJob(t, env.coord).Chunks)

	// When: the document shrinks to two chunks and is re-indexed
	mu.Lock()
	current = text[:900]
	mu.Unlock()
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: chunk 2 of the old version is still stored
	assert.Equal(t, 2, p.Chunks)
	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCoordinator_StartWhileRunningIsNoop(t *testing.T) {
	// Given: a job blocked inside its first file
	gate := newGateLoader()
	lister := &countingLister{}
	env := newTestEnv(t, map[string]loader.Loader{".txt": gate}, func(c *Config) {
		lister.Lister = c.Source
		c.Source = lister
	})
	writeFiles(t, env.dir, map[string]string{"a.txt": "a", "b.txt": "b"})
	require.True(t, env.coord.Start())
	<-gate.entered

	// When: Start is called again
	started := env.coord.Start()

	// Then: it is refused and only one job ever ran
	assert.False(t, started)
	assert.Equal(t, StateRunning, env.coord.Status())

	close(gate.release)
	p := waitJob(t, env.coord)
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, int32(1), lister.calls.Load())
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, gate.Loaded())
}

func TestCoordinator_StopFinishesInFlightFileOnly(t *testing.T) {
	// Given: three files and a job blocked inside the first one it picked
	gate := newGateLoader()
	env := newTestEnv(t, map[string]loader.Loader{".txt": gate}, nil)
	writeFiles(t, env.dir, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})
	require.True(t, env.coord.Start())
	first := <-gate.entered

	// When: Stop is called mid-file
	env.coord.Stop()

	// Then: the state is Stopped at once
	assert.Equal(t, StateStopped, env.coord.Status())

	// And: after the file completes, no other file is processed
	close(gate.release)
	p := waitJob(t, env.coord)
	assert.Equal(t, StateStopped, p.State)
	assert.Equal(t, []string{first}, gate.Loaded())
	assert.Equal(t, 1, p.FilesIndexed)

	// And: the in-flight file was upserted completely
	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCoordinator_StopWhenIdleSetsStopped(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	env.coord.Stop()

	assert.Equal(t, StateStopped, env.coord.Status())
}

func TestCoordinator_StopAfterDoneSetsStopped(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.True(t, env.coord.Start())
	waitJob(t, env.coord)
	require.Equal(t, StateDone, env.coord.Status())

	env.coord.Stop()

	assert.Equal(t, StateStopped, env.coord.Status())
}

func TestCoordinator_RestartWaitsForStoppedJob(t *testing.T) {
	// Given: a stopped job still finishing its in-flight file
	gate := newGateLoader()
	lister := &countingLister{}
	env := newTestEnv(t, map[string]loader.Loader{".txt": gate}, func(c *Config) {
		lister.Lister = c.Source
		c.Source = lister
	})
	writeFiles(t, env.dir, map[string]string{"a.txt": "a", "b.txt": "b"})
	require.True(t, env.coord.Start())
	<-gate.entered
	env.coord.Stop()

	// When: a new job is started
	require.True(t, env.coord.Start())
	assert.Equal(t, StateRunning, env.coord.Status())

	// Then: it does not begin until the old one exits
	assert.Never(t, func() bool { return lister.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	close(gate.release)
	p := waitJob(t, env.coord)
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, int32(2), lister.calls.Load())
	assert.Equal(t, 2, p.FilesIndexed)
}

func TestCoordinator_EmbeddingFailureFailsJob(t *testing.T) {
	// Given: an embedder that always fails
	boom := kberrors.EmbeddingError("backend returned 500", nil)
	env := newTestEnv(t, nil, func(c *Config) { c.Embedder = failingEmbedder{err: boom} })
	writeFiles(t, env.dir, map[string]string{"a.txt": "a", "b.txt": "b"})

	// When: the job runs
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: it ends Failed with the error kept, after the first file
	assert.Equal(t, StateFailed, p.State)
	assert.Equal(t, StateFailed, env.coord.Status())
	assert.ErrorIs(t, env.coord.Err(), boom)
	assert.Contains(t, p.LastError, "backend returned 500")
	assert.Equal(t, 0, p.FilesIndexed)
	assert.Equal(t, 1, p.FilesSkipped)

	// And: a new job may be started
	assert.True(t, env.coord.Start())
	waitJob(t, env.coord)
}

func TestCoordinator_StoreFailureFailsJob(t *testing.T) {
	// Given: a store whose collection has a different vector size
	env := newTestEnv(t, nil, nil)
	small, err := store.New(store.NewMemoryBackend(), store.Options{Collection: "kb", VectorSize: 8})
	require.NoError(t, err)
	env.coord.cfg.Store = small
	writeFiles(t, env.dir, map[string]string{"a.txt": "alpha"})

	// When: the job embeds 64-dim vectors into an 8-dim collection
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: the job fails with the store's code
	assert.Equal(t, StateFailed, p.State)
	assert.Equal(t, kberrors.ErrCodeDimensionMismatch, kberrors.GetCode(env.coord.Err()))
}

func TestCoordinator_LoaderFailureSkipsFile(t *testing.T) {
	// Given: one file whose loader fails between two good ones
	broken := loader.Func(func(_ context.Context, path string) (string, error) {
		return "", kberrors.ExtractionError(path, errors.New("corrupt xref table"))
	})
	env := newTestEnv(t, map[string]loader.Loader{
		".txt": loader.NewTextLoader(),
		".pdf": broken,
	}, nil)
	writeFiles(t, env.dir, map[string]string{"a.txt": "alpha", "b.pdf": "junk", "c.txt": "gamma"})

	// When: the job runs
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: the job is Done with the broken file skipped
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, 3, p.FilesTotal)
	assert.Equal(t, 2, p.FilesIndexed)
	assert.Equal(t, 1, p.FilesSkipped)
	assert.Empty(t, p.LastError)
}

func TestCoordinator_SkipsUnsupportedAndOversizedFiles(t *testing.T) {
	// Given: an unsupported file and one over the size limit
	env := newTestEnv(t, nil, func(c *Config) { c.MaxFileSize = 16 })
	writeFiles(t, env.dir, map[string]string{
		"image.png": "binary",
		"big.txt":   strings.Repeat("x", 64),
		"ok.txt":    "small",
	})

	// When: the job runs
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: only the small text file is indexed
	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, 1, p.FilesIndexed)
	assert.Equal(t, 2, p.FilesSkipped)
}

func TestCoordinator_EmptyTextIsSkipped(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	writeFiles(t, env.dir, map[string]string{"blank.txt": "  \n\n  "})

	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, 0, p.FilesIndexed)
	assert.Equal(t, 1, p.FilesSkipped)
}

func TestCoordinator_ZeroFilesReachesDone(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"empty directory", func(t *testing.T) string { return t.TempDir() }},
		{"missing directory", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a knowledge base with no files
			env := newTestEnv(t, nil, func(c *Config) { c.Source = NewSource(tt.dir(t), "") })

			// When: the job runs
			require.True(t, env.coord.Start())
			p := waitJob(t, env.coord)

			// Then: Done is still reached
			assert.Equal(t, StateDone, p.State)
			assert.Equal(t, 0, p.FilesTotal)
			assert.Nil(t, env.coord.Err())
		})
	}
}

func TestCoordinator_LockHeldFailsJob(t *testing.T) {
	// Given: the data directory locked by someone else
	dataDir := t.TempDir()
	other := NewDirLock(dataDir)
	require.NoError(t, other.TryLock())
	defer other.Unlock()

	env := newTestEnv(t, nil, func(c *Config) { c.Lock = NewDirLock(dataDir) })

	// When: the job runs
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: it fails with the lock error
	assert.Equal(t, StateFailed, p.State)
	assert.Equal(t, kberrors.ErrCodeIndexLocked, kberrors.GetCode(env.coord.Err()))
}

func TestCoordinator_LockReleasedAfterJob(t *testing.T) {
	dataDir := t.TempDir()
	env := newTestEnv(t, nil, func(c *Config) { c.Lock = NewDirLock(dataDir) })

	require.True(t, env.coord.Start())
	waitJob(t, env.coord)

	other := NewDirLock(dataDir)
	require.NoError(t, other.TryLock())
	assert.NoError(t, other.Unlock())
}

func TestCoordinator_RecordsRunsAndMetrics(t *testing.T) {
	// Given: a coordinator with a ledger and metrics
	ledger, err := telemetry.OpenRunLedger(filepath.Join(t.TempDir(), "kbindex.db"))
	require.NoError(t, err)
	defer ledger.Close()
	metrics := telemetry.NewMetrics()
	env := newTestEnv(t, nil, func(c *Config) {
		c.Ledger = ledger
		c.Metrics = metrics
	})
	writeFiles(t, env.dir, map[string]string{"a.txt": "alpha", "b.png": "x"})

	// When: a job completes
	require.True(t, env.coord.Start())
	p := waitJob(t, env.coord)

	// Then: the run is in the ledger
	runs, err := ledger.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, p.RunID, runs[0].ID)
	assert.Equal(t, string(StateDone), runs[0].State)
	assert.Equal(t, 1, runs[0].FilesIndexed)
	assert.Equal(t, 1, runs[0].FilesSkipped)
}

func TestCoordinator_StatusNeverBlocksDuringJob(t *testing.T) {
	gate := newGateLoader()
	env := newTestEnv(t, map[string]loader.Loader{".txt": gate}, nil)
	writeFiles(t, env.dir, map[string]string{"a.txt": "a"})
	require.True(t, env.coord.Start())
	<-gate.entered

	p := env.coord.Progress()
	assert.Equal(t, StateRunning, p.State)
	assert.Equal(t, "a.txt", p.CurrentFile)
	assert.Equal(t, 1, p.FilesTotal)

	close(gate.release)
	waitJob(t, env.coord)
}

func TestCoordinator_WaitHonoursContext(t *testing.T) {
	gate := newGateLoader()
	env := newTestEnv(t, map[string]loader.Loader{".txt": gate}, nil)
	writeFiles(t, env.dir, map[string]string{"a.txt": "a"})
	require.True(t, env.coord.Start())
	<-gate.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.coord.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(gate.release)
	waitJob(t, env.coord)
}
