package index

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aman-CERP/kbindex/internal/chunk"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/loader"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
)

const tracerName = "github.com/Aman-CERP/kbindex/internal/index"

// DefaultMaxFileSize is the largest file the job will load (100MB).
// Larger files are skipped to bound memory use.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// ChunkEmbedder turns chunks into vectors, one per chunk, in order.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error)
}

// ChunkWriter persists embedded chunks.
type ChunkWriter interface {
	EnsureCollection(ctx context.Context) error
	AddChunks(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error
}

// Config wires a Coordinator.
type Config struct {
	Source   Lister
	Loaders  *loader.Registry
	Splitter chunk.Splitter
	Embedder ChunkEmbedder
	Store    ChunkWriter

	// Lock, when set, is held for the duration of each job.
	Lock *DirLock
	// MaxFileSize defaults to DefaultMaxFileSize.
	MaxFileSize int64

	Metrics *telemetry.Metrics
	Ledger  *telemetry.RunLedger
	Logger  *slog.Logger
}

// Coordinator owns the indexing job state machine:
//
//	Idle -> Running -> Done | Stopped | Failed -> Running ...
//
// Start never blocks and is a no-op while Running. Stop sets Stopped at
// once; the job notices between files, so the file in flight is finished
// (extracted, embedded and upserted) or fails as a whole.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	track   *tracker
	lastErr error
}

// NewCoordinator creates a coordinator in the Idle state.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Source == nil:
		return nil, kberrors.InternalError("coordinator needs a source", nil)
	case cfg.Loaders == nil:
		return nil, kberrors.InternalError("coordinator needs a loader registry", nil)
	case cfg.Splitter == nil:
		return nil, kberrors.InternalError("coordinator needs a splitter", nil)
	case cfg.Embedder == nil:
		return nil, kberrors.InternalError("coordinator needs an embedder", nil)
	case cfg.Store == nil:
		return nil, kberrors.InternalError("coordinator needs a store", nil)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		state:  StateIdle,
	}, nil
}

// Start launches a job in the background and returns true, or returns false
// without doing anything if a job is Running. A job started while a stopped
// one is still finishing its last file waits for it, so at most one job
// executes at any time.
func (c *Coordinator) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		c.logger.Warn("Indexing already running, ignoring start request")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	t := newTracker(strconv.FormatInt(now.UnixNano(), 36), now)

	prev := c.done
	done := make(chan struct{})
	c.gen++
	c.cancel = cancel
	c.done = done
	c.track = t
	c.state = StateRunning
	c.lastErr = nil

	go c.run(ctx, cancel, c.gen, t, prev, done)
	c.logger.Info("Indexing started", slog.String("run_id", t.runID))
	return true
}

// Stop requests cancellation and sets the state to Stopped immediately,
// whether or not a job is running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	prev := c.state
	if c.cancel != nil {
		c.cancel()
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info("Indexing stop requested", slog.String("previous_state", string(prev)))
}

// Status returns the current state.
func (c *Coordinator) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns a snapshot of the current or last job.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	state, t := c.state, c.track
	c.mu.Unlock()
	if t == nil {
		return Progress{State: state}
	}
	return t.snapshot(state)
}

// Err returns the error that failed the last job, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Wait blocks until the most recently started job has exited, then returns
// its progress. It returns immediately when no job was ever started.
func (c *Coordinator) Wait(ctx context.Context) (Progress, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.Progress(), ctx.Err()
		}
	}
	return c.Progress(), nil
}

// Shutdown stops a running job and waits for it to exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.Status() == StateRunning {
		c.Stop()
	}
	_, err := c.Wait(ctx)
	return err
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, gen uint64, t *tracker, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer cancel()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			c.finish(gen, t, ctx.Err())
			return
		}
	}
	c.finish(gen, t, c.execute(ctx, t))
}

// execute is the job body. It returns nil when every file was visited,
// context.Canceled when stopped, and the fatal error otherwise.
func (c *Coordinator) execute(ctx context.Context, t *tracker) error {
	ctx, span := c.tracer.Start(ctx, "index.run", trace.WithAttributes(attribute.String("run_id", t.runID)))
	defer span.End()

	if c.cfg.Lock != nil {
		if err := c.cfg.Lock.TryLock(); err != nil {
			return err
		}
		defer func() {
			if err := c.cfg.Lock.Unlock(); err != nil {
				c.logger.Warn("Failed to release index lock", slog.String("error", err.Error()))
			}
		}()
	}

	if err := c.cfg.Store.EnsureCollection(ctx); err != nil {
		return err
	}

	files, err := c.cfg.Source.List(ctx)
	switch {
	case kberrors.GetCode(err) == kberrors.ErrCodeKBDirMissing:
		c.logger.Warn("Knowledge base directory missing, nothing to index", kberrors.LogAttrs(err)...)
		files = nil
	case err != nil:
		return err
	}
	t.setTotal(len(files))
	span.SetAttributes(attribute.Int("files", len(files)))
	if len(files) == 0 {
		c.logger.Warn("No files found to index")
	}

	var indexed int
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			c.logger.Info("Indexing cancelled before file", slog.String("file", f.Name))
			return err
		}
		outcome, err := c.processFile(context.WithoutCancel(ctx), t, f)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if outcome == OutcomeIndexed {
			indexed++
		}
	}

	if len(files) > 0 && indexed == 0 {
		c.logger.Warn("No files were indexed", slog.Int("files", len(files)))
	}
	return nil
}

// processFile runs one file through load, split, embed and upsert. Only
// errors that must end the job are returned; per-file problems are logged
// and reported as an outcome.
func (c *Coordinator) processFile(ctx context.Context, t *tracker, f File) (FileOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "index.file", trace.WithAttributes(attribute.String("file", f.Name)))
	defer span.End()

	started := time.Now()
	t.setCurrent(f.Name)
	outcome, chunks, err := c.indexFile(ctx, f)
	t.fileDone(outcome, chunks)
	c.cfg.Metrics.ObserveFile(string(outcome), chunks, time.Since(started))

	span.SetAttributes(attribute.String("outcome", string(outcome)), attribute.Int("chunks", chunks))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (c *Coordinator) indexFile(ctx context.Context, f File) (FileOutcome, int, error) {
	log := c.logger.With(slog.String("file", f.Name))

	if f.Size > c.cfg.MaxFileSize {
		log.Warn("Skipping file over size limit",
			slog.Int64("size", f.Size),
			slog.Int64("limit", c.cfg.MaxFileSize))
		return OutcomeTooLarge, 0, nil
	}

	l := c.cfg.Loaders.Resolve(f.Path)
	if l == nil {
		log.Warn("Unsupported file type, skipping")
		return OutcomeUnsupported, 0, nil
	}

	log.Info("Processing file")
	text, err := l.Load(ctx, f.Path)
	if err != nil {
		log.Warn("Failed to load file, skipping", kberrors.LogAttrs(err)...)
		return OutcomeLoadFailed, 0, nil
	}

	chunks := c.cfg.Splitter.Split(text, f.Name)
	if len(chunks) == 0 {
		log.Info("No text extracted")
		return OutcomeEmpty, 0, nil
	}

	vectors, err := c.cfg.Embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	if err := c.cfg.Store.AddChunks(ctx, chunks, vectors); err != nil {
		return OutcomeFailed, 0, err
	}

	log.Info("Indexed file", slog.Int("chunks", len(chunks)))
	return OutcomeIndexed, len(chunks), nil
}

// finish records the job's end. A stop request always wins: the job never
// overwrites Stopped. A job superseded by a newer Start leaves state alone.
func (c *Coordinator) finish(gen uint64, t *tracker, err error) {
	final := StateDone
	switch {
	case errors.Is(err, context.Canceled):
		final, err = StateStopped, nil
	case err != nil:
		final = StateFailed
	}

	c.mu.Lock()
	if c.gen == gen {
		if c.state == StateStopped {
			final = StateStopped
		}
		c.state = final
		c.lastErr = err
	}
	t.finish(time.Now(), err)
	c.mu.Unlock()

	p := t.snapshot(final)
	attrs := []any{
		slog.String("run_id", p.RunID),
		slog.String("state", string(final)),
		slog.Int("files", p.FilesTotal),
		slog.Int("indexed", p.FilesIndexed),
		slog.Int("skipped", p.FilesSkipped),
		slog.Int("chunks", p.Chunks),
		slog.Duration("elapsed", p.Elapsed()),
	}
	if err != nil {
		c.logger.Error("Indexing failed", append(attrs, kberrors.LogAttrs(err)...)...)
	} else {
		c.logger.Info("Indexing finished", attrs...)
	}

	c.cfg.Metrics.ObserveRun(string(final), p.Elapsed())
	if c.cfg.Ledger != nil {
		rec := telemetry.RunRecord{
			ID:           p.RunID,
			State:        string(final),
			StartedAt:    p.StartedAt,
			FinishedAt:   p.FinishedAt,
			FilesTotal:   p.FilesTotal,
			FilesIndexed: p.FilesIndexed,
			FilesSkipped: p.FilesSkipped,
			Chunks:       p.Chunks,
			Error:        p.LastError,
		}
		if lerr := c.cfg.Ledger.Record(context.Background(), rec); lerr != nil {
			c.logger.Warn("Failed to record indexing run", slog.String("error", lerr.Error()))
		}
	}
}
