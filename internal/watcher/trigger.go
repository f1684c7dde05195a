package watcher

import (
	"context"
	"log/slog"
	"time"
)

// Starter starts an indexing job, returning false if one is already
// running. index.Coordinator implements it.
type Starter interface {
	Start() bool
}

// DefaultRetryInterval is how often a refused start is retried.
const DefaultRetryInterval = 5 * time.Second

// Trigger starts a job for each batch of changes. A batch that arrives
// while a job is running is remembered and retried until a job starts, so
// changes made mid-run are picked up by the next run.
type Trigger struct {
	starter Starter
	retry   time.Duration
	logger  *slog.Logger
}

// NewTrigger creates a trigger. retry <= 0 uses DefaultRetryInterval.
func NewTrigger(starter Starter, retry time.Duration, logger *slog.Logger) *Trigger {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{starter: starter, retry: retry, logger: logger}
}

// Run consumes batches until ctx is done or batches is closed.
func (t *Trigger) Run(ctx context.Context, batches <-chan []FileEvent) error {
	var (
		pending bool
		ticker  *time.Ticker
		tick    <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if !relevant(batch) {
				t.logger.Debug("Ignoring deletions, indexed chunks are kept", slog.Int("events", len(batch)))
				continue
			}
			t.logger.Info("Knowledge base changed",
				slog.Int("events", len(batch)),
				slog.String("first", batch[0].Name))
			pending = true
		case <-tick:
		}

		if !pending {
			continue
		}
		if t.starter.Start() {
			pending = false
			if ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
			}
			continue
		}
		if ticker == nil {
			t.logger.Info("Indexing busy, will retry", slog.Duration("retry", t.retry))
			ticker = time.NewTicker(t.retry)
			tick = ticker.C
		}
	}
}

// relevant reports whether batch holds anything a new run would pick up.
func relevant(batch []FileEvent) bool {
	for _, e := range batch {
		if e.Operation != OpDelete {
			return true
		}
	}
	return false
}
