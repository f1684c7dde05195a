package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// PollingWatcher detects changes by periodically listing the directory.
// Used where fsnotify is unavailable (network mounts, some containers).
type PollingWatcher struct {
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	dir       string
	fileState map[string]fileSnapshot
	events    chan FileEvent
	errors    chan error
	ready     chan struct{}
	stopCh    chan struct{}
	stopped   bool
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration, logger *slog.Logger) *PollingWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		interval:  interval,
		logger:    logger,
		fileState: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		ready:     make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Start records a baseline of dir and then polls until ctx is done or Stop
// is called.
func (p *PollingWatcher) Start(ctx context.Context, dir string) error {
	p.mu.Lock()
	p.dir = dir
	state, err := snapshotDir(dir)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.fileState = state
	p.mu.Unlock()
	close(p.ready)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Ready is closed once the baseline scan is done.
func (p *PollingWatcher) Ready() <-chan struct{} { return p.ready }

// Stop stops the watcher. Safe to call multiple times.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent { return p.events }

// Errors returns the channel of scan errors.
func (p *PollingWatcher) Errors() <-chan error { return p.errors }

// snapshotDir lists the visible regular files directly inside dir.
func snapshotDir(dir string) (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	state := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if hidden(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		state[e.Name()] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return state, nil
}

func (p *PollingWatcher) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := snapshotDir(p.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("scan directory for changes: %w", err)
	}

	now := time.Now()
	for name, snap := range current {
		prev, exists := p.fileState[name]
		switch {
		case !exists:
			p.emit(FileEvent{Name: name, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			p.emit(FileEvent{Name: name, Operation: OpModify, Timestamp: now})
		}
	}
	for name := range p.fileState {
		if _, exists := current[name]; !exists {
			p.emit(FileEvent{Name: name, Operation: OpDelete, Timestamp: now})
		}
	}
	p.fileState = current
	return nil
}

// emit must be called with the lock held.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		p.logger.Warn("Polling watcher buffer full, dropping event",
			slog.String("file", event.Name),
			slog.String("op", event.Operation.String()))
	}
}
