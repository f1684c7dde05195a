package index

import (
	"sync"
	"time"
)

// Progress is an immutable snapshot of the current or last job.
type Progress struct {
	RunID        string    `json:"run_id,omitempty"`
	State        State     `json:"state"`
	CurrentFile  string    `json:"current_file,omitempty"`
	FilesTotal   int       `json:"files_total"`
	FilesIndexed int       `json:"files_indexed"`
	FilesSkipped int       `json:"files_skipped"`
	Chunks       int       `json:"chunks"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}

// Elapsed returns the job's run time so far, or its total once finished.
func (p Progress) Elapsed() time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	if p.FinishedAt.IsZero() {
		return time.Since(p.StartedAt)
	}
	return p.FinishedAt.Sub(p.StartedAt)
}

// tracker holds the counters of one job; each Start gets a fresh one.
// State lives on the Coordinator; tracker only counts.
type tracker struct {
	mu sync.RWMutex

	runID        string
	currentFile  string
	filesTotal   int
	filesIndexed int
	filesSkipped int
	chunks       int
	startedAt    time.Time
	finishedAt   time.Time
	lastError    string
}

func newTracker(runID string, now time.Time) *tracker {
	return &tracker{runID: runID, startedAt: now}
}

func (t *tracker) setTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filesTotal = n
}

func (t *tracker) setCurrent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentFile = name
}

func (t *tracker) fileDone(outcome FileOutcome, chunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentFile = ""
	if outcome == OutcomeIndexed {
		t.filesIndexed++
		t.chunks += chunks
		return
	}
	t.filesSkipped++
}

func (t *tracker) finish(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentFile = ""
	t.finishedAt = now
	if err != nil {
		t.lastError = err.Error()
	}
}

func (t *tracker) snapshot(state State) Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Progress{
		RunID:        t.runID,
		State:        state,
		CurrentFile:  t.currentFile,
		FilesTotal:   t.filesTotal,
		FilesIndexed: t.filesIndexed,
		FilesSkipped: t.filesSkipped,
		Chunks:       t.chunks,
		StartedAt:    t.startedAt,
		FinishedAt:   t.finishedAt,
		LastError:    t.lastError,
	}
}
