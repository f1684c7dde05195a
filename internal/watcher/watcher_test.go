package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	// When: a single event is added
	d.Add(FileEvent{Name: "doc.pdf", Operation: OpCreate, Timestamp: time.Now()})

	// Then: it is emitted after the window
	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, "doc.pdf", events[0].Name)
		assert.Equal(t, OpCreate, events[0].Operation)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced event")
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify, OpModify}, []Operation{OpCreate}},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"delete then create is modify", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"repeated modify is one modify", []Operation{OpModify, OpModify, OpModify}, []Operation{OpModify}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a debouncer
			d := NewDebouncer(20*time.Millisecond, nil)
			defer d.Stop()

			// When: the operations arrive for one file
			for _, op := range tt.ops {
				d.Add(FileEvent{Name: "a.mp3", Operation: op})
			}

			// Then: a single merged event is emitted
			select {
			case events := <-d.Output():
				require.Len(t, events, len(tt.want))
				assert.Equal(t, tt.want[0], events[0].Operation)
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for debounced event")
			}
		})
	}
}

func TestDebouncer_CreateThenDeleteEmitsNothing(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Name: "tmp.pdf", Operation: OpCreate})
	d.Add(FileEvent{Name: "tmp.pdf", Operation: OpDelete})

	select {
	case events := <-d.Output():
		t.Fatalf("unexpected batch %v", events)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_BatchesFilesSortedByName(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Name: "b.pdf", Operation: OpCreate})
	d.Add(FileEvent{Name: "a.pdf", Operation: OpCreate})

	select {
	case events := <-d.Output():
		require.Len(t, events, 2)
		assert.Equal(t, "a.pdf", events[0].Name)
		assert.Equal(t, "b.pdf", events[1].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced events")
	}
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(time.Second, nil)
	d.Add(FileEvent{Name: "a.pdf"})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Name: "b.pdf"})

	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestOptions_WithDefaults(t *testing.T) {
	got := Options{DebounceWindow: time.Millisecond}.WithDefaults()

	assert.Equal(t, time.Millisecond, got.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, got.PollInterval)
	assert.Equal(t, DefaultOptions().EventBufferSize, got.EventBufferSize)
}

// startWatcher runs w on dir in the background and waits until it is ready.
func startWatcher(t *testing.T, w *Watcher, dir string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not exit")
		}
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
}

func waitBatch(t *testing.T, w *Watcher) []FileEvent {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for batch")
	}
	return nil
}

func TestWatcher_DetectsNewFile(t *testing.T) {
	for _, polling := range []bool{false, true} {
		w := New(Options{DebounceWindow: 20 * time.Millisecond, PollInterval: 20 * time.Millisecond, ForcePolling: polling}, nil)
		t.Run(w.Mode(), func(t *testing.T) {
			// Given: a watched directory
			dir := t.TempDir()
			startWatcher(t, w, dir)

			// When: a file is added
			require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.pdf"), []byte("%PDF"), 0o644))

			// Then: a batch naming it is emitted
			batch := waitBatch(t, w)
			require.NotEmpty(t, batch)
			assert.Equal(t, "doc.pdf", batch[0].Name)
		})
	}
}

func TestWatcher_IgnoresHiddenFilesAndSubdirectories(t *testing.T) {
	// Given: a watched directory with a subdirectory
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	w := New(Options{DebounceWindow: 20 * time.Millisecond}, nil)
	startWatcher(t, w, dir)

	// When: a hidden file and a nested file are written, then a visible one
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.pdf"), []byte("x"), 0o644))

	// Then: only the visible top-level file is reported
	for _, e := range waitBatch(t, w) {
		assert.Equal(t, "visible.pdf", e.Name)
	}
}

func TestWatcher_MissingDirectoryFails(t *testing.T) {
	w := New(Options{}, nil)

	err := w.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}

func TestWatcher_StopClosesChannels(t *testing.T) {
	w := New(Options{}, nil)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
}

type fakeStarter struct {
	mu      sync.Mutex
	accept  bool
	calls   atomic.Int32
	started atomic.Int32
}

func (f *fakeStarter) Start() bool {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accept {
		f.started.Add(1)
	}
	return f.accept
}

func (f *fakeStarter) setAccept(v bool) {
	f.mu.Lock()
	f.accept = v
	f.mu.Unlock()
}

func runTrigger(t *testing.T, tr *Trigger, batches chan []FileEvent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx, batches)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestTrigger_StartsOnChange(t *testing.T) {
	// Given: an idle coordinator
	starter := &fakeStarter{accept: true}
	batches := make(chan []FileEvent, 1)
	runTrigger(t, NewTrigger(starter, time.Hour, nil), batches)

	// When: a batch arrives
	batches <- []FileEvent{{Name: "doc.pdf", Operation: OpCreate}}

	// Then: a job is started
	assert.Eventually(t, func() bool { return starter.started.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger_RetriesWhileBusy(t *testing.T) {
	// Given: a coordinator that is running
	starter := &fakeStarter{accept: false}
	batches := make(chan []FileEvent, 1)
	runTrigger(t, NewTrigger(starter, 10*time.Millisecond, nil), batches)

	// When: a change arrives and the job later finishes
	batches <- []FileEvent{{Name: "doc.pdf", Operation: OpModify}}
	assert.Eventually(t, func() bool { return starter.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	starter.setAccept(true)

	// Then: exactly one new job is started
	assert.Eventually(t, func() bool { return starter.started.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	calls := starter.calls.Load()
	assert.Never(t, func() bool { return starter.calls.Load() > calls }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTrigger_IgnoresDeleteOnlyBatches(t *testing.T) {
	starter := &fakeStarter{accept: true}
	batches := make(chan []FileEvent, 1)
	runTrigger(t, NewTrigger(starter, time.Hour, nil), batches)

	batches <- []FileEvent{{Name: "gone.pdf", Operation: OpDelete}}
	batches <- []FileEvent{{Name: "new.pdf", Operation: OpCreate}}

	assert.Eventually(t, func() bool { return starter.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger_ExitsWhenBatchesClosed(t *testing.T) {
	batches := make(chan []FileEvent)
	close(batches)

	err := NewTrigger(&fakeStarter{}, 0, nil).Run(context.Background(), batches)

	assert.NoError(t, err)
}
