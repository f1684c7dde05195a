package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/ui"
	"github.com/Aman-CERP/kbindex/pkg/searcher"
	"github.com/Aman-CERP/kbindex/pkg/version"
)

// writeTestConfig creates a knowledge base with two text files and a config
// using the static embedder and a local HNSW store under a temp dir.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	root := t.TempDir()
	kb := filepath.Join(root, "kb")
	require.NoError(t, os.MkdirAll(kb, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "policy.txt"),
		[]byte("Our refund policy allows returns within thirty days of purchase."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "shipping.txt"),
		[]byte("Parcels are shipped by courier and arrive in five business days."), 0o644))

	cfg := fmt.Sprintf(`knowledge_base:
  dir: %q
  public_url: "http://kb.test"
embedding:
  provider: static
  vector_size: 64
  max_retries: 0
store:
  backend: hnsw
  path: %q
qdrant:
  collection: test_kb
indexer:
  data_dir: %q
logging:
  file: %q
  stderr: false
%s`, kb, filepath.Join(root, "vectors"), filepath.Join(root, "data"), filepath.Join(root, "logs", "kbindex.log"), extra)

	path := filepath.Join(root, "kbindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"init", "serve", "index", "search", "status", "reset", "compact", "mcp", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
}

func TestVersionCmd(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		out, err := execute(t, "", "version", "--short")
		require.NoError(t, err)
		assert.Equal(t, version.Short()+"\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "", "version", "--json")
		require.NoError(t, err)
		var info version.BuildInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, version.Version, info.Version)
	})

	t.Run("default", func(t *testing.T) {
		out, err := execute(t, "", "version")
		require.NoError(t, err)
		assert.Contains(t, out, "kbindex")
	})
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "", "status", "--config", filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestIndexSearchStatusReset(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	// Given: an indexed knowledge base
	out, err := execute(t, "", "index", "--plain", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "done: 2 files indexed, 0 skipped")

	// When: searching
	out, err = execute(t, "", "search", "refund", "policy", "returns", "-k", "1", "--json", "--config", cfgPath)

	// Then: the refund document ranks first, with its public link
	require.NoError(t, err)
	var resp searcher.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "policy.txt", resp.Results[0].Source)
	assert.Equal(t, "http://kb.test/files/policy.txt", resp.Results[0].URL)

	// When: checking status
	out, err = execute(t, "", "status", "--json", "--config", cfgPath)

	// Then: chunks and the run are reported
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 2, info.Files)
	assert.Equal(t, 2, info.TotalChunks)
	assert.Equal(t, "ready", info.StoreStatus)
	assert.Equal(t, "ready", info.EmbedderStatus)
	require.Len(t, info.RecentRuns, 1)
	assert.Equal(t, "done", info.RecentRuns[0].State)

	// When: declining the reset prompt
	out, err = execute(t, "n\n", "reset", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	// When: resetting without a prompt
	out, err = execute(t, "", "reset", "--yes", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `Collection "test_kb" reset.`)

	// Then: the collection is empty
	out, err = execute(t, "", "status", "--json", "--config", cfgPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Zero(t, info.TotalChunks)
}

func TestIndexIsIdempotent(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	_, err := execute(t, "", "index", "--plain", "--config", cfgPath)
	require.NoError(t, err)
	_, err = execute(t, "", "index", "--plain", "--config", cfgPath)
	require.NoError(t, err)

	out, err := execute(t, "", "status", "--json", "--config", cfgPath)
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 2, info.TotalChunks)
	assert.Len(t, info.RecentRuns, 2)

	// When: compacting after the overwrite
	out, err = execute(t, "", "compact", "--config", cfgPath)

	// Then: the two replaced nodes are dropped and the chunks remain
	require.NoError(t, err)
	assert.Contains(t, out, "2 overwritten nodes removed")
	out, err = execute(t, "", "status", "--json", "--config", cfgPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 2, info.TotalChunks)
}

func TestIndexFailureReturnsError(t *testing.T) {
	// Given: an embedding service nobody listens on
	cfgPath := writeTestConfig(t, "")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	broken := strings.Replace(string(data), "provider: static", "provider: http\n  url: \"http://127.0.0.1:1/embed\"\n  timeout: 2s", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(broken), 0o644))

	// When: indexing
	out, err := execute(t, "", "index", "--plain", "--config", cfgPath)

	// Then: the job fails and the command reports it
	assert.Error(t, err)
	assert.Contains(t, out, "failed:")
}

func TestSearchRequiresQuery(t *testing.T) {
	_, err := execute(t, "", "search")

	assert.Error(t, err)
}

type fakeJob struct {
	mu      sync.Mutex
	started bool
	stopped bool
	stops   int
	done    chan struct{}
	// exitDelay is how long the job keeps running after Stop.
	exitDelay time.Duration
}

func (f *fakeJob) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return true
}

func (f *fakeJob) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.stopped {
		f.stopped = true
		time.AfterFunc(f.exitDelay, func() { close(f.done) })
	}
}

func (f *fakeJob) Progress() index.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return index.Progress{State: index.StateStopped}
	}
	return index.Progress{State: index.StateRunning, FilesTotal: 1, CurrentFile: "a.pdf"}
}

func (f *fakeJob) Wait(ctx context.Context) (index.Progress, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return f.Progress(), ctx.Err()
	}
	return f.Progress(), nil
}

func TestRunForeground_CancelStopsJob(t *testing.T) {
	// Given: a job that only ends when stopped
	job := &fakeJob{done: make(chan struct{})}
	var out bytes.Buffer
	printer := ui.NewProgressPrinter(ui.NewConfig(&out))
	ctx, cancel := context.WithCancel(context.Background())

	// When: the context is cancelled after a progress tick
	time.AfterFunc(3*progressInterval, cancel)
	p := runForeground(ctx, job, printer)

	// Then: Stop was called once and the final progress is Stopped
	assert.True(t, job.started)
	assert.True(t, job.stopped)
	assert.Equal(t, 1, job.stops)
	assert.Equal(t, index.StateStopped, p.State)
	assert.Contains(t, out.String(), "[INDEX] 1/1 - a.pdf")
}

func TestProfileFlags_WriteFiles(t *testing.T) {
	// Given: CPU and memory profile paths
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "mem.prof")

	// When: running a command with profiling enabled
	_, err := execute(t, "", "version", "--short", "--profile-cpu", cpu, "--profile-mem", mem)

	// Then: both profiles are written
	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, mem)
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) (string, error) {
		cmd := newInitCmd(&rootOptions{workDir: dir})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	// When: initialising an empty directory
	out, err := run()

	// Then: the config and knowledge-base directory exist
	require.NoError(t, err)
	assert.Contains(t, out, "kbindex.yaml")
	assert.FileExists(t, filepath.Join(dir, "kbindex.yaml"))
	assert.DirExists(t, filepath.Join(dir, "knowledge_base"))

	// When: running again without --force
	_, err = run()

	// Then: the existing file is kept
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// When: forcing
	_, err = run("--force")
	assert.NoError(t, err)
}
