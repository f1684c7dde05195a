// Package index runs the indexing job: it walks the knowledge-base
// directory, extracts, chunks and embeds every supported file and upserts
// the chunks into the vector store.
//
// A Coordinator is constructed once per process and shared by every caller
// (HTTP API, MCP server, CLI, watcher). It guarantees that at most one job
// executes at a time and cancels cooperatively, between files.
package index

// State is the coordinator's job state.
type State string

const (
	// StateIdle means no job has run since startup.
	StateIdle State = "idle"
	// StateRunning means a job was started and has not finished or been stopped.
	StateRunning State = "running"
	// StateDone means the last job walked every file.
	StateDone State = "done"
	// StateStopped means Stop was called. The job may still be finishing
	// its in-flight file.
	StateStopped State = "stopped"
	// StateFailed means the last job hit an embedding, store or
	// enumeration error. Progress.LastError holds it.
	StateFailed State = "failed"
)

// Terminal reports whether s is an end state of a job.
func (s State) Terminal() bool {
	return s == StateDone || s == StateStopped || s == StateFailed
}

// FileOutcome is the result of processing one file.
type FileOutcome string

const (
	OutcomeIndexed     FileOutcome = "indexed"
	OutcomeEmpty       FileOutcome = "empty"
	OutcomeUnsupported FileOutcome = "unsupported"
	OutcomeTooLarge    FileOutcome = "too_large"
	OutcomeLoadFailed  FileOutcome = "load_failed"
	OutcomeFailed      FileOutcome = "failed"
)
