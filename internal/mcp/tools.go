package mcp

import (
	"time"

	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/pkg/searcher"
)

// SearchInput defines the input schema for the search_knowledge tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"natural-language question or keywords to look up"`
	K     int    `json:"k,omitempty" jsonschema:"maximum number of passages to return, default 5"`
}

// SearchOutput defines the output schema for the search_knowledge tool.
type SearchOutput struct {
	Results []searcher.Hit `json:"results" jsonschema:"passages ordered by relevance, best first"`
	Context string         `json:"context" jsonschema:"passages rendered with source links, ready to quote in an answer"`
	// IndexingStatus lets the client know results may be incomplete.
	IndexingStatus index.State `json:"indexing_status" jsonschema:"state of the indexing job: idle, running, done, stopped or failed"`
}

// EmptyInput is the input schema of tools without parameters.
type EmptyInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Status     index.State      `json:"status"`
	Progress   IndexingProgress `json:"progress"`
	ChunkCount int              `json:"chunk_count"`
	Embeddings EmbeddingInfo    `json:"embeddings"`
}

// IndexingProgress is the current or last job.
type IndexingProgress struct {
	RunID          string `json:"run_id,omitempty"`
	CurrentFile    string `json:"current_file,omitempty"`
	FilesTotal     int    `json:"files_total"`
	FilesIndexed   int    `json:"files_indexed"`
	FilesSkipped   int    `json:"files_skipped"`
	Chunks         int    `json:"chunks"`
	StartedAt      string `json:"started_at,omitempty"` // RFC 3339
	ElapsedSeconds int    `json:"elapsed_seconds"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

func toIndexingProgress(p index.Progress) IndexingProgress {
	out := IndexingProgress{
		RunID:          p.RunID,
		CurrentFile:    p.CurrentFile,
		FilesTotal:     p.FilesTotal,
		FilesIndexed:   p.FilesIndexed,
		FilesSkipped:   p.FilesSkipped,
		Chunks:         p.Chunks,
		ElapsedSeconds: int(p.Elapsed().Seconds()),
		ErrorMessage:   p.LastError,
	}
	if !p.StartedAt.IsZero() {
		out.StartedAt = p.StartedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// EmbeddingInfo describes the active embedding backend.
type EmbeddingInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// StartOutput defines the output schema for the start_indexing tool.
type StartOutput struct {
	Started bool        `json:"started" jsonschema:"false when a job was already running"`
	Status  index.State `json:"status"`
}

// StopOutput defines the output schema for the stop_indexing tool.
type StopOutput struct {
	Status index.State `json:"status"`
}
