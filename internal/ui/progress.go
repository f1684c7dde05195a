package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/kbindex/internal/index"
)

const barWidth = 24

// ProgressPrinter shows a running index job. It is safe for concurrent use.
type ProgressPrinter struct {
	mu          sync.Mutex
	out         io.Writer
	styles      Styles
	interactive bool
	lastFile    string
	lastLen     int
}

// NewProgressPrinter creates a printer for cfg.Output.
func NewProgressPrinter(cfg Config) *ProgressPrinter {
	return &ProgressPrinter{
		out:         cfg.Output,
		styles:      GetStyles(cfg.NoColor),
		interactive: cfg.Interactive(),
	}
}

// Update renders p. Interactive output redraws one line; plain output
// prints a line each time the current file changes.
func (r *ProgressPrinter) Update(p index.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.interactive {
		if p.CurrentFile == "" || p.CurrentFile == r.lastFile {
			return
		}
		r.lastFile = p.CurrentFile
		_, _ = fmt.Fprintf(r.out, "[INDEX] %d/%d - %s\n", r.processed(p)+1, p.FilesTotal, p.CurrentFile)
		return
	}

	line := fmt.Sprintf("%s %s %d/%d files, %d chunks %s",
		r.styles.Header.Render("Indexing"),
		r.bar(p),
		r.processed(p), p.FilesTotal, p.Chunks,
		r.styles.Dim.Render(truncate(p.CurrentFile, 40)))
	pad := ""
	if n := r.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	r.lastLen = len(line)
	_, _ = fmt.Fprintf(r.out, "\r%s%s", line, pad)
}

// Complete prints the final summary of a job.
func (r *ProgressPrinter) Complete(p index.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interactive && r.lastLen > 0 {
		_, _ = fmt.Fprint(r.out, "\r"+strings.Repeat(" ", r.lastLen)+"\r")
	}

	_, _ = fmt.Fprintf(r.out, "%s %d files indexed, %d skipped, %d chunks in %s\n",
		r.styles.renderState(string(p.State))+":",
		p.FilesIndexed, p.FilesSkipped, p.Chunks, p.Elapsed().Round(100*time.Millisecond))
	if p.LastError != "" {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Error.Render("Error:"), p.LastError)
	}
}

func (r *ProgressPrinter) processed(p index.Progress) int {
	return p.FilesIndexed + p.FilesSkipped
}

func (r *ProgressPrinter) bar(p index.Progress) string {
	filled := 0
	if p.FilesTotal > 0 {
		filled = r.processed(p) * barWidth / p.FilesTotal
	}
	filled = min(filled, barWidth)
	return r.styles.Progress.Render(strings.Repeat("█", filled)) +
		r.styles.Dim.Render(strings.Repeat("░", barWidth-filled))
}

// truncate shortens s to max runes, eliding the middle.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max < 5 {
		return string(runes[:max])
	}
	half := (max - 3) / 2
	return string(runes[:half]) + "..." + string(runes[len(runes)-(max-3-half):])
}
