package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/kbindex/internal/telemetry"
)

// StatusInfo contains knowledge-base health information.
type StatusInfo struct {
	KnowledgeBase string `json:"knowledge_base"`
	Files         int    `json:"files"`

	Backend     string `json:"backend"`
	Collection  string `json:"collection"`
	TotalChunks int    `json:"total_chunks"`
	StoreStatus string `json:"store_status"` // "ready" or "error"
	StoreError  string `json:"store_error,omitempty"`

	EmbedderModel  string `json:"embedder_model"`
	EmbedderDims   int    `json:"embedder_dimensions"`
	EmbedderStatus string `json:"embedder_status"` // "ready" or "offline"

	RecentRuns []telemetry.RunRecord `json:"recent_runs,omitempty"`
}

// StatusRenderer displays knowledge-base status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Knowledge Base: "+info.KnowledgeBase))
	_, _ = fmt.Fprintf(r.out, "  Files:  %d\n", info.Files)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Store:")
	_, _ = fmt.Fprintf(r.out, "    Backend:    %s\n", info.Backend)
	_, _ = fmt.Fprintf(r.out, "    Collection: %s\n", info.Collection)
	_, _ = fmt.Fprintf(r.out, "    Status:     %s\n", r.styles.renderState(info.StoreStatus))
	if info.StoreError != "" {
		_, _ = fmt.Fprintf(r.out, "    Error:      %s\n", r.styles.Error.Render(info.StoreError))
	} else {
		_, _ = fmt.Fprintf(r.out, "    Chunks:     %d\n", info.TotalChunks)
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Model:  %s (%d dims)\n", info.EmbedderModel, info.EmbedderDims)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.styles.renderState(info.EmbedderStatus))

	if len(info.RecentRuns) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, r.styles.Panel.Render(r.renderRuns(info.RecentRuns)))
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderRuns(runs []telemetry.RunRecord) string {
	var sb strings.Builder
	sb.WriteString(r.styles.Label.Render("Recent runs"))
	for _, run := range runs {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "%-16s %-8s %3d indexed %3d skipped %5d chunks",
			formatTime(run.StartedAt), r.styles.renderState(run.State),
			run.FilesIndexed, run.FilesSkipped, run.Chunks)
		if run.Error != "" {
			sb.WriteString("  ")
			sb.WriteString(r.styles.Error.Render(truncate(run.Error, 60)))
		}
	}
	return sb.String()
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
