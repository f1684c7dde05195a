package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/pkg/searcher"
)

// FormatSearchResults renders hits as markdown for the tool's text content.
func FormatSearchResults(query string, hits []searcher.Hit, state index.State) string {
	var sb strings.Builder

	if state == index.StateRunning {
		sb.WriteString("_Indexing is in progress; results may be incomplete._\n\n")
	}
	if len(hits) == 0 {
		fmt.Fprintf(&sb, "No results found for \"%s\"", query)
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Knowledge Base Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(hits))
	if len(hits) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, h := range hits {
		fmt.Fprintf(&sb, "### %d. [%s](%s) (chunk %d)\n\n", i+1, h.Source, h.URL, h.Index)
		fmt.Fprintf(&sb, "**Score:** %.2f\n\n", h.Score)
		sb.WriteString(quote(h.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// quote renders text as a markdown block quote.
func quote(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}
