package index

import (
	"strings"

	"github.com/Aman-CERP/kbindex/internal/store"
)

// FormatContext renders search results for a question-answering prompt:
// one "[Source: [name](url)]" header plus the chunk text per result,
// blocks separated by a blank line.
func FormatContext(results []store.SearchResult, urlFor func(name string) string) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[Source: [")
		b.WriteString(r.Payload.Source)
		b.WriteString("](")
		b.WriteString(urlFor(r.Payload.Source))
		b.WriteString(")]\n")
		b.WriteString(r.Payload.Text)
	}
	return b.String()
}
