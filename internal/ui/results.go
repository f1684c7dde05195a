package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/kbindex/pkg/searcher"
)

// ResultsRenderer displays search results.
type ResultsRenderer struct {
	out     io.Writer
	styles  Styles
	snippet int
}

// NewResultsRenderer creates a results renderer. Passages longer than
// snippet runes are shortened; snippet <= 0 prints them whole.
func NewResultsRenderer(out io.Writer, noColor bool, snippet int) *ResultsRenderer {
	return &ResultsRenderer{out: out, styles: GetStyles(noColor), snippet: snippet}
}

// Render prints one block per hit.
func (r *ResultsRenderer) Render(resp *searcher.Response) error {
	if len(resp.Results) == 0 {
		_, err := fmt.Fprintf(r.out, "No results found for %q\n", resp.Query)
		return err
	}

	for i, h := range resp.Results {
		if i > 0 {
			_, _ = fmt.Fprintln(r.out)
		}
		_, _ = fmt.Fprintf(r.out, "%s %s %s\n",
			r.styles.Header.Render(fmt.Sprintf("%d.", i+1)),
			r.styles.Active.Render(fmt.Sprintf("%s #%d", h.Source, h.Index)),
			r.styles.Label.Render(fmt.Sprintf("(score %.3f)", h.Score)))
		_, _ = fmt.Fprintf(r.out, "   %s\n", r.styles.Link.Render(h.URL))
		text := strings.Join(strings.Fields(h.Text), " ")
		if r.snippet > 0 {
			text = truncate(text, r.snippet)
		}
		_, _ = fmt.Fprintf(r.out, "   %s\n", text)
	}
	return nil
}

// RenderJSON outputs the response as JSON.
func (r *ResultsRenderer) RenderJSON(resp *searcher.Response) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}
