package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// RecursiveSplitter splits text on the first separator that occurs in it,
// merges the small pieces back up to Size characters with Overlap characters
// carried between neighbours, and recurses with the remaining separators into
// pieces that are still too large.
//
// Separators stay attached to the start of the piece that follows them.
// Output depends only on (text, size, overlap, separators).
type RecursiveSplitter struct {
	size       int
	overlap    int
	separators []string
}

// Option configures a RecursiveSplitter.
type Option func(*RecursiveSplitter)

// WithSeparators replaces DefaultSeparators.
func WithSeparators(seps []string) Option {
	return func(s *RecursiveSplitter) {
		s.separators = append([]string(nil), seps...)
	}
}

// NewRecursiveSplitter returns a splitter producing chunks of at most size
// characters sharing up to overlap characters. Requires 0 <= overlap < size.
func NewRecursiveSplitter(size, overlap int, opts ...Option) (*RecursiveSplitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	s := &RecursiveSplitter{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.separators) == 0 {
		s.separators = []string{""}
	}
	return s, nil
}

// Split returns the chunks of text in order; chunk i has Index i.
func (s *RecursiveSplitter) Split(text, source string) []Chunk {
	pieces := s.splitText(text, s.separators)
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, Chunk{Text: p, Source: source, Index: len(chunks)})
	}
	return chunks
}

// Size returns the maximum chunk length in characters.
func (s *RecursiveSplitter) Size() int { return s.size }

// Overlap returns the configured overlap in characters.
func (s *RecursiveSplitter) Overlap() int { return s.overlap }

func (s *RecursiveSplitter) splitText(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if strings.TrimSpace(piece) != "" {
				final = append(final, piece)
			}
			continue
		}
		final = append(final, s.splitText(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs consecutive pieces into documents of at most size characters.
// After emitting a document it drops pieces from the front until at most
// overlap characters remain, so the next document starts with that tail.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(current) > 0 {
			if doc := joinDoc(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := joinDoc(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func joinDoc(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

// splitKeepingSeparator splits text on sep and glues each separator to the
// start of the piece after it. An empty sep splits into single characters.
// Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
