// Package chunk splits extracted document text into overlapping chunks.
package chunk

// Defaults for the recursive splitter, measured in characters (runes).
const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is a bounded slice of a source document's text.
//
// (Source, Index) is unique across the knowledge base; Index is the 0-based
// position in the sequence Split returned for Source.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Index  int    `json:"index"`
}

// Splitter turns a document's text into ordered chunks.
type Splitter interface {
	Split(text, source string) []Chunk
}
