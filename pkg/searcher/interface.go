package searcher

import (
	"context"

	"github.com/Aman-CERP/kbindex/internal/store"
)

// QueryEmbedder embeds a search query. embed.Client implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher finds the nearest chunks to a vector. store.Store
// implements it.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]store.SearchResult, error)
}

// Hit is one retrieved chunk with its download link.
type Hit struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Index  int     `json:"index"`
	Score  float32 `json:"score"`
	URL    string  `json:"url"`
}

// Response is the answer to a query.
type Response struct {
	Query   string `json:"query"`
	Results []Hit  `json:"results"`
	// Context is the results rendered for a question-answering prompt.
	Context string `json:"context"`
}
