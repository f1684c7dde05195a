package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the Ollama build of the default embedding model.
	DefaultOllamaModel = "qwen3-embedding:0.6b"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string
	// Model is the embedding model to use.
	Model string
	// Dimensions is the expected vector size; 0 detects it from a probe embedding.
	Dimensions int
	// Timeout bounds each request attempt.
	Timeout time.Duration
	// Retry controls retries of transient failures.
	Retry kberrors.RetryConfig
	// Client overrides the pooled HTTP client.
	Client *http.Client
}

// ollamaEmbedRequest is the Ollama /api/embed request.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the Ollama /api/embed response.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the Ollama /api/tags response.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	cfg    OllamaConfig
	client *http.Client
	dims   int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. When cfg.Dimensions is 0 it
// embeds a probe text to learn the vector size.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}
	client := cfg.Client
	if client == nil {
		client = newHTTPClient(4)
	}

	e := &OllamaEmbedder{cfg: cfg, client: client, dims: cfg.Dimensions}
	if e.dims == 0 {
		vec, err := e.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("detect embedding dimensions: %w", err)
		}
		e.dims = len(vec)
	}
	return e, nil
}

// Embed embeds one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingMismatch,
			fmt.Sprintf("ollama returned %d embeddings for 1 text", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts with one /api/embed call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, kberrors.EmbeddingError("embedder is closed", nil)
	}

	return kberrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		var resp ollamaEmbedResponse
		req := ollamaEmbedRequest{Model: e.cfg.Model, Input: texts}
		if err := postJSON(attemptCtx, e.client, e.cfg.Host+"/api/embed", req, &resp); err != nil {
			return nil, err
		}

		out := make([][]float32, len(resp.Embeddings))
		for i, v := range resp.Embeddings {
			out[i] = normalizeVector(toFloat32(v))
		}
		return out, nil
	})
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Available checks that Ollama runs and has the model pulled.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.ToLower(e.cfg.Model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return true
		}
	}
	return false
}

// Close marks the embedder closed and drops idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
