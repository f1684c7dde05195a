package embed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// HTTPConfig configures the embedding service client.
type HTTPConfig struct {
	// URL is the embed endpoint, e.g. http://localhost:3003/embed.
	URL string
	// Model is reported by ModelName; the service decides what it runs.
	Model string
	// Dimensions is the expected vector size.
	Dimensions int
	// Timeout bounds each request attempt.
	Timeout time.Duration
	// Retry controls retries of transient failures.
	Retry kberrors.RetryConfig
	// Client overrides the pooled HTTP client.
	Client *http.Client
	// Logger receives per-attempt failures; nil uses slog.Default().
	Logger *slog.Logger
}

// embedRequest is the service's POST body.
type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// embedResponse is the service's reply; one vector per input, same order.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// HTTPEmbedder talks to an embedding service speaking
// {"inputs": [...]} -> {"embeddings": [[...], ...]}.
type HTTPEmbedder struct {
	cfg    HTTPConfig
	client *http.Client

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an embedder for the service at cfg.URL.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.URL == "" {
		return nil, kberrors.ConfigError("embedding.url is required for the http provider", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, kberrors.ConfigError(fmt.Sprintf("embedding dimensions must be positive, got %d", cfg.Dimensions), nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = newHTTPClient(4)
	}
	return &HTTPEmbedder{cfg: cfg, client: client}, nil
}

// Embed embeds one text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingMismatch,
			fmt.Sprintf("embedding service returned %d vectors for 1 text", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in a single request, retrying transient failures.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

		var resp embedResponse
		if err := postJSON(attemptCtx, e.client, e.cfg.URL, embedRequest{Inputs: texts}, &resp); err != nil {
			e.cfg.Logger.Debug("Embedding attempt failed",
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
			return nil, err
		}

		out := make([][]float32, len(resp.Embeddings))
		for i, v := range resp.Embeddings {
			out[i] = toFloat32(v)
		}
		return out, nil
	})
}

// Dimensions returns the configured vector size.
func (e *HTTPEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model name.
func (e *HTTPEmbedder) ModelName() string { return e.cfg.Model }

// Available probes <service base>/status.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	return probe(ctx, e.client, statusURL(e.cfg.URL))
}

// Close marks the embedder closed and drops idle connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// statusURL replaces the last path element of the embed URL with "status".
func statusURL(embedURL string) string {
	base := strings.TrimRight(embedURL, "/")
	if i := strings.LastIndex(base, "/"); i > len("https://") {
		base = base[:i]
	}
	return base + "/status"
}
