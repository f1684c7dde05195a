package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/chunk"
	"github.com/Aman-CERP/kbindex/internal/config"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

func fastRetry(n int) kberrors.RetryConfig {
	return kberrors.RetryConfig{
		MaxRetries:   n,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		ShouldRetry:  kberrors.IsRetryable,
	}
}

// embedServer answers /embed with a vector of dims values per input, the
// first value being the input's length, and /status with 200.
func embedServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed", func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := embedResponse{Embeddings: make([][]float64, len(req.Inputs))}
		for i, in := range req.Inputs {
			v := make([]float64, dims)
			v[0] = float64(len(in))
			resp.Embeddings[i] = v
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTPEmbedder(t *testing.T, url string, dims int) *HTTPEmbedder {
	t.Helper()
	e, err := NewHTTPEmbedder(HTTPConfig{
		URL:        url,
		Model:      "test-model",
		Dimensions: dims,
		Timeout:    2 * time.Second,
		Retry:      fastRetry(2),
	})
	require.NoError(t, err)
	return e
}

func chunksOf(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, text := range texts {
		out[i] = chunk.Chunk{Text: text, Source: "doc.txt", Index: i}
	}
	return out
}

func TestHTTPEmbedder_EmbedBatch_PreservesOrder(t *testing.T) {
	// Given: a service that encodes each input's length in the vector
	srv := embedServer(t, 4, nil)
	e := newTestHTTPEmbedder(t, srv.URL+"/embed", 4)

	// When: three texts are embedded together
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})

	// Then: one vector per input, in input order
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(2), vecs[2][0])
}

func TestHTTPEmbedder_RetriesServerErrors(t *testing.T) {
	// Given: a service that fails twice with 503 before answering
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()
	e := newTestHTTPEmbedder(t, srv.URL+"/embed", 2)

	// When: a text is embedded
	vec, err := e.Embed(context.Background(), "hello")

	// Then: the third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	// Given: a service rejecting the request with 400
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()
	e := newTestHTTPEmbedder(t, srv.URL+"/embed", 2)

	// When: a text is embedded
	_, err := e.Embed(context.Background(), "hello")

	// Then: the error surfaces after one call with the embedding code
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbeddingFailed, kberrors.GetCode(err))
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPEmbedder_UnreachableIsUnavailable(t *testing.T) {
	// Given: a closed server
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/embed"
	srv.Close()
	e := newTestHTTPEmbedder(t, url, 2)

	// When: a text is embedded
	_, err := e.Embed(context.Background(), "hello")

	// Then: the error is the unavailable code
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbedderUnavailable, kberrors.GetCode(err))
}

func TestHTTPEmbedder_Available(t *testing.T) {
	// Given: a service with a status endpoint
	srv := embedServer(t, 2, nil)
	e := newTestHTTPEmbedder(t, srv.URL+"/embed", 2)

	// Then: Available probes it
	assert.True(t, e.Available(context.Background()))

	// When: the embedder is closed
	require.NoError(t, e.Close())

	// Then: embedding fails
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestStatusURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:3003/embed", "http://localhost:3003/status"},
		{"http://localhost:3003/embed/", "http://localhost:3003/status"},
		{"http://embedder", "http://embedder/status"},
		{"https://example.com/v1/embed", "https://example.com/v1/status"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusURL(tt.in), tt.in)
	}
}

func TestNewHTTPEmbedder_RequiresURLAndDims(t *testing.T) {
	_, err := NewHTTPEmbedder(HTTPConfig{Dimensions: 4})
	assert.Error(t, err)

	_, err = NewHTTPEmbedder(HTTPConfig{URL: "http://x/embed"})
	assert.Error(t, err)
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	// Given: a static embedder
	e := NewStaticEmbedder(64)
	ctx := context.Background()

	// When: the same text is embedded twice
	a, err := e.Embed(ctx, "Vector stores hold embeddings")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Vector stores hold embeddings")
	require.NoError(t, err)

	// Then: vectors match, are unit length and sized as configured
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestStaticEmbedder_BlankIsZero(t *testing.T) {
	e := NewStaticEmbedder(0)
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	// Given: a query and two candidates, one sharing its words
	e := NewStaticEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "qdrant collection reset")
	near, _ := e.Embed(ctx, "reset the qdrant collection")
	far, _ := e.Embed(ctx, "audio transcription of podcasts")

	// Then: the overlapping text is closer
	assert.Greater(t, dot(q, near), dot(q, far))
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// countingEmbedder records backend calls and can be told to misbehave.
type countingEmbedder struct {
	*StaticEmbedder
	batches  atomic.Int32
	embeds   atomic.Int32
	dropLast bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches.Add(1)
	vecs, err := c.StaticEmbedder.EmbedBatch(ctx, texts)
	if err != nil || !c.dropLast {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

func TestClient_EmbedChunks_EmptyMakesNoCall(t *testing.T) {
	// Given: a client over a counting backend
	backend := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
	c := NewClient(backend)

	// When: no chunks are embedded
	vecs, err := c.EmbedChunks(context.Background(), nil)

	// Then: the result is empty and the backend untouched
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, int32(0), backend.batches.Load())
}

func TestClient_EmbedChunks_BatchesInOrder(t *testing.T) {
	// Given: a batch size of 2 and five chunks
	backend := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
	c := NewClient(backend, WithBatchSize(2))
	chunks := chunksOf("one", "two", "three", "four", "five")

	// When: the chunks are embedded
	vecs, err := c.EmbedChunks(context.Background(), chunks)

	// Then: three backend calls produce five vectors in chunk order
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, int32(3), backend.batches.Load())
	for i, ch := range chunks {
		want, _ := backend.StaticEmbedder.Embed(context.Background(), ch.Text)
		assert.Equal(t, want, vecs[i], "chunk %d", i)
	}
}

func TestClient_EmbedChunks_CountMismatchFails(t *testing.T) {
	// Given: a backend that drops the last vector of each batch
	backend := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8), dropLast: true}
	var observed error
	c := NewClient(backend, WithBatchObserver(func(_ int, _ time.Duration, err error) { observed = err }))

	// When: chunks are embedded
	_, err := c.EmbedChunks(context.Background(), chunksOf("a", "b"))

	// Then: the mismatch is an error, and the observer saw it
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbeddingMismatch, kberrors.GetCode(err))
	assert.Equal(t, err, observed)
}

func TestClient_EmbedQuery_DimensionMismatchFails(t *testing.T) {
	// Given: a service returning 3 values while 4 are configured
	srv := embedServer(t, 3, nil)
	backend := newTestHTTPEmbedder(t, srv.URL+"/embed", 4)
	c := NewClient(backend)

	// When: a query is embedded
	_, err := c.EmbedQuery(context.Background(), "what is hnsw")

	// Then: the size mismatch is reported
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbeddingMismatch, kberrors.GetCode(err))
}

func TestClient_EmbedQuery_UsesCache(t *testing.T) {
	// Given: a client with a query cache
	backend := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
	c := NewClient(backend, WithQueryCache(10))
	ctx := context.Background()

	// When: the same query is embedded twice
	a, err := c.EmbedQuery(ctx, "retrieval")
	require.NoError(t, err)
	b, err := c.EmbedQuery(ctx, "retrieval")
	require.NoError(t, err)

	// Then: the backend ran once
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), backend.embeds.Load())
}

func TestCachedEmbedder_EmbedBatch_OnlyMissesReachBackend(t *testing.T) {
	// Given: a cache already holding "a"
	var calls atomic.Int32
	srv := embedServer(t, 2, &calls)
	cached := NewCachedEmbedder(newTestHTTPEmbedder(t, srv.URL+"/embed", 2), 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	// When: a batch with "a" and "bb" is embedded
	vecs, err := cached.EmbedBatch(ctx, []string{"a", "bb"})

	// Then: results are ordered and both texts are now cached
	require.NoError(t, err)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, 2, cached.Len())
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_EmbedQuery_EmptyResponseFails(t *testing.T) {
	// Given: a service answering 200 with no embeddings
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings": []}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(newTestHTTPEmbedder(t, srv.URL+"/embed", 4), WithQueryCache(10))

	// When: a query is embedded
	vec, err := c.EmbedQuery(context.Background(), "hello")

	// Then: the mismatch is an error, not a panic
	require.Error(t, err)
	assert.Nil(t, vec)
	assert.Equal(t, kberrors.ErrCodeEmbeddingMismatch, kberrors.GetCode(err))
}

func TestHTTPEmbedder_Embed_ExtraVectorsFail(t *testing.T) {
	// Given: a service answering two vectors for one input
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings": [[1, 0], [0, 1]]}`))
	}))
	t.Cleanup(srv.Close)
	e := newTestHTTPEmbedder(t, srv.URL+"/embed", 2)

	// When: one text is embedded
	_, err := e.Embed(context.Background(), "hello")

	// Then: the count mismatch is reported
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbeddingMismatch, kberrors.GetCode(err))
}

func TestHTTPEmbedder_LogsAttemptsToInjectedLogger(t *testing.T) {
	// Given: a failing service and an embedder with its own logger
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	var buf bytes.Buffer
	e, err := NewHTTPEmbedder(HTTPConfig{
		URL:        srv.URL + "/embed",
		Dimensions: 2,
		Retry:      fastRetry(0),
		Logger:     slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	// When: an embed attempt fails
	_, err = e.EmbedBatch(context.Background(), []string{"x"})

	// Then: the attempt is logged through that logger
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Embedding attempt failed")
}

func TestCachedEmbedder_EmbedBatch_CountMismatchFails(t *testing.T) {
	// Given: a cache holding "a" and a backend that drops the last vector
	backend := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8), dropLast: true}
	cached := NewCachedEmbedder(backend, 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	// When: a batch of one hit and two misses is embedded
	vecs, err := cached.EmbedBatch(ctx, []string{"a", "b", "c"})

	// Then: the short backend answer is an error, and nothing was cached
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.Equal(t, kberrors.ErrCodeEmbeddingMismatch, kberrors.GetCode(err))
	assert.Equal(t, 1, cached.Len())
}

func TestOllamaEmbedder_EmbedAndAvailable(t *testing.T) {
	// Given: a fake Ollama with the model pulled
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{3, 4})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// When: the embedder is created without dimensions
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
		Retry: fastRetry(0),
	})
	require.NoError(t, err)

	// Then: dimensions are probed and vectors normalized
	assert.Equal(t, 2, e.Dimensions())
	vec, err := e.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.True(t, e.Available(context.Background()))
}

func TestNewBackend_SelectsProvider(t *testing.T) {
	cfg := config.NewConfig().Embedding

	cfg.Provider = config.ProviderStatic
	cfg.VectorSize = 32
	b, err := NewBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &StaticEmbedder{}, b)
	assert.Equal(t, 32, b.Dimensions())

	cfg.Provider = config.ProviderHTTP
	b, err = NewBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &HTTPEmbedder{}, b)

	cfg.Provider = "mlx"
	_, err = NewBackend(context.Background(), cfg)
	assert.Error(t, err)
}
