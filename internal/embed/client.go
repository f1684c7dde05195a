package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Aman-CERP/kbindex/internal/chunk"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

const tracerName = "github.com/Aman-CERP/kbindex/internal/embed"

// BatchObserver is told about every backend batch: its size, how long it
// took and how it ended.
type BatchObserver func(texts int, elapsed time.Duration, err error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBatchSize sets the number of chunk texts per backend request.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = min(n, MaxBatchSize)
		}
	}
}

// WithQueryCache serves EmbedQuery through an LRU cache of size entries.
func WithQueryCache(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.query = NewCachedEmbedder(c.backend, size)
		}
	}
}

// WithBatchObserver registers fn for every backend batch.
func WithBatchObserver(fn BatchObserver) ClientOption {
	return func(c *Client) { c.observe = fn }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client embeds chunks and queries on top of a backend Embedder.
//
// EmbedChunks returns exactly one vector per chunk, in chunk order, each of
// the backend's dimension. Anything else is an error: downstream point IDs
// rely on the 1:1 correspondence.
type Client struct {
	backend   Embedder
	query     Embedder
	batchSize int
	observe   BatchObserver
	logger    *slog.Logger
}

// NewClient wraps backend.
func NewClient(backend Embedder, opts ...ClientOption) *Client {
	c := &Client{
		backend:   backend,
		query:     backend,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbedChunks embeds the texts of chunks. Empty input returns an empty
// result without calling the backend.
func (c *Client) EmbedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return [][]float32{}, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.query.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.checkDims(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimensions returns the backend vector size.
func (c *Client) Dimensions() int { return c.backend.Dimensions() }

// ModelName returns the backend model name.
func (c *Client) ModelName() string { return c.backend.ModelName() }

// Available reports whether the backend answers.
func (c *Client) Available(ctx context.Context) bool { return c.backend.Available(ctx) }

// Close closes the backend (and the query cache wrapping it).
func (c *Client) Close() error { return c.query.Close() }

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "embed.batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("embed.texts", len(texts)),
		attribute.String("embed.model", c.backend.ModelName()),
	)

	started := time.Now()
	vecs, err := c.backend.EmbedBatch(ctx, texts)
	if err == nil {
		err = c.checkBatch(texts, vecs)
	}
	elapsed := time.Since(started)
	if c.observe != nil {
		c.observe(len(texts), elapsed, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("Embedding batch failed",
			slog.Int("texts", len(texts)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		return nil, err
	}
	c.logger.Debug("Embedded batch",
		slog.Int("texts", len(texts)),
		slog.Duration("elapsed", elapsed))
	return vecs, nil
}

func (c *Client) checkBatch(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return kberrors.New(kberrors.ErrCodeEmbeddingMismatch,
			fmt.Sprintf("embedding backend returned %d vectors for %d texts", len(vecs), len(texts)), nil)
	}
	for _, v := range vecs {
		if err := c.checkDims(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) checkDims(v []float32) error {
	if want := c.backend.Dimensions(); len(v) != want {
		return kberrors.New(kberrors.ErrCodeEmbeddingMismatch,
			fmt.Sprintf("embedding has %d dimensions, expected %d", len(v), want), nil).
			WithSuggestion("Set embedding.vector_size to the model's output size and reset the collection")
	}
	return nil
}
