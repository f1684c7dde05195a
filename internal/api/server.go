// Package api exposes the indexing coordinator, the searcher and the
// knowledge-base files over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/index"
	"github.com/Aman-CERP/kbindex/internal/telemetry"
	"github.com/Aman-CERP/kbindex/pkg/searcher"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Indexer is the coordinator surface the API drives.
type Indexer interface {
	Start() bool
	Stop()
	Status() index.State
	Progress() index.Progress
}

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, query string, k int) (*searcher.Response, error)
}

// Collection is the vector collection behind the knowledge base.
type Collection interface {
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// FileResolver maps a file name to its path in the knowledge base.
type FileResolver interface {
	Path(name string) (string, error)
}

// Prober reports whether a backend is reachable.
type Prober interface {
	Available(ctx context.Context) bool
}

// Options wires a Server. Metrics and Stats are optional; the related
// routes are only registered when set.
type Options struct {
	Addr     string
	Version  string
	Indexer  Indexer
	Searcher Searcher
	Store    Collection
	Files    FileResolver
	Embedder Prober
	Metrics  *telemetry.Metrics
	Stats    *telemetry.QueryStats
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	opts   Options
	logger *slog.Logger
	server *http.Server
}

// New creates a Server. It does not listen until Start.
func New(opts Options) (*Server, error) {
	if opts.Indexer == nil || opts.Searcher == nil || opts.Store == nil || opts.Files == nil {
		return nil, kberrors.InternalError("api server needs an indexer, a searcher, a store and a file resolver", nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{opts: opts, logger: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /files/{name}", s.handleFile)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Stats != nil {
		mux.HandleFunc("GET /stats", s.handleStats)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      loggingMiddleware(s.logger, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.opts.Addr }

// Start serves until Stop is called. A graceful stop returns nil.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", slog.String("addr", s.opts.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}
