package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/index"
)

// StatusResponse is returned by /status, /index and /stop.
type StatusResponse struct {
	IndexingStatus index.State    `json:"indexing_status"`
	Progress       index.Progress `json:"progress"`
	// Started is set by /index: false when a job was already running.
	Started *bool `json:"started,omitempty"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// ResetResponse is returned by a successful POST /reset.
type ResetResponse struct {
	Reset bool `json:"reset"`
}

type errorResponse struct {
	Error kberrors.Body `json:"error"`
}

func (s *Server) status() StatusResponse {
	p := s.opts.Indexer.Progress()
	return StatusResponse{IndexingStatus: p.State, Progress: p}
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.status())
}

// handleIndex handles POST /index
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	started := s.opts.Indexer.Start()
	resp := s.status()
	resp.Started = &started
	s.respondJSON(w, http.StatusAccepted, resp)
}

// handleStop handles POST /stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.opts.Indexer.Stop()
	s.respondJSON(w, http.StatusOK, s.status())
}

// handleSearch handles POST /search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, kberrors.New(kberrors.ErrCodeInvalidQuery, "request body must be {\"query\": string, \"k\": int}", err))
		return
	}
	if req.K < 0 {
		s.respondError(w, kberrors.New(kberrors.ErrCodeInvalidQuery, "k must not be negative", nil))
		return
	}

	resp, err := s.opts.Searcher.Search(r.Context(), req.Query, req.K)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleReset handles POST /reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.opts.Indexer.Status() == index.StateRunning {
		s.respondError(w, kberrors.New(kberrors.ErrCodeAlreadyRunning, "cannot reset while indexing is running", nil).
			WithSuggestion("POST /stop first"))
		return
	}
	if err := s.opts.Store.Reset(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("Collection reset")
	s.respondJSON(w, http.StatusOK, ResetResponse{Reset: true})
}

// handleFile handles GET /files/{name}
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.opts.Files.Path(r.PathValue("name"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.opts.Stats.Snapshot())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := kberrors.HTTPStatus(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Request failed", kberrors.LogAttrs(err)...)
	}
	s.respondJSON(w, status, errorResponse{Error: kberrors.ToBody(err)})
}
