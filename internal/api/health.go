package api

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks"`
}

const healthTimeout = 5 * time.Second

// handleHealth handles GET /healthz. The store is required; an unreachable
// embedder only degrades the service since status and file routes still work.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   s.opts.Version,
	}

	storeCheck := HealthCheck{Name: "store", Status: HealthStatusHealthy}
	if _, err := s.opts.Store.Count(ctx); err != nil {
		storeCheck.Status = HealthStatusUnhealthy
		storeCheck.Message = err.Error()
		resp.Status = HealthStatusUnhealthy
	}
	resp.Checks = append(resp.Checks, storeCheck)

	if s.opts.Embedder != nil {
		embedCheck := HealthCheck{Name: "embedder", Status: HealthStatusHealthy}
		if !s.opts.Embedder.Available(ctx) {
			embedCheck.Status = HealthStatusUnhealthy
			embedCheck.Message = "embedding backend unreachable"
			if resp.Status == HealthStatusHealthy {
				resp.Status = HealthStatusDegraded
			}
		}
		resp.Checks = append(resp.Checks, embedCheck)
	}

	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, resp)
}
