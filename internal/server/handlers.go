package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RecentDeploymentsLimit is the number of deployments returned per environment.
const RecentDeploymentsLimit = 10

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.opts.Envs != nil {
		names = s.opts.Envs.List()
	}
	if names == nil {
		names = []string{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"environments":      names,
		"environment_count": len(names),
	})
}

// HandleOverview returns the gate state and recent deployments of every
// environment.
func (s *Server) HandleOverview(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Status not available"})
		return
	}

	overview, err := s.opts.Status.Status(r.Context())
	if err != nil {
		s.opts.Logger.Error("Failed to build status overview", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch status"})
		return
	}
	s.respondJSON(w, http.StatusOK, overview)
}

// HandleStatus handles deployment status requests for one environment
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "environment")

	if s.opts.Envs == nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown environment"})
		return
	}
	if _, err := s.opts.Envs.Get(name); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown environment"})
		return
	}

	if s.opts.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	status, err := s.opts.History.GetEnvironmentStatus(r.Context(), name, RecentDeploymentsLimit)
	if err != nil {
		s.opts.Logger.Error("Failed to get deployment history", "error", err, "environment", name)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.opts.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
