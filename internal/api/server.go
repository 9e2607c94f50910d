package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"transcode-fleet/internal/models"
	"transcode-fleet/internal/state"
	"transcode-fleet/internal/telemetry"
)

// StatusSource reports what the local worker is doing.
type StatusSource interface {
	Status() models.WorkerStatus
}

// Snapshotter reads the shared job state.
type Snapshotter interface {
	Snapshot(backlog []string) (state.Snapshot, error)
}

// Server wires HTTP handlers for the worker status surface.
type Server struct {
	status StatusSource
	state  Snapshotter
}

// New constructs the status server.
func New(status StatusSource, st Snapshotter) *Server {
	return &Server{status: status, state: st}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/status", s.handleStatus)
	r.Get("/state", s.handleState)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleState returns both state files. The backlog is not known here, so no
// available list is computed.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.state.Snapshot(nil)
	if err != nil {
		http.Error(w, "failed to read state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed":         snap.Processed,
		"in_progress":       snap.InProgress,
		"processed_count":   len(snap.Processed),
		"in_progress_count": len(snap.InProgress),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
