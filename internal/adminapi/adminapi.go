// Package adminapi exposes a small read-only HTTP+JSON introspection
// surface for gospadctl and operators: daemon health, loaded stanza
// count, and replay-store size. It never talks to an SPA client and
// carries no control-plane verbs, unlike the teacher's ConnectRPC
// service (§D).
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// StatusProvider supplies the live daemon state the admin API reports.
// cmd/gospad implements it with an adapter over the stanza set, the
// replay store and the firewall backend.
type StatusProvider interface {
	StanzaCount() int
	ReplayStoreSize() (int, error)
	ActiveGrants() int
}

// Status is the JSON body returned by GET /status.
type Status struct {
	RunID           string    `json:"run_id"`
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	StanzaCount     int       `json:"stanza_count"`
	ReplayStoreSize int       `json:"replay_store_size"`
	ActiveGrants    int       `json:"active_grants"`
}

// Server is the admin HTTP API's handler set.
type Server struct {
	mux       *http.ServeMux
	provider  StatusProvider
	version   string
	runID     string
	startedAt time.Time
	logger    *slog.Logger
}

// NewServer builds a Server reporting status from provider. runID
// identifies this daemon process in responses, useful for
// distinguishing restarts in operator tooling.
func NewServer(provider StatusProvider, version string, logger *slog.Logger) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		provider:  provider,
		version:   version,
		runID:     uuid.NewString(),
		startedAt: time.Now(),
		logger:    logger.With(slog.String("component", "adminapi")),
	}
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	replaySize, err := s.provider.ReplayStoreSize()
	if err != nil {
		s.logger.Warn("failed to read replay store size", slog.String("error", err.Error()))
	}

	status := Status{
		RunID:           s.runID,
		Version:         s.version,
		StartedAt:       s.startedAt,
		StanzaCount:     s.provider.StanzaCount(),
		ReplayStoreSize: replaySize,
		ActiveGrants:    s.provider.ActiveGrants(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("failed to encode status response",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
	}
}
