// Package server exposes the orchestrator's HTTP API: batch intake, task
// status and history, precheck artifact browsing, and inventory-driven
// refresh.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/netfleet/upgrade-orchestrator/internal/config"
	"github.com/netfleet/upgrade-orchestrator/internal/inventory"
	"github.com/netfleet/upgrade-orchestrator/internal/scheduler"
	"github.com/netfleet/upgrade-orchestrator/internal/store"
	"github.com/netfleet/upgrade-orchestrator/pkg/artifacts"
)

// Server holds the handler dependencies and builds the route table.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	artifacts *artifacts.Store
	inventory *inventory.Client
	logger    zerolog.Logger
}

// NewServer wires the HTTP layer. inventory may be nil when no inventory
// source is configured; the refresh route then reports it as unavailable.
func NewServer(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler,
	artifactStore *artifacts.Store, inv *inventory.Client, logger zerolog.Logger) *Server {

	return &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		artifacts: artifactStore,
		inventory: inv,
		logger:    logger,
	}
}

// Handler returns the routed handler with auth applied to mutating routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upgrade", s.requireKey(s.handleUpgrade))
	mux.HandleFunc("GET /api/status/{task_id}", s.handleStatus)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/prechecks/devices", s.handlePrecheckDevices)
	mux.HandleFunc("GET /api/prechecks/download/{filename}", s.handlePrecheckDownload)
	mux.HandleFunc("GET /api/prechecks/{device}", s.handlePrecheckList)
	mux.HandleFunc("POST /api/prechecks/diff", s.requireKey(s.handlePrecheckDiff))
	mux.HandleFunc("POST /api/netbox/refresh", s.requireKey(s.handleInventoryRefresh))

	return s.logRequests(mux)
}

// requireKey checks the access_token header against the configured API key.
// A server with no key configured refuses mutating requests outright rather
// than running open.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			writeError(w, http.StatusInternalServerError, "API key is not configured on the server")
			return
		}
		if r.Header.Get("access_token") != s.cfg.Server.APIKey {
			writeError(w, http.StatusForbidden, "invalid or missing access token")
			return
		}
		next(w, r)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("Request received")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}
