// Package server exposes the read-only status surface: liveness and
// readiness probes, plaintext gauges, and JSON views over the catalog.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tagay1n/tt-torrent-seedbox/internal/porla"
	"github.com/tagay1n/tt-torrent-seedbox/internal/store"
)

// Server is the status HTTP server.
type Server struct {
	db      *store.DB
	client  porla.Client
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over the given store and service client.
func New(db *store.DB, client porla.Client, version string) *Server {
	s := &Server{
		db:      db,
		client:  client,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/overview", s.handleOverview)
		r.Get("/vulnerable", s.handleVulnerable)
		r.Get("/runs", s.handleRuns)
		r.Get("/actions", s.handleActions)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
	})
}

// handleReadyz reports ready only when both the catalog and the managing
// service answer.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error"})
		return
	}
	if err := s.client.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "porla_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	overview, err := s.db.GetOverview()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	failed, err := s.db.CountFailedRunsSince(since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "last_ingest_ok %d\n", s.metaEpoch("last_ingest_at"))
	fmt.Fprintf(w, "last_stats_ok %d\n", s.metaEpoch("last_stats_at"))
	fmt.Fprintf(w, "last_reconcile_ok %d\n", s.metaEpoch("last_reconcile_at"))
	fmt.Fprintf(w, "db_torrents_total %d\n", overview.Torrents)
	fmt.Fprintf(w, "porla_managed_total %d\n", overview.Managed)
	fmt.Fprintf(w, "vulnerable_critical_count %d\n", overview.Critical)
	fmt.Fprintf(w, "known_bytes_total %d\n", overview.KnownBytes)
	fmt.Fprintf(w, "errors_last_24h %d\n", failed)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.db.GetOverview()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleVulnerable(w http.ResponseWriter, r *http.Request) {
	items, err := s.db.TopVulnerable(limitParam(r, 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.RecentRuns(limitParam(r, 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.db.RecentActions(limitParam(r, 100))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

// metaEpoch converts a stored RFC3339 meta timestamp to unix seconds,
// zero when unset or unparseable.
func (s *Server) metaEpoch(key string) int64 {
	value, err := s.db.GetMeta(key)
	if err != nil || value == nil {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return 0
	}
	return ts.Unix()
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
