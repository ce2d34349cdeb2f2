// Package server exposes the read-only local query surface. It never
// touches the live in-memory store: every response is served from the
// last committed, hash-verified export snapshot.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/novamind/nova/internal/config"
	"github.com/novamind/nova/internal/integrity"
)

// Server is the nova read-only HTTP mirror.
type Server struct {
	paths   config.Paths
	guard   *integrity.Guard
	owner   string
	version string
	router  chi.Router
	started time.Time
}

// New creates a Server serving the export snapshots under the given paths.
func New(paths config.Paths, guard *integrity.Guard, owner, version string) *Server {
	s := &Server{
		paths:   paths,
		guard:   guard,
		owner:   owner,
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
	r.Use(localOnly)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/reflection", s.handleExport("reflection", "reflection.json"))
	r.Get("/metrics", s.handleExport("metrics", "metrics.json"))
	r.Get("/bundle", s.handleExport("bundle", "sync_bundle.json"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":     "not_found",
			"endpoints": []string{"/health", "/status", "/reflection", "/metrics", "/bundle"},
		})
	})

	s.router = r
}

// localOnly rejects anything not originating from loopback. The check reads
// the raw socket address, never forwarding headers: nothing sits in front of
// the mirror, so a forwarded address can only be a spoof.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "local-only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, ok := s.loadChecked("heartbeat.json")
	if !ok {
		s.integrityFailed(w, "heartbeat.json")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     s.owner,
		"version":   s.version,
		"heartbeat": data,
	})
}

// handleExport serves one verified export snapshot under the given key.
func (s *Server) handleExport(key, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.loadChecked(name)
		if !ok {
			s.integrityFailed(w, name)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"owner": s.owner, key: data})
	}
}

// loadChecked re-verifies the snapshot's hash sidecar and owner tag before
// serving it. A stale sidecar or foreign owner means the file cannot be
// trusted, and the caller reports that rather than guessing.
func (s *Server) loadChecked(name string) (map[string]any, bool) {
	path := s.paths.Export(name)
	if !s.guard.Verify(path).OK() {
		return nil, false
	}
	var data map[string]any
	if err := integrity.ReadJSON(path, &data); err != nil {
		return nil, false
	}
	if owner, _ := data["_owner"].(string); owner != s.owner {
		return nil, false
	}
	return data, true
}

func (s *Server) integrityFailed(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"error": "integrity_or_owner_check_failed",
		"file":  name,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
