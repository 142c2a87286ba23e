// Package api wires the HTTP surface: a chi router exposing the
// liveness/readiness probes and the JWKS endpoint, the only parts of
// the transport layer in scope — request routing for the core
// operations is a business concern left to a caller embedding this
// module, not this repository. The core is consumed as a Go API by
// its service packages directly; this package is the thin process
// surface an embedding process needs to verify tokens issued elsewhere.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lavente-care/aim-core/internal/token"
)

type Server struct {
	Router *chi.Mux
	tokens *token.Service
	ready  func() error
}

func NewServer(tokens *token.Service, ready func() error) *Server {
	s := &Server{tokens: tokens, ready: ready}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	s.Router = r
	return s
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tokens.GetJWKS())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
