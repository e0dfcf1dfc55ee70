// Package api exposes the HTTP surface: the FBL/complaint webhook receiver
// and read/admin endpoints over the suppression registry.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/bounce-monitor/internal/config"
	"github.com/ignite/bounce-monitor/internal/domain"
	"github.com/ignite/bounce-monitor/internal/suppression"
)

// Server is the HTTP front of the subsystem.
type Server struct {
	registry *suppression.Service
	webhook  *WebhookHandler
	http     *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg config.ServerConfig, registry *suppression.Service) *Server {
	s := &Server{
		registry: registry,
		webhook:  NewWebhookHandler(registry),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/fbl", s.webhook.HandleComplaint)

	r.Route("/suppressions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/stats", s.handleStats)
		r.Get("/check", s.handleCheck)
		r.Delete("/{email}", s.handleRemove)
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "email query parameter is required", http.StatusBadRequest)
		return
	}
	suppressed, err := s.registry.IsSuppressed(r.Context(), email)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":      suppression.Normalize(email),
		"suppressed": suppressed,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := suppression.ListFilter{
		Type:   domain.SuppressionType(q.Get("type")),
		Source: domain.EventSource(q.Get("source")),
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	entries, total, err := s.registry.List(r.Context(), f)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.GetStats(r.Context())
	if err != nil {
		http.Error(w, "stats failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	err := s.registry.Remove(r.Context(), email)
	if errors.Is(err, suppression.ErrNotFound) {
		http.Error(w, "not suppressed", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "remove failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "email": suppression.Normalize(email)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
