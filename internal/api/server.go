// Package api exposes the case workflow over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/collector/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	router.Use(RequestIDMiddleware)
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorEnvelope(w, r, http.StatusNotFound, codeNotFound, "Route not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorEnvelope(w, r, http.StatusMethodNotAllowed, codeBadRequest, "Method not allowed", nil)
	})

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/api", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Post("/", handler.CreateCase)
			r.Get("/", handler.ListCases)
			r.Post("/full", handler.CreateFull)
			r.Get("/{id}", handler.GetCase)
			r.Post("/{id}/actions", handler.AddAction)
			r.Post("/{id}/assign", handler.Assign)
		})

		r.Get("/rules", handler.ListRules)
		r.Post("/rules/reload", handler.ReloadRules)

		r.Get("/metrics/dashboard", handler.DashboardMetrics)
		r.Post("/jobs/reconcile", handler.RunReconcile)
	})

	return &Server{
		router:  router,
		handler: handler,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
