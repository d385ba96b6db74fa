// Package server implements the HTTP API for decision record ingestion
// and audit queries.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/retracehq/retrace/internal/auth"
	"github.com/retracehq/retrace/internal/ratelimit"
	"github.com/retracehq/retrace/internal/storage"
)

// Server is the Retrace HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter is optional; nil disables rate limiting.
type ServerConfig struct {
	DB       *storage.DB
	Verifier *auth.Verifier
	Logger   *slog.Logger
	Limiter  ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	limited := func(next http.Handler) http.Handler { return next }
	if cfg.Limiter != nil {
		reqIDFunc := func(r *http.Request) string {
			return RequestIDFromContext(r.Context())
		}
		limited = ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)
	}

	mux := http.NewServeMux()

	// Ingestion.
	mux.Handle("POST /v1/decisions", limited(http.HandlerFunc(h.HandleIngestDecision)))

	// Queries.
	mux.Handle("GET /v1/decisions", limited(http.HandlerFunc(h.HandleListDecisions)))
	mux.Handle("GET /v1/decisions/{decision_id}", limited(http.HandlerFunc(h.HandleGetDecision)))
	mux.Handle("GET /v1/decisions/{decision_id}/explain", limited(http.HandlerFunc(h.HandleExplainDecision)))
	mux.Handle("POST /v1/precedents/search", limited(http.HandlerFunc(h.HandleSearchPrecedents)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Verifier, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
