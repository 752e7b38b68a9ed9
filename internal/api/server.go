// Package api exposes the HTTP surface: intent creation and polling for
// agents, approval and settlement for the operator backend, plus health and
// metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	"github.com/signoff-pay/signoff/internal/config"
	"github.com/signoff-pay/signoff/internal/intent"
	"github.com/signoff-pay/signoff/internal/logger"
	"github.com/signoff-pay/signoff/internal/middleware"
	apperrors "github.com/signoff-pay/signoff/pkg/errors"
)

// AgentRegistrar persists new agent registrations.
type AgentRegistrar interface {
	CreateAgent(ctx context.Context, agent *agentauth.RegisteredAgent) error
}

// Server represents the HTTP server
type Server struct {
	config              *config.Config
	intents             *intent.Service
	agents              AgentRegistrar
	agentAuthMiddleware *middleware.AgentAuthMiddleware
	appAuthMiddleware   *middleware.AppAuthMiddleware
	rateLimiter         *middleware.RateLimiter
	httpRecorder        middleware.HTTPRecorder
	metricsHandler      http.Handler
	httpServer          *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	intents *intent.Service,
	agents AgentRegistrar,
	agentAuthMiddleware *middleware.AgentAuthMiddleware,
	appAuthMiddleware *middleware.AppAuthMiddleware,
	rateLimiter *middleware.RateLimiter,
	httpRecorder middleware.HTTPRecorder,
	metricsHandler http.Handler,
) *Server {
	return &Server{
		config:              cfg,
		intents:             intents,
		agents:              agents,
		agentAuthMiddleware: agentAuthMiddleware,
		appAuthMiddleware:   appAuthMiddleware,
		rateLimiter:         rateLimiter,
		httpRecorder:        httpRecorder,
		metricsHandler:      metricsHandler,
	}
}

// Handler builds the full route table with its middleware chains.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// No auth required
	mux.HandleFunc("/health", s.handleHealth)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}

	// POST is the agent channel (signed requests), GET the operator list
	// view, so authentication is chosen per method inside the handler
	mux.Handle("/v1/intents", http.HandlerFunc(s.handleIntents))

	// Agent polling plus app-authenticated decisions, routed per
	// operation inside the handler
	mux.Handle("/v1/intents/", http.HandlerFunc(s.handleIntentOperations))

	// Operator channel: agent registration
	mux.Handle("/v1/agents",
		s.appAuthMiddleware.Authenticate(http.HandlerFunc(s.handleAgents)))

	// Chain: RequestID -> Logging -> RateLimit -> Metrics -> LimitBody -> Routes
	var handler http.Handler = mux
	handler = middleware.LimitBody(handler)
	handler = middleware.Metrics(s.httpRecorder)(handler)
	if s.rateLimiter != nil {
		handler = s.rateLimiter.Limit(handler)
	}
	handler = s.loggingMiddleware(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)

		next.ServeHTTP(rec, r)

		logger.Info(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(appErr)
}

// writeServiceError maps a service error onto the response, hiding internal
// details for unexpected failures.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		s.writeError(w, appErr)
		return
	}
	logger.Error(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	s.writeError(w, apperrors.ErrInternalError)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
