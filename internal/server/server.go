// Package server assembles the HTTP + WebSocket API: routes, middleware
// chain, and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colemanlowe/fibhedge/internal/server/handler"
	"github.com/colemanlowe/fibhedge/internal/server/middleware"
	"github.com/colemanlowe/fibhedge/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Plans     *handler.PlanHandler
	Positions *handler.PositionHandler
	Portfolio *handler.PortfolioHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux, wires the middleware chain
// (auth, logging, CORS), and attaches the WebSocket hub and Prometheus
// endpoint.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required; auth middleware skips them).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Trading plan endpoints.
	mux.HandleFunc("GET /api/plans", handlers.Plans.ListPlans)
	mux.HandleFunc("POST /api/plans", handlers.Plans.CreatePlan)
	mux.HandleFunc("GET /api/plans/{id}", handlers.Plans.GetPlan)
	mux.HandleFunc("PUT /api/plans/{id}", handlers.Plans.UpdatePlan)
	mux.HandleFunc("DELETE /api/plans/{id}", handlers.Plans.DeactivatePlan)
	mux.HandleFunc("GET /api/plans/{id}/stats", handlers.Plans.PlanStats)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions", handlers.Positions.OpenPosition)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("PUT /api/positions/{id}", handlers.Positions.UpdatePosition)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("GET /api/positions/{id}/fibonacci", handlers.Positions.Fibonacci)
	mux.HandleFunc("GET /api/positions/{id}/triggers", handlers.Positions.PositionTriggers)

	// Trigger history and tick injection.
	mux.HandleFunc("GET /api/triggers/recent", handlers.Positions.RecentTriggers)
	mux.HandleFunc("POST /api/ticks", handlers.Positions.IngestTick)

	// Portfolio endpoints.
	mux.HandleFunc("GET /api/portfolio/allocations", handlers.Portfolio.ListAllocations)
	mux.HandleFunc("POST /api/portfolio/allocations", handlers.Portfolio.CreateAllocation)
	mux.HandleFunc("PUT /api/portfolio/allocations/{coin}", handlers.Portfolio.UpdateAllocation)
	mux.HandleFunc("GET /api/portfolio/summary", handlers.Portfolio.Summary)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = authUnlessPublic(cfg.APIKey, h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// authUnlessPublic applies the auth middleware to everything except health
// and metrics, which scrapers and load balancers hit unauthenticated.
func authUnlessPublic(apiKey string, next http.Handler) http.Handler {
	authed := middleware.Auth(apiKey)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// Start begins listening. It blocks until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins. No configured
// origins means allow all.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
