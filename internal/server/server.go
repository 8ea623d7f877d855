// Package server exposes the market over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/server/handler"
	"github.com/alanyoungcy/agentmarket/internal/server/middleware"
	"github.com/alanyoungcy/agentmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// RateLimit is the per-client request budget per RateWindow. Zero
	// disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
	// TrustProxy takes the client IP from forwarding headers.
	TrustProxy bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Agents  *handler.AgentHandler
	Markets *handler.MarketHandler
	Trades  *handler.TradeHandler
}

// Deps are the cross-cutting collaborators of the middleware chain.
type Deps struct {
	Auth    middleware.Authenticator
	Limiter domain.RateLimiter // nil disables rate limiting
	Hub     *ws.Hub            // nil disables /ws
}

// Server is the HTTP + WebSocket API server for the market.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limiting, auth) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	limited := deps.Limiter != nil && cfg.RateLimit > 0
	requireAgent := middleware.RequireAgent(deps.Auth)
	authed := requireAgent
	if limited {
		perAgent := middleware.AgentRateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)
		authed = func(next http.Handler) http.Handler {
			return requireAgent(perAgent(next))
		}
	}

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agent endpoints.
	mux.HandleFunc("POST /api/agents", handlers.Agents.Register)
	mux.HandleFunc("GET /api/agents", handlers.Agents.ListAgents)
	mux.HandleFunc("GET /api/agents/{id}/performance", handlers.Agents.Performance)
	mux.HandleFunc("GET /api/leaderboard", handlers.Agents.Leaderboard)
	mux.HandleFunc("GET /api/performance", handlers.Agents.AllPerformance)
	mux.Handle("GET /api/positions", authed(http.HandlerFunc(handlers.Agents.Positions)))

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.Handle("POST /api/markets", authed(http.HandlerFunc(handlers.Markets.CreateMarket)))
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/price-history", handlers.Markets.PriceHistory)

	// Trading endpoints.
	mux.Handle("POST /api/trade", authed(http.HandlerFunc(handlers.Trades.Trade)))
	mux.Handle("POST /api/resolve", authed(http.HandlerFunc(handlers.Trades.Resolve)))

	// WebSocket endpoint.
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limited {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, cfg.TrustProxy, logger)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
