// Package server exposes the engine services over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
	"github.com/bitpesa/bitpesa/internal/server/handler"
	"github.com/bitpesa/bitpesa/internal/server/middleware"
	"github.com/bitpesa/bitpesa/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Vault  *handler.VaultHandler
	Loans  *handler.LoanHandler
	Wills  *handler.WillHandler
	Bridge *handler.BridgeHandler
	Chains *handler.ChainHandler
}

// Extras are optional collaborators. A nil field disables what it serves.
type Extras struct {
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, extras Extras, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, extras, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, extras Extras, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/vault/{owner}", handlers.Vault.GetAccount)
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)

	mux.HandleFunc("POST /api/loans", handlers.Loans.OpenPosition)
	mux.HandleFunc("GET /api/loans", handlers.Loans.ListPositions)
	mux.HandleFunc("GET /api/loans/{id}", handlers.Loans.GetPosition)
	mux.HandleFunc("POST /api/loans/{id}/repay", handlers.Loans.Repay)
	mux.HandleFunc("POST /api/loans/{id}/liquidate", handlers.Loans.Liquidate)
	mux.HandleFunc("POST /api/loans/{id}/collateral/add", handlers.Loans.AddCollateral)
	mux.HandleFunc("POST /api/loans/{id}/collateral/remove", handlers.Loans.RemoveCollateral)

	mux.HandleFunc("POST /api/wills", handlers.Wills.CreatePlan)
	mux.HandleFunc("GET /api/wills/{owner}", handlers.Wills.GetPlan)
	mux.HandleFunc("PUT /api/wills/{owner}/beneficiaries", handlers.Wills.SetBeneficiaries)
	mux.HandleFunc("POST /api/wills/{owner}/activate", handlers.Wills.Activate)
	mux.HandleFunc("POST /api/wills/{owner}/revoke", handlers.Wills.Revoke)
	mux.HandleFunc("POST /api/wills/{owner}/initiate", handlers.Wills.InitiateRelease)
	mux.HandleFunc("POST /api/wills/{owner}/approve", handlers.Wills.Approve)
	mux.HandleFunc("POST /api/wills/{owner}/attest", handlers.Wills.Attest)
	mux.HandleFunc("POST /api/wills/{owner}/release", handlers.Wills.Release)
	mux.HandleFunc("POST /api/wills/{owner}/checkin", handlers.Wills.CheckIn)

	mux.HandleFunc("POST /api/bridge/send", handlers.Bridge.Send)
	mux.HandleFunc("GET /api/bridge/outbox", handlers.Bridge.ListOutbox)

	mux.HandleFunc("GET /api/chains", handlers.Chains.ListChains)
	mux.HandleFunc("POST /api/chains", handlers.Chains.AddChain)
	mux.HandleFunc("DELETE /api/chains/{selector}", handlers.Chains.RemoveChain)

	if extras.Hub != nil {
		mux.HandleFunc("GET /ws", extras.Hub.HandleWS)
	}
	if extras.Metrics != nil {
		mux.Handle("GET /metrics", extras.Metrics.Handler())
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if extras.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(extras.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	if extras.Metrics != nil {
		h = middleware.Metrics(extras.Metrics)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
