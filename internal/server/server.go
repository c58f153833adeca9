// Package server is the marketd HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
	"github.com/alanyoungcy/marketengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	Auth          middleware.AuthConfig
	RatePerMinute int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Resolutions *handler.ResolutionHandler
	Fees        *handler.FeeHandler
	Admin       *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server for the market engine.
// It owns the listener; the engine and hub are started by the caller.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, auth
// and rate limiting, outermost first. limiter may be nil to disable rate
// limiting; hub may be nil to disable /ws.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	routes(mux, h, hub)

	var root http.Handler = mux
	root = middleware.RateLimit(limiter, cfg.RatePerMinute, time.Minute)(root)
	root = middleware.Auth(cfg.Auth)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func routes(mux *http.ServeMux, h Handlers, hub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	m := h.Markets
	mux.HandleFunc("GET /api/markets", m.ListMarkets)
	mux.HandleFunc("POST /api/markets", m.CreateMarket)
	mux.HandleFunc("GET /api/markets/{addr}", m.GetMarket)
	mux.HandleFunc("GET /api/markets/{addr}/odds", m.GetOdds)
	mux.HandleFunc("GET /api/markets/{addr}/positions/{principal}", m.GetPosition)
	mux.HandleFunc("POST /api/markets/{addr}/approve", m.Approve())
	mux.HandleFunc("POST /api/markets/{addr}/reject", m.Reject())
	mux.HandleFunc("POST /api/markets/{addr}/activate", m.Activate())
	mux.HandleFunc("POST /api/markets/{addr}/refund-bond", m.RefundBond())
	mux.HandleFunc("POST /api/markets/{addr}/bets", m.PlaceBet)
	mux.HandleFunc("POST /api/markets/{addr}/claim", m.Claim())
	mux.HandleFunc("POST /api/markets/{addr}/withdraw-unclaimed", m.WithdrawUnclaimed())
	mux.HandleFunc("POST /api/markets/{addr}/withdraw-fees", m.WithdrawFees())
	mux.HandleFunc("POST /api/markets/{addr}/emergency-withdraw", m.EmergencyWithdraw())

	rs := h.Resolutions
	mux.HandleFunc("POST /api/resolutions/finalize-expired", rs.FinalizeExpired)
	mux.HandleFunc("GET /api/resolutions/{addr}", rs.GetResolution)
	mux.HandleFunc("POST /api/resolutions/{addr}/propose", rs.Propose())
	mux.HandleFunc("POST /api/resolutions/{addr}/signals", rs.Signals())
	mux.HandleFunc("POST /api/resolutions/{addr}/dispute", rs.Dispute())
	mux.HandleFunc("POST /api/resolutions/{addr}/investigate", rs.Investigate())
	mux.HandleFunc("POST /api/resolutions/{addr}/resolve-dispute", rs.ResolveDispute())
	mux.HandleFunc("POST /api/resolutions/{addr}/admin-resolve", rs.AdminResolve())
	mux.HandleFunc("POST /api/resolutions/{addr}/finalize", rs.Finalize)
	mux.HandleFunc("POST /api/resolutions/{addr}/withdraw-bonds", rs.WithdrawBonds)

	f := h.Fees
	mux.HandleFunc("GET /api/fees/{addr}", f.GetMarketFees)
	mux.HandleFunc("POST /api/fees/{addr}/claim-creator", f.ClaimCreator)
	mux.HandleFunc("GET /api/rewards/{principal}", f.GetRewards)
	mux.HandleFunc("GET /api/treasury", f.GetTreasury)
	mux.HandleFunc("POST /api/treasury/withdraw", f.WithdrawTreasury)
	mux.HandleFunc("POST /api/treasury/distribute-staker", f.DistributeStaker)

	a := h.Admin
	mux.HandleFunc("GET /api/params", a.ListParams)
	mux.HandleFunc("PUT /api/params/{key}", a.SetParam)
	mux.HandleFunc("GET /api/contracts", a.ListContracts)
	mux.HandleFunc("GET /api/roles/{role}/{principal}", a.HasRole)
	mux.HandleFunc("PUT /api/roles/{role}/{principal}", a.GrantRole)
	mux.HandleFunc("DELETE /api/roles/{role}/{principal}", a.RevokeRole)
	mux.HandleFunc("PUT /api/factory", a.UpdateFactory)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server fails
// or Shutdown is called, and returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
