// Package server exposes the market data hub, the entry gate and the
// position book over a headless HTTP + WebSocket API, plus Prometheus
// metrics on /metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/server/handler"
	"github.com/alanyoungcy/scalpcore/internal/server/middleware"
	"github.com/alanyoungcy/scalpcore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	MetricsPath string

	// RateLimit requests per RateWindow per client IP. Zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Market    *handler.MarketHandler
	Gate      *handler.GateHandler
	Positions *handler.PositionHandler
	Strategy  *handler.StrategyHandler
	Pipeline  *handler.PipelineHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if h := handlers.Status; h != nil {
		mux.HandleFunc("GET /api/status", h.GetStatus)
	}
	if h := handlers.Market; h != nil {
		mux.HandleFunc("GET /api/instruments", h.ListInstruments)
		mux.HandleFunc("GET /api/ticks/{instrument}", h.GetTick)
		mux.HandleFunc("GET /api/candles/{instrument}", h.GetCandles)
		mux.HandleFunc("GET /api/orderflow/{instrument}", h.GetOrderFlow)
	}
	if h := handlers.Gate; h != nil {
		mux.HandleFunc("GET /api/gate/{instrument}", h.GetGate)
	}
	if h := handlers.Positions; h != nil {
		mux.HandleFunc("GET /api/positions", h.ListPositions)
		mux.HandleFunc("GET /api/positions/history", h.ListHistory)
		mux.HandleFunc("GET /api/positions/{id}", h.GetPosition)
	}
	if h := handlers.Strategy; h != nil {
		mux.HandleFunc("GET /api/detectors", h.ListDetectors)
		mux.HandleFunc("GET /api/setups", h.ListSetups)
	}
	if h := handlers.Pipeline; h != nil {
		mux.HandleFunc("GET /api/archive", h.ListArchive)
		mux.HandleFunc("POST /api/archive/trigger", h.TriggerArchive)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())

	// Innermost first: auth, rate limit, CORS, then logging outermost so
	// rejected requests are still logged and counted.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", cfg.MetricsPath)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger, "/api/health", cfg.MetricsPath)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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

// Run serves until ctx is cancelled, then shuts down with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
