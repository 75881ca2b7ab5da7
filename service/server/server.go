package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/brojonat/mintmarket/service/metrics"
	"github.com/brojonat/mintmarket/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the market session.
type Server struct {
	addr           string
	market         MarketService
	history        HistoryStore
	scheduler      temporal.Scheduler
	resyncInterval time.Duration
	ssePublisher   *SSEPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	server         *http.Server
}

// Options holds the server's optional collaborators.
type Options struct {
	// History serves the operation endpoints; nil disables them.
	History HistoryStore

	// Scheduler serves the resync endpoints; nil disables them.
	Scheduler      temporal.Scheduler
	ResyncInterval time.Duration

	// SSEPublisher serves the stream endpoint; nil disables it.
	SSEPublisher *SSEPublisher

	// Metrics enables /metrics and per-route HTTP metrics.
	Metrics *metrics.Metrics
}

// New creates a new HTTP server over mkt.
func New(addr string, mkt MarketService, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = time.Minute
	}
	return &Server{
		addr:           addr,
		market:         mkt,
		history:        opts.History,
		scheduler:      opts.Scheduler,
		resyncInterval: opts.ResyncInterval,
		ssePublisher:   opts.SSEPublisher,
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Session and views
	route("GET /api/v1/session", "/api/v1/session", handleGetSession(s.market))
	route("POST /api/v1/session", "/api/v1/session", handleConnect(s.market, s.logger))
	route("GET /api/v1/catalog", "/api/v1/catalog", handleGetCatalog(s.market))
	route("GET /api/v1/tokens", "/api/v1/tokens", handleGetTokens(s.market))
	route("POST /api/v1/refresh", "/api/v1/refresh", handleRefresh(s.market, s.logger))

	// Operations
	route("POST /api/v1/mint", "/api/v1/mint", handleMint(s.market, s.logger))
	route("POST /api/v1/listings", "/api/v1/listings", handleList(s.market, s.logger))
	route("DELETE /api/v1/listings/{token_id}", "/api/v1/listings/{token_id}", handleDelist(s.market, s.logger))
	route("POST /api/v1/purchases", "/api/v1/purchases", handleBuy(s.market, s.logger))

	if s.history != nil {
		route("GET /api/v1/operations", "/api/v1/operations", handleListOperations(s.history, s.logger))
		route("GET /api/v1/operations/{id}", "/api/v1/operations/{id}", handleGetOperation(s.history, s.logger))
	} else {
		s.logger.Warn("journal not configured, operation history endpoints disabled")
	}

	if s.scheduler != nil {
		route("PUT /api/v1/resync", "/api/v1/resync", handleUpsertResync(s.market, s.scheduler, s.resyncInterval, s.logger))
		route("DELETE /api/v1/resync", "/api/v1/resync", handleDeleteResync(s.market, s.scheduler, s.logger))
	} else {
		s.logger.Warn("scheduler not configured, resync endpoints disabled")
	}

	if s.ssePublisher != nil {
		route("GET /api/v1/stream", "/api/v1/stream", handleStream(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoint disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln and blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
