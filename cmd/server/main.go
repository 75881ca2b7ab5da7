package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/mintmarket/service/config"
	"github.com/brojonat/mintmarket/service/metrics"
	"github.com/brojonat/mintmarket/service/server"
	"github.com/brojonat/mintmarket/service/stack"
	"github.com/brojonat/mintmarket/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	st, err := stack.Build(ctx, cfg, stack.Options{
		Metrics: metricsCollector,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build market", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Connect the session and load both views. A failed initial load leaves
	// the session connected with empty views; POST /api/v1/refresh retries.
	if st.Wallet != nil {
		account, err := st.Market.Connect(ctx)
		if err != nil {
			logger.Warn("initial session load failed", "account", account, "error", err)
		} else {
			logger.Info("session connected", "account", account)
		}
	}

	opts := server.Options{
		History:        st.Journal,
		ResyncInterval: cfg.ResyncInterval,
		Metrics:        metricsCollector,
	}

	// Background resync runs against this process's session, so the worker
	// is hosted here rather than in cmd/worker.
	var resyncWorker *temporal.Worker
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, background resync disabled", "error", err)
	} else {
		defer temporalClient.Close()
		opts.Scheduler = temporalClient

		resyncWorker, err = temporal.NewWorker(temporal.WorkerConfig{
			TemporalHost:      cfg.TemporalHost,
			TemporalNamespace: cfg.TemporalNamespace,
			TaskQueue:         cfg.TemporalTaskQueue,
			Market:            st.Market,
			Metrics:           metricsCollector,
			Logger:            logger,
		})
		if err != nil {
			logger.Error("failed to create temporal worker", "error", err)
			os.Exit(1)
		}
	}

	if cfg.NATSURL != "" {
		ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		opts.SSEPublisher = ssePublisher
	}

	httpServer := server.New(cfg.ServerAddr, st.Market, opts, logger)

	logger.Info("server initialized, all dependencies ready",
		"eth_rpc", cfg.EthRPCURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"resync_enabled", resyncWorker != nil,
	)

	// Start HTTP server and worker in background
	serverErrors := make(chan error, 2)
	go func() {
		serverErrors <- httpServer.Start()
	}()
	if resyncWorker != nil {
		go func() {
			if err := resyncWorker.Start(); err != nil {
				serverErrors <- err
			}
		}()
	}

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		if resyncWorker != nil {
			resyncWorker.Stop()
		}

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
