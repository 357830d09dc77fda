package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solpay/client"
	"github.com/brojonat/solpay/service/config"
	"github.com/brojonat/solpay/service/metrics"
	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/brojonat/solpay/service/server"
	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/temporal"
	"github.com/brojonat/solpay/service/transfer"
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
		"finality", cfg.Finality,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client
	solanaRPC, endpoint, err := solana.NewRPCClient(cfg.Solana())
	if err != nil {
		logger.Error("failed to create solana RPC client", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solanaRPC, endpoint, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "endpoint", endpoint)

	// Initialize the transfer pipeline, optionally backed by a transaction-request endpoint
	opts := transfer.Options{
		Finality: cfg.Finality,
		Driver:   cfg.Driver(),
	}
	if cfg.RemoteBuilderURL != "" {
		remote, err := client.NewTransactionRequestClient(cfg.RemoteBuilderURL, nil, logger)
		if err != nil {
			logger.Error("failed to create transaction-request client", "error", err)
			os.Exit(1)
		}
		opts.Remote = remote
		logger.Info("remote transaction building enabled", "endpoint", cfg.RemoteBuilderURL)
	}
	pipeline := transfer.NewPipeline(solanaClient, opts, metricsCollector, logger)

	deps := server.Dependencies{
		Builder: pipeline,
		Driver:  pipeline.Driver(),
		Health:  solanaClient,
	}

	// Initialize NATS publisher and the SSE event stream
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Publisher = publisher

		events, err := server.NewEventStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create event stream", "error", err)
			os.Exit(1)
		}
		deps.Events = events
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize Temporal client; without it payments are followed in-process
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Payments = temporalClient
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, deps, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_endpoint", endpoint,
		"nats_enabled", cfg.NATSURL != "",
		"temporal_enabled", cfg.TemporalHost != "",
		"pay_enabled", cfg.Pay.Enabled(),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

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
