package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/masasibata/t-one-rest-api/internal/config"
	"github.com/masasibata/t-one-rest-api/internal/metrics"
	"github.com/masasibata/t-one-rest-api/internal/recognizer"
	"github.com/masasibata/t-one-rest-api/internal/server"
	"github.com/masasibata/t-one-rest-api/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "t-one-rest-api"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.Int("max_file_size_mb", cfg.HTTP.MaxFileSizeMB),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.Int("session_idle_timeout", cfg.Session.IdleTimeout),
		slog.Float64("session_lease_timeout", cfg.Session.LeaseTimeout),
		slog.String("recognizer_endpoint", cfg.Recognizer.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize session store
	var store session.Store
	switch cfg.Storage.Backend {
	case "redis":
		startupCtx, startupCancel := context.WithTimeout(ctx, 10*time.Second)
		redisStore, err := session.NewRedisStore(startupCtx, logger, session.RedisStoreConfig{
			URL:           cfg.Storage.Redis.URL,
			KeyPrefix:     cfg.Storage.Redis.KeyPrefix,
			IdleTimeout:   cfg.Session.GetIdleTimeoutDuration(),
			SweepInterval: cfg.Session.GetSweepIntervalDuration(),
		})
		startupCancel()
		if err != nil {
			logger.Error("Failed to connect session store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = redisStore
	default:
		store = session.NewMemoryStore(logger, session.MemoryStoreConfig{
			IdleTimeout:   cfg.Session.GetIdleTimeoutDuration(),
			SweepInterval: cfg.Session.GetSweepIntervalDuration(),
		})
	}
	logger.Info("Session store initialized",
		slog.String("backend", cfg.Storage.Backend),
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeoutDuration()),
	)

	// Initialize recognition engine client
	engineClient, err := recognizer.NewClient(recognizer.Config{
		Endpoint:      cfg.Recognizer.Endpoint,
		APIKey:        cfg.Recognizer.APIKey,
		Timeout:       cfg.Recognizer.GetTimeoutDuration(),
		MaxRetries:    cfg.Recognizer.MaxRetries,
		MaxConcurrent: cfg.Recognizer.MaxConcurrent,
		Language:      cfg.Recognizer.Language,
	})
	if err != nil {
		logger.Error("Failed to create recognizer client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recognizer client initialized",
		slog.String("endpoint", cfg.Recognizer.Endpoint),
		slog.Int("max_concurrent", cfg.Recognizer.MaxConcurrent),
	)

	// Initialize session manager
	manager := session.NewManager(store, engineClient, logger, session.ManagerConfig{
		LeaseTimeout: cfg.Session.GetLeaseTimeoutDuration(),
	})

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, manager, engineClient, appMetrics)
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	// Start HTTP server
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Close the store. Session records stay in place so clients can resume
	// them after a restart when the backend is shared.
	if err := store.Close(); err != nil {
		logger.Error("Error closing session store", slog.String("error", err.Error()))
	}

	// Close the recognizer client (waits for in-flight engine requests)
	if err := engineClient.Close(); err != nil {
		logger.Error("Error closing recognizer client", slog.String("error", err.Error()))
	}

	// Get final statistics
	engineStats := engineClient.GetStats()
	logger.Info("Final recognizer statistics",
		slog.Uint64("total_requests", engineStats.TotalRequests),
		slog.Uint64("successful_requests", engineStats.SuccessRequests),
		slog.Uint64("failed_requests", engineStats.FailedRequests),
		slog.Float64("success_rate", engineStats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
