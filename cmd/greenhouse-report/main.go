package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"golang.org/x/sync/errgroup"

	"greenhouse-report/internal/api"
	"greenhouse-report/internal/config"
	"greenhouse-report/internal/gemini"
	"greenhouse-report/internal/service"
	"greenhouse-report/internal/storage"
	"greenhouse-report/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	client, err := gemini.NewClient(ctx, cfg.GoogleAPIKey)
	if err != nil {
		return err
	}

	store, err := storage.Open(string(cfg.Storage), cfg.StoragePath, cfg.StorageMaxRows, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	metrics := supervisor.NewMetrics()
	eventBus := supervisor.NewEventBus(cfg.EventBuffer)
	defer eventBus.Shutdown()

	var healthChecker *supervisor.HealthChecker
	if cfg.HealthCheckEnabled {
		probe := func(ctx context.Context) error { return client.Probe(ctx, cfg.Model) }
		healthChecker = supervisor.NewHealthChecker(probe, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, metrics, logger)
		defer healthChecker.Shutdown()
	}

	retryer := supervisor.NewRetryer(client, supervisor.RetryConfig{
		Model:    cfg.Model,
		Classify: gemini.Classify,
		Metrics:  metrics,
		EventBus: eventBus,
		Logger:   logger,
	})

	h := service.NewHandler(cfg, service.Deps{
		Retryer:       retryer,
		Store:         store,
		APIServer:     api.NewServer(store, cfg, logger),
		EventBus:      eventBus,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handlers.CombinedLoggingHandler(os.Stderr, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting greenhouse-report", "listen", cfg.ListenAddr, "model", cfg.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// SSE streams never finish on their own; the event bus is closed
		// first so their handlers return.
		eventBus.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	cfg = cfg.Redacted()
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"model", cfg.Model,
		"google_api_key", cfg.GoogleAPIKey,
		"storage", string(cfg.Storage),
		"storage_path", cfg.StoragePath,
		"storage_max_rows", cfg.StorageMaxRows,
		"request_body_max_bytes", cfg.RequestBodyMaxBytes,
		"cors_allow_origin", cfg.CORSAllowOrigin,
		"cors_allow_headers", cfg.CORSAllowHeaders,
		"health_check_enabled", cfg.HealthCheckEnabled,
		"health_check_interval", cfg.HealthCheckInterval,
		"log_level", cfg.LogLevel,
	)
}
