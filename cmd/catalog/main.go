package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cache "github.com/krisalay/progressive-cache"
	"github.com/krisalay/progressive-cache/adaptive"
	"github.com/krisalay/progressive-cache/config"
	"github.com/krisalay/progressive-cache/engine"
	"github.com/krisalay/progressive-cache/eviction"
	"github.com/krisalay/progressive-cache/expiration"
	"github.com/krisalay/progressive-cache/httpapi"
	"github.com/krisalay/progressive-cache/metrics"
	"github.com/krisalay/progressive-cache/progressive"
	"github.com/krisalay/progressive-cache/query"
	"github.com/krisalay/progressive-cache/refresh"
	"github.com/krisalay/progressive-cache/remote"
	"github.com/krisalay/progressive-cache/storage"
	"github.com/krisalay/progressive-cache/types"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	logLevel := flag.String("log-level", "", "log level (overrides logging.level)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Catalog service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(cfg.StorageBackend())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var m types.Metrics = types.NoopMetrics{}
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
	}

	policy, err := eviction.ParsePolicyType(cfg.Cache.Eviction)
	if err != nil {
		return err
	}

	eng := engine.NewCacheEngine(&expiration.HardTTL{}, m, logger)
	store := cache.NewStore(cache.StoreConfig{
		Shards:   cfg.Cache.Shards,
		Capacity: cfg.Cache.Capacity,
		Eviction: policy,
	}, eng, backend)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	focus := refresh.NewNotifier()
	client := query.NewClient(store, eng, focus)

	catalog, err := remote.New(cfg.Remote(), logger)
	if err != nil {
		return fmt.Errorf("catalog client: %w", err)
	}

	registry := progressive.NewRegistry(client, catalog.Metadata, catalog.Details, cfg.ProgressiveManager())
	defer registry.Close()

	listing := adaptive.New(client, catalog.Page, catalog.All, progressive.Record.ID, adaptive.Config{
		Key:      "catalog",
		PageSize: cfg.Progressive.PageSize,
		Query:    cfg.Pages(),
	})

	deps := httpapi.Deps{
		Registry: registry,
		Listing:  listing,
		Focus:    focus,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		deps.MetricsPath = cfg.Metrics.Path
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.New(deps, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// SIGHUP acts as a focus event: every active query past its stale time refetches.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("Focus requested", zap.Int("subscribers", focus.Len()))
				if err := focus.Notify(ctx); err != nil {
					logger.Warn("Focus refresh interrupted", zap.Error(err))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Catalog service starting",
			zap.String("address", cfg.Server.Addr),
			zap.String("catalog", cfg.Catalog.BaseURL),
			zap.String("storage", cfg.Storage.Kind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	return nil
}

// initLogger builds a zap logger from the logging section.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
