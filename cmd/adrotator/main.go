package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/api"
	"github.com/patrickwarner/adrotator/internal/catalog"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/engagement"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/session"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, observability.TracingOptions{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.TempoEndpoint,
			SampleRate:  cfg.TracingSampleRate,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()
	store := models.NewInMemoryCatalogStore()

	var kv db.KVStore
	var broadcaster *catalog.Broadcaster
	switch cfg.StorageBackend {
	case "memory":
		kv = db.NewMemoryStore()
		logger.Warn("using in-memory shown-set storage; shown ads are lost on restart")
	default:
		redisStore, err := db.InitRedis(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer redisStore.Close()
		kv = redisStore
		broadcaster = catalog.NewBroadcaster(redisStore.Client, store, logger)
		<-broadcaster.Listen(ctx)
	}

	refresher := catalog.NewRefresher(cfg.APIBase, store, cfg.CatalogFetchTimeout, logger, metricsRegistry)
	reporter := engagement.NewHTTPReporter(cfg.APIBase, cfg.ReportTimeout, logger, metricsRegistry)

	sessions := session.NewRegistry(session.Config{
		Catalog:   store,
		Selector:  selectors.NewPositionSelector(store),
		Store:     kv,
		Reporter:  reporter,
		Scheduler: rotation.WallClock,
		Defaults: rotation.Config{
			DisplayDuration:    cfg.DisplayDuration,
			AutoRotateInterval: cfg.AutoRotateInterval,
			MaxAdsPerSession:   cfg.MaxAdsPerSession,
			ShowDelay:          cfg.ShowDelay,
			RotationGap:        cfg.RotationGap,
			ExhaustionCooldown: cfg.ExhaustionCooldown,
		},
		ShownSetKey:      cfg.ShownSetKey,
		ShownSetTTL:      cfg.ShownSetTTL,
		TransitionSample: cfg.TransitionLogSample,
		Logger:           logger,
		Metrics:          metricsRegistry,
	})
	refresher.OnUpdate(sessions.OfferAll)
	broadcaster.OnApply(sessions.OfferAll)

	srvDeps := api.NewServer(logger, store, refresher, sessions, broadcaster, metricsRegistry, cfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(srvDeps.Router(), cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad rotator running",
		zap.String("addr", addr),
		zap.String("api_base", cfg.APIBase),
		zap.String("storage", cfg.StorageBackend))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	// Refreshes immediately, then on every interval.
	go refresher.Start(ctx, cfg.CatalogRefreshInterval)

	if cfg.SessionIdleTTL > 0 {
		ticker := time.NewTicker(cfg.SessionIdleTTL / 2)
		go func() {
			for {
				select {
				case <-ticker.C:
					if n := sessions.ExpireIdle(cfg.SessionIdleTTL); n > 0 {
						logger.Info("expired idle sessions", zap.Int("count", n))
					}
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	sessions.Close()
	reporter.Wait()

	return nil
}
