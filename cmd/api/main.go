package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/rasterflow/internal/api"
	"github.com/dunamismax/rasterflow/internal/config"
	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/logging"
	"github.com/dunamismax/rasterflow/internal/queue"
	"github.com/dunamismax/rasterflow/internal/ratelimit"
	"github.com/dunamismax/rasterflow/internal/storage"
	"github.com/dunamismax/rasterflow/internal/store"
	"github.com/dunamismax/rasterflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log).Named("api")
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("api failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  serviceName(cfg.Tracing.ServiceName, "rasterflow-api"),
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := engine.Startup(engine.RuntimeConfig{
		Concurrency: cfg.Engine.Concurrency,
		CacheMemMB:  cfg.Engine.CacheMemMB,
		CacheOps:    cfg.Engine.CacheOps,
		Logger:      logger,
	}); err != nil {
		return fmt.Errorf("start image engine: %w", err)
	}
	defer engine.Shutdown()

	jobStore, err := store.Open(ctx, cfg.Database.Backend, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logger.Warn("job store close failed", zap.Error(err))
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", zap.Error(err))
		}
	}()

	opts := []api.Option{
		api.WithEngine(engine.New(
			engine.WithLogger(logger.Named("engine")),
			engine.WithLimits(engine.Limits{
				MaxPixels:     cfg.Engine.MaxPixels,
				MaxInputBytes: cfg.Engine.MaxInputBytes,
			}),
		)),
		api.WithMaxUploadBytes(cfg.API.MaxUploadBytes),
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Warn("object storage disabled, s3_presigned jobs will fail", zap.Error(err))
	} else {
		opts = append(opts, api.WithStorage(storageClient, cfg.API.PresignTTL))
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		opts = append(opts, api.WithRateLimiter(limiter, cfg.RateLimit.UserIDHeader))
		logger.Info("rate limiting enabled",
			zap.Int("requests", cfg.RateLimit.Requests),
			zap.Duration("window", cfg.RateLimit.Window),
		)
	}

	app := api.NewServer(logger, queueClient, jobStore, opts...)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.API.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func serviceName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
