package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/rasterflow/internal/config"
	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/logging"
	"github.com/dunamismax/rasterflow/internal/storage"
	"github.com/dunamismax/rasterflow/internal/store"
	"github.com/dunamismax/rasterflow/internal/telemetry"
	"github.com/dunamismax/rasterflow/internal/webhook"
	"github.com/dunamismax/rasterflow/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log).Named("worker")
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger logging.Logger) error {
	ctx := context.Background()

	name := cfg.Tracing.ServiceName
	if name == "" {
		name = "rasterflow-worker"
	}
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  name,
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

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = storageClient.EnsureBucket(bucketCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure bucket %s: %w", storageClient.Bucket(), err)
	}

	jobStore, err := store.Open(ctx, cfg.Database.Backend, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logger.Warn("job store close failed", zap.Error(err))
		}
	}()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg, storageClient, webhookClient, jobStore, jobStore)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Worker.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.Int("step_parallelism", cfg.Worker.StepParallel),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("job_store", cfg.Database.Backend),
	)
	// Run blocks until SIGINT/SIGTERM and drains in-flight tasks.
	return srv.Run()
}
