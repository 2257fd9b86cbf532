package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/rasterflow/internal/config"
	"github.com/dunamismax/rasterflow/internal/domain"
	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/logging"
	"github.com/dunamismax/rasterflow/internal/pipeline"
	"github.com/dunamismax/rasterflow/internal/queue"
	"github.com/dunamismax/rasterflow/internal/storage"
	"github.com/dunamismax/rasterflow/internal/store"
	"github.com/dunamismax/rasterflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Server struct {
	logger          logging.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger logging.Logger,
	cfg config.Config,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	m := newMetrics()
	eng := engine.New(
		engine.WithLogger(logger.Named("engine")),
		engine.WithLimits(engine.Limits{
			MaxPixels:     cfg.Engine.MaxPixels,
			MaxInputBytes: cfg.Engine.MaxInputBytes,
		}),
		engine.WithObserver(m),
	)
	procOpts := []pipeline.Option{
		pipeline.WithEngine(eng),
		pipeline.WithParallelism(cfg.Worker.StepParallel),
	}
	maxBytes := int64(cfg.Engine.MaxInputBytes)

	localProcessor, err := pipeline.NewProcessor(
		pipeline.LocalFileFetcher{MaxBytes: maxBytes},
		pipeline.LocalFileEmitter{OutputDir: cfg.Worker.LocalOutputDir},
		procOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: storageClient, MaxBytes: maxBytes},
		pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: cfg.Storage.OutputPrefix},
		procOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				Logger:   logger.Named("asynq").Zap().Sugar(),
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         m,
		tracer:          otel.Tracer("rasterflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.pipeline_steps", len(payload.Pipeline)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With(zap.String("job_id", payload.JobID))
	log.Info("processing job",
		zap.String("source_type", payload.SourceType),
		zap.Int("steps", len(payload.Pipeline)),
		zap.String("object_key", payload.ObjectKey),
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Pipeline:   payload.Pipeline,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		log.Error("pipeline failed", zap.Error(err), zap.String("kind", string(imgerr.KindOf(err))))
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
			"error_kind":   imgerr.KindOf(err),
		})
		if permanent(err) {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	log.Info("processed job", zap.Int("outputs", len(result.Outputs)), zap.Duration("elapsed", time.Since(startedAt)))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.pipelineOutputsTotal.Add(float64(len(result.Outputs)))
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":        payload.JobID,
		"status":        domain.JobStatusSucceeded,
		"source_type":   payload.SourceType,
		"source_format": result.SourceFormat,
		"object_key":    payload.ObjectKey,
		"requested_at":  payload.RequestedAt,
		"completed_at":  time.Now().UTC(),
		"outputs":       result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// permanent reports whether retrying the job could not change the outcome:
// the image or the plan is at fault, not the infrastructure.
func permanent(err error) bool {
	if errors.Is(err, pipeline.ErrUnsupportedSourceType) {
		return true
	}
	return imgerr.KindOf(err) != ""
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed",
			zap.String("job_id", jobID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("job_id", payload.JobID),
			zap.String("event", event),
			zap.Error(err),
		)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Warn("usage lookup failed", zap.String("job_id", payload.JobID), zap.Error(err))
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	var (
		pixelsProcessed  int64
		totalOutputBytes int
	)
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width) * int64(output.Height)
		totalOutputBytes += output.Bytes
	}

	bytesSaved := max(int64(result.SourceBytes-totalOutputBytes), 0)
	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Outputs:         len(result.Outputs),
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn("usage log write failed", zap.String("job_id", payload.JobID), zap.Error(err))
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
