package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/rasterflow/internal/domain"
	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/id"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/logging"
	"github.com/dunamismax/rasterflow/internal/queue"
	"github.com/dunamismax/rasterflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultPresignTTL     = 15 * time.Minute
	defaultMaxUploadBytes = 32 << 20
	maxJSONBodyBytes      = 1 << 20
)

type Server struct {
	logger                logging.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	engine                *engine.Engine
	presignTTL            time.Duration
	maxUploadBytes        int64
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	router                chi.Router
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type Option func(*Server)

// WithStorage enables s3_presigned jobs. Presigned upload URLs live for ttl.
func WithStorage(storage objectStorage, ttl time.Duration) Option {
	return func(s *Server) {
		if storage != nil {
			s.storage = storage
		}
		if ttl > 0 {
			s.presignTTL = ttl
		}
	}
}

// WithRateLimiter throttles mutating routes per value of userIDHeader.
func WithRateLimiter(limiter RateLimiter, userIDHeader string) Option {
	return func(s *Server) {
		s.rateLimiter = limiter
		if strings.TrimSpace(userIDHeader) != "" {
			s.rateLimitUserIDHeader = userIDHeader
		}
	}
}

func WithEngine(e *engine.Engine) Option {
	return func(s *Server) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithMaxUploadBytes caps the body accepted by /v1/inspect.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewServer(logger logging.Logger, queueClient queueEnqueuer, jobStore store.JobStore, opts ...Option) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               unavailableObjectStorage{},
		presignTTL:            defaultPresignTTL,
		maxUploadBytes:        defaultMaxUploadBytes,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		tracer:                otel.Tracer("rasterflow/api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = engine.New(engine.WithLogger(logger.Named("engine")))
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/formats", s.handleFormats)
		r.With(s.withRateLimit(inspectCost)).Post("/inspect", s.handleInspect)

		r.Route("/jobs", func(r chi.Router) {
			r.With(s.withRateLimit(jobCost)).Post("/", s.handleCreateJob)
			r.Get("/{id}", s.handleGetJob)
			r.With(s.withRateLimit(jobCost)).Post("/{id}/start", s.handleStartJob)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats": s.engine.Registry().Capabilities(),
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	info, err := s.engine.Inspect(r.Context(), body)
	if err != nil {
		status := imgerr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("inspect failed", zap.Error(err))
			writeError(w, status, "failed to inspect image")
			return
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
			"kind":  string(imgerr.KindOf(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req = req.Normalize()
	if userID := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)); userID != "" {
		req.UserID = userID
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	log := s.logger.With(zap.String("job_id", jobID))
	objectKey := req.ObjectKey
	uploadState := "not_required"
	presignedPutURL := ""

	if req.SourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			log.Error("generate presigned url failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     req.UserID,
		Status:     domain.JobStatusCreated,
		SourceType: req.SourceType,
		WebhookURL: req.WebhookURL,
		Pipeline:   req.Pipeline,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		log.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	log.Info("job created",
		zap.String("source_type", job.SourceType),
		zap.Int("steps", len(job.Pipeline)),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	log := s.logger.With(zap.String("job_id", job.ID))

	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}
	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), queue.PayloadFromJob(job, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already queued")
			return
		}
		log.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		log.Warn("update status failed", zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

// loadJob resolves the {id} path parameter and writes the error response
// itself when the job cannot be returned.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := chi.URLParam(r, "id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "job id must be a UUID")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	limited := io.LimitReader(r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
