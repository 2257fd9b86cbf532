package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/rasterflow/internal/domain"
	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/id"
	"github.com/dunamismax/rasterflow/internal/logging"
	"github.com/dunamismax/rasterflow/internal/queue"
	"github.com/dunamismax/rasterflow/internal/ratelimit"
	"github.com/dunamismax/rasterflow/internal/store"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFormatsListsRegistryCapabilities(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/v1/formats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Formats []struct {
			Format string `json:"format"`
			Load   bool   `json:"load"`
			Save   bool   `json:"save"`
		} `json:"formats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	byName := map[string]bool{}
	for _, f := range body.Formats {
		byName[f.Format] = f.Load && f.Save
	}
	require.True(t, byName["png"])
	require.True(t, byName["jpeg"])
}

func TestInspectReportsImageInfo(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/inspect", buildTestPNG(t, 40, 24), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info engine.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "png", info.Format.String())
	require.Equal(t, 40, info.Width)
	require.Equal(t, 24, info.Height)
	require.True(t, info.HasAlpha)
}

func TestInspectMapsImageErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/v1/inspect", []byte("not an image at all"), nil)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Contains(t, rec.Body.String(), `"kind":"unsupported_format"`)

	truncated := buildTestPNG(t, 40, 24)[:40]
	rec = do(t, srv, http.MethodPost, "/v1/inspect", truncated, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodPost, "/v1/inspect", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInspectRejectsOversizedUploads(t *testing.T) {
	srv := NewServer(logging.NewNop(), &fakeEnqueuer{}, store.NewMemoryJobStore(), WithMaxUploadBytes(64))
	rec := do(t, srv, http.MethodPost, "/v1/inspect", buildTestPNG(t, 40, 24), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreateLocalJobUsesHeaderUserID(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/jobs", []byte(`{
		"source_type": "LOCAL_FILE",
		"user_id": "body-user",
		"object_key": "/tmp/input.png",
		"pipeline": [{"id": "thumb", "format": "webp", "operations": [{"kind": "thumbnail", "width": 64}]}]
	}`), map[string]string{"X-User-ID": "header-user"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		JobID    string `json:"job_id"`
		Status   string `json:"status"`
		StartURL string `json:"start_url"`
		Upload   struct {
			State string `json:"presigned_url_state"`
		} `json:"upload"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, id.Valid(resp.JobID))
	require.Equal(t, domain.JobStatusCreated, resp.Status)
	require.Equal(t, "/v1/jobs/"+resp.JobID+"/start", resp.StartURL)
	require.Equal(t, "not_required", resp.Upload.State)

	job, ok, err := jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "header-user", job.UserID)
	require.Equal(t, domain.SourceTypeLocalFile, job.SourceType)
	require.Equal(t, "/tmp/input.png", job.ObjectKey)
}

func TestCreateJobValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "malformed",
			body: `{"source_type":`,
			want: "invalid JSON body",
		},
		{
			name: "unknown field",
			body: `{"source_type":"local_file","object_key":"a.png","pipeline":[{"id":"a"}],"colour":"red"}`,
			want: "invalid JSON body",
		},
		{
			name: "missing object key",
			body: `{"source_type":"local_file","pipeline":[{"id":"a"}]}`,
			want: "object_key is required for source_type=local_file",
		},
		{
			name: "unknown output format",
			body: `{"source_type":"local_file","object_key":"a.png","pipeline":[{"id":"a","format":"xcf"}]}`,
			want: "pipeline[0].format",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/v1/jobs", []byte(tc.body), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestCreatePresignedJob(t *testing.T) {
	objects := &fakeStorage{}
	jobs := store.NewMemoryJobStore()
	srv := NewServer(logging.NewNop(), &fakeEnqueuer{}, jobs, WithStorage(objects, time.Minute))

	rec := do(t, srv, http.MethodPost, "/v1/jobs", []byte(`{
		"source_type": "s3_presigned",
		"pipeline": [{"id": "copy", "format": "png"}]
	}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		JobID  string `json:"job_id"`
		Upload struct {
			ObjectKey string `json:"object_key"`
			URL       string `json:"presigned_put_url"`
			State     string `json:"presigned_url_state"`
		} `json:"upload"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "uploads/"+resp.JobID+"/source", resp.Upload.ObjectKey)
	require.Equal(t, "https://objects.example/"+resp.Upload.ObjectKey, resp.Upload.URL)
	require.Equal(t, "ready", resp.Upload.State)
	require.Equal(t, time.Minute, objects.lastTTL)
}

func TestCreatePresignedJobWithoutStorage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/jobs", []byte(`{
		"source_type": "s3_presigned",
		"pipeline": [{"id": "copy"}]
	}`), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to generate upload URL")
}

func TestStartJobEnqueuesOnce(t *testing.T) {
	srv, jobs, enqueuer := newTestServer(t)
	input := filepath.Join(t.TempDir(), "input.png")
	require.NoError(t, os.WriteFile(input, buildTestPNG(t, 8, 8), 0o644))
	jobID := seedJob(t, jobs, domain.SourceTypeLocalFile, input)

	rec := do(t, srv, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"queue":"images"`)

	payloads := enqueuer.sent()
	require.Len(t, payloads, 1)
	require.Equal(t, jobID, payloads[0].JobID)
	require.Equal(t, "user-1", payloads[0].UserID)
	require.Equal(t, input, payloads[0].ObjectKey)

	job, _, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusQueued, job.Status)

	rec = do(t, srv, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, enqueuer.sent(), 1)
}

func TestStartJobErrors(t *testing.T) {
	srv, jobs, enqueuer := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/v1/jobs/not-a-uuid/start", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/v1/jobs/"+id.New()+"/start", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	missing := seedJob(t, jobs, domain.SourceTypeLocalFile, filepath.Join(t.TempDir(), "gone.png"))
	rec = do(t, srv, http.MethodPost, "/v1/jobs/"+missing+"/start", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "source object is missing")

	require.Empty(t, enqueuer.sent())
}

func TestStartJobTaskConflict(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	enqueuer := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	objects := &fakeStorage{exists: true}
	srv := NewServer(logging.NewNop(), enqueuer, jobs, WithStorage(objects, 0))

	jobID := seedJob(t, jobs, domain.SourceTypeS3Presigned, "uploads/x/source")
	rec := do(t, srv, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already queued")

	enqueuer.err = errors.New("redis down")
	rec = do(t, srv, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetJob(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	jobID := seedJob(t, jobs, domain.SourceTypeLocalFile, "/tmp/in.png")

	rec := do(t, srv, http.MethodGet, "/v1/jobs/"+jobID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, jobID, job.ID)
	require.Equal(t, domain.JobStatusCreated, job.Status)
	require.Len(t, job.Pipeline, 1)

	rec = do(t, srv, http.MethodGet, "/v1/jobs/"+id.New(), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	srv := NewServer(logging.NewNop(), &fakeEnqueuer{}, store.NewMemoryJobStore(), WithRateLimiter(limiter, "X-Tenant"))

	rec := do(t, srv, http.MethodPost, "/v1/inspect", buildTestPNG(t, 4, 4), map[string]string{"X-Tenant": "acme"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	require.Len(t, limiter.calls, 1)
	require.Equal(t, inspectCost, limiter.calls[0].cost)
	require.True(t, strings.HasPrefix(limiter.calls[0].subject, "acme:"))

	// reads are never limited
	rec = do(t, srv, http.MethodGet, "/v1/formats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, limiter.calls, 1)
}

func TestRateLimiterFailureFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	srv := NewServer(logging.NewNop(), &fakeEnqueuer{}, store.NewMemoryJobStore(), WithRateLimiter(limiter, ""))
	rec := do(t, srv, http.MethodPost, "/v1/inspect", buildTestPNG(t, 4, 4), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(limiter.calls[0].subject, "anonymous:"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil, nil).Code)

	rec := do(t, srv, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `rasterflow_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/v2/nothing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"route not found"}`, rec.Body.String())
}

func newTestServer(t *testing.T) (*Server, *store.MemoryJobStore, *fakeEnqueuer) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	enqueuer := &fakeEnqueuer{}
	return NewServer(logging.NewNop(), enqueuer, jobs), jobs, enqueuer
}

func do(t *testing.T, srv *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, sourceType, objectKey string) string {
	t.Helper()
	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		UserID:     "user-1",
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		ObjectKey:  objectKey,
		Pipeline:   []domain.PipelineStep{{ID: "copy", Format: "png"}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job.ID
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.ProcessImagePayload
	err      error
}

func (f *fakeEnqueuer) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{
		ID:            payload.JobID,
		Queue:         "images",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now(),
	}, nil
}

func (f *fakeEnqueuer) sent() []queue.ProcessImagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.ProcessImagePayload(nil), f.payloads...)
}

type fakeStorage struct {
	exists  bool
	lastTTL time.Duration
}

func (f *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, expiry time.Duration) (string, error) {
	f.lastTTL = expiry
	return "https://objects.example/" + objectKey, nil
}

func (f *fakeStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

type limiterCall struct {
	subject string
	cost    int
}

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error
	calls    []limiterCall
}

func (f *fakeLimiter) AllowN(_ context.Context, subject string, cost int) (ratelimit.Decision, error) {
	f.calls = append(f.calls, limiterCall{subject: subject, cost: cost})
	return f.decision, f.err
}
