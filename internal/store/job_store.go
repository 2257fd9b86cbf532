package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/rasterflow/internal/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store keeps both jobs and their usage records.
type Store interface {
	JobStore
	UsageStore
	Close() error
}

// Open returns the store selected by backend ("memory" or "postgres").
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "memory":
		return NewMemoryJobStore(), nil
	case "postgres", "":
		return NewPostgresJobStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported job store backend: %s", backend)
	}
}
