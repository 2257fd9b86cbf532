package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/rasterflow/internal/domain"
	"github.com/dunamismax/rasterflow/internal/engine"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStore is the slice of the storage client the object-store stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string, meta map[string]string) error
}

type ObjectStoreFetcher struct {
	Storage  ObjectStore
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey, f.MaxBytes)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, step domain.PipelineStep, res *engine.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		outputName(step, res),
	)
	meta := map[string]string{
		"job-id":  req.JobID,
		"step-id": step.ID,
		"width":   strconv.Itoa(res.Width),
		"height":  strconv.Itoa(res.Height),
	}

	if err := e.Storage.WriteObject(ctx, objectKey, res.Data, res.Format.ContentType(), meta); err != nil {
		return Output{}, err
	}

	return newOutput(step, res, objectKey), nil
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, opts ...Option) (*Processor, error) {
	if fetcher.Storage == nil || emitter.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(fetcher, emitter, opts...)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
