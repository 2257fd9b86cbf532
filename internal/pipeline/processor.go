package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/rasterflow/internal/domain"
	"github.com/dunamismax/rasterflow/internal/engine"
	"github.com/dunamismax/rasterflow/internal/format"
	"golang.org/x/sync/errgroup"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Pipeline   []domain.PipelineStep
}

type Output struct {
	StepID   string   `json:"step_id"`
	Format   string   `json:"format"`
	Path     string   `json:"path"`
	Bytes    int      `json:"bytes"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Warnings []string `json:"warnings,omitempty"`
	Success  bool     `json:"success"`
}

type Result struct {
	SourceBytes  int      `json:"source_bytes"`
	SourceFormat string   `json:"source_format"`
	Outputs      []Output `json:"outputs"`
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, step domain.PipelineStep, res *engine.Result) (Output, error)
}

// Processor fetches a job's source once and runs every pipeline step against
// it as an independent engine run.
type Processor struct {
	fetcher     Fetcher
	emitter     Emitter
	engine      *engine.Engine
	parallelism int
}

type Option func(*Processor)

func WithEngine(e *engine.Engine) Option {
	return func(p *Processor) { p.engine = e }
}

// WithParallelism bounds how many steps of one job run at once.
func WithParallelism(n int) Option {
	return func(p *Processor) { p.parallelism = n }
}

func NewProcessor(fetcher Fetcher, emitter Emitter, opts ...Option) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	p := &Processor{
		fetcher:     fetcher,
		emitter:     emitter,
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = engine.New()
	}
	p.parallelism = max(1, p.parallelism)
	return p, nil
}

func NewLocalProcessor(outputDir string, opts ...Option) (*Processor, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, opts...)
}

// Process runs every step. The first failing step cancels the others and no
// outputs are reported.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Pipeline) == 0 {
		return Result{}, errors.New("pipeline must contain at least one step")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	sourceFormat, _ := format.Detect(sourceBytes)

	outputs := make([]Output, len(req.Pipeline))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, step := range req.Pipeline {
		g.Go(func() error {
			out, err := p.runStep(gctx, req, step, sourceBytes)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		SourceBytes:  len(sourceBytes),
		SourceFormat: sourceFormat.String(),
		Outputs:      outputs,
	}, nil
}

func (p *Processor) runStep(ctx context.Context, req Request, step domain.PipelineStep, source []byte) (Output, error) {
	plan, err := step.Plan()
	if err != nil {
		return Output{}, fmt.Errorf("plan step=%s: %w", step.ID, err)
	}

	res, err := p.engine.Run(ctx, source, plan)
	if err != nil {
		return Output{}, fmt.Errorf("transform stage step=%s: %w", step.ID, err)
	}

	written, err := p.emitter.Emit(ctx, req, step, res)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage step=%s: %w", step.ID, err)
	}
	return written, nil
}

type LocalFileFetcher struct {
	// MaxBytes > 0 rejects larger source files before reading them.
	MaxBytes int64
}

func (f LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.MaxBytes > 0 {
		info, err := os.Stat(req.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("stat input file %s: %w", req.ObjectKey, err)
		}
		if info.Size() > f.MaxBytes {
			return nil, fmt.Errorf("input file %s is larger than %d bytes", req.ObjectKey, f.MaxBytes)
		}
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, step domain.PipelineStep, res *engine.Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputName(step, res))
	if err := os.WriteFile(fullPath, res.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return newOutput(step, res, fullPath), nil
}

func outputName(step domain.PipelineStep, res *engine.Result) string {
	return sanitizePathToken(step.ID) + res.Format.Extension()
}

func newOutput(step domain.PipelineStep, res *engine.Result, path string) Output {
	return Output{
		StepID:   step.ID,
		Format:   res.Format.String(),
		Path:     path,
		Bytes:    len(res.Data),
		Width:    res.Width,
		Height:   res.Height,
		Warnings: res.Warnings,
		Success:  true,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
