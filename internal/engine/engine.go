// Package engine runs the detect, decode, transform, metadata and encode
// stages over an encoded buffer.
//
// An Engine is immutable after New and safe for concurrent use; each Run owns
// the rasters it creates.
package engine

import (
	"context"
	"time"

	"github.com/dunamismax/rasterflow/internal/codec"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/logging"
	"github.com/dunamismax/rasterflow/internal/metadata"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/dunamismax/rasterflow/internal/transform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "rasterflow/engine"

// Limits bound the input an engine accepts. Zero disables a limit.
type Limits struct {
	MaxPixels     int64
	MaxInputBytes int
}

// StageObserver is told how long each stage took and whether it failed.
type StageObserver interface {
	ObserveStage(stage imgerr.Stage, d time.Duration, err error)
}

type Engine struct {
	registry *codec.Registry
	limits   Limits
	logger   logging.Logger
	tracer   trace.Tracer
	observer StageObserver
}

type Option func(*Engine)

func WithRegistry(r *codec.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o StageObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// New builds an engine over the default registry unless an option replaces
// it.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: logging.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = codec.Default()
	}
	return e
}

func (e *Engine) Registry() *codec.Registry { return e.registry }

// stage runs fn inside a span and reports its duration. Errors come back
// stamped with the stage.
func (e *Engine) stage(ctx context.Context, stage imgerr.Stage, fallback imgerr.Kind, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "engine."+string(stage))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err != nil && ctx.Err() == nil {
		err = imgerr.WithStage(stage, fallback, err)
	}
	if e.observer != nil {
		e.observer.ObserveStage(stage, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("stage failed", zap.String("stage", string(stage)), zap.Error(err))
	}
	return err
}

// DetectFormat classifies buf by its leading bytes.
func (e *Engine) DetectFormat(ctx context.Context, buf []byte) (format.Tag, error) {
	var tag format.Tag
	err := e.stage(ctx, imgerr.StageDetect, imgerr.KindUnsupportedFormat, func(context.Context) error {
		var err error
		tag, err = format.Detect(buf)
		return err
	})
	return tag, err
}

// Decode turns buf into a raster. shrink >= 1 asks the loader to reduce on
// load; loaders that cannot shrink decode at full size and record a warning.
func (e *Engine) Decode(ctx context.Context, buf []byte, tag format.Tag, shrink int) (*raster.Image, error) {
	loader, err := e.loader(ctx, tag)
	if err != nil {
		return nil, err
	}
	var img *raster.Image
	err = e.stage(ctx, imgerr.StageDecode, imgerr.KindDecode, func(ctx context.Context) error {
		var err error
		img, err = e.decode(ctx, loader, buf, tag, shrink)
		return err
	})
	return img, err
}

func (e *Engine) loader(ctx context.Context, tag format.Tag) (codec.Loader, error) {
	var l codec.Loader
	err := e.stage(ctx, imgerr.StageRegistry, imgerr.KindNotRegistered, func(context.Context) error {
		var err error
		l, err = e.registry.Loader(tag)
		return err
	})
	return l, err
}

func (e *Engine) saver(ctx context.Context, tag format.Tag) (codec.Saver, error) {
	var s codec.Saver
	err := e.stage(ctx, imgerr.StageRegistry, imgerr.KindNotRegistered, func(context.Context) error {
		var err error
		s, err = e.registry.Saver(tag)
		return err
	})
	return s, err
}

func (e *Engine) decode(ctx context.Context, loader codec.Loader, buf []byte, tag format.Tag, shrink int) (*raster.Image, error) {
	if shrink < 1 {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "decode", "shrink %d must be >= 1", shrink)
	}
	if e.limits.MaxInputBytes > 0 && len(buf) > e.limits.MaxInputBytes {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "decode", "input of %d bytes exceeds limit of %d", len(buf), e.limits.MaxInputBytes)
	}
	if e.limits.MaxPixels > 0 {
		w, h, err := loader.Probe(buf)
		if err != nil {
			return nil, imgerr.Wrap(imgerr.KindDecode, tag.String()+"load", err)
		}
		if int64(w)*int64(h) > e.limits.MaxPixels {
			return nil, imgerr.New(imgerr.KindInvalidGeometry, "decode", "%dx%d exceeds pixel limit of %d", w, h, e.limits.MaxPixels)
		}
	}

	factor := shrink
	if _, ok := loader.(codec.ShrinkLoader); !ok && shrink > 1 {
		factor = 1
	}
	img, err := loader.Load(buf, factor)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, tag.String()+"load", err)
	}
	if factor != shrink {
		img.AddWarning("%s: no shrink-on-load, decoded at full size", tag)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("image.format", tag.String()),
		attribute.Int("image.width", img.Width()),
		attribute.Int("image.height", img.Height()),
		attribute.Int("image.bands", img.Bands()),
	)
	for _, w := range img.Warnings() {
		e.logger.Warn("decode warning", zap.String("format", tag.String()), zap.String("warning", w))
	}
	return img, nil
}

// Transform applies ops in order. Cancellation is checked between operations.
func (e *Engine) Transform(ctx context.Context, img *raster.Image, ops []transform.Operation) (*raster.Image, error) {
	err := e.stage(ctx, imgerr.StageTransform, imgerr.KindInvalidParameter, func(ctx context.Context) error {
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			next, err := transform.Apply(img, op)
			if err != nil {
				return err
			}
			img = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ApplyMetadataPolicy strips metadata as opts ask. img is consumed.
func (e *Engine) ApplyMetadataPolicy(ctx context.Context, img *raster.Image, opts SaveOptions) (*raster.Image, error) {
	err := e.stage(ctx, imgerr.StageMetadata, imgerr.KindInvalidParameter, func(context.Context) error {
		switch {
		case opts.Strip:
			img = metadata.RemoveMetadata(img, metadata.Policy{
				RemoveICC:         opts.StripICC,
				RemoveOrientation: opts.StripOrientation,
			})
		case opts.StripICC:
			img = metadata.RemoveICCProfile(img)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Encode validates opts, applies the metadata policy and writes img as tag.
// Rasters the format cannot hold as is are flattened and converted first.
func (e *Engine) Encode(ctx context.Context, img *raster.Image, tag format.Tag, opts SaveOptions) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, imgerr.WithStage(imgerr.StageEncode, imgerr.KindInvalidParameter, err)
	}
	saver, err := e.saver(ctx, tag)
	if err != nil {
		return nil, err
	}
	img, err = e.ApplyMetadataPolicy(ctx, img, opts)
	if err != nil {
		return nil, err
	}
	data, _, err := e.encode(ctx, saver, img, tag, opts)
	return data, err
}

// encode returns the encoded bytes and the raster that was actually written.
func (e *Engine) encode(ctx context.Context, saver codec.Saver, img *raster.Image, tag format.Tag, opts SaveOptions) ([]byte, *raster.Image, error) {
	var (
		out   []byte
		ready *raster.Image
	)
	err := e.stage(ctx, imgerr.StageEncode, imgerr.KindEncode, func(ctx context.Context) error {
		var err error
		ready, err = representable(saver, img, opts)
		if err != nil {
			return err
		}
		params := codec.SaveParams{
			Quality:     opts.quality(),
			Compression: opts.compression(),
			Interlace:   opts.Interlace,
			Lossless:    opts.Lossless,
			Palette:     opts.Palette,
		}
		for _, knob := range codec.Ignored(saver, params) {
			ready.AddWarning("%ssave: %s is not supported by this build and was ignored", tag, knob)
			e.logger.Warn("save option ignored", zap.String("format", tag.String()), zap.String("option", knob))
		}
		out, err = saver.Save(ready, params)
		if err != nil {
			return imgerr.Wrap(imgerr.KindEncode, tag.String()+"save", err)
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("image.format", tag.String()),
			attribute.Int("image.bytes", len(out)),
		)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, ready, nil
}

// representable reshapes img into a layout the saver can write and restores
// an orientation that lost its EXIF block.
func representable(saver codec.Saver, img *raster.Image, opts SaveOptions) (*raster.Image, error) {
	if !saver.Alpha() && raster.HasAlpha(img) {
		flat, err := transform.Flatten(img, opts.Background)
		if err != nil {
			return nil, &imgerr.Error{Kind: imgerr.KindEncode, Op: "flatten", Err: err}
		}
		img = flat
	}
	if w, ok := saver.(codec.GreyAlphaWidener); ok && raster.HasAlpha(img) && img.Interpretation().ColorBands() == 1 {
		target := w.GreyAlphaTarget(img.Interpretation())
		widened, err := transform.Colorspace(img, target)
		if err != nil {
			return nil, &imgerr.Error{Kind: imgerr.KindEncode, Op: "colorspace", Err: err}
		}
		widened.AddWarning("grey with alpha written as %s with alpha", target)
		img = widened
	}
	if target := saver.Target(img.Interpretation()); target != img.Interpretation() {
		converted, err := transform.Colorspace(img, target)
		if err != nil {
			return nil, &imgerr.Error{Kind: imgerr.KindEncode, Op: "colorspace", Err: err}
		}
		img = converted
	}
	if _, ok := img.Meta(raster.MetaEXIF); !ok {
		if o := metadata.Orientation(img); o > 1 {
			img = img.Clone()
			img.SetMeta(raster.MetaEXIF, metadata.OrientationEXIF(o))
		}
	}
	return img, nil
}
