package engine

import (
	"context"
	"time"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/metadata"
	"github.com/dunamismax/rasterflow/internal/raster"
	"go.uber.org/zap"
)

// Result is the output of a successful Run.
type Result struct {
	Data           []byte                `json:"-"`
	Format         format.Tag            `json:"format"`
	Width          int                   `json:"width"`
	Height         int                   `json:"height"`
	Bands          int                   `json:"bands"`
	Interpretation raster.Interpretation `json:"interpretation"`
	Warnings       []string              `json:"warnings,omitempty"`
	History        []string              `json:"history,omitempty"`
}

// Run executes detect, registry lookup, decode, transforms, metadata policy
// and encode in that order. The first failure stops the run and no output is
// returned with an error.
func (e *Engine) Run(ctx context.Context, buf []byte, plan Plan) (*Result, error) {
	start := time.Now()
	if err := plan.Validate(); err != nil {
		return nil, imgerr.WithStage(imgerr.StageTransform, imgerr.KindInvalidParameter, err)
	}

	ctx, span := e.tracer.Start(ctx, "engine.run")
	defer span.End()

	in, err := e.DetectFormat(ctx, buf)
	if err != nil {
		return nil, err
	}
	out := plan.Format
	if out == format.Unknown {
		out = in
	}

	loader, err := e.loader(ctx, in)
	if err != nil {
		return nil, err
	}
	saver, err := e.saver(ctx, out)
	if err != nil {
		return nil, err
	}

	shrink := max(plan.Shrink, 1)
	var img *raster.Image
	err = e.stage(ctx, imgerr.StageDecode, imgerr.KindDecode, func(ctx context.Context) error {
		var err error
		img, err = e.decode(ctx, loader, buf, in, shrink)
		return err
	})
	if err != nil {
		return nil, err
	}

	if img, err = e.Transform(ctx, img, plan.Operations); err != nil {
		return nil, err
	}
	if img, err = e.ApplyMetadataPolicy(ctx, img, plan.Save); err != nil {
		return nil, err
	}
	data, img, err := e.encode(ctx, saver, img, out, plan.Save)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("run complete",
		zap.String("input_format", in.String()),
		zap.String("output_format", out.String()),
		zap.Int("width", img.Width()),
		zap.Int("height", img.Height()),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{
		Data:           data,
		Format:         out,
		Width:          img.Width(),
		Height:         img.Height(),
		Bands:          img.Bands(),
		Interpretation: img.Interpretation(),
		Warnings:       img.Warnings(),
		History:        img.History(),
	}, nil
}

// Info describes an encoded image without transforming it.
type Info struct {
	Format         format.Tag            `json:"format"`
	Width          int                   `json:"width"`
	Height         int                   `json:"height"`
	Bands          int                   `json:"bands"`
	Interpretation raster.Interpretation `json:"interpretation"`
	HasAlpha       bool                  `json:"has_alpha"`
	HasICCProfile  bool                  `json:"has_icc_profile"`
	ICCProfile     *metadata.ProfileInfo `json:"icc_profile,omitempty"`
	Orientation    int                   `json:"orientation"`
	Metadata       []string              `json:"metadata,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
}

// Inspect detects and decodes buf and reports what it holds.
func (e *Engine) Inspect(ctx context.Context, buf []byte) (*Info, error) {
	tag, err := e.DetectFormat(ctx, buf)
	if err != nil {
		return nil, err
	}
	img, err := e.Decode(ctx, buf, tag, 1)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Format:         tag,
		Width:          img.Width(),
		Height:         img.Height(),
		Bands:          img.Bands(),
		Interpretation: img.Interpretation(),
		HasAlpha:       raster.HasAlpha(img),
		HasICCProfile:  metadata.HasICCProfile(img),
		Orientation:    metadata.Orientation(img),
		Warnings:       img.Warnings(),
	}
	if keys := img.MetaKeys(); len(keys) > 0 {
		info.Metadata = keys
	}
	if profile, err := metadata.Profile(img); err != nil {
		info.Warnings = append(info.Warnings, "icc profile: "+err.Error())
	} else {
		info.ICCProfile = profile
	}
	return info, nil
}
