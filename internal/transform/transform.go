// Package transform implements the pixel-space operations a pipeline step can
// apply to a raster.
//
// Every operation consumes its input and returns a new raster; an operation
// with nothing to do may return the input itself. Operations are described by
// Operation, a tagged variant that round-trips through JSON, and dispatched
// through a fixed table keyed by Kind.
package transform

import (
	"fmt"
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// Kind selects an operation.
type Kind string

const (
	KindFlip        Kind = "flip"
	KindShrink      Kind = "shrink"
	KindReduce      Kind = "reduce"
	KindZoom        Kind = "zoom"
	KindEmbed       Kind = "embed"
	KindExtractArea Kind = "extract_area"
	KindFlatten     Kind = "flatten"
	KindAffine      Kind = "affine"
	KindColorspace  Kind = "colorspace"
	KindRotate      Kind = "rotate"
	KindAutorotate  Kind = "autorotate"
	KindThumbnail   Kind = "thumbnail"
	KindWatermark   Kind = "watermark"
)

// Operation is one step of a transform chain. Only the fields relevant to
// Kind are read.
type Operation struct {
	Kind Kind `json:"kind"`

	// flip
	Direction Direction `json:"direction,omitempty"`

	// shrink, reduce
	XShrink float64 `json:"xshrink,omitempty"`
	YShrink float64 `json:"yshrink,omitempty"`
	Kernel  string  `json:"kernel,omitempty"`

	// zoom
	XFac int `json:"xfac,omitempty"`
	YFac int `json:"yfac,omitempty"`

	// embed, extract_area, thumbnail
	Left   int `json:"left,omitempty"`
	Top    int `json:"top,omitempty"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// embed, flatten
	Extend     Extend    `json:"extend,omitempty"`
	Background []float64 `json:"background,omitempty"`

	// affine
	Matrix       []float64 `json:"matrix,omitempty"`
	Interpolator string    `json:"interpolator,omitempty"`

	// colorspace
	Interpretation raster.Interpretation `json:"interpretation,omitempty"`

	// rotate
	Angle int `json:"angle,omitempty"`

	// watermark
	Text    string  `json:"text,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
	Gravity string  `json:"gravity,omitempty"`
}

func (op Operation) String() string {
	switch op.Kind {
	case KindFlip:
		return fmt.Sprintf("flip(%s)", op.Direction)
	case KindShrink, KindReduce:
		return fmt.Sprintf("%s(%g,%g)", op.Kind, op.XShrink, op.YShrink)
	case KindZoom:
		return fmt.Sprintf("zoom(%d,%d)", op.XFac, op.YFac)
	case KindEmbed, KindExtractArea:
		return fmt.Sprintf("%s(%d,%d,%d,%d)", op.Kind, op.Left, op.Top, op.Width, op.Height)
	case KindColorspace:
		return fmt.Sprintf("colorspace(%s)", op.Interpretation)
	case KindRotate:
		return fmt.Sprintf("rotate(%d)", op.Angle)
	case KindThumbnail:
		return fmt.Sprintf("thumbnail(%d,%d)", op.Width, op.Height)
	default:
		return string(op.Kind)
	}
}

type entry struct {
	validate func(Operation) error
	apply    func(*raster.Image, Operation) (*raster.Image, error)
}

var table = map[Kind]entry{
	KindFlip: {
		validate: func(op Operation) error { return op.Direction.validate() },
		apply:    func(img *raster.Image, op Operation) (*raster.Image, error) { return Flip(img, op.Direction) },
	},
	KindShrink: {
		validate: func(op Operation) error { return validateFactors("shrink", op.XShrink, op.YShrink) },
		apply:    func(img *raster.Image, op Operation) (*raster.Image, error) { return Shrink(img, op.XShrink, op.YShrink) },
	},
	KindReduce: {
		validate: func(op Operation) error {
			if err := validateFactors("reduce", op.XShrink, op.YShrink); err != nil {
				return err
			}
			_, err := LookupKernel(op.Kernel)
			return err
		},
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			return Reduce(img, op.XShrink, op.YShrink, op.Kernel)
		},
	},
	KindZoom: {
		validate: func(op Operation) error { return validateZoom(op.XFac, op.YFac) },
		apply:    func(img *raster.Image, op Operation) (*raster.Image, error) { return Zoom(img, op.XFac, op.YFac) },
	},
	KindEmbed: {
		validate: func(op Operation) error { return validateEmbed(op) },
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			return Embed(img, op.Left, op.Top, op.Width, op.Height, op.Extend, op.Background)
		},
	},
	KindExtractArea: {
		validate: func(op Operation) error { return nil },
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			return ExtractArea(img, op.Left, op.Top, op.Width, op.Height)
		},
	},
	KindFlatten: {
		validate: func(op Operation) error { return validateBackground("flatten", op.Background) },
		apply:    func(img *raster.Image, op Operation) (*raster.Image, error) { return Flatten(img, op.Background) },
	},
	KindAffine: {
		validate: func(op Operation) error {
			if len(op.Matrix) != 4 {
				return imgerr.New(imgerr.KindInvalidParameter, "affine", "matrix needs 4 values, got %d", len(op.Matrix))
			}
			if err := checkMatrix(Matrix{op.Matrix[0], op.Matrix[1], op.Matrix[2], op.Matrix[3]}); err != nil {
				return err
			}
			_, err := LookupInterpolator(op.Interpolator)
			return err
		},
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			return Affine(img, Matrix{op.Matrix[0], op.Matrix[1], op.Matrix[2], op.Matrix[3]}, op.Interpolator)
		},
	},
	KindColorspace: {
		validate: func(op Operation) error {
			if op.Interpretation == "" {
				return imgerr.New(imgerr.KindInvalidParameter, "colorspace", "interpretation is required")
			}
			_, err := raster.ParseInterpretation(string(op.Interpretation))
			return err
		},
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			target, _ := raster.ParseInterpretation(string(op.Interpretation))
			return Colorspace(img, target)
		},
	},
	KindRotate: {
		validate: func(op Operation) error { _, err := quarterTurns(op.Angle); return err },
		apply:    func(img *raster.Image, op Operation) (*raster.Image, error) { return Rotate(img, op.Angle) },
	},
	KindAutorotate: {
		validate: func(Operation) error { return nil },
		apply:    func(img *raster.Image, _ Operation) (*raster.Image, error) { return Autorotate(img) },
	},
	KindThumbnail: {
		validate: func(op Operation) error { return validateThumbnail(op.Width, op.Height) },
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			return Thumbnail(img, op.Width, op.Height)
		},
	},
	KindWatermark: {
		validate: func(op Operation) error { return validateWatermark(op) },
		apply: func(img *raster.Image, op Operation) (*raster.Image, error) {
			return Watermark(img, op.Text, op.Opacity, op.Gravity)
		},
	},
}

// Kinds lists the supported operation kinds.
func Kinds() []Kind {
	return []Kind{
		KindFlip, KindShrink, KindReduce, KindZoom, KindEmbed, KindExtractArea, KindFlatten,
		KindAffine, KindColorspace, KindRotate, KindAutorotate, KindThumbnail, KindWatermark,
	}
}

// Validate checks an operation's parameters without touching pixels.
// Geometry that depends on the input raster is checked by Apply.
func (op Operation) Validate() error {
	e, ok := table[Kind(strings.ToLower(string(op.Kind)))]
	if !ok {
		return imgerr.New(imgerr.KindInvalidParameter, "transform", "unknown operation %q", op.Kind)
	}
	return e.validate(op)
}

// Apply validates op and runs it against img.
func Apply(img *raster.Image, op Operation) (*raster.Image, error) {
	op.Kind = Kind(strings.ToLower(string(op.Kind)))
	e, ok := table[op.Kind]
	if !ok {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "transform", "unknown operation %q", op.Kind)
	}
	if err := e.validate(op); err != nil {
		return nil, err
	}
	out, err := e.apply(img, op)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindInvalidParameter, string(op.Kind), err)
	}
	out.Record(op.String())
	return out, nil
}

// ApplyAll runs ops in order and stops at the first failure.
func ApplyAll(img *raster.Image, ops []Operation) (*raster.Image, error) {
	for i, op := range ops {
		next, err := Apply(img, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		img = next
	}
	return img, nil
}

func validateFactors(op string, x, y float64) error {
	if !(x > 0) || !(y > 0) {
		return imgerr.New(imgerr.KindInvalidParameter, op, "factors must be > 0, got %g,%g", x, y)
	}
	return nil
}

func validateZoom(x, y int) error {
	if x < 1 || y < 1 {
		return imgerr.New(imgerr.KindInvalidParameter, "zoom", "factors must be >= 1, got %d,%d", x, y)
	}
	return nil
}

func validateBackground(op string, bg []float64) error {
	if len(bg) > raster.MaxBands {
		return imgerr.New(imgerr.KindInvalidParameter, op, "background has %d values", len(bg))
	}
	for _, v := range bg {
		if v < 0 || v > 255 {
			return imgerr.New(imgerr.KindInvalidParameter, op, "background value %g outside 0-255", v)
		}
	}
	return nil
}
