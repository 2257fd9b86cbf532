package engine

import (
	"fmt"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/transform"
)

const (
	DefaultQuality     = 80
	DefaultCompression = 6
)

// SaveOptions are the encoder knobs of a plan.
type SaveOptions struct {
	// Quality is 1-100; 0 selects DefaultQuality.
	Quality int `json:"quality,omitempty"`
	// Compression is 0-9; nil selects DefaultCompression.
	Compression *int `json:"compression,omitempty"`
	Interlace   bool `json:"interlace,omitempty"`
	Lossless    bool `json:"lossless,omitempty"`
	Palette     bool `json:"palette,omitempty"`

	// Strip removes EXIF and XMP before encoding. The orientation survives
	// unless StripOrientation is also set.
	Strip            bool `json:"strip,omitempty"`
	StripICC         bool `json:"strip_icc,omitempty"`
	StripOrientation bool `json:"strip_orientation,omitempty"`

	// Background is composited under alpha for targets without alpha, on the
	// 0-255 scale. Empty means black.
	Background []float64 `json:"background,omitempty"`
}

// Validate rejects out-of-range knobs.
func (o SaveOptions) Validate() error {
	if o.Quality < 0 || o.Quality > 100 {
		return imgerr.New(imgerr.KindInvalidParameter, "save", "quality %d outside 1-100", o.Quality)
	}
	if o.Compression != nil && (*o.Compression < 0 || *o.Compression > 9) {
		return imgerr.New(imgerr.KindInvalidParameter, "save", "compression %d outside 0-9", *o.Compression)
	}
	for _, v := range o.Background {
		if v < 0 || v > 255 {
			return imgerr.New(imgerr.KindInvalidParameter, "save", "background value %g outside 0-255", v)
		}
	}
	if len(o.Background) > 4 {
		return imgerr.New(imgerr.KindInvalidParameter, "save", "background has %d values", len(o.Background))
	}
	return nil
}

func (o SaveOptions) quality() int {
	if o.Quality == 0 {
		return DefaultQuality
	}
	return o.Quality
}

func (o SaveOptions) compression() int {
	if o.Compression == nil {
		return DefaultCompression
	}
	return *o.Compression
}

// Compression is a helper for building SaveOptions literals.
func Compression(level int) *int {
	return &level
}

// Plan describes one full run from encoded input to encoded output.
type Plan struct {
	// Format is the output format; Unknown keeps the input format.
	Format format.Tag `json:"format,omitempty"`
	// Shrink is the shrink-on-load factor; 0 means 1.
	Shrink     int                   `json:"shrink,omitempty"`
	Operations []transform.Operation `json:"operations,omitempty"`
	Save       SaveOptions           `json:"save"`
}

// Validate checks everything that does not depend on the input image.
func (p Plan) Validate() error {
	if p.Shrink < 0 {
		return imgerr.New(imgerr.KindInvalidParameter, "plan", "shrink %d must be >= 1", p.Shrink)
	}
	for i, op := range p.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return p.Save.Validate()
}
