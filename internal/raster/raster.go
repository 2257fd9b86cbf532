// Package raster holds the in-memory pixel representation every engine stage
// passes along: a contiguous, band-interleaved sample buffer tagged with its
// geometry, colour interpretation and metadata.
package raster

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
)

// Interpretation tags the colour meaning of a raster's samples.
type Interpretation string

const (
	Multiband Interpretation = "multiband"
	BW        Interpretation = "b-w"
	SRGB      Interpretation = "srgb"
	CMYK      Interpretation = "cmyk"
	RGB16     Interpretation = "rgb16"
	Grey16    Interpretation = "grey16"
)

// ParseInterpretation accepts the canonical names plus the common libvips
// spellings ("sRGB", "B_W", "gray16").
func ParseInterpretation(s string) (Interpretation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multiband":
		return Multiband, nil
	case "b-w", "b_w", "bw", "grey", "gray":
		return BW, nil
	case "srgb", "rgb":
		return SRGB, nil
	case "cmyk":
		return CMYK, nil
	case "rgb16":
		return RGB16, nil
	case "grey16", "gray16":
		return Grey16, nil
	default:
		return "", imgerr.New(imgerr.KindInvalidParameter, "interpretation", "unknown interpretation %q", s)
	}
}

// ColorBands is the number of non-alpha bands an interpretation carries, or 0
// when the interpretation does not fix it.
func (i Interpretation) ColorBands() int {
	switch i {
	case BW, Grey16:
		return 1
	case SRGB, RGB16:
		return 3
	case CMYK:
		return 4
	default:
		return 0
	}
}

// Depth is the natural bytes-per-sample for the interpretation.
func (i Interpretation) Depth() int {
	if i == RGB16 || i == Grey16 {
		return 2
	}
	return 1
}

const (
	MaxBands = 5

	MetaICCProfile  = "icc-profile-data"
	MetaEXIF        = "exif-data"
	MetaXMP         = "xmp-data"
	MetaOrientation = "orientation"
)

// Image is a decoded raster. Its buffer is owned by exactly one pipeline step
// at a time; operations that produce a new raster never alias the input buffer.
type Image struct {
	width  int
	height int
	bands  int
	depth  int
	interp Interpretation
	pix    []byte

	meta     map[string][]byte
	warnings []string
	history  []string
}

// New allocates a zeroed raster.
func New(width, height, bands, depth int, interp Interpretation) (*Image, error) {
	if err := checkGeometry(width, height, bands, depth); err != nil {
		return nil, err
	}
	return &Image{
		width:  width,
		height: height,
		bands:  bands,
		depth:  depth,
		interp: interp,
		pix:    make([]byte, width*height*bands*depth),
	}, nil
}

// FromPixels wraps pix, which becomes owned by the returned image.
func FromPixels(width, height, bands, depth int, interp Interpretation, pix []byte) (*Image, error) {
	if err := checkGeometry(width, height, bands, depth); err != nil {
		return nil, err
	}
	if want := width * height * bands * depth; len(pix) != want {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "raster", "buffer length %d, want %d (%dx%dx%dx%d)", len(pix), want, width, height, bands, depth)
	}
	return &Image{
		width:  width,
		height: height,
		bands:  bands,
		depth:  depth,
		interp: interp,
		pix:    pix,
	}, nil
}

func checkGeometry(width, height, bands, depth int) error {
	if width <= 0 || height <= 0 {
		return imgerr.New(imgerr.KindInvalidParameter, "raster", "dimensions must be positive, got %dx%d", width, height)
	}
	if bands < 1 || bands > MaxBands {
		return imgerr.New(imgerr.KindInvalidParameter, "raster", "bands must be 1-%d, got %d", MaxBands, bands)
	}
	if depth != 1 && depth != 2 {
		return imgerr.New(imgerr.KindInvalidParameter, "raster", "bytes per sample must be 1 or 2, got %d", depth)
	}
	if int64(width)*int64(height)*int64(bands)*int64(depth) > math.MaxInt32*4 {
		return imgerr.New(imgerr.KindInvalidParameter, "raster", "raster of %dx%d is too large", width, height)
	}
	return nil
}

func (m *Image) Width() int                     { return m.width }
func (m *Image) Height() int                    { return m.height }
func (m *Image) Bands() int                     { return m.bands }
func (m *Image) BytesPerSample() int            { return m.depth }
func (m *Image) Interpretation() Interpretation { return m.interp }

// Pix exposes the sample buffer. Samples are band-interleaved, row-major; two
// byte samples are big-endian.
func (m *Image) Pix() []byte { return m.pix }

// PixelSize is the number of bytes per pixel.
func (m *Image) PixelSize() int { return m.bands * m.depth }

// Stride is the number of bytes per row.
func (m *Image) Stride() int { return m.width * m.bands * m.depth }

// Offset returns the buffer index of pixel (x, y).
func (m *Image) Offset(x, y int) int { return (y*m.width + x) * m.bands * m.depth }

// MaxValue is the largest representable sample.
func (m *Image) MaxValue() float64 {
	if m.depth == 2 {
		return 65535
	}
	return 255
}

// At returns sample b of pixel (x, y).
func (m *Image) At(x, y, b int) float64 {
	i := m.Offset(x, y) + b*m.depth
	if m.depth == 2 {
		return float64(uint16(m.pix[i])<<8 | uint16(m.pix[i+1]))
	}
	return float64(m.pix[i])
}

// Set stores v, rounded and clamped, as sample b of pixel (x, y).
func (m *Image) Set(x, y, b int, v float64) {
	m.SetIndex(m.Offset(x, y)+b*m.depth, v)
}

// SampleAt reads the sample starting at buffer index i.
func (m *Image) SampleAt(i int) float64 {
	if m.depth == 2 {
		return float64(uint16(m.pix[i])<<8 | uint16(m.pix[i+1]))
	}
	return float64(m.pix[i])
}

// SetIndex writes v, rounded and clamped, at buffer index i.
func (m *Image) SetIndex(i int, v float64) {
	max := m.MaxValue()
	switch {
	case v <= 0 || math.IsNaN(v):
		v = 0
	case v >= max:
		v = max
	default:
		v = math.Round(v)
	}
	if m.depth == 2 {
		u := uint16(v)
		m.pix[i] = byte(u >> 8)
		m.pix[i+1] = byte(u)
		return
	}
	m.pix[i] = byte(v)
}

// Derive allocates a raster of new geometry that inherits m's metadata,
// warnings and history.
func (m *Image) Derive(width, height, bands, depth int, interp Interpretation) (*Image, error) {
	out, err := New(width, height, bands, depth, interp)
	if err != nil {
		return nil, err
	}
	out.inherit(m)
	return out, nil
}

// DeriveSame allocates a zeroed raster with m's geometry.
func (m *Image) DeriveSame() *Image {
	out := &Image{
		width:  m.width,
		height: m.height,
		bands:  m.bands,
		depth:  m.depth,
		interp: m.interp,
		pix:    make([]byte, len(m.pix)),
	}
	out.inherit(m)
	return out
}

// Clone deep-copies m.
func (m *Image) Clone() *Image {
	out := m.DeriveSame()
	copy(out.pix, m.pix)
	return out
}

// Retag returns a header over m's buffer with a different metadata map. m is
// consumed: callers must not use it afterwards.
func (m *Image) Retag(meta map[string][]byte) *Image {
	out := *m
	out.meta = meta
	out.warnings = append([]string(nil), m.warnings...)
	out.history = append([]string(nil), m.history...)
	m.pix = nil
	return &out
}

func (m *Image) inherit(src *Image) {
	m.meta = src.MetadataCopy()
	m.warnings = append([]string(nil), src.warnings...)
	m.history = append([]string(nil), src.history...)
}

// Meta returns the metadata value stored under key.
func (m *Image) Meta(key string) ([]byte, bool) {
	v, ok := m.meta[key]
	return v, ok
}

// SetMeta stores a metadata value.
func (m *Image) SetMeta(key string, value []byte) {
	if m.meta == nil {
		m.meta = make(map[string][]byte)
	}
	m.meta[key] = value
}

// DeleteMeta removes a metadata value.
func (m *Image) DeleteMeta(key string) {
	delete(m.meta, key)
}

// MetaKeys lists metadata keys in sorted order.
func (m *Image) MetaKeys() []string {
	keys := make([]string, 0, len(m.meta))
	for k := range m.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetadataCopy returns a shallow copy of the metadata map.
func (m *Image) MetadataCopy() map[string][]byte {
	if len(m.meta) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(m.meta))
	for k, v := range m.meta {
		out[k] = v
	}
	return out
}

// Warnings returns the non-fatal problems collected while producing m.
func (m *Image) Warnings() []string { return m.warnings }

// AddWarning records a non-fatal problem.
func (m *Image) AddWarning(format string, args ...any) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

// History lists the operations applied to produce m, oldest first.
func (m *Image) History() []string { return m.history }

// Record appends an operation to m's history.
func (m *Image) Record(op string) {
	m.history = append(m.history, op)
}

func (m *Image) String() string {
	return fmt.Sprintf("%dx%d %s bands=%d depth=%d", m.width, m.height, m.interp, m.bands, m.depth)
}
