package transform

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const defaultWatermarkOpacity = 0.65

var gravities = map[string]bool{
	"": true, "northwest": true, "north": true, "northeast": true, "west": true,
	"center": true, "east": true, "southwest": true, "south": true, "southeast": true,
}

func validateWatermark(op Operation) error {
	if strings.TrimSpace(op.Text) == "" {
		return imgerr.New(imgerr.KindInvalidParameter, "watermark", "text is required")
	}
	if op.Opacity < 0 || op.Opacity > 1 {
		return imgerr.New(imgerr.KindInvalidParameter, "watermark", "opacity %g outside 0-1", op.Opacity)
	}
	if !gravities[strings.ToLower(strings.TrimSpace(op.Gravity))] {
		return imgerr.New(imgerr.KindInvalidParameter, "watermark", "unknown gravity %q", op.Gravity)
	}
	return nil
}

// Watermark draws text in white with the given opacity (0 selects 0.65),
// placed by gravity (southeast when empty).
func Watermark(img *raster.Image, text string, opacity float64, gravity string) (*raster.Image, error) {
	if err := validateWatermark(Operation{Text: text, Opacity: opacity, Gravity: gravity}); err != nil {
		return nil, err
	}
	if opacity == 0 {
		opacity = defaultWatermarkOpacity
	}
	src, err := raster.ToImage(img)
	if err != nil {
		return nil, err
	}
	dst, ok := src.(draw.Image)
	if !ok {
		return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "watermark", "cannot draw on %s", img)
	}

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	drawer := &font.Drawer{Dst: dst, Face: face}
	text = strings.TrimSpace(text)
	width := drawer.MeasureString(text).Ceil()
	x, baseline := watermarkPosition(dst.Bounds(), width, height, ascent, gravity)

	a := uint8(math.Round(opacity * 255))
	drawer.Src = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: a})
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)

	out, err := raster.FromImage(dst, img.Bands(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	carry(out, img)
	return out, nil
}

func watermarkPosition(bounds image.Rectangle, textWidth, textHeight, ascent int, gravity string) (int, int) {
	const pad = 12

	minX, minY := bounds.Min.X, bounds.Min.Y
	maxX, maxY := bounds.Max.X, bounds.Max.Y

	left := minX + pad
	centre := minX + (bounds.Dx()-textWidth)/2
	right := maxX - textWidth - pad

	top := minY + pad + ascent
	middle := minY + (bounds.Dy()-textHeight)/2 + ascent
	bottom := maxY - pad

	var x, y int
	switch strings.ToLower(strings.TrimSpace(gravity)) {
	case "northwest":
		x, y = left, top
	case "north":
		x, y = centre, top
	case "northeast":
		x, y = right, top
	case "west":
		x, y = left, middle
	case "center":
		x, y = centre, middle
	case "east":
		x, y = right, middle
	case "southwest":
		x, y = left, bottom
	case "south":
		x, y = centre, bottom
	default:
		x, y = right, bottom
	}
	return min(max(x, minX), maxX), min(max(y, minY+ascent), maxY)
}
