package transform

import (
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// Direction is a flip axis.
type Direction string

const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
)

func (d Direction) validate() error {
	switch Direction(strings.ToLower(string(d))) {
	case Horizontal, Vertical:
		return nil
	}
	return imgerr.New(imgerr.KindInvalidParameter, "flip", "unknown direction %q", d)
}

// Flip mirrors img left-right (Horizontal) or top-bottom (Vertical).
func Flip(img *raster.Image, dir Direction) (*raster.Image, error) {
	if err := dir.validate(); err != nil {
		return nil, err
	}
	out := img.DeriveSame()
	src, dst := img.Pix(), out.Pix()
	stride, px := img.Stride(), img.PixelSize()
	w, h := img.Width(), img.Height()

	if Direction(strings.ToLower(string(dir))) == Vertical {
		for y := 0; y < h; y++ {
			copy(dst[y*stride:(y+1)*stride], src[(h-1-y)*stride:(h-y)*stride])
		}
		return out, nil
	}
	for y := 0; y < h; y++ {
		row := y * stride
		for x := 0; x < w; x++ {
			copy(dst[row+x*px:row+(x+1)*px], src[row+(w-1-x)*px:row+(w-x)*px])
		}
	}
	return out, nil
}

// ExtractArea crops the rectangle at (left, top) of the given size.
func ExtractArea(img *raster.Image, left, top, width, height int) (*raster.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, imgerr.New(imgerr.KindInvalidGeometry, "extract_area", "empty area %dx%d", width, height)
	}
	if left < 0 || top < 0 || left+width > img.Width() || top+height > img.Height() {
		return nil, imgerr.New(imgerr.KindInvalidGeometry, "extract_area",
			"area %dx%d+%d+%d outside %dx%d image", width, height, left, top, img.Width(), img.Height())
	}
	out, err := img.Derive(width, height, img.Bands(), img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	src, dst := img.Pix(), out.Pix()
	n := out.Stride()
	for y := 0; y < height; y++ {
		o := img.Offset(left, top+y)
		copy(dst[y*n:(y+1)*n], src[o:o+n])
	}
	return out, nil
}

// Zoom replicates every pixel xfac times across and yfac times down.
func Zoom(img *raster.Image, xfac, yfac int) (*raster.Image, error) {
	if err := validateZoom(xfac, yfac); err != nil {
		return nil, err
	}
	if xfac == 1 && yfac == 1 {
		return img, nil
	}
	out, err := img.Derive(img.Width()*xfac, img.Height()*yfac, img.Bands(), img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	src, dst := img.Pix(), out.Pix()
	px, n := img.PixelSize(), out.Stride()
	for y := 0; y < img.Height(); y++ {
		row := dst[y*yfac*n : (y*yfac+1)*n]
		for x := 0; x < img.Width(); x++ {
			p := src[img.Offset(x, y) : img.Offset(x, y)+px]
			for k := 0; k < xfac; k++ {
				copy(row[(x*xfac+k)*px:], p)
			}
		}
		for k := 1; k < yfac; k++ {
			copy(dst[(y*yfac+k)*n:(y*yfac+k+1)*n], row)
		}
	}
	return out, nil
}

// Extend says how embed fills the canvas outside the placed image.
type Extend string

const (
	ExtendBlack      Extend = "black"
	ExtendWhite      Extend = "white"
	ExtendCopy       Extend = "copy"
	ExtendMirror     Extend = "mirror"
	ExtendRepeat     Extend = "repeat"
	ExtendBackground Extend = "background"
)

func parseExtend(e Extend) (Extend, error) {
	switch v := Extend(strings.ToLower(string(e))); v {
	case "":
		return ExtendBlack, nil
	case ExtendBlack, ExtendWhite, ExtendCopy, ExtendMirror, ExtendRepeat, ExtendBackground:
		return v, nil
	}
	return "", imgerr.New(imgerr.KindInvalidParameter, "embed", "unknown extend mode %q", e)
}

func validateEmbed(op Operation) error {
	if op.Width <= 0 || op.Height <= 0 {
		return imgerr.New(imgerr.KindInvalidParameter, "embed", "canvas must be positive, got %dx%d", op.Width, op.Height)
	}
	if _, err := parseExtend(op.Extend); err != nil {
		return err
	}
	return validateBackground("embed", op.Background)
}

// Embed places img at (left, top) on a width x height canvas. The canvas
// must contain the whole image.
func Embed(img *raster.Image, left, top, width, height int, extend Extend, background []float64) (*raster.Image, error) {
	mode, err := parseExtend(extend)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "embed", "canvas must be positive, got %dx%d", width, height)
	}
	w, h := img.Width(), img.Height()
	if left < 0 || top < 0 || left+w > width || top+h > height {
		return nil, imgerr.New(imgerr.KindInvalidGeometry, "embed",
			"%dx%d image at +%d+%d does not fit a %dx%d canvas", w, h, left, top, width, height)
	}
	out, err := img.Derive(width, height, img.Bands(), img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}

	src, dst := img.Pix(), out.Pix()
	px := img.PixelSize()

	var fill []byte
	switch mode {
	case ExtendWhite:
		fill = fillPixel(img, nil, true)
	case ExtendBackground:
		fill = fillPixel(img, background, false)
	case ExtendBlack:
		fill = make([]byte, px)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := out.Offset(x, y)
			sx, sy := x-left, y-top
			if sx >= 0 && sx < w && sy >= 0 && sy < h {
				copy(dst[d:d+px], src[img.Offset(sx, sy):])
				continue
			}
			if fill != nil {
				copy(dst[d:d+px], fill)
				continue
			}
			sx, sy = edge(mode, sx, w), edge(mode, sy, h)
			copy(dst[d:d+px], src[img.Offset(sx, sy):img.Offset(sx, sy)+px])
		}
	}
	return out, nil
}

// edge maps an out-of-range coordinate back into [0, n).
func edge(mode Extend, v, n int) int {
	switch mode {
	case ExtendRepeat:
		v %= n
		if v < 0 {
			v += n
		}
		return v
	case ExtendMirror:
		p := 2 * n
		v %= p
		if v < 0 {
			v += p
		}
		if v >= n {
			v = p - 1 - v
		}
		return v
	default:
		if v < 0 {
			return 0
		}
		if v >= n {
			return n - 1
		}
		return v
	}
}

// fillPixel encodes a constant pixel in img's layout. Background values are on
// the 0-255 scale and are spread over the colour bands; alpha is opaque.
func fillPixel(img *raster.Image, background []float64, white bool) []byte {
	probe, _ := raster.New(1, 1, img.Bands(), img.BytesPerSample(), img.Interpretation())
	max := probe.MaxValue()
	colour := colourBands(img)
	for b := 0; b < img.Bands(); b++ {
		switch {
		case white, b >= colour:
			probe.Set(0, 0, b, max)
		default:
			probe.Set(0, 0, b, backgroundValue(img, background, b)*max/255)
		}
	}
	return probe.Pix()
}

// colourBands is the number of leading non-alpha bands.
func colourBands(img *raster.Image) int {
	if raster.HasAlpha(img) {
		return img.Bands() - 1
	}
	return img.Bands()
}

// backgroundValue picks the background component for colour band b. A single
// grey band takes the luma of an RGB background; CMYK treats the background
// as ink coverage.
func backgroundValue(img *raster.Image, bg []float64, b int) float64 {
	if len(bg) == 0 {
		return 0
	}
	if img.Interpretation().ColorBands() == 1 && len(bg) >= 3 {
		return 0.299*bg[0] + 0.587*bg[1] + 0.114*bg[2]
	}
	if b < len(bg) {
		return bg[b]
	}
	return bg[len(bg)-1]
}

func quarterTurns(angle int) (int, error) {
	a := ((angle % 360) + 360) % 360
	if a%90 != 0 {
		return 0, imgerr.New(imgerr.KindInvalidParameter, "rotate", "angle %d is not a multiple of 90", angle)
	}
	return a / 90, nil
}

// Rotate turns img clockwise by a multiple of 90 degrees.
func Rotate(img *raster.Image, angle int) (*raster.Image, error) {
	turns, err := quarterTurns(angle)
	if err != nil {
		return nil, err
	}
	if turns == 0 {
		return img, nil
	}
	w, h := img.Width(), img.Height()
	ow, oh := w, h
	if turns%2 == 1 {
		ow, oh = h, w
	}
	out, err := img.Derive(ow, oh, img.Bands(), img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	src, dst := img.Pix(), out.Pix()
	px := img.PixelSize()
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var sx, sy int
			switch turns {
			case 1:
				sx, sy = y, h-1-x
			case 2:
				sx, sy = w-1-x, h-1-y
			case 3:
				sx, sy = w-1-y, x
			}
			s := img.Offset(sx, sy)
			copy(dst[out.Offset(x, y):], src[s:s+px])
		}
	}
	return out, nil
}
