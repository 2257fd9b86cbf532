package transform

import (
	"math"
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	xdraw "golang.org/x/image/draw"
)

// Matrix is the 2x2 linear map [A B; C D] taking input (x, y) to output
// (A*x + B*y, C*x + D*y).
type Matrix struct {
	A, B, C, D float64
}

func (m Matrix) det() float64 { return m.A*m.D - m.B*m.C }

func checkMatrix(m Matrix) error {
	if math.Abs(m.det()) < 1e-9 {
		return imgerr.New(imgerr.KindInvalidParameter, "affine", "matrix %v is singular", m)
	}
	return nil
}

// Interpolator samples a raster at a fractional position.
type Interpolator string

const (
	InterpNearest  Interpolator = "nearest"
	InterpBilinear Interpolator = "bilinear"
	InterpBicubic  Interpolator = "bicubic"
)

// LookupInterpolator resolves an interpolator by name. The empty name selects
// bilinear.
func LookupInterpolator(name string) (Interpolator, error) {
	switch i := Interpolator(strings.ToLower(name)); i {
	case "":
		return InterpBilinear, nil
	case InterpNearest, InterpBilinear, InterpBicubic:
		return i, nil
	}
	return "", imgerr.New(imgerr.KindInvalidParameter, "affine", "unknown interpolator %q", name)
}

// Affine maps img through m. The output covers the bounding box of the
// transformed image; uncovered pixels are zero.
func Affine(img *raster.Image, m Matrix, interpolator string) (*raster.Image, error) {
	if err := checkMatrix(m); err != nil {
		return nil, err
	}
	interp, err := LookupInterpolator(interpolator)
	if err != nil {
		return nil, err
	}

	w, h := float64(img.Width()), float64(img.Height())
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x := m.A*p[0] + m.B*p[1]
		y := m.C*p[0] + m.D*p[1]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	ox, oy := math.Floor(minX+1e-9), math.Floor(minY+1e-9)
	ow := max(int(math.Ceil(maxX-1e-9)-ox), 1)
	oh := max(int(math.Ceil(maxY-1e-9)-oy), 1)

	out, err := img.Derive(ow, oh, img.Bands(), img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}

	det := m.det()
	ia, ib := m.D/det, -m.B/det
	ic, id := -m.C/det, m.A/det
	bands := img.Bands()
	px := make([]float64, bands)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			dx, dy := float64(x)+0.5+ox, float64(y)+0.5+oy
			u := ia*dx + ib*dy - 0.5
			v := ic*dx + id*dy - 0.5
			if u < -0.5 || v < -0.5 || u > w-0.5 || v > h-0.5 {
				continue
			}
			sample(img, interp, u, v, px)
			for b := 0; b < bands; b++ {
				out.Set(x, y, b, px[b])
			}
		}
	}
	return out, nil
}

// sample interpolates img at pixel-centre coordinates (u, v) into px, clamping
// taps to the image edge.
func sample(img *raster.Image, interp Interpolator, u, v float64, px []float64) {
	w, h := img.Width(), img.Height()
	clamp := func(i, n int) int { return min(max(i, 0), n-1) }

	if interp == InterpNearest {
		x, y := clamp(int(math.Round(u)), w), clamp(int(math.Round(v)), h)
		for b := range px {
			px[b] = img.At(x, y, b)
		}
		return
	}

	k, radius := xdraw.BiLinear, 1
	if interp == InterpBicubic {
		k, radius = xdraw.CatmullRom, 2
	}
	x0, y0 := int(math.Floor(u)), int(math.Floor(v))
	clear(px)
	var total float64
	for j := y0 - radius + 1; j <= y0+radius; j++ {
		wy := weight(k, v-float64(j))
		if wy == 0 {
			continue
		}
		for i := x0 - radius + 1; i <= x0+radius; i++ {
			wgt := wy * weight(k, u-float64(i))
			if wgt == 0 {
				continue
			}
			sx, sy := clamp(i, w), clamp(j, h)
			for b := range px {
				px[b] += wgt * img.At(sx, sy, b)
			}
			total += wgt
		}
	}
	if total != 0 {
		for b := range px {
			px[b] /= total
		}
	}
}
