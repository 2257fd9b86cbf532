package transform

import (
	"math"
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// Kernel names accepted by reduce.
const (
	KernelNearest  = "nearest"
	KernelLinear   = "linear"
	KernelCubic    = "cubic"
	KernelLanczos2 = "lanczos2"
	KernelLanczos3 = "lanczos3"
)

var kernels = map[string]*xdraw.Kernel{
	KernelNearest:  {Support: 0.5, At: func(t float64) float64 { return 1 }},
	KernelLinear:   xdraw.BiLinear,
	KernelCubic:    xdraw.CatmullRom,
	KernelLanczos2: {Support: 2, At: lanczos(2)},
	KernelLanczos3: {Support: 3, At: lanczos(3)},
}

// LookupKernel resolves a reduce kernel by name. The empty name selects
// lanczos3.
func LookupKernel(name string) (*xdraw.Kernel, error) {
	if name == "" {
		name = KernelLanczos3
	}
	k, ok := kernels[strings.ToLower(name)]
	if !ok {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "reduce", "unknown kernel %q", name)
	}
	return k, nil
}

func lanczos(a float64) func(float64) float64 {
	return func(t float64) float64 {
		t = math.Abs(t)
		if t >= a {
			return 0
		}
		return sinc(t) * sinc(t/a)
	}
}

// weight evaluates k at t. Kernel functions are only defined on
// [0, Support).
func weight(k *xdraw.Kernel, t float64) float64 {
	t = math.Abs(t)
	if t >= k.Support {
		return 0
	}
	return k.At(t)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	x *= math.Pi
	return math.Sin(x) / x
}

// scaled is the output length for shrinking n by factor, never below 1.
func scaled(n int, factor float64) int {
	v := int(math.Round(float64(n) / factor))
	if v < 1 {
		return 1
	}
	return v
}

// Shrink box-averages integer blocks, then finishes any fractional residue
// with a lanczos3 reduce. The output is round(w/xshrink) x round(h/yshrink).
func Shrink(img *raster.Image, xshrink, yshrink float64) (*raster.Image, error) {
	if err := validateFactors("shrink", xshrink, yshrink); err != nil {
		return nil, err
	}
	tw, th := scaled(img.Width(), xshrink), scaled(img.Height(), yshrink)
	if tw == img.Width() && th == img.Height() {
		return img, nil
	}

	ix, iy := blockSize(img.Width(), tw), blockSize(img.Height(), th)
	out := img
	if ix > 1 || iy > 1 {
		var err error
		if out, err = boxShrink(img, ix, iy); err != nil {
			return nil, err
		}
	}
	if out.Width() == tw && out.Height() == th {
		return out, nil
	}
	return resample(out, tw, th, kernels[KernelLanczos3])
}

// blockSize is the largest integer block that does not shrink n below want.
func blockSize(n, want int) int {
	if want >= n {
		return 1
	}
	b := n / want
	for b > 1 && (n+b-1)/b < want {
		b--
	}
	return b
}

// boxShrink averages ix x iy blocks. Blocks at the right and bottom edges
// average whatever pixels they cover.
func boxShrink(img *raster.Image, ix, iy int) (*raster.Image, error) {
	w, h, bands := img.Width(), img.Height(), img.Bands()
	ow, oh := (w+ix-1)/ix, (h+iy-1)/iy
	out, err := img.Derive(ow, oh, bands, img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	sum := make([]float64, bands)
	for oy := 0; oy < oh; oy++ {
		y0, y1 := oy*iy, min((oy+1)*iy, h)
		for ox := 0; ox < ow; ox++ {
			x0, x1 := ox*ix, min((ox+1)*ix, w)
			clear(sum)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					for b := 0; b < bands; b++ {
						sum[b] += img.At(x, y, b)
					}
				}
			}
			n := float64((y1 - y0) * (x1 - x0))
			for b := 0; b < bands; b++ {
				out.Set(ox, oy, b, sum[b]/n)
			}
		}
	}
	return out, nil
}

// Reduce resamples by xshrink, yshrink with a separable kernel. The output is
// round(w/xshrink) x round(h/yshrink).
func Reduce(img *raster.Image, xshrink, yshrink float64, kernel string) (*raster.Image, error) {
	if err := validateFactors("reduce", xshrink, yshrink); err != nil {
		return nil, err
	}
	k, err := LookupKernel(kernel)
	if err != nil {
		return nil, err
	}
	tw, th := scaled(img.Width(), xshrink), scaled(img.Height(), yshrink)
	if tw == img.Width() && th == img.Height() {
		return img, nil
	}
	if k == kernels[KernelNearest] {
		return nearest(img, tw, th)
	}
	return resample(img, tw, th, k)
}

func nearest(img *raster.Image, tw, th int) (*raster.Image, error) {
	out, err := img.Derive(tw, th, img.Bands(), img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	src, dst := img.Pix(), out.Pix()
	px := img.PixelSize()
	sx := float64(img.Width()) / float64(tw)
	sy := float64(img.Height()) / float64(th)
	for y := 0; y < th; y++ {
		yy := min(int((float64(y)+0.5)*sy), img.Height()-1)
		for x := 0; x < tw; x++ {
			xx := min(int((float64(x)+0.5)*sx), img.Width()-1)
			s := img.Offset(xx, yy)
			copy(dst[out.Offset(x, y):], src[s:s+px])
		}
	}
	return out, nil
}

type contrib struct {
	first   int
	weights []float64
}

// contributions precomputes the taps of every output sample along one axis.
// Downsampling widens the kernel by the scale so every input sample counts.
func contributions(in, out int, k *xdraw.Kernel) []contrib {
	scale := float64(in) / float64(out)
	fscale := math.Max(scale, 1)
	support := k.Support * fscale
	cs := make([]contrib, out)
	for i := range cs {
		centre := (float64(i) + 0.5) * scale
		lo := max(int(math.Floor(centre-support)), 0)
		hi := min(int(math.Ceil(centre+support)), in-1)
		ws := make([]float64, 0, hi-lo+1)
		var total float64
		for j := lo; j <= hi; j++ {
			w := weight(k, (float64(j)+0.5-centre)/fscale)
			ws = append(ws, w)
			total += w
		}
		if total != 0 {
			for j := range ws {
				ws[j] /= total
			}
		}
		cs[i] = contrib{first: lo, weights: ws}
	}
	return cs
}

// resample scales img to tw x th, horizontally then vertically.
func resample(img *raster.Image, tw, th int, k *xdraw.Kernel) (*raster.Image, error) {
	w, h, bands := img.Width(), img.Height(), img.Bands()
	out, err := img.Derive(tw, th, bands, img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}

	cx := contributions(w, tw, k)
	tmp := make([]float64, tw*h*bands)
	for y := 0; y < h; y++ {
		for x, c := range cx {
			t := (y*tw + x) * bands
			for j, wgt := range c.weights {
				for b := 0; b < bands; b++ {
					tmp[t+b] += wgt * img.At(c.first+j, y, b)
				}
			}
		}
	}

	cy := contributions(h, th, k)
	acc := make([]float64, bands)
	for y, c := range cy {
		for x := 0; x < tw; x++ {
			clear(acc)
			for j, wgt := range c.weights {
				t := ((c.first+j)*tw + x) * bands
				for b := 0; b < bands; b++ {
					acc[b] += wgt * tmp[t+b]
				}
			}
			for b := 0; b < bands; b++ {
				out.Set(x, y, b, acc[b])
			}
		}
	}
	return out, nil
}

func validateThumbnail(width, height int) error {
	if width <= 0 || height < 0 {
		return imgerr.New(imgerr.KindInvalidParameter, "thumbnail", "bounds must be positive, got %dx%d", width, height)
	}
	return nil
}

// Thumbnail scales img to fit inside width x height, keeping its aspect
// ratio. A zero height bounds the width only. 8-bit grey and sRGB rasters go
// through nfnt/resize; other layouts use the lanczos3 reduce.
func Thumbnail(img *raster.Image, width, height int) (*raster.Image, error) {
	if err := validateThumbnail(width, height); err != nil {
		return nil, err
	}
	w, h := float64(img.Width()), float64(img.Height())
	scale := float64(width) / w
	if height > 0 {
		scale = math.Min(scale, float64(height)/h)
	}
	tw := max(int(math.Round(w*scale)), 1)
	th := max(int(math.Round(h*scale)), 1)
	if tw == img.Width() && th == img.Height() {
		return img, nil
	}

	if img.BytesPerSample() == 1 && (img.Interpretation() == raster.SRGB || img.Interpretation() == raster.BW) {
		src, err := raster.ToImage(img)
		if err == nil {
			scaledImg := resize.Resize(uint(tw), uint(th), src, resize.Lanczos3)
			out, err := raster.FromImage(scaledImg, img.Bands(), img.Interpretation())
			if err != nil {
				return nil, err
			}
			carry(out, img)
			return out, nil
		}
	}
	return resample(img, tw, th, kernels[KernelLanczos3])
}

// carry copies metadata, warnings and history onto a raster built outside
// Derive.
func carry(dst, src *raster.Image) {
	for _, k := range src.MetaKeys() {
		v, _ := src.Meta(k)
		dst.SetMeta(k, v)
	}
	for _, w := range src.Warnings() {
		dst.AddWarning("%s", w)
	}
	for _, h := range src.History() {
		dst.Record(h)
	}
}
