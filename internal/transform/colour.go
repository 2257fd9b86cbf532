package transform

import (
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

var convertible = map[raster.Interpretation]bool{
	raster.BW:     true,
	raster.SRGB:   true,
	raster.CMYK:   true,
	raster.RGB16:  true,
	raster.Grey16: true,
}

// IsColorspaceSupported reports whether img's interpretation and band layout
// can take part in a colorspace conversion.
func IsColorspaceSupported(img *raster.Image) bool {
	interp := img.Interpretation()
	if !convertible[interp] {
		return false
	}
	if img.BytesPerSample() != interp.Depth() {
		return false
	}
	n := interp.ColorBands()
	return img.Bands() == n || (img.Bands() == n+1 && raster.HasAlpha(img))
}

// Colorspace converts img to target with the device-space formulas: Rec. 601
// luma for grey and naive ink complements for CMYK. Alpha is carried over and
// rescaled to the target depth. The ICC profile no longer describes the
// pixels once the interpretation changes, so it is dropped.
func Colorspace(img *raster.Image, target raster.Interpretation) (*raster.Image, error) {
	if img.Interpretation() == target {
		return img, nil
	}
	if !IsColorspaceSupported(img) {
		return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "colorspace",
			"cannot convert from %s", img)
	}
	if !convertible[target] {
		return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "colorspace",
			"cannot convert %s to %s", img.Interpretation(), target)
	}

	alpha := raster.HasAlpha(img)
	srcColour := img.Interpretation().ColorBands()
	dstColour := target.ColorBands()
	bands := dstColour
	if alpha {
		bands++
	}
	out, err := img.Derive(img.Width(), img.Height(), bands, target.Depth(), target)
	if err != nil {
		return nil, err
	}
	out.DeleteMeta(raster.MetaICCProfile)

	srcMax, dstMax := img.MaxValue(), out.MaxValue()
	in := make([]float64, srcColour)
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			for b := range in {
				in[b] = img.At(x, y, b) / srcMax
			}
			r, g, bl := toRGB(img.Interpretation(), in)
			switch dstColour {
			case 1:
				out.Set(x, y, 0, luma(r, g, bl)*dstMax)
			case 3:
				out.Set(x, y, 0, r*dstMax)
				out.Set(x, y, 1, g*dstMax)
				out.Set(x, y, 2, bl*dstMax)
			case 4:
				c, m, ye, k := toCMYK(r, g, bl)
				out.Set(x, y, 0, c*dstMax)
				out.Set(x, y, 1, m*dstMax)
				out.Set(x, y, 2, ye*dstMax)
				out.Set(x, y, 3, k*dstMax)
			}
			if alpha {
				out.Set(x, y, dstColour, img.At(x, y, srcColour)/srcMax*dstMax)
			}
		}
	}
	return out, nil
}

// toRGB maps normalised colour samples to normalised RGB.
func toRGB(interp raster.Interpretation, s []float64) (r, g, b float64) {
	switch interp.ColorBands() {
	case 1:
		return s[0], s[0], s[0]
	case 4:
		k := 1 - s[3]
		return (1 - s[0]) * k, (1 - s[1]) * k, (1 - s[2]) * k
	default:
		return s[0], s[1], s[2]
	}
}

func toCMYK(r, g, b float64) (c, m, y, k float64) {
	k = 1 - max(r, g, b)
	if k >= 1 {
		return 0, 0, 0, 1
	}
	d := 1 - k
	return (1 - r - k) / d, (1 - g - k) / d, (1 - b - k) / d, k
}

func luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Flatten composites img over background (0-255 scale, black when empty) and
// drops the alpha band. Images without alpha pass through.
func Flatten(img *raster.Image, background []float64) (*raster.Image, error) {
	if !raster.HasAlpha(img) {
		return img, nil
	}
	if err := validateBackground("flatten", background); err != nil {
		return nil, err
	}
	colour := img.Bands() - 1
	out, err := img.Derive(img.Width(), img.Height(), colour, img.BytesPerSample(), img.Interpretation())
	if err != nil {
		return nil, err
	}
	max := img.MaxValue()
	bg := make([]float64, colour)
	for b := range bg {
		bg[b] = backgroundValue(img, background, b) * max / 255
	}
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			a := img.At(x, y, colour) / max
			for b := 0; b < colour; b++ {
				out.Set(x, y, b, img.At(x, y, b)*a+bg[b]*(1-a))
			}
		}
	}
	return out, nil
}
