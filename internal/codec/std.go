package codec

import (
	"bytes"
	"image"
	"image/color"
	"io"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// fromStd converts a decoded standard library image into a raster, inferring
// bands from the concrete type and, for RGBA-shaped types, from whether any
// pixel is translucent.
func fromStd(op string, img image.Image) (*raster.Image, error) {
	bands, interp := layoutOf(img)
	out, err := raster.FromImage(img, bands, interp)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, op, err)
	}
	return out, nil
}

func layoutOf(img image.Image) (int, raster.Interpretation) {
	switch m := img.(type) {
	case *image.Gray:
		return 1, raster.BW
	case *image.Gray16:
		return 1, raster.Grey16
	case *image.CMYK:
		return 4, raster.CMYK
	case *image.YCbCr:
		return 3, raster.SRGB
	case *image.RGBA64, *image.NRGBA64:
		if opaque(m) {
			return 3, raster.RGB16
		}
		return 4, raster.RGB16
	case *image.Paletted:
		if paletteOpaque(m.Palette) {
			return 3, raster.SRGB
		}
		return 4, raster.SRGB
	default:
		if opaque(img) {
			return 3, raster.SRGB
		}
		return 4, raster.SRGB
	}
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

func paletteOpaque(p color.Palette) bool {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return false
		}
	}
	return true
}

// probeStd reads dimensions with an image.DecodeConfig style function.
func probeStd(op string, buf []byte, decodeConfig func(r io.Reader) (image.Config, error)) (int, int, error) {
	cfg, err := decodeConfig(bytes.NewReader(buf))
	if err != nil {
		return 0, 0, imgerr.Wrap(imgerr.KindDecode, op, err)
	}
	return cfg.Width, cfg.Height, nil
}

// toStd exposes a raster to a standard library encoder.
func toStd(op string, img *raster.Image) (image.Image, error) {
	out, err := raster.ToImage(img)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, op, err)
	}
	return out, nil
}

// srgbTarget is the Target rule for formats that store 8-bit RGB only.
func srgbTarget(interp raster.Interpretation) raster.Interpretation {
	switch interp {
	case raster.BW, raster.Grey16:
		return raster.BW
	default:
		return raster.SRGB
	}
}

// deepTarget keeps grey and RGB at either depth and sends everything else to sRGB.
func deepTarget(interp raster.Interpretation) raster.Interpretation {
	switch interp {
	case raster.BW, raster.Grey16, raster.SRGB, raster.RGB16:
		return interp
	default:
		return raster.SRGB
	}
}
