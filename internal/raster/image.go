package raster

import (
	"image"
	"image/color"

	"github.com/dunamismax/rasterflow/internal/imgerr"
)

// ToImage exposes m as a standard library image so stdlib and x/image
// encoders and resamplers can consume it. The result shares no memory with m.
func ToImage(m *Image) (image.Image, error) {
	r := image.Rect(0, 0, m.width, m.height)
	alpha := HasAlpha(m)

	switch {
	case m.depth == 1 && m.interp == BW && m.bands == 1:
		out := image.NewGray(r)
		copy(out.Pix, m.pix)
		return out, nil

	case m.depth == 1 && m.interp == BW && m.bands == 2:
		out := image.NewNRGBA(r)
		for i, j := 0, 0; i < len(m.pix); i, j = i+2, j+4 {
			g := m.pix[i]
			out.Pix[j], out.Pix[j+1], out.Pix[j+2], out.Pix[j+3] = g, g, g, m.pix[i+1]
		}
		return out, nil

	case m.depth == 1 && m.interp == SRGB && (m.bands == 3 || m.bands == 4):
		out := image.NewNRGBA(r)
		n := m.bands
		for i, j := 0, 0; i < len(m.pix); i, j = i+n, j+4 {
			out.Pix[j], out.Pix[j+1], out.Pix[j+2] = m.pix[i], m.pix[i+1], m.pix[i+2]
			if alpha {
				out.Pix[j+3] = m.pix[i+3]
			} else {
				out.Pix[j+3] = 0xff
			}
		}
		return out, nil

	case m.depth == 1 && m.interp == CMYK && m.bands == 4:
		out := image.NewCMYK(r)
		copy(out.Pix, m.pix)
		return out, nil

	case m.depth == 2 && m.interp == Grey16 && m.bands == 1:
		out := image.NewGray16(r)
		copy(out.Pix, m.pix)
		return out, nil

	case m.depth == 2 && m.interp == Grey16 && m.bands == 2:
		out := image.NewNRGBA64(r)
		for i, j := 0, 0; i < len(m.pix); i, j = i+4, j+8 {
			hi, lo := m.pix[i], m.pix[i+1]
			out.Pix[j], out.Pix[j+1] = hi, lo
			out.Pix[j+2], out.Pix[j+3] = hi, lo
			out.Pix[j+4], out.Pix[j+5] = hi, lo
			out.Pix[j+6], out.Pix[j+7] = m.pix[i+2], m.pix[i+3]
		}
		return out, nil

	case m.depth == 2 && m.interp == RGB16 && (m.bands == 3 || m.bands == 4):
		out := image.NewNRGBA64(r)
		n := m.bands * 2
		for i, j := 0, 0; i < len(m.pix); i, j = i+n, j+8 {
			copy(out.Pix[j:j+6], m.pix[i:i+6])
			if alpha {
				out.Pix[j+6], out.Pix[j+7] = m.pix[i+6], m.pix[i+7]
			} else {
				out.Pix[j+6], out.Pix[j+7] = 0xff, 0xff
			}
		}
		return out, nil
	}

	return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "to_image", "no standard image layout for %s", m)
}

// FromImage copies src into a new raster with the requested layout. Any
// image.Image is accepted; common concrete types take a direct path.
func FromImage(src image.Image, bands int, interp Interpretation) (*Image, error) {
	b := src.Bounds()
	depth := interp.Depth()
	out, err := New(b.Dx(), b.Dy(), bands, depth, interp)
	if err != nil {
		return nil, err
	}
	if fastCopy(out, src) {
		return out, nil
	}

	alpha := HasAlphaBands(bands, interp)
	colorBands := interp.ColorBands()
	if colorBands == 0 || (colorBands != bands && !(alpha && colorBands == bands-1)) {
		return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "from_image", "%d bands cannot carry %s", bands, interp)
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.At(x, y)
			switch interp {
			case CMYK:
				k := color.CMYKModel.Convert(c).(color.CMYK)
				out.pix[i], out.pix[i+1], out.pix[i+2], out.pix[i+3] = k.C, k.M, k.Y, k.K
				if alpha {
					_, _, _, a := c.RGBA()
					out.pix[i+4] = uint8(a >> 8)
				}
				i += bands
			default:
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				var samples [4]uint16
				switch colorBands {
				case 1:
					samples[0] = luma16(n.R, n.G, n.B)
				case 3:
					samples[0], samples[1], samples[2] = n.R, n.G, n.B
				}
				if alpha {
					samples[colorBands] = n.A
				}
				for s := 0; s < bands; s++ {
					if depth == 2 {
						out.pix[i] = byte(samples[s] >> 8)
						out.pix[i+1] = byte(samples[s])
						i += 2
					} else {
						out.pix[i] = byte(samples[s] >> 8)
						i++
					}
				}
			}
		}
	}
	return out, nil
}

func fastCopy(out *Image, src image.Image) bool {
	switch s := src.(type) {
	case *image.Gray:
		if out.interp != BW || out.bands != 1 || s.Rect.Min != (image.Point{}) {
			return false
		}
		copyRows(out, s.Pix, s.Stride)
		return true
	case *image.Gray16:
		if out.interp != Grey16 || out.bands != 1 || s.Rect.Min != (image.Point{}) {
			return false
		}
		copyRows(out, s.Pix, s.Stride)
		return true
	case *image.CMYK:
		if out.interp != CMYK || out.bands != 4 || s.Rect.Min != (image.Point{}) {
			return false
		}
		copyRows(out, s.Pix, s.Stride)
		return true
	case *image.NRGBA:
		if s.Rect.Min != (image.Point{}) {
			return false
		}
		switch {
		case out.interp == SRGB && out.bands == 4:
			copyRows(out, s.Pix, s.Stride)
		case out.interp == SRGB && out.bands == 3:
			for y := 0; y < out.height; y++ {
				row := s.Pix[y*s.Stride:]
				for x := 0; x < out.width; x++ {
					copy(out.pix[out.Offset(x, y):], row[x*4:x*4+3])
				}
			}
		case out.interp == BW && out.bands == 2:
			for y := 0; y < out.height; y++ {
				row := s.Pix[y*s.Stride:]
				for x := 0; x < out.width; x++ {
					p := row[x*4 : x*4+4]
					i := out.Offset(x, y)
					out.pix[i] = uint8(luma16(uint16(p[0]), uint16(p[1]), uint16(p[2])))
					out.pix[i+1] = p[3]
				}
			}
		default:
			return false
		}
		return true
	case *image.NRGBA64:
		if out.interp != RGB16 || out.bands != 4 || s.Rect.Min != (image.Point{}) {
			return false
		}
		copyRows(out, s.Pix, s.Stride)
		return true
	}
	return false
}

func copyRows(out *Image, pix []byte, stride int) {
	row := out.Stride()
	for y := 0; y < out.height; y++ {
		copy(out.pix[y*row:(y+1)*row], pix[y*stride:y*stride+row])
	}
}

// luma16 is the Rec. 601 weighting image/color uses for GrayModel.
func luma16(r, g, b uint16) uint16 {
	return uint16((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}
