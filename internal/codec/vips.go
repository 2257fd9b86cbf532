//go:build govips && cgo

package codec

import (
	"encoding/binary"
	"strconv"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// With libvips compiled in, PDF, SVG and the whole Magick bucket become
// loadable, JPEG shrinks while decoding and JPEG/PNG saving honours
// interlace.
func init() {
	overrides = append(overrides,
		WithLoader(format.JPEG, vipsJPEGLoader{}),
		WithLoader(format.PDF, vipsLoader{op: "pdfload"}),
		WithLoader(format.SVG, vipsLoader{op: "svgload"}),
		WithLoader(format.Magick, vipsLoader{op: "magickload"}),
		WithSaver(format.JPEG, vipsSaver{tag: format.JPEG, fallback: jpegCodec{}}),
		WithSaver(format.PNG, vipsSaver{tag: format.PNG, fallback: pngCodec{}}),
	)
}

type vipsLoader struct {
	op string
}

func (l vipsLoader) Probe(buf []byte) (int, int, error) {
	ref, err := vips.LoadImageFromBuffer(buf, vips.NewImportParams())
	if err != nil {
		return 0, 0, imgerr.Wrap(imgerr.KindDecode, l.op, err)
	}
	defer ref.Close()
	return ref.Width(), ref.Height(), nil
}

func (l vipsLoader) Load(buf []byte, _ int) (*raster.Image, error) {
	ref, err := vips.LoadImageFromBuffer(buf, vips.NewImportParams())
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, l.op, err)
	}
	defer ref.Close()

	out, err := fromVips(ref)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, l.op, err)
	}
	out.Record(l.op)
	return out, nil
}

// vipsJPEGLoader lets libjpeg scale by 2, 4 or 8 inside the DCT, so a
// shrunk load never holds the full-size image. Probe and the shrink factors
// come from the pure-Go codec.
type vipsJPEGLoader struct {
	jpegCodec
}

func (l vipsJPEGLoader) Load(buf []byte, shrink int) (*raster.Image, error) {
	if !l.SupportsShrink(shrink) {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "jpegload", "shrink %d: jpeg shrinks by 1, 2, 4 or 8", shrink)
	}
	params := vips.NewImportParams()
	if shrink > 1 {
		params.JpegShrinkFactor.Set(shrink)
	}
	ref, err := vips.LoadImageFromBuffer(buf, params)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "jpegload", err)
	}
	defer ref.Close()

	out, err := fromVips(ref)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "jpegload", err)
	}
	scanJPEG(buf).apply(out)
	out.Record("jpegload")
	return out, nil
}

// fromVips copies a libvips image into a raster, casting formats the raster
// cannot hold down to 8-bit sRGB.
func fromVips(ref *vips.ImageRef) (*raster.Image, error) {
	interp := fromVipsInterpretation(ref.Interpretation())
	depth := 1
	switch {
	case ref.BandFormat() == vips.BandFormatUshort && (interp == raster.RGB16 || interp == raster.Grey16):
		depth = 2
	case interp == raster.RGB16 || interp == raster.Grey16 || interp == "":
		if err := ref.ToColorSpace(vips.InterpretationSRGB); err != nil {
			return nil, err
		}
		interp = raster.SRGB
		fallthrough
	default:
		if ref.BandFormat() != vips.BandFormatUchar {
			if err := ref.Cast(vips.BandFormatUchar); err != nil {
				return nil, err
			}
		}
	}

	pix, err := ref.ToBytes()
	if err != nil {
		return nil, err
	}
	if depth == 2 {
		for i := 0; i+1 < len(pix); i += 2 {
			binary.BigEndian.PutUint16(pix[i:], binary.NativeEndian.Uint16(pix[i:]))
		}
	}
	out, err := raster.FromPixels(ref.Width(), ref.Height(), ref.Bands(), depth, interp, pix)
	if err != nil {
		return nil, err
	}
	if icc := ref.GetICCProfile(); len(icc) > 0 {
		out.SetMeta(raster.MetaICCProfile, icc)
	}
	if o := ref.GetOrientation(); o > 0 {
		out.SetMeta(raster.MetaOrientation, []byte(strconv.Itoa(o)))
	}
	return out, nil
}

func fromVipsInterpretation(i vips.Interpretation) raster.Interpretation {
	switch i {
	case vips.InterpretationBW:
		return raster.BW
	case vips.InterpretationSRGB:
		return raster.SRGB
	case vips.InterpretationCMYK:
		return raster.CMYK
	case vips.InterpretationRGB16:
		return raster.RGB16
	case vips.InterpretationGrey16:
		return raster.Grey16
	case vips.InterpretationMultiband:
		return raster.Multiband
	default:
		return ""
	}
}

// vipsSaver hands the raster to libvips through a lossless PNG, which carries
// the ICC profile and EXIF along, then exports with libvips' encoder.
type vipsSaver struct {
	tag      format.Tag
	fallback Saver
}

func (s vipsSaver) Target(interp raster.Interpretation) raster.Interpretation {
	return s.fallback.Target(interp)
}

func (s vipsSaver) Alpha() bool { return s.fallback.Alpha() }

// Ignored drops interlace from the fallback's list; libvips writes it.
func (s vipsSaver) Ignored(params SaveParams) []string {
	params.Interlace = false
	return Ignored(s.fallback, params)
}

func (s vipsSaver) Save(img *raster.Image, params SaveParams) ([]byte, error) {
	if !params.Interlace {
		return s.fallback.Save(img, params)
	}
	op := s.tag.String() + "save"

	handoff, err := pngCodec{}.Save(img, SaveParams{Compression: 0})
	if err != nil {
		return nil, err
	}
	ref, err := vips.NewImageFromBuffer(handoff)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, op, err)
	}
	defer ref.Close()

	var out []byte
	switch s.tag {
	case format.JPEG:
		p := vips.NewJpegExportParams()
		p.Quality = params.Quality
		p.Interlace = true
		out, _, err = ref.ExportJpeg(p)
	default:
		p := vips.NewPngExportParams()
		p.Compression = params.Compression
		p.Interlace = true
		p.Palette = params.Palette
		if params.Palette {
			p.Quality = params.Quality
		}
		out, _, err = ref.ExportPng(p)
	}
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, op, err)
	}
	return out, nil
}
