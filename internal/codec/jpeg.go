package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

const (
	markerSOS  = 0xDA
	markerEOI  = 0xD9
	markerAPP1 = 0xE1
	markerAPP2 = 0xE2
)

var (
	exifHeader = []byte("Exif\x00\x00")
	xmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
)

type jpegCodec struct{}

func init() {
	builtins = append(builtins,
		WithLoader(format.JPEG, jpegCodec{}),
		WithSaver(format.JPEG, jpegCodec{}),
	)
}

func (jpegCodec) Probe(buf []byte) (int, int, error) {
	return probeStd("jpegload", buf, jpeg.DecodeConfig)
}

// SupportsShrink reports the DCT scaling factors.
func (jpegCodec) SupportsShrink(factor int) bool {
	switch factor {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func (c jpegCodec) Load(buf []byte, shrink int) (*raster.Image, error) {
	if !c.SupportsShrink(shrink) {
		return nil, imgerr.New(imgerr.KindInvalidParameter, "jpegload", "shrink %d: jpeg shrinks by 1, 2, 4 or 8", shrink)
	}
	src, err := jpeg.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "jpegload", err)
	}

	var out *raster.Image
	if shrink == 1 {
		out, err = fromStd("jpegload", src)
	} else {
		out, err = shrinkPlanes(src, shrink)
	}
	if err != nil {
		return nil, err
	}

	scanJPEG(buf).apply(out)
	out.Record("jpegload")
	return out, nil
}

// shrinkPlanes box-averages the decoder's native planes straight into the
// reduced raster. Edge blocks average only the pixels they cover. The full
// image has already been decoded by then: image/jpeg has no DCT scaling, so
// this saves memory downstream of the decoder only.
func shrinkPlanes(src image.Image, factor int) (*raster.Image, error) {
	bands, interp := layoutOf(src)
	b := src.Bounds()
	w := (b.Dx() + factor - 1) / factor
	h := (b.Dy() + factor - 1) / factor
	out, err := raster.New(w, h, bands, 1, interp)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "jpegload", err)
	}

	var sample func(x, y int, acc []int)
	switch m := src.(type) {
	case *image.YCbCr:
		sample = func(x, y int, acc []int) {
			yi, ci := m.YOffset(x, y), m.COffset(x, y)
			r, g, bl := color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
			acc[0] += int(r)
			acc[1] += int(g)
			acc[2] += int(bl)
		}
	case *image.Gray:
		sample = func(x, y int, acc []int) {
			acc[0] += int(m.Pix[m.PixOffset(x, y)])
		}
	case *image.CMYK:
		sample = func(x, y int, acc []int) {
			i := m.PixOffset(x, y)
			for k := 0; k < 4; k++ {
				acc[k] += int(m.Pix[i+k])
			}
		}
	default:
		return nil, imgerr.New(imgerr.KindDecode, "jpegload", "unexpected jpeg plane layout %T", src)
	}

	pix := out.Pix()
	acc := make([]int, bands)
	i := 0
	for oy := 0; oy < h; oy++ {
		y0 := b.Min.Y + oy*factor
		y1 := min(y0+factor, b.Max.Y)
		for ox := 0; ox < w; ox++ {
			x0 := b.Min.X + ox*factor
			x1 := min(x0+factor, b.Max.X)
			clear(acc)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sample(x, y, acc)
				}
			}
			n := (y1 - y0) * (x1 - x0)
			for k := 0; k < bands; k++ {
				pix[i] = uint8((acc[k] + n/2) / n)
				i++
			}
		}
	}
	return out, nil
}

type jpegSegments struct {
	exif     []byte
	xmp      []byte
	icc      []byte
	warnings []string
}

func (segs jpegSegments) apply(out *raster.Image) {
	for _, w := range segs.warnings {
		out.AddWarning("jpegload: %s", w)
	}
	if len(segs.exif) > 0 {
		out.SetMeta(raster.MetaEXIF, segs.exif)
	}
	if len(segs.xmp) > 0 {
		out.SetMeta(raster.MetaXMP, segs.xmp)
	}
	if len(segs.icc) > 0 {
		out.SetMeta(raster.MetaICCProfile, segs.icc)
	}
}

// scanJPEG walks the marker segments before the first scan. Damage in the
// metadata segments is reported as warnings; the pixel decoder decides
// whether the file is usable.
func scanJPEG(buf []byte) jpegSegments {
	var segs jpegSegments
	var app2 [][]byte

	pos := 2
	for pos+4 <= len(buf) {
		if buf[pos] != 0xFF {
			segs.warnings = append(segs.warnings, "marker sync lost before scan")
			break
		}
		marker := buf[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == markerSOS || marker == markerEOI {
			break
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8) {
			pos += 2
			continue
		}
		length := int(binary.BigEndian.Uint16(buf[pos+2:]))
		if length < 2 || pos+2+length > len(buf) {
			segs.warnings = append(segs.warnings, "truncated marker segment")
			break
		}
		payload := buf[pos+4 : pos+2+length]

		switch marker {
		case markerAPP1:
			switch {
			case bytes.HasPrefix(payload, exifHeader):
				segs.exif = payload[len(exifHeader):]
			case bytes.HasPrefix(payload, xmpHeader):
				segs.xmp = payload[len(xmpHeader):]
			}
		case markerAPP2:
			app2 = append(app2, payload)
		}
		pos += 2 + length
	}

	icc, err := joinICC(app2)
	if err != nil {
		segs.warnings = append(segs.warnings, "ignoring icc profile: "+err.Error())
	} else {
		segs.icc = icc
	}
	return segs
}

func (jpegCodec) Target(interp raster.Interpretation) raster.Interpretation {
	return srgbTarget(interp)
}

func (jpegCodec) Alpha() bool { return false }

// Ignored reports that progressive output needs the libvips saver.
func (jpegCodec) Ignored(params SaveParams) []string {
	if params.Interlace {
		return []string{"interlace"}
	}
	return nil
}

func (jpegCodec) Save(img *raster.Image, params SaveParams) ([]byte, error) {
	src, err := toStd("jpegsave", img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: params.Quality}); err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, "jpegsave", err)
	}

	segments, err := jpegMetadataSegments(img)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, "jpegsave", err)
	}
	return spliceAfterSOI(buf.Bytes(), segments), nil
}

func jpegMetadataSegments(img *raster.Image) ([]byte, error) {
	var out []byte
	if exif, ok := img.Meta(raster.MetaEXIF); ok && len(exif)+len(exifHeader) <= 0xFFFF-2 {
		out = appendSegment(out, markerAPP1, exifHeader, exif)
	}
	if xmp, ok := img.Meta(raster.MetaXMP); ok && len(xmp)+len(xmpHeader) <= 0xFFFF-2 {
		out = appendSegment(out, markerAPP1, xmpHeader, xmp)
	}
	if icc, ok := img.Meta(raster.MetaICCProfile); ok && len(icc) > 0 {
		chunks, err := splitICC(icc)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			out = appendSegment(out, markerAPP2, nil, c)
		}
	}
	return out, nil
}

func appendSegment(dst []byte, marker byte, header, payload []byte) []byte {
	n := 2 + len(header) + len(payload)
	dst = append(dst, 0xFF, marker, byte(n>>8), byte(n))
	dst = append(dst, header...)
	return append(dst, payload...)
}

func spliceAfterSOI(stream, segments []byte) []byte {
	if len(segments) == 0 {
		return stream
	}
	out := make([]byte, 0, len(stream)+len(segments))
	out = append(out, stream[:2]...)
	out = append(out, segments...)
	return append(out, stream[2:]...)
}
