package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"strconv"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/klauspost/compress/zlib"
	exiftiff "github.com/rwcarlsen/goexif/tiff"
	"golang.org/x/image/tiff"
)

const (
	tiffTagImageWidth      = 256
	tiffTagImageLength     = 257
	tiffTagBitsPerSample   = 258
	tiffTagCompression     = 259
	tiffTagPhotometric     = 262
	tiffTagStripOffsets    = 273
	tiffTagOrientation     = 274
	tiffTagSamplesPerPixel = 277
	tiffTagRowsPerStrip    = 278
	tiffTagStripByteCounts = 279
	tiffTagPlanarConfig    = 284
	tiffTagPredictor       = 317
	tiffTagExtraSamples    = 338
	tiffTagXMP             = 700
	tiffTagICC             = 34675

	tiffShort = 3
	tiffLong  = 4

	tiffUncompressed = 1
	tiffDeflate      = 8

	tiffBlackIsZero = 1
	tiffRGB         = 2
)

type tiffCodec struct{}

func init() {
	builtins = append(builtins,
		WithLoader(format.TIFF, tiffCodec{}),
		WithSaver(format.TIFF, tiffCodec{}),
	)
}

func (tiffCodec) Probe(buf []byte) (int, int, error) {
	return probeStd("tiffload", buf, tiff.DecodeConfig)
}

func (tiffCodec) Load(buf []byte, _ int) (*raster.Image, error) {
	src, err := tiff.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "tiffload", err)
	}
	tags, tagErr := readTIFFTags(buf)
	bands, interp := tiffLayout(src, tags.samples)
	out, err := raster.FromImage(src, bands, interp)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "tiffload", err)
	}
	if tagErr != nil {
		out.AddWarning("tiffload: reading tags: %v", tagErr)
	}
	tags.apply(out)
	out.Record("tiffload")
	return out, nil
}

// tiffLayout takes the band count from SamplesPerPixel. x/image/tiff decodes
// RGB with and without an extra sample into the same RGBA types, so only the
// header tells them apart. Without a readable header it falls back to the
// pixel scan.
func tiffLayout(src image.Image, samples int) (int, raster.Interpretation) {
	switch src.(type) {
	case *image.NRGBA:
		return 4, raster.SRGB
	case *image.NRGBA64:
		return 4, raster.RGB16
	case *image.RGBA:
		if samples == 3 {
			return 3, raster.SRGB
		}
		if samples == 4 {
			return 4, raster.SRGB
		}
	case *image.RGBA64:
		if samples == 3 {
			return 3, raster.RGB16
		}
		if samples == 4 {
			return 4, raster.RGB16
		}
	}
	return layoutOf(src)
}

type tiffTags struct {
	samples     int
	icc         []byte
	xmp         []byte
	orientation int
}

// readTIFFTags reads the layout and metadata tags of the first IFD.
func readTIFFTags(buf []byte) (tiffTags, error) {
	var tags tiffTags
	t, err := exiftiff.Decode(bytes.NewReader(buf))
	if err != nil {
		return tags, err
	}
	if len(t.Dirs) == 0 {
		return tags, nil
	}
	for _, tag := range t.Dirs[0].Tags {
		switch tag.Id {
		case tiffTagSamplesPerPixel:
			if tags.samples, err = tag.Int(0); err != nil {
				return tags, err
			}
		case tiffTagICC:
			tags.icc = tag.Val
		case tiffTagXMP:
			tags.xmp = tag.Val
		case tiffTagOrientation:
			if tags.orientation, err = tag.Int(0); err != nil {
				return tags, err
			}
		}
	}
	return tags, nil
}

// apply copies the ICC profile, XMP packet and orientation into out.
func (t tiffTags) apply(out *raster.Image) {
	if len(t.icc) > 0 {
		out.SetMeta(raster.MetaICCProfile, t.icc)
	}
	if len(t.xmp) > 0 {
		out.SetMeta(raster.MetaXMP, t.xmp)
	}
	if t.orientation > 0 {
		out.SetMeta(raster.MetaOrientation, []byte(strconv.Itoa(t.orientation)))
	}
}

func (tiffCodec) Target(interp raster.Interpretation) raster.Interpretation {
	return deepTarget(interp)
}

func (tiffCodec) Alpha() bool { return true }

// GreyAlphaTarget widens grey with alpha to RGB of the same depth. The
// decoder rejects extra samples on grey images.
func (tiffCodec) GreyAlphaTarget(interp raster.Interpretation) raster.Interpretation {
	if interp == raster.Grey16 {
		return raster.RGB16
	}
	return raster.SRGB
}

// Save writes pixels only; compression 0 stores samples raw and any other
// level uses deflate with the horizontal predictor.
func (tiffCodec) Save(img *raster.Image, params SaveParams) ([]byte, error) {
	if raster.HasAlpha(img) && img.Interpretation().ColorBands() == 1 {
		return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "tiffsave",
			"%s: grey with alpha must be widened to %s first", img, tiffCodec{}.GreyAlphaTarget(img.Interpretation()))
	}
	if img.Interpretation().ColorBands() != 1 && img.Interpretation().ColorBands() != 3 {
		return nil, imgerr.New(imgerr.KindUnsupportedColorspace, "tiffsave", "no tiff layout for %s", img)
	}
	var buf bytes.Buffer
	if err := writeTIFF(&buf, img, params.Compression); err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, "tiffsave", err)
	}
	return buf.Bytes(), nil
}

// writeTIFF writes a single-strip, big-endian baseline TIFF. x/image/tiff's
// encoder always stores RGB with an alpha sample, which would give every
// opaque raster a fourth band on reload. Raster rows are already big-endian
// and interleaved, so they go out as they are.
func writeTIFF(w io.Writer, img *raster.Image, level int) error {
	spp := img.Bands()
	bits := uint32(8 * img.BytesPerSample())
	photometric := uint32(tiffRGB)
	if img.Interpretation().ColorBands() == 1 {
		photometric = tiffBlackIsZero
	}

	strip := img.Pix()
	compression := uint32(tiffUncompressed)
	if level > 0 {
		var err error
		if strip, err = deflateTIFFStrip(img, level); err != nil {
			return err
		}
		compression = tiffDeflate
	}

	entries := []tiffEntry{
		{tag: tiffTagImageWidth, typ: tiffLong, values: []uint32{uint32(img.Width())}},
		{tag: tiffTagImageLength, typ: tiffLong, values: []uint32{uint32(img.Height())}},
		{tag: tiffTagBitsPerSample, typ: tiffShort, values: repeatUint32(bits, spp)},
		{tag: tiffTagCompression, typ: tiffShort, values: []uint32{compression}},
		{tag: tiffTagPhotometric, typ: tiffShort, values: []uint32{photometric}},
		{tag: tiffTagStripOffsets, typ: tiffLong},
		{tag: tiffTagSamplesPerPixel, typ: tiffShort, values: []uint32{uint32(spp)}},
		{tag: tiffTagRowsPerStrip, typ: tiffLong, values: []uint32{uint32(img.Height())}},
		{tag: tiffTagStripByteCounts, typ: tiffLong, values: []uint32{uint32(len(strip))}},
		{tag: tiffTagPlanarConfig, typ: tiffShort, values: []uint32{1}},
	}
	if compression == tiffDeflate {
		entries = append(entries, tiffEntry{tag: tiffTagPredictor, typ: tiffShort, values: []uint32{2}})
	}
	if raster.HasAlpha(img) {
		entries = append(entries, tiffEntry{tag: tiffTagExtraSamples, typ: tiffShort, values: []uint32{2}})
	}

	// header, IFD, out-of-line values, strip
	ifdLen := 2 + 12*len(entries) + 4
	extra := 0
	for _, e := range entries {
		if n := e.size(); n > 4 {
			extra += n
		}
	}
	stripAt := uint32(8 + ifdLen + extra)
	entries[5].values = []uint32{stripAt}

	out := make([]byte, 0, int(stripAt)+len(strip))
	out = append(out, 'M', 'M', 0, 42)
	out = binary.BigEndian.AppendUint32(out, 8)
	out = binary.BigEndian.AppendUint16(out, uint16(len(entries)))
	var overflow []byte
	valueAt := uint32(8 + ifdLen)
	for _, e := range entries {
		out = binary.BigEndian.AppendUint16(out, e.tag)
		out = binary.BigEndian.AppendUint16(out, e.typ)
		out = binary.BigEndian.AppendUint32(out, uint32(len(e.values)))
		data := e.encode()
		if len(data) > 4 {
			out = binary.BigEndian.AppendUint32(out, valueAt+uint32(len(overflow)))
			overflow = append(overflow, data...)
			continue
		}
		var inline [4]byte
		copy(inline[:], data)
		out = append(out, inline[:]...)
	}
	out = binary.BigEndian.AppendUint32(out, 0)
	out = append(out, overflow...)
	out = append(out, strip...)
	_, err := w.Write(out)
	return err
}

// deflateTIFFStrip applies the horizontal predictor row by row and
// compresses the result.
func deflateTIFFStrip(img *raster.Image, level int) ([]byte, error) {
	var z bytes.Buffer
	zw, err := zlib.NewWriterLevel(&z, level)
	if err != nil {
		return nil, err
	}
	pix, stride := img.Pix(), img.Stride()
	row := make([]byte, stride)
	px := img.PixelSize()
	for y := 0; y < img.Height(); y++ {
		copy(row, pix[y*stride:(y+1)*stride])
		if img.BytesPerSample() == 2 {
			for i := stride - 2; i >= px; i -= 2 {
				d := binary.BigEndian.Uint16(row[i:]) - binary.BigEndian.Uint16(row[i-px:])
				binary.BigEndian.PutUint16(row[i:], d)
			}
		} else {
			for i := stride - 1; i >= px; i-- {
				row[i] -= row[i-px]
			}
		}
		if _, err := zw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return z.Bytes(), nil
}

type tiffEntry struct {
	tag    uint16
	typ    uint16
	values []uint32
}

func (e tiffEntry) size() int {
	if e.typ == tiffShort {
		return 2 * len(e.values)
	}
	return 4 * len(e.values)
}

func (e tiffEntry) encode() []byte {
	out := make([]byte, 0, e.size())
	for _, v := range e.values {
		if e.typ == tiffShort {
			out = binary.BigEndian.AppendUint16(out, uint16(v))
		} else {
			out = binary.BigEndian.AppendUint32(out, v)
		}
	}
	return out
}

func repeatUint32(v uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
