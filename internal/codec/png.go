package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color/palette"
	"image/draw"
	"image/png"
	"io"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/klauspost/compress/zlib"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

const (
	pngSignatureLen = 8
	pngIHDRLen      = 8 + 13 + 4
	xmpKeyword      = "XML:com.adobe.xmp"
)

type pngCodec struct{}

func init() {
	builtins = append(builtins,
		WithLoader(format.PNG, pngCodec{}),
		WithSaver(format.PNG, pngCodec{}),
	)
}

func (pngCodec) Probe(buf []byte) (int, int, error) {
	return probeStd("pngload", buf, png.DecodeConfig)
}

type pngChunk struct {
	typ  string
	data []byte
}

// pngChunks lists the chunks of a PNG stream. A damaged tail ends the walk
// with an error alongside the chunks read so far.
func pngChunks(buf []byte) ([]pngChunk, error) {
	var out []pngChunk
	pos := pngSignatureLen
	for pos+8 <= len(buf) {
		n := int(binary.BigEndian.Uint32(buf[pos:]))
		typ := string(buf[pos+4 : pos+8])
		if n < 0 || pos+12+n > len(buf) {
			return out, fmt.Errorf("truncated %q chunk", typ)
		}
		out = append(out, pngChunk{typ: typ, data: buf[pos+8 : pos+8+n]})
		pos += 12 + n
		if typ == "IEND" {
			break
		}
	}
	return out, nil
}

func (pngCodec) Load(buf []byte, _ int) (*raster.Image, error) {
	src, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "pngload", err)
	}

	chunks, walkErr := pngChunks(buf)
	bands, interp := pngLayout(chunks)
	if bands == 0 {
		bands, interp = layoutOf(src)
	}
	out, err := raster.FromImage(src, bands, interp)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "pngload", err)
	}
	if walkErr != nil {
		out.AddWarning("pngload: %v", walkErr)
	}

	for _, c := range chunks {
		switch c.typ {
		case "iCCP":
			icc, err := readICCP(c.data)
			if err != nil {
				out.AddWarning("pngload: ignoring iCCP: %v", err)
				continue
			}
			out.SetMeta(raster.MetaICCProfile, icc)
		case "eXIf":
			out.SetMeta(raster.MetaEXIF, c.data)
		case "iTXt":
			if xmp, ok := readXMPText(c.data); ok {
				out.SetMeta(raster.MetaXMP, xmp)
			}
		}
	}
	out.Record("pngload")
	return out, nil
}

// pngLayout reads the band layout from IHDR and tRNS. It returns 0 bands
// when the header is unusable.
func pngLayout(chunks []pngChunk) (int, raster.Interpretation) {
	if len(chunks) == 0 || chunks[0].typ != "IHDR" || len(chunks[0].data) < 13 {
		return 0, ""
	}
	depth, ctype := chunks[0].data[8], chunks[0].data[9]
	trns := false
	for _, c := range chunks {
		if c.typ == "tRNS" {
			trns = true
			break
		}
	}

	grey, rgb := raster.BW, raster.SRGB
	if depth == 16 {
		grey, rgb = raster.Grey16, raster.RGB16
	}
	switch ctype {
	case 0:
		if trns {
			return 2, grey
		}
		return 1, grey
	case 2:
		if trns {
			return 4, rgb
		}
		return 3, rgb
	case 3:
		if trns {
			return 4, raster.SRGB
		}
		return 3, raster.SRGB
	case 4:
		return 2, grey
	case 6:
		return 4, rgb
	}
	return 0, ""
}

func readICCP(data []byte) ([]byte, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 1 || nul+2 > len(data) {
		return nil, fmt.Errorf("malformed profile name")
	}
	if data[nul+1] != 0 {
		return nil, fmt.Errorf("compression method %d", data[nul+1])
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[nul+2:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// readXMPText extracts an uncompressed XMP packet from an iTXt chunk.
func readXMPText(data []byte) ([]byte, bool) {
	if !bytes.HasPrefix(data, []byte(xmpKeyword+"\x00")) {
		return nil, false
	}
	rest := data[len(xmpKeyword)+1:]
	if len(rest) < 2 || rest[0] != 0 {
		return nil, false
	}
	rest = rest[2:]
	// language tag and translated keyword
	for i := 0; i < 2; i++ {
		n := bytes.IndexByte(rest, 0)
		if n < 0 {
			return nil, false
		}
		rest = rest[n+1:]
	}
	return rest, true
}

func (pngCodec) Target(interp raster.Interpretation) raster.Interpretation {
	return deepTarget(interp)
}

func (pngCodec) Alpha() bool { return true }

// Ignored reports that interlacing needs the libvips saver.
func (pngCodec) Ignored(params SaveParams) []string {
	if params.Interlace {
		return []string{"interlace"}
	}
	return nil
}

func (pngCodec) Save(img *raster.Image, params SaveParams) ([]byte, error) {
	var buf bytes.Buffer
	if raster.HasAlpha(img) {
		if err := writeAlphaPNG(&buf, img, params.Compression); err != nil {
			return nil, imgerr.Wrap(imgerr.KindEncode, "pngsave", err)
		}
	} else {
		src, err := toStd("pngsave", img)
		if err != nil {
			return nil, err
		}
		if params.Palette && img.Interpretation() == raster.SRGB {
			src = toPaletted(src, params.Quality)
		}
		enc := png.Encoder{CompressionLevel: pngLevel(params.Compression)}
		if err := enc.Encode(&buf, src); err != nil {
			return nil, imgerr.Wrap(imgerr.KindEncode, "pngsave", err)
		}
	}

	chunks, err := pngMetadataChunks(img)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, "pngsave", err)
	}
	if len(chunks) == 0 {
		return buf.Bytes(), nil
	}
	stream := buf.Bytes()
	at := pngSignatureLen + pngIHDRLen
	out := make([]byte, 0, len(stream)+len(chunks))
	out = append(out, stream[:at]...)
	out = append(out, chunks...)
	return append(out, stream[at:]...), nil
}

// writeAlphaPNG writes colour type 4 or 6. image/png cannot produce type 4
// and drops the alpha channel of an opaque image, so rasters with alpha are
// written here. Raster rows are already in PNG sample order, so each row goes
// out unfiltered.
func writeAlphaPNG(w io.Writer, img *raster.Image, level int) error {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], uint32(img.Width()))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(img.Height()))
	ihdr[8] = byte(8 * img.BytesPerSample())
	ihdr[9] = 6
	if img.Interpretation().ColorBands() == 1 {
		ihdr[9] = 4
	}

	var z bytes.Buffer
	zw, err := zlib.NewWriterLevel(&z, level)
	if err != nil {
		return err
	}
	pix, stride := img.Pix(), img.Stride()
	for y := 0; y < img.Height(); y++ {
		if _, err := zw.Write([]byte{0}); err != nil {
			return err
		}
		if _, err := zw.Write(pix[y*stride : (y+1)*stride]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}

	out := append([]byte(nil), pngSignature...)
	out = appendPNGChunk(out, "IHDR", ihdr)
	out = appendPNGChunk(out, "IDAT", z.Bytes())
	out = appendPNGChunk(out, "IEND", nil)
	_, err = w.Write(out)
	return err
}

// pngLevel maps the 0-9 compression knob onto the encoder's four levels.
func pngLevel(c int) png.CompressionLevel {
	switch {
	case c == 0:
		return png.NoCompression
	case c <= 3:
		return png.BestSpeed
	case c <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// toPaletted quantises to the Plan 9 palette. Below quality 100 the error is
// diffused with Floyd-Steinberg.
func toPaletted(src image.Image, quality int) image.Image {
	b := src.Bounds()
	dst := image.NewPaletted(b, palette.Plan9)
	var drawer draw.Drawer = draw.Src
	if quality < 100 {
		drawer = draw.FloydSteinberg
	}
	drawer.Draw(dst, b, src, b.Min)
	return dst
}

func pngMetadataChunks(img *raster.Image) ([]byte, error) {
	var out []byte
	if icc, ok := img.Meta(raster.MetaICCProfile); ok && len(icc) > 0 {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(icc); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		data := append([]byte("icc\x00\x00"), z.Bytes()...)
		out = appendPNGChunk(out, "iCCP", data)
	}
	if exif, ok := img.Meta(raster.MetaEXIF); ok && len(exif) > 0 {
		out = appendPNGChunk(out, "eXIf", exif)
	}
	if xmp, ok := img.Meta(raster.MetaXMP); ok && len(xmp) > 0 {
		data := append([]byte(xmpKeyword+"\x00\x00\x00\x00\x00"), xmp...)
		out = appendPNGChunk(out, "iTXt", data)
	}
	return out, nil
}

func appendPNGChunk(dst []byte, typ string, data []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)
	dst = append(dst, hdr[:]...)
	dst = append(dst, data...)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	return binary.BigEndian.AppendUint32(dst, crc.Sum32())
}
