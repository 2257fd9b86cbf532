package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"golang.org/x/image/webp"
)

const (
	vp8xICC   = 0x20
	vp8xAlpha = 0x10
	vp8xEXIF  = 0x08
	vp8xXMP   = 0x04
)

type webpLoader struct{}

func init() {
	builtins = append(builtins, WithLoader(format.WEBP, webpLoader{}))
}

func (webpLoader) Probe(buf []byte) (int, int, error) {
	return probeStd("webpload", buf, webp.DecodeConfig)
}

func (webpLoader) Load(buf []byte, _ int) (*raster.Image, error) {
	src, err := webp.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "webpload", err)
	}
	out, err := fromStd("webpload", src)
	if err != nil {
		return nil, err
	}

	chunks, err := riffChunks(buf)
	if err != nil {
		out.AddWarning("webpload: %v", err)
	}
	for _, c := range chunks {
		switch c.fourcc {
		case "ICCP":
			out.SetMeta(raster.MetaICCProfile, c.data)
		case "EXIF":
			out.SetMeta(raster.MetaEXIF, bytes.TrimPrefix(c.data, exifHeader))
		case "XMP ":
			out.SetMeta(raster.MetaXMP, c.data)
		}
	}
	out.Record("webpload")
	return out, nil
}

type riffChunk struct {
	fourcc string
	data   []byte
}

func riffChunks(buf []byte) ([]riffChunk, error) {
	if len(buf) < 12 || string(buf[:4]) != "RIFF" || string(buf[8:12]) != "WEBP" {
		return nil, fmt.Errorf("not a webp container")
	}
	var out []riffChunk
	pos := 12
	for pos+8 <= len(buf) {
		fourcc := string(buf[pos : pos+4])
		n := int(binary.LittleEndian.Uint32(buf[pos+4:]))
		if pos+8+n > len(buf) {
			return out, fmt.Errorf("truncated %q chunk", fourcc)
		}
		out = append(out, riffChunk{fourcc: fourcc, data: buf[pos+8 : pos+8+n]})
		pos += 8 + n + n&1
	}
	return out, nil
}

// muxWebP rewrites a simple-format stream into the extended format so the
// raster's ICC profile, EXIF and XMP travel with it.
func muxWebP(stream []byte, img *raster.Image) ([]byte, error) {
	icc, _ := img.Meta(raster.MetaICCProfile)
	exif, _ := img.Meta(raster.MetaEXIF)
	xmp, _ := img.Meta(raster.MetaXMP)
	if len(icc) == 0 && len(exif) == 0 && len(xmp) == 0 {
		return stream, nil
	}

	chunks, err := riffChunks(stream)
	if err != nil {
		return nil, err
	}

	var flags byte
	var body []riffChunk
	for _, c := range chunks {
		switch c.fourcc {
		case "VP8X", "ICCP", "EXIF", "XMP ":
			continue
		case "ALPH":
			flags |= vp8xAlpha
		case "VP8L":
			if raster.HasAlpha(img) {
				flags |= vp8xAlpha
			}
		}
		body = append(body, c)
	}

	var parts []riffChunk
	if len(icc) > 0 {
		flags |= vp8xICC
		parts = append(parts, riffChunk{"ICCP", icc})
	}
	parts = append(parts, body...)
	if len(exif) > 0 {
		flags |= vp8xEXIF
		parts = append(parts, riffChunk{"EXIF", exif})
	}
	if len(xmp) > 0 {
		flags |= vp8xXMP
		parts = append(parts, riffChunk{"XMP ", xmp})
	}

	vp8x := make([]byte, 10)
	vp8x[0] = flags
	putUint24(vp8x[4:], uint32(img.Width()-1))
	putUint24(vp8x[7:], uint32(img.Height()-1))
	parts = append([]riffChunk{{"VP8X", vp8x}}, parts...)

	var out bytes.Buffer
	out.WriteString("RIFF")
	out.Write([]byte{0, 0, 0, 0})
	out.WriteString("WEBP")
	for _, c := range parts {
		var hdr [8]byte
		copy(hdr[:4], c.fourcc)
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(c.data)))
		out.Write(hdr[:])
		out.Write(c.data)
		if len(c.data)&1 == 1 {
			out.WriteByte(0)
		}
	}
	b := out.Bytes()
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	return b, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
