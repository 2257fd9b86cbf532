package format

import (
	"bytes"

	"github.com/dunamismax/rasterflow/internal/imgerr"
)

// SniffLen is the largest prefix Detect looks at.
const SniffLen = 256

var (
	magicJPEG   = []byte{0xFF, 0xD8, 0xFF}
	magicRIFF   = []byte("RIFF")
	magicWEBP   = []byte("WEBP")
	magicPNG    = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicTIFFLE = []byte{0x49, 0x49, 0x2A, 0x00}
	magicTIFFBE = []byte{0x4D, 0x4D, 0x00, 0x2A}
	magicGIF87  = []byte("GIF87a")
	magicGIF89  = []byte("GIF89a")
	magicPDF    = []byte("%PDF")
	magicUTF8   = []byte{0xEF, 0xBB, 0xBF}
)

type sniffer struct {
	tag   Tag
	match func([]byte) bool
}

// The order is the detection priority.
var sniffers = []sniffer{
	{JPEG, func(b []byte) bool { return bytes.HasPrefix(b, magicJPEG) }},
	{WEBP, func(b []byte) bool { return len(b) >= 12 && bytes.HasPrefix(b, magicRIFF) && bytes.Equal(b[8:12], magicWEBP) }},
	{PNG, func(b []byte) bool { return bytes.HasPrefix(b, magicPNG) }},
	{TIFF, func(b []byte) bool { return bytes.HasPrefix(b, magicTIFFLE) || bytes.HasPrefix(b, magicTIFFBE) }},
	{GIF, func(b []byte) bool { return bytes.HasPrefix(b, magicGIF87) || bytes.HasPrefix(b, magicGIF89) }},
	{PDF, func(b []byte) bool { return bytes.HasPrefix(b, magicPDF) }},
	{SVG, isSVG},
}

// fallback sniffers are appended by magick.go unless built with nomagick.
var fallback []sniffer

// Detect classifies buf from at most its first SniffLen bytes.
func Detect(buf []byte) (Tag, error) {
	if len(buf) > SniffLen {
		buf = buf[:SniffLen]
	}
	for _, s := range sniffers {
		if s.match(buf) {
			return s.tag, nil
		}
	}
	for _, s := range fallback {
		if s.match(buf) {
			return s.tag, nil
		}
	}
	return Unknown, imgerr.New(imgerr.KindUnsupportedFormat, "detect", "unrecognised signature % x", head(buf, 8))
}

// HasFallback reports whether the generic signature sniffers are compiled in.
func HasFallback() bool {
	return len(fallback) > 0
}

func isSVG(b []byte) bool {
	b = bytes.TrimPrefix(b, magicUTF8)
	b = bytes.TrimLeft(b, " \t\r\n")
	if hasPrefixFold(b, []byte("<svg")) {
		return true
	}
	if !bytes.HasPrefix(b, []byte("<?xml")) && !bytes.HasPrefix(b, []byte("<!--")) && !hasPrefixFold(b, []byte("<!doctype")) {
		return false
	}
	return bytes.Contains(bytes.ToLower(b), []byte("<svg"))
}

func hasPrefixFold(b, prefix []byte) bool {
	return len(b) >= len(prefix) && bytes.EqualFold(b[:len(prefix)], prefix)
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
