// Package format classifies encoded image buffers by their leading bytes.
package format

import (
	"strings"

	"github.com/dunamismax/rasterflow/internal/imgerr"
)

// Tag identifies a container format.
type Tag int

const (
	Unknown Tag = iota
	JPEG
	WEBP
	PNG
	TIFF
	GIF
	PDF
	SVG
	Magick
)

var names = map[Tag]string{
	Unknown: "unknown",
	JPEG:    "jpeg",
	WEBP:    "webp",
	PNG:     "png",
	TIFF:    "tiff",
	GIF:     "gif",
	PDF:     "pdf",
	SVG:     "svg",
	Magick:  "magick",
}

var extensions = map[Tag]string{
	JPEG:   ".jpg",
	WEBP:   ".webp",
	PNG:    ".png",
	TIFF:   ".tiff",
	GIF:    ".gif",
	PDF:    ".pdf",
	SVG:    ".svg",
	Magick: ".bmp",
}

var contentTypes = map[Tag]string{
	JPEG: "image/jpeg",
	WEBP: "image/webp",
	PNG:  "image/png",
	TIFF: "image/tiff",
	GIF:  "image/gif",
	PDF:  "application/pdf",
	SVG:  "image/svg+xml",
}

// All lists every known tag except Unknown.
var All = []Tag{JPEG, WEBP, PNG, TIFF, GIF, PDF, SVG, Magick}

func (t Tag) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "unknown"
}

// Extension is the file extension (with dot) used when writing this format.
func (t Tag) Extension() string {
	return extensions[t]
}

// ContentType is the MIME type for the format, or application/octet-stream.
func (t Tag) ContentType() string {
	if ct, ok := contentTypes[t]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Parse maps a user-supplied format name or extension to a tag.
func Parse(name string) (Tag, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "jpg", "jpeg", "jpe":
		return JPEG, nil
	case "webp":
		return WEBP, nil
	case "png":
		return PNG, nil
	case "tif", "tiff":
		return TIFF, nil
	case "gif":
		return GIF, nil
	case "pdf":
		return PDF, nil
	case "svg":
		return SVG, nil
	case "magick", "bmp":
		return Magick, nil
	default:
		return Unknown, imgerr.New(imgerr.KindUnsupportedFormat, "parse", "unknown format %q", name)
	}
}
