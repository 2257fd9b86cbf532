//go:build !nomagick

package codec

import (
	"bytes"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"golang.org/x/image/bmp"
)

// bmpLoader covers the BMP member of the Magick bucket. The libvips build
// replaces it with a loader for the whole bucket.
type bmpLoader struct{}

func init() {
	builtins = append(builtins, WithLoader(format.Magick, bmpLoader{}))
}

func (bmpLoader) Probe(buf []byte) (int, int, error) {
	return probeStd("magickload", buf, bmp.DecodeConfig)
}

func (bmpLoader) Load(buf []byte, _ int) (*raster.Image, error) {
	src, err := bmp.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "magickload", err)
	}
	out, err := fromStd("magickload", src)
	if err != nil {
		return nil, err
	}
	out.Record("magickload")
	return out, nil
}
