package codec

import (
	"bytes"
	"image/gif"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// gifLoader decodes the first frame. GIF is load-only.
type gifLoader struct{}

func init() {
	builtins = append(builtins, WithLoader(format.GIF, gifLoader{}))
}

func (gifLoader) Probe(buf []byte) (int, int, error) {
	return probeStd("gifload", buf, gif.DecodeConfig)
}

func (gifLoader) Load(buf []byte, _ int) (*raster.Image, error) {
	src, err := gif.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindDecode, "gifload", err)
	}
	out, err := fromStd("gifload", src)
	if err != nil {
		return nil, err
	}
	out.Record("gifload")
	return out, nil
}
