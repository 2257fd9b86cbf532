//go:build cgo

package codec

import (
	"bytes"

	cwebp "github.com/chai2010/webp"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// webpSaver wraps libwebp through chai2010/webp, which needs cgo.
type webpSaver struct{}

func init() {
	builtins = append(builtins, WithSaver(format.WEBP, webpSaver{}))
}

func (webpSaver) Target(raster.Interpretation) raster.Interpretation { return raster.SRGB }

func (webpSaver) Alpha() bool { return true }

func (webpSaver) Save(img *raster.Image, params SaveParams) ([]byte, error) {
	src, err := toStd("webpsave", img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	opts := &cwebp.Options{Lossless: params.Lossless, Quality: float32(params.Quality)}
	if err := cwebp.Encode(&buf, src, opts); err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, "webpsave", err)
	}
	out, err := muxWebP(buf.Bytes(), img)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.KindEncode, "webpsave", err)
	}
	return out, nil
}
