//go:build govips && cgo

package codec

import (
	"os"
	"testing"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	vips.LoggingSettings(func(string, vips.LogLevel, string) {}, vips.LogLevelError)
	vips.Startup(nil)
	code := m.Run()
	vips.Shutdown()
	os.Exit(code)
}

func TestVipsJPEGLoaderShrinksInDecoder(t *testing.T) {
	loader, err := Default().Loader(format.JPEG)
	require.NoError(t, err)
	require.IsType(t, vipsJPEGLoader{}, loader)

	src := gradient(t, 64, 40, 3, raster.SRGB)
	src.SetMeta(raster.MetaICCProfile, fakeICC())
	buf, err := jpegCodec{}.Save(src, SaveParams{Quality: 90})
	require.NoError(t, err)

	for _, tc := range []struct{ shrink, w, h int }{{1, 64, 40}, {2, 32, 20}, {8, 8, 5}} {
		out, err := loader.Load(buf, tc.shrink)
		require.NoError(t, err)
		require.Equal(t, []int{tc.w, tc.h, 3}, []int{out.Width(), out.Height(), out.Bands()})
		require.Equal(t, raster.SRGB, out.Interpretation())
		icc, ok := out.Meta(raster.MetaICCProfile)
		require.True(t, ok)
		require.Equal(t, fakeICC(), icc)
	}

	_, err = loader.Load(buf, 3)
	require.Error(t, err)
}

func TestVipsInterlacedPNGKeepsOpaqueAlpha(t *testing.T) {
	saver, err := Default().Saver(format.PNG)
	require.NoError(t, err)
	require.Empty(t, Ignored(saver, SaveParams{Interlace: true}))

	src := withOpaqueAlpha(gradient(t, 9, 7, 4, raster.SRGB))
	buf, err := saver.Save(src, SaveParams{Compression: 6, Interlace: true})
	require.NoError(t, err)

	out, err := pngCodec{}.Load(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 4, out.Bands())
}
