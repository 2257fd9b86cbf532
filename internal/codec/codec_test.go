package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/rasterflow/internal/format"
	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	xtiff "golang.org/x/image/tiff"
)

func gradient(t testing.TB, w, h, bands int, interp raster.Interpretation) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, bands, interp.Depth(), interp)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for b := 0; b < bands; b++ {
				img.Set(x, y, b, float64((x*7+y*13+b*50)%256)*img.MaxValue()/255)
			}
		}
	}
	return img
}

func fakeICC() []byte {
	p := make([]byte, 200)
	copy(p[36:40], "acsp")
	copy(p[16:20], "RGB ")
	return p
}

func TestRegistryLookup(t *testing.T) {
	reg := New(WithLoader(format.PNG, pngCodec{}))

	require.True(t, reg.CanLoad(format.PNG))
	require.False(t, reg.CanSave(format.PNG))

	_, err := reg.Saver(format.PNG)
	require.ErrorIs(t, err, imgerr.ErrNotRegistered)
	require.ErrorIs(t, err, imgerr.ErrUnsupportedFormat)

	_, err = reg.Loader(format.PDF)
	require.ErrorIs(t, err, imgerr.ErrNotRegistered)
}

func TestDefaultRegistryCapabilities(t *testing.T) {
	reg := Default()
	require.Same(t, reg, Default())

	for _, tag := range []format.Tag{format.JPEG, format.PNG, format.WEBP, format.TIFF, format.GIF} {
		require.True(t, reg.CanLoad(tag), tag.String())
	}
	for _, tag := range []format.Tag{format.JPEG, format.PNG, format.TIFF} {
		require.True(t, reg.CanSave(tag), tag.String())
	}
	require.False(t, reg.CanSave(format.GIF))

	caps := reg.Capabilities()
	require.NotEmpty(t, caps)
	for i := 1; i < len(caps); i++ {
		require.Less(t, int(caps[i-1].Format), int(caps[i].Format))
	}
	for _, c := range caps {
		if c.Format == format.JPEG {
			require.True(t, c.ShrinkOnLoad)
			require.False(t, c.Alpha)
		}
	}
}

// withOpaqueAlpha sets every alpha sample of img to its maximum.
func withOpaqueAlpha(img *raster.Image) *raster.Image {
	a := img.Bands() - 1
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			img.Set(x, y, a, img.MaxValue())
		}
	}
	return img
}

func TestLosslessRoundTripShape(t *testing.T) {
	cases := []struct {
		name   string
		codec  interface {
			Loader
			Saver
		}
		bands  int
		interp raster.Interpretation
		opaque bool
	}{
		{"png srgb", pngCodec{}, 3, raster.SRGB, false},
		{"png srgba", pngCodec{}, 4, raster.SRGB, false},
		{"png srgba opaque", pngCodec{}, 4, raster.SRGB, true},
		{"png grey alpha", pngCodec{}, 2, raster.BW, false},
		{"png grey alpha opaque", pngCodec{}, 2, raster.BW, true},
		{"png rgb16", pngCodec{}, 3, raster.RGB16, false},
		{"png rgb16 alpha opaque", pngCodec{}, 4, raster.RGB16, true},
		{"png grey16", pngCodec{}, 1, raster.Grey16, false},
		{"png grey16 alpha", pngCodec{}, 2, raster.Grey16, false},
		{"tiff srgb", tiffCodec{}, 3, raster.SRGB, false},
		{"tiff srgba", tiffCodec{}, 4, raster.SRGB, false},
		{"tiff srgba opaque", tiffCodec{}, 4, raster.SRGB, true},
		{"tiff rgb16", tiffCodec{}, 3, raster.RGB16, false},
		{"tiff rgb16 alpha opaque", tiffCodec{}, 4, raster.RGB16, true},
		{"tiff grey", tiffCodec{}, 1, raster.BW, false},
		{"tiff grey16", tiffCodec{}, 1, raster.Grey16, false},
	}
	for _, tc := range cases {
		for _, compression := range []int{0, 6} {
			t.Run(fmt.Sprintf("%s/compression=%d", tc.name, compression), func(t *testing.T) {
				src := gradient(t, 17, 9, tc.bands, tc.interp)
				if tc.opaque {
					src = withOpaqueAlpha(src)
				}

				buf, err := tc.codec.Save(src, SaveParams{Quality: 80, Compression: compression})
				require.NoError(t, err)

				out, err := tc.codec.Load(buf, 1)
				require.NoError(t, err)
				require.Equal(t, src.Width(), out.Width())
				require.Equal(t, src.Height(), out.Height())
				require.Equal(t, src.Bands(), out.Bands())
				require.Equal(t, src.Interpretation(), out.Interpretation())
				if diff := cmp.Diff(src.Pix(), out.Pix()); diff != "" {
					t.Fatalf("lossless pixels changed (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestPNGWritesAlphaColourTypes(t *testing.T) {
	for _, tc := range []struct {
		bands  int
		interp raster.Interpretation
		ctype  byte
	}{
		{2, raster.BW, 4},
		{4, raster.SRGB, 6},
		{4, raster.RGB16, 6},
		{3, raster.SRGB, 2},
	} {
		src := gradient(t, 5, 4, tc.bands, tc.interp)
		if raster.HasAlpha(src) {
			src = withOpaqueAlpha(src)
		}
		buf, err := pngCodec{}.Save(src, SaveParams{Compression: 6})
		require.NoError(t, err)

		chunks, err := pngChunks(buf)
		require.NoError(t, err)
		require.Equal(t, "IHDR", chunks[0].typ)
		require.Equal(t, tc.ctype, chunks[0].data[9], "%d-band %s", tc.bands, tc.interp)
	}
}

func TestTIFFHeaderCarriesSampleLayout(t *testing.T) {
	for _, tc := range []struct {
		bands  int
		interp raster.Interpretation
	}{
		{3, raster.SRGB},
		{4, raster.SRGB},
		{1, raster.BW},
		{4, raster.RGB16},
	} {
		src := gradient(t, 6, 3, tc.bands, tc.interp)
		buf, err := tiffCodec{}.Save(src, SaveParams{})
		require.NoError(t, err)

		tags, err := readTIFFTags(buf)
		require.NoError(t, err)
		require.Equal(t, tc.bands, tags.samples)

		cfg, err := xtiff.DecodeConfig(bytes.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, []int{6, 3}, []int{cfg.Width, cfg.Height})
	}
}

func TestTIFFRefusesGreyAlpha(t *testing.T) {
	src := withOpaqueAlpha(gradient(t, 4, 4, 2, raster.BW))
	_, err := tiffCodec{}.Save(src, SaveParams{})
	require.ErrorIs(t, err, imgerr.ErrUnsupportedColorspace)

	require.Equal(t, raster.SRGB, tiffCodec{}.GreyAlphaTarget(raster.BW))
	require.Equal(t, raster.RGB16, tiffCodec{}.GreyAlphaTarget(raster.Grey16))
}

func TestIgnoredKnobs(t *testing.T) {
	require.Equal(t, []string{"interlace"}, Ignored(pngCodec{}, SaveParams{Interlace: true}))
	require.Equal(t, []string{"interlace"}, Ignored(jpegCodec{}, SaveParams{Interlace: true}))
	require.Empty(t, Ignored(pngCodec{}, SaveParams{Compression: 6}))
	require.Empty(t, Ignored(tiffCodec{}, SaveParams{Interlace: true}))
}

func TestJPEGRoundTripShape(t *testing.T) {
	for _, tc := range []struct {
		bands  int
		interp raster.Interpretation
	}{{3, raster.SRGB}, {1, raster.BW}} {
		src := gradient(t, 40, 24, tc.bands, tc.interp)
		buf, err := jpegCodec{}.Save(src, SaveParams{Quality: 80})
		require.NoError(t, err)

		out, err := jpegCodec{}.Load(buf, 1)
		require.NoError(t, err)
		require.Equal(t, []int{40, 24, tc.bands}, []int{out.Width(), out.Height(), out.Bands()})
		require.Equal(t, tc.interp, out.Interpretation())
	}
}

func TestJPEGShrinkOnLoad(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}))

	for factor, want := range map[int][2]int{1: {64, 30}, 2: {32, 15}, 4: {16, 8}, 8: {8, 4}} {
		out, err := jpegCodec{}.Load(buf.Bytes(), factor)
		require.NoError(t, err)
		require.Equal(t, want, [2]int{out.Width(), out.Height()}, "factor %d", factor)
		require.InDelta(t, 200, out.At(0, 0, 0), 6)
		require.InDelta(t, 100, out.At(0, 0, 1), 6)
	}

	_, err := jpegCodec{}.Load(buf.Bytes(), 3)
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestJPEGCarriesICCAndEXIF(t *testing.T) {
	src := gradient(t, 8, 8, 3, raster.SRGB)
	icc := bytes.Repeat([]byte{0xAB}, maxICCChunk+100)
	src.SetMeta(raster.MetaICCProfile, icc)
	src.SetMeta(raster.MetaEXIF, []byte("II*\x00\x08\x00\x00\x00\x00\x00"))

	buf, err := jpegCodec{}.Save(src, SaveParams{Quality: 90})
	require.NoError(t, err)

	out, err := jpegCodec{}.Load(buf, 1)
	require.NoError(t, err)
	got, ok := out.Meta(raster.MetaICCProfile)
	require.True(t, ok)
	require.Equal(t, icc, got)
	exif, ok := out.Meta(raster.MetaEXIF)
	require.True(t, ok)
	require.Equal(t, []byte("II*\x00\x08\x00\x00\x00\x00\x00"), exif)
	require.Empty(t, out.Warnings())
}

func TestJPEGBrokenICCBecomesWarning(t *testing.T) {
	src := gradient(t, 8, 8, 3, raster.SRGB)
	buf, err := jpegCodec{}.Save(src, SaveParams{Quality: 90})
	require.NoError(t, err)

	// A lone chunk claiming to be 1 of 2.
	bad := appendSegment(nil, markerAPP2, nil, append([]byte(iccMarkerTag+"\x01\x02"), 1, 2, 3))
	buf = spliceAfterSOI(buf, bad)

	out, err := jpegCodec{}.Load(buf, 1)
	require.NoError(t, err)
	require.Len(t, out.Warnings(), 1)
	_, ok := out.Meta(raster.MetaICCProfile)
	require.False(t, ok)
}

func TestMalformedInputIsDecodeError(t *testing.T) {
	src := gradient(t, 16, 16, 3, raster.SRGB)
	buf, err := pngCodec{}.Save(src, SaveParams{Compression: 6})
	require.NoError(t, err)

	_, err = pngCodec{}.Load(buf[:len(buf)/2], 1)
	require.ErrorIs(t, err, imgerr.ErrDecode)

	_, err = jpegCodec{}.Load([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, 1)
	require.ErrorIs(t, err, imgerr.ErrDecode)

	_, _, err = tiffCodec{}.Probe([]byte("II*\x00"))
	require.ErrorIs(t, err, imgerr.ErrDecode)
}

func TestPNGCarriesICCProfile(t *testing.T) {
	src := gradient(t, 100, 100, 4, raster.SRGB)
	src.SetMeta(raster.MetaICCProfile, fakeICC())
	src.SetMeta(raster.MetaXMP, []byte("<x:xmpmeta/>"))

	buf, err := pngCodec{}.Save(src, SaveParams{Compression: 9})
	require.NoError(t, err)

	out, err := pngCodec{}.Load(buf, 1)
	require.NoError(t, err)
	icc, ok := out.Meta(raster.MetaICCProfile)
	require.True(t, ok)
	require.Equal(t, fakeICC(), icc)
	xmp, ok := out.Meta(raster.MetaXMP)
	require.True(t, ok)
	require.Equal(t, "<x:xmpmeta/>", string(xmp))

	w, h, err := pngCodec{}.Probe(buf)
	require.NoError(t, err)
	require.Equal(t, [2]int{100, 100}, [2]int{w, h})
}

func TestPNGPalette(t *testing.T) {
	src := gradient(t, 12, 12, 3, raster.SRGB)
	buf, err := pngCodec{}.Save(src, SaveParams{Compression: 6, Palette: true, Quality: 60})
	require.NoError(t, err)

	out, err := pngCodec{}.Load(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 3, out.Bands())
	require.Equal(t, raster.SRGB, out.Interpretation())
}

func TestPNGLevels(t *testing.T) {
	require.Equal(t, png.NoCompression, pngLevel(0))
	require.Equal(t, png.BestSpeed, pngLevel(1))
	require.Equal(t, png.BestSpeed, pngLevel(3))
	require.Equal(t, png.DefaultCompression, pngLevel(6))
	require.Equal(t, png.BestCompression, pngLevel(7))
	require.Equal(t, png.BestCompression, pngLevel(9))
}

func TestICCChunking(t *testing.T) {
	profile := bytes.Repeat([]byte{1, 2, 3}, 50000)
	chunks, err := splitICC(profile)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// Out-of-order chunks still reassemble.
	chunks[0], chunks[2] = chunks[2], chunks[0]
	joined, err := joinICC(append(chunks, []byte("not icc")))
	require.NoError(t, err)
	require.Equal(t, profile, joined)

	none, err := joinICC(nil)
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = splitICC(nil)
	require.Error(t, err)
}

func TestMuxWebPAddsExtendedHeader(t *testing.T) {
	vp8l := []byte{0x2f, 1, 2, 3, 4}
	stream := []byte("RIFF\x00\x00\x00\x00WEBP")
	stream = append(stream, "VP8L"...)
	stream = append(stream, byte(len(vp8l)), 0, 0, 0)
	stream = append(stream, vp8l...)
	stream = append(stream, 0)

	img := gradient(t, 300, 200, 4, raster.SRGB)
	same, err := muxWebP(stream, img)
	require.NoError(t, err)
	require.Equal(t, stream, same)

	img.SetMeta(raster.MetaICCProfile, fakeICC())
	img.SetMeta(raster.MetaEXIF, []byte("II*\x00"))
	out, err := muxWebP(stream, img)
	require.NoError(t, err)

	chunks, err := riffChunks(out)
	require.NoError(t, err)
	var order []string
	for _, c := range chunks {
		order = append(order, c.fourcc)
	}
	require.Equal(t, []string{"VP8X", "ICCP", "VP8L", "EXIF"}, order)

	vp8x := chunks[0].data
	require.Equal(t, byte(vp8xICC|vp8xAlpha|vp8xEXIF), vp8x[0])
	require.Equal(t, []byte{43, 1, 0}, vp8x[4:7])
	require.Equal(t, []byte{199, 0, 0}, vp8x[7:10])
	require.Equal(t, uint32(len(out)-8), uint32(out[4])|uint32(out[5])<<8|uint32(out[6])<<16|uint32(out[7])<<24)
}

func TestPNGLayoutFromHeader(t *testing.T) {
	ihdr := func(depth, ctype byte) pngChunk {
		d := make([]byte, 13)
		d[8], d[9] = depth, ctype
		return pngChunk{typ: "IHDR", data: d}
	}
	trns := pngChunk{typ: "tRNS"}

	cases := []struct {
		chunks []pngChunk
		bands  int
		interp raster.Interpretation
	}{
		{[]pngChunk{ihdr(8, 0)}, 1, raster.BW},
		{[]pngChunk{ihdr(16, 0)}, 1, raster.Grey16},
		{[]pngChunk{ihdr(8, 0), trns}, 2, raster.BW},
		{[]pngChunk{ihdr(8, 2)}, 3, raster.SRGB},
		{[]pngChunk{ihdr(16, 2), trns}, 4, raster.RGB16},
		{[]pngChunk{ihdr(8, 3)}, 3, raster.SRGB},
		{[]pngChunk{ihdr(4, 3), trns}, 4, raster.SRGB},
		{[]pngChunk{ihdr(8, 4)}, 2, raster.BW},
		{[]pngChunk{ihdr(16, 6)}, 4, raster.RGB16},
	}
	for _, tc := range cases {
		bands, interp := pngLayout(tc.chunks)
		require.Equal(t, tc.bands, bands)
		require.Equal(t, tc.interp, interp)
	}

	bands, _ := pngLayout(nil)
	require.Zero(t, bands)
}
