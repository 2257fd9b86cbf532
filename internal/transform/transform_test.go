package transform

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dunamismax/rasterflow/internal/imgerr"
	"github.com/dunamismax/rasterflow/internal/metadata"
	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func pattern(t *testing.T, w, h, bands, depth int, interp raster.Interpretation) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, bands, depth, interp)
	require.NoError(t, err)
	for i := range img.Pix() {
		img.Pix()[i] = byte(i*7 + i/5)
	}
	return img
}

func uniform(t *testing.T, w, h int, px ...float64) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, len(px), 1, raster.SRGB)
	if len(px) == 1 || len(px) == 2 {
		img, err = raster.New(w, h, len(px), 1, raster.BW)
	}
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for b, v := range px {
				img.Set(x, y, b, v)
			}
		}
	}
	return img
}

func TestFlipInvolution(t *testing.T) {
	layouts := []struct {
		bands, depth int
		interp       raster.Interpretation
	}{
		{1, 1, raster.BW},
		{4, 1, raster.SRGB},
		{3, 2, raster.RGB16},
		{5, 1, raster.CMYK},
	}
	for _, l := range layouts {
		for _, dir := range []Direction{Horizontal, Vertical} {
			img := pattern(t, 7, 5, l.bands, l.depth, l.interp)
			once, err := Flip(img, dir)
			require.NoError(t, err)
			require.NotEqual(t, img.Pix(), once.Pix())
			twice, err := Flip(once, dir)
			require.NoError(t, err)
			if diff := cmp.Diff(img.Pix(), twice.Pix()); diff != "" {
				t.Fatalf("%s %s flip twice mismatch (-want +got):\n%s", img, dir, diff)
			}
		}
	}
}

func TestFlipHorizontalMovesPixels(t *testing.T) {
	img := pattern(t, 4, 2, 3, 1, raster.SRGB)
	out, err := Flip(img, Horizontal)
	require.NoError(t, err)
	for b := 0; b < 3; b++ {
		require.Equal(t, img.At(0, 1, b), out.At(3, 1, b))
	}

	_, err = Flip(img, "diagonal")
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestExtractEmbedReconstruction(t *testing.T) {
	img := pattern(t, 20, 16, 3, 1, raster.SRGB)
	const left, top, w, h = 3, 5, 9, 7

	area, err := ExtractArea(img, left, top, w, h)
	require.NoError(t, err)
	require.Equal(t, w, area.Width())
	require.Equal(t, h, area.Height())

	canvas, err := Embed(area, left, top, img.Width(), img.Height(), ExtendBlack, nil)
	require.NoError(t, err)
	back, err := ExtractArea(canvas, left, top, w, h)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(area.Pix(), back.Pix()))

	for b := 0; b < 3; b++ {
		require.Equal(t, 0.0, canvas.At(0, 0, b))
		require.Equal(t, img.At(left, top, b), canvas.At(left, top, b))
	}
}

func TestExtractAreaOutOfBounds(t *testing.T) {
	img := pattern(t, 10, 10, 3, 1, raster.SRGB)
	for _, r := range [][4]int{{5, 5, 10, 10}, {-1, 0, 2, 2}, {0, 0, 0, 4}, {9, 9, 2, 1}} {
		_, err := ExtractArea(img, r[0], r[1], r[2], r[3])
		require.ErrorIs(t, err, imgerr.ErrInvalidGeometry, "area %v", r)
	}

	_, err := Apply(img, Operation{Kind: KindExtractArea, Left: 8, Top: 8, Width: 4, Height: 4})
	require.ErrorIs(t, err, imgerr.ErrInvalidGeometry)
}

func TestEmbedExtendModes(t *testing.T) {
	img := uniform(t, 2, 1, 10)
	img.Set(1, 0, 0, 20)

	tests := []struct {
		extend Extend
		want   []byte
	}{
		{ExtendBlack, []byte{0, 0, 10, 20, 0, 0}},
		{ExtendWhite, []byte{255, 255, 10, 20, 255, 255}},
		{ExtendCopy, []byte{10, 10, 10, 20, 20, 20}},
		{ExtendRepeat, []byte{10, 20, 10, 20, 10, 20}},
		{ExtendMirror, []byte{20, 10, 10, 20, 20, 10}},
		{ExtendBackground, []byte{100, 100, 10, 20, 100, 100}},
	}
	for _, tt := range tests {
		t.Run(string(tt.extend), func(t *testing.T) {
			out, err := Embed(img, 2, 0, 6, 1, tt.extend, []float64{100, 100, 100})
			require.NoError(t, err)
			require.Equal(t, tt.want, out.Pix())
		})
	}
}

func TestEmbedCanvasTooSmall(t *testing.T) {
	img := pattern(t, 10, 10, 3, 1, raster.SRGB)
	_, err := Embed(img, 5, 0, 12, 10, ExtendBlack, nil)
	require.ErrorIs(t, err, imgerr.ErrInvalidGeometry)

	_, err = Embed(img, 0, 0, 12, 12, "smear", nil)
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestFlatten(t *testing.T) {
	noAlpha := pattern(t, 4, 4, 3, 1, raster.SRGB)
	same, err := Flatten(noAlpha, []float64{255, 0, 0})
	require.NoError(t, err)
	require.Same(t, noAlpha, same)

	img := uniform(t, 2, 1, 200, 100, 50, 255)
	img.Set(1, 0, 3, 0)
	out, err := Flatten(img, []float64{10, 20, 30})
	require.NoError(t, err)
	require.Equal(t, 3, out.Bands())
	require.False(t, raster.HasAlpha(out))
	require.Equal(t, []byte{200, 100, 50, 10, 20, 30}, out.Pix())

	grey := uniform(t, 1, 1, 100, 0)
	out, err = Flatten(grey, []float64{255, 255, 255})
	require.NoError(t, err)
	require.Equal(t, []byte{255}, out.Pix())
}

func TestShrinkZoomRestoresDimensions(t *testing.T) {
	img := pattern(t, 100, 100, 3, 1, raster.SRGB)
	small, err := Shrink(img, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 50, small.Width())
	require.Equal(t, 50, small.Height())

	big, err := Zoom(small, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 100, big.Width())
	require.Equal(t, 100, big.Height())
	require.Equal(t, small.At(3, 4, 1), big.At(7, 9, 1))
}

func TestShrinkDimensions(t *testing.T) {
	tests := []struct {
		w, h   int
		x, y   float64
		ow, oh int
	}{
		{5, 5, 2, 2, 3, 3},
		{100, 40, 3, 1.5, 33, 27},
		{7, 7, 100, 100, 1, 1},
		{10, 10, 1, 1, 10, 10},
	}
	for _, tt := range tests {
		img := pattern(t, tt.w, tt.h, 1, 1, raster.BW)
		out, err := Shrink(img, tt.x, tt.y)
		require.NoError(t, err)
		require.Equal(t, [2]int{tt.ow, tt.oh}, [2]int{out.Width(), out.Height()})
	}

	_, err := Shrink(pattern(t, 4, 4, 1, 1, raster.BW), 0, 2)
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestShrinkAveragesBlocks(t *testing.T) {
	img, err := raster.FromPixels(2, 2, 1, 1, raster.BW, []byte{0, 100, 50, 250})
	require.NoError(t, err)
	out, err := Shrink(img, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{100}, out.Pix())
}

func TestReduceKernelsKeepFlatColour(t *testing.T) {
	for _, k := range []string{"", KernelNearest, KernelLinear, KernelCubic, KernelLanczos2, KernelLanczos3} {
		img := uniform(t, 30, 20, 40, 120, 220)
		out, err := Reduce(img, 2.5, 2, k)
		require.NoError(t, err, k)
		require.Equal(t, 12, out.Width())
		require.Equal(t, 10, out.Height())
		for i := 0; i < len(out.Pix()); i += 3 {
			require.Equal(t, []byte{40, 120, 220}, out.Pix()[i:i+3], "kernel %q", k)
		}
	}

	_, err := Reduce(uniform(t, 4, 4, 1), 2, 2, "mitchell")
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestAffine(t *testing.T) {
	img := pattern(t, 6, 4, 3, 1, raster.SRGB)

	id, err := Affine(img, Matrix{1, 0, 0, 1}, "bilinear")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(img.Pix(), id.Pix()))

	turned, err := Affine(img, Matrix{0, -1, 1, 0}, "nearest")
	require.NoError(t, err)
	require.Equal(t, 4, turned.Width())
	require.Equal(t, 6, turned.Height())

	doubled, err := Affine(img, Matrix{2, 0, 0, 2}, "bicubic")
	require.NoError(t, err)
	require.Equal(t, 12, doubled.Width())
	require.Equal(t, 8, doubled.Height())

	_, err = Affine(img, Matrix{1, 2, 2, 4}, "bilinear")
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
	_, err = Affine(img, Matrix{1, 0, 0, 1}, "sinc")
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestColorspace(t *testing.T) {
	img := uniform(t, 2, 2, 255, 0, 0, 128)
	img.SetMeta(raster.MetaICCProfile, []byte("profile"))

	grey, err := Colorspace(img, raster.BW)
	require.NoError(t, err)
	require.Equal(t, 2, grey.Bands())
	require.Equal(t, []byte{76, 128}, grey.Pix()[:2])
	require.False(t, metadata.HasICCProfile(grey))

	cmyk, err := Colorspace(img, raster.CMYK)
	require.NoError(t, err)
	require.Equal(t, 5, cmyk.Bands())
	require.Equal(t, []byte{0, 255, 255, 0, 128}, cmyk.Pix()[:5])

	back, err := Colorspace(cmyk, raster.SRGB)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 0, 0, 128}, back.Pix()[:4])

	deep, err := Colorspace(img, raster.RGB16)
	require.NoError(t, err)
	require.Equal(t, 2, deep.BytesPerSample())
	require.Equal(t, 65535.0, deep.At(0, 0, 0))
	require.Equal(t, 128.0*257, deep.At(0, 0, 3))

	same, err := Colorspace(img, raster.SRGB)
	require.NoError(t, err)
	require.Same(t, img, same)
}

func TestColorspaceUnsupported(t *testing.T) {
	multi := pattern(t, 2, 2, 2, 1, raster.Multiband)
	require.False(t, IsColorspaceSupported(multi))
	_, err := Colorspace(multi, raster.SRGB)
	require.ErrorIs(t, err, imgerr.ErrUnsupportedColorspace)

	img := pattern(t, 2, 2, 3, 1, raster.SRGB)
	require.True(t, IsColorspaceSupported(img))
	_, err = Colorspace(img, raster.Multiband)
	require.ErrorIs(t, err, imgerr.ErrUnsupportedColorspace)
}

func TestRotate(t *testing.T) {
	img := pattern(t, 5, 3, 3, 1, raster.SRGB)
	r, err := Rotate(img, 90)
	require.NoError(t, err)
	require.Equal(t, 3, r.Width())
	require.Equal(t, 5, r.Height())
	// top-left moves to top-right under a clockwise quarter turn
	require.Equal(t, img.At(0, 0, 0), r.At(2, 0, 0))

	out := img
	for i := 0; i < 4; i++ {
		out, err = Rotate(out, -90)
		require.NoError(t, err)
	}
	require.Empty(t, cmp.Diff(img.Pix(), out.Pix()))

	_, err = Rotate(img, 45)
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestAutorotate(t *testing.T) {
	img := pattern(t, 5, 3, 3, 1, raster.SRGB)
	img.SetMeta(raster.MetaEXIF, metadata.OrientationEXIF(6))

	want, err := Rotate(img.Clone(), 90)
	require.NoError(t, err)
	out, err := Autorotate(img)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want.Pix(), out.Pix()))
	require.Equal(t, 1, metadata.Orientation(out))

	mirrored := pattern(t, 4, 4, 1, 1, raster.BW)
	mirrored.SetMeta(raster.MetaOrientation, []byte("5"))
	out, err = Autorotate(mirrored)
	require.NoError(t, err)
	require.Equal(t, mirrored.At(1, 3, 0), out.At(3, 1, 0))

	plain := pattern(t, 4, 4, 1, 1, raster.BW)
	out, err = Autorotate(plain)
	require.NoError(t, err)
	require.Same(t, plain, out)
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name   string
		img    *raster.Image
		w, h   int
		ow, oh int
	}{
		{"srgb wide", pattern(t, 200, 100, 3, 1, raster.SRGB), 50, 50, 50, 25},
		{"grey tall", pattern(t, 60, 120, 1, 1, raster.BW), 40, 40, 20, 40},
		{"rgb16 width only", pattern(t, 80, 40, 3, 2, raster.RGB16), 20, 0, 20, 10},
		{"cmyk", pattern(t, 30, 30, 4, 1, raster.CMYK), 10, 10, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Thumbnail(tt.img, tt.w, tt.h)
			require.NoError(t, err)
			require.Equal(t, [2]int{tt.ow, tt.oh}, [2]int{out.Width(), out.Height()})
			require.Equal(t, tt.img.Bands(), out.Bands())
			require.Equal(t, tt.img.Interpretation(), out.Interpretation())
		})
	}

	_, err := Thumbnail(pattern(t, 4, 4, 1, 1, raster.BW), 0, 4)
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestWatermark(t *testing.T) {
	img := uniform(t, 120, 40, 0, 0, 0)
	out, err := Watermark(img, "rasterflow", 1, "center")
	require.NoError(t, err)
	require.Equal(t, img.Width(), out.Width())
	require.Equal(t, 3, out.Bands())

	lit := 0
	for _, v := range out.Pix() {
		if v == 255 {
			lit++
		}
	}
	require.Positive(t, lit)

	_, err = Watermark(img, " ", 0.5, "")
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
	_, err = Watermark(img, "x", 0.5, "upside")
	require.ErrorIs(t, err, imgerr.ErrInvalidParameter)
}

func TestApplyAllRecordsHistory(t *testing.T) {
	var ops []Operation
	require.NoError(t, json.Unmarshal([]byte(`[
		{"kind": "flip", "direction": "vertical"},
		{"kind": "shrink", "xshrink": 2, "yshrink": 2},
		{"kind": "colorspace", "interpretation": "b-w"}
	]`), &ops))
	for _, op := range ops {
		require.NoError(t, op.Validate())
	}

	img := pattern(t, 8, 8, 3, 1, raster.SRGB)
	out, err := ApplyAll(img, ops)
	require.NoError(t, err)
	require.Equal(t, 4, out.Width())
	require.Equal(t, raster.BW, out.Interpretation())
	require.Equal(t, []string{"flip(vertical)", "shrink(2,2)", "colorspace(b-w)"}, out.History())
}

func TestApplyRejectsBadOperations(t *testing.T) {
	img := pattern(t, 8, 8, 3, 1, raster.SRGB)
	bad := []Operation{
		{Kind: "sharpen"},
		{Kind: KindZoom, XFac: 0, YFac: 1},
		{Kind: KindReduce, XShrink: -1, YShrink: 1},
		{Kind: KindAffine, Matrix: []float64{1, 0, 0}},
		{Kind: KindColorspace},
		{Kind: KindThumbnail},
	}
	for _, op := range bad {
		_, err := Apply(img, op)
		require.Error(t, err, op.String())
		require.True(t, errors.Is(err, imgerr.ErrInvalidParameter), op.String())
	}
}
