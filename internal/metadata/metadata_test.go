package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/stretchr/testify/require"
)

func newImage(t *testing.T) *raster.Image {
	t.Helper()
	img, err := raster.New(4, 4, 3, 1, raster.SRGB)
	require.NoError(t, err)
	for i := range img.Pix() {
		img.Pix()[i] = byte(i)
	}
	return img
}

func fakeProfile() []byte {
	b := make([]byte, 200)
	binary.BigEndian.PutUint32(b[0:], 200)
	b[8], b[9] = 4, 0x30
	copy(b[12:], "mntr")
	copy(b[16:], "RGB ")
	copy(b[20:], "XYZ ")
	copy(b[36:], "acsp")
	return b
}

func TestRemoveICCProfileKeepsPixels(t *testing.T) {
	img := newImage(t)
	img.SetMeta(raster.MetaICCProfile, fakeProfile())
	img.SetMeta(raster.MetaXMP, []byte("<x/>"))
	want := append([]byte(nil), img.Pix()...)

	require.True(t, HasICCProfile(img))
	out := RemoveICCProfile(img)
	require.False(t, HasICCProfile(out))
	require.Equal(t, want, out.Pix())
	_, ok := out.Meta(raster.MetaXMP)
	require.True(t, ok)
}

func TestRemoveICCProfileWithoutProfile(t *testing.T) {
	img := newImage(t)
	require.Same(t, img, RemoveICCProfile(img))
}

func TestRemoveMetadataKeepsOrientation(t *testing.T) {
	img := newImage(t)
	img.SetMeta(raster.MetaEXIF, OrientationEXIF(6))
	img.SetMeta(raster.MetaXMP, []byte("<x/>"))
	img.SetMeta(raster.MetaICCProfile, fakeProfile())

	out := RemoveMetadata(img, Policy{})
	require.Equal(t, []string{raster.MetaICCProfile, raster.MetaOrientation}, out.MetaKeys())
	require.Equal(t, 6, Orientation(out))
}

func TestRemoveMetadataPolicy(t *testing.T) {
	img := newImage(t)
	img.SetMeta(raster.MetaOrientation, []byte("3"))
	img.SetMeta(raster.MetaICCProfile, fakeProfile())

	out := RemoveMetadata(img, Policy{RemoveICC: true, RemoveOrientation: true})
	require.Empty(t, out.MetaKeys())
	require.Equal(t, 0, Orientation(out))
}

func TestOrientation(t *testing.T) {
	tests := []struct {
		name string
		meta map[string][]byte
		want int
	}{
		{name: "none", want: 0},
		{name: "key", meta: map[string][]byte{raster.MetaOrientation: []byte("8")}, want: 8},
		{name: "exif", meta: map[string][]byte{raster.MetaEXIF: OrientationEXIF(5)}, want: 5},
		{name: "key wins", meta: map[string][]byte{
			raster.MetaOrientation: []byte("2"),
			raster.MetaEXIF:        OrientationEXIF(5),
		}, want: 2},
		{name: "garbage exif", meta: map[string][]byte{raster.MetaEXIF: []byte("nope")}, want: 0},
		{name: "out of range key", meta: map[string][]byte{raster.MetaOrientation: []byte("9")}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := newImage(t)
			for k, v := range tt.meta {
				img.SetMeta(k, v)
			}
			require.Equal(t, tt.want, Orientation(img))
		})
	}
}

func TestSetOrientationPatchesEXIF(t *testing.T) {
	img := newImage(t)
	raw := OrientationEXIF(6)
	img.SetMeta(raster.MetaEXIF, raw)

	SetOrientation(img, 1)
	img.DeleteMeta(raster.MetaOrientation)
	require.Equal(t, 1, Orientation(img))
	// the original block is not modified in place
	require.Equal(t, uint16(6), binary.LittleEndian.Uint16(raw[18:]))
}

func TestPatchOrientationBigEndian(t *testing.T) {
	raw := make([]byte, 26)
	copy(raw, "MM\x00*")
	binary.BigEndian.PutUint32(raw[4:], 8)
	binary.BigEndian.PutUint16(raw[8:], 1)
	binary.BigEndian.PutUint16(raw[10:], tagOrientation)
	binary.BigEndian.PutUint16(raw[12:], typeShort)
	binary.BigEndian.PutUint32(raw[14:], 1)
	binary.BigEndian.PutUint16(raw[18:], 7)

	out, ok := patchOrientation(raw, 1)
	require.True(t, ok)
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(out[18:]))

	_, ok = patchOrientation([]byte("II*\x00\x08\x00\x00\x00\x00\x00"), 1)
	require.False(t, ok)
}

func TestParseProfileInfo(t *testing.T) {
	info, err := ParseProfileInfo(fakeProfile())
	require.NoError(t, err)
	require.Equal(t, &ProfileInfo{
		Size:       200,
		Version:    "4.3.0",
		ColorSpace: "RGB",
		PCS:        "CIEXYZ",
		Class:      "Display",
	}, info)

	_, err = ParseProfileInfo(make([]byte, 64))
	require.Error(t, err)

	bad := fakeProfile()
	copy(bad[36:], "nope")
	_, err = ParseProfileInfo(bad)
	require.Error(t, err)
}

func TestProfileAbsent(t *testing.T) {
	info, err := Profile(newImage(t))
	require.NoError(t, err)
	require.Nil(t, info)
}
