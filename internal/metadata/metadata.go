// Package metadata inspects and strips the ancillary data a raster carries:
// ICC profile, EXIF, XMP and orientation.
package metadata

import (
	"bytes"
	"strconv"

	"github.com/dunamismax/rasterflow/internal/raster"
	"github.com/rwcarlsen/goexif/exif"
)

// Policy selects what RemoveMetadata strips beyond EXIF and XMP.
type Policy struct {
	RemoveICC         bool
	RemoveOrientation bool
}

// HasICCProfile reports whether img carries a non-empty ICC profile.
func HasICCProfile(img *raster.Image) bool {
	icc, ok := img.Meta(raster.MetaICCProfile)
	return ok && len(icc) > 0
}

// RemoveICCProfile returns img without its ICC profile. Pixels are shared, not
// copied, and img is consumed.
func RemoveICCProfile(img *raster.Image) *raster.Image {
	if !HasICCProfile(img) {
		return img
	}
	meta := img.MetadataCopy()
	delete(meta, raster.MetaICCProfile)
	out := img.Retag(meta)
	out.Record("remove_icc")
	return out
}

// RemoveMetadata drops EXIF and XMP. The orientation survives as its own key
// unless the policy removes it; the ICC profile survives unless the policy
// removes it. img is consumed.
func RemoveMetadata(img *raster.Image, p Policy) *raster.Image {
	o := Orientation(img)
	meta := img.MetadataCopy()
	delete(meta, raster.MetaEXIF)
	delete(meta, raster.MetaXMP)
	delete(meta, raster.MetaOrientation)
	if p.RemoveICC {
		delete(meta, raster.MetaICCProfile)
	}
	if !p.RemoveOrientation && o > 0 {
		if meta == nil {
			meta = make(map[string][]byte, 1)
		}
		meta[raster.MetaOrientation] = []byte(strconv.Itoa(o))
	}
	out := img.Retag(meta)
	out.Record("strip")
	return out
}

// Orientation returns the EXIF orientation (1-8) of img, or 0 when none is
// recorded. An explicit orientation key wins over the EXIF block.
func Orientation(img *raster.Image) int {
	if v, ok := img.Meta(raster.MetaOrientation); ok {
		if o, err := strconv.Atoi(string(v)); err == nil && validOrientation(o) {
			return o
		}
	}
	raw, ok := img.Meta(raster.MetaEXIF)
	if !ok || len(raw) == 0 {
		return 0
	}
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil || !validOrientation(o) {
		return 0
	}
	return o
}

// SetOrientation records o as img's orientation, rewriting the tag inside an
// EXIF block when one is present.
func SetOrientation(img *raster.Image, o int) {
	img.SetMeta(raster.MetaOrientation, []byte(strconv.Itoa(o)))
	if raw, ok := img.Meta(raster.MetaEXIF); ok && len(raw) > 0 {
		if patched, ok := patchOrientation(raw, o); ok {
			img.SetMeta(raster.MetaEXIF, patched)
		}
	}
}

func validOrientation(o int) bool {
	return o >= 1 && o <= 8
}
