package transform

import (
	"github.com/dunamismax/rasterflow/internal/metadata"
	"github.com/dunamismax/rasterflow/internal/raster"
)

// Autorotate turns img upright according to its EXIF orientation and then
// records orientation 1. Images without an orientation are returned as is.
func Autorotate(img *raster.Image) (*raster.Image, error) {
	o := metadata.Orientation(img)
	if o <= 1 {
		return img, nil
	}

	var angle int
	var mirror bool
	switch o {
	case 2:
		mirror = true
	case 3:
		angle = 180
	case 4:
		angle, mirror = 180, true
	case 5:
		angle, mirror = 90, true
	case 6:
		angle = 90
	case 7:
		angle, mirror = 270, true
	case 8:
		angle = 270
	}

	out, err := Rotate(img, angle)
	if err != nil {
		return nil, err
	}
	if mirror {
		if out, err = Flip(out, Horizontal); err != nil {
			return nil, err
		}
	}
	if out == img {
		out = img.Clone()
	}
	metadata.SetOrientation(out, 1)
	return out, nil
}
