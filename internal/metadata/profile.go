package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dunamismax/rasterflow/internal/raster"
)

const (
	maxProfileSize = 4 * 1024 * 1024
	acspMagic      = 0x61637370 // 'acsp'
)

// ProfileInfo is the header of an ICC profile.
type ProfileInfo struct {
	Size       uint32 `json:"size"`
	Version    string `json:"version"`
	ColorSpace string `json:"color_space"`
	PCS        string `json:"pcs"`
	Class      string `json:"class"`
}

// ParseProfileInfo reads the 128-byte ICC header.
func ParseProfileInfo(data []byte) (*ProfileInfo, error) {
	if len(data) < 128 {
		return nil, errors.New("ICC profile too short (< 128 bytes)")
	}
	if len(data) > maxProfileSize {
		return nil, fmt.Errorf("ICC profile too large (%d bytes, max %d)", len(data), maxProfileSize)
	}
	if sig := binary.BigEndian.Uint32(data[36:40]); sig != acspMagic {
		return nil, fmt.Errorf("invalid ICC signature: 0x%08x", sig)
	}
	return &ProfileInfo{
		Size:       binary.BigEndian.Uint32(data[0:4]),
		Version:    fmt.Sprintf("%d.%d.%d", data[8], data[9]>>4, data[9]&0x0f),
		ColorSpace: colorSpaceName(string(data[16:20])),
		PCS:        colorSpaceName(string(data[20:24])),
		Class:      profileClassName(string(data[12:16])),
	}, nil
}

// Profile parses img's ICC header. It returns nil, nil when there is no
// profile.
func Profile(img *raster.Image) (*ProfileInfo, error) {
	icc, ok := img.Meta(raster.MetaICCProfile)
	if !ok || len(icc) == 0 {
		return nil, nil
	}
	return ParseProfileInfo(icc)
}

func colorSpaceName(sig string) string {
	switch sig {
	case "RGB ":
		return "RGB"
	case "CMYK":
		return "CMYK"
	case "GRAY":
		return "Grayscale"
	case "Lab ":
		return "CIELAB"
	case "XYZ ":
		return "CIEXYZ"
	default:
		return sig
	}
}

func profileClassName(sig string) string {
	switch sig {
	case "mntr":
		return "Display"
	case "prtr":
		return "Output"
	case "scnr":
		return "Input"
	case "link":
		return "DeviceLink"
	case "spac":
		return "ColorSpace"
	case "abst":
		return "Abstract"
	case "nmcl":
		return "NamedColor"
	default:
		return sig
	}
}
