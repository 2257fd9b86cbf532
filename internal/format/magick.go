//go:build !nomagick

package format

import "bytes"

func init() {
	fallback = append(fallback,
		sniffer{Magick, isBMP},
		sniffer{Magick, func(b []byte) bool { return bytes.HasPrefix(b, []byte{0x00, 0x00, 0x01, 0x00}) && len(b) >= 6 && b[4] != 0 }},
		sniffer{Magick, func(b []byte) bool { return bytes.HasPrefix(b, []byte("8BPS")) }},
		sniffer{Magick, func(b []byte) bool { return bytes.HasPrefix(b, []byte("gimp xcf")) }},
		sniffer{Magick, isPNM},
		sniffer{Magick, isJP2},
		sniffer{Magick, isHEIF},
	)
}

func isBMP(b []byte) bool {
	if len(b) < 18 || b[0] != 'B' || b[1] != 'M' {
		return false
	}
	// DIB header sizes used by the BITMAPCOREHEADER..BITMAPV5HEADER family.
	switch uint32(b[14]) | uint32(b[15])<<8 | uint32(b[16])<<16 | uint32(b[17])<<24 {
	case 12, 40, 52, 56, 64, 108, 124:
		return true
	}
	return false
}

func isPNM(b []byte) bool {
	if len(b) < 3 || b[0] != 'P' || b[1] < '1' || b[1] > '7' {
		return false
	}
	switch b[2] {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

var (
	jp2Box        = []byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	j2kCodestream = []byte{0xFF, 0x4F, 0xFF, 0x51}
)

func isJP2(b []byte) bool {
	return bytes.HasPrefix(b, jp2Box) || bytes.HasPrefix(b, j2kCodestream)
}

var heifBrands = [][]byte{
	[]byte("heic"), []byte("heix"), []byte("hevc"), []byte("heim"),
	[]byte("heis"), []byte("mif1"), []byte("msf1"), []byte("avif"),
}

func isHEIF(b []byte) bool {
	if len(b) < 12 || !bytes.Equal(b[4:8], []byte("ftyp")) {
		return false
	}
	brand := b[8:12]
	for _, h := range heifBrands {
		if bytes.Equal(brand, h) {
			return true
		}
	}
	return false
}
