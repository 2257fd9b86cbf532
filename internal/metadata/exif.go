package metadata

import (
	"encoding/binary"
)

const (
	tagOrientation = 0x0112
	typeShort      = 3
)

// OrientationEXIF builds the smallest EXIF block that records orientation o:
// a little-endian TIFF header and a single-entry IFD0.
func OrientationEXIF(o int) []byte {
	b := make([]byte, 8+2+12+4)
	copy(b, "II*\x00")
	le := binary.LittleEndian
	le.PutUint32(b[4:], 8)
	le.PutUint16(b[8:], 1)
	e := b[10:22]
	le.PutUint16(e[0:], tagOrientation)
	le.PutUint16(e[2:], typeShort)
	le.PutUint32(e[4:], 1)
	le.PutUint16(e[8:], uint16(o))
	return b
}

// patchOrientation returns a copy of raw with the IFD0 orientation entry set
// to o. It reports false when raw has no such entry.
func patchOrientation(raw []byte, o int) ([]byte, bool) {
	if len(raw) < 8 {
		return nil, false
	}
	var order binary.ByteOrder
	switch string(raw[:4]) {
	case "II*\x00":
		order = binary.LittleEndian
	case "MM\x00*":
		order = binary.BigEndian
	default:
		return nil, false
	}
	ifd := int(order.Uint32(raw[4:]))
	if ifd < 8 || ifd+2 > len(raw) {
		return nil, false
	}
	n := int(order.Uint16(raw[ifd:]))
	for i := 0; i < n; i++ {
		e := ifd + 2 + i*12
		if e+12 > len(raw) {
			return nil, false
		}
		if order.Uint16(raw[e:]) != tagOrientation || order.Uint16(raw[e+2:]) != typeShort {
			continue
		}
		out := append([]byte(nil), raw...)
		order.PutUint16(out[e+8:], uint16(o))
		return out, true
	}
	return nil, false
}
