package codec

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

const (
	iccMarkerTag = "ICC_PROFILE\x00"
	// APP2 payload limit: 65535 minus the length field and the 14 byte header.
	maxICCChunk = 65519
)

// joinICC reassembles an ICC profile from APP2 payloads. Payloads without the
// ICC tag are skipped; a nil profile with nil error means none was present.
func joinICC(markers [][]byte) ([]byte, error) {
	type chunk struct {
		seq  int
		data []byte
	}
	var chunks []chunk
	expected := 0

	for _, m := range markers {
		if len(m) < 14 || string(m[:12]) != iccMarkerTag {
			continue
		}
		seq, count := int(m[12]), int(m[13])
		if seq == 0 || seq > count {
			return nil, fmt.Errorf("icc chunk sequence %d/%d", seq, count)
		}
		if expected == 0 {
			expected = count
		} else if count != expected {
			return nil, fmt.Errorf("icc chunk count %d vs %d", count, expected)
		}
		chunks = append(chunks, chunk{seq: seq, data: m[14:]})
	}

	if len(chunks) == 0 {
		return nil, nil
	}
	if len(chunks) != expected {
		return nil, fmt.Errorf("expected %d icc chunks, found %d", expected, len(chunks))
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].seq < chunks[j].seq })
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.data)
	}
	return buf.Bytes(), nil
}

// splitICC cuts a profile into APP2 payloads.
func splitICC(profile []byte) ([][]byte, error) {
	if len(profile) == 0 {
		return nil, errors.New("empty icc profile")
	}
	n := (len(profile) + maxICCChunk - 1) / maxICCChunk
	if n > 255 {
		return nil, fmt.Errorf("icc profile of %d bytes needs %d chunks", len(profile), n)
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * maxICCChunk
		end := min(start+maxICCChunk, len(profile))

		chunk := make([]byte, 0, 14+end-start)
		chunk = append(chunk, iccMarkerTag...)
		chunk = append(chunk, byte(i+1), byte(n))
		chunk = append(chunk, profile[start:end]...)
		out = append(out, chunk)
	}
	return out, nil
}
