package ai

import (
	"encoding/binary"
	"fmt"
)

// ConcatWAV joins WAV containers by concatenating their data chunks under the
// first segment's format header. All segments must share the same format; the
// synthesis backend guarantees that since every chunk uses the same speaker
// settings.
func ConcatWAV(segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("wav: no segments")
	}
	if len(segments) == 1 {
		return segments[0], nil
	}

	fmtChunk, _, err := splitWAV(segments[0])
	if err != nil {
		return nil, fmt.Errorf("wav: segment 0: %w", err)
	}

	var total int
	payloads := make([][]byte, len(segments))
	for i, seg := range segments {
		_, data, err := splitWAV(seg)
		if err != nil {
			return nil, fmt.Errorf("wav: segment %d: %w", i, err)
		}
		payloads[i] = data
		total += len(data)
	}

	// RIFF size = "WAVE" + fmt chunk + data header + data payload.
	riffSize := 4 + len(fmtChunk) + 8 + total

	out := make([]byte, 0, riffSize+8)
	out = append(out, 'R', 'I', 'F', 'F')
	out = binary.LittleEndian.AppendUint32(out, uint32(riffSize))
	out = append(out, 'W', 'A', 'V', 'E')
	out = append(out, fmtChunk...)
	out = append(out, 'd', 'a', 't', 'a')
	out = binary.LittleEndian.AppendUint32(out, uint32(total))
	for _, p := range payloads {
		out = append(out, p...)
	}
	return out, nil
}

// splitWAV returns the fmt chunk (header included) and the data payload of a
// WAV container, tolerating extra chunks between them.
func splitWAV(b []byte) (fmtChunk, data []byte, err error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		end := off + 8 + size
		if end > len(b) {
			// Tolerate a truncated final data chunk.
			if id == "data" {
				end = len(b)
			} else {
				return nil, nil, fmt.Errorf("chunk %q overruns container", id)
			}
		}

		switch id {
		case "fmt ":
			fmtChunk = b[off:end]
		case "data":
			data = b[off+8 : end]
		}

		// Chunks are word-aligned.
		if size%2 == 1 {
			end++
		}
		off = end
	}

	if fmtChunk == nil {
		return nil, nil, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return nil, nil, fmt.Errorf("missing data chunk")
	}
	return fmtChunk, data, nil
}
