package vision

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/png"

	"golang.org/x/image/tiff"
)

// ErrInvalidTIFF is returned for data that is not a readable classic TIFF.
var ErrInvalidTIFF = errors.New("invalid tiff")

// maxFrames guards against IFD chains that loop or run away.
const maxFrames = 4096

// Frame is one page of a multi-page TIFF, re-encoded as PNG.
type Frame struct {
	Page int
	PNG  []byte
}

// SplitTIFF decodes every image file directory of a classic TIFF and returns the frames in file
// order. Page numbers start at 1.
func SplitTIFF(data []byte) ([]Frame, error) {
	offsets, order, err := ifdOffsets(data)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(offsets))
	patched := make([]byte, len(data))
	for i, off := range offsets {
		// The decoder only reads the first directory, so point the header at frame i.
		copy(patched, data)
		order.PutUint32(patched[4:8], off)
		img, err := tiff.Decode(bytes.NewReader(patched))
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrInvalidTIFF, i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i+1, err)
		}
		frames = append(frames, Frame{Page: i + 1, PNG: buf.Bytes()})
	}
	return frames, nil
}

// ifdOffsets walks the directory chain from the header.
func ifdOffsets(data []byte) ([]uint32, binary.ByteOrder, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("%w: short header", ErrInvalidTIFF)
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: bad byte order mark", ErrInvalidTIFF)
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, nil, fmt.Errorf("%w: unsupported version (BigTIFF?)", ErrInvalidTIFF)
	}

	var offsets []uint32
	seen := make(map[uint32]bool)
	off := order.Uint32(data[4:8])
	for off != 0 {
		if seen[off] || len(offsets) >= maxFrames {
			return nil, nil, fmt.Errorf("%w: directory chain loops", ErrInvalidTIFF)
		}
		seen[off] = true
		if uint64(off)+2 > uint64(len(data)) {
			return nil, nil, fmt.Errorf("%w: directory offset %d out of range", ErrInvalidTIFF, off)
		}
		n := uint64(order.Uint16(data[off : off+2]))
		next := uint64(off) + 2 + n*12
		if next+4 > uint64(len(data)) {
			return nil, nil, fmt.Errorf("%w: truncated directory at %d", ErrInvalidTIFF, off)
		}
		offsets = append(offsets, off)
		off = order.Uint32(data[next : next+4])
	}
	if len(offsets) == 0 {
		return nil, nil, fmt.Errorf("%w: no image directories", ErrInvalidTIFF)
	}
	return offsets, order, nil
}
