package wire

import (
	"errors"
	"fmt"
)

// ErrUnsupportedGeometry is EncodeError{unsupported_geometry} from spec.md §4.A.
var ErrUnsupportedGeometry = errors.New("wire: unsupported panel geometry")

const (
	startByte = 0x80
	endByte   = 0x8F

	// cfg selectors: width/refresh-mode. Dispatcher uses the instant-refresh
	// commands unless the topology is in buffered mode.
	cfg28Instant = 0x83
	cfg28Buffer  = 0x84
	cfg14Instant = 0x92
	cfg14Buffer  = 0x93
	cfg7Instant  = 0x87

	// AddressBroadcast is never emitted by the dispatcher (explicit addressing only).
	AddressBroadcast = 0xFF
)

// GlobalFlush is the buffered-mode flush message appended after the last
// panel write of a tick.
var GlobalFlush = []byte{startByte, 0x82, endByte}

func cfgFor(width int, buffered bool) (byte, error) {
	switch width {
	case 28:
		if buffered {
			return cfg28Buffer, nil
		}
		return cfg28Instant, nil
	case 14:
		if buffered {
			return cfg14Buffer, nil
		}
		return cfg14Instant, nil
	case 7:
		// 7-wide buffered mode is not part of the normative command set;
		// only instant refresh is defined for this width.
		return cfg7Instant, nil
	default:
		return 0, fmt.Errorf("%w: width %d", ErrUnsupportedGeometry, width)
	}
}

// EncodePanelMessage builds the RS-485 byte sequence for one panel write:
// 0x80, cfg, address, data..., 0x8F, where data has one byte per column
// (LSB = topmost pixel, bit 7 always 0). columns must have exactly width
// entries, each already in column-byte form (as produced by the mapper).
func EncodePanelMessage(width int, height int, address uint8, buffered bool, columns []byte) ([]byte, error) {
	if height != 7 {
		return nil, fmt.Errorf("%w: height %d", ErrUnsupportedGeometry, height)
	}
	cfg, err := cfgFor(width, buffered)
	if err != nil {
		return nil, err
	}
	if len(columns) != width {
		return nil, fmt.Errorf("wire: column count %d does not match panel width %d", len(columns), width)
	}
	out := make([]byte, 0, 3+len(columns)+1)
	out = append(out, startByte, cfg, address)
	out = append(out, columns...)
	out = append(out, endByte)
	return out, nil
}

// ColumnsFromRows converts a height-7 panel's row-major 0/1 pixel grid
// (already cropped+oriented by the mapper) into the column-byte form the
// RS-485 message carries: one byte per column, bit 0 = top row, bit 7 = 0.
func ColumnsFromRows(rows [][]uint8) []byte {
	if len(rows) == 0 {
		return nil
	}
	height := len(rows)
	width := len(rows[0])
	out := make([]byte, width)
	for x := 0; x < width; x++ {
		var col byte
		for y := 0; y < height && y < 7; y++ {
			if rows[y][x] != 0 {
				col |= 1 << uint(y)
			}
		}
		out[x] = col
	}
	return out
}
