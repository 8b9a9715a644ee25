// Package mapper implements the pure canvas-to-panel transform: component B
// of flipdotd. Map takes a decoded canvas bitmap and a topology and produces,
// for each panel, the column-byte payload the RS-485 codec needs.
package mapper

import (
	"fmt"

	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/wire"
)

// Map crops and reorients the canvas bitmap per panel and returns each
// panel's column-byte payload, keyed by panel id. Panels are processed in
// canonical topology order (config.Topology.Sorted), though the returned map
// is unordered by construction — callers that need the order re-derive it
// from Sorted.
func Map(canvas [][]uint8, topo *config.Topology) (map[string][]byte, error) {
	out := make(map[string][]byte, len(topo.Panels))
	for _, p := range topo.Sorted() {
		rows, err := cropOriented(canvas, p)
		if err != nil {
			return nil, fmt.Errorf("mapper: panel %q: %w", p.ID, err)
		}
		out[p.ID] = wire.ColumnsFromRows(rows)
	}
	return out, nil
}

// cropOriented crops the region of canvas that feeds panel p and applies its
// orientation transform, returning a HeightPx x WidthPx grid (rows x cols) in
// the panel's own final coordinate system.
func cropOriented(canvas [][]uint8, p config.Panel) ([][]uint8, error) {
	cropW, cropH := p.WidthPx, p.HeightPx
	switch p.Orientation {
	case config.OrientationRot90, config.OrientationRot270:
		// A 90-degree turn swaps the pre-image dimensions: we must read a
		// HeightPx x WidthPx region to end up with WidthPx x HeightPx after
		// rotating, not the other way around.
		cropW, cropH = p.HeightPx, p.WidthPx
	}
	region, err := crop(canvas, p.OriginXPx, p.OriginYPx, cropW, cropH)
	if err != nil {
		return nil, err
	}
	switch p.Orientation {
	case config.OrientationNormal, "":
		return region, nil
	case config.OrientationRot90:
		return rotate90CW(region), nil
	case config.OrientationRot180:
		return rotate180(region), nil
	case config.OrientationRot270:
		return rotate270CW(region), nil
	case config.OrientationFlipH:
		return flipH(region), nil
	case config.OrientationFlipV:
		return flipV(region), nil
	default:
		return nil, fmt.Errorf("unknown orientation %q", p.Orientation)
	}
}

func crop(canvas [][]uint8, originX, originY, w, h int) ([][]uint8, error) {
	if originY < 0 || originY+h > len(canvas) {
		return nil, fmt.Errorf("row range [%d,%d) out of canvas bounds (height %d)", originY, originY+h, len(canvas))
	}
	out := make([][]uint8, h)
	for y := 0; y < h; y++ {
		row := canvas[originY+y]
		if originX < 0 || originX+w > len(row) {
			return nil, fmt.Errorf("column range [%d,%d) out of canvas bounds (width %d)", originX, originX+w, len(row))
		}
		r := make([]uint8, w)
		copy(r, row[originX:originX+w])
		out[y] = r
	}
	return out, nil
}

// rotate90CW rotates a rows x cols grid 90 degrees clockwise into a
// cols x rows grid.
func rotate90CW(src [][]uint8) [][]uint8 {
	rows := len(src)
	if rows == 0 {
		return nil
	}
	cols := len(src[0])
	dst := make([][]uint8, cols)
	for i := 0; i < cols; i++ {
		dst[i] = make([]uint8, rows)
		for j := 0; j < rows; j++ {
			dst[i][j] = src[rows-1-j][i]
		}
	}
	return dst
}

// rotate270CW rotates 270 degrees clockwise (= 90 counter-clockwise).
func rotate270CW(src [][]uint8) [][]uint8 {
	rows := len(src)
	if rows == 0 {
		return nil
	}
	cols := len(src[0])
	dst := make([][]uint8, cols)
	for i := 0; i < cols; i++ {
		dst[i] = make([]uint8, rows)
		for j := 0; j < rows; j++ {
			dst[i][j] = src[j][cols-1-i]
		}
	}
	return dst
}

func rotate180(src [][]uint8) [][]uint8 {
	rows := len(src)
	if rows == 0 {
		return nil
	}
	cols := len(src[0])
	dst := make([][]uint8, rows)
	for i := 0; i < rows; i++ {
		dst[i] = make([]uint8, cols)
		for j := 0; j < cols; j++ {
			dst[i][j] = src[rows-1-i][cols-1-j]
		}
	}
	return dst
}

func flipH(src [][]uint8) [][]uint8 {
	rows := len(src)
	if rows == 0 {
		return nil
	}
	cols := len(src[0])
	dst := make([][]uint8, rows)
	for i := 0; i < rows; i++ {
		dst[i] = make([]uint8, cols)
		for j := 0; j < cols; j++ {
			dst[i][j] = src[i][cols-1-j]
		}
	}
	return dst
}

func flipV(src [][]uint8) [][]uint8 {
	rows := len(src)
	dst := make([][]uint8, rows)
	for i := 0; i < rows; i++ {
		dst[i] = src[rows-1-i]
	}
	return dst
}

// Unmap reconstructs a canvas-sized grid from per-panel column-byte payloads,
// for verifying the mapping-parity invariant (spec.md §4.B): pixels outside
// all panels are left zero ("don't-care").
func Unmap(payloads map[string][]byte, topo *config.Topology) [][]uint8 {
	canvas := make([][]uint8, topo.Canvas.HeightPx)
	for y := range canvas {
		canvas[y] = make([]uint8, topo.Canvas.WidthPx)
	}
	for _, p := range topo.Panels {
		cols, ok := payloads[p.ID]
		if !ok {
			continue
		}
		rows := rowsFromColumns(cols, p.HeightPx)
		oriented := unorient(rows, p.Orientation)
		for y := 0; y < len(oriented); y++ {
			for x := 0; x < len(oriented[y]); x++ {
				cy, cx := p.OriginYPx+y, p.OriginXPx+x
				if cy >= 0 && cy < len(canvas) && cx >= 0 && cx < len(canvas[cy]) {
					canvas[cy][cx] = oriented[y][x]
				}
			}
		}
	}
	return canvas
}

func rowsFromColumns(cols []byte, height int) [][]uint8 {
	width := len(cols)
	rows := make([][]uint8, height)
	for y := 0; y < height; y++ {
		rows[y] = make([]uint8, width)
		for x := 0; x < width; x++ {
			rows[y][x] = (cols[x] >> uint(y)) & 1
		}
	}
	return rows
}

// unorient reverses the forward orientation transform so Unmap can place
// pixels back into canvas coordinates.
func unorient(rows [][]uint8, o config.Orientation) [][]uint8 {
	switch o {
	case config.OrientationNormal, "":
		return rows
	case config.OrientationRot90:
		return rotate270CW(rows)
	case config.OrientationRot270:
		return rotate90CW(rows)
	case config.OrientationRot180:
		return rotate180(rows)
	case config.OrientationFlipH:
		return flipH(rows)
	case config.OrientationFlipV:
		return flipV(rows)
	default:
		return rows
	}
}
