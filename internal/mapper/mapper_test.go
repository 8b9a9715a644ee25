package mapper

import (
	"testing"

	"github.com/flipdotd/flipdotd/internal/config"
)

func blankCanvas(w, h int) [][]uint8 {
	g := make([][]uint8, h)
	for y := range g {
		g[y] = make([]uint8, w)
	}
	return g
}

func TestMap_stripeRot180_bit6(t *testing.T) {
	// Scenario 5: horizontal stripe at y=0, panel 28x7 at (0,0), orientation
	// rot180. Expected: every column byte has exactly bit 6 set.
	canvas := blankCanvas(28, 7)
	for x := 0; x < 28; x++ {
		canvas[0][x] = 1
	}
	topo := &config.Topology{
		Canvas: config.Canvas{WidthPx: 28, HeightPx: 7},
		Panels: []config.Panel{
			{ID: "p", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationRot180},
		},
	}
	out, err := Map(canvas, topo)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	cols := out["p"]
	if len(cols) != 28 {
		t.Fatalf("columns: %d", len(cols))
	}
	for x, c := range cols {
		if c != 0x40 {
			t.Fatalf("column %d = 0x%02x, want 0x40 (bit 6 only)", x, c)
		}
	}
}

func TestMap_singlePixel_oneColumn(t *testing.T) {
	// Single pixel animation scenario: canvas 28x14, two 28x7 panels stacked,
	// pixel (3,1) set within the top panel only.
	canvas := blankCanvas(28, 14)
	canvas[1][3] = 1
	topo := &config.Topology{
		Canvas: config.Canvas{WidthPx: 28, HeightPx: 14},
		Panels: []config.Panel{
			{ID: "top", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationNormal},
			{ID: "bottom", Address: 2, OriginYPx: 7, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationNormal},
		},
	}
	out, err := Map(canvas, topo)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for x, c := range out["bottom"] {
		if c != 0 {
			t.Fatalf("bottom column %d = 0x%02x, want 0", x, c)
		}
	}
	if out["top"][3] != 0x02 { // bit 1 set: row 1
		t.Errorf("top column 3 = 0x%02x, want 0x02", out["top"][3])
	}
	for x, c := range out["top"] {
		if x == 3 {
			continue
		}
		if c != 0 {
			t.Fatalf("top column %d = 0x%02x, want 0", x, c)
		}
	}
}

func TestMap_rot90_swapsCropDimensions(t *testing.T) {
	// Panel mounted 28 wide x 7 tall but read from a 7-wide x 28-tall strip
	// of canvas, rotated 90 clockwise into place.
	canvas := blankCanvas(7, 28)
	canvas[0][0] = 1 // top-left of the pre-rotation crop
	topo := &config.Topology{
		Canvas: config.Canvas{WidthPx: 7, HeightPx: 28},
		Panels: []config.Panel{
			{ID: "p", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationRot90},
		},
	}
	out, err := Map(canvas, topo)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(out["p"]) != 28 {
		t.Fatalf("columns: %d", len(out["p"]))
	}
}

func TestMap_width7_column0(t *testing.T) {
	topo := &config.Topology{
		Canvas: config.Canvas{WidthPx: 7, HeightPx: 7},
		Panels: []config.Panel{
			{ID: "p", Address: 1, WidthPx: 7, HeightPx: 7, Orientation: config.OrientationNormal},
		},
	}
	canvas := blankCanvas(7, 7)
	canvas[2][0] = 1
	out, err := Map(canvas, topo)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if out["p"][0]&0x80 != 0 {
		t.Errorf("bit 7 must be 0, got %08b", out["p"][0])
	}
	if out["p"][0] != 0x04 {
		t.Errorf("column 0 = 0x%02x, want 0x04 (row 2)", out["p"][0])
	}
}

func TestMapUnmap_roundTripWithinPanels(t *testing.T) {
	canvas := blankCanvas(28, 14)
	// Checkerboard plus a row marker, confined to the panel area.
	for y := 0; y < 14; y++ {
		for x := 0; x < 28; x++ {
			if (x+y)%2 == 0 {
				canvas[y][x] = 1
			}
		}
	}
	for x := 0; x < 28; x++ {
		canvas[0][x] = 1 // row marker
	}
	topo := &config.Topology{
		Canvas: config.Canvas{WidthPx: 28, HeightPx: 14},
		Panels: []config.Panel{
			{ID: "top", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationNormal},
			{ID: "bottom", Address: 2, OriginYPx: 7, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationRot180},
		},
	}
	out, err := Map(canvas, topo)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	back := Unmap(out, topo)
	for y := 0; y < 14; y++ {
		for x := 0; x < 28; x++ {
			if back[y][x] != canvas[y][x] {
				t.Fatalf("pixel (%d,%d): got %d want %d", x, y, back[y][x], canvas[y][x])
			}
		}
	}
}

func TestMap_deterministic(t *testing.T) {
	canvas := blankCanvas(28, 7)
	canvas[5][10] = 1
	topo := &config.Topology{
		Canvas: config.Canvas{WidthPx: 28, HeightPx: 7},
		Panels: []config.Panel{
			{ID: "p", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: config.OrientationFlipV},
		},
	}
	a, err := Map(canvas, topo)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Map(canvas, topo)
	if err != nil {
		t.Fatal(err)
	}
	if len(a["p"]) != len(b["p"]) {
		t.Fatal("length mismatch")
	}
	for i := range a["p"] {
		if a["p"][i] != b["p"][i] {
			t.Fatalf("byte %d differs between runs", i)
		}
	}
}
