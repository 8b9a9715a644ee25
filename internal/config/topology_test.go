package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
canvas:
  width_px: 28
  height_px: 14
fps: 30
buffered: false
serial:
  device: /dev/ttyUSB0
  baud_rate: 9600
panels:
  - id: top
    address: 1
    origin_x_px: 0
    origin_y_px: 0
    width_px: 28
    height_px: 7
    orientation: normal
  - id: bottom
    address: 2
    origin_x_px: 0
    origin_y_px: 7
    width_px: 28
    height_px: 7
    orientation: rot180
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadTopology_yaml(t *testing.T) {
	path := writeTemp(t, "topology.yaml", sampleYAML)
	top, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if top.Canvas.WidthPx != 28 || top.Canvas.HeightPx != 14 {
		t.Errorf("canvas: %+v", top.Canvas)
	}
	if len(top.Panels) != 2 {
		t.Fatalf("panels: %d", len(top.Panels))
	}
	if top.Serial.Device != "/dev/ttyUSB0" {
		t.Errorf("serial device: %q", top.Serial.Device)
	}
}

func TestTopology_Sorted(t *testing.T) {
	path := writeTemp(t, "topology.yaml", sampleYAML)
	top, _ := LoadTopology(path)
	sorted := top.Sorted()
	if sorted[0].ID != "top" || sorted[1].ID != "bottom" {
		t.Errorf("order: %s, %s", sorted[0].ID, sorted[1].ID)
	}
}

func TestTopology_Validate_overlap(t *testing.T) {
	top := &Topology{
		Canvas: Canvas{WidthPx: 28, HeightPx: 7},
		Panels: []Panel{
			{ID: "a", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: OrientationNormal},
			{ID: "b", Address: 2, OriginXPx: 10, WidthPx: 28, HeightPx: 7, Orientation: OrientationNormal},
		},
	}
	if err := top.Validate(); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestTopology_Validate_duplicateAddress(t *testing.T) {
	top := &Topology{
		Canvas: Canvas{WidthPx: 56, HeightPx: 7},
		Panels: []Panel{
			{ID: "a", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: OrientationNormal},
			{ID: "b", Address: 1, OriginXPx: 28, WidthPx: 28, HeightPx: 7, Orientation: OrientationNormal},
		},
	}
	if err := top.Validate(); err == nil {
		t.Fatal("expected duplicate address error")
	}
}

func TestTopology_Validate_badGeometry(t *testing.T) {
	top := &Topology{
		Canvas: Canvas{WidthPx: 28, HeightPx: 7},
		Panels: []Panel{
			{ID: "a", Address: 1, WidthPx: 10, HeightPx: 7, Orientation: OrientationNormal},
		},
	}
	if err := top.Validate(); err == nil {
		t.Fatal("expected geometry error")
	}
}

func TestTopology_Validate_badOrientation(t *testing.T) {
	top := &Topology{
		Canvas: Canvas{WidthPx: 28, HeightPx: 7},
		Panels: []Panel{
			{ID: "a", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: "sideways"},
		},
	}
	if err := top.Validate(); err == nil {
		t.Fatal("expected orientation error")
	}
}

func TestTopology_Validate_outOfCanvas(t *testing.T) {
	top := &Topology{
		Canvas: Canvas{WidthPx: 20, HeightPx: 7},
		Panels: []Panel{
			{ID: "a", Address: 1, WidthPx: 28, HeightPx: 7, Orientation: OrientationNormal},
		},
	}
	if err := top.Validate(); err == nil {
		t.Fatal("expected containment error")
	}
}
