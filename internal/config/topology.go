package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Orientation is one of the six panel mounting orientations. Rotations are
// clockwise; flips mirror the named axis. At most one is set per panel.
type Orientation string

const (
	OrientationNormal Orientation = "normal"
	OrientationRot90   Orientation = "rot90"
	OrientationRot180  Orientation = "rot180"
	OrientationRot270  Orientation = "rot270"
	OrientationFlipH   Orientation = "flip_h"
	OrientationFlipV   Orientation = "flip_v"
)

func (o Orientation) valid() bool {
	switch o {
	case OrientationNormal, OrientationRot90, OrientationRot180, OrientationRot270, OrientationFlipH, OrientationFlipV:
		return true
	}
	return false
}

// Canvas is the immutable logical pixel grid producers must match exactly.
type Canvas struct {
	WidthPx  int `yaml:"width_px" json:"width_px"`
	HeightPx int `yaml:"height_px" json:"height_px"`
}

// Panel is one physical flip-dot module in the topology.
type Panel struct {
	ID          string      `yaml:"id" json:"id"`
	Address     uint8       `yaml:"address" json:"address"`
	OriginXPx   int         `yaml:"origin_x_px" json:"origin_x_px"`
	OriginYPx   int         `yaml:"origin_y_px" json:"origin_y_px"`
	WidthPx     int         `yaml:"width_px" json:"width_px"`
	HeightPx    int         `yaml:"height_px" json:"height_px"`
	Orientation Orientation `yaml:"orientation" json:"orientation"`
}

// Serial holds the RS-485 transport settings.
type Serial struct {
	Device   string `yaml:"device" json:"device"`
	BaudRate int    `yaml:"baud_rate" json:"baud_rate"`
	Parity   string `yaml:"parity" json:"parity"`     // "N", "E", "O"; default "N"
	StopBits int    `yaml:"stop_bits" json:"stop_bits"` // 1 or 2; default 1
}

// Topology is the full declarative file: canvas size, panel list, fps, and
// serial settings (spec.md §6 "Persisted state layout").
type Topology struct {
	Canvas   Canvas   `yaml:"canvas" json:"canvas"`
	Panels   []Panel  `yaml:"panels" json:"panels"`
	FPS      int      `yaml:"fps" json:"fps"`
	Buffered bool     `yaml:"buffered" json:"buffered"`
	Serial   Serial   `yaml:"serial" json:"serial"`
}

// LoadTopology reads and validates a topology file. Format is chosen by
// extension: .yaml/.yml decode with yaml.v3, anything else (including .json)
// decodes as JSON.
func LoadTopology(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	var t Topology
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("parse topology %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("parse topology %s: %w", path, err)
		}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology %s: %w", path, err)
	}
	return &t, nil
}

// Validate enforces spec.md §3's data-model invariants: panel rectangles are
// disjoint and contained in the canvas, no two panels share an address, every
// orientation is one of the closed set, and every panel geometry is one the
// RS-485 codec can encode (width in {7,14,28}, height 7).
func (t *Topology) Validate() error {
	if t.Canvas.WidthPx <= 0 || t.Canvas.HeightPx <= 0 {
		return fmt.Errorf("canvas must have positive width/height")
	}
	if len(t.Panels) == 0 {
		return fmt.Errorf("topology has no panels")
	}
	seenAddr := make(map[uint8]string, len(t.Panels))
	seenID := make(map[string]struct{}, len(t.Panels))
	for _, p := range t.Panels {
		if p.ID == "" {
			return fmt.Errorf("panel with empty id")
		}
		if _, ok := seenID[p.ID]; ok {
			return fmt.Errorf("duplicate panel id %q", p.ID)
		}
		seenID[p.ID] = struct{}{}

		if owner, ok := seenAddr[p.Address]; ok {
			return fmt.Errorf("panel %q and %q share address %d", owner, p.ID, p.Address)
		}
		seenAddr[p.Address] = p.ID

		if p.WidthPx != 7 && p.WidthPx != 14 && p.WidthPx != 28 {
			return fmt.Errorf("panel %q: unsupported width %d (must be 7, 14, or 28)", p.ID, p.WidthPx)
		}
		if p.HeightPx != 7 {
			return fmt.Errorf("panel %q: unsupported height %d (must be 7)", p.ID, p.HeightPx)
		}
		if !p.Orientation.valid() {
			return fmt.Errorf("panel %q: unknown orientation %q", p.ID, p.Orientation)
		}
		if p.OriginXPx < 0 || p.OriginYPx < 0 ||
			p.OriginXPx+p.WidthPx > t.Canvas.WidthPx || p.OriginYPx+p.HeightPx > t.Canvas.HeightPx {
			return fmt.Errorf("panel %q: rectangle not contained in canvas", p.ID)
		}
	}
	if err := checkDisjoint(t.Panels); err != nil {
		return err
	}
	return nil
}

func checkDisjoint(panels []Panel) error {
	for i := 0; i < len(panels); i++ {
		for j := i + 1; j < len(panels); j++ {
			a, b := panels[i], panels[j]
			if rectsOverlap(a, b) {
				return fmt.Errorf("panels %q and %q overlap", a.ID, b.ID)
			}
		}
	}
	return nil
}

func rectsOverlap(a, b Panel) bool {
	ax2, ay2 := a.OriginXPx+a.WidthPx, a.OriginYPx+a.HeightPx
	bx2, by2 := b.OriginXPx+b.WidthPx, b.OriginYPx+b.HeightPx
	if a.OriginXPx >= bx2 || b.OriginXPx >= ax2 {
		return false
	}
	if a.OriginYPx >= by2 || b.OriginYPx >= ay2 {
		return false
	}
	return true
}

// Sorted returns panels in canonical dispatcher iteration order: sorted by
// (origin.y, origin.x, id), per spec.md §4.B "Determinism".
func (t *Topology) Sorted() []Panel {
	out := make([]Panel, len(t.Panels))
	copy(out, t.Panels)
	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginYPx != out[j].OriginYPx {
			return out[i].OriginYPx < out[j].OriginYPx
		}
		if out[i].OriginXPx != out[j].OriginXPx {
			return out[i].OriginXPx < out[j].OriginXPx
		}
		return out[i].ID < out[j].ID
	})
	return out
}
