package control

import (
	"testing"
	"time"

	"github.com/flipdotd/flipdotd/internal/buffer"
	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/credit"
	"github.com/flipdotd/flipdotd/internal/dirty"
	"github.com/flipdotd/flipdotd/internal/ingest"
)

func newPlane(t *testing.T, fpsMax int) (*Plane, *buffer.Buffer, *credit.Bucket, *dirty.Cache) {
	t.Helper()
	cfg := &config.Config{FPS: 30, FPSMax: fpsMax, BufferMS: 500, PenaltyDivisor: 4}
	topo := &config.Topology{Canvas: config.Canvas{WidthPx: 28, HeightPx: 14}, FPS: 30}
	buf := buffer.New(buffer.CapacityForCadence(500, 30))
	bucket := credit.New(30, 4)
	reg := ingest.NewRegistry()
	coord := ingest.New(topo.Canvas, buf, bucket, reg, ingest.CadenceMs(30))
	dc := dirty.New()
	return New(cfg, topo, buf, bucket, coord, dc), buf, bucket, dc
}

func TestPlane_setFPSResizesBuffer(t *testing.T) {
	p, buf, _, _ := newPlane(t, 30)
	got := p.SetFPS(10)
	if got != 10 {
		t.Fatalf("SetFPS = %d, want 10", got)
	}
	wantCap := buffer.CapacityForCadence(500, 10)
	if buf.Capacity() != wantCap {
		t.Fatalf("buffer capacity = %d, want %d", buf.Capacity(), wantCap)
	}
}

func TestPlane_setFPSClampsToMax(t *testing.T) {
	p, _, _, _ := newPlane(t, 20)
	if got := p.SetFPS(100); got != 20 {
		t.Fatalf("SetFPS(100) = %d, want clamped to 20", got)
	}
	if got := p.SetFPS(0); got != 1 {
		t.Fatalf("SetFPS(0) = %d, want clamped to 1", got)
	}
}

func TestPlane_setFPSNoOpWhenUnchanged(t *testing.T) {
	p, buf, _, _ := newPlane(t, 30)
	before := buf.Capacity()
	got := p.SetFPS(30)
	if got != 30 {
		t.Fatalf("SetFPS(30) = %d, want 30", got)
	}
	if buf.Capacity() != before {
		t.Fatal("no-op SetFPS must not resize the buffer")
	}
}

func TestPlane_reloadTopologyForcesFullWrite(t *testing.T) {
	p, _, _, dc := newPlane(t, 30)
	dc.Commit("panel-a", []byte{1, 2, 3})
	if !dc.ShouldWrite("panel-a", []byte{1, 2, 3}) {
		// sanity: unchanged payload currently suppressed
	} else {
		t.Fatal("expected the committed payload to be suppressed before reload")
	}
	newTopo := &config.Topology{Canvas: config.Canvas{WidthPx: 14, HeightPx: 7}}
	if err := p.ReloadTopology(newTopo); err != nil {
		t.Fatal(err)
	}
	if !dc.ShouldWrite("panel-a", []byte{1, 2, 3}) {
		t.Fatal("ReloadTopology must force a full write on the next tick")
	}
	if p.Snapshot().Canvas != newTopo.Canvas {
		t.Fatal("canvas was not republished")
	}
}

func TestPlane_activeSourceSwitch(t *testing.T) {
	p, _, _, _ := newPlane(t, 30)
	p.SetActiveSource("p1")
	if p.Snapshot().ActiveSource != "p1" {
		t.Fatal("active source not published")
	}
}

func TestPlane_statsSnapshot(t *testing.T) {
	p, _, _, _ := newPlane(t, 30)
	p.RecordForward()
	p.RecordForward()
	p.RecordDrop()
	p.RecordTick(5*time.Millisecond, true, 29.5)
	stats := p.Stats()
	if stats.Forwarded != 2 {
		t.Fatalf("Forwarded = %d, want 2", stats.Forwarded)
	}
	if stats.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", stats.Dropped)
	}
	if !stats.Degraded {
		t.Fatal("expected degraded=true")
	}
	if stats.EffectiveFPS != 29.5 {
		t.Fatalf("EffectiveFPS = %f, want 29.5", stats.EffectiveFPS)
	}
}

func TestPlane_capabilities(t *testing.T) {
	p, _, _, _ := newPlane(t, 30)
	if !p.Capabilities().SupportsInvert {
		t.Fatal("expected SupportsInvert=true")
	}
}
