// Package control implements component I, the control plane: an atomically
// published configuration snapshot, the fps/buffered-mode/active-source
// mutators that reconfigure the buffer and rate bucket, topology reloads, and
// the statistics snapshot assembly.
package control

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flipdotd/flipdotd/internal/audit"
	"github.com/flipdotd/flipdotd/internal/buffer"
	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/credit"
	"github.com/flipdotd/flipdotd/internal/dirty"
	"github.com/flipdotd/flipdotd/internal/ingest"
)

// Snapshot is the atomically-published configuration view every reader
// (dispatcher, producer adapters) sees consistently: either the old value or
// the new one, never a partial mutation (spec.md §5's compare-and-swap rule).
type Snapshot struct {
	Canvas       config.Canvas
	FPS          int
	BufferMS     int
	FrameGapMS   int
	InterPanelUS int
	Buffered     bool
	ActiveSource string
}

// Capabilities declares optional protocol features a producer adapter can
// check for before relying on them.
type Capabilities struct {
	SupportsInvert bool
}

// StatsSnapshot is the `{received, forwarded, dropped, effective_fps,
// buffer_level, last_tick_duration, degraded}` surface of spec.md §9.
type StatsSnapshot struct {
	Received         uint64
	Forwarded        uint64
	Dropped          uint64
	EffectiveFPS     float64
	BufferLevel      int
	LastTickDuration time.Duration
	Degraded         bool
}

// Plane is the control plane: it owns the canonical Snapshot and mutates the
// buffer/rate-bucket/ingest coordinator/dirty cache in step with it.
type Plane struct {
	cfg    *config.Config
	buf    *buffer.Buffer
	bucket *credit.Bucket
	coord  *ingest.Coordinator
	dc     *dirty.Cache
	audit  *audit.Log

	snap atomic.Pointer[Snapshot]

	onTopologyReload func(*config.Topology)

	statsMu          sync.Mutex
	forwarded        uint64
	droppedTotal     uint64
	effectiveFPS     float64
	lastTickDuration time.Duration
	degraded         bool
}

// New builds a Plane from the initial topology and daemon config, sizing the
// buffer and rate bucket for topo.FPS (or cfg.FPS if topo.FPS is unset).
func New(cfg *config.Config, topo *config.Topology, buf *buffer.Buffer, bucket *credit.Bucket, coord *ingest.Coordinator, dc *dirty.Cache) *Plane {
	fps := topo.FPS
	if fps <= 0 {
		fps = cfg.FPS
	}
	fps = cfg.ClampFPS(fps)
	p := &Plane{cfg: cfg, buf: buf, bucket: bucket, coord: coord, dc: dc}
	p.snap.Store(&Snapshot{
		Canvas:       topo.Canvas,
		FPS:          fps,
		BufferMS:     cfg.BufferMS,
		FrameGapMS:   cfg.FrameGapMS,
		InterPanelUS: cfg.InterPanelUS,
		Buffered:     topo.Buffered,
	})
	return p
}

// SetAuditLog attaches an audit trail; fps changes, active-source switches,
// topology reloads, and degraded transitions are recorded to it from then on.
// Nil is a valid value and disables recording.
func (p *Plane) SetAuditLog(l *audit.Log) {
	p.audit = l
}

func (p *Plane) recordAudit(kind audit.Kind, producerID, detail string) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(kind, producerID, detail, time.Now()); err != nil {
		log.Printf("control: audit record %s: %v", kind, err)
	}
}

// SetTopologyObserver registers fn to be called with the new topology every
// time ReloadTopology succeeds, so the dispatcher's panel list (which the
// Snapshot itself does not carry) stays in step with the published canvas
// and buffered flag. Nil is a valid value and disables the callback.
func (p *Plane) SetTopologyObserver(fn func(*config.Topology)) {
	p.onTopologyReload = fn
}

// Snapshot returns the currently-published configuration.
func (p *Plane) Snapshot() Snapshot {
	return *p.snap.Load()
}

// Capabilities reports the protocol features this build supports.
func (p *Plane) Capabilities() Capabilities {
	return Capabilities{SupportsInvert: true}
}

// SetFPS clamps requested to [1, fps_max], publishes the change, resizes the
// buffer for the new cadence (preserving existing entries), and reconfigures
// the rate bucket. A request equal to the current fps is a no-op: no publish,
// no resize, no cache invalidation (spec.md §4.I).
func (p *Plane) SetFPS(requested int) int {
	clamped := p.cfg.ClampFPS(requested)
	old := p.Snapshot()
	if clamped == old.FPS {
		return clamped
	}
	next := old
	next.FPS = clamped
	p.snap.Store(&next)

	capacity := buffer.CapacityForCadence(old.BufferMS, clamped)
	p.buf.Resize(capacity)
	p.bucket.Reconfigure(clamped)
	p.coord.SetCadence(ingest.CadenceMs(clamped))
	p.recordAudit(audit.KindFPSChange, "", fmt.Sprintf("%d -> %d", old.FPS, clamped))
	return clamped
}

// SetActiveSource switches (or clears, with "") the producer whose frames the
// ingest coordinator buffers.
func (p *Plane) SetActiveSource(id string) {
	p.coord.SetActiveSource(id)
	old := p.Snapshot()
	next := old
	next.ActiveSource = id
	p.snap.Store(&next)
	p.recordAudit(audit.KindActiveSourceChange, id, fmt.Sprintf("previous=%q", old.ActiveSource))
}

// SetBuffered toggles buffered (deferred-flush) vs. instant panel write mode.
func (p *Plane) SetBuffered(buffered bool) {
	old := p.Snapshot()
	if old.Buffered == buffered {
		return
	}
	next := old
	next.Buffered = buffered
	p.snap.Store(&next)
}

// ReloadTopology republishes canvas from a newly validated topology and
// forces a full write on the next tick, per spec.md §4.I "Changing topology
// invalidates all per-panel caches".
func (p *Plane) ReloadTopology(topo *config.Topology) error {
	if topo == nil {
		return fmt.Errorf("control: nil topology")
	}
	old := p.Snapshot()
	next := old
	next.Canvas = topo.Canvas
	next.Buffered = topo.Buffered
	p.snap.Store(&next)
	p.dc.ForceAll()
	p.recordAudit(audit.KindTopologyReload, "", fmt.Sprintf("%dx%d, %d panels", topo.Canvas.WidthPx, topo.Canvas.HeightPx, len(topo.Panels)))
	if p.onTopologyReload != nil {
		p.onTopologyReload(topo)
	}
	return nil
}

// RecordForward tallies one frame the dispatcher actually wrote to the bus.
func (p *Plane) RecordForward() {
	p.statsMu.Lock()
	p.forwarded++
	p.statsMu.Unlock()
}

// RecordDrop tallies one frame dropped downstream of ingest because a panel
// write to the transport failed.
func (p *Plane) RecordDrop() {
	p.statsMu.Lock()
	p.droppedTotal++
	p.statsMu.Unlock()
}

// RecordTick updates the dispatcher-derived gauges after each tick.
func (p *Plane) RecordTick(duration time.Duration, degraded bool, effectiveFPS float64) {
	p.statsMu.Lock()
	wasDegraded := p.degraded
	p.lastTickDuration = duration
	p.degraded = degraded
	p.effectiveFPS = effectiveFPS
	p.statsMu.Unlock()
	if degraded && !wasDegraded {
		p.recordAudit(audit.KindDegradedTransition, "", "dispatcher entered degraded state")
	}
}

// Stats assembles the statistics snapshot of spec.md §9.
func (p *Plane) Stats() StatsSnapshot {
	bs := p.buf.Stats()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return StatsSnapshot{
		Received:         bs.Received,
		Forwarded:        p.forwarded,
		Dropped:          bs.DroppedOverflow + p.droppedTotal,
		EffectiveFPS:     p.effectiveFPS,
		BufferLevel:      bs.Occupancy,
		LastTickDuration: p.lastTickDuration,
		Degraded:         p.degraded,
	}
}
