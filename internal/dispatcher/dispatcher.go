// Package dispatcher implements component D, the pacing dispatcher: the
// single periodic tick that pops a frame, maps it to panels, consults the
// dirty optimizer, and writes RS-485 messages to the transport adapter. It is
// the only component that writes to the transport — a structural invariant
// of spec.md §5.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flipdotd/flipdotd/internal/buffer"
	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/control"
	"github.com/flipdotd/flipdotd/internal/dirty"
	"github.com/flipdotd/flipdotd/internal/mapper"
	"github.com/flipdotd/flipdotd/internal/transport"
	"github.com/flipdotd/flipdotd/internal/wire"
)

// State is the dispatcher's run state, spec.md §4.D's Idle/Running/Degraded
// state machine.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
)

// emaAlpha corresponds to an exponential moving average window of ~16 ticks
// (alpha = 2/(N+1)).
const emaAlpha = 2.0 / 17.0

// Dispatcher runs the fixed-cadence tick loop against one buffer, topology,
// and transport sink.
type Dispatcher struct {
	plane        *control.Plane
	buf          *buffer.Buffer
	sink         transport.Sink
	dc           *dirty.Cache
	writeTimeout time.Duration

	mu    sync.Mutex
	topo  *config.Topology
	state State
	held  *wire.Frame

	inFlight int32

	statsMu          sync.Mutex
	emaIntervalSec   float64
	lastTickStart    time.Time
	haveLastTickTime bool
}

// New builds a Dispatcher. topo is the initial topology; call SetTopology
// after a control-plane reload.
func New(plane *control.Plane, buf *buffer.Buffer, topo *config.Topology, sink transport.Sink, dc *dirty.Cache, writeTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		plane:        plane,
		buf:          buf,
		sink:         sink,
		dc:           dc,
		writeTimeout: writeTimeout,
		topo:         topo,
		state:        StateIdle,
	}
}

// SetTopology installs a new topology, used by the control plane's topology
// reload path.
func (d *Dispatcher) SetTopology(topo *config.Topology) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topo = topo
}

func (d *Dispatcher) currentTopology() *config.Topology {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.topo
}

// State returns the dispatcher's current run state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// InFlight reports whether the dispatcher currently holds a frame mid-tick
// (0 or 1), for the credit formula of spec.md §4.G.
func (d *Dispatcher) InFlight() int {
	return int(atomic.LoadInt32(&d.inFlight))
}

// Reset clears degraded state and forces a full write on the next tick, the
// operator-invoked transport.reset of spec.md scenario 6.
func (d *Dispatcher) Reset() {
	d.dc.ForceAll()
	d.setState(StateRunning)
}

// Run blocks, ticking at the control plane's current cadence, until ctx is
// done or a fatal transport.Open error occurs.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.sink.Open(ctx); err != nil {
		return fmt.Errorf("dispatcher: open transport: %w", err)
	}
	defer d.sink.Close()
	d.setState(StateRunning)
	log.Printf("dispatcher: running")

	for {
		select {
		case <-ctx.Done():
			d.setState(StateIdle)
			return ctx.Err()
		default:
		}
		d.tick(ctx)
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	tickStart := time.Now()
	snap := d.plane.Snapshot()
	fps := snap.FPS
	if fps < 1 {
		fps = 1
	}
	tTarget := time.Second / time.Duration(fps)

	atomic.StoreInt32(&d.inFlight, 1)
	frame := d.currentFrame(snap.Canvas)
	topo := d.currentTopology()

	if d.State() == StateRunning && topo != nil {
		d.writePanels(ctx, frame, topo, snap)
	}
	atomic.StoreInt32(&d.inFlight, 0)

	tickDuration := time.Since(tickStart)
	effectiveFPS := d.updateEffectiveFPS(tickStart, tTarget)
	d.plane.RecordTick(tickDuration, d.State() == StateDegraded, effectiveFPS)

	d.sleepRemaining(ctx, tickStart, tTarget, snap.FrameGapMS, snap.InterPanelUS)
}

// currentFrame implements the pop-or-hold rule of spec.md §4.D.1: pop one
// entry, falling back to the held frame, falling back to an all-zero frame
// matching the canvas on cold start.
func (d *Dispatcher) currentFrame(canvas config.Canvas) *wire.Frame {
	if entry, ok := d.buf.Pop(); ok {
		d.mu.Lock()
		d.held = entry.Frame
		d.mu.Unlock()
		return entry.Frame
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held != nil {
		return d.held
	}
	zero := zeroFrame(canvas)
	d.held = zero
	return zero
}

// writePanels maps frame to per-panel payloads and writes every panel whose
// payload differs from the dirty cache, honoring inter_panel_us spacing and
// the buffered-mode global flush. A transport error aborts the rest of the
// tick (spec.md §4.D "Failure policy").
func (d *Dispatcher) writePanels(ctx context.Context, frame *wire.Frame, topo *config.Topology, snap control.Snapshot) {
	payloads, err := mapper.Map(frame.Bitmap(), topo)
	if err != nil {
		log.Printf("dispatcher: map: %v", err)
		return
	}

	anyWritten := false
	for _, p := range topo.Sorted() {
		columns, ok := payloads[p.ID]
		if !ok {
			continue
		}
		if !d.dc.ShouldWrite(p.ID, columns) {
			continue
		}
		msg, err := wire.EncodePanelMessage(p.WidthPx, p.HeightPx, p.Address, snap.Buffered, columns)
		if err != nil {
			log.Printf("dispatcher: encode panel %s: %v", p.ID, err)
			d.dc.Invalidate(p.ID)
			return
		}

		wctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
		werr := d.sink.WriteAll(wctx, msg)
		cancel()
		if werr != nil {
			d.dc.Invalidate(p.ID)
			d.plane.RecordDrop()
			if d.sink.IsPermanentError(werr) {
				log.Printf("dispatcher: permanent transport error on panel %s: %v", p.ID, werr)
				d.setState(StateDegraded)
			} else {
				log.Printf("dispatcher: transient transport error on panel %s: %v", p.ID, werr)
			}
			return
		}
		d.dc.Commit(p.ID, columns)
		d.plane.RecordForward()
		anyWritten = true

		if snap.InterPanelUS > 0 {
			d.sink.Sleep(ctx, time.Duration(snap.InterPanelUS)*time.Microsecond)
		}
	}

	if anyWritten {
		d.plane.RecordForward()
	}
	if anyWritten && snap.Buffered {
		wctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
		if err := d.sink.WriteAll(wctx, wire.GlobalFlush); err != nil {
			log.Printf("dispatcher: global flush: %v", err)
		}
		cancel()
	}
}

// updateEffectiveFPS tracks an EMA of the actual inter-tick interval (not
// processing time), over a window of ~16 ticks, and returns 1/ema in Hz.
func (d *Dispatcher) updateEffectiveFPS(tickStart time.Time, target time.Duration) float64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if !d.haveLastTickTime {
		d.emaIntervalSec = target.Seconds()
		d.haveLastTickTime = true
	} else {
		actual := tickStart.Sub(d.lastTickStart).Seconds()
		d.emaIntervalSec = emaAlpha*actual + (1-emaAlpha)*d.emaIntervalSec
	}
	d.lastTickStart = tickStart
	if d.emaIntervalSec <= 0 {
		return 0
	}
	return 1 / d.emaIntervalSec
}

// sleepRemaining waits until start+target+frame_gap_ms. It never stretches a
// tick that overran its interval (spec.md §4.D.7 "do not make up time"),
// instead bounding the minimum wait by inter_panel_us.
func (d *Dispatcher) sleepRemaining(ctx context.Context, start time.Time, target time.Duration, frameGapMs, interPanelUS int) {
	deadline := start.Add(target).Add(time.Duration(frameGapMs) * time.Millisecond)
	if wait := time.Until(deadline); wait > 0 {
		d.sink.Sleep(ctx, wait)
		return
	}
	if interPanelUS > 0 {
		d.sink.Sleep(ctx, time.Duration(interPanelUS)*time.Microsecond)
	}
}

// zeroFrame builds an all-zero frame matching canvas, for the cold-start hold.
func zeroFrame(canvas config.Canvas) *wire.Frame {
	grid := make([][]uint8, canvas.HeightPx)
	for y := range grid {
		grid[y] = make([]uint8, canvas.WidthPx)
	}
	return &wire.Frame{
		Header: wire.Header{
			Width:  uint16(canvas.WidthPx),
			Height: uint16(canvas.HeightPx),
		},
		Payload: wire.PackBitmap(grid),
	}
}
