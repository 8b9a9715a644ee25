// Package ingest implements component F, the ingest/forward coordinator: the
// per-frame validate/dedupe/rate-limit/rewrite/enqueue pipeline that sits
// between producer adapters and the bounded buffer, plus the active-source
// switch and the credit/cooldown signal attached to every producer response.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/flipdotd/flipdotd/internal/buffer"
	"github.com/flipdotd/flipdotd/internal/config"
	"github.com/flipdotd/flipdotd/internal/credit"
	"github.com/flipdotd/flipdotd/internal/wire"
)

// OutcomeStatus classifies the result of one Ingest call.
type OutcomeStatus string

const (
	// StatusForwarded means the frame was validated, deduped, rate-limited,
	// and enqueued into the buffer.
	StatusForwarded OutcomeStatus = "forwarded"
	// StatusDuplicate means the payload matched the producer's last hash;
	// accepted but not buffered.
	StatusDuplicate OutcomeStatus = "duplicate"
	// StatusRateLimited means no token was available; accepted but not buffered.
	StatusRateLimited OutcomeStatus = "rate_limited"
	// StatusObserved means the producer is not the active source: heartbeat
	// recorded, frame discarded.
	StatusObserved OutcomeStatus = "observed"
	// StatusRejected means the frame was malformed or failed geometry
	// validation (spec.md §4.F.1-2, "400-class error").
	StatusRejected OutcomeStatus = "rejected"
)

// Outcome is the result handed back to the producer adapter: a status plus
// the current credit count and, under a cooldown penalty, a retry hint.
type Outcome struct {
	Status       OutcomeStatus
	Reason       string
	Credits      int
	RetryAfterMs int64
}

// Coordinator runs the per-frame pipeline of spec.md §4.F against a single
// canvas/topology, a single bounded buffer, and a single token bucket.
type Coordinator struct {
	canvas config.Canvas
	buf    *buffer.Buffer
	bucket *credit.Bucket
	reg    *Registry

	mu           sync.Mutex
	activeSource string
	lastHash     map[string]uint64
	cadenceMs    uint16
}

// CadenceMs converts a frame rate in frames per second to the
// frame_duration_ms value spec.md §8 requires: round(1000/fps), not the
// truncating integer division 1000/fps.
func CadenceMs(fps int) uint16 {
	return uint16((1000 + fps/2) / fps)
}

// New creates a Coordinator wired to buf and bucket for the given canvas.
// cadenceMs is the dispatcher's initial tick interval in milliseconds.
func New(canvas config.Canvas, buf *buffer.Buffer, bucket *credit.Bucket, reg *Registry, cadenceMs uint16) *Coordinator {
	return &Coordinator{
		canvas:    canvas,
		buf:       buf,
		bucket:    bucket,
		reg:       reg,
		lastHash:  make(map[string]uint64),
		cadenceMs: cadenceMs,
	}
}

// SetCadence updates the frame_duration_ms value the coordinator rewrites
// onto every forwarded frame, called by the control plane when fps changes.
func (c *Coordinator) SetCadence(ms uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cadenceMs = ms
}

// SetActiveSource sets or clears (empty string) the producer id whose frames
// are buffered; every other producer's frames are heartbeat-only.
func (c *Coordinator) SetActiveSource(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeSource = id
}

// ActiveSource returns the current active producer id, or "" if none is set.
func (c *Coordinator) ActiveSource() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSource
}

// Credits reports the producer-visible allowance given the dispatcher's
// current in-flight count (0 or 1).
func (c *Coordinator) Credits(inFlight int) int {
	return credit.Credits(c.buf.Capacity(), c.buf.Occupancy(), inFlight)
}

// Ingest runs the pipeline of spec.md §4.F against raw, a producer-submitted
// RBM byte stream, from producerID, recording now as the arrival time.
func (c *Coordinator) Ingest(producerID string, raw []byte, now time.Time, inFlight int) Outcome {
	frame, err := wire.Decode(raw)
	if err != nil {
		return Outcome{Status: StatusRejected, Reason: err.Error()}
	}

	if int(frame.Header.Width) != c.canvas.WidthPx || int(frame.Header.Height) != c.canvas.HeightPx {
		return Outcome{
			Status: StatusRejected,
			Reason: fmt.Sprintf("geometry mismatch: got %dx%d, canvas is %dx%d",
				frame.Header.Width, frame.Header.Height, c.canvas.WidthPx, c.canvas.HeightPx),
		}
	}

	c.reg.Heartbeat(producerID, now)

	if c.ActiveSource() != producerID {
		return Outcome{Status: StatusObserved, Credits: c.Credits(inFlight)}
	}

	hash := xxhash.Sum64(frame.Payload)
	c.mu.Lock()
	prev, seen := c.lastHash[producerID]
	c.mu.Unlock()
	if seen && prev == hash {
		return Outcome{Status: StatusDuplicate, Credits: c.Credits(inFlight)}
	}

	if !c.bucket.Allow(now) {
		return Outcome{
			Status:       StatusRateLimited,
			Credits:      c.Credits(inFlight),
			RetryAfterMs: c.bucket.RetryAfter(now).Milliseconds(),
		}
	}

	c.mu.Lock()
	c.lastHash[producerID] = hash
	cadence := c.cadenceMs
	c.mu.Unlock()
	_ = wire.RewriteFrameDuration(raw, cadence)
	frame.Header.FrameDurationMs = cadence

	before := c.buf.Stats().DroppedOverflow
	c.buf.Push(buffer.Entry{Frame: frame, ReceivedAtMono: now, ProducerID: producerID})
	overflowed := c.buf.Stats().DroppedOverflow > before

	out := Outcome{Status: StatusForwarded, Credits: c.Credits(inFlight)}
	if overflowed {
		out.Reason = "buffer overflow dropped the oldest frame"
	}
	return out
}
