// Package credit implements the credit/cooldown protocol: component G. It
// derives the producer-visible credit count from buffer occupancy and holds
// the token bucket that rate-limits forwarded frames, including the penalty
// window applied after a downstream back-off signal.
package credit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Credits computes the producer-visible allowance per spec.md §4.G:
// max(0, capacity - occupancy - inFlight). inFlight is 0 or 1, the frame the
// dispatcher currently holds. Credits are derived, never stored, so every
// response is computed from the authoritative buffer/dispatcher counters.
func Credits(capacity, occupancy, inFlight int) int {
	c := capacity - occupancy - inFlight
	if c < 0 {
		return 0
	}
	return c
}

// Bucket is the single global token bucket gating forwarded frames
// (spec.md §4.G "Token bucket: capacity = refill_per_sec = fps"). It wraps
// golang.org/x/time/rate, whose Limiter.TokensAt gives the introspectable
// token count the credit/statistics surface needs, and whose SetLimit lets
// the penalty window divide the refill rate without replacing the limiter
// (preserving accumulated tokens across the transition).
type Bucket struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	baseRefillHz   float64
	capacity       int
	penaltyDivisor int
	penaltyUntil   time.Time
}

// New creates a Bucket sized from the target cadence: capacity = fps,
// refill_per_sec = fps (spec.md §4.G).
func New(fps int, penaltyDivisor int) *Bucket {
	if fps < 1 {
		fps = 1
	}
	if penaltyDivisor < 1 {
		penaltyDivisor = 4
	}
	return &Bucket{
		limiter:        rate.NewLimiter(rate.Limit(fps), fps),
		baseRefillHz:   float64(fps),
		capacity:       fps,
		penaltyDivisor: penaltyDivisor,
	}
}

// Allow consumes one token for a frame about to be forwarded, as of now.
// Duplicates and frames suppressed for other reasons must not call Allow —
// tokens are spent per forwarded frame, not per received frame.
func (b *Bucket) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyPenaltyLocked(now)
	return b.limiter.AllowN(now, 1)
}

// Penalize starts (or extends) a cooldown window of duration w starting now:
// the refill rate is divided by the configured penalty divisor until the
// window elapses (spec.md §4.G).
func (b *Bucket) Penalize(now time.Time, w time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until := now.Add(w)
	if until.After(b.penaltyUntil) {
		b.penaltyUntil = until
	}
	b.applyPenaltyLocked(now)
}

// applyPenaltyLocked sets the limiter's rate to the (possibly divided) refill
// rate for the current instant; caller holds b.mu.
func (b *Bucket) applyPenaltyLocked(now time.Time) {
	if !b.penaltyUntil.IsZero() && now.Before(b.penaltyUntil) {
		b.limiter.SetLimitAt(now, rate.Limit(b.baseRefillHz/float64(b.penaltyDivisor)))
		return
	}
	if !b.penaltyUntil.IsZero() {
		b.penaltyUntil = time.Time{}
	}
	b.limiter.SetLimitAt(now, rate.Limit(b.baseRefillHz))
}

// RetryAfter returns the remaining cooldown duration as of now, or 0 if no
// penalty is active.
func (b *Bucket) RetryAfter(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.penaltyUntil.IsZero() || !now.Before(b.penaltyUntil) {
		return 0
	}
	return b.penaltyUntil.Sub(now)
}

// Reconfigure resizes the bucket for a new fps, per spec.md §4.I "changing
// fps ... reconfigures the rate bucket". A no-op if fps is unchanged.
func (b *Bucket) Reconfigure(fps int) {
	if fps < 1 {
		fps = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(b.baseRefillHz) == fps && b.capacity == fps {
		return
	}
	b.baseRefillHz = float64(fps)
	b.capacity = fps
	b.limiter.SetBurst(fps)
	b.applyPenaltyLocked(time.Now())
}

// TokensAt returns the number of tokens available at t, for diagnostics.
func (b *Bucket) TokensAt(t time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.TokensAt(t)
}
