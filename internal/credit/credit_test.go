package credit

import (
	"testing"
	"time"
)

func TestCredits_formula(t *testing.T) {
	cases := []struct {
		capacity, occupancy, inFlight, want int
	}{
		{10, 3, 1, 6},
		{10, 10, 1, 0},
		{10, 0, 0, 10},
		{5, 6, 1, 0}, // over-capacity occupancy clamps to zero, never negative
	}
	for _, c := range cases {
		if got := Credits(c.capacity, c.occupancy, c.inFlight); got != c.want {
			t.Errorf("Credits(%d,%d,%d) = %d, want %d", c.capacity, c.occupancy, c.inFlight, got, c.want)
		}
	}
}

func TestBucket_startsFull(t *testing.T) {
	b := New(15, 4)
	now := time.Now()
	if tokens := b.TokensAt(now); tokens < 14.9 {
		t.Fatalf("tokens at start: %f, want ~15", tokens)
	}
}

func TestBucket_penaltyDividesRefillRate(t *testing.T) {
	// fps=15, penalty window 1s, divisor 4: once drained, at most
	// ~15/4 ≈ 3.75 tokens should refill over the window.
	b := New(15, 4)
	now := time.Now()
	for i := 0; i < 15; i++ {
		if !b.Allow(now) {
			t.Fatalf("expected token %d to be available from full bucket", i)
		}
	}
	if b.Allow(now) {
		t.Fatal("bucket should be drained")
	}
	b.Penalize(now, time.Second)
	later := now.Add(time.Second)
	tokens := b.TokensAt(later)
	if tokens > 4.0 {
		t.Fatalf("tokens refilled during penalty: %f, want <= ~4", tokens)
	}
}

func TestBucket_retryAfter(t *testing.T) {
	b := New(15, 4)
	now := time.Now()
	b.Penalize(now, time.Second)
	if ra := b.RetryAfter(now); ra <= 0 || ra > time.Second {
		t.Fatalf("RetryAfter(now) = %s, want ~1s", ra)
	}
	if ra := b.RetryAfter(now.Add(2 * time.Second)); ra != 0 {
		t.Fatalf("RetryAfter after window elapsed = %s, want 0", ra)
	}
}

func TestBucket_reconfigureNoOpSameFPS(t *testing.T) {
	b := New(30, 4)
	now := time.Now()
	before := b.TokensAt(now)
	b.Reconfigure(30)
	after := b.TokensAt(now)
	if before != after {
		t.Fatalf("no-op reconfigure changed tokens: %f -> %f", before, after)
	}
}

func TestBucket_reconfigureChangesCapacity(t *testing.T) {
	b := New(10, 4)
	b.Reconfigure(20)
	now := time.Now()
	// After growing capacity, the bucket should eventually be able to hold
	// up to the new burst size once refilled; immediately after reconfigure
	// tokens are unchanged (no free tokens granted).
	if tokens := b.TokensAt(now); tokens > 20 {
		t.Fatalf("tokens exceed new capacity: %f", tokens)
	}
}
