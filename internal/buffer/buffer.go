// Package buffer implements the bounded keep-latest FIFO that sits between
// the ingest forwarder and the pacing dispatcher (component C).
package buffer

import (
	"sync"
	"time"

	"github.com/flipdotd/flipdotd/internal/wire"
)

// Entry is one buffered frame plus the bookkeeping the dispatcher needs.
type Entry struct {
	Frame            *wire.Frame
	ReceivedAtMono   time.Time
	ProducerID       string
}

// Buffer is a single-producer/single-consumer bounded FIFO sized from the
// target buffer duration and fps. On push when full, it drops the oldest
// entry, never the new one. Pop on empty is non-blocking.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int

	received        uint64
	droppedOverflow uint64
	popped          uint64
	highWater       int
}

// New creates a Buffer with the given capacity (frame count).
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity}
}

// Push enqueues an entry. If the buffer is full, the oldest entry is dropped
// to make room (never the new one), and droppedOverflow is incremented.
func (b *Buffer) Push(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received++
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
		b.droppedOverflow++
	}
	b.entries = append(b.entries, e)
	if len(b.entries) > b.highWater {
		b.highWater = len(b.entries)
	}
}

// Pop removes and returns the oldest entry, or ok=false if the buffer is empty.
func (b *Buffer) Pop() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	e := b.entries[0]
	b.entries = b.entries[1:]
	b.popped++
	return e, true
}

// Occupancy returns the current number of buffered entries.
func (b *Buffer) Occupancy() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Capacity returns the buffer's configured capacity.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats is the monotonic counter snapshot exposed to the control plane.
type Stats struct {
	Received        uint64
	DroppedOverflow uint64
	Popped          uint64
	Occupancy       int
	Capacity        int
	HighWater       int
}

// Stats returns a snapshot of the buffer's counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Received:        b.received,
		DroppedOverflow: b.droppedOverflow,
		Popped:          b.popped,
		Occupancy:       len(b.entries),
		Capacity:        b.capacity,
		HighWater:       b.highWater,
	}
}

// ResetHighWater clears the high-water mark, for the control plane's
// "high-water since last status" reporting (spec.md §4.C).
func (b *Buffer) ResetHighWater() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.highWater = len(b.entries)
}

// Resize changes the buffer's capacity, preserving existing entries up to the
// new capacity (dropping the oldest first if shrinking) — spec.md §4.I
// "Changing fps resizes the buffer (preserving existing entries up to the new
// capacity)".
func (b *Buffer) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	if len(b.entries) > capacity {
		dropped := len(b.entries) - capacity
		b.entries = b.entries[dropped:]
		b.droppedOverflow += uint64(dropped)
	}
}

// CapacityForCadence computes ceil(bufferMs * fps / 1000), spec.md §4.C.
func CapacityForCadence(bufferMs, fps int) int {
	if fps <= 0 {
		fps = 1
	}
	n := bufferMs * fps
	capacity := n / 1000
	if n%1000 != 0 {
		capacity++
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}
