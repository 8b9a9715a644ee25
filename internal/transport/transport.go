// Package transport defines the opaque byte-sink the dispatcher writes
// panel messages through, and two implementations: a mock sink for tests and
// local development, and an RS-485 serial sink for the real bus.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks a transport error the dispatcher cannot recover from on
// its own (spec.md §4.D "TransportPermanent"); anything else is treated as
// transient and retried on the next tick.
var ErrPermanent = errors.New("transport: permanent error")

// Sink is the transport adapter's capability set (spec.md §6). The dispatcher
// is the only component that holds one.
type Sink interface {
	Open(ctx context.Context) error
	Close() error
	WriteAll(ctx context.Context, b []byte) error
	Sleep(ctx context.Context, d time.Duration)
	IsPermanentError(err error) bool
}

// IsPermanent classifies err using sink's own classifier, falling back to
// errors.Is(err, ErrPermanent) if sink is nil.
func IsPermanent(sink Sink, err error) bool {
	if err == nil {
		return false
	}
	if sink != nil {
		return sink.IsPermanentError(err)
	}
	return errors.Is(err, ErrPermanent)
}
