// Package scheduler defines the interface the federate runtime expects
// from the local discrete-event scheduler and provides Instant, the
// nanosecond-resolution time type shared by the wire codec, the
// time-advance coordinator, and the message scheduler bridge.
package scheduler

import (
	"context"
	"math"
	"time"
)

// Instant is a logical or physical point in time, expressed as
// nanoseconds. The wire format carries all timestamps as a signed 64-bit
// little-endian integer; Instant is that same representation end to end
// so no conversion happens on the hot path.
type Instant int64

// Never is the sentinel value for "no TAG received yet". It compares
// less than every representable timestamp.
const Never Instant = math.MinInt64

// Before reports whether t is strictly earlier than u.
func (t Instant) Before(u Instant) bool { return t < u }

// Sub returns the signed duration from u to t (t - u). A negative
// result means t is earlier than u; the bridge relies on this to detect
// tardy messages.
func (t Instant) Sub(u Instant) time.Duration { return time.Duration(int64(t) - int64(u)) }

// Add returns t advanced by d.
func (t Instant) Add(d time.Duration) Instant { return t + Instant(d) }

// Trigger is an opaque handle identifying a scheduler reaction/port,
// produced by Queue.TriggerForPort and consumed by Queue.Schedule. The
// runtime never inspects its contents.
type Trigger any

// Handle identifies a scheduled event for later inspection or
// cancellation by the embedding scheduler. The runtime treats it as
// opaque.
type Handle struct {
	ID uint64
}

// Queue is the external local discrete-event scheduler collaborator.
// All methods except WaitUntil are invoked with the shared coordinator
// mutex already held by the caller; implementations must not attempt to
// acquire that mutex themselves.
type Queue interface {
	// CurrentLogicalTime returns the scheduler's current logical time.
	CurrentLogicalTime() Instant

	// Schedule enqueues payload for delivery at trigger after delay,
	// relative to CurrentLogicalTime. Ownership of payload transfers to
	// the scheduler. Negative delay must be clamped to zero by the
	// implementation (tardy-message policy).
	Schedule(trigger Trigger, delay time.Duration, payload []byte) Handle

	// TriggerForPort resolves a wire port id to the scheduler trigger it
	// drives. Wiring is performed by generated code outside this module;
	// Queue implementations supply the mapping.
	TriggerForPort(portID uint16) Trigger

	// EventQueueHeadTime returns the timestamp of the earliest event
	// currently queued, or false if the queue is empty.
	EventQueueHeadTime() (Instant, bool)

	// WaitUntil cooperatively blocks the calling goroutine until
	// physical time reaches t or ctx is cancelled. Used only by the
	// startup orchestrator and is not called with the coordinator mutex
	// held.
	WaitUntil(ctx context.Context, t Instant) error
}

// PhysicalClock abstracts the platform wall clock. Tests substitute a
// fake clock to make start-time negotiation deterministic.
type PhysicalClock interface {
	Now() Instant
}

// SystemClock is the production PhysicalClock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time as an Instant.
func (SystemClock) Now() Instant {
	return Instant(time.Now().UnixNano())
}
