// Package clock implements the time-advance coordinator: the NET/TAG/LTC
// protocol a federate speaks with the RTI, guarded by a single mutex and
// condition variable shared with the local scheduler.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lfed/federate/pkg/scheduler"
)

// Sender delivers the coordinator's outbound protocol messages. The RTI
// link implements it; tests substitute a recording fake.
type Sender interface {
	SendNextEventTime(t scheduler.Instant) error
	SendLogicalTimeComplete(t scheduler.Instant) error
	SendStop(t scheduler.Instant) error
}

// TimeState is a point-in-time snapshot of the coordinator's protocol
// state, safe to read without the coordinator's lock since it is a copy.
type TimeState struct {
	GrantedTag    scheduler.Instant
	TagPending    bool
	StopRequested bool
}

// Coordinator owns the single mutex and condition variable shared with
// the external scheduler. Every exported method that touches state
// acquires c.mu for its duration; NextEventTime additionally waits on
// c.cond while tag_pending is set.
type Coordinator struct {
	mu   *sync.Mutex
	cond *sync.Cond

	queue  scheduler.Queue
	sender Sender
	logger *slog.Logger

	hasUpstream   bool
	hasDownstream bool

	grantedTag    scheduler.Instant
	tagState      tagPendingState
	stopRequested bool
}

// NewCoordinator constructs a Coordinator sharing mu/cond with the local
// scheduler. mu and cond must be the same pair given to the
// scheduler.Queue implementation in use (for pkg/scheduler.RefQueue, the
// pair passed to NewRefQueue).
func NewCoordinator(mu *sync.Mutex, cond *sync.Cond, queue scheduler.Queue, sender Sender, hasUpstream, hasDownstream bool, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		mu:            mu,
		cond:          cond,
		queue:         queue,
		sender:        sender,
		logger:        logger.With(slog.String("component", "clock.coordinator")),
		hasUpstream:   hasUpstream,
		hasDownstream: hasDownstream,
		grantedTag:    scheduler.Never,
		tagState:      tagPendingIdle,
	}
}

// Lock and Unlock expose the coordinator's shared mutex so that
// internal/bridge can hold it across a queue.Schedule call and this
// coordinator's NotifyQueueChanged in the same critical section.
func (c *Coordinator) Lock()   { c.mu.Lock() }
func (c *Coordinator) Unlock() { c.mu.Unlock() }

// NotifyQueueChanged broadcasts event_q_changed. Callers must hold the
// coordinator's lock.
func (c *Coordinator) NotifyQueueChanged() { c.cond.Broadcast() }

// State returns a snapshot of the coordinator's protocol state.
func (c *Coordinator) State() TimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TimeState{
		GrantedTag:    c.grantedTag,
		TagPending:    c.tagState == tagPendingWaiting,
		StopRequested: c.stopRequested,
	}
}

// NextEventTime implements the next_event_time(t) contract exactly,
// including the re-check-both-conditions-on-every-wakeup rule.
func (c *Coordinator) NextEventTime(ctx context.Context, t scheduler.Instant) (scheduler.Instant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 1: isolated federate.
	if !c.hasDownstream && !c.hasUpstream {
		return t, nil
	}

	// Step 2: already covered by a prior grant.
	if c.grantedTag >= t {
		return t, nil
	}

	// Step 3: announce our next event time.
	if err := c.sender.SendNextEventTime(t); err != nil {
		return 0, fmt.Errorf("next_event_time(%d): send NEXT_EVENT_TIME: %w", t, err)
	}

	// Step 4: nothing above us to grant a TAG.
	if !c.hasUpstream {
		return t, nil
	}

	// Step 5: wait for TAG or a closer local event, re-checking both
	// conditions on every wakeup (spurious wakeups permitted).
	c.tagState = applyTagPendingEvent(c.tagState, eventNetSent)

	for {
		if c.tagState == tagPendingIdle {
			return c.grantedTag, nil
		}
		if head, ok := c.queue.EventQueueHeadTime(); ok && head < t {
			return head, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		c.cond.Wait()
	}
}

// LogicalTimeComplete implements logical_time_complete(t): a no-op
// unless a downstream federate exists.
func (c *Coordinator) LogicalTimeComplete(t scheduler.Instant) error {
	if !c.hasDownstream {
		return nil
	}
	if err := c.sender.SendLogicalTimeComplete(t); err != nil {
		return fmt.Errorf("logical_time_complete(%d): %w", t, err)
	}
	return nil
}

// BroadcastStop implements broadcast_stop: send STOP with the
// scheduler's current logical time.
func (c *Coordinator) BroadcastStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.queue.CurrentLogicalTime()

	if err := c.sender.SendStop(now); err != nil {
		return fmt.Errorf("broadcast_stop(%d): %w", now, err)
	}
	return nil
}

// OnTag implements on_tag: assign granted_tag, clear tag_pending, and
// broadcast event_q_changed.
func (c *Coordinator) OnTag(tag scheduler.Instant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.grantedTag = tag
	c.tagState = applyTagPendingEvent(c.tagState, eventTagReceived)
	c.cond.Broadcast()

	c.logger.Debug("time advance granted", slog.Int64("tag", int64(tag)))
}

// OnStop implements on_stop. The stop time argument is read off the wire
// by internal/dispatch but the current protocol design has no use for
// its value here — see Runtime.Run for how shutdown actually proceeds.
func (c *Coordinator) OnStop(_ scheduler.Instant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopRequested = true
	c.cond.Broadcast()

	c.logger.Info("stop requested by RTI")
}
