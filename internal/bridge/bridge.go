// Package bridge implements the message scheduler bridge: the glue
// between a TIMED_MESSAGE/P2P_TIMED_MESSAGE frame and the local
// scheduler's event queue.
package bridge

import (
	"errors"
	"fmt"

	"github.com/lfed/federate/internal/clock"
	"github.com/lfed/federate/internal/wire"
	"github.com/lfed/federate/pkg/scheduler"
)

// ErrWrongDestination is returned when a TIMED_MESSAGE frame arrives
// addressed to another federate ("assert dest_fed == my_fed
// (mismatch is fatal)").
var ErrWrongDestination = errors.New("bridge: message addressed to a different federate")

// Metrics records bridge activity for observability. Optional: a nil
// Bridge.Metrics simply skips recording.
type Metrics interface {
	IncEventsScheduled(portID uint16)
	IncTardyMessages(portID uint16)
}

// Bridge delivers incoming timed messages into the local scheduler under
// the coordinator's shared lock.
type Bridge struct {
	MyFedID     uint16
	Coordinator *clock.Coordinator
	Queue       scheduler.Queue
	Metrics     Metrics
}

// OnTimedMessage matches dispatch.Handlers' OnTimedMessage signature so a
// Bridge can be wired in directly.
func (b *Bridge) OnTimedMessage(header wire.TimedMessageHeader, payload []byte) error {
	if header.DestFed != b.MyFedID {
		return fmt.Errorf("%w: dest_fed=%d, my_fed=%d", ErrWrongDestination, header.DestFed, b.MyFedID)
	}

	b.Coordinator.Lock()
	defer b.Coordinator.Unlock()

	now := b.Queue.CurrentLogicalTime()
	delay := header.Timestamp.Sub(now)
	trigger := b.Queue.TriggerForPort(header.PortID)
	b.Queue.Schedule(trigger, delay, payload)
	b.Coordinator.NotifyQueueChanged()

	if b.Metrics != nil {
		if delay <= 0 {
			b.Metrics.IncTardyMessages(header.PortID)
		} else {
			b.Metrics.IncEventsScheduled(header.PortID)
		}
	}

	return nil
}
