package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lfed/federate/internal/clock"
	"github.com/lfed/federate/internal/wire"
	"github.com/lfed/federate/pkg/scheduler"
)

type noopSender struct{}

func (noopSender) SendNextEventTime(scheduler.Instant) error       { return nil }
func (noopSender) SendLogicalTimeComplete(scheduler.Instant) error { return nil }
func (noopSender) SendStop(scheduler.Instant) error                { return nil }

func newTestBridge(myFed uint16, startTime scheduler.Instant) (*Bridge, *scheduler.RefQueue) {
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	queue := scheduler.NewRefQueue(startTime, &mu, cond)
	coord := clock.NewCoordinator(&mu, cond, queue, noopSender{}, true, true, nil)
	queue.BindPort(7, "port-7-trigger")

	return &Bridge{MyFedID: myFed, Coordinator: coord, Queue: queue}, queue
}

// TestOnTimedMessageSchedulesEvent covers a P2P_TIMED_MESSAGE for port 7
// scheduled exactly once at the expected delay relative to current
// logical time.
func TestOnTimedMessageSchedulesEvent(t *testing.T) {
	b, queue := newTestBridge(3, 1000)

	header := wire.TimedMessageHeader{PortID: 7, DestFed: 3, Length: 4, Timestamp: 1100}
	if err := b.OnTimedMessage(header, []byte("DATA")); err != nil {
		t.Fatalf("OnTimedMessage: %v", err)
	}

	b.Coordinator.Lock()
	head, ok := queue.EventQueueHeadTime()
	b.Coordinator.Unlock()

	if !ok {
		t.Fatal("expected a scheduled event")
	}
	if head != 1100 {
		t.Fatalf("got head time %d, want 1100", head)
	}

	b.Coordinator.Lock()
	delivered := queue.Advance(1100)
	b.Coordinator.Unlock()

	if len(delivered) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(delivered))
	}
	if string(delivered[0].Payload) != "DATA" {
		t.Fatalf("got payload %q, want DATA", delivered[0].Payload)
	}
	if delivered[0].Trigger != "port-7-trigger" {
		t.Fatalf("got trigger %v, want port-7-trigger", delivered[0].Trigger)
	}
}

// TestOnTimedMessageClampsTardyDelay covers the tardy-message policy: a
// timestamp behind current logical time schedules at delay 0, not
// negative.
func TestOnTimedMessageClampsTardyDelay(t *testing.T) {
	b, queue := newTestBridge(3, 1000)

	header := wire.TimedMessageHeader{PortID: 7, DestFed: 3, Length: 1, Timestamp: 900}
	if err := b.OnTimedMessage(header, []byte("x")); err != nil {
		t.Fatalf("OnTimedMessage: %v", err)
	}

	b.Coordinator.Lock()
	head, ok := queue.EventQueueHeadTime()
	b.Coordinator.Unlock()

	if !ok {
		t.Fatal("expected a scheduled event")
	}
	if head != 1000 {
		t.Fatalf("got head time %d, want 1000 (clamped to current logical time)", head)
	}
}

type fakeMetrics struct {
	scheduled map[uint16]int
	tardy     map[uint16]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{scheduled: map[uint16]int{}, tardy: map[uint16]int{}}
}

func (f *fakeMetrics) IncEventsScheduled(portID uint16) { f.scheduled[portID]++ }
func (f *fakeMetrics) IncTardyMessages(portID uint16)   { f.tardy[portID]++ }

// TestOnTimedMessageRecordsMetrics covers that a message scheduled ahead
// of current logical time counts as scheduled, one at or behind it
// counts as tardy, and both are labeled by the destination port_id.
func TestOnTimedMessageRecordsMetrics(t *testing.T) {
	b, _ := newTestBridge(3, 1000)
	fm := newFakeMetrics()
	b.Metrics = fm

	onTime := wire.TimedMessageHeader{PortID: 7, DestFed: 3, Length: 1, Timestamp: 1100}
	if err := b.OnTimedMessage(onTime, []byte("x")); err != nil {
		t.Fatalf("OnTimedMessage: %v", err)
	}

	tardy := wire.TimedMessageHeader{PortID: 7, DestFed: 3, Length: 1, Timestamp: 900}
	if err := b.OnTimedMessage(tardy, []byte("x")); err != nil {
		t.Fatalf("OnTimedMessage: %v", err)
	}

	if fm.scheduled[7] != 1 {
		t.Errorf("scheduled[7] = %d, want 1", fm.scheduled[7])
	}
	if fm.tardy[7] != 1 {
		t.Errorf("tardy[7] = %d, want 1", fm.tardy[7])
	}
}

// TestOnTimedMessageNilMetricsIsSafe covers that a Bridge with no Metrics
// set (the zero value) does not panic — metrics wiring is optional.
func TestOnTimedMessageNilMetricsIsSafe(t *testing.T) {
	b, _ := newTestBridge(3, 1000)

	header := wire.TimedMessageHeader{PortID: 7, DestFed: 3, Length: 1, Timestamp: 1100}
	if err := b.OnTimedMessage(header, []byte("x")); err != nil {
		t.Fatalf("OnTimedMessage: %v", err)
	}
}

// TestOnTimedMessageWrongDestinationIsFatal covers a dest_fed mismatch
// being fatal.
func TestOnTimedMessageWrongDestinationIsFatal(t *testing.T) {
	b, _ := newTestBridge(3, 1000)

	header := wire.TimedMessageHeader{PortID: 7, DestFed: 99, Length: 1, Timestamp: 1000}
	err := b.OnTimedMessage(header, []byte("x"))
	if !errors.Is(err, ErrWrongDestination) {
		t.Fatalf("got %v, want ErrWrongDestination", err)
	}
}

// TestOnTimedMessageWakesPendingWaiter covers the condvar-broadcast half:
// a goroutine blocked in NextEventTime past the message timestamp wakes
// up and observes it.
func TestOnTimedMessageWakesPendingWaiter(t *testing.T) {
	b, _ := newTestBridge(3, 1000)

	type result struct {
		t   scheduler.Instant
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		ctx := context.Background()
		got, err := b.Coordinator.NextEventTime(ctx, 5000)
		resultCh <- result{got, err}
	}()

	time.Sleep(20 * time.Millisecond)

	header := wire.TimedMessageHeader{PortID: 7, DestFed: 3, Length: 1, Timestamp: 1050}
	if err := b.OnTimedMessage(header, []byte("x")); err != nil {
		t.Fatalf("OnTimedMessage: %v", err)
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("NextEventTime: %v", r.err)
		}
		if r.t != 1050 {
			t.Fatalf("got %d, want 1050", r.t)
		}
	case <-time.After(time.Second):
		t.Fatal("NextEventTime did not wake up after the scheduled event")
	}

	b.Coordinator.OnTag(5000)
}
