// Package federatemetrics exposes Prometheus metrics for the federate
// runtime core.
package federatemetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "federate"
	subsystem = "runtime"
)

// Label names for federate runtime metrics.
const (
	labelPeerFedID = "peer_fed_id"
	labelDirection = "direction"
	labelPortID    = "port_id"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Federate Runtime Metrics
// -------------------------------------------------------------------------

// Collector holds all federate runtime Prometheus metrics.
//
//   - GrantedTag tracks the watermark of the most recent TIME_ADVANCE_GRANT.
//   - NextEventSent/TagGranted/LogicalTimeComplete count the NET/TAG/LTC
//     protocol exchange.
//   - PeerLinks tracks currently established P2P connections per direction.
//   - EventsScheduled/TardyMessages count scheduler-bridge activity.
type Collector struct {
	// GrantedTag is the logical time of the most recent TIME_ADVANCE_GRANT
	// received from the RTI. Set on every grant.
	GrantedTag prometheus.Gauge

	// NextEventSent counts NEXT_EVENT_TIME messages sent to the RTI.
	NextEventSent prometheus.Counter

	// TagGranted counts TIME_ADVANCE_GRANT messages received from the RTI.
	TagGranted prometheus.Counter

	// LogicalTimeComplete counts LOGICAL_TIME_COMPLETE messages sent
	// downstream.
	LogicalTimeComplete prometheus.Counter

	// PeerLinks tracks the number of currently established P2P socket
	// connections, labeled by peer fed_id and direction ("inbound" or
	// "outbound").
	PeerLinks *prometheus.GaugeVec

	// EventsScheduled counts timed messages successfully bridged into the
	// local scheduler queue, labeled by destination port_id.
	EventsScheduled *prometheus.CounterVec

	// TardyMessages counts timed messages received with a timestamp at or
	// before current_logical_time — clamped to current_logical_time by the
	// scheduler rather than rejected.
	TardyMessages *prometheus.CounterVec
}

// NewCollector creates a Collector with all federate runtime metrics
// registered against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "federate_runtime_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.GrantedTag,
		c.NextEventSent,
		c.TagGranted,
		c.LogicalTimeComplete,
		c.PeerLinks,
		c.EventsScheduled,
		c.TardyMessages,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelPeerFedID, labelDirection}

	return &Collector{
		GrantedTag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "granted_tag",
			Help:      "Logical time of the most recent TIME_ADVANCE_GRANT.",
		}),

		NextEventSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "next_event_time_sent_total",
			Help:      "Total NEXT_EVENT_TIME messages sent to the RTI.",
		}),

		TagGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "time_advance_grant_received_total",
			Help:      "Total TIME_ADVANCE_GRANT messages received from the RTI.",
		}),

		LogicalTimeComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "logical_time_complete_sent_total",
			Help:      "Total LOGICAL_TIME_COMPLETE messages sent downstream.",
		}),

		PeerLinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peer_links",
			Help:      "Currently established P2P socket connections, by peer fed_id and direction.",
		}, peerLabels),

		EventsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_scheduled_total",
			Help:      "Total timed messages bridged into the local scheduler queue, by destination port_id.",
		}, []string{labelPortID}),

		TardyMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tardy_messages_total",
			Help:      "Total timed messages received at or before current_logical_time, by destination port_id.",
		}, []string{labelPortID}),
	}
}

// -------------------------------------------------------------------------
// NET/TAG/LTC Protocol
// -------------------------------------------------------------------------

// SetGrantedTag records the logical time of a received TIME_ADVANCE_GRANT.
func (c *Collector) SetGrantedTag(t int64) {
	c.GrantedTag.Set(float64(t))
}

// IncNextEventSent increments the NEXT_EVENT_TIME send counter.
func (c *Collector) IncNextEventSent() {
	c.NextEventSent.Inc()
}

// IncTagGranted increments the TIME_ADVANCE_GRANT receive counter.
func (c *Collector) IncTagGranted() {
	c.TagGranted.Inc()
}

// IncLogicalTimeComplete increments the LOGICAL_TIME_COMPLETE send counter.
func (c *Collector) IncLogicalTimeComplete() {
	c.LogicalTimeComplete.Inc()
}

// -------------------------------------------------------------------------
// Peer Links
// -------------------------------------------------------------------------

// SetPeerLinkUp sets the peer link gauge to 1 for the given peer and
// direction ("inbound" or "outbound").
func (c *Collector) SetPeerLinkUp(peerFedID uint16, direction string) {
	c.PeerLinks.WithLabelValues(fedIDLabel(peerFedID), direction).Set(1)
}

// SetPeerLinkDown sets the peer link gauge to 0 for the given peer and
// direction.
func (c *Collector) SetPeerLinkDown(peerFedID uint16, direction string) {
	c.PeerLinks.WithLabelValues(fedIDLabel(peerFedID), direction).Set(0)
}

// -------------------------------------------------------------------------
// Scheduler Bridge
// -------------------------------------------------------------------------

// IncEventsScheduled increments the scheduled-events counter for the given
// destination port_id.
func (c *Collector) IncEventsScheduled(portID uint16) {
	c.EventsScheduled.WithLabelValues(fedIDLabel(portID)).Inc()
}

// IncTardyMessages increments the tardy-messages counter for the given
// destination port_id.
func (c *Collector) IncTardyMessages(portID uint16) {
	c.TardyMessages.WithLabelValues(fedIDLabel(portID)).Inc()
}

func fedIDLabel(fedID uint16) string {
	return strconv.Itoa(int(fedID))
}
