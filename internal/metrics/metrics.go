// Package metrics holds the Prometheus collectors of the realtime core.
// They register with the default registry served by promhttp.Handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	DropSlowConsumer = "slow_consumer"
	DropStaleSeq     = "stale_seq"
	DropUndecodable  = "undecodable"
	DropBusOverflow  = "bus_overflow"
)

var (
	WSSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_ws_sessions",
		Help: "Open WebSocket sessions.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_published_total",
		Help: "Realtime events published to the bus, by type.",
	}, []string{"type"})

	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_delivered_total",
		Help: "Events queued to a session send buffer.",
	})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_dropped_total",
		Help: "Events not delivered, by reason.",
	}, []string{"reason"})

	GapsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_sequencer_gaps_skipped_total",
		Help: "Sequence gaps the hub gave up waiting for.",
	})

	TypingUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_typing_users",
		Help: "Users currently marked as typing across all channels.",
	})
)

func init() {
	prometheus.MustRegister(WSSessions, EventsPublished, EventsDelivered, EventsDropped, GapsSkipped, TypingUsers)
}
