package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "territory"

var (
	walkPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_walk_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent walk session committed to Postgres.",
	})
	walkEventConsumedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_walk_event_consumed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent walk event stored by the consumer.",
	})
	walksFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "walks",
		Name:      "finalized_total",
		Help:      "Walks ended over the socket, partitioned by outcome.",
	}, []string{"outcome"})
	finalizeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "walks",
		Name:      "finalize_duration_seconds",
		Help:      "Time spent draining, scoring and committing a walk.",
		Buckets:   prometheus.DefBuckets,
	})
	walkPoints = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "walks",
		Name:      "drained_points",
		Help:      "Number of buffered samples drained per finalized walk.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	connectedSockets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connected_sockets",
		Help:      "Authenticated websocket connections currently open.",
	})
	roomTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "room_transitions_total",
		Help:      "Room joins and leaves applied, partitioned by kind.",
	}, []string{"kind"})
	socketEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "Inbound socket events rejected before reaching a handler.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		walkPersistGauge,
		walkEventConsumedGauge,
		walksFinalized,
		finalizeDuration,
		walkPoints,
		connectedSockets,
		roomTransitions,
		socketEventsDropped,
	)
}

// RecordWalkPersisted updates the persistence watermark gauge.
func RecordWalkPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	walkPersistGauge.Set(float64(ts.Unix()))
}

// RecordWalkEventConsumed updates the consumer watermark gauge.
func RecordWalkEventConsumed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	walkEventConsumedGauge.Set(float64(ts.Unix()))
}

// RecordWalkFinalized counts a walk:end outcome and, when points is positive,
// observes the drained sample count.
func RecordWalkFinalized(outcome string, elapsed time.Duration, points int) {
	walksFinalized.WithLabelValues(outcome).Inc()
	finalizeDuration.Observe(elapsed.Seconds())
	if points > 0 {
		walkPoints.Observe(float64(points))
	}
}

// SocketConnected tracks an opened connection.
func SocketConnected() { connectedSockets.Inc() }

// SocketDisconnected tracks a closed connection.
func SocketDisconnected() { connectedSockets.Dec() }

// RecordRoomTransition counts a join or leave.
func RecordRoomTransition(kind string) {
	roomTransitions.WithLabelValues(kind).Inc()
}

// RecordSocketEventDropped counts an inbound event that was not dispatched.
func RecordSocketEventDropped(reason string) {
	socketEventsDropped.WithLabelValues(reason).Inc()
}
