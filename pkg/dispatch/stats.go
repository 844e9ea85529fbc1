package dispatch

import "github.com/prometheus/client_golang/prometheus"

// metrics tracks the dispatcher's misbehavior and queueing counters (§7,
// §9): BadSignature and MidMismatch are peer-misbehavior accounting,
// QueueOverflow is purely a local backpressure signal.
type metrics struct {
	badSignature  *prometheus.CounterVec
	midMismatch   prometheus.Counter
	queueOverflow *prometheus.CounterVec
	framesRouted  *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		badSignature: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racer",
			Subsystem: "dispatch",
			Name:      "bad_signature_total",
			Help:      "Inbound frames rejected for failing signature verification, by frame type.",
		}, []string{"tag"}),
		midMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "racer",
			Subsystem: "dispatch",
			Name:      "mid_mismatch_total",
			Help:      "Inbound PAYLOAD frames rejected because the MID did not match the hash of their identity fields.",
		}),
		queueOverflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racer",
			Subsystem: "dispatch",
			Name:      "outbox_overflow_total",
			Help:      "Outbound frames dropped because a peer's outbox was full, by peer.",
		}, []string{"peer"}),
		framesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racer",
			Subsystem: "dispatch",
			Name:      "frames_routed_total",
			Help:      "Inbound frames that passed verification and were routed to the engine, by frame type.",
		}, []string{"tag"}),
	}
}
