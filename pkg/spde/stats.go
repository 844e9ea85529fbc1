package spde

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics tracks per-phase population and lifetime transition counts for
// the whole engine (summed across every lane). All methods are called only
// from within a lane goroutine's handling of a single event, so the
// underlying prometheus vectors' own internal locking is the only
// synchronization needed.
type metrics struct {
	phaseGauge      *prometheus.GaugeVec
	transitionTotal *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		phaseGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "racer",
			Subsystem: "spde",
			Name:      "messages_in_phase",
			Help:      "Number of in-flight MIDs currently in each SPDE phase.",
		}, []string{"phase"}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "racer",
			Subsystem: "spde",
			Name:      "phase_transitions_total",
			Help:      "Count of SPDE phase transitions, labeled by the phase entered.",
		}, []string{"phase"}),
	}
}

// Collectors exposes the engine's vectors for registration with a
// prometheus.Registerer (see node.Node).
func (e *Engine) Collectors() []prometheus.Collector {
	return []prometheus.Collector{e.metrics.phaseGauge, e.metrics.transitionTotal}
}

func (m *metrics) setPhase(p Phase) {
	m.phaseGauge.WithLabelValues(p.String()).Inc()
}

func (m *metrics) transition(from, to Phase) {
	if from != to {
		m.phaseGauge.WithLabelValues(from.String()).Dec()
		m.phaseGauge.WithLabelValues(to.String()).Inc()
	}
	m.transitionTotal.WithLabelValues(to.String()).Inc()
}
