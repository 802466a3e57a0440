package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles Prometheus collectors for the telemetry pipeline.
type Metrics struct {
	RecordedTotal  *prometheus.CounterVec
	DroppedTotal   prometheus.Counter
	ForwardedTotal *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	recorded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_recorded_total",
			Help: "Total telemetry events recorded by name.",
		},
		[]string{"event"},
	)
	dropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_dropped_total",
			Help: "Events discarded because the buffer was full.",
		},
	)
	forwarded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_forwarded_total",
			Help: "Forward attempts by outcome.",
		},
		[]string{"outcome"},
	)

	if reg != nil {
		reg.MustRegister(recorded, dropped, forwarded)
	}

	return &Metrics{
		RecordedTotal:  recorded,
		DroppedTotal:   dropped,
		ForwardedTotal: forwarded,
	}
}

// IncRecorded increments the recorded counter for an event name.
func (m *Metrics) IncRecorded(event string) {
	if m == nil {
		return
	}
	m.RecordedTotal.WithLabelValues(event).Inc()
}

// IncDropped increments the dropped counter.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.DroppedTotal.Inc()
}

// IncForward increments the forwarded counter for an outcome label.
func (m *Metrics) IncForward(outcome string) {
	if m == nil {
		return
	}
	m.ForwardedTotal.WithLabelValues(outcome).Inc()
}
