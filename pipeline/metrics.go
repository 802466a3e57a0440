package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for store writes.
type Metrics struct {
	BatchesTotal  *prometheus.CounterVec
	RowsTotal     prometheus.Counter
	BatchDuration prometheus.Histogram
}

// NewMetrics constructs the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_batches_total",
			Help: "Total upsert batches by outcome.",
		},
		[]string{"outcome"},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_rows_total",
			Help: "Total rows inserted or updated.",
		},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_duration_seconds",
			Help:    "Latency of one upsert transaction.",
			Buckets: prometheus.DefBuckets,
		},
	)

	if reg != nil {
		reg.MustRegister(batches, rows, duration)
	}

	return &Metrics{
		BatchesTotal:  batches,
		RowsTotal:     rows,
		BatchDuration: duration,
	}
}

// ObserveBatch records one finished upsert.
func (m *Metrics) ObserveBatch(err error, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.RowsTotal.Add(float64(rows))
	m.BatchDuration.Observe(elapsed.Seconds())
}
