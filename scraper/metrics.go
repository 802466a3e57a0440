package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for provider calls.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ItemsScrapedTotal *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	FanoutsTotal      prometheus.Counter
}

// NewMetrics constructs the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued to providers.",
		},
		[]string{"provider", "phase"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for provider requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	itemsScraped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of products parsed per provider.",
		},
		[]string{"provider"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of provider failures by type.",
		},
		[]string{"provider", "error_type"},
	)
	fanouts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_fanouts_total",
			Help: "Total number of multi-provider collections.",
		},
	)

	if reg != nil {
		reg.MustRegister(requests, requestDuration, itemsScraped, errorsTotal, fanouts)
	}

	return &Metrics{
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ErrorsTotal:       errorsTotal,
		FanoutsTotal:      fanouts,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(provider, phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(provider, phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// AddItems adds parsed products to the items counter.
func (m *Metrics) AddItems(provider string, n int) {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.WithLabelValues(provider).Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(provider, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// IncFanout increments the fan-out counter.
func (m *Metrics) IncFanout() {
	if m == nil {
		return
	}
	m.FanoutsTotal.Inc()
}
