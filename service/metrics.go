package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles Prometheus collectors for the query service.
type Metrics struct {
	CacheLookupsTotal *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_cache_lookups_total",
			Help: "Live query result cache lookups by result.",
		},
		[]string{"result"},
	)
	if reg != nil {
		reg.MustRegister(lookups)
	}
	return &Metrics{CacheLookupsTotal: lookups}
}

func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}
