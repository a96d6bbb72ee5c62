package gofs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gofsPrometheusMetrics sync.Once

	hydratedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "projfs",
			Subsystem: "gofs",
			Name:      "hydrated_bytes_total",
			Help:      "Total number of bytes written into placeholders by the provider.",
		})
)

// RegisterMetrics registers the provider metrics with the
// default registerer.
func RegisterMetrics() {
	gofsPrometheusMetrics.Do(func() {
		prometheus.MustRegister(hydratedBytes)
	})
}
