package projfs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatcherPrometheusMetrics sync.Once

	dispatcherCallbackDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "projfs",
			Subsystem: "dispatcher",
			Name:      "callback_duration_seconds",
			Help:      "Amount of time spent by providers per callback, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"callback"})
	dispatcherCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projfs",
			Subsystem: "dispatcher",
			Name:      "callbacks_total",
			Help:      "Total number of callbacks dispatched to providers, by reported status.",
		},
		[]string{"callback", "status"})
	dispatcherCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "projfs",
			Subsystem: "dispatcher",
			Name:      "completions_total",
			Help:      "Total number of command completions submitted by providers, by outcome.",
		},
		[]string{"kind", "outcome"})
)

// registerMetrics registers the dispatcher metrics with the
// default registerer, the first instance enabling metrics
// does the work.
func registerMetrics() {
	dispatcherPrometheusMetrics.Do(func() {
		prometheus.MustRegister(dispatcherCallbackDurationSeconds)
		prometheus.MustRegister(dispatcherCallbacks)
		prometheus.MustRegister(dispatcherCompletions)
	})
}

func observeCallback(
	enabled bool, callback string, status HResult, timeStart time.Time,
) {
	if !enabled {
		return
	}
	dispatcherCallbackDurationSeconds.WithLabelValues(callback).
		Observe(time.Since(timeStart).Seconds())
	dispatcherCallbacks.WithLabelValues(callback, status.String()).Inc()
}

func observeCompletion(enabled bool, kind CompletionKind, outcome string) {
	if !enabled {
		return
	}
	dispatcherCompletions.WithLabelValues(kind.String(), outcome).Inc()
}
