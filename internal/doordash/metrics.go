package doordash

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for doordash_requests_total.
const (
	outcomeSuccess   = "success"
	outcomeConfig    = "configuration_error"
	outcomeAPI       = "api_error"
	outcomeTransport = "transport_error"
	outcomeInternal  = "internal_error"
)

var (
	// upstreamReqs counts Drive API calls by operation and outcome.
	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doordash_requests_total",
			Help: "Total number of DoorDash Drive API calls.",
		},
		[]string{"operation", "outcome"},
	)

	// upstreamLat records Drive API latency in seconds by operation.
	upstreamLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doordash_request_duration_seconds",
			Help:    "Duration of DoorDash Drive API calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(upstreamReqs, upstreamLat)
}

func observe(op, outcome string, d time.Duration) {
	upstreamReqs.WithLabelValues(op, outcome).Inc()
	upstreamLat.WithLabelValues(op).Observe(d.Seconds())
}
