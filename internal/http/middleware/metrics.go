// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus metrics for the HTTP surface and the relay:
//
//   - http_requests_total{method,path,status}
//   - http_request_duration_seconds{method,path}
//   - http_requests_inflight
//   - http_response_size_bytes{method,path}
//   - relay_actions_total{action,outcome}
//   - relay_idempotent_replays_total
//
// The "path" label is the registered route (c.FullPath()) so raw URLs do not
// blow up cardinality; unmatched requests fall back to the URL path.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Relay responses are small JSON documents; buckets stop at 1 MiB, the body cap.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 7), // 128B..512KiB
		},
		[]string{"method", "path"},
	)

	relayActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_actions_total",
			Help: "Relay actions by name and outcome (success or error code).",
		},
		[]string{"action", "outcome"},
	)

	idemReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_idempotent_replays_total",
			Help: "Requests answered from a stored idempotent result.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, relayActions, idemReplays)
}

// ObserveRelayAction counts one dispatched relay action. outcome is
// "success" or the error code returned to the caller.
func ObserveRelayAction(action, outcome string) {
	relayActions.WithLabelValues(action, outcome).Inc()
}

// Metrics instruments every request with the http_* collectors.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written (e.g. 204).
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
