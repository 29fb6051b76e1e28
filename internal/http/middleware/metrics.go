// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels are
// kept bounded:
//
//   - surface:  webhook, operator or system, so Meta and Paystack traffic can
//     be told apart from dashboard traffic
//   - method:   HTTP method verb
//   - path:     the registered Gin route, or "unmatched" when none matched
//   - status:   numeric status code as a string
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"surface", "method", "path", "status"},
	)

	// Status is omitted to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"surface", "method", "path"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "storefront",
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"surface"},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP responses in bytes.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"surface", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize)
}

// Surface classifies a request path for the surface label.
func Surface(path string) string {
	switch {
	case strings.HasPrefix(path, "/webhooks/"):
		return "webhook"
	case strings.HasPrefix(path, "/api/"):
		return "operator"
	default:
		return "system"
	}
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
// Serve the collectors with r.GET("/metrics", gin.WrapH(promhttp.Handler())).
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		surface := Surface(c.Request.URL.Path)
		httpInflight.WithLabelValues(surface).Inc()
		defer httpInflight.WithLabelValues(surface).Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(surface, method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(surface, method, path).Observe(time.Since(start).Seconds())
		// Hijacked connections report -1.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(surface, method, path).Observe(float64(size))
		}
	}
}
