package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "erasmus"

var httpLabels = []string{"area", "method", "route", "code"}

var (
	httpOnce sync.Once

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, httpLabels)

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of HTTP requests served.",
	}, httpLabels)

	httpResponseBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "Size of HTTP response bodies.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 7),
	}, []string{"area"})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "HTTP requests currently being served.",
	})
)

// GinMiddleware observes latency, status and response size for every request.
// Requests that match no route share the "unmatched" label.
func GinMiddleware() gin.HandlerFunc {
	httpOnce.Do(func() {
		prometheus.MustRegister(httpLatency, httpRequests, httpResponseBytes, httpInFlight)
	})

	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		httpInFlight.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		area := routeArea(route)
		labels := prometheus.Labels{
			"area":   area,
			"method": c.Request.Method,
			"route":  route,
			"code":   strconv.Itoa(c.Writer.Status()),
		}
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
		httpRequests.With(labels).Inc()
		if size := c.Writer.Size(); size > 0 {
			httpResponseBytes.WithLabelValues(area).Observe(float64(size))
		}
	}
}

// routeArea groups routes by the first segment after /api, e.g. "forms" or "admin".
func routeArea(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/")
	if !ok {
		if route == "unmatched" {
			return route
		}
		return "system"
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "system"
	}
	return rest
}
