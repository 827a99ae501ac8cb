package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	editSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edit_sessions_active",
			Help: "Number of currently attached editing sessions",
		},
	)

	documentSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_saves_total",
			Help: "Total number of document saves by outcome",
		},
		[]string{"outcome"}, // updated, forked, published, error
	)
)

// Metrics returns a gin middleware recording request metrics
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// SessionAttached adjusts the active-session gauge
func SessionAttached(delta float64) {
	editSessionsActive.Add(delta)
}

// RecordSave counts a save by outcome
func RecordSave(outcome string) {
	documentSavesTotal.WithLabelValues(outcome).Inc()
}
