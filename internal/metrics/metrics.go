// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the application collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Captures        *prometheus.CounterVec
	MatchScores     prometheus.Histogram
	Snapshots       *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolattend",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schoolattend",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolattend",
			Name:      "captures_total",
			Help:      "Processed attendance captures by outcome.",
		}, []string{"outcome"}),
		MatchScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schoolattend",
			Name:      "capture_match_score",
			Help:      "Face match scores of processed captures.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolattend",
			Name:      "snapshot_saves_total",
			Help:      "Ledger snapshot saves by backend and result.",
		}, []string{"backend", "result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schoolattend",
			Name:      "capture_queue_depth",
			Help:      "Captures waiting to be scored.",
		}),
	}
	reg.MustRegister(m.Requests, m.RequestDuration, m.Captures, m.MatchScores, m.Snapshots, m.QueueDepth)
	return m
}

// CaptureOutcome counts one processed capture. outcome is an attendance
// status or an error kind.
func (m *Metrics) CaptureOutcome(outcome string, score *float64) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(outcome).Inc()
	if score != nil {
		m.MatchScores.Observe(*score)
	}
}

// SnapshotSaved counts a persistence attempt.
func (m *Metrics) SnapshotSaved(backend string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Snapshots.WithLabelValues(backend, result).Inc()
}

// SetQueueDepth records the scoring backlog.
func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// GinMiddleware records request counts and latency keyed by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
