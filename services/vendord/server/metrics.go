package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records trade and admin activity for Prometheus scraping.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	rejected *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsReg  *Metrics
)

// NewMetrics returns the process-wide metrics registry.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()
		m := &Metrics{
			registry: registry,
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vendord",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vendord",
				Subsystem: "http",
				Name:      "rejections_total",
				Help:      "Requests rejected before reaching the engine, by reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vendord",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		registry.MustRegister(m.requests, m.rejected, m.latency)
		metricsReg = m
	})
	return metricsReg
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records one handled request.
func (m *Metrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Reject counts a request turned away before the engine saw it.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}
