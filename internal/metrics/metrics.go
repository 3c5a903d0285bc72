// Package metrics exposes Prometheus instrumentation over request traffic
// already flowing through the proxy — it runs no independent probes.
package metrics

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the proxy's Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	BackendScore    *prometheus.GaugeVec
	registry        *prometheus.Registry
}

// New registers and returns a fresh collector set on its own registry, so
// multiple proxy instances in the same process (e.g. in tests) don't
// collide on the default global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total proxied requests by backend and outcome status.",
		}, []string{"backend", "status"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_backend_latency_ms",
			Help:    "Observed per-request latency to each backend, in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"backend"}),
		BackendScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_backend_score",
			Help: "Current adaptive score per backend (sma or ewma), in milliseconds.",
		}, []string{"backend", "metric"}),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal, m.BackendLatency, m.BackendScore)
	return m
}

// Observe records one completed request's outcome for backend.
func (m *Metrics) Observe(backend, status string, latencyMs float64) {
	m.RequestsTotal.WithLabelValues(backend, status).Inc()
	if latencyMs > 0 {
		m.BackendLatency.WithLabelValues(backend).Observe(latencyMs)
	}
}

// SetScore updates the gauge tracking a backend's current adaptive score.
// Infinite (unmeasured) scores are not published — Prometheus gauges have
// no meaningful representation for +Inf in a dashboard.
func (m *Metrics) SetScore(backend, metric string, value float64) {
	if value > 0 && !math.IsInf(value, 1) {
		m.BackendScore.WithLabelValues(backend, metric).Set(value)
	}
}

// Handler returns the HTTP handler serving this Metrics instance's
// collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
