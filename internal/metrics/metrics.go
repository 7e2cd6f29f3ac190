// Package metrics exposes delivery counters for the /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the bridge's Prometheus collectors behind nil-safe helpers,
// so components can carry an optional *Metrics without guarding every call.
type Metrics struct {
	reg *prometheus.Registry

	outcomes   *prometheus.CounterVec
	queueDepth prometheus.Gauge
	intake     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		reg: reg,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qqbridge",
			Name:      "dispatch_outcomes_total",
			Help:      "Terminal dispatch outcomes by status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qqbridge",
			Name:      "dispatch_queue_depth",
			Help:      "Items currently waiting in the dispatch queue.",
		}),
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qqbridge",
			Name:      "intake_requests_total",
			Help:      "Inbound intake requests by HTTP status code.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.outcomes, m.queueDepth, m.intake)
	return m
}

func (m *Metrics) Outcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) IntakeRequest(code int) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
