// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ideacapture"

type Metrics struct {
	registry *prometheus.Registry

	webhookEvents   *prometheus.CounterVec
	webhookDuration prometheus.Histogram
	quotaDenials    *prometheus.CounterVec
	writeFailures   *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),

		webhookDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Billing webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		quotaDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Actions denied by the quota gate.",
		}, []string{"action"}),

		writeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_write_failures_total",
			Help:      "Failed subscription snapshot writes by source.",
		}, []string{"source"}),
	}
}

func (m *Metrics) WebhookEvent(kind, outcome string) {
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveWebhook(d time.Duration) {
	m.webhookDuration.Observe(d.Seconds())
}

func (m *Metrics) QuotaDenied(action string) {
	m.quotaDenials.WithLabelValues(action).Inc()
}

// SnapshotWriteFailed counts a swallowed write failure; source is
// "webhook" or "counter".
func (m *Metrics) SnapshotWriteFailed(source string) {
	m.writeFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
