// Package metrics exposes Prometheus instrumentation for the delivery
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	EmailsSentTotal       prometheus.Counter
	EmailsFailedTotal     *prometheus.CounterVec
	RetriesScheduledTotal prometheus.Counter
	RetryJobsClaimedTotal prometheus.Counter
	RetryQueueDepth       prometheus.Gauge

	WebhookEventsTotal     *prometheus.CounterVec
	WebhookDuplicatesTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_emails_sent_total",
				Help: "Total number of emails accepted by the provider",
			},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_emails_failed_total",
				Help: "Total number of failed send attempts",
			},
			[]string{"kind"},
		),
		RetriesScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_retries_scheduled_total",
				Help: "Total number of retry jobs enqueued",
			},
		),
		RetryJobsClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_retry_jobs_claimed_total",
				Help: "Total number of retry jobs claimed by workers",
			},
		),
		RetryQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courier_retry_queue_depth",
				Help: "Number of pending retry jobs",
			},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_webhook_events_total",
				Help: "Total number of provider webhook events received",
			},
			[]string{"type"},
		),
		WebhookDuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courier_webhook_duplicates_total",
				Help: "Total number of webhook events skipped as redeliveries",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.RetriesScheduledTotal,
		m.RetryJobsClaimedTotal,
		m.RetryQueueDepth,
		m.WebhookEventsTotal,
		m.WebhookDuplicatesTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
