// Package metrics exposes Prometheus metrics for the presence daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry so tests
// can construct independent instances.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	FeedUpdatesTotal   *prometheus.CounterVec
	StatsWriteFailures prometheus.Counter
	StatsWriteSeconds  prometheus.Histogram
	RosterSize         prometheus.Gauge
	WSClients          prometheus.Gauge
	FeedDegraded       *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "friendradar_events_total",
				Help: "Semantic events emitted, by kind.",
			},
			[]string{"kind"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "friendradar_notifications_total",
				Help: "Events that passed the filter, by channel (notify, sound).",
			},
			[]string{"channel"},
		),
		FeedUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "friendradar_feed_updates_total",
				Help: "Feed updates processed, by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		StatsWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "friendradar_stats_write_failures_total",
				Help: "Durable stats writes that failed.",
			},
		),
		StatsWriteSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "friendradar_stats_write_seconds",
				Help:    "Durable stats write latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
		RosterSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "friendradar_roster_size",
				Help: "Contacts currently on the roster.",
			},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "friendradar_ws_clients",
				Help: "Connected WebSocket clients.",
			},
		),
		FeedDegraded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "friendradar_feed_degraded",
				Help: "1 when a feed source is degraded or failed, else 0.",
			},
			[]string{"source"},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.NotificationsTotal)
	reg.MustRegister(m.FeedUpdatesTotal)
	reg.MustRegister(m.StatsWriteFailures)
	reg.MustRegister(m.StatsWriteSeconds)
	reg.MustRegister(m.RosterSize)
	reg.MustRegister(m.WSClients)
	reg.MustRegister(m.FeedDegraded)

	return m
}

// Handler returns the http.Handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts an emitted semantic event.
func (m *Metrics) RecordEvent(kind string) {
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordNotification counts a delivered channel (notify or sound).
func (m *Metrics) RecordNotification(channel string) {
	m.NotificationsTotal.WithLabelValues(channel).Inc()
}

// RecordFeedUpdate counts a processed feed update.
func (m *Metrics) RecordFeedUpdate(source, outcome string) {
	m.FeedUpdatesTotal.WithLabelValues(source, outcome).Inc()
}

// SetFeedDegraded flags a source as degraded (true) or healthy (false).
func (m *Metrics) SetFeedDegraded(source string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	m.FeedDegraded.WithLabelValues(source).Set(v)
}
