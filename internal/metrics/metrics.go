// Package metrics holds the Prometheus collectors for the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	webhooks        *prometheus.CounterVec
	statEvents      *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartsavvy_webhooks_total",
				Help: "Webhook deliveries by vendor and outcome",
			},
			[]string{"vendor", "outcome"},
		),
		statEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartsavvy_stat_events_total",
				Help: "Link and playlist stat writes by kind",
			},
			[]string{"kind"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartsavvy_stats_store_errors_total",
				Help: "Counter store failures by operation",
			},
			[]string{"op"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.webhooks, m.statEvents, m.storeErrors, m.requests, m.requestDuration)
	return m
}

func (m *Metrics) Webhook(vendor, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(vendor, outcome).Inc()
}

func (m *Metrics) StatEvent(kind string) {
	if m == nil {
		return
	}
	m.statEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// ObserveRequest records one served request. route is the mux pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
