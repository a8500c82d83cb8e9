// Package telemetry exposes Prometheus metrics for the hub.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the hub records into.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	RoutingDecisions     *prometheus.CounterVec
	OverridesTotal       *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
	CacheSavedUSD        prometheus.Counter
	CacheEntries         prometheus.Gauge
	CacheUtilization     prometheus.Gauge
	LedgerAppendFailures prometheus.Counter
	CostUSDTotal         *prometheus.CounterVec
}

// New creates the metric set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_requests_total",
			Help: "Requests handled, by model tier and outcome.",
		}, []string{"model", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalhub_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model"}),
		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_routing_decisions_total",
			Help: "Routing decisions, by selected tier and deciding rule.",
		}, []string{"model", "rule"}),
		OverridesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_overrides_total",
			Help: "Escalation overrides applied, by source.",
		}, []string{"source"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_cache_lookups_total",
			Help: "Semantic cache lookups, by result (hit or miss).",
		}, []string{"result"}),
		CacheSavedUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalhub_cache_saved_usd_total",
			Help: "Dollars saved by serving responses from the cache.",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalhub_cache_entries",
			Help: "Entries currently in the semantic cache.",
		}),
		CacheUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signalhub_cache_utilization_percent",
			Help: "Cache occupancy as a percentage of capacity.",
		}),
		LedgerAppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "signalhub_ledger_append_failures_total",
			Help: "Usage records that could not be written to the ledger.",
		}),
		CostUSDTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signalhub_cost_usd_total",
			Help: "Accumulated model spend, by tier.",
		}, []string{"model"}),
	}
}

// Handler returns the /metrics HTTP handler for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
