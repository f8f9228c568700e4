// Package metrics exposes prometheus collectors for refresh and deployment
// outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	RefreshTotal    *prometheus.CounterVec
	CardsCreated    prometheus.Counter
	CardsUpdated    prometheus.Counter
	Deployments     *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racebrief_refresh_total",
			Help: "Refresh operations by result (success, unchanged, needs_reauth, error).",
		}, []string{"result"}),
		CardsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racebrief_cards_created_total",
			Help: "Cards created on the platform.",
		}),
		CardsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racebrief_cards_updated_total",
			Help: "In-place card updates.",
		}),
		Deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racebrief_deployments_total",
			Help: "Per-device deployment attempts by result (ok, failed).",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "racebrief_refresh_duration_seconds",
			Help:    "End-to-end refresh duration.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	reg.MustRegister(
		m.RefreshTotal, m.CardsCreated, m.CardsUpdated,
		m.Deployments, m.RefreshDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
