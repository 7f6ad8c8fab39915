// Package metrics provides Prometheus metrics for the data product hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the hub's Prometheus metrics.
type Collector struct {
	QueriesTotal   *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	FiltersDropped *prometheus.CounterVec

	ProductsLoaded prometheus.Gauge
	Reloads        prometheus.Counter
	ReloadErrors   prometheus.Counter
}

// New creates a collector registered on reg, or on the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Collector{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dphub",
				Name:      "queries_total",
				Help:      "Total entity queries served, by product and outcome",
			},
			[]string{"product", "status"},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dphub",
				Name:      "query_duration_seconds",
				Help:      "Entity query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"product"},
		),
		FiltersDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dphub",
				Name:      "filters_dropped_total",
				Help:      "Queries whose $filter failed to execute and was dropped",
			},
			[]string{"product"},
		),
		ProductsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dphub",
				Name:      "products_loaded",
				Help:      "Data products in the current registry generation",
			},
		),
		Reloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dphub",
				Name:      "config_reloads_total",
				Help:      "Completed configuration reloads",
			},
		),
		ReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dphub",
				Name:      "config_reload_errors_total",
				Help:      "Configuration reloads that failed",
			},
		),
	}
}
