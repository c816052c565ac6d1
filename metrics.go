package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the purchase workflow.
type Metrics struct {
	registry *prometheus.Registry

	Cycles         *prometheus.CounterVec
	Purchases      prometheus.Counter
	HardResets     prometheus.Counter
	Classification *prometheus.CounterVec
	MatchedStock   prometheus.Gauge
	CycleDuration  prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_cycles_total",
				Help: "Purchase cycles by result",
			},
			[]string{"result"},
		),
		Purchases: factory.NewCounter(prometheus.CounterOpts{
			Name: "restock_purchases_total",
			Help: "Orders completed (including dry-run checkouts)",
		}),
		HardResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "restock_hard_resets_total",
			Help: "Browser sessions discarded and recreated",
		}),
		Classification: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_sign_in_classifications_total",
				Help: "Sign-in attempts by page classification",
			},
			[]string{"status"},
		),
		MatchedStock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "restock_matched_variants",
			Help: "In-stock variants matching the filter on the last scan",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "restock_cycle_duration_seconds",
			Help:    "Wall time of one purchase cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the listener fails. It is meant to
// run on its own goroutine.
func (m *Metrics) Serve(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics listener stopped", zap.Error(err))
	}
}
