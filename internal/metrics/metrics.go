// Package metrics exposes the engine's prometheus instruments. Everything is
// registered on the default registry and served at /metrics by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickDuration observes one full evaluator pass over all tickers.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripledash",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one signal evaluation tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// QuoteFailures counts quote fetches that ended in skip-and-retry.
	QuoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripledash",
		Name:      "quote_failures_total",
		Help:      "Quote fetches that returned no usable price.",
	}, []string{"ticker"})

	// StepsLatched counts step transitions written to the store.
	StepsLatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripledash",
		Name:      "steps_latched_total",
		Help:      "Signal step latches by ticker, kind and step.",
	}, []string{"ticker", "kind", "step"})

	// SMSSent counts alert deliveries by outcome.
	SMSSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripledash",
		Name:      "sms_sent_total",
		Help:      "SMS alert attempts by ticker and status.",
	}, []string{"ticker", "status"})

	// StoreErrors counts repository write failures during evaluation.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripledash",
		Name:      "store_errors_total",
		Help:      "Repository errors observed by the evaluator.",
	}, []string{"ticker"})

	// EngineUp is 1 while the engine process holds the run lock.
	EngineUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripledash",
		Name:      "engine_up",
		Help:      "Whether the signal engine is running.",
	})
)
