package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ForestMetrics tracks forest construction and prediction. A nil
// *ForestMetrics is valid and records nothing.
type ForestMetrics struct {
	treesGrown   prometheus.Counter
	treesRetried prometheus.Counter
	treesDropped prometheus.Counter
	buildSeconds prometheus.Histogram
	predictions  prometheus.Counter
}

// NewForestMetrics creates the collectors and registers them with reg.
func NewForestMetrics(reg prometheus.Registerer) *ForestMetrics {
	m := &ForestMetrics{
		treesGrown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalforest",
			Name:      "trees_grown_total",
			Help:      "Causal trees successfully grown.",
		}),
		treesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalforest",
			Name:      "trees_retried_total",
			Help:      "Tree slots regrown on a fresh subsample after an estimation failure.",
		}),
		treesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalforest",
			Name:      "trees_dropped_total",
			Help:      "Tree slots dropped after the retry also failed.",
		}),
		buildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "causalforest",
			Name:      "build_duration_seconds",
			Help:      "Wall time of complete forest builds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "causalforest",
			Name:      "predicted_rows_total",
			Help:      "Query rows scored by fitted forests.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.treesGrown, m.treesRetried, m.treesDropped, m.buildSeconds, m.predictions)
	}
	return m
}

// RecordBuild records the outcome of one forest build.
func (m *ForestMetrics) RecordBuild(grown, retried, dropped int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.treesGrown.Add(float64(grown))
	m.treesRetried.Add(float64(retried))
	m.treesDropped.Add(float64(dropped))
	m.buildSeconds.Observe(elapsed.Seconds())
}

// RecordPredictions counts scored query rows.
func (m *ForestMetrics) RecordPredictions(rows int) {
	if m == nil {
		return
	}
	m.predictions.Add(float64(rows))
}
