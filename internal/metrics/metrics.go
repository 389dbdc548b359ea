package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_ingests_total",
			Help: "Threat records ingested",
		},
		[]string{"severity"},
	)

	InteractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_interactions_total",
			Help: "Analyst interactions recorded",
		},
		[]string{"action"},
	)

	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_promotions_total",
			Help: "Records promoted between tiers",
		},
		[]string{"transition"},
	)

	ArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_memories_archived_total",
			Help: "Long-term memories archived by decay",
		},
	)

	SweepErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_sweep_errors_total",
			Help: "Per-record evaluation failures during sweeps",
		},
		[]string{"phase"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tm_sweep_duration_seconds",
			Help:    "Time spent in promotion and decay sweeps",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"phase"},
	)

	TierSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tm_tier_records",
			Help: "Records currently held per tier",
		},
		[]string{"tier"},
	)

	ResolveHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_resolve_hits_total",
			Help: "Resolve lookups by tier where the record was found",
		},
		[]string{"tier"},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tm_prediction_duration_seconds",
			Help:    "Time spent computing ensemble predictions",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	ScorerTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_scorer_timeouts_total",
			Help: "Predictive sub-scorers that missed the request deadline",
		},
		[]string{"scorer"},
	)

	ExportsAckedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_exports_acked_total",
			Help: "Long-term memories acknowledged by the export consumer",
		},
	)
)
