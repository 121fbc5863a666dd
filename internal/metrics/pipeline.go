package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Query resolution and resilience metrics.
var (
	PipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Resolved queries by outcome, decline reason and last state reached",
		},
		[]string{"outcome", "reason", "state"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end query resolution duration",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Per-stage duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		},
		[]string{"stage"},
	)

	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retries of upstream calls",
		},
		[]string{"upstream"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"upstream"},
	)

	CatalogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_records",
			Help:      "Records in the active catalog generation",
		},
		[]string{"generation"},
	)
)

var registerOnce sync.Once

// Register registers the domain metrics with the default registry.
// Must be called once from main; repeated calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingCacheTotal,
			BudgetTokensRemaining,
			BudgetRejectionsTotal,
			LLMRequestsTotal,
			LLMRequestDuration,
			LLMTokensTotal,
			PipelineOutcomesTotal,
			PipelineDuration,
			StageDuration,
			UpstreamRetriesTotal,
			BreakerState,
			CatalogSize,
		)
	})
}
