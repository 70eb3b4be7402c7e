// Package observability holds the Prometheus metrics shared across the query,
// pre-calculation, warming and research paths.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// QueriesTotal counts single-shot questions by serving path (precalc, llm, cache) and status.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_queries_total",
			Help: "Total number of natural-language queries answered",
		},
		[]string{"path", "status"},
	)

	// PreCalcMatchesTotal counts decomposer verdicts.
	PreCalcMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_precalc_matches_total",
			Help: "Pre-calculation match verdicts by match type",
		},
		[]string{"match_type"},
	)

	// WarehouseQueryDuration measures warehouse round trips.
	WarehouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_warehouse_query_duration_seconds",
			Help:    "Warehouse query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"status"},
	)

	// CacheWarmQueriesTotal counts warmed queries by result (success, failed, already_cached).
	CacheWarmQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_cache_warm_queries_total",
			Help: "Queries processed by the cache warmer",
		},
		[]string{"result"},
	)

	ResearchStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_research_steps_total",
			Help: "Research steps finished by step type and terminal status",
		},
		[]string{"step_type", "status"},
	)

	// KnowledgeFallbacksTotal counts knowledge lookups served from keyword tables.
	KnowledgeFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_knowledge_fallbacks_total",
			Help: "Knowledge lookups that fell back to keyword tables",
		},
		[]string{"operation"},
	)

	PreCalcRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_precalc_records_total",
			Help: "Pre-calculated metric values written or failed",
		},
		[]string{"metric", "status"},
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_llm_tokens_total",
			Help: "Tokens consumed by SQL generation and result description",
		},
		[]string{"provider", "kind"},
	)
)

// RecordLLMUsage adds one completion's token counts.
func RecordLLMUsage(provider string, promptTokens, completionTokens int) {
	LLMTokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	LLMTokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

// ObserveWarehouseQuery records a warehouse call's duration.
func ObserveWarehouseQuery(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	WarehouseQueryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
