package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_http_requests_total",
			Help: "HTTP requests by method, matched route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_http_request_duration_seconds",
			Help:    "HTTP request latency by matched route. Streaming turns dominate the upper buckets.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_turns_total",
			Help: "Conversation turns by classified intent and terminal outcome.",
		},
		[]string{"intent", "outcome"},
	)
	turnLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_turn_latency_seconds",
			Help:    "End-to-end latency of a conversation turn.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)
	validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_sql_validation_failures_total",
			Help: "Candidate queries rejected by EXPLAIN validation, by attempt.",
		},
		[]string{"attempt"},
	)
	repairAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_sql_repair_attempts_total",
			Help: "Repair attempts by result.",
		},
		[]string{"result"},
	)
	retrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_retrieval_matches",
			Help:    "Number of schema chunks returned per retrieval.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13},
		},
	)
	reindexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_reindex_runs_total",
			Help: "Schema reindex runs by result (indexed or skipped).",
		},
		[]string{"result"},
	)
	discoveryCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_discovery_cache_total",
			Help: "Discovery cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)
	llmCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_llm_call_seconds",
			Help:    "Language model call latency by operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		turnsTotal,
		turnLatencySeconds,
		validationFailuresTotal,
		repairAttemptsTotal,
		retrievalMatches,
		reindexRunsTotal,
		discoveryCacheTotal,
		llmCallSeconds,
	)
}

func ObserveTurn(intent, outcome string, elapsed time.Duration) {
	if intent == "" {
		intent = "none"
	}
	turnsTotal.WithLabelValues(intent, outcome).Inc()
	turnLatencySeconds.Observe(elapsed.Seconds())
}

func IncrementValidationFailure(attempt string) {
	validationFailuresTotal.WithLabelValues(attempt).Inc()
}

func IncrementRepairAttempt(result string) {
	repairAttemptsTotal.WithLabelValues(result).Inc()
}

func ObserveRetrieval(matches int) {
	if matches < 0 {
		matches = 0
	}
	retrievalMatches.Observe(float64(matches))
}

func IncrementReindex(skipped bool) {
	result := "indexed"
	if skipped {
		result = "skipped"
	}
	reindexRunsTotal.WithLabelValues(result).Inc()
}

func IncrementDiscoveryCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	discoveryCacheTotal.WithLabelValues(result).Inc()
}

func ObserveLLMCall(operation string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmCallSeconds.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}
