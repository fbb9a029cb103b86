package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	SignalsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_signals_ingested_total",
			Help: "Signals processed by the pipeline, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	StageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_pipeline_stage_total",
			Help: "Stage executions by stage name and outcome (success, failed, skipped)",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_pipeline_stage_duration_seconds",
			Help:    "Stage execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_pipeline_stage_skipped_total",
			Help: "Best-effort stages skipped after failure, by stage and next action",
		},
		[]string{"stage", "next_action"},
	)

	// Graph sync metrics
	BacklogEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_graph_backlog_enqueued_total",
			Help: "Graph operations diverted to the backlog, by operation kind",
		},
		[]string{"operation"},
	)

	BacklogDrained = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_graph_backlog_drained_total",
			Help: "Backlog rows drained, by outcome (processed, failed)",
		},
		[]string{"outcome"},
	)

	BacklogDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_graph_backlog_depth",
			Help: "Pending rows in the graph sync backlog",
		},
	)

	RelationshipsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_relationships_dropped_total",
			Help: "Extracted relationships dropped before sync, by reason",
		},
		[]string{"reason"},
	)

	ConsistencyDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_graph_consistency_drift",
			Help: "Absolute signal-count difference between relational and graph stores",
		},
	)

	// Retry scheduler metrics
	RetryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_retry_total",
			Help: "Retry attempts by outcome (succeeded, failed, moved_to_dlq)",
		},
		[]string{"outcome"},
	)

	// Cost governor metrics
	CostRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_cost_usd_total",
			Help: "Accumulated AI spend in USD, by provider and operation",
		},
		[]string{"provider", "operation"},
	)

	CostFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_cost_flush_total",
			Help: "Cost buffer flushes by outcome (ok, failed)",
		},
		[]string{"outcome"},
	)

	CostBufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_cost_buffer_size",
			Help: "Cost records currently buffered in memory",
		},
	)

	BudgetChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_budget_checks_total",
			Help: "Budget checks by result (allowed, denied, failed_open, failed_closed)",
		},
		[]string{"result"},
	)

	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_budget_breaker_state",
			Help: "Budget-check circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsIngested,
		StageOutcomes,
		StageDuration,
		StageSkipped,
		BacklogEnqueued,
		BacklogDrained,
		BacklogDepth,
		RelationshipsDropped,
		ConsistencyDrift,
		RetryOutcomes,
		CostRecorded,
		CostFlushes,
		CostBufferSize,
		BudgetChecks,
		BreakerState,
	)
}

// Handler exposes the metrics endpoint for the ops scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}
