package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signal processing metrics
	SignalsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_signals_generated_total",
			Help: "Total number of signals generated by processors",
		},
		[]string{"type"}, // mempool, exchange, miner, whale, predictive
	)

	SignalAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_signal_anomalies_total",
			Help: "Total number of signals flagged as anomalous",
		},
		[]string{"type", "anomaly_type"},
	)

	// Polling metrics
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_poll_cycles_total",
			Help: "Total number of poll cycles executed",
		},
		[]string{"status"}, // success, error, empty
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainpulse_poll_cycle_duration_seconds",
			Help:    "Duration of a full poll cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SignalsMarkedProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_signals_marked_processed_total",
			Help: "Total number of signals marked processed",
		},
		[]string{"outcome"}, // marked, already_marked, error
	)

	UnprocessedSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpulse_unprocessed_signals",
			Help: "Number of signals awaiting processing",
		},
	)

	StaleSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpulse_stale_signals",
			Help: "Number of signals unprocessed longer than the stale age threshold",
		},
	)

	// Insight generation metrics
	InsightsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_insights_generated_total",
			Help: "Total number of insights generated",
		},
		[]string{"signal_type", "confidence_level"},
	)

	InsightsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_insights_suppressed_total",
			Help: "Total number of insights suppressed before publication",
		},
		[]string{"reason"}, // low_confidence, anomaly, quiet_mode, duplicate
	)

	InsightGenerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_insight_generation_errors_total",
			Help: "Total number of insight generation failures",
		},
		[]string{"stage"}, // template, provider, persistence
	)

	// Text generation provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_provider_requests_total",
			Help: "Total number of text generation provider requests",
		},
		[]string{"provider", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpulse_provider_request_duration_seconds",
			Help:    "Duration of text generation provider requests",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// Chain API metrics
	ChainAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_chain_api_requests_total",
			Help: "Total number of chain data API requests",
		},
		[]string{"endpoint", "status"},
	)

	ChainAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpulse_chain_api_request_duration_seconds",
			Help:    "Duration of chain data API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpulse_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Backfill metrics
	BackfillBlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpulse_backfill_blocks_processed_total",
			Help: "Total number of blocks processed by historical backfill",
		},
	)

	BackfillErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpulse_backfill_errors_total",
			Help: "Total number of per-block backfill errors",
		},
	)

	// Confidence score distribution
	ConfidenceScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainpulse_confidence_scores",
			Help:    "Distribution of computed confidence scores",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .75, .8, .85, .9, .95, 1},
		},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"},
	)
)

// RecordPollCycle records poll cycle metrics
func RecordPollCycle(duration time.Duration, status string) {
	PollCycles.WithLabelValues(status).Inc()
	PollCycleDuration.Observe(duration.Seconds())
}

// RecordProviderRequest records text generation provider metrics
func RecordProviderRequest(provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProviderRequests.WithLabelValues(provider, status).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordChainAPIRequest records chain API request metrics
func RecordChainAPIRequest(endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ChainAPIRequests.WithLabelValues(endpoint, status).Inc()
	ChainAPIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
