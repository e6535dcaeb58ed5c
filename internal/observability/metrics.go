// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Supply update metrics
	OperationsTotal  *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	PriceConflicts   prometheus.Counter
	QuotedPrice      *prometheus.GaugeVec
	TotalSupply      *prometheus.GaugeVec

	// Ledger metrics
	LedgerCallLatency  *prometheus.HistogramVec
	LedgerCallErrors   *prometheus.CounterVec
	SupplyQueryRetries prometheus.Counter

	// Event feed metrics
	TransitionsRecorded *prometheus.CounterVec
	StreamSubscribers   prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulUpdate prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "model_token_engine"
	}

	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "operations_total",
			Help:      "Total number of mint/burn operations by outcome",
		}, []string{"kind", "intent", "status"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "stage_failures_total",
			Help:      "Total number of failed operations by failing stage",
		}, []string{"stage", "kind"}),
		PipelineDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end mint/burn pipeline duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),
		PriceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "price_conflicts_total",
			Help:      "Total number of price writes retried after a version conflict",
		}),
		QuotedPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "quoted_price",
			Help:      "Last persisted quoted price per model (APT per token)",
		}, []string{"model_id"}),
		TotalSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "total_supply",
			Help:      "Last measured total supply per model (human units)",
		}, []string{"model_id"}),

		LedgerCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aptos",
			Name:      "call_latency_seconds",
			Help:      "Ledger call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call"}),
		LedgerCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aptos",
			Name:      "call_errors_total",
			Help:      "Total number of failed ledger calls",
		}, []string{"call"}),
		SupplyQueryRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aptos",
			Name:      "supply_query_retries_total",
			Help:      "Total number of retried indexer supply queries",
		}),

		TransitionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "transitions_total",
			Help:      "Total number of recorded state transitions",
		}, []string{"stage", "status"}),
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "stream_subscribers",
			Help:      "Current number of live event stream subscribers",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulUpdate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_update_timestamp",
			Help:      "Unix timestamp of last completed price update",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records the outcome of one mint/burn pipeline.
func RecordOperation(kind, intent, status string, durationSeconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(kind, intent, status).Inc()
	DefaultMetrics.PipelineDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordStageFailure records a pipeline failure at the given stage.
func RecordStageFailure(stage, kind string) {
	DefaultMetrics.StageFailures.WithLabelValues(stage, kind).Inc()
}

// RecordPriceConflict records a retried price write.
func RecordPriceConflict() {
	DefaultMetrics.PriceConflicts.Inc()
}

// RecordPrice updates the quoted price and supply gauges of a model.
func RecordPrice(modelID string, price, supply float64, unixSeconds int64) {
	DefaultMetrics.QuotedPrice.WithLabelValues(modelID).Set(price)
	DefaultMetrics.TotalSupply.WithLabelValues(modelID).Set(supply)
	DefaultMetrics.LastSuccessfulUpdate.Set(float64(unixSeconds))
}

// RecordLedgerCall records ledger call latency and failures.
func RecordLedgerCall(call string, seconds float64, err error) {
	DefaultMetrics.LedgerCallLatency.WithLabelValues(call).Observe(seconds)
	if err != nil {
		DefaultMetrics.LedgerCallErrors.WithLabelValues(call).Inc()
	}
}

// RecordSupplyRetry increments the supply query retry counter.
func RecordSupplyRetry() {
	DefaultMetrics.SupplyQueryRetries.Inc()
}

// RecordTransition counts a recorded state transition.
func RecordTransition(stage, status string) {
	DefaultMetrics.TransitionsRecorded.WithLabelValues(stage, status).Inc()
}

// SetStreamSubscribers sets the live subscriber gauge.
func SetStreamSubscribers(n int) {
	DefaultMetrics.StreamSubscribers.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
