// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Collection metrics
	SnapshotsCollected *prometheus.CounterVec
	BackfillDates      *prometheus.CounterVec

	// Processing metrics
	SnapshotsProcessed  *prometheus.CounterVec
	AvailableDivergence prometheus.Counter
	BorrowedExceeds     prometheus.Counter

	// Cache metrics
	CacheResults *prometheus.CounterVec
	CacheRetries prometheus.Counter

	// Upstream metrics
	UpstreamLatency        *prometheus.HistogramVec
	UpstreamErrors         *prometheus.CounterVec
	BlockResolutionLatency *prometheus.HistogramVec

	// Reconciliation metrics
	ReconciliationChecks *prometheus.CounterVec
	UnreliableMarkets    prometheus.Gauge

	// Sync metrics
	SyncRunsTotal *prometheus.CounterVec
	SyncDuration  prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSync prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lendpilot"
	}

	return &Metrics{
		SnapshotsCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "snapshots_collected_total",
			Help:      "Raw market snapshots collected by source and status",
		}, []string{"source", "status"}),
		BackfillDates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "backfill_dates_total",
			Help:      "Historical backfill dates by outcome",
		}, []string{"market", "outcome"}),

		SnapshotsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "snapshots_processed_total",
			Help:      "Raw snapshots processed into asset snapshots by status",
		}, []string{"status"}),
		AvailableDivergence: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "available_divergence_total",
			Help:      "Market points whose summed available liquidity diverged from supplied minus borrowed",
		}),
		BorrowedExceeds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "borrowed_exceeds_supplied_total",
			Help:      "Asset snapshots whose borrowed amount exceeds supplied beyond rounding tolerance",
		}),

		CacheResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "results_total",
			Help:      "Cache lookups by result (hit, miss, stale, error)",
		}, []string{"result"}),
		CacheRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "retries_total",
			Help:      "Retried upstream fetches",
		}),

		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_latency_seconds",
			Help:      "Upstream call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream", "operation"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Upstream call errors",
		}, []string{"upstream", "operation"}),
		BlockResolutionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "block_resolution_seconds",
			Help:      "Timestamp to block resolution latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),

		ReconciliationChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "checks_total",
			Help:      "Reconciliation checks by verdict",
		}, []string{"market", "verdict"}),
		UnreliableMarkets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "unreliable_markets",
			Help:      "Number of markets flagged unreliable",
		}),

		SyncRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by status",
		}, []string{"status"}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Sync run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
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

		LastSuccessfulSync: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of last successful sync run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSnapshotCollected records one raw snapshot collection attempt.
func RecordSnapshotCollected(source string, err error) {
	DefaultMetrics.SnapshotsCollected.WithLabelValues(source, statusOf(err)).Inc()
}

// RecordBackfill records backfill outcomes for a market.
func RecordBackfill(market string, collected, skipped, failed int) {
	DefaultMetrics.BackfillDates.WithLabelValues(market, "collected").Add(float64(collected))
	DefaultMetrics.BackfillDates.WithLabelValues(market, "skipped").Add(float64(skipped))
	DefaultMetrics.BackfillDates.WithLabelValues(market, "failed").Add(float64(failed))
}

// RecordSnapshotProcessed records the outcome of processing one raw snapshot.
func RecordSnapshotProcessed(err error) {
	DefaultMetrics.SnapshotsProcessed.WithLabelValues(statusOf(err)).Inc()
}

// RecordAvailableDivergence counts a market point whose available totals disagree.
func RecordAvailableDivergence() {
	DefaultMetrics.AvailableDivergence.Inc()
}

// RecordBorrowedExceeds counts an asset snapshot with borrowed above supplied.
func RecordBorrowedExceeds() {
	DefaultMetrics.BorrowedExceeds.Inc()
}

// RecordCacheResult records a cache lookup result.
func RecordCacheResult(result string) {
	DefaultMetrics.CacheResults.WithLabelValues(result).Inc()
}

// RecordCacheRetry counts a retried upstream fetch.
func RecordCacheRetry() {
	DefaultMetrics.CacheRetries.Inc()
}

// RecordUpstreamCall records upstream call latency and errors.
func RecordUpstreamCall(upstream, operation string, d time.Duration, err error) {
	DefaultMetrics.UpstreamLatency.WithLabelValues(upstream, operation).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.UpstreamErrors.WithLabelValues(upstream, operation).Inc()
	}
}

// RecordBlockResolution records a timestamp to block resolution.
func RecordBlockResolution(d time.Duration, err error) {
	DefaultMetrics.BlockResolutionLatency.WithLabelValues(statusOf(err)).Observe(d.Seconds())
}

// RecordReconciliation records a reconciliation verdict for a market.
func RecordReconciliation(market string, reliable bool) {
	verdict := "reliable"
	if !reliable {
		verdict = "unreliable"
	}
	DefaultMetrics.ReconciliationChecks.WithLabelValues(market, verdict).Inc()
}

// SetUnreliableMarkets updates the unreliable market gauge.
func SetUnreliableMarkets(n int) {
	DefaultMetrics.UnreliableMarkets.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordSyncRun records a sync run.
func RecordSyncRun(status string, d time.Duration) {
	DefaultMetrics.SyncRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.SyncDuration.Observe(d.Seconds())
	if status == "success" {
		DefaultMetrics.LastSuccessfulSync.SetToCurrentTime()
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
