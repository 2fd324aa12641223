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
	// Indexer metrics
	SweepsTotal          prometheus.Counter
	SweepAssetErrors     prometheus.Counter
	PositionDiffsEmitted prometheus.Counter
	SnapshotsRefreshed   prometheus.Counter
	StaleCacheServed     prometheus.Counter

	// Marketplace metrics
	ListingsCreated prometheus.Counter
	FillsTotal      *prometheus.CounterVec
	FillConflicts   prometheus.Counter

	// Settlement metrics
	WebhooksReceived  prometheus.Counter
	WebhooksReplayed  prometheus.Counter
	WebhooksRejected  *prometheus.CounterVec
	SettlementsTotal  *prometheus.CounterVec
	SettlementLatency prometheus.Histogram

	// Builder metrics
	TransactionsBuilt *prometheus.CounterVec

	// Ledger metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSweep prometheus.Gauge
	WSReconnects        prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "invoice_market"
	}

	return &Metrics{
		SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "sweeps_total",
			Help:      "Total number of full position sweeps started",
		}),
		SweepAssetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "sweep_asset_errors_total",
			Help:      "Total number of per-asset scan failures skipped during sweeps",
		}),
		PositionDiffsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "position_diffs_emitted_total",
			Help:      "Total number of position diff records written to history",
		}),
		SnapshotsRefreshed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "snapshots_refreshed_total",
			Help:      "Total number of position snapshots recomputed from the ledger",
		}),
		StaleCacheServed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "stale_cache_served_total",
			Help:      "Total number of position reads served from an expired snapshot",
		}),

		ListingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "listings_created_total",
			Help:      "Total number of listings created",
		}),
		FillsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "fills_total",
			Help:      "Total number of fill attempts by outcome",
		}, []string{"outcome"}),
		FillConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketplace",
			Name:      "fill_conflicts_total",
			Help:      "Total number of fills rejected by the conditional decrement",
		}),

		WebhooksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "webhooks_received_total",
			Help:      "Total number of webhook deliveries received",
		}),
		WebhooksReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "webhooks_replayed_total",
			Help:      "Total number of idempotent webhook replays short-circuited",
		}),
		WebhooksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "webhooks_rejected_total",
			Help:      "Total number of webhook deliveries rejected by reason",
		}, []string{"reason"}),
		SettlementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "settlements_total",
			Help:      "Total number of settlement executions by status",
		}, []string{"status"}),
		SettlementLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "settlement_duration_seconds",
			Help:      "End-to-end settlement execution latency",
			Buckets:   prometheus.DefBuckets,
		}),

		TransactionsBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "transactions_built_total",
			Help:      "Total number of unsigned transactions built by operation",
		}, []string{"operation"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_duration_seconds",
			Help:      "Duration of ledger RPC calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed ledger RPC calls",
		}, []string{"method"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of failed database queries",
		}, []string{"database", "operation"}),

		LastSuccessfulSweep: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of the last fully successful position sweep",
		}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "ws_reconnects_total",
			Help:      "Total number of ledger WebSocket reconnects",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSweep marks the start of a full position sweep.
func RecordSweep() {
	DefaultMetrics.SweepsTotal.Inc()
}

// RecordSweepAssetError records a per-asset scan failure skipped this cycle.
func RecordSweepAssetError() {
	DefaultMetrics.SweepAssetErrors.Inc()
}

// RecordSnapshotRefresh records a recomputed snapshot and its emitted diffs.
func RecordSnapshotRefresh(diffs int) {
	DefaultMetrics.SnapshotsRefreshed.Inc()
	DefaultMetrics.PositionDiffsEmitted.Add(float64(diffs))
}

// RecordStaleServe records a position read answered from an expired snapshot.
func RecordStaleServe() {
	DefaultMetrics.StaleCacheServed.Inc()
}

// RecordListingCreated increments the listings created counter.
func RecordListingCreated() {
	DefaultMetrics.ListingsCreated.Inc()
}

// RecordFill records a fill attempt outcome.
func RecordFill(outcome string) {
	DefaultMetrics.FillsTotal.WithLabelValues(outcome).Inc()
	if outcome == "conflict" {
		DefaultMetrics.FillConflicts.Inc()
	}
}

// RecordWebhookReceived increments the webhooks received counter.
func RecordWebhookReceived() {
	DefaultMetrics.WebhooksReceived.Inc()
}

// RecordWebhookReplayed increments the idempotent replay counter.
func RecordWebhookReplayed() {
	DefaultMetrics.WebhooksReplayed.Inc()
}

// RecordWebhookRejected records a rejected delivery by reason.
func RecordWebhookRejected(reason string) {
	DefaultMetrics.WebhooksRejected.WithLabelValues(reason).Inc()
}

// RecordSettlement records a settlement execution.
func RecordSettlement(status string, seconds float64) {
	DefaultMetrics.SettlementsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.SettlementLatency.Observe(seconds)
}

// RecordTransactionBuilt records a built unsigned transaction by operation.
func RecordTransactionBuilt(operation string) {
	DefaultMetrics.TransactionsBuilt.WithLabelValues(operation).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
