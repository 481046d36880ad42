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
	// Queue metrics
	QueueSize       prometheus.Gauge
	QueueEligible   prometheus.Gauge
	PlansDowngraded *prometheus.CounterVec
	PlansDropped    prometheus.Counter

	// Scheduler metrics
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	CyclesSkipped   prometheus.Counter
	CyclesCoalesced prometheus.Counter

	// Refresh metrics
	StreamEvents      *prometheus.CounterVec
	RefreshEmits      *prometheus.CounterVec
	RefreshKeys       *prometheus.CounterVec
	RefreshSuppressed *prometheus.CounterVec
	Rescores          *prometheus.CounterVec

	// Presubmit metrics
	PresubmitBuilds    *prometheus.CounterVec
	PresubmitCacheHits *prometheus.CounterVec
	PresubmitEvicted   prometheus.Counter
	TransactionBytes   prometheus.Histogram

	// Broadcast metrics
	BroadcastAttempts     *prometheus.CounterVec
	BroadcastDuration     prometheus.Histogram
	LiquidationsConfirmed prometheus.Counter

	// Solana metrics
	RPCCallLatency *prometheus.HistogramVec
	WSReconnects   prometheus.Counter
	WatchSetSize   prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_liquidator"
	}

	return &Metrics{
		// Queue metrics
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "plans",
			Help:      "Current number of plans in the queue",
		}),
		QueueEligible: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "eligible_plans",
			Help:      "Current number of liquidation-eligible plans",
		}),
		PlansDowngraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "plans_downgraded_total",
			Help:      "Total number of plans downgraded by expiry reason",
		}, []string{"reason"}),
		PlansDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "plans_dropped_total",
			Help:      "Total number of plans removed from the queue",
		}),

		// Scheduler metrics
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of scheduler cycles by trigger and status",
		}, []string{"trigger", "status"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Scheduler cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"trigger"}),
		CyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_skipped_total",
			Help:      "Total number of cycle requests skipped by the concurrency guard",
		}),
		CyclesCoalesced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_coalesced_total",
			Help:      "Total number of cycle requests merged into a pending follow-up",
		}),

		// Refresh metrics
		StreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "stream_events_total",
			Help:      "Total number of inbound stream events by stream",
		}, []string{"stream"}),
		RefreshEmits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "emits_total",
			Help:      "Total number of refresh emissions by trigger",
		}, []string{"trigger"}),
		RefreshKeys: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "keys_emitted_total",
			Help:      "Total number of obligation keys emitted for refresh",
		}, []string{"trigger"}),
		RefreshSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "suppressed_total",
			Help:      "Total number of refresh requests suppressed by the throttle",
		}, []string{"trigger"}),
		Rescores: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "rescores_total",
			Help:      "Total number of plan rescores by status",
		}, []string{"status"}),

		// Presubmit metrics
		PresubmitBuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presubmit",
			Name:      "builds_total",
			Help:      "Total number of presubmit builds by profile and status",
		}, []string{"profile", "status"}),
		PresubmitCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presubmit",
			Name:      "cache_hits_total",
			Help:      "Total number of presubmit cache hits by freshness",
		}, []string{"freshness"}),
		PresubmitEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presubmit",
			Name:      "evicted_total",
			Help:      "Total number of cache entries evicted by the blockhash sweep",
		}),
		TransactionBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "presubmit",
			Name:      "transaction_bytes",
			Help:      "Serialized transaction size in bytes",
			Buckets:   []float64{400, 600, 800, 1000, 1100, 1200, 1232},
		}),

		// Broadcast metrics
		BroadcastAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "attempts_total",
			Help:      "Total number of broadcast attempts by outcome",
		}, []string{"outcome"}),
		BroadcastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "attempt_duration_seconds",
			Help:      "Send plus confirmation wait per attempt in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		LiquidationsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "liquidations_confirmed_total",
			Help:      "Total number of confirmed liquidation transactions",
		}),

		// Solana metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),
		WatchSetSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "watch_set_size",
			Help:      "Current number of subscribed accounts",
		}),

		// Database metrics
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

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last cycle that finished cleanly",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// SetQueueSize updates the queue gauges.
func SetQueueSize(total, eligible int) {
	DefaultMetrics.QueueSize.Set(float64(total))
	DefaultMetrics.QueueEligible.Set(float64(eligible))
}

// RecordDowngrade increments the downgrade counter for a reason.
func RecordDowngrade(reason string) {
	DefaultMetrics.PlansDowngraded.WithLabelValues(reason).Inc()
}

// RecordPlanDropped increments the dropped plans counter.
func RecordPlanDropped() {
	DefaultMetrics.PlansDropped.Inc()
}

// RecordCycle records one finished scheduler cycle.
func RecordCycle(trigger, status string, durationSeconds float64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(trigger, status).Inc()
	DefaultMetrics.CycleDuration.WithLabelValues(trigger).Observe(durationSeconds)
}

// RecordCycleSkipped increments the concurrency-guard skip counter.
func RecordCycleSkipped() {
	DefaultMetrics.CyclesSkipped.Inc()
}

// RecordCycleCoalesced increments the debounce coalesce counter.
func RecordCycleCoalesced() {
	DefaultMetrics.CyclesCoalesced.Inc()
}

// RecordStreamEvent counts one inbound stream event.
func RecordStreamEvent(stream string) {
	DefaultMetrics.StreamEvents.WithLabelValues(stream).Inc()
}

// RecordRefreshEmit counts one refresh emission and its key fan-out.
func RecordRefreshEmit(trigger string, keys int) {
	DefaultMetrics.RefreshEmits.WithLabelValues(trigger).Inc()
	DefaultMetrics.RefreshKeys.WithLabelValues(trigger).Add(float64(keys))
}

// RecordRefreshSuppressed counts a throttled refresh request.
func RecordRefreshSuppressed(trigger string) {
	DefaultMetrics.RefreshSuppressed.WithLabelValues(trigger).Inc()
}

// RecordRescore counts one plan rescore.
func RecordRescore(status string) {
	DefaultMetrics.Rescores.WithLabelValues(status).Inc()
}

// RecordPresubmitBuild counts one presubmit build attempt.
func RecordPresubmitBuild(profile, status string) {
	DefaultMetrics.PresubmitBuilds.WithLabelValues(profile, status).Inc()
}

// RecordPresubmitCacheHit counts a cache hit ("fresh" or "stale").
func RecordPresubmitCacheHit(freshness string) {
	DefaultMetrics.PresubmitCacheHits.WithLabelValues(freshness).Inc()
}

// RecordPresubmitEvicted counts entries removed by the blockhash sweep.
func RecordPresubmitEvicted(n int) {
	DefaultMetrics.PresubmitEvicted.Add(float64(n))
}

// RecordTransactionBytes observes a serialized transaction size.
func RecordTransactionBytes(n int) {
	DefaultMetrics.TransactionBytes.Observe(float64(n))
}

// RecordBroadcastAttempt records one attempt; outcome is "confirmed" or a
// failure kind.
func RecordBroadcastAttempt(outcome string, durationSeconds float64) {
	DefaultMetrics.BroadcastAttempts.WithLabelValues(outcome).Inc()
	DefaultMetrics.BroadcastDuration.Observe(durationSeconds)
}

// RecordLiquidationConfirmed counts one confirmed liquidation.
func RecordLiquidationConfirmed() {
	DefaultMetrics.LiquidationsConfirmed.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordWSReconnect increments the reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// SetWatchSetSize updates the subscription gauge.
func SetWatchSetSize(n int) {
	DefaultMetrics.WatchSetSize.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkCycleSuccess stamps the health gauge.
func MarkCycleSuccess(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulCycle.Set(unixSeconds)
}
