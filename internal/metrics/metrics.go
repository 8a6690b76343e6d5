// Package metrics provides Prometheus instrumentation for the mission
// engine: ambient HTTP/DB/runtime gauges plus counters for the
// lifecycle transitions, settlement outcomes, and background workers
// (C8-C10) that matter operationally.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "missionengine"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- Mission lifecycle (C8) ---

	// MissionTransitionsTotal counts mission status transitions by the
	// resulting status, e.g. "assigned", "settled", "failed".
	MissionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mission_transitions_total",
			Help:      "Total mission lifecycle transitions by resulting status.",
		},
		[]string{"status"},
	)

	// MissionFailuresTotal counts missions reaching StatusFailed by reason.
	MissionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mission_failures_total",
			Help:      "Total missions that failed, by failure reason.",
		},
		[]string{"reason"},
	)

	// MissionRevisionsTotal counts verifying->executing Revise transitions.
	MissionRevisionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mission_revisions_total",
		Help:      "Total mission revision cycles triggered by requester feedback.",
	})

	// --- Settlement (C7) ---

	// SettlementOutcomesTotal counts settlement applications by outcome
	// (PASS/FAIL) and role (worker/verifier/requester).
	SettlementOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_outcomes_total",
			Help:      "Total settlement ledger entries by outcome and role.",
		},
		[]string{"outcome", "role"},
	)

	// BondsSlashedTotal counts bond slash events by bond kind (worker/verifier).
	BondsSlashedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonds_slashed_total",
			Help:      "Total bond slash events by bond kind.",
		},
		[]string{"kind"},
	)

	// --- Dispatch queue (C9) ---

	// DispatchQueueDepth tracks the number of unacked tasks currently queued.
	DispatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "dispatch_queue_depth",
		Help: "Number of dispatch tasks currently queued and unacked.",
	})

	// DispatchTasksEnqueuedTotal counts tasks handed to the dispatch queue.
	DispatchTasksEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_tasks_enqueued_total",
		Help:      "Total tasks enqueued to the dispatch queue.",
	})

	// --- Chain indexer (C10) ---

	// IndexerLagBlocks tracks how many blocks behind chain head each
	// stream's cursor is.
	IndexerLagBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_lag_blocks",
			Help:      "Blocks between chain head and each stream's cursor.",
		},
		[]string{"stream"},
	)

	// IndexerWindowsProcessedTotal counts completed PollOnce windows by stream.
	IndexerWindowsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_windows_processed_total",
			Help:      "Total log-range windows successfully processed by stream.",
		},
		[]string{"stream"},
	)

	// IndexerABIDriftTotal counts hard ABI-drift halts by stream.
	IndexerABIDriftTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_abi_drift_total",
			Help:      "Total ABI-drift halts by stream.",
		},
		[]string{"stream"},
	)

	// --- Relayer (C11) ---

	// RelayerSignaturesTotal counts signatures issued by message type.
	RelayerSignaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayer_signatures_total",
			Help:      "Total typed-data signatures issued by message type.",
		},
		[]string{"message_type"},
	)

	// RelayerRejectionsTotal counts pre-sign safety rejections by reason kind.
	RelayerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayer_rejections_total",
			Help:      "Total relayer pre-sign safety rejections.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		MissionTransitionsTotal,
		MissionFailuresTotal,
		MissionRevisionsTotal,
		SettlementOutcomesTotal,
		BondsSlashedTotal,
		DispatchQueueDepth,
		DispatchTasksEnqueuedTotal,
		IndexerLagBlocks,
		IndexerWindowsProcessedTotal,
		IndexerABIDriftTotal,
		RelayerSignaturesTotal,
		RelayerRejectionsTotal,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
