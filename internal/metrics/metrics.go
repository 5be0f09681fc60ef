// Package metrics provides Prometheus instrumentation for the payment
// platform.
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

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vertexpay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vertexpay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsCreated counts escrow holds opened.
	PaymentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "payments_created_total",
		Help:      "Total job payments created (escrow holds opened).",
	})

	// PaymentsConfirmed counts payments confirmed by the gateway.
	PaymentsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "payments_confirmed_total",
		Help:      "Total payments confirmed by the gateway.",
	})

	// PaymentsReleased counts escrow releases to providers.
	PaymentsReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "payments_released_total",
		Help:      "Total escrow releases to providers.",
	})

	// RefundsProcessed counts successful refunds.
	RefundsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "refunds_processed_total",
		Help:      "Total refunds processed.",
	})

	// DisputesOpened counts dispute freezes applied.
	DisputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "disputes_opened_total",
		Help:      "Total payment disputes opened.",
	})

	// WithdrawalsTotal counts withdrawal attempts by result.
	WithdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vertexpay",
			Name:      "withdrawals_total",
			Help:      "Total withdrawal attempts by result.",
		},
		[]string{"result"},
	)

	// CommissionCollected accumulates platform commission in currency units.
	CommissionCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "commission_collected_total",
		Help:      "Total platform commission collected, in currency units.",
	})

	// GatewayErrors counts payment-processor failures by operation.
	GatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vertexpay",
			Name:      "gateway_errors_total",
			Help:      "Total payment gateway errors by operation.",
		},
		[]string{"operation"},
	)

	// WebhookEventsTotal counts webhook events by type and result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vertexpay",
			Name:      "webhook_events_total",
			Help:      "Total gateway webhook events by type and result.",
		},
		[]string{"type", "result"},
	)

	// ReconciliationMismatches counts balance drifts beyond tolerance.
	ReconciliationMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertexpay",
		Name:      "reconciliation_mismatches_total",
		Help:      "Total balance reconciliation mismatches beyond tolerance.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vertexpay",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vertexpay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vertexpay", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vertexpay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vertexpay", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vertexpay", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vertexpay", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentsCreated,
		PaymentsConfirmed,
		PaymentsReleased,
		RefundsProcessed,
		DisputesOpened,
		WithdrawalsTotal,
		CommissionCollected,
		GatewayErrors,
		WebhookEventsTotal,
		ReconciliationMismatches,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
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
