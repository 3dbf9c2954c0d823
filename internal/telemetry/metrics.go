// Package telemetry provides application-level observability for the billing service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<VNT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router so the
// scrape path stays off the public ingress.
//
// # Metric Groups
//
//   - SQS listener counters (received / deleted / receive errors)
//   - Reconciliation outcomes, labelled by marketplace action and result
//   - Unmatched notifications (the redelivery-loop signal: a message that no
//     tenant claimed keeps coming back until the queue's redrive policy caps it)
//   - Metering batch submissions and unprocessed usage records
//   - Tier update counter, labelled by selected tier
//   - Database connection pool gauge for the catalog handle (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SQS listener metrics.
//
// Example PromQL queries:
//   - Message throughput:  rate(sqs_messages_received_total[5m])
//   - Stuck-queue signal:  increase(sqs_messages_received_total[1h]) - increase(sqs_messages_deleted_total[1h])
var (
	SQSMessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_received_total",
			Help: "Total number of messages received from the marketplace notification queue.",
		},
	)

	SQSMessagesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_messages_deleted_total",
			Help: "Total number of messages deleted after successful processing.",
		},
	)

	SQSReceiveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqs_receive_errors_total",
			Help: "Total number of failed ReceiveMessage calls (including credential assumption failures).",
		},
	)
)

// Reconciliation metrics.
//
// ReconcileTotal is a CounterVec with labels {action, result}. Result is
// "success" or "failure"; action is one of the four marketplace actions or
// "unknown" for unparseable messages.
//
// UnmatchedNotificationsTotal counts notifications no tenant database claimed.
// Each unmatched notification is redelivered by SQS until the queue redrive
// policy moves it to the DLQ, so a steadily increasing counter means a pending
// row was deleted out-of-band or the message belongs to another deployment.
//
// Example PromQL queries:
//   - Failure rate by action:  sum by (action) (rate(reconcile_total{result="failure"}[1h]))
//   - Redelivery-loop alert:   increase(unmatched_notifications_total[30m]) > 10
var (
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_total",
			Help: "Total number of marketplace notification reconciliations, by action and result.",
		},
		[]string{"action", "result"},
	)

	UnmatchedNotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unmatched_notifications_total",
			Help: "Total number of marketplace notifications that matched no tenant database.",
		},
	)
)

// Metering metrics.
//
// MeteringUnprocessedRecordsTotal counts usage records the BatchMeterUsage
// response reported as unprocessed. These records are logged and dropped, not
// retried; any sustained increase needs operator attention.
//
// Example PromQL queries:
//   - Silent-drop alert:  increase(metering_unprocessed_records_total[24h]) > 0
var (
	MeteringBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metering_batches_total",
			Help: "Total number of BatchMeterUsage submissions.",
		},
	)

	MeteringUnprocessedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metering_unprocessed_records_total",
			Help: "Total number of usage records reported as unprocessed by the metering API.",
		},
	)
)

// TierUpdatesTotal is a CounterVec with label {tier} incremented each time the
// tier update job writes a tenant's recalculated tier.
var TierUpdatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tier_updates_total",
		Help: "Total number of tenant tier updates, by selected tier.",
	},
	[]string{"tier"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the catalog sql.DB connection pool. It is sampled every
// 30 seconds by StartDBStatsCollector rather than per-request to avoid the
// overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the catalog pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
