package bench

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Operation names used in metrics and logs
const (
	OpRead   = "read"
	OpUpdate = "update"
	OpInsert = "insert"
	OpDelete = "delete"
	OpScan   = "scan"
	OpQuery  = "query"
)

var updateConflicts = metrics.NewCounter("ddoc_update_conflicts_total")

// observe records the outcome and latency of an operation
func observe(op string, status Status, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_ops_total{op=%q,status=%q}`, op, status)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`ddoc_op_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}
