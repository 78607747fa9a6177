// Package metrics holds the prometheus collectors of the table service.
// Everything registers on the default registry and is served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts engine operations.
	// Labels: operation (list/row_position/row_detail/add/replace/export), status (ok/error/failed)
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableview_operations_total",
			Help: "Total number of table engine operations",
		},
		[]string{"operation", "status"},
	)

	// OperationLatency tracks engine operation latency in seconds.
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tableview_operation_duration_seconds",
			Help: "Table engine operation latency in seconds",
			Buckets: []float64{
				0.0001, // 100μs - cached pages
				0.001,  // 1ms
				0.01,   // 10ms
				0.05,
				0.1, // 100ms - full scans of large stores
				0.5,
				1,
				5,
			},
		},
		[]string{"operation"},
	)

	// Rows is the number of rows in the current snapshot.
	Rows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tableview_rows",
			Help: "Rows in the current table snapshot",
		},
	)

	// Columns is the number of columns in the current snapshot.
	Columns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tableview_columns",
			Help: "Columns in the current table snapshot",
		},
	)

	// OptionRefreshes counts option cache refreshes.
	// Labels: trigger (add/replace), result (refreshed/throttled)
	OptionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableview_option_refreshes_total",
			Help: "Enumerated option cache refreshes",
		},
		[]string{"trigger", "result"},
	)

	// SkippedFilters counts filter entries dropped while parsing a query.
	SkippedFilters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tableview_skipped_filters_total",
			Help: "Filter entries skipped as unknown, non-filterable or malformed",
		},
	)

	// RequestTimeouts counts transport calls discarded after the request timeout.
	RequestTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableview_request_timeouts_total",
			Help: "Requests answered with a timeout while the engine call kept running",
		},
		[]string{"route"},
	)

	// SourceLoads counts data source loads.
	// Labels: source (csv/sqlite), status (ok/error)
	SourceLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableview_source_loads_total",
			Help: "Data source loads",
		},
		[]string{"source", "status"},
	)
)

// Timer measures one operation.
type Timer struct {
	operation string
	start     time.Time
}

func NewTimer(operation string) *Timer {
	return &Timer{operation: operation, start: time.Now()}
}

// Stop records the elapsed time and the operation outcome.
func (t *Timer) Stop(status string) time.Duration {
	d := time.Since(t.start)
	OperationLatency.WithLabelValues(t.operation).Observe(d.Seconds())
	Operations.WithLabelValues(t.operation, status).Inc()
	return d
}
