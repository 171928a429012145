package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orderProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderflow_order_processing_duration_ms",
			Help:    "Duration of order processing in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_order_operations_total",
			Help: "Total number of order operations",
		},
		[]string{"operation", "status"},
	)

	staleOrdersRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderflow_stale_orders_recovered_total",
			Help: "Total number of pending orders failed and compensated by the sweeper",
		},
	)
)

// RecordProcessingTime records order processing duration sample
func RecordProcessingTime(d time.Duration) {
	orderProcessingDuration.Observe(float64(d.Milliseconds()))
}

// RecordOrderOperation records order operation outcome
func RecordOrderOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
}

// RecordStaleOrdersRecovered increments recovered order counter
func RecordStaleOrdersRecovered(n int) {
	staleOrdersRecovered.Add(float64(n))
}
