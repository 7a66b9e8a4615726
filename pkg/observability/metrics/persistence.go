package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// persistenceOperationsTotal counts persistence calls.
	// Labels: backend, operation, result
	persistenceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqttpersist_operations_total",
			Help: "Total number of persistence operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// persistenceOperationDuration tracks the latency of persistence calls.
	// Labels: backend, operation
	persistenceOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mqttpersist_operation_duration_seconds",
			Help:    "Persistence operation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"backend", "operation"},
	)

	// persistenceOpenPartitions tracks how many adapters currently hold an open partition.
	persistenceOpenPartitions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqttpersist_open_partitions",
			Help: "Current number of open persistence partitions",
		},
		[]string{"backend"},
	)
)

var (
	// healthCheckUp is 1 when the last run of a check passed.
	// Labels: check
	healthCheckUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqttpersist_health_check_up",
			Help: "Whether the last run of a backend health check passed",
		},
		[]string{"check"},
	)

	// healthCheckDuration tracks how long backend probes take.
	// Labels: check
	healthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mqttpersist_health_check_duration_seconds",
			Help:    "Backend health check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"check"},
	)
)

// ObserveHealthCheck records the outcome of one health check run. Its
// signature matches health.Observer.
func ObserveHealthCheck(check string, healthy bool, duration time.Duration) {
	check = normalizeLabel(check, "unknown")
	up := 0.0
	if healthy {
		up = 1
	}
	healthCheckUp.WithLabelValues(check).Set(up)
	healthCheckDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// HealthCheckUp returns the gauge child for check.
func HealthCheckUp(check string) prometheus.Gauge {
	return healthCheckUp.WithLabelValues(check)
}

// RecordOperation records one persistence call.
func RecordOperation(backend, operation string, err error, duration time.Duration) {
	backend = normalizeLabel(backend, "unknown")
	operation = normalizeLabel(operation, "unknown")
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	persistenceOperationsTotal.WithLabelValues(backend, operation, result).Inc()
	persistenceOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// PartitionOpened increments the open partitions gauge.
func PartitionOpened(backend string) {
	persistenceOpenPartitions.WithLabelValues(normalizeLabel(backend, "unknown")).Inc()
}

// PartitionClosed decrements the open partitions gauge.
func PartitionClosed(backend string) {
	persistenceOpenPartitions.WithLabelValues(normalizeLabel(backend, "unknown")).Dec()
}

// OperationsTotal returns the counter child for the given labels.
func OperationsTotal(backend, operation, result string) prometheus.Counter {
	return persistenceOperationsTotal.WithLabelValues(backend, operation, result)
}

// OpenPartitions returns the gauge child for backend.
func OpenPartitions(backend string) prometheus.Gauge {
	return persistenceOpenPartitions.WithLabelValues(backend)
}

func normalizeLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
