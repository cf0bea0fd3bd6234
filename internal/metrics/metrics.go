package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the pipeline metrics
type Metrics struct {
	// Permission and picker outcomes
	PermissionRequestTotal *prometheus.CounterVec
	PickTotal              *prometheus.CounterVec

	// Validation outcomes and measured sizes
	ValidationTotal *prometheus.CounterVec
	ValidatedBytes  prometheus.Histogram

	// Store operation metrics
	StoreOperationTotal    *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Realtime binding metrics
	BindingEventTotal *prometheus.CounterVec
	ActiveBindings    prometheus.Gauge
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		PermissionRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permission_requests_total",
			Help: "Total number of library permission requests by resulting status",
		}, []string{"status"}),

		PickTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_picks_total",
			Help: "Total number of picker presentations by outcome",
		}, []string{"outcome"}),

		ValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_validations_total",
			Help: "Total number of media validations by outcome",
		}, []string{"kind", "outcome"}),

		ValidatedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "media_validated_bytes",
			Help:    "Size of the canonical transferable form of validated media",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
		}),

		StoreOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of remote store operations",
		}, []string{"operation", "status"}),

		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Remote store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		BindingEventTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "binding_events_total",
			Help: "Total number of events delivered by realtime toggle bindings",
		}, []string{"kind"}),

		ActiveBindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "binding_active",
			Help: "Number of bound realtime toggle bindings",
		}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.PermissionRequestTotal)
	registerOrGet(m.PickTotal)
	registerOrGet(m.ValidationTotal)
	registerOrGet(m.ValidatedBytes)
	registerOrGet(m.StoreOperationTotal)
	registerOrGet(m.StoreOperationDuration)
	registerOrGet(m.BindingEventTotal)
	registerOrGet(m.ActiveBindings)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		// If already registered, return the existing collector
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// Status returns the status label for an operation result.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
