package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics contains engine-level metrics shared by all components
type CoreMetrics struct {
	// Cache manager metrics
	CacheRequests          *prometheus.CounterVec   // layer, result (hit|miss)
	CacheOperationDuration *prometheus.HistogramVec // operation
	CacheSize              *prometheus.GaugeVec     // layer
	Invalidations          *prometheus.CounterVec   // type

	// Warmer metrics
	WarmingRuns     *prometheus.CounterVec // job, status (success|error|skipped)
	WarmingDuration *prometheus.HistogramVec

	// Monitor metrics
	HealthStatus *prometheus.GaugeVec // component
	AlertsActive prometheus.Gauge

	// Durable store metrics
	StoreOperations *prometheus.CounterVec // operation
	StoreErrors     *prometheus.CounterVec // operation

	// NATS connection
	NATSConnected prometheus.Gauge
}

// NewCoreMetrics creates a new CoreMetrics instance with all engine metrics
func NewCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tiercache",
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Total cache read requests by tier and result",
			},
			[]string{"layer", "result"},
		),

		CacheOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tiercache",
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tiercache",
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Current number of live entries by tier",
			},
			[]string{"layer"},
		),

		Invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tiercache",
				Subsystem: "cache",
				Name:      "invalidations_total",
				Help:      "Total invalidations by type",
			},
			[]string{"type"},
		),

		WarmingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tiercache",
				Subsystem: "warming",
				Name:      "runs_total",
				Help:      "Total warming job executions by job and status",
			},
			[]string{"job", "status"},
		),

		WarmingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tiercache",
				Subsystem: "warming",
				Name:      "duration_seconds",
				Help:      "Warming job execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"job"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tiercache",
				Subsystem: "health",
				Name:      "status",
				Help:      "Component health (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		AlertsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tiercache",
				Subsystem: "health",
				Name:      "alerts_active",
				Help:      "Number of currently active alerts",
			},
		),

		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tiercache",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total durable store operations by operation",
			},
			[]string{"operation"},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tiercache",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total durable store operation failures by operation",
			},
			[]string{"operation"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tiercache",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// RecordCacheRequest increments the request counter for a tier and result
func (c *CoreMetrics) RecordCacheRequest(layer, result string) {
	c.CacheRequests.WithLabelValues(layer, result).Inc()
}

// RecordOperationDuration records how long a cache operation took
func (c *CoreMetrics) RecordOperationDuration(operation string, d time.Duration) {
	c.CacheOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCacheSize updates the live-entry gauge for a tier
func (c *CoreMetrics) RecordCacheSize(layer string, size int) {
	c.CacheSize.WithLabelValues(layer).Set(float64(size))
}

// RecordInvalidation increments the invalidation counter for a type
func (c *CoreMetrics) RecordInvalidation(invalidationType string) {
	c.Invalidations.WithLabelValues(invalidationType).Inc()
}

// RecordWarmingRun records a warming job execution outcome
func (c *CoreMetrics) RecordWarmingRun(job, status string, d time.Duration) {
	c.WarmingRuns.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		c.WarmingDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// RecordHealthStatus updates a component's health gauge
func (c *CoreMetrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthStatus.WithLabelValues(component).Set(value)
}

// RecordActiveAlerts updates the active alert gauge
func (c *CoreMetrics) RecordActiveAlerts(n int) {
	c.AlertsActive.Set(float64(n))
}

// RecordStoreOperation increments the store operation counter
func (c *CoreMetrics) RecordStoreOperation(operation string, err error) {
	c.StoreOperations.WithLabelValues(operation).Inc()
	if err != nil {
		c.StoreErrors.WithLabelValues(operation).Inc()
	}
}

// RecordNATSStatus updates the NATS connection gauge
func (c *CoreMetrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
