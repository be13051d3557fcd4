// Package monitor observes cache performance: live metrics from the
// manager's counters, historical hit rates from store snapshots,
// threshold-based health evaluation, and periodic alert recomputation.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/health"
	"github.com/c360/tiercache/metric"
	"github.com/c360/tiercache/store"
)

// Alert severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert names
const (
	AlertLowHitRate   = "low_hit_rate"
	AlertSlowResponse = "slow_response"
)

// Default alert thresholds
const (
	DefaultMinHitRate      = 70.0
	DefaultMaxResponseTime = 500 * time.Millisecond
	DefaultCheckInterval   = time.Minute

	// criticalHitRate is the floor below which a low hit rate escalates
	// from warning to critical
	criticalHitRate = 30.0
)

// Thresholds are the alerting bounds, mutable at runtime
type Thresholds struct {
	MinHitRate      float64       `json:"min_hit_rate"`
	MaxResponseTime time.Duration `json:"max_response_time"`
}

// DefaultThresholds returns the starting alert bounds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHitRate:      DefaultMinHitRate,
		MaxResponseTime: DefaultMaxResponseTime,
	}
}

// Alert is one active threshold breach
type Alert struct {
	Name      string    `json:"name"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Metrics is a point-in-time view of cache performance
type Metrics struct {
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Sets          int64         `json:"sets"`
	Deletes       int64         `json:"deletes"`
	Invalidations int64         `json:"invalidations"`
	HitRate       float64       `json:"hit_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	LocalSize     int64         `json:"local_size"`
	Uptime        time.Duration `json:"uptime"`
}

// HealthCheck is the outcome of one threshold evaluation
type HealthCheck struct {
	Healthy   bool      `json:"healthy"`
	Issues    []string  `json:"issues,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor evaluates cache health against thresholds. The evaluation loop
// runs between Start and Stop; failures inside it are logged and skipped
// so monitoring never disturbs cache traffic.
type Monitor struct {
	manager *cache.Manager
	store   store.Store
	clock   cache.Clock
	logger  *slog.Logger
	core    *metric.CoreMetrics // optional

	interval time.Duration

	mu         sync.RWMutex
	thresholds Thresholds
	alerts     []Alert
	lastCheck  HealthCheck

	lifecycle sync.Mutex
	started   bool
	shutdown  chan struct{}
	done      chan struct{}
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source
func WithClock(clock cache.Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMetrics wires health and alert gauges into the registry's core set
func WithMetrics(registry *metric.Registry) Option {
	return func(m *Monitor) {
		if registry != nil {
			m.core = registry.Core
		}
	}
}

// WithCheckInterval sets the health evaluation interval
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithThresholds sets the initial alert bounds
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

// NewMonitor creates a monitor over the given manager and history store
func NewMonitor(manager *cache.Manager, s store.Store, opts ...Option) (*Monitor, error) {
	if manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Monitor", "NewMonitor", "manager cannot be nil")
	}
	if s == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Monitor", "NewMonitor", "store cannot be nil")
	}

	m := &Monitor{
		manager:    manager,
		store:      s,
		clock:      cache.SystemClock(),
		logger:     slog.Default(),
		interval:   DefaultCheckInterval,
		thresholds: DefaultThresholds(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Metrics returns the current performance counters
func (m *Monitor) Metrics() Metrics {
	stats := m.manager.Statistics()
	return Metrics{
		Hits:          stats.Hits(),
		Misses:        stats.Misses(),
		Sets:          stats.Sets(),
		Deletes:       stats.Deletes(),
		Invalidations: stats.Invalidations(),
		HitRate:       stats.HitRate(),
		AvgLatency:    stats.AvgLatency(),
		LocalSize:     stats.CurrentSize(),
		Uptime:        stats.Uptime(),
	}
}

// SetThresholds replaces the alert bounds
func (m *Monitor) SetThresholds(t Thresholds) error {
	if t.MinHitRate < 0 || t.MinHitRate > 100 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Monitor", "SetThresholds",
			fmt.Sprintf("min_hit_rate %.1f outside [0,100]", t.MinHitRate))
	}
	if t.MaxResponseTime <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Monitor", "SetThresholds",
			"max_response_time must be positive")
	}

	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()

	m.logger.Info("alert thresholds updated",
		"min_hit_rate", t.MinHitRate,
		"max_response_time", t.MaxResponseTime)
	return nil
}

// Thresholds returns the current alert bounds
func (m *Monitor) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// Alerts returns the currently active alerts
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// CheckHealth evaluates the thresholds now and returns the outcome
func (m *Monitor) CheckHealth() HealthCheck {
	return m.performHealthCheck()
}

// evaluate derives the active alerts for a metrics snapshot. A hit rate
// below the minimum raises low_hit_rate, escalating to critical under
// 30%; latency above the bound raises slow_response, escalating to
// critical past twice the bound. Rates are only judged once traffic
// exists.
func (m *Monitor) evaluate(metrics Metrics, t Thresholds, now time.Time) []Alert {
	var alerts []Alert

	if metrics.Hits+metrics.Misses > 0 && metrics.HitRate < t.MinHitRate {
		severity := SeverityWarning
		if metrics.HitRate < criticalHitRate {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Name:      AlertLowHitRate,
			Severity:  severity,
			Message:   fmt.Sprintf("hit rate %.1f%% below threshold %.1f%%", metrics.HitRate, t.MinHitRate),
			Value:     metrics.HitRate,
			Threshold: t.MinHitRate,
			RaisedAt:  now,
		})
	}

	if metrics.AvgLatency > t.MaxResponseTime {
		severity := SeverityWarning
		if metrics.AvgLatency > 2*t.MaxResponseTime {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Name:      AlertSlowResponse,
			Severity:  severity,
			Message: fmt.Sprintf("average latency %s above threshold %s",
				metrics.AvgLatency, t.MaxResponseTime),
			Value:     float64(metrics.AvgLatency.Milliseconds()),
			Threshold: float64(t.MaxResponseTime.Milliseconds()),
			RaisedAt:  now,
		})
	}

	return alerts
}

// performHealthCheck recomputes metrics, rebuilds the alert set, and
// publishes gauges
func (m *Monitor) performHealthCheck() HealthCheck {
	metrics := m.Metrics()
	thresholds := m.Thresholds()
	now := m.clock.Now()

	alerts := m.evaluate(metrics, thresholds, now)

	check := HealthCheck{
		Healthy:   len(alerts) == 0,
		CheckedAt: now,
	}
	for _, a := range alerts {
		check.Issues = append(check.Issues, a.Message)
	}

	m.mu.Lock()
	m.alerts = alerts
	m.lastCheck = check
	m.mu.Unlock()

	if m.core != nil {
		m.core.RecordHealthStatus("cache", check.Healthy)
		m.core.RecordActiveAlerts(len(alerts))
	}

	if !check.Healthy {
		m.logger.Warn("cache health check failed", "issues", check.Issues)
	}

	return check
}

// Start launches the periodic health evaluation loop
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.started {
		return errors.ErrAlreadyStarted
	}
	m.started = true

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(ctx)

	m.logger.Info("cache monitor started", "check_interval", m.interval)
	return nil
}

// Stop shuts down the evaluation loop
func (m *Monitor) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.started {
		return errors.ErrNotStarted
	}
	m.started = false

	close(m.shutdown)

	select {
	case <-m.done:
		m.logger.Info("cache monitor stopped")
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(
			fmt.Errorf("timeout waiting for check loop"),
			"Monitor", "Stop", "shutdown")
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.performHealthCheck()
		}
	}
}

// Health reports the monitor's view of the cache for aggregation
func (m *Monitor) Health() health.Status {
	m.mu.RLock()
	check := m.lastCheck
	alerts := len(m.alerts)
	m.mu.RUnlock()

	if check.CheckedAt.IsZero() {
		return health.NewHealthy("monitor", "no checks performed yet")
	}

	if check.Healthy {
		return health.NewHealthy("monitor", "all thresholds satisfied")
	}

	message := fmt.Sprintf("%d active alert(s)", alerts)
	for _, a := range m.Alerts() {
		if a.Severity == SeverityCritical {
			return health.NewUnhealthy("monitor", message)
		}
	}
	return health.NewDegraded("monitor", message)
}
