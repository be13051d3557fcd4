// Package admin is the operational surface of the caching engine: a
// synchronous facade over the manager, warmer, and monitor, plus JSON
// HTTP endpoints and a live stats websocket for tooling.
package admin

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/health"
	"github.com/c360/tiercache/monitor"
	"github.com/c360/tiercache/store"
	"github.com/c360/tiercache/warm"
)

// DefaultBulkConcurrency bounds parallel deletes in BulkInvalidate
const DefaultBulkConcurrency = 8

// Facade exposes operator-facing cache management. Unlike request-path
// cache operations, facade methods surface errors explicitly so operators
// see misconfiguration immediately.
type Facade struct {
	manager  *cache.Manager
	warmer   *warm.Warmer
	monitor  *monitor.Monitor
	store    store.Store
	logger   *slog.Logger
	clock    cache.Clock
	statuses *health.Monitor

	bulkConcurrency int
}

// Option configures a Facade
type Option func(*Facade)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock overrides the time source
func WithClock(clock cache.Clock) Option {
	return func(f *Facade) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithBulkConcurrency bounds parallelism in BulkInvalidate
func WithBulkConcurrency(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.bulkConcurrency = n
		}
	}
}

// NewFacade composes the three engine components behind one surface
func NewFacade(manager *cache.Manager, warmer *warm.Warmer, mon *monitor.Monitor, s store.Store, opts ...Option) (*Facade, error) {
	if manager == nil || warmer == nil || mon == nil || s == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Facade", "NewFacade",
			"manager, warmer, monitor, and store are all required")
	}

	f := &Facade{
		manager:         manager,
		warmer:          warmer,
		monitor:         mon,
		store:           s,
		logger:          slog.Default(),
		clock:           cache.SystemClock(),
		statuses:        health.NewMonitor(),
		bulkConcurrency: DefaultBulkConcurrency,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// InvalidateKey removes one key from all tiers
func (f *Facade) InvalidateKey(ctx context.Context, key string) error {
	return f.manager.Delete(ctx, key)
}

// InvalidatePattern removes all keys matching the glob pattern
func (f *Facade) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	return f.manager.InvalidatePattern(ctx, pattern)
}

// InvalidateTag removes all keys carrying the tag
func (f *Facade) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return f.manager.InvalidateByTag(ctx, tag)
}

// ClearAll empties every tier
func (f *Facade) ClearAll(ctx context.Context) error {
	f.logger.Warn("clearing all cache tiers")
	return f.manager.Clear(ctx)
}

// BulkInvalidate removes the given keys with bounded parallelism and
// returns how many deletes succeeded
func (f *Facade) BulkInvalidate(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		results = make([]bool, len(keys))
	)
	g.SetLimit(f.bulkConcurrency)

	for i, key := range keys {
		g.Go(func() error {
			if err := f.manager.Delete(gctx, key); err != nil {
				f.logger.Warn("bulk invalidate failed for key", "key", key, "error", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, errors.Wrap(err, "Facade", "BulkInvalidate", "wait")
	}

	count := 0
	for _, ok := range results {
		if ok {
			count++
		}
	}

	f.logger.Info("bulk invalidation completed", "requested", len(keys), "deleted", count)
	return count, nil
}

// GetStats returns current statistics for both tiers
func (f *Facade) GetStats(ctx context.Context) cache.Stats {
	return f.manager.GetStats(ctx)
}

// GetReport builds a performance report for the period
func (f *Facade) GetReport(ctx context.Context, period monitor.Period) (*monitor.Report, error) {
	return f.monitor.GenerateReport(ctx, period)
}

// GetTopKeys returns the n most frequently hit keys
func (f *Facade) GetTopKeys(n int) []cache.KeyHits {
	return f.manager.Statistics().TopKeys(n)
}

// GetInvalidationHistory returns invalidation records within the period
func (f *Facade) GetInvalidationHistory(ctx context.Context, period monitor.Period) ([]store.InvalidationRecord, error) {
	window, err := period.Duration()
	if err != nil {
		return nil, err
	}

	recs, err := f.store.InvalidationsSince(ctx, f.clock.Now().Add(-window))
	if err != nil {
		return nil, errors.Wrap(err, "Facade", "GetInvalidationHistory", "load records")
	}
	return recs, nil
}

// GetKeyInfo inspects a key's presence across tiers
func (f *Facade) GetKeyInfo(ctx context.Context, key string) (*cache.KeyInfo, error) {
	return f.manager.GetKeyInfo(ctx, key)
}

// WarmCache runs the named warming job on demand
func (f *Facade) WarmCache(ctx context.Context, name string) error {
	return f.warmer.WarmCache(ctx, name)
}

// ListWarmingConfigs returns all warming configs, highest priority first
func (f *Facade) ListWarmingConfigs(ctx context.Context) ([]*store.WarmingConfig, error) {
	return f.warmer.ListConfigs(ctx)
}

// CreateWarmingConfig registers a new warming job
func (f *Facade) CreateWarmingConfig(ctx context.Context, cfg *store.WarmingConfig) error {
	return f.warmer.CreateConfig(ctx, cfg)
}

// DeleteWarmingConfig removes a warming job
func (f *Facade) DeleteWarmingConfig(ctx context.Context, name string) error {
	return f.warmer.DeleteConfig(ctx, name)
}

// CheckHealth evaluates cache thresholds now
func (f *Facade) CheckHealth() monitor.HealthCheck {
	return f.monitor.CheckHealth()
}

// SetThresholds replaces the monitor's alert bounds
func (f *Facade) SetThresholds(t monitor.Thresholds) error {
	return f.monitor.SetThresholds(t)
}

// SystemHealth refreshes component health snapshots and aggregates them
func (f *Facade) SystemHealth() health.Status {
	f.statuses.Update("cache", f.manager.Health())
	f.statuses.Update("warmer", f.warmer.Health())
	f.statuses.Update("monitor", f.monitor.Health())
	return f.statuses.AggregateHealth("tiercache")
}

// ConfigExport is the round-trippable operational configuration: warming
// jobs plus alert thresholds
type ConfigExport struct {
	ExportedAt     time.Time              `json:"exported_at"`
	WarmingConfigs []*store.WarmingConfig `json:"warming_configs"`
	Thresholds     monitor.Thresholds     `json:"thresholds"`
}

// ExportConfig snapshots warming configs and thresholds
func (f *Facade) ExportConfig(ctx context.Context) (*ConfigExport, error) {
	configs, err := f.warmer.ListConfigs(ctx)
	if err != nil {
		return nil, err
	}

	return &ConfigExport{
		ExportedAt:     f.clock.Now(),
		WarmingConfigs: configs,
		Thresholds:     f.monitor.Thresholds(),
	}, nil
}

// ImportConfig applies an exported configuration: thresholds are replaced
// and warming configs upserted by name
func (f *Facade) ImportConfig(ctx context.Context, export *ConfigExport) error {
	if export == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Facade", "ImportConfig", "export cannot be nil")
	}

	if err := f.monitor.SetThresholds(export.Thresholds); err != nil {
		return err
	}

	for _, cfg := range export.WarmingConfigs {
		err := f.warmer.CreateConfig(ctx, cfg)
		if err == nil {
			continue
		}
		if stderrors.Is(err, errors.ErrConfigExists) {
			if err := f.warmer.UpdateConfig(ctx, cfg); err != nil {
				return err
			}
			continue
		}
		return err
	}

	f.logger.Info("configuration imported",
		"warming_configs", len(export.WarmingConfigs),
		"min_hit_rate", export.Thresholds.MinHitRate)
	return nil
}
