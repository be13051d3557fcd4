// Package cache implements the multi-tier cache engine: a process-local
// tier backed by a shared durable store, with TTL expiry, versioned
// reads, pattern and tag invalidation, and periodic background sweeps.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/health"
	"github.com/c360/tiercache/metric"
	"github.com/c360/tiercache/pkg/glob"
	"github.com/c360/tiercache/store"
)

// Manager is the cache engine. It owns the local tier, delegates shared
// tiers to the durable store, and runs cleanup and stats-flush loops
// between Start and Stop.
//
// All methods are safe for concurrent use. Request-path operations favor
// availability: a degraded durable store degrades reads to misses and
// writes to local-only, never to caller errors.
type Manager struct {
	store  store.Store
	clock  Clock
	logger *slog.Logger
	core   *metric.CoreMetrics // optional

	defaultTTL      time.Duration
	cleanupInterval time.Duration
	statsInterval   time.Duration
	storeTimeout    time.Duration

	local *localTier
	stats *Statistics
	group singleflight.Group

	lifecycle sync.Mutex
	started   bool
	shutdown  chan struct{}
	done      chan struct{}
}

// NewManager creates a cache manager over the given durable store
func NewManager(s store.Store, opts ...Option) (*Manager, error) {
	if s == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "store cannot be nil")
	}

	m := &Manager{
		store:           s,
		clock:           realClock{},
		logger:          slog.Default(),
		defaultTTL:      DefaultTTL,
		cleanupInterval: DefaultCleanupInterval,
		statsInterval:   DefaultStatsInterval,
		storeTimeout:    DefaultStoreTimeout,
		local:           newLocalTier(),
		stats:           NewStatistics(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Start launches the background cleanup and stats-flush loops
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.started {
		return errors.ErrAlreadyStarted
	}
	m.started = true

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(ctx)

	m.logger.Info("cache manager started",
		"default_ttl", m.defaultTTL,
		"cleanup_interval", m.cleanupInterval,
		"stats_interval", m.statsInterval)

	return nil
}

// Stop shuts down the background loops, waiting for them to finish
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.started {
		return errors.ErrNotStarted
	}
	m.started = false

	close(m.shutdown)

	select {
	case <-m.done:
		m.logger.Info("cache manager stopped")
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(
			fmt.Errorf("timeout waiting for background loops"),
			"Manager", "Stop", "shutdown")
	}
}

// run drives the periodic sweeps until shutdown
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	cleanupTicker := time.NewTicker(m.cleanupInterval)
	defer cleanupTicker.Stop()

	statsTicker := time.NewTicker(m.statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-cleanupTicker.C:
			m.sweepExpired(ctx)
		case <-statsTicker.C:
			m.flushStats(ctx)
		}
	}
}

// sweepExpired removes expired entries from both tiers
func (m *Manager) sweepExpired(ctx context.Context) {
	now := m.clock.Now()

	removed := m.local.removeExpired(now)
	m.stats.UpdateSize(int64(m.local.size()))
	if m.core != nil {
		m.core.RecordCacheSize(string(store.LayerLocal), m.local.size())
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	purged, err := m.store.DeleteExpired(storeCtx, now)
	if err != nil {
		m.logger.Warn("durable expiry sweep failed", "error", err)
		purged = 0
	}

	if removed > 0 || purged > 0 {
		m.logger.Debug("expired entries swept", "local", removed, "durable", purged)
	}
}

// flushStats snapshots the cumulative counters into the store
func (m *Manager) flushStats(ctx context.Context) {
	snap := store.StatsSnapshot{
		Layer:     store.LayerLocal,
		Timestamp: m.clock.Now(),
		TotalKeys: m.local.size(),
		HitCount:  m.stats.Hits(),
		MissCount: m.stats.Misses(),
		HitRate:   m.stats.HitRate(),
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	if err := m.store.AppendSnapshot(storeCtx, snap); err != nil {
		m.logger.Warn("stats snapshot flush failed", "error", err)
	}
}

func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, m.storeTimeout)
}

func (m *Manager) observe(operation string, start time.Time) {
	elapsed := time.Since(start)
	m.stats.RecordLatency(elapsed)
	if m.core != nil {
		m.core.RecordOperationDuration(operation, elapsed)
	}
}

// Get retrieves a value by key from the local tier, falling back to the
// durable store. Absence is not an error.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	return m.get(ctx, key, 0)
}

// GetVersion retrieves a value only if the stored entry's version equals
// version exactly; a newer version reads as absent.
func (m *Manager) GetVersion(ctx context.Context, key string, version int) (any, bool) {
	return m.get(ctx, key, version)
}

func (m *Manager) get(ctx context.Context, key string, version int) (any, bool) {
	defer m.observe("get", time.Now())

	now := m.clock.Now()

	if entry, ok := m.local.get(key, version, now); ok {
		m.recordHit(key, store.LayerLocal)
		return entry.Value, true
	}

	// Deduplicate concurrent read-through for the same key and version
	flightKey := fmt.Sprintf("%s@%d", key, version)
	v, err, _ := m.group.Do(flightKey, func() (any, error) {
		return m.readThrough(ctx, key, version)
	})
	// A typed nil *store.Entry boxed into any is non-nil, so check the
	// pointer after the assertion
	entry, _ := v.(*store.Entry)
	if err != nil || entry == nil {
		m.recordMiss()
		return nil, false
	}

	m.recordHit(key, entry.Layer)
	return entry.Value, true
}

// readThrough loads an entry from the durable store and populates the
// local tier. A nil entry with nil error means a clean miss.
func (m *Manager) readThrough(ctx context.Context, key string, version int) (*store.Entry, error) {
	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	entry, err := m.store.GetEntry(storeCtx, key, version)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		// Store failure degrades to a miss
		m.logger.Warn("durable read failed, degrading to miss", "key", key, "error", err)
		return nil, nil
	}

	if entry.Expired(m.clock.Now()) {
		// Lazily purge the stale durable copy
		delCtx, cancelDel := m.storeContext(ctx)
		defer cancelDel()
		if err := m.store.DeleteEntry(delCtx, key); err != nil {
			m.logger.Warn("expired entry purge failed", "key", key, "error", err)
		}
		return nil, nil
	}

	m.local.set(entry)
	return entry, nil
}

func (m *Manager) recordHit(key string, layer store.Layer) {
	m.stats.Hit(key)
	if m.core != nil {
		m.core.RecordCacheRequest(string(layer), "hit")
	}
}

func (m *Manager) recordMiss() {
	m.stats.Miss()
	if m.core != nil {
		m.core.RecordCacheRequest(string(store.LayerLocal), "miss")
	}
}

// Set stores a value. It always writes the local tier; layers other than
// local additionally write through to the durable store, where a failed
// write is logged and the local write stands.
func (m *Manager) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Manager", "Set", "key cannot be empty")
	}

	defer m.observe("set", time.Now())

	o := setOptions{
		ttl:     m.defaultTTL,
		layer:   store.LayerDistributed,
		version: 1,
	}
	for _, opt := range opts {
		opt(&o)
	}

	now := m.clock.Now()
	entry := &store.Entry{
		Key:       key,
		Value:     value,
		Layer:     o.layer,
		Version:   o.version,
		CreatedAt: now,
		ExpiresAt: now.Add(o.ttl),
		Tags:      o.tags,
		Metadata:  o.metadata,
	}

	m.local.set(entry)
	m.stats.Set()
	m.stats.UpdateSize(int64(m.local.size()))

	if o.layer != store.LayerLocal {
		storeCtx, cancel := m.storeContext(ctx)
		defer cancel()

		if err := m.store.PutEntry(storeCtx, entry); err != nil {
			m.logger.Warn("durable write failed, tiers diverge until next write", "key", key, "error", err)
			return nil
		}
		if err := m.store.SetTags(storeCtx, key, o.tags); err != nil {
			m.logger.Warn("tag membership update failed", "key", key, "error", err)
		}
	}

	return nil
}

// Delete removes a key from every tier and logs a manual invalidation
func (m *Manager) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Manager", "Delete", "key cannot be empty")
	}

	defer m.observe("delete", time.Now())

	m.local.delete(key)
	m.stats.Delete()

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	if err := m.store.DeleteEntry(storeCtx, key); err != nil {
		// Divergence self-heals via TTL expiry
		m.logger.Warn("durable delete failed", "key", key, "error", err)
	}

	m.appendInvalidation(ctx, key, store.InvalidationManual, "explicit delete")
	return nil
}

// InvalidatePattern removes all keys matching the anchored glob pattern
// (`*` any run, `?` single character) and returns the number removed from
// the durable store. A malformed pattern is an operator error.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	re, err := glob.Compile(pattern)
	if err != nil {
		return 0, errors.WrapInvalid(errors.ErrInvalidPattern, "Manager", "InvalidatePattern", pattern)
	}

	defer m.observe("invalidate_pattern", time.Now())

	m.local.deleteMatching(re)
	m.stats.Invalidation()

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	count, err := m.store.DeleteMatching(storeCtx, pattern)
	if err != nil {
		m.logger.Warn("durable pattern invalidation failed", "pattern", pattern, "error", err)
		count = 0
	}

	m.appendInvalidation(ctx, pattern, store.InvalidationPattern, "pattern invalidation")
	m.recordInvalidationMetric(store.InvalidationPattern)
	return count, nil
}

// InvalidateByTag removes all durable entries labelled with the tag and
// conservatively flushes the whole local tier, since local entries do not
// index tags individually.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	defer m.observe("invalidate_tag", time.Now())

	m.local.flush()
	m.stats.Invalidation()

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	count, err := m.store.DeleteByTag(storeCtx, tag)
	if err != nil {
		m.logger.Warn("durable tag invalidation failed", "tag", tag, "error", err)
		count = 0
	}

	m.appendInvalidation(ctx, tag, store.InvalidationTag, "tag invalidation")
	m.recordInvalidationMetric(store.InvalidationTag)
	return count, nil
}

// InvalidateByVersion removes any stored entry for key whose version is
// strictly below minVersion, leaving newer generations untouched.
func (m *Manager) InvalidateByVersion(ctx context.Context, key string, minVersion int) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Manager", "InvalidateByVersion", "key cannot be empty")
	}

	defer m.observe("invalidate_version", time.Now())

	m.local.deleteBelowVersion(key, minVersion)

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	entry, err := m.store.GetEntry(storeCtx, key, 0)
	if err == nil && entry.Version < minVersion {
		if err := m.store.DeleteEntry(storeCtx, key); err != nil {
			m.logger.Warn("durable version invalidation failed", "key", key, "error", err)
		}
	} else if err != nil && !errors.IsNotFound(err) {
		m.logger.Warn("durable read failed during version invalidation", "key", key, "error", err)
	}

	m.appendInvalidation(ctx, key, store.InvalidationVersion,
		fmt.Sprintf("superseded below version %d", minVersion))
	m.recordInvalidationMetric(store.InvalidationVersion)
	return nil
}

// Clear empties the local tier and the durable store
func (m *Manager) Clear(ctx context.Context) error {
	defer m.observe("clear", time.Now())

	m.local.flush()
	m.stats.Invalidation()
	m.stats.UpdateSize(0)

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	if _, err := m.store.DeleteAll(storeCtx); err != nil {
		m.logger.Warn("durable clear failed", "error", err)
	}

	m.appendInvalidation(ctx, "*", store.InvalidationManual, "full clear")
	m.recordInvalidationMetric(store.InvalidationManual)
	return nil
}

// Touch extends the local entry's expiry. When a TTL is supplied it also
// updates the durable copy; value and version stay unchanged.
func (m *Manager) Touch(ctx context.Context, key string, ttl ...time.Duration) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Manager", "Touch", "key cannot be empty")
	}

	extension := m.defaultTTL
	explicit := false
	if len(ttl) > 0 && ttl[0] > 0 {
		extension = ttl[0]
		explicit = true
	}

	expiresAt := m.clock.Now().Add(extension)
	m.local.touch(key, expiresAt)

	if !explicit {
		return nil
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	entry, err := m.store.GetEntry(storeCtx, key, 0)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		m.logger.Warn("durable touch failed", "key", key, "error", err)
		return nil
	}

	entry.ExpiresAt = expiresAt
	if err := m.store.PutEntry(storeCtx, entry); err != nil {
		m.logger.Warn("durable touch write failed", "key", key, "error", err)
	}

	return nil
}

// LocalStats is the in-process slice of Stats
type LocalStats struct {
	Keys    int     `json:"keys"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// DurableStats is the durable store slice of Stats
type DurableStats struct {
	Keys int `json:"keys"`
}

// Stats combines local counters with durable aggregates
type Stats struct {
	Local   LocalStats   `json:"local"`
	Durable DurableStats `json:"durable"`
}

// GetStats returns current statistics for both tiers. A durable read
// failure leaves the durable slice zeroed.
func (m *Manager) GetStats(ctx context.Context) Stats {
	stats := Stats{
		Local: LocalStats{
			Keys:    m.local.size(),
			Hits:    m.stats.Hits(),
			Misses:  m.stats.Misses(),
			HitRate: m.stats.HitRate(),
		},
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	count, err := m.store.CountEntries(storeCtx)
	if err != nil {
		m.logger.Warn("durable stats read failed", "error", err)
		return stats
	}
	stats.Durable.Keys = count

	return stats
}

// Statistics exposes the live counters for the monitor
func (m *Manager) Statistics() *Statistics {
	return m.stats
}

// Health reports the manager's current health for aggregation
func (m *Manager) Health() health.Status {
	m.lifecycle.Lock()
	started := m.started
	m.lifecycle.Unlock()

	metrics := &health.Metrics{
		Uptime:   m.stats.Uptime(),
		Requests: m.stats.Hits() + m.stats.Misses(),
	}

	if !started {
		return health.NewDegraded("cache", "background loops not running").WithMetrics(metrics)
	}
	return health.NewHealthy("cache", "serving").WithMetrics(metrics)
}

// KeyInfo describes one key across tiers for inspection
type KeyInfo struct {
	Key            string       `json:"key"`
	Local          bool         `json:"local"`
	LocalExpiresAt time.Time    `json:"local_expires_at,omitzero"`
	Durable        *store.Entry `json:"durable,omitempty"`
	Hits           int64        `json:"hits"`
}

// GetKeyInfo inspects a key's presence in both tiers
func (m *Manager) GetKeyInfo(ctx context.Context, key string) (*KeyInfo, error) {
	if key == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidKey, "Manager", "GetKeyInfo", "key cannot be empty")
	}

	info := &KeyInfo{Key: key}

	if entry, ok := m.local.peek(key); ok {
		info.Local = true
		info.LocalExpiresAt = entry.ExpiresAt
	}

	for _, row := range m.stats.TopKeys(0) {
		if row.Key == key {
			info.Hits = row.Hits
			break
		}
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	entry, err := m.store.GetEntry(storeCtx, key, 0)
	if err != nil {
		if errors.IsNotFound(err) {
			return info, nil
		}
		return nil, err
	}
	info.Durable = entry

	return info, nil
}

// appendInvalidation best-effort logs one invalidation row
func (m *Manager) appendInvalidation(ctx context.Context, keyOrPattern string,
	invType store.InvalidationType, reason string) {

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	rec := store.InvalidationRecord{
		KeyOrPattern: keyOrPattern,
		Type:         invType,
		Reason:       reason,
		Timestamp:    m.clock.Now(),
	}
	if err := m.store.AppendInvalidation(storeCtx, rec); err != nil {
		m.logger.Warn("invalidation log append failed", "error", err)
	}
}

func (m *Manager) recordInvalidationMetric(invType store.InvalidationType) {
	if m.core != nil {
		m.core.RecordInvalidation(string(invType))
	}
}
