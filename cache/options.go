package cache

import (
	"log/slog"
	"time"

	"github.com/c360/tiercache/metric"
	"github.com/c360/tiercache/store"
)

// Default intervals and TTLs
const (
	DefaultTTL             = 300 * time.Second
	DefaultCleanupInterval = time.Minute
	DefaultStatsInterval   = 5 * time.Minute
	DefaultStoreTimeout    = 5 * time.Second
)

// Option configures a Manager
type Option func(*Manager)

// WithClock injects a clock; tests use this to control expiry
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics exposes cache counters as Prometheus metrics.
// If registry is nil, this option is ignored.
func WithMetrics(registry *metric.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.core = registry.Core
		}
	}
}

// WithDefaultTTL sets the TTL applied when a Set omits one
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithCleanupInterval sets how often expired local entries are swept
func WithCleanupInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.cleanupInterval = interval
		}
	}
}

// WithStatsInterval sets how often counters are snapshotted to the store
func WithStatsInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.statsInterval = interval
		}
	}
}

// WithStoreTimeout bounds each durable store call
func WithStoreTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.storeTimeout = timeout
		}
	}
}

// setOptions holds per-Set configuration
type setOptions struct {
	ttl      time.Duration
	layer    store.Layer
	tags     []string
	version  int
	metadata map[string]any
}

// SetOption configures a single Set call
type SetOption func(*setOptions)

// WithTTL overrides the default TTL for this entry
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLayer selects the target tier. Entries always land in the local
// tier; any other layer additionally writes through to the durable store.
func WithLayer(layer store.Layer) SetOption {
	return func(o *setOptions) {
		if layer.Valid() {
			o.layer = layer
		}
	}
}

// WithTags labels the entry for tag-based invalidation
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = tags
	}
}

// WithVersion sets the entry's generation marker (default 1)
func WithVersion(version int) SetOption {
	return func(o *setOptions) {
		if version > 0 {
			o.version = version
		}
	}
}

// WithMetadata attaches writer-defined metadata, never interpreted here
func WithMetadata(metadata map[string]any) SetOption {
	return func(o *setOptions) {
		o.metadata = metadata
	}
}
