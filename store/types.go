// Package store defines the durable store contract for cache entries,
// tag memberships, warming configurations, and append-only history, with
// a NATS JetStream KV implementation and an in-memory implementation.
package store

import "time"

// Layer identifies the storage tier an entry resides in
type Layer string

// Storage tiers
const (
	LayerLocal       Layer = "local"
	LayerDistributed Layer = "distributed"
	LayerDurable     Layer = "durable"
)

// Valid reports whether the layer is one of the known tiers
func (l Layer) Valid() bool {
	switch l {
	case LayerLocal, LayerDistributed, LayerDurable:
		return true
	}
	return false
}

// Entry is a single cache entry. The value is opaque to the engine and
// round-trips through JSON in the durable store.
type Entry struct {
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	Layer     Layer          `json:"layer"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the entry is logically absent at the given time
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Clone returns a copy of the entry with its own tag slice and metadata map
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Tags != nil {
		clone.Tags = append([]string(nil), e.Tags...)
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// StatsSnapshot is an append-only point-in-time capture of cache counters.
// Counters are cumulative for the writing process's lifetime.
type StatsSnapshot struct {
	Layer     Layer     `json:"layer"`
	Timestamp time.Time `json:"timestamp"`
	TotalKeys int       `json:"total_keys"`
	HitCount  int64     `json:"hit_count"`
	MissCount int64     `json:"miss_count"`
	HitRate   float64   `json:"hit_rate"`
}

// InvalidationType classifies why an invalidation happened
type InvalidationType string

// Invalidation types
const (
	InvalidationManual    InvalidationType = "manual"
	InvalidationPattern   InvalidationType = "pattern"
	InvalidationTag       InvalidationType = "tag"
	InvalidationVersion   InvalidationType = "version"
	InvalidationScheduled InvalidationType = "scheduled"
)

// InvalidationRecord is an append-only log row for one invalidation
type InvalidationRecord struct {
	KeyOrPattern string           `json:"key_or_pattern"`
	Type         InvalidationType `json:"invalidation_type"`
	Reason       string           `json:"reason,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// WarmingConfig describes one named cache warming job
type WarmingConfig struct {
	Name             string         `json:"name"`
	KeyPattern       string         `json:"key_pattern"`
	QueryFunction    string         `json:"query_function"`
	QueryParams      map[string]any `json:"query_params,omitempty"`
	WarmOnStartup    bool           `json:"warm_on_startup"`
	WarmOnSchedule   bool           `json:"warm_on_schedule"`
	ScheduleInterval time.Duration  `json:"schedule_interval"`
	Priority         int            `json:"priority"`
	LastWarmedAt     time.Time      `json:"last_warmed_at,omitzero"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Due reports whether a scheduled run is due at the given time
func (c *WarmingConfig) Due(now time.Time) bool {
	if !c.WarmOnSchedule || c.ScheduleInterval <= 0 {
		return false
	}
	return !c.LastWarmedAt.Add(c.ScheduleInterval).After(now)
}
