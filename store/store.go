package store

import (
	"context"
	"time"
)

// Store is the durable backing store consumed by the cache engine.
//
// Reads for absent keys return an error satisfying errors.IsNotFound;
// callers on the request path translate that (and any transient failure)
// into a miss. All calls are bounded by the implementation's timeout.
type Store interface {
	// Entries
	GetEntry(ctx context.Context, key string, version int) (*Entry, error) // version 0 matches any
	PutEntry(ctx context.Context, entry *Entry) error
	DeleteEntry(ctx context.Context, key string) error
	DeleteMatching(ctx context.Context, pattern string) (int, error) // anchored glob, * and ?
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	CountEntries(ctx context.Context) (int, error)

	// Tag memberships. SetTags replaces the key's memberships; deleting
	// an entry removes them.
	SetTags(ctx context.Context, key string, tags []string) error
	KeysForTag(ctx context.Context, tag string) ([]string, error)
	DeleteByTag(ctx context.Context, tag string) (int, error)

	// Append-only history
	AppendSnapshot(ctx context.Context, snap StatsSnapshot) error
	SnapshotsSince(ctx context.Context, since time.Time) ([]StatsSnapshot, error)
	AppendInvalidation(ctx context.Context, rec InvalidationRecord) error
	InvalidationsSince(ctx context.Context, since time.Time) ([]InvalidationRecord, error)

	// Warming configurations, keyed by unique name
	CreateWarmingConfig(ctx context.Context, cfg *WarmingConfig) error
	UpdateWarmingConfig(ctx context.Context, cfg *WarmingConfig) error
	GetWarmingConfig(ctx context.Context, name string) (*WarmingConfig, error)
	DeleteWarmingConfig(ctx context.Context, name string) error
	ListWarmingConfigs(ctx context.Context) ([]*WarmingConfig, error)
}
