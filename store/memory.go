package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/pkg/glob"
)

// MemoryStore is an in-memory Store for unit tests and single-node use.
// It honors the same contract as the NATS-backed store, including tag
// membership consistency on deletes.
type MemoryStore struct {
	mu sync.RWMutex

	entries       map[string]*Entry
	tagsByKey     map[string]map[string]bool
	keysByTag     map[string]map[string]bool
	snapshots     []StatsSnapshot
	invalidations []InvalidationRecord
	configs       map[string]*WarmingConfig
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*Entry),
		tagsByKey: make(map[string]map[string]bool),
		keysByTag: make(map[string]map[string]bool),
		configs:   make(map[string]*WarmingConfig),
	}
}

// GetEntry retrieves an entry by key with optional exact version filter
func (s *MemoryStore) GetEntry(_ context.Context, key string, version int) (*Entry, error) {
	if key == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidKey, "store", "GetEntry", "key cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key)
	}
	if version > 0 && entry.Version != version {
		return nil, fmt.Errorf("%w: %s (version %d)", errors.ErrKeyNotFound, key, version)
	}

	return entry.Clone(), nil
}

// PutEntry upserts an entry
func (s *MemoryStore) PutEntry(_ context.Context, entry *Entry) error {
	if entry == nil || entry.Key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "store", "PutEntry", "entry key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key] = entry.Clone()
	return nil
}

// deleteLocked removes an entry and its memberships; caller holds the lock
func (s *MemoryStore) deleteLocked(key string) {
	delete(s.entries, key)
	for tag := range s.tagsByKey[key] {
		delete(s.keysByTag[tag], key)
		if len(s.keysByTag[tag]) == 0 {
			delete(s.keysByTag, tag)
		}
	}
	delete(s.tagsByKey, key)
}

// DeleteEntry removes an entry and its tag memberships
func (s *MemoryStore) DeleteEntry(_ context.Context, key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "store", "DeleteEntry", "key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(key)
	return nil
}

// DeleteMatching removes entries whose keys match the anchored glob pattern
func (s *MemoryStore) DeleteMatching(_ context.Context, pattern string) (int, error) {
	re, err := glob.Compile(pattern)
	if err != nil {
		return 0, errors.WrapInvalid(err, "store", "DeleteMatching", "compile pattern")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.entries {
		if re.MatchString(key) {
			s.deleteLocked(key)
			count++
		}
	}

	return count, nil
}

// DeleteExpired purges entries expired at now
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			s.deleteLocked(key)
			count++
		}
	}

	return count, nil
}

// DeleteAll removes every entry and all memberships
func (s *MemoryStore) DeleteAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.entries)
	s.entries = make(map[string]*Entry)
	s.tagsByKey = make(map[string]map[string]bool)
	s.keysByTag = make(map[string]map[string]bool)

	return count, nil
}

// CountEntries returns the number of stored entries
func (s *MemoryStore) CountEntries(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// SetTags replaces the key's tag memberships
func (s *MemoryStore) SetTags(_ context.Context, key string, tags []string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "store", "SetTags", "key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for tag := range s.tagsByKey[key] {
		delete(s.keysByTag[tag], key)
		if len(s.keysByTag[tag]) == 0 {
			delete(s.keysByTag, tag)
		}
	}
	delete(s.tagsByKey, key)

	if len(tags) == 0 {
		return nil
	}

	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[tag] = true
		if s.keysByTag[tag] == nil {
			s.keysByTag[tag] = make(map[string]bool)
		}
		s.keysByTag[tag][key] = true
	}
	s.tagsByKey[key] = tagSet

	return nil
}

// KeysForTag returns the keys labelled with the tag, sorted
func (s *MemoryStore) KeysForTag(_ context.Context, tag string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.keysByTag[tag]))
	for key := range s.keysByTag[tag] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys, nil
}

// DeleteByTag removes every entry labelled with the tag
func (s *MemoryStore) DeleteByTag(_ context.Context, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key := range s.keysByTag[tag] {
		s.deleteLocked(key)
		count++
	}

	return count, nil
}

// AppendSnapshot appends one statistics snapshot row
func (s *MemoryStore) AppendSnapshot(_ context.Context, snap StatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, snap)
	return nil
}

// SnapshotsSince returns snapshot rows at or after since, oldest first
func (s *MemoryStore) SnapshotsSince(_ context.Context, since time.Time) ([]StatsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []StatsSnapshot{}
	for _, snap := range s.snapshots {
		if !snap.Timestamp.Before(since) {
			out = append(out, snap)
		}
	}

	return out, nil
}

// AppendInvalidation appends one invalidation log row
func (s *MemoryStore) AppendInvalidation(_ context.Context, rec InvalidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidations = append(s.invalidations, rec)
	return nil
}

// InvalidationsSince returns invalidation rows at or after since, oldest first
func (s *MemoryStore) InvalidationsSince(_ context.Context, since time.Time) ([]InvalidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []InvalidationRecord{}
	for _, rec := range s.invalidations {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}

	return out, nil
}

func cloneConfig(cfg *WarmingConfig) *WarmingConfig {
	if cfg == nil {
		return nil
	}
	clone := *cfg
	if cfg.QueryParams != nil {
		clone.QueryParams = make(map[string]any, len(cfg.QueryParams))
		for k, v := range cfg.QueryParams {
			clone.QueryParams[k] = v
		}
	}
	return &clone
}

// CreateWarmingConfig creates a config; the name must be unused
func (s *MemoryStore) CreateWarmingConfig(_ context.Context, cfg *WarmingConfig) error {
	if cfg == nil || cfg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "CreateWarmingConfig", "config name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", errors.ErrConfigExists, cfg.Name)
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	s.configs[cfg.Name] = cloneConfig(cfg)
	return nil
}

// UpdateWarmingConfig replaces an existing config
func (s *MemoryStore) UpdateWarmingConfig(_ context.Context, cfg *WarmingConfig) error {
	if cfg == nil || cfg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "UpdateWarmingConfig", "config name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[cfg.Name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrConfigNotFound, cfg.Name)
	}

	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now()

	s.configs[cfg.Name] = cloneConfig(cfg)
	return nil
}

// GetWarmingConfig retrieves a config by name
func (s *MemoryStore) GetWarmingConfig(_ context.Context, name string) (*WarmingConfig, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "store", "GetWarmingConfig", "config name cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrConfigNotFound, name)
	}

	return cloneConfig(cfg), nil
}

// DeleteWarmingConfig removes a config by name
func (s *MemoryStore) DeleteWarmingConfig(_ context.Context, name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "DeleteWarmingConfig", "config name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[name]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrConfigNotFound, name)
	}

	delete(s.configs, name)
	return nil
}

// ListWarmingConfigs returns all configs, highest priority first
func (s *MemoryStore) ListWarmingConfigs(_ context.Context) ([]*WarmingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]*WarmingConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		configs = append(configs, cloneConfig(cfg))
	}

	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Priority != configs[j].Priority {
			return configs[i].Priority > configs[j].Priority
		}
		return configs[i].Name < configs[j].Name
	})

	return configs, nil
}

// interface check
var _ Store = (*MemoryStore)(nil)
var _ Store = (*NATSStore)(nil)
