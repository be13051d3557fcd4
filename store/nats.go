package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/natsclient"
	"github.com/c360/tiercache/pkg/glob"
)

// Bucket names used by the NATS-backed store
const (
	entriesBucket = "tiercache_entries"
	tagsBucket    = "tiercache_tags"
	warmingBucket = "tiercache_warming"
	historyBucket = "tiercache_history"
)

// History row key prefixes
const (
	statsPrefix        = "stats"
	invalidationPrefix = "inv"
)

// NATSStore implements Store on NATS JetStream KV buckets. Cache keys and
// tags are base64url-encoded before use as KV keys since they may contain
// characters NATS rejects; the real key always travels inside the row.
type NATSStore struct {
	entries *natsclient.KVStore
	tags    *natsclient.KVStore
	warming *natsclient.KVStore
	history *natsclient.KVStore
}

// NewNATSStore creates the KV buckets and returns a store over them
func NewNATSStore(client *natsclient.Client) (*NATSStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "store", "NewNATSStore", "nats client cannot be nil")
	}

	ctx := context.Background()

	buckets := []struct {
		name        string
		description string
		target      **natsclient.KVStore
	}{
		{entriesBucket, "Cache entries, JSON values keyed by encoded cache key", nil},
		{tagsBucket, "Tag membership rows: tag to key-set and key to tag-set", nil},
		{warmingBucket, "Cache warming job configurations", nil},
		{historyBucket, "Append-only stats snapshots and invalidation log", nil},
	}

	s := &NATSStore{}
	buckets[0].target = &s.entries
	buckets[1].target = &s.tags
	buckets[2].target = &s.warming
	buckets[3].target = &s.history

	for _, b := range buckets {
		bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      b.name,
			Description: b.description,
		})
		if err != nil {
			return nil, errors.WrapTransient(err, "store", "NewNATSStore",
				fmt.Sprintf("create KV bucket %s", b.name))
		}
		*b.target = client.NewKVStore(bucket)
	}

	return s, nil
}

// encodeKey maps an arbitrary cache key or tag onto the NATS KV key alphabet
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(encoded string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func tagRowKey(tag string) string { return "tag." + encodeKey(tag) }
func keyRowKey(key string) string { return "key." + encodeKey(key) }

// GetEntry retrieves an entry by key. A positive version is an exact-match
// filter; an entry with any other version reads as absent.
func (s *NATSStore) GetEntry(ctx context.Context, key string, version int) (*Entry, error) {
	if key == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidKey, "store", "GetEntry", "key cannot be empty")
	}

	row, err := s.entries.Get(ctx, encodeKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key)
		}
		return nil, errors.WrapTransient(err, "store", "GetEntry", "get from KV")
	}

	var entry Entry
	if err := json.Unmarshal(row.Value, &entry); err != nil {
		return nil, errors.WrapFatal(err, "store", "GetEntry", "unmarshal entry")
	}

	if version > 0 && entry.Version != version {
		return nil, fmt.Errorf("%w: %s (version %d)", errors.ErrKeyNotFound, key, version)
	}

	return &entry, nil
}

// PutEntry upserts an entry (last writer wins)
func (s *NATSStore) PutEntry(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "store", "PutEntry", "entry key cannot be empty")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.WrapFatal(err, "store", "PutEntry", "marshal entry")
	}

	if _, err := s.entries.Put(ctx, encodeKey(entry.Key), data); err != nil {
		return errors.WrapTransient(err, "store", "PutEntry", "put in KV")
	}

	return nil
}

// DeleteEntry removes an entry and its tag memberships. Deleting an
// absent key is not an error.
func (s *NATSStore) DeleteEntry(ctx context.Context, key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "store", "DeleteEntry", "key cannot be empty")
	}

	if err := s.entries.Delete(ctx, encodeKey(key)); err != nil {
		if !natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, "store", "DeleteEntry", "delete from KV")
		}
	}

	if err := s.replaceTagMemberships(ctx, key, nil); err != nil {
		return errors.WrapTransient(err, "store", "DeleteEntry", "remove tag memberships")
	}

	return nil
}

// entryKeys lists the decoded cache keys currently in the entries bucket
func (s *NATSStore) entryKeys(ctx context.Context) ([]string, error) {
	encoded, err := s.entries.Keys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(encoded))
	for _, enc := range encoded {
		if key, ok := decodeKey(enc); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// DeleteMatching removes every entry whose key matches the anchored glob
// pattern and returns the number removed
func (s *NATSStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	re, err := glob.Compile(pattern)
	if err != nil {
		return 0, errors.WrapInvalid(err, "store", "DeleteMatching", "compile pattern")
	}

	keys, err := s.entryKeys(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "store", "DeleteMatching", "list keys")
	}

	count := 0
	for _, key := range keys {
		if !re.MatchString(key) {
			continue
		}
		if err := s.DeleteEntry(ctx, key); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// DeleteExpired purges entries whose expiry is at or before now
func (s *NATSStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.entryKeys(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "store", "DeleteExpired", "list keys")
	}

	count := 0
	for _, key := range keys {
		entry, err := s.GetEntry(ctx, key, 0)
		if err != nil {
			if errors.IsNotFound(err) {
				continue // removed concurrently
			}
			return count, err
		}
		if !entry.Expired(now) {
			continue
		}
		if err := s.DeleteEntry(ctx, key); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// DeleteAll removes every entry and all tag memberships
func (s *NATSStore) DeleteAll(ctx context.Context) (int, error) {
	keys, err := s.entryKeys(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "store", "DeleteAll", "list keys")
	}

	count := 0
	for _, key := range keys {
		if err := s.DeleteEntry(ctx, key); err != nil {
			return count, err
		}
		count++
	}

	// Sweep any orphaned tag rows
	tagRows, err := s.tags.Keys(ctx)
	if err != nil {
		return count, errors.WrapTransient(err, "store", "DeleteAll", "list tag rows")
	}
	for _, row := range tagRows {
		if err := s.tags.Delete(ctx, row); err != nil && !natsclient.IsKVNotFoundError(err) {
			return count, errors.WrapTransient(err, "store", "DeleteAll", "delete tag row")
		}
	}

	return count, nil
}

// CountEntries returns the number of live entries. Key listing is used
// rather than bucket message counts, which include delete tombstones.
func (s *NATSStore) CountEntries(ctx context.Context) (int, error) {
	keys, err := s.entries.Keys(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "store", "CountEntries", "list keys")
	}
	return len(keys), nil
}

// SetTags replaces the key's tag memberships with the given set
func (s *NATSStore) SetTags(ctx context.Context, key string, tags []string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "store", "SetTags", "key cannot be empty")
	}

	if err := s.replaceTagMemberships(ctx, key, tags); err != nil {
		return errors.WrapTransient(err, "store", "SetTags", "replace memberships")
	}
	return nil
}

// replaceTagMemberships diffs the key's previous tag set against the new
// one and updates the forward (tag to keys) and reverse (key to tags)
// rows. Forward rows are updated under CAS since several keys may join or
// leave a tag concurrently.
func (s *NATSStore) replaceTagMemberships(ctx context.Context, key string, tags []string) error {
	keyRow := keyRowKey(key)

	previous := map[string]bool{}
	if row, err := s.tags.Get(ctx, keyRow); err == nil {
		var prev []string
		if err := json.Unmarshal(row.Value, &prev); err == nil {
			for _, t := range prev {
				previous[t] = true
			}
		}
	} else if !natsclient.IsKVNotFoundError(err) {
		return err
	}

	current := map[string]bool{}
	for _, t := range tags {
		current[t] = true
	}

	for tag := range previous {
		if !current[tag] {
			if err := s.updateTagSet(ctx, tag, key, false); err != nil {
				return err
			}
		}
	}
	for tag := range current {
		if !previous[tag] {
			if err := s.updateTagSet(ctx, tag, key, true); err != nil {
				return err
			}
		}
	}

	if len(current) == 0 {
		if err := s.tags.Delete(ctx, keyRow); err != nil && !natsclient.IsKVNotFoundError(err) {
			return err
		}
		return nil
	}

	sorted := make([]string, 0, len(current))
	for t := range current {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		return err
	}
	_, err = s.tags.Put(ctx, keyRow, data)
	return err
}

// updateTagSet adds or removes a key in a tag's key-set row under CAS
func (s *NATSStore) updateTagSet(ctx context.Context, tag, key string, add bool) error {
	return s.tags.UpdateWithRetry(ctx, tagRowKey(tag), func(current []byte) ([]byte, error) {
		keys := map[string]bool{}
		if len(current) > 0 {
			var list []string
			if err := json.Unmarshal(current, &list); err != nil {
				return nil, err
			}
			for _, k := range list {
				keys[k] = true
			}
		}

		if add {
			keys[key] = true
		} else {
			delete(keys, key)
		}

		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		return json.Marshal(sorted)
	})
}

// KeysForTag returns the keys currently labelled with the tag
func (s *NATSStore) KeysForTag(ctx context.Context, tag string) ([]string, error) {
	row, err := s.tags.Get(ctx, tagRowKey(tag))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return []string{}, nil
		}
		return nil, errors.WrapTransient(err, "store", "KeysForTag", "get tag row")
	}

	var keys []string
	if err := json.Unmarshal(row.Value, &keys); err != nil {
		return nil, errors.WrapFatal(err, "store", "KeysForTag", "unmarshal tag row")
	}
	return keys, nil
}

// DeleteByTag removes every entry labelled with the tag and returns the
// number removed
func (s *NATSStore) DeleteByTag(ctx context.Context, tag string) (int, error) {
	keys, err := s.KeysForTag(ctx, tag)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, key := range keys {
		if err := s.DeleteEntry(ctx, key); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// historyKey builds an append-only row key ordered by timestamp
func historyKey(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s.%d.%s", prefix, ts.UnixNano(), uuid.NewString())
}

// historyTimestamp extracts the nanosecond timestamp from a history row key
func historyTimestamp(key, prefix string) (int64, bool) {
	rest, found := strings.CutPrefix(key, prefix+".")
	if !found {
		return 0, false
	}
	nanoStr, _, found := strings.Cut(rest, ".")
	if !found {
		return 0, false
	}
	nano, err := strconv.ParseInt(nanoStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return nano, true
}

// appendHistory writes one immutable history row
func (s *NATSStore) appendHistory(ctx context.Context, prefix string, ts time.Time, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = s.history.Create(ctx, historyKey(prefix, ts), data)
	return err
}

// historyRowsSince collects history rows at or after since for a prefix
func (s *NATSStore) historyRowsSince(ctx context.Context, prefix string, since time.Time,
	decode func([]byte) error) error {

	keys, err := s.history.Keys(ctx)
	if err != nil {
		return err
	}

	sinceNano := since.UnixNano()
	matched := []string{}
	for _, key := range keys {
		nano, ok := historyTimestamp(key, prefix)
		if !ok || nano < sinceNano {
			continue
		}
		matched = append(matched, key)
	}
	sort.Strings(matched) // prefix and fixed-width epoch nanos sort chronologically

	for _, key := range matched {
		row, err := s.history.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return err
		}
		if err := decode(row.Value); err != nil {
			return err
		}
	}

	return nil
}

// AppendSnapshot appends one statistics snapshot row
func (s *NATSStore) AppendSnapshot(ctx context.Context, snap StatsSnapshot) error {
	if err := s.appendHistory(ctx, statsPrefix, snap.Timestamp, snap); err != nil {
		return errors.WrapTransient(err, "store", "AppendSnapshot", "append row")
	}
	return nil
}

// SnapshotsSince returns snapshot rows at or after since, oldest first
func (s *NATSStore) SnapshotsSince(ctx context.Context, since time.Time) ([]StatsSnapshot, error) {
	snaps := []StatsSnapshot{}
	err := s.historyRowsSince(ctx, statsPrefix, since, func(data []byte) error {
		var snap StatsSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		snaps = append(snaps, snap)
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "store", "SnapshotsSince", "read history")
	}
	return snaps, nil
}

// AppendInvalidation appends one invalidation log row
func (s *NATSStore) AppendInvalidation(ctx context.Context, rec InvalidationRecord) error {
	if err := s.appendHistory(ctx, invalidationPrefix, rec.Timestamp, rec); err != nil {
		return errors.WrapTransient(err, "store", "AppendInvalidation", "append row")
	}
	return nil
}

// InvalidationsSince returns invalidation rows at or after since, oldest first
func (s *NATSStore) InvalidationsSince(ctx context.Context, since time.Time) ([]InvalidationRecord, error) {
	recs := []InvalidationRecord{}
	err := s.historyRowsSince(ctx, invalidationPrefix, since, func(data []byte) error {
		var rec InvalidationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "store", "InvalidationsSince", "read history")
	}
	return recs, nil
}

// CreateWarmingConfig creates a config; the name must be unused
func (s *NATSStore) CreateWarmingConfig(ctx context.Context, cfg *WarmingConfig) error {
	if cfg == nil || cfg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "CreateWarmingConfig", "config name cannot be empty")
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapFatal(err, "store", "CreateWarmingConfig", "marshal config")
	}

	if _, err := s.warming.Create(ctx, encodeKey(cfg.Name), data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return fmt.Errorf("%w: %s", errors.ErrConfigExists, cfg.Name)
		}
		return errors.WrapTransient(err, "store", "CreateWarmingConfig", "create in KV")
	}

	return nil
}

// UpdateWarmingConfig replaces an existing config
func (s *NATSStore) UpdateWarmingConfig(ctx context.Context, cfg *WarmingConfig) error {
	if cfg == nil || cfg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "UpdateWarmingConfig", "config name cannot be empty")
	}

	existing, err := s.GetWarmingConfig(ctx, cfg.Name)
	if err != nil {
		return err
	}

	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now()

	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapFatal(err, "store", "UpdateWarmingConfig", "marshal config")
	}

	if _, err := s.warming.Put(ctx, encodeKey(cfg.Name), data); err != nil {
		return errors.WrapTransient(err, "store", "UpdateWarmingConfig", "put in KV")
	}

	return nil
}

// GetWarmingConfig retrieves a config by name
func (s *NATSStore) GetWarmingConfig(ctx context.Context, name string) (*WarmingConfig, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "store", "GetWarmingConfig", "config name cannot be empty")
	}

	row, err := s.warming.Get(ctx, encodeKey(name))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrConfigNotFound, name)
		}
		return nil, errors.WrapTransient(err, "store", "GetWarmingConfig", "get from KV")
	}

	var cfg WarmingConfig
	if err := json.Unmarshal(row.Value, &cfg); err != nil {
		return nil, errors.WrapFatal(err, "store", "GetWarmingConfig", "unmarshal config")
	}

	return &cfg, nil
}

// DeleteWarmingConfig removes a config by name
func (s *NATSStore) DeleteWarmingConfig(ctx context.Context, name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "DeleteWarmingConfig", "config name cannot be empty")
	}

	// KV deletes of absent keys succeed (tombstone write), so existence
	// is checked first to surface ErrConfigNotFound
	if _, err := s.GetWarmingConfig(ctx, name); err != nil {
		return err
	}

	if err := s.warming.Delete(ctx, encodeKey(name)); err != nil {
		return errors.WrapTransient(err, "store", "DeleteWarmingConfig", "delete from KV")
	}

	return nil
}

// ListWarmingConfigs returns all configs, highest priority first
func (s *NATSStore) ListWarmingConfigs(ctx context.Context) ([]*WarmingConfig, error) {
	names, err := s.warming.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "store", "ListWarmingConfigs", "list keys")
	}

	configs := make([]*WarmingConfig, 0, len(names))
	for _, enc := range names {
		name, ok := decodeKey(enc)
		if !ok {
			continue
		}
		cfg, err := s.GetWarmingConfig(ctx, name)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		configs = append(configs, cfg)
	}

	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Priority > configs[j].Priority
	})

	return configs, nil
}
