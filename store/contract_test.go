package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tiercache/errors"
)

// runStoreContract exercises the Store contract against any implementation.
// The store must start empty.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	newEntry := func(key string, version int, tags ...string) *Entry {
		now := time.Now()
		return &Entry{
			Key:       key,
			Value:     map[string]any{"payload": key},
			Layer:     LayerDistributed,
			Version:   version,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
			Tags:      tags,
		}
	}

	t.Run("entry round trip", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, newEntry("round:trip", 1)))

		got, err := s.GetEntry(ctx, "round:trip", 0)
		require.NoError(t, err)
		assert.Equal(t, "round:trip", got.Key)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, LayerDistributed, got.Layer)

		require.NoError(t, s.DeleteEntry(ctx, "round:trip"))

		_, err = s.GetEntry(ctx, "round:trip", 0)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("version filter is exact match", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, newEntry("versioned", 2)))

		_, err := s.GetEntry(ctx, "versioned", 1)
		assert.True(t, errors.IsNotFound(err))

		got, err := s.GetEntry(ctx, "versioned", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)

		got, err = s.GetEntry(ctx, "versioned", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)

		require.NoError(t, s.DeleteEntry(ctx, "versioned"))
	})

	t.Run("delete absent key is not an error", func(t *testing.T) {
		assert.NoError(t, s.DeleteEntry(ctx, "never:written"))
	})

	t.Run("delete matching pattern", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, newEntry("prompt:1", 1)))
		require.NoError(t, s.PutEntry(ctx, newEntry("prompt:2", 1)))
		require.NoError(t, s.PutEntry(ctx, newEntry("other:1", 1)))

		count, err := s.DeleteMatching(ctx, "prompt:*")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		_, err = s.GetEntry(ctx, "prompt:1", 0)
		assert.True(t, errors.IsNotFound(err))

		_, err = s.GetEntry(ctx, "other:1", 0)
		assert.NoError(t, err)

		require.NoError(t, s.DeleteEntry(ctx, "other:1"))
	})

	t.Run("tag membership and delete by tag", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, newEntry("tagged:1", 1, "hot")))
		require.NoError(t, s.PutEntry(ctx, newEntry("tagged:2", 1, "hot")))
		require.NoError(t, s.PutEntry(ctx, newEntry("tagged:3", 1, "cold")))

		require.NoError(t, s.SetTags(ctx, "tagged:1", []string{"hot"}))
		require.NoError(t, s.SetTags(ctx, "tagged:2", []string{"hot"}))
		require.NoError(t, s.SetTags(ctx, "tagged:3", []string{"cold"}))

		keys, err := s.KeysForTag(ctx, "hot")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"tagged:1", "tagged:2"}, keys)

		count, err := s.DeleteByTag(ctx, "hot")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		keys, err = s.KeysForTag(ctx, "hot")
		require.NoError(t, err)
		assert.Empty(t, keys)

		// the cold entry is untouched
		_, err = s.GetEntry(ctx, "tagged:3", 0)
		assert.NoError(t, err)

		require.NoError(t, s.DeleteEntry(ctx, "tagged:3"))

		// deleting the entry removed its membership
		keys, err = s.KeysForTag(ctx, "cold")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("set tags replaces memberships", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, newEntry("retag", 1)))
		require.NoError(t, s.SetTags(ctx, "retag", []string{"a", "b"}))
		require.NoError(t, s.SetTags(ctx, "retag", []string{"b", "c"}))

		keys, err := s.KeysForTag(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, keys)

		keys, err = s.KeysForTag(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"retag"}, keys)

		require.NoError(t, s.DeleteEntry(ctx, "retag"))
	})

	t.Run("delete expired", func(t *testing.T) {
		now := time.Now()

		fresh := newEntry("fresh", 1)
		stale := newEntry("stale", 1)
		stale.ExpiresAt = now.Add(-time.Minute)

		require.NoError(t, s.PutEntry(ctx, fresh))
		require.NoError(t, s.PutEntry(ctx, stale))

		count, err := s.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		_, err = s.GetEntry(ctx, "stale", 0)
		assert.True(t, errors.IsNotFound(err))

		_, err = s.GetEntry(ctx, "fresh", 0)
		assert.NoError(t, err)

		require.NoError(t, s.DeleteEntry(ctx, "fresh"))
	})

	t.Run("count and delete all", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, newEntry("bulk:1", 1)))
		require.NoError(t, s.PutEntry(ctx, newEntry("bulk:2", 1)))

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		removed, err := s.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		count, err = s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("history rows", func(t *testing.T) {
		base := time.Now()

		old := StatsSnapshot{Layer: LayerLocal, Timestamp: base.Add(-2 * time.Hour), HitCount: 1}
		recent := StatsSnapshot{Layer: LayerLocal, Timestamp: base.Add(-time.Minute), HitCount: 9, MissCount: 1, HitRate: 90}

		require.NoError(t, s.AppendSnapshot(ctx, old))
		require.NoError(t, s.AppendSnapshot(ctx, recent))

		snaps, err := s.SnapshotsSince(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, int64(9), snaps[0].HitCount)

		snaps, err = s.SnapshotsSince(ctx, base.Add(-3*time.Hour))
		require.NoError(t, err)
		assert.Len(t, snaps, 2)

		rec := InvalidationRecord{
			KeyOrPattern: "prompt:*",
			Type:         InvalidationPattern,
			Reason:       "deploy",
			Timestamp:    base,
		}
		require.NoError(t, s.AppendInvalidation(ctx, rec))

		recs, err := s.InvalidationsSince(ctx, base.Add(-time.Second))
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, InvalidationPattern, recs[0].Type)
		assert.Equal(t, "prompt:*", recs[0].KeyOrPattern)
	})

	t.Run("warming config lifecycle", func(t *testing.T) {
		cfg := &WarmingConfig{
			Name:             "popular_prompts",
			KeyPattern:       "prompt:popular",
			QueryFunction:    "fetch_popular",
			WarmOnStartup:    true,
			WarmOnSchedule:   true,
			ScheduleInterval: time.Hour,
			Priority:         10,
		}

		require.NoError(t, s.CreateWarmingConfig(ctx, cfg))

		err := s.CreateWarmingConfig(ctx, &WarmingConfig{Name: "popular_prompts"})
		assert.ErrorIs(t, err, errors.ErrConfigExists)

		got, err := s.GetWarmingConfig(ctx, "popular_prompts")
		require.NoError(t, err)
		assert.Equal(t, "fetch_popular", got.QueryFunction)
		assert.False(t, got.CreatedAt.IsZero())

		got.Priority = 20
		require.NoError(t, s.UpdateWarmingConfig(ctx, got))

		low := &WarmingConfig{Name: "recent_searches", QueryFunction: "fetch_recent", Priority: 5}
		require.NoError(t, s.CreateWarmingConfig(ctx, low))

		configs, err := s.ListWarmingConfigs(ctx)
		require.NoError(t, err)
		require.Len(t, configs, 2)
		assert.Equal(t, "popular_prompts", configs[0].Name) // highest priority first

		require.NoError(t, s.DeleteWarmingConfig(ctx, "popular_prompts"))
		require.NoError(t, s.DeleteWarmingConfig(ctx, "recent_searches"))

		_, err = s.GetWarmingConfig(ctx, "popular_prompts")
		assert.ErrorIs(t, err, errors.ErrConfigNotFound)

		err = s.DeleteWarmingConfig(ctx, "popular_prompts")
		assert.ErrorIs(t, err, errors.ErrConfigNotFound)
	})
}
