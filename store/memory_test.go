package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entry := &Entry{
		Key:       "isolated",
		Value:     "v",
		Layer:     LayerLocal,
		Version:   1,
		ExpiresAt: time.Now().Add(time.Hour),
		Tags:      []string{"a"},
	}
	require.NoError(t, s.PutEntry(ctx, entry))

	// Mutating the caller's copy must not leak into the store
	entry.Tags[0] = "mutated"

	got, err := s.GetEntry(ctx, "isolated", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Tags)

	// Mutating a returned copy must not leak either
	got.Version = 99

	again, err := s.GetEntry(ctx, "isolated", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Version)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			entry := &Entry{
				Key:       key,
				Value:     n,
				Layer:     LayerLocal,
				Version:   1,
				ExpiresAt: time.Now().Add(time.Hour),
			}
			assert.NoError(t, s.PutEntry(ctx, entry))
			assert.NoError(t, s.SetTags(ctx, key, []string{"shared"}))
			_, err := s.GetEntry(ctx, key, 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	keys, err := s.KeysForTag(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, keys, 10)

	count, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestWarmingConfig_Due(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		cfg  WarmingConfig
		want bool
	}{
		{
			name: "due when interval elapsed",
			cfg: WarmingConfig{
				WarmOnSchedule:   true,
				ScheduleInterval: time.Minute,
				LastWarmedAt:     now.Add(-2 * time.Minute),
			},
			want: true,
		},
		{
			name: "not due before interval",
			cfg: WarmingConfig{
				WarmOnSchedule:   true,
				ScheduleInterval: time.Hour,
				LastWarmedAt:     now.Add(-time.Minute),
			},
			want: false,
		},
		{
			name: "never warmed is due",
			cfg: WarmingConfig{
				WarmOnSchedule:   true,
				ScheduleInterval: time.Minute,
			},
			want: true,
		},
		{
			name: "schedule disabled",
			cfg: WarmingConfig{
				WarmOnSchedule:   false,
				ScheduleInterval: time.Minute,
			},
			want: false,
		},
		{
			name: "zero interval",
			cfg:  WarmingConfig{WarmOnSchedule: true},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.Due(now))
		})
	}
}

func TestEntry_Expired(t *testing.T) {
	now := time.Now()

	fresh := &Entry{ExpiresAt: now.Add(time.Second)}
	assert.False(t, fresh.Expired(now))

	stale := &Entry{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, stale.Expired(now))

	boundary := &Entry{ExpiresAt: now}
	assert.True(t, boundary.Expired(now))
}
