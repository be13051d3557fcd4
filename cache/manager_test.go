package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/metric"
	"github.com/c360/tiercache/store"
)

// fakeClock lets tests move time forward deterministically
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *fakeClock) {
	t.Helper()

	s := store.NewMemoryStore()
	clock := newFakeClock()

	m, err := NewManager(s, WithClock(clock))
	require.NoError(t, err)

	return m, s, clock
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := NewManager(nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestManager_TTLCorrectness(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", WithTTL(60*time.Second)))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	clock.Advance(61 * time.Second)

	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManager_DefaultTTL(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v"))

	clock.Advance(299 * time.Second)
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestManager_VersionExactness(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", WithVersion(2)))

	_, ok := m.GetVersion(ctx, "k", 1)
	assert.False(t, ok, "version 1 read must miss even though the key exists")

	got, ok := m.GetVersion(ctx, "k", 2)
	require.True(t, ok)
	assert.Equal(t, "v", got)

	got, ok = m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestManager_PatternInvalidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "prompt:1", "a"))
	require.NoError(t, m.Set(ctx, "prompt:2", "b"))
	require.NoError(t, m.Set(ctx, "other:1", "c"))

	count, err := m.InvalidatePattern(ctx, "prompt:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, ok := m.Get(ctx, "prompt:1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "prompt:2")
	assert.False(t, ok)

	got, ok := m.Get(ctx, "other:1")
	require.True(t, ok)
	assert.Equal(t, "c", got)
}

func TestManager_PatternIsAnchored(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a-prompt:1", "x"))

	count, err := m.InvalidatePattern(ctx, "prompt:*")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, ok := m.Get(ctx, "a-prompt:1")
	assert.True(t, ok)
}

func TestManager_TagInvalidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", WithTags("t")))
	require.NoError(t, m.Set(ctx, "k2", "v2", WithTags("t")))
	require.NoError(t, m.Set(ctx, "k3", "v3", WithTags("other")))

	count, err := m.InvalidateByTag(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, ok := m.Get(ctx, "k1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "k2")
	assert.False(t, ok)

	// k3 was flushed locally but survives in the durable store
	got, ok := m.Get(ctx, "k3")
	require.True(t, ok)
	assert.Equal(t, "v3", got)
}

func TestManager_VersionInvalidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "old", "v", WithVersion(1)))
	require.NoError(t, m.Set(ctx, "new", "v", WithVersion(5)))

	require.NoError(t, m.InvalidateByVersion(ctx, "old", 3))
	require.NoError(t, m.InvalidateByVersion(ctx, "new", 3))

	_, ok := m.Get(ctx, "old")
	assert.False(t, ok)

	_, ok = m.Get(ctx, "new")
	assert.True(t, ok, "newer generations survive version invalidation")
}

func TestManager_Clear(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1"))
	require.NoError(t, m.Set(ctx, "k2", "v2"))

	require.NoError(t, m.Clear(ctx))

	_, ok := m.Get(ctx, "k1")
	assert.False(t, ok)

	count, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestManager_ColdStartScenario(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v", WithTTL(60*time.Second)))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	stats := m.GetStats(ctx)
	assert.Equal(t, int64(1), stats.Local.Hits)
	assert.Equal(t, int64(1), stats.Local.Misses)
}

func TestManager_HitRateArithmetic(t *testing.T) {
	stats := NewStatistics()

	assert.Equal(t, 0.0, stats.HitRate(), "no requests yet must not divide by zero")

	for i := 0; i < 80; i++ {
		stats.Hit("k")
	}
	for i := 0; i < 20; i++ {
		stats.Miss()
	}

	assert.Equal(t, 80.0, stats.HitRate())
}

func TestManager_ReadThroughPopulatesLocal(t *testing.T) {
	m, s, clock := newTestManager(t)
	ctx := context.Background()

	// Entry exists only in the durable store, as if written by another process
	entry := &store.Entry{
		Key:       "remote",
		Value:     "v",
		Layer:     store.LayerDistributed,
		Version:   1,
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutEntry(ctx, entry))

	got, ok := m.Get(ctx, "remote")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	// Second read is served locally even after the store copy vanishes
	require.NoError(t, s.DeleteEntry(ctx, "remote"))
	_, ok = m.Get(ctx, "remote")
	assert.True(t, ok)
}

func TestManager_ReadThroughMissReturnsAbsent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	// A key in neither tier reads as absent, including under concurrent
	// reads deduplicated into one store round trip
	got, ok := m.Get(ctx, "nowhere")
	assert.False(t, ok)
	assert.Nil(t, got)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := m.Get(ctx, "nowhere")
			assert.False(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), m.Statistics().Hits())
}

func TestManager_ReadThroughHitCountsEntryLayer(t *testing.T) {
	s := store.NewMemoryStore()
	clock := newFakeClock()
	registry := metric.NewRegistry()

	m, err := NewManager(s, WithClock(clock), WithMetrics(registry))
	require.NoError(t, err)

	ctx := context.Background()
	entry := &store.Entry{
		Key:       "archived",
		Value:     "v",
		Layer:     store.LayerDurable,
		Version:   1,
		ExpiresAt: clock.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutEntry(ctx, entry))

	_, ok := m.Get(ctx, "archived")
	require.True(t, ok)

	// The hit is attributed to the entry's own layer
	requests := registry.Core.CacheRequests
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("durable", "hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(requests.WithLabelValues("distributed", "hit")))
}

func TestManager_ExpiredDurableEntryIsPurged(t *testing.T) {
	m, s, clock := newTestManager(t)
	ctx := context.Background()

	entry := &store.Entry{
		Key:       "stale",
		Value:     "v",
		Layer:     store.LayerDistributed,
		Version:   1,
		ExpiresAt: clock.Now().Add(-time.Minute),
	}
	require.NoError(t, s.PutEntry(ctx, entry))

	_, ok := m.Get(ctx, "stale")
	assert.False(t, ok)

	_, err := s.GetEntry(ctx, "stale", 0)
	assert.True(t, errors.IsNotFound(err), "expired durable copy is deleted on read")
}

// failingStore wraps a Store and fails every entry read
type failingStore struct {
	store.Store
	reads atomic.Int64
}

func (f *failingStore) GetEntry(ctx context.Context, key string, version int) (*store.Entry, error) {
	f.reads.Add(1)
	return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "store", "GetEntry", "connect")
}

func TestManager_StoreFailureDegradesToMiss(t *testing.T) {
	failing := &failingStore{Store: store.NewMemoryStore()}

	m, err := NewManager(failing, WithClock(newFakeClock()))
	require.NoError(t, err)

	ctx := context.Background()

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok, "store failure must read as a miss, not an error")
	assert.Equal(t, int64(1), m.Statistics().Misses())
}

func TestManager_LocalWriteStandsOnDurableFailure(t *testing.T) {
	failing := &failingStore{Store: store.NewMemoryStore()}

	m, err := NewManager(failing, WithClock(newFakeClock()))
	require.NoError(t, err)

	ctx := context.Background()

	// failingStore only fails reads; make writes fail too
	require.NoError(t, m.Set(ctx, "k", "v", WithLayer(store.LayerLocal)))

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestManager_Touch(t *testing.T) {
	m, s, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", WithTTL(60*time.Second)))

	clock.Advance(50 * time.Second)
	require.NoError(t, m.Touch(ctx, "k", 60*time.Second))

	clock.Advance(30 * time.Second)
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok, "touch extended the entry past its original expiry")

	// Explicit TTL propagates to the durable copy
	entry, err := s.GetEntry(ctx, "k", 0)
	require.NoError(t, err)
	assert.True(t, entry.ExpiresAt.After(clock.Now()))
}

func TestManager_GetKeyInfo(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", WithTags("t")))

	_, ok := m.Get(ctx, "k")
	require.True(t, ok)

	info, err := m.GetKeyInfo(ctx, "k")
	require.NoError(t, err)
	assert.True(t, info.Local)
	require.NotNil(t, info.Durable)
	assert.Equal(t, []string{"t"}, info.Durable.Tags)
	assert.Equal(t, int64(1), info.Hits)

	info, err = m.GetKeyInfo(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, info.Local)
	assert.Nil(t, info.Durable)
}

func TestManager_Lifecycle(t *testing.T) {
	m, s, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), errors.ErrAlreadyStarted)

	require.NoError(t, m.Set(ctx, "k", "v"))
	_ = s
	_ = clock

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), errors.ErrNotStarted)
}

func TestManager_BackgroundSweep(t *testing.T) {
	s := store.NewMemoryStore()
	clock := newFakeClock()

	m, err := NewManager(s,
		WithClock(clock),
		WithCleanupInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", WithTTL(time.Second)))
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		count, err := s.CountEntries(ctx)
		return err == nil && count == 0
	}, time.Second, 10*time.Millisecond, "sweep purges the expired durable entry")
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%5))
			assert.NoError(t, m.Set(ctx, key, n))
			m.Get(ctx, key)
			if n%5 == 0 {
				assert.NoError(t, m.Delete(ctx, key))
			}
		}(i)
	}
	wg.Wait()
}

func TestManager_InvalidationHistory(t *testing.T) {
	m, s, clock := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v"))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err := m.InvalidatePattern(ctx, "p:*")
	require.NoError(t, err)
	_, err = m.InvalidateByTag(ctx, "t")
	require.NoError(t, err)

	recs, err := s.InvalidationsSince(ctx, clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	types := []store.InvalidationType{recs[0].Type, recs[1].Type, recs[2].Type}
	assert.Contains(t, types, store.InvalidationManual)
	assert.Contains(t, types, store.InvalidationPattern)
	assert.Contains(t, types, store.InvalidationTag)
}

func TestStatistics_TopKeys(t *testing.T) {
	stats := NewStatistics()

	for i := 0; i < 5; i++ {
		stats.Hit("hot")
	}
	for i := 0; i < 2; i++ {
		stats.Hit("warm")
	}
	stats.Hit("cool")

	top := stats.TopKeys(2)
	require.Len(t, top, 2)
	assert.Equal(t, "hot", top[0].Key)
	assert.Equal(t, int64(5), top[0].Hits)
	assert.Equal(t, "warm", top[1].Key)
}

func TestStatistics_Latency(t *testing.T) {
	stats := NewStatistics()

	assert.Equal(t, time.Duration(0), stats.AvgLatency())

	stats.RecordLatency(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, stats.AvgLatency())

	stats.RecordLatency(200 * time.Millisecond)
	avg := stats.AvgLatency()
	assert.Greater(t, avg, 100*time.Millisecond)
	assert.Less(t, avg, 200*time.Millisecond)
}
