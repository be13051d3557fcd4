package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tiercache/cache"
	"github.com/c360/tiercache/errors"
	"github.com/c360/tiercache/monitor"
	"github.com/c360/tiercache/store"
	"github.com/c360/tiercache/warm"
)

func newTestFacade(t *testing.T) (*Facade, *cache.Manager, *warm.Warmer) {
	t.Helper()

	s := store.NewMemoryStore()

	manager, err := cache.NewManager(s)
	require.NoError(t, err)

	warmer, err := warm.NewWarmer(manager, s)
	require.NoError(t, err)

	mon, err := monitor.NewMonitor(manager, s)
	require.NoError(t, err)

	f, err := NewFacade(manager, warmer, mon, s)
	require.NoError(t, err)

	return f, manager, warmer
}

func TestNewFacade_RequiresComponents(t *testing.T) {
	_, err := NewFacade(nil, nil, nil, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestFacade_Invalidation(t *testing.T) {
	f, manager, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a:1", "v", cache.WithTags("t")))
	require.NoError(t, manager.Set(ctx, "a:2", "v", cache.WithTags("t")))
	require.NoError(t, manager.Set(ctx, "b:1", "v"))

	require.NoError(t, f.InvalidateKey(ctx, "b:1"))
	_, ok := manager.Get(ctx, "b:1")
	assert.False(t, ok)

	count, err := f.InvalidatePattern(ctx, "a:*")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, manager.Set(ctx, "c:1", "v", cache.WithTags("x")))
	count, err = f.InvalidateTag(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, manager.Set(ctx, "d:1", "v"))
	require.NoError(t, f.ClearAll(ctx))
	_, ok = manager.Get(ctx, "d:1")
	assert.False(t, ok)
}

func TestFacade_BulkInvalidate(t *testing.T) {
	f, manager, _ := newTestFacade(t)
	ctx := context.Background()

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = "bulk:" + string(rune('a'+i))
		require.NoError(t, manager.Set(ctx, keys[i], i))
	}

	count, err := f.BulkInvalidate(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	for _, key := range keys {
		_, ok := manager.Get(ctx, key)
		assert.False(t, ok, "key %s survived bulk invalidation", key)
	}

	count, err = f.BulkInvalidate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFacade_StatsAndTopKeys(t *testing.T) {
	f, manager, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "hot", "v"))
	for i := 0; i < 3; i++ {
		_, ok := manager.Get(ctx, "hot")
		require.True(t, ok)
	}

	stats := f.GetStats(ctx)
	assert.Equal(t, int64(3), stats.Local.Hits)

	top := f.GetTopKeys(5)
	require.NotEmpty(t, top)
	assert.Equal(t, "hot", top[0].Key)
}

func TestFacade_InvalidationHistory(t *testing.T) {
	f, manager, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v"))
	require.NoError(t, f.InvalidateKey(ctx, "k"))

	recs, err := f.GetInvalidationHistory(ctx, monitor.PeriodDay)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.InvalidationManual, recs[0].Type)

	_, err = f.GetInvalidationHistory(ctx, monitor.Period("decade"))
	assert.True(t, errors.IsInvalid(err))
}

func TestFacade_WarmCache(t *testing.T) {
	f, manager, warmer := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.CreateWarmingConfig(ctx, &store.WarmingConfig{
		Name:          "popular",
		KeyPattern:    "prompts:popular",
		QueryFunction: "fetch",
	}))

	warmer.Register("fetch", func(context.Context, map[string]any) (any, error) {
		return "warmed-value", nil
	})

	require.NoError(t, f.WarmCache(ctx, "popular"))

	got, ok := manager.Get(ctx, "prompts:popular")
	require.True(t, ok)
	assert.Equal(t, "warmed-value", got)

	configs, err := f.ListWarmingConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)

	require.NoError(t, f.DeleteWarmingConfig(ctx, "popular"))
}

func TestFacade_SystemHealth(t *testing.T) {
	f, _, _ := newTestFacade(t)

	status := f.SystemHealth()
	assert.Equal(t, "tiercache", status.Component)
	// Background loops are not started, so components read degraded
	assert.True(t, status.IsDegraded())
	assert.Len(t, status.SubStatuses, 3)
}

func TestFacade_ConfigRoundTrip(t *testing.T) {
	f, _, _ := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, f.CreateWarmingConfig(ctx, &store.WarmingConfig{
		Name:          "job-a",
		KeyPattern:    "k:a",
		QueryFunction: "fn",
		Priority:      3,
	}))
	require.NoError(t, f.SetThresholds(monitor.Thresholds{
		MinHitRate:      55,
		MaxResponseTime: 250 * time.Millisecond,
	}))

	export, err := f.ExportConfig(ctx)
	require.NoError(t, err)
	require.Len(t, export.WarmingConfigs, 1)
	assert.Equal(t, 55.0, export.Thresholds.MinHitRate)

	// Import into a fresh engine
	f2, _, _ := newTestFacade(t)
	require.NoError(t, f2.ImportConfig(ctx, export))

	configs, err := f2.ListWarmingConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "job-a", configs[0].Name)
	assert.Equal(t, 3, configs[0].Priority)

	reexport, err := f2.ExportConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, export.Thresholds, reexport.Thresholds)

	// Importing again upserts rather than failing on the existing name
	require.NoError(t, f2.ImportConfig(ctx, export))
}

func TestFacade_ImportConfig_NilExport(t *testing.T) {
	f, _, _ := newTestFacade(t)
	assert.True(t, errors.IsInvalid(f.ImportConfig(context.Background(), nil)))
}
