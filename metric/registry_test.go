package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tiercache/errors"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	require.NotNil(t, r.Core)
	require.NotNil(t, r.PrometheusRegistry())
}

func TestRegistry_RegisterCounter(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test counter",
	})

	err := r.RegisterCounter("cache", "test_counter", counter)
	require.NoError(t, err)

	// Re-registering the same key must fail with an invalid classification
	err = r.RegisterCounter("cache", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_RegisterGauge_PrometheusConflict(t *testing.T) {
	r := NewRegistry()

	gauge1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "g"})
	gauge2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "g"})

	require.NoError(t, r.RegisterGauge("warm", "g1", gauge1))

	// Same fully-qualified name under a different registry key conflicts
	// at the Prometheus level.
	err := r.RegisterGauge("warm", "g2", gauge2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "removable_total",
		Help: "test",
	})
	require.NoError(t, r.RegisterCounter("monitor", "removable", counter))

	assert.True(t, r.Unregister("monitor", "removable"))
	assert.False(t, r.Unregister("monitor", "removable"), "second unregister should report absence")

	// Key is free again after unregister
	require.NoError(t, r.RegisterCounter("monitor", "removable", counter))
}

func TestCoreMetrics_Recorders(t *testing.T) {
	// Recorder methods must not panic with arbitrary label values.
	c := NewCoreMetrics()

	c.RecordCacheRequest("local", "hit")
	c.RecordCacheRequest("durable", "miss")
	c.RecordOperationDuration("get", 0)
	c.RecordCacheSize("local", 7)
	c.RecordInvalidation("pattern")
	c.RecordWarmingRun("popular_prompts", "success", 0)
	c.RecordWarmingRun("popular_prompts", "skipped", 0)
	c.RecordHealthStatus("cache", true)
	c.RecordActiveAlerts(2)
	c.RecordStoreOperation("put_entry", nil)
	c.RecordStoreOperation("put_entry", assert.AnError)
	c.RecordNATSStatus(true)
}
