package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	assert.NotPanics(t, func() {
		collector.IncReconnect()
		collector.IncRetry("find_one")
		collector.IncExhausted("find_one")
		collector.IncLockWait("arcade")
	})
}

func TestPrometheusCollectorCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(registry)
	require.NoError(t, err)

	collector.IncReconnect()
	collector.IncReconnect()
	collector.IncRetry("insert_one")
	collector.IncExhausted("insert_one")
	collector.IncLockWait("arcade")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.reconnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.retries.WithLabelValues("insert_one")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.exhausted.WithLabelValues("insert_one")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.lockWaits.WithLabelValues("arcade")))
}

func TestPrometheusCollectorToleratesDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	first, err := NewPrometheusCollector(registry)
	require.NoError(t, err)

	second, err := NewPrometheusCollector(registry)
	require.NoError(t, err)

	// both collectors feed the same registered series
	first.IncRetry("find_one")
	second.IncRetry("find_one")
	assert.Equal(t, float64(2), testutil.ToFloat64(first.retries.WithLabelValues("find_one")))
}
