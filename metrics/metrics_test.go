package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsExporter(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	tests := []struct {
		name         string
		exporterType ExporterType
		cacheName    string
		labels       map[string]string
		wantType     any
	}{
		{
			name:         "Standard Exporter",
			exporterType: StandardExporter,
			cacheName:    "test-cache",
			wantType:     &CacheMetrics{},
		},
		{
			name:         "Prometheus Exporter",
			exporterType: PrometheusExporterType,
			cacheName:    "test-cache-prom",
			labels: map[string]string{
				"service": "test-service",
				"env":     "test",
			},
			wantType: &PrometheusMetricsExporter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := NewMetricsExporter(tt.exporterType, tt.cacheName, tt.labels)
			assert.IsType(t, tt.wantType, exporter)
		})
	}
}

func TestCacheMetrics(t *testing.T) {
	m := NewCacheMetrics()

	t.Run("Initial State", func(t *testing.T) {
		s := m.GetSnapshot()
		require.Zero(t, s.Hits)
		require.Zero(t, s.Misses)
		require.True(t, s.LastOperationTime.IsZero())
		require.Zero(t, s.FillPercentage)
		require.Zero(t, s.HitRatio())
	})

	t.Run("Entry Operations", func(t *testing.T) {
		before := time.Now()
		m.RecordHit()
		m.RecordHit()
		m.RecordHit()
		m.RecordMiss()
		m.RecordExpiration()
		m.RecordSave()
		m.RecordRemove()

		s := m.GetSnapshot()
		require.Equal(t, int64(3), s.Hits)
		require.Equal(t, int64(1), s.Misses)
		require.Equal(t, int64(1), s.Expirations)
		require.Equal(t, int64(1), s.Saves)
		require.Equal(t, int64(1), s.Removes)
		require.Equal(t, 0.75, s.HitRatio())
		require.False(t, s.LastOperationTime.Before(before))
	})

	t.Run("Invalidation", func(t *testing.T) {
		m.RecordClean(4)
		m.RecordClean(0)
		m.RecordDeleteError()

		s := m.GetSnapshot()
		require.Equal(t, int64(2), s.Cleans)
		require.Equal(t, int64(4), s.Invalidated)
		require.Equal(t, int64(1), s.DeleteErrors)
		require.False(t, s.LastClean.IsZero())
	})

	t.Run("Locks", func(t *testing.T) {
		m.RecordLock(true)
		m.RecordLock(false)
		m.RecordLock(false)

		s := m.GetSnapshot()
		require.Equal(t, int64(1), s.LocksAcquired)
		require.Equal(t, int64(2), s.LocksContended)
	})

	t.Run("Compression", func(t *testing.T) {
		m.RecordCompression(1000, 250)
		m.RecordCompression(1000, 750)

		s := m.GetSnapshot()
		require.Equal(t, int64(2), s.CompressedItems)
		require.Equal(t, int64(2000), s.UncompressedBytes)
		require.Equal(t, int64(1000), s.CompressedBytes)
		require.Equal(t, 0.5, s.CompressionRatio)
	})

	t.Run("Fill Percentage", func(t *testing.T) {
		m.UpdateFillPercentage(42.5)
		require.Equal(t, 42.5, m.GetSnapshot().FillPercentage)
	})

	t.Run("Reset", func(t *testing.T) {
		m.Reset()
		s := m.GetSnapshot()
		require.Equal(t, MetricsSnapshot{}, s)
	})
}
