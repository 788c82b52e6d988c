// Package metrics provides functionality for collecting and reporting tag cache metrics.
package metrics

import (
	"sync/atomic"
	"time"
)

// CacheMetrics represents unified metrics for a tag cache
type CacheMetrics struct {
	// Entry Metrics
	Hits              atomic.Int64
	Misses            atomic.Int64
	Expirations       atomic.Int64
	Saves             atomic.Int64
	Removes           atomic.Int64
	LastOperationTime atomic.Value // time.Time

	// Invalidation Metrics
	Cleans       atomic.Int64
	Invalidated  atomic.Int64
	DeleteErrors atomic.Int64
	LastClean    atomic.Value // time.Time

	// Lock Metrics
	LocksAcquired  atomic.Int64
	LocksContended atomic.Int64

	// Compression Metrics
	CompressedItems   atomic.Int64
	CompressedBytes   atomic.Int64
	UncompressedBytes atomic.Int64
	CompressionRatio  atomic.Value // float64

	// Capacity
	FillPercentage atomic.Value // float64
}

// MetricsSnapshot is a thread-safe copy of metrics
type MetricsSnapshot struct {
	// Entries
	Hits              int64
	Misses            int64
	Expirations       int64
	Saves             int64
	Removes           int64
	LastOperationTime time.Time

	// Invalidation
	Cleans       int64
	Invalidated  int64
	DeleteErrors int64
	LastClean    time.Time

	// Locks
	LocksAcquired  int64
	LocksContended int64

	// Compression
	CompressedItems   int64
	CompressedBytes   int64
	UncompressedBytes int64
	CompressionRatio  float64

	// Capacity
	FillPercentage float64
}

// HitRatio returns hits over lookups, 0 when nothing was looked up
func (s MetricsSnapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NewCacheMetrics creates a new CacheMetrics instance
func NewCacheMetrics() *CacheMetrics {
	metrics := &CacheMetrics{}
	metrics.LastOperationTime.Store(time.Time{})
	metrics.LastClean.Store(time.Time{})
	metrics.CompressionRatio.Store(0.0)
	metrics.FillPercentage.Store(0.0)
	return metrics
}

// GetSnapshot returns a thread-safe copy of current metrics
func (m *CacheMetrics) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:              m.Hits.Load(),
		Misses:            m.Misses.Load(),
		Expirations:       m.Expirations.Load(),
		Saves:             m.Saves.Load(),
		Removes:           m.Removes.Load(),
		LastOperationTime: m.LastOperationTime.Load().(time.Time),
		Cleans:            m.Cleans.Load(),
		Invalidated:       m.Invalidated.Load(),
		DeleteErrors:      m.DeleteErrors.Load(),
		LastClean:         m.LastClean.Load().(time.Time),
		LocksAcquired:     m.LocksAcquired.Load(),
		LocksContended:    m.LocksContended.Load(),
		CompressedItems:   m.CompressedItems.Load(),
		CompressedBytes:   m.CompressedBytes.Load(),
		UncompressedBytes: m.UncompressedBytes.Load(),
		CompressionRatio:  m.CompressionRatio.Load().(float64),
		FillPercentage:    m.FillPercentage.Load().(float64),
	}
}

// RecordHit records a load that returned a live entry
func (m *CacheMetrics) RecordHit() {
	m.Hits.Add(1)
	m.LastOperationTime.Store(time.Now())
}

// RecordMiss records a load that found nothing
func (m *CacheMetrics) RecordMiss() {
	m.Misses.Add(1)
	m.LastOperationTime.Store(time.Now())
}

// RecordExpiration records an entry found expired on read
func (m *CacheMetrics) RecordExpiration() {
	m.Expirations.Add(1)
}

// RecordSave records a stored entry
func (m *CacheMetrics) RecordSave() {
	m.Saves.Add(1)
	m.LastOperationTime.Store(time.Now())
}

// RecordRemove records an explicit removal
func (m *CacheMetrics) RecordRemove() {
	m.Removes.Add(1)
}

// RecordClean records a finished invalidation and how many entries it deleted
func (m *CacheMetrics) RecordClean(invalidated int64) {
	m.Cleans.Add(1)
	m.Invalidated.Add(invalidated)
	m.LastClean.Store(time.Now())
}

// RecordDeleteError records a member delete that failed during invalidation
func (m *CacheMetrics) RecordDeleteError() {
	m.DeleteErrors.Add(1)
}

// RecordLock records a lock attempt
func (m *CacheMetrics) RecordLock(acquired bool) {
	if acquired {
		m.LocksAcquired.Add(1)
		return
	}
	m.LocksContended.Add(1)
}

// RecordCompression records one compressed payload
func (m *CacheMetrics) RecordCompression(uncompressed, compressed int) {
	m.CompressedItems.Add(1)
	total := m.UncompressedBytes.Add(int64(uncompressed))
	packed := m.CompressedBytes.Add(int64(compressed))
	if total > 0 {
		m.CompressionRatio.Store(float64(packed) / float64(total))
	}
}

// UpdateFillPercentage records the last reported fill percentage
func (m *CacheMetrics) UpdateFillPercentage(percent float64) {
	m.FillPercentage.Store(percent)
}

// Reset resets all metrics to zero
func (m *CacheMetrics) Reset() {
	m.Hits.Store(0)
	m.Misses.Store(0)
	m.Expirations.Store(0)
	m.Saves.Store(0)
	m.Removes.Store(0)
	m.LastOperationTime.Store(time.Time{})
	m.Cleans.Store(0)
	m.Invalidated.Store(0)
	m.DeleteErrors.Store(0)
	m.LastClean.Store(time.Time{})
	m.LocksAcquired.Store(0)
	m.LocksContended.Store(0)
	m.CompressedItems.Store(0)
	m.CompressedBytes.Store(0)
	m.UncompressedBytes.Store(0)
	m.CompressionRatio.Store(0.0)
	m.FillPercentage.Store(0.0)
}
