package metrics

import (
	stderrors "errors"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
)

// ExporterType defines the type of metrics exporter
type ExporterType string

const (
	// StandardExporter uses the default metrics implementation
	StandardExporter ExporterType = "standard"
	// PrometheusExporterType uses Prometheus metrics
	PrometheusExporterType ExporterType = "prometheus"
)

// MetricsExporter defines the interface for metrics exporters
type MetricsExporter interface {
	// RecordHit records a load that returned a live entry
	RecordHit()
	// RecordMiss records a load that found nothing
	RecordMiss()
	// RecordExpiration records an entry found expired on read
	RecordExpiration()
	// RecordSave records a stored entry
	RecordSave()
	// RecordRemove records an explicit removal
	RecordRemove()
	// RecordClean records a finished invalidation
	RecordClean(invalidated int64)
	// RecordDeleteError records a failed member delete during invalidation
	RecordDeleteError()
	// RecordLock records a lock attempt
	RecordLock(acquired bool)
	// RecordCompression records one compressed payload
	RecordCompression(uncompressed, compressed int)
	// UpdateFillPercentage records the last reported fill percentage
	UpdateFillPercentage(percent float64)
	// GetSnapshot returns a thread-safe copy of current metrics
	GetSnapshot() MetricsSnapshot
	// Reset resets all metrics to zero
	Reset()
}

// PrometheusMetricsExporter implements MetricsExporter using Prometheus metrics
type PrometheusMetricsExporter struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	expirations  *prometheus.CounterVec
	saves        *prometheus.CounterVec
	removes      *prometheus.CounterVec
	invalidated  *prometheus.CounterVec
	deleteErrors *prometheus.CounterVec
	locks        *prometheus.CounterVec
	compressed   *prometheus.CounterVec
	fill         *prometheus.GaugeVec

	// Internal counters for snapshot
	internal *CacheMetrics

	// Labels for metrics
	labels prometheus.Labels
}

// NewPrometheusMetricsExporter creates a new Prometheus metrics exporter
// registered with reg (prometheus.DefaultRegisterer when nil). Exporters
// sharing a registerer share collectors and differ by their labels.
func NewPrometheusMetricsExporter(cacheName string, labels map[string]string, reg prometheus.Registerer) *PrometheusMetricsExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	l := prometheus.Labels{}
	maps.Copy(l, labels)

	// Set default service name if not provided
	if _, exists := l["service"]; !exists {
		l["service"] = "tagcache"
	}
	// Always include cache name
	l["cache"] = cacheName
	names := slices.Sorted(maps.Keys(l))

	counter := func(name, help string, extra ...string) *prometheus.CounterVec {
		return register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: help},
			append(slices.Clone(names), extra...),
		))
	}

	return &PrometheusMetricsExporter{
		hits:         counter("tagcache_hits_total", "Total number of loads that returned a live entry"),
		misses:       counter("tagcache_misses_total", "Total number of loads that found nothing"),
		expirations:  counter("tagcache_expirations_total", "Total number of entries found expired on read"),
		saves:        counter("tagcache_saves_total", "Total number of stored entries"),
		removes:      counter("tagcache_removes_total", "Total number of explicit removals"),
		invalidated:  counter("tagcache_invalidated_total", "Total number of entries deleted by cleaning"),
		deleteErrors: counter("tagcache_delete_errors_total", "Total number of failed deletes during cleaning"),
		locks:        counter("tagcache_lock_attempts_total", "Total number of lock attempts by result", "result"),
		compressed:   counter("tagcache_compressed_bytes_total", "Payload bytes before and after compression", "stage"),
		fill: register(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tagcache_fill_percentage",
				Help: "Last reported share of node memory in use",
			},
			names,
		)),
		internal: NewCacheMetrics(),
		labels:   l,
	}
}

// register registers c, reusing an identical collector already registered
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (e *PrometheusMetricsExporter) with(extraName, extraValue string) prometheus.Labels {
	l := maps.Clone(e.labels)
	l[extraName] = extraValue
	return l
}

// RecordHit implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordHit() {
	e.hits.With(e.labels).Inc()
	e.internal.RecordHit()
}

// RecordMiss implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordMiss() {
	e.misses.With(e.labels).Inc()
	e.internal.RecordMiss()
}

// RecordExpiration implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordExpiration() {
	e.expirations.With(e.labels).Inc()
	e.internal.RecordExpiration()
}

// RecordSave implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordSave() {
	e.saves.With(e.labels).Inc()
	e.internal.RecordSave()
}

// RecordRemove implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordRemove() {
	e.removes.With(e.labels).Inc()
	e.internal.RecordRemove()
}

// RecordClean implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordClean(invalidated int64) {
	e.invalidated.With(e.labels).Add(float64(invalidated))
	e.internal.RecordClean(invalidated)
}

// RecordDeleteError implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordDeleteError() {
	e.deleteErrors.With(e.labels).Inc()
	e.internal.RecordDeleteError()
}

// RecordLock implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordLock(acquired bool) {
	result := "contended"
	if acquired {
		result = "acquired"
	}
	e.locks.With(e.with("result", result)).Inc()
	e.internal.RecordLock(acquired)
}

// RecordCompression implements MetricsExporter
func (e *PrometheusMetricsExporter) RecordCompression(uncompressed, compressed int) {
	e.compressed.With(e.with("stage", "raw")).Add(float64(uncompressed))
	e.compressed.With(e.with("stage", "compressed")).Add(float64(compressed))
	e.internal.RecordCompression(uncompressed, compressed)
}

// UpdateFillPercentage implements MetricsExporter
func (e *PrometheusMetricsExporter) UpdateFillPercentage(percent float64) {
	e.fill.With(e.labels).Set(percent)
	e.internal.UpdateFillPercentage(percent)
}

// GetSnapshot implements MetricsExporter
func (e *PrometheusMetricsExporter) GetSnapshot() MetricsSnapshot {
	return e.internal.GetSnapshot()
}

// Reset implements MetricsExporter.
// Prometheus counters are cumulative and are not reset.
func (e *PrometheusMetricsExporter) Reset() {
	e.internal.Reset()
}

// NewMetricsExporter creates a new metrics exporter based on the specified type
func NewMetricsExporter(exporterType ExporterType, cacheName string, labels map[string]string) MetricsExporter {
	switch exporterType {
	case PrometheusExporterType:
		return NewPrometheusMetricsExporter(cacheName, labels, nil)
	default:
		return NewCacheMetrics()
	}
}
