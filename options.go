package tagcache

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/metrics"
	"github.com/gozephyr/tagcache/tags"
	"github.com/gozephyr/tagcache/ttl"
)

// DefaultLockPrefix is prepended to lock keys
const DefaultLockPrefix = "lock."

// Options represents cache configuration options
type Options struct {
	// TTL configures default lifetime, maximum lifetime and jitter
	TTL ttl.Config

	// Logger receives diagnostics; defaults to a no-op logger
	Logger *zap.Logger

	// Metrics overrides the exporter built from MetricsConfig
	Metrics metrics.MetricsExporter

	// MetricsConfig defines the configuration for metrics
	MetricsConfig MetricsConfig

	// Compression configures payload compression
	Compression CompressionConfig

	// TagPrefix and RegistryKey name the tag index records
	TagPrefix   string
	RegistryKey string

	// LockPrefix is prepended to lock keys
	LockPrefix string

	// DeleteConcurrency bounds the parallel deletes issued by Clean
	DeleteConcurrency int

	// Clock returns the current time
	Clock func() time.Time
}

// MetricsConfig defines the configuration for metrics
type MetricsConfig struct {
	// ExporterType specifies the type of metrics exporter to use
	ExporterType metrics.ExporterType
	// CacheName is used as a label for Prometheus metrics
	CacheName string
	// Labels are additional labels to be added to metrics
	Labels map[string]string
}

// Option is a function that configures cache options
type Option func(*Options) error

// DefaultOptions returns the default cache options
func DefaultOptions() *Options {
	return &Options{
		TTL:    ttl.DefaultConfig(),
		Logger: zap.NewNop(),
		MetricsConfig: MetricsConfig{
			ExporterType: metrics.StandardExporter,
			CacheName:    "tagcache",
		},
		Compression:       DefaultCompressionConfig(),
		TagPrefix:         tags.DefaultPrefix,
		RegistryKey:       tags.DefaultRegistryKey,
		LockPrefix:        DefaultLockPrefix,
		DeleteConcurrency: 8,
		Clock:             time.Now,
	}
}

// Apply applies opts and validates the result
func (o *Options) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return o.validate()
}

func (o *Options) validate() error {
	if err := ttl.ValidateConfig(o.TTL); err != nil {
		return err
	}
	if o.LockPrefix == "" || strings.HasPrefix(o.LockPrefix, o.TagPrefix) || strings.HasPrefix(o.TagPrefix, o.LockPrefix) {
		return errors.WrapError("Options", o.LockPrefix, errors.ErrInvalidKey)
	}
	if strings.HasPrefix(o.RegistryKey, o.LockPrefix) {
		return errors.WrapError("Options", o.RegistryKey, errors.ErrInvalidKey)
	}
	if o.DeleteConcurrency <= 0 {
		return errors.WrapError("Options", nil, errors.ErrInvalidOperation)
	}
	return nil
}

// WithTTLConfig sets the lifetime configuration
func WithTTLConfig(config ttl.Config) Option {
	return func(o *Options) error {
		o.TTL = config
		return nil
	}
}

// WithDefaultLifetime sets the lifetime used when Save gets no override
func WithDefaultLifetime(lifetime time.Duration) Option {
	return func(o *Options) error {
		if lifetime < 0 {
			return errors.ErrInvalidLifetime
		}
		o.TTL.DefaultLifetime = lifetime
		return nil
	}
}

// WithJitter sets the upper bound of the random lifetime extension
func WithJitter(delta time.Duration) Option {
	return func(o *Options) error {
		if delta < 0 {
			return errors.ErrInvalidJitter
		}
		o.TTL.JitterDelta = delta
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) error {
		if logger != nil {
			o.Logger = logger
		}
		return nil
	}
}

// WithMetricsExporter sets a ready-made metrics exporter
func WithMetricsExporter(exporter metrics.MetricsExporter) Option {
	return func(o *Options) error {
		o.Metrics = exporter
		return nil
	}
}

// WithMetricsConfig sets the metrics configuration
func WithMetricsConfig(config MetricsConfig) Option {
	return func(o *Options) error {
		o.MetricsConfig = config
		return nil
	}
}

// WithCompressionConfig sets the compression configuration
func WithCompressionConfig(config CompressionConfig) Option {
	return func(o *Options) error {
		if config.MinSize < 0 {
			return errors.ErrInvalidOperation
		}
		o.Compression = config
		return nil
	}
}

// WithTagPrefix sets the key prefix of tag membership records
func WithTagPrefix(prefix string) Option {
	return func(o *Options) error {
		if prefix == "" {
			return errors.ErrInvalidKey
		}
		o.TagPrefix = prefix
		return nil
	}
}

// WithRegistryKey sets the key of the tag registry record
func WithRegistryKey(key string) Option {
	return func(o *Options) error {
		if key == "" {
			return errors.ErrInvalidKey
		}
		o.RegistryKey = key
		return nil
	}
}

// WithLockPrefix sets the key prefix of lock records
func WithLockPrefix(prefix string) Option {
	return func(o *Options) error {
		if prefix == "" {
			return errors.ErrInvalidKey
		}
		o.LockPrefix = prefix
		return nil
	}
}

// WithDeleteConcurrency bounds the deletes Clean runs in parallel
func WithDeleteConcurrency(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return errors.ErrInvalidOperation
		}
		o.DeleteConcurrency = n
		return nil
	}
}

// WithClock sets the time source, mainly for tests
func WithClock(clock func() time.Time) Option {
	return func(o *Options) error {
		if clock == nil {
			return errors.ErrInvalidOperation
		}
		o.Clock = clock
		return nil
	}
}
