package store

import (
	"time"

	cacheerrors "github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/policy"
)

// Default values for store options
const (
	DefaultMaxSize         = 100000
	DefaultMaxMemory       = int64(64 * 1024 * 1024) // 64MB, memcached's default -m
	DefaultCleanupInterval = time.Second
	DefaultOpTimeout       = time.Second
)

// Options represents store configuration options
type Options struct {
	// Name identifies the node in statistics maps
	Name string

	// MaxSize is the maximum number of items the node can hold
	MaxSize int

	// MaxMemory is the memory limit in bytes reported as limit_maxbytes
	MaxMemory int64

	// Eviction selects the policy used when the node is full
	Eviction policy.Name

	// CleanupInterval is how often expired items are swept (0 disables it)
	CleanupInterval time.Duration

	// OpTimeout bounds each network round trip
	OpTimeout time.Duration
}

// NewOptions creates a new Options instance with default values
func NewOptions() *Options {
	return &Options{
		Name:            "memory",
		MaxSize:         DefaultMaxSize,
		MaxMemory:       DefaultMaxMemory,
		Eviction:        policy.LRUPolicy,
		CleanupInterval: DefaultCleanupInterval,
		OpTimeout:       DefaultOpTimeout,
	}
}

// Option is a function that configures store options
type Option func(*Options) error

// WithName sets the node name
func WithName(name string) Option {
	return func(o *Options) error {
		if name == "" {
			return cacheerrors.ErrInvalidOperation
		}
		o.Name = name
		return nil
	}
}

// WithMaxSize sets the maximum number of items
func WithMaxSize(size int) Option {
	return func(o *Options) error {
		if size <= 0 {
			return cacheerrors.ErrInvalidSize
		}
		o.MaxSize = size
		return nil
	}
}

// WithMaxMemory sets the memory limit in bytes
func WithMaxMemory(maxMemory int64) Option {
	return func(o *Options) error {
		if maxMemory < 0 {
			return cacheerrors.ErrInvalidMemoryLimit
		}
		o.MaxMemory = maxMemory
		return nil
	}
}

// WithEviction sets the eviction policy
func WithEviction(name policy.Name) Option {
	return func(o *Options) error {
		o.Eviction = name
		return nil
	}
}

// WithCleanupInterval sets how often expired items are swept
func WithCleanupInterval(interval time.Duration) Option {
	return func(o *Options) error {
		o.CleanupInterval = interval
		return nil
	}
}

// WithOpTimeout bounds each network round trip
func WithOpTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return cacheerrors.ErrStoreTimeout
		}
		o.OpTimeout = timeout
		return nil
	}
}

// Apply applies the given options to the Options struct
func (o *Options) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	if _, err := policy.New[string](o.Eviction); err != nil {
		return err
	}
	return nil
}

// buildOptions applies opts over the defaults, naming the node defaultName
// unless WithName overrides it
func buildOptions(defaultName string, opts []Option) (*Options, error) {
	options := NewOptions()
	options.Name = defaultName
	if err := options.Apply(opts...); err != nil {
		return nil, err
	}
	return options, nil
}
