package tagcache

import (
	"context"
	"time"
)

// Backend is the surface a cache abstraction layer needs from a tagging
// backend
type Backend interface {
	Save(ctx context.Context, id string, payload []byte, tags []string, lifetime ...time.Duration) error
	Load(ctx context.Context, id string) ([]byte, error)
	Test(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Clean(ctx context.Context, mode CleaningMode, tags ...string) error
	IDs(ctx context.Context) ([]string, error)
	Tags(ctx context.Context) ([]string, error)
	FillingPercentage(ctx context.Context) (float64, error)
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) (bool, error)
	Capabilities() Capabilities
}

// Capabilities describes the optional features a backend supports
type Capabilities struct {
	// AutomaticCleaning means expired entries are removed without Clean
	AutomaticCleaning bool
	// Tags means entries can be tagged and cleaned by tag
	Tags bool
	// ExpiredRead means expired entries can still be read
	ExpiredRead bool
	// Priority means entries accept a priority hint
	Priority bool
	// InfiniteLifetime means entries can be stored without expiry
	InfiniteLifetime bool
	// GetList means ids can be listed
	GetList bool
}

var _ Backend = (*Cache)(nil)
