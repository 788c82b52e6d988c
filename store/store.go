// Package store defines the key-value capability contract the tag index is
// built on, and the node implementations behind it: in-memory, memcached,
// Redis, bbolt, and a hashing pool over several nodes.
package store

import (
	"context"
	"time"
)

// Store is the set of operations a key-value cache must offer.
// Individual operations are expected to be atomic; nothing spans keys.
type Store interface {
	// Get returns the item stored under key, or an error wrapping
	// errors.ErrKeyNotFound when it is absent
	Get(ctx context.Context, key string) (Item, error)

	// Set stores value under key, overwriting any previous value.
	// A zero ttl means the node never expires the item on its own.
	Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error

	// Add stores value only if key is absent and reports whether it did
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key and reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)

	// Flush removes every item from every node
	Flush(ctx context.Context) error

	// NodeStats returns capacity statistics keyed by node name.
	// A node that failed to answer has a non-nil Err.
	NodeStats(ctx context.Context) map[string]NodeStats

	// Slabs returns the storage slab ids in use, keyed by node name
	Slabs(ctx context.Context) map[string][]int

	// CacheDump returns the keys held in one slab, keyed by node name
	CacheDump(ctx context.Context, slab int) map[string][]string

	// Close releases any resources owned by the store
	Close(ctx context.Context) error
}

// Item is a stored value with its opaque client flags.
type Item struct {
	Key   string
	Value []byte
	Flags uint32
}

// NodeStats reports a node's memory limit and usage.
type NodeStats struct {
	// LimitMaxBytes is the memory the node may use (memcached limit_maxbytes)
	LimitMaxBytes int64
	// Bytes is the memory currently used by items (memcached bytes)
	Bytes int64
	// Items is the number of items currently stored
	Items int64
	// Err is set when the node could not be queried
	Err error
}

// Node is a Store that serves a single named server.
type Node interface {
	Store
	// Name identifies the node in statistics maps
	Name() string
}
