// Package policy provides the eviction policies used by the in-memory node
// when it runs out of item slots or memory: LRU, LFU and FIFO.
package policy

import (
	"fmt"
	"strings"
)

// Policy tracks keys and picks the next one to evict.
// The owning store decides when to evict; a policy never drops keys on its own.
type Policy[K comparable] interface {
	// OnGet is called when an item is read
	OnGet(key K)

	// OnSet is called when an item is written
	OnSet(key K)

	// OnDelete is called when an item is removed
	OnDelete(key K)

	// OnClear is called when the store is flushed
	OnClear()

	// Evict removes and returns the next key to be evicted
	Evict() (K, bool)

	// Size returns the number of tracked keys
	Size() int
}

// Name identifies an eviction strategy
type Name string

const (
	// LRUPolicy evicts the least recently used key
	LRUPolicy Name = "lru"
	// LFUPolicy evicts the least frequently used key
	LFUPolicy Name = "lfu"
	// FIFOPolicy evicts the oldest written key
	FIFOPolicy Name = "fifo"
)

// New creates the policy with the given name. An empty name selects LRU,
// which is what memcached does.
func New[K comparable](name Name) (Policy[K], error) {
	switch Name(strings.ToLower(string(name))) {
	case LRUPolicy, "":
		return NewLRU[K](), nil
	case LFUPolicy:
		return NewLFU[K](), nil
	case FIFOPolicy:
		return NewFIFO[K](), nil
	default:
		return nil, fmt.Errorf("policy: unknown eviction policy %q", name)
	}
}
