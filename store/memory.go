package store

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/policy"
	"github.com/gozephyr/tagcache/store/helper"
)

// memoryStore is an in-process node that behaves like a single memcached
// server: bounded memory, eviction when full, slab classes by item size.
type memoryStore struct {
	mu sync.RWMutex
	// name identifies the node in statistics
	name string
	// items stores the node entries
	items map[string]*memoryItem
	// maxSize is the maximum number of items the node can hold
	maxSize int
	// maxMemory is the memory limit in bytes
	maxMemory int64
	// memoryUsage is the current memory usage in bytes
	memoryUsage atomic.Int64
	policy      policy.Policy[string]
	stop        chan struct{}
	closeOnce   sync.Once
	stats       *Stats
	now         func() time.Time
}

type memoryItem struct {
	value   []byte
	flags   uint32
	expires time.Time
	size    int64
}

// Stats tracks node statistics
type Stats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Sets      atomic.Int64
	Deletes   atomic.Int64
	Flushes   atomic.Int64
	Evictions atomic.Int64
	Reclaimed atomic.Int64
}

// NewMemoryStore creates a new in-memory node
func NewMemoryStore(ctx context.Context, opts ...Option) (Node, error) {
	options, err := buildOptions("memory", opts)
	if err != nil {
		return nil, err
	}
	p, err := policy.New[string](options.Eviction)
	if err != nil {
		return nil, err
	}

	m := &memoryStore{
		name:      options.Name,
		items:     make(map[string]*memoryItem),
		maxSize:   options.MaxSize,
		maxMemory: options.MaxMemory,
		policy:    p,
		stop:      make(chan struct{}),
		stats:     &Stats{},
		now:       time.Now,
	}

	if options.CleanupInterval > 0 {
		go m.startTTLCleanup(ctx, options.CleanupInterval)
	}
	return m, nil
}

// Name returns the node name
func (m *memoryStore) Name() string {
	return m.name
}

// Get retrieves an item from the node
func (m *memoryStore) Get(ctx context.Context, key string) (Item, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return Item{}, errors.WrapError("Get", key, err)
	}

	m.mu.RLock()
	item, exists := m.items[key]
	m.mu.RUnlock()
	if !exists {
		m.stats.Misses.Add(1)
		return Item{}, errors.WrapError("Get", key, errors.ErrKeyNotFound)
	}

	if helper.IsExpired(item.expires, m.now()) {
		m.stats.Misses.Add(1)
		m.mu.Lock()
		if current, ok := m.items[key]; ok && current == item {
			m.removeLocked(key, item)
			m.stats.Reclaimed.Add(1)
		}
		m.mu.Unlock()
		return Item{}, errors.WrapError("Get", key, errors.ErrKeyNotFound)
	}

	m.stats.Hits.Add(1)
	m.policy.OnGet(key)
	return Item{Key: key, Value: slices.Clone(item.value), Flags: item.flags}, nil
}

// Set stores an item, evicting others if the node is full
func (m *memoryStore) Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Set", key, err)
	}
	if key == "" {
		return errors.WrapError("Set", key, errors.ErrInvalidKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(key, value, flags, ttl)
}

// Add stores an item only if the key is absent or expired
func (m *memoryStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Add", key, err)
	}
	if key == "" {
		return false, errors.WrapError("Add", key, errors.ErrInvalidKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if item, exists := m.items[key]; exists && !helper.IsExpired(item.expires, m.now()) {
		return false, nil
	}
	if err := m.setLocked(key, value, 0, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// setLocked must be called with m.mu held for writing
func (m *memoryStore) setLocked(key string, value []byte, flags uint32, ttl time.Duration) error {
	size := helper.ItemSize(key, value)
	if m.maxMemory > 0 && size > m.maxMemory {
		return errors.WrapError("Set", key, errors.ErrNotStored)
	}

	if old, exists := m.items[key]; exists {
		m.removeLocked(key, old)
	}

	for (m.maxSize > 0 && len(m.items) >= m.maxSize) ||
		(m.maxMemory > 0 && m.memoryUsage.Load()+size > m.maxMemory) {
		victim, ok := m.policy.Evict()
		if !ok {
			return errors.WrapError("Set", key, errors.ErrNotStored)
		}
		if item, exists := m.items[victim]; exists {
			m.removeLocked(victim, item)
			m.stats.Evictions.Add(1)
		}
	}

	m.items[key] = &memoryItem{
		value:   slices.Clone(value),
		flags:   flags,
		expires: helper.ExpiresAt(m.now(), ttl),
		size:    size,
	}
	m.memoryUsage.Add(size)
	m.policy.OnSet(key)
	m.stats.Sets.Add(1)
	return nil
}

// removeLocked must be called with m.mu held for writing
func (m *memoryStore) removeLocked(key string, item *memoryItem) {
	delete(m.items, key)
	m.memoryUsage.Add(-item.size)
	m.policy.OnDelete(key)
}

// Delete removes an item and reports whether it existed
func (m *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Delete", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, exists := m.items[key]
	if !exists {
		return false, nil
	}
	m.removeLocked(key, item)
	m.stats.Deletes.Add(1)
	return !helper.IsExpired(item.expires, m.now()), nil
}

// Flush removes every item
func (m *memoryStore) Flush(ctx context.Context) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Flush", nil, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*memoryItem)
	m.memoryUsage.Store(0)
	m.policy.OnClear()
	m.stats.Flushes.Add(1)
	return nil
}

// NodeStats reports this node's limit and usage
func (m *memoryStore) NodeStats(ctx context.Context) map[string]NodeStats {
	if err := helper.CheckContext(ctx); err != nil {
		return map[string]NodeStats{m.name: {Err: err}}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]NodeStats{m.name: {
		LimitMaxBytes: m.maxMemory,
		Bytes:         m.memoryUsage.Load(),
		Items:         int64(len(m.items)),
	}}
}

// Slabs returns the slab classes currently holding items
func (m *memoryStore) Slabs(ctx context.Context) map[string][]int {
	if err := helper.CheckContext(ctx); err != nil {
		return map[string][]int{m.name: nil}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var slabs []int
	for _, item := range m.items {
		class := helper.SlabClass(item.size)
		if !slices.Contains(slabs, class) {
			slabs = append(slabs, class)
		}
	}
	slices.Sort(slabs)
	return map[string][]int{m.name: slabs}
}

// CacheDump returns the live keys stored in the given slab class
func (m *memoryStore) CacheDump(ctx context.Context, slab int) map[string][]string {
	if err := helper.CheckContext(ctx); err != nil {
		return map[string][]string{m.name: nil}
	}
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, item := range m.items {
		if helper.SlabClass(item.size) == slab && !helper.IsExpired(item.expires, now) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return map[string][]string{m.name: keys}
}

// startTTLCleanup begins the expired item sweep
func (m *memoryStore) startTTLCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredEntries()
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupExpiredEntries removes expired items from the node
func (m *memoryStore) cleanupExpiredEntries() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for key, item := range m.items {
		if helper.IsExpired(item.expires, now) {
			m.removeLocked(key, item)
			m.stats.Reclaimed.Add(1)
		}
	}
}

// Close stops the sweep goroutine
func (m *memoryStore) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.stop)
	})
	return nil
}

// ForceCleanup triggers cleanup of expired entries (for testing)
func (m *memoryStore) ForceCleanup() {
	m.cleanupExpiredEntries()
}
