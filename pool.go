package tagcache

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBufferSize caps the buffers returned to the pool so one huge
// payload does not pin memory for the life of the process
const maxPooledBufferSize = 1 << 20

// ObjectPool provides a pool of reusable objects
type ObjectPool[T any] struct {
	pool  sync.Pool
	reset func(T) bool
	stats PoolStats
}

// PoolStats represents statistics for an object pool
type PoolStats struct {
	Created  atomic.Int64
	Gets     atomic.Int64
	Puts     atomic.Int64
	Discards atomic.Int64
}

// NewObjectPool creates a new object pool. reset prepares an object for
// reuse and reports whether it should be kept; nil keeps everything.
func NewObjectPool[T any](newFunc func() T, reset func(T) bool) *ObjectPool[T] {
	p := &ObjectPool[T]{reset: reset}
	p.pool.New = func() any {
		p.stats.Created.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool
func (p *ObjectPool[T]) Get() T {
	p.stats.Gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool
func (p *ObjectPool[T]) Put(x T) {
	if p.reset != nil && !p.reset(x) {
		p.stats.Discards.Add(1)
		return
	}
	p.stats.Puts.Add(1)
	p.pool.Put(x)
}

// Stats returns the pool statistics
func (p *ObjectPool[T]) Stats() *PoolStats {
	return &p.stats
}

// newBufferPool returns a pool of byte buffers used to encode envelopes
func newBufferPool() *ObjectPool[*bytes.Buffer] {
	return NewObjectPool(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) bool {
			if b.Cap() > maxPooledBufferSize {
				return false
			}
			b.Reset()
			return true
		},
	)
}
