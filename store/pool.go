package store

import (
	"context"
	stderrors "errors"
	"maps"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gozephyr/tagcache/errors"
)

// Pool spreads keys across several nodes by hashing, the way a memcached
// client with a server list does. Statistics and flushes fan out to every
// node and are keyed by node name.
type Pool struct {
	nodes []Node
}

// NewPool creates a pool over nodes. Node names must be unique.
func NewPool(nodes ...Node) (*Pool, error) {
	if len(nodes) == 0 {
		return nil, errors.WrapError("NewPool", nil, errors.ErrNoNodes)
	}
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n.Name()]; dup {
			return nil, errors.WrapError("NewPool", n.Name(), errors.ErrInvalidOperation)
		}
		seen[n.Name()] = struct{}{}
	}
	return &Pool{nodes: nodes}, nil
}

// Nodes returns the pool members
func (p *Pool) Nodes() []Node {
	return p.nodes
}

// NodeFor returns the node that owns key
func (p *Pool) NodeFor(key string) Node {
	if len(p.nodes) == 1 {
		return p.nodes[0]
	}
	return p.nodes[xxhash.Sum64String(key)%uint64(len(p.nodes))]
}

func (p *Pool) Get(ctx context.Context, key string) (Item, error) {
	return p.NodeFor(key).Get(ctx, key)
}

func (p *Pool) Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	return p.NodeFor(key).Set(ctx, key, value, flags, ttl)
}

func (p *Pool) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.NodeFor(key).Add(ctx, key, value, ttl)
}

func (p *Pool) Delete(ctx context.Context, key string) (bool, error) {
	return p.NodeFor(key).Delete(ctx, key)
}

// Flush flushes every node, failing if any node fails
func (p *Pool) Flush(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range p.nodes {
		g.Go(func() error {
			return n.Flush(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) NodeStats(ctx context.Context) map[string]NodeStats {
	return fanOut(p.nodes, func(n Node) map[string]NodeStats { return n.NodeStats(ctx) })
}

func (p *Pool) Slabs(ctx context.Context) map[string][]int {
	return fanOut(p.nodes, func(n Node) map[string][]int { return n.Slabs(ctx) })
}

func (p *Pool) CacheDump(ctx context.Context, slab int) map[string][]string {
	return fanOut(p.nodes, func(n Node) map[string][]string { return n.CacheDump(ctx, slab) })
}

// Close closes every node and joins their errors
func (p *Pool) Close(ctx context.Context) error {
	var errs []error
	for _, n := range p.nodes {
		if err := n.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// fanOut queries every node concurrently and merges the per-node maps
func fanOut[V any](nodes []Node, query func(Node) map[string]V) map[string]V {
	var mu sync.Mutex
	out := make(map[string]V, len(nodes))
	var g errgroup.Group
	for _, n := range nodes {
		g.Go(func() error {
			res := query(n)
			mu.Lock()
			maps.Copy(out, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
