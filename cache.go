// Package tagcache adds tag-based grouping and invalidation to plain
// key-value cache nodes.
//
// Entries are stored as envelopes under their own id. Tags live in the same
// node under reserved keys: one membership record per tag and a registry of
// all tags with members. The index is maintained with read-modify-write
// sequences and no transactions, so concurrent writers tagging different
// ids with the same tag can lose an update. Use the lock primitive to
// serialize writers when that matters.
package tagcache

import (
	"context"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/metrics"
	"github.com/gozephyr/tagcache/store"
	"github.com/gozephyr/tagcache/tags"
	"github.com/gozephyr/tagcache/ttl"
)

// Metadata describes a stored entry
type Metadata struct {
	CreatedAt time.Time
	// ExpiresAt is zero for entries that never expire
	ExpiresAt time.Time
	Lifetime  time.Duration
}

// Cache is the tag-aware entry store over a key-value node or pool
type Cache struct {
	store     store.Store
	index     *tags.Index
	codec     *codec
	opts      *Options
	logger    *zap.Logger
	metrics   metrics.MetricsExporter
	now       func() time.Time
	intn      func(n int64) int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a cache over s. The cache never closes s; its lifecycle
// belongs to the caller.
func New(s store.Store, opts ...Option) (*Cache, error) {
	if s == nil {
		return nil, errors.WrapError("New", nil, errors.ErrNoNodes)
	}
	options := DefaultOptions()
	if err := options.Apply(opts...); err != nil {
		return nil, errors.WrapError("New", nil, err)
	}

	exporter := options.Metrics
	if exporter == nil {
		exporter = metrics.NewMetricsExporter(
			options.MetricsConfig.ExporterType,
			options.MetricsConfig.CacheName,
			options.MetricsConfig.Labels,
		)
	}

	index, err := tags.New(s,
		tags.WithPrefix(options.TagPrefix),
		tags.WithRegistryKey(options.RegistryKey),
		tags.WithLogger(options.Logger),
	)
	if err != nil {
		return nil, errors.WrapError("New", nil, err)
	}

	c, err := newCodec(options.Compression, exporter)
	if err != nil {
		return nil, errors.WrapError("New", nil, err)
	}

	return &Cache{
		store:   s,
		index:   index,
		codec:   c,
		opts:    options,
		logger:  options.Logger,
		metrics: exporter,
		now:     options.Clock,
		intn:    rand.Int64N,
	}, nil
}

// Save stores payload under id with the given tags. The lifetime is the
// override when given, else the configured default; zero never expires.
// With a jitter delta configured, a random [0, delta] whole seconds is
// added and the extended lifetime is used both in the envelope and as the
// node TTL.
func (c *Cache) Save(ctx context.Context, id string, payload []byte, tagList []string, lifetime ...time.Duration) error {
	if err := c.checkState(ctx, "Save", id); err != nil {
		return err
	}
	if err := c.validateID(id); err != nil {
		return errors.WrapError("Save", id, err)
	}
	for _, tag := range tagList {
		if err := tags.ValidateTag(tag); err != nil {
			return errors.WrapError("Save", id, err)
		}
	}

	l := ttl.Resolve(c.opts.TTL, lifetime...)
	if err := ttl.Validate(l, c.opts.TTL); err != nil {
		return errors.WrapError("Save", id, err)
	}
	l = ttl.Seconds(ttl.JitterWith(l, c.opts.TTL.JitterDelta, c.intn))

	if err := c.write(ctx, id, wrapAt(payload, l, c.now())); err != nil {
		return errors.WrapError("Save", id, err)
	}
	c.metrics.RecordSave()

	if len(tagList) == 0 {
		return nil
	}
	if err := c.index.RegisterTagsFor(ctx, id, tagList); err != nil {
		return errors.WrapError("Save", id, err)
	}
	return nil
}

func (c *Cache) write(ctx context.Context, id string, env Envelope) error {
	data, flags, err := c.codec.marshal(env)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, id, data, flags, env.Lifetime)
}

// Load returns the payload stored under id. A missing, expired or
// unreadable entry is reported as errors.ErrKeyNotFound.
func (c *Cache) Load(ctx context.Context, id string) ([]byte, error) {
	env, err := c.load(ctx, "Load", id)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

func (c *Cache) load(ctx context.Context, op, id string) (Envelope, error) {
	if err := c.checkState(ctx, op, id); err != nil {
		return Envelope{}, err
	}

	item, err := c.store.Get(ctx, id)
	if errors.IsKeyNotFound(err) {
		c.metrics.RecordMiss()
		return Envelope{}, errors.WrapError(op, id, errors.ErrKeyNotFound)
	}
	if err != nil {
		return Envelope{}, errors.WrapError(op, id, err)
	}

	env, err := c.codec.unmarshal(item.Value, item.Flags)
	if err != nil {
		c.logger.Warn("unreadable entry treated as miss", zap.String("id", id), zap.Error(err))
		c.metrics.RecordMiss()
		return Envelope{}, errors.WrapError(op, id, errors.ErrKeyNotFound)
	}

	if env.IsExpired(c.now()) {
		if _, err := c.store.Delete(ctx, id); err != nil {
			c.logger.Warn("failed to delete expired entry", zap.String("id", id), zap.Error(err))
		}
		c.metrics.RecordExpiration()
		c.metrics.RecordMiss()
		return Envelope{}, errors.WrapError(op, id, errors.ErrKeyNotFound)
	}

	c.metrics.RecordHit()
	return env, nil
}

// Test reports whether a live entry is stored under id
func (c *Cache) Test(ctx context.Context, id string) (bool, error) {
	_, err := c.load(ctx, "Test", id)
	if errors.IsKeyNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Exists is an alias of Test
func (c *Cache) Exists(ctx context.Context, id string) (bool, error) {
	return c.Test(ctx, id)
}

// Remove deletes the entry stored under id and drops id from the tag index.
// It reports whether the entry existed.
func (c *Cache) Remove(ctx context.Context, id string) (bool, error) {
	if err := c.checkState(ctx, "Remove", id); err != nil {
		return false, err
	}
	existed, err := c.store.Delete(ctx, id)
	if err != nil {
		return false, errors.WrapError("Remove", id, err)
	}
	if err := c.index.DropIdentifier(ctx, id, false); err != nil {
		c.logger.Warn("failed to drop id from tag index", zap.String("id", id), zap.Error(err))
	}
	c.metrics.RecordRemove()
	return existed, nil
}

// Metadata returns the creation time and expiry of the entry under id
func (c *Cache) Metadata(ctx context.Context, id string) (Metadata, error) {
	env, err := c.load(ctx, "Metadata", id)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		CreatedAt: env.CreatedAt,
		ExpiresAt: env.ExpiresAt(),
		Lifetime:  env.Lifetime,
	}, nil
}

// Touch extends the lifetime of the entry under id by extra. The entry is
// rewritten as created now with the remaining lifetime plus extra. Entries
// that never expire are left alone.
func (c *Cache) Touch(ctx context.Context, id string, extra time.Duration) error {
	if extra < 0 {
		return errors.WrapError("Touch", id, errors.ErrInvalidLifetime)
	}
	env, err := c.load(ctx, "Touch", id)
	if err != nil {
		return err
	}
	if env.Lifetime == 0 {
		return nil
	}

	now := c.now()
	l := ttl.Seconds(ttl.Remaining(env.CreatedAt, env.Lifetime, now) + extra)
	if err := ttl.Validate(l, c.opts.TTL); err != nil {
		return errors.WrapError("Touch", id, err)
	}
	if err := c.write(ctx, id, wrapAt(env.Payload, l, now)); err != nil {
		return errors.WrapError("Touch", id, err)
	}
	return nil
}

// Tags returns every tag that currently has members
func (c *Cache) Tags(ctx context.Context) ([]string, error) {
	if err := c.checkState(ctx, "Tags", nil); err != nil {
		return nil, err
	}
	registered, err := c.index.Tags(ctx)
	return registered, errors.WrapError("Tags", nil, err)
}

// IDsMatchingTags returns the ids carrying every one of tagList
func (c *Cache) IDsMatchingTags(ctx context.Context, tagList ...string) ([]string, error) {
	return c.query(ctx, "IDsMatchingTags", c.index.MatchingAll, tagList)
}

// IDsMatchingAnyTags returns the ids carrying at least one of tagList
func (c *Cache) IDsMatchingAnyTags(ctx context.Context, tagList ...string) ([]string, error) {
	return c.query(ctx, "IDsMatchingAnyTags", c.index.MatchingAny, tagList)
}

// IDsNotMatchingTags returns the tagged ids carrying none of tagList
func (c *Cache) IDsNotMatchingTags(ctx context.Context, tagList ...string) ([]string, error) {
	return c.query(ctx, "IDsNotMatchingTags", c.index.NotMatching, tagList)
}

func (c *Cache) query(ctx context.Context, op string, fn func(context.Context, []string) ([]string, error), tagList []string) ([]string, error) {
	if err := c.checkState(ctx, op, nil); err != nil {
		return nil, err
	}
	ids, err := fn(ctx, tagList)
	if err != nil {
		return nil, errors.WrapError(op, tagList, err)
	}
	slices.Sort(ids)
	return ids, nil
}

// IDs lists the stored entry ids. See EachID for its guarantees.
func (c *Cache) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.EachID(ctx, func(id string) bool {
		ids = append(ids, id)
		return true
	})
	return ids, err
}

// EachID calls fn for each stored entry id until fn returns false. Ids are
// read from the nodes' slab dumps one slab class at a time, so the walk is
// best effort: each id is reported once, but entries written or evicted
// during the walk may or may not appear. Tag index and lock records are
// skipped.
func (c *Cache) EachID(ctx context.Context, fn func(id string) bool) error {
	if err := c.checkState(ctx, "EachID", nil); err != nil {
		return err
	}

	classes := make(map[int]struct{})
	for _, ids := range c.store.Slabs(ctx) {
		for _, id := range ids {
			classes[id] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	for _, slab := range slices.Sorted(maps.Keys(classes)) {
		if ctx.Err() != nil {
			return errors.WrapError("EachID", nil, errors.ErrContextCanceled)
		}
		dump := c.store.CacheDump(ctx, slab)
		for _, node := range slices.Sorted(maps.Keys(dump)) {
			for _, key := range dump[node] {
				if c.isReserved(key) {
					continue
				}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				if !fn(key) {
					return nil
				}
			}
		}
	}
	return nil
}

// Capabilities describes what this backend supports
func (c *Cache) Capabilities() Capabilities {
	return Capabilities{
		AutomaticCleaning: false,
		Tags:              true,
		ExpiredRead:       false,
		Priority:          false,
		InfiniteLifetime:  false,
		GetList:           false,
	}
}

// Metrics returns the metrics exporter in use
func (c *Cache) Metrics() metrics.MetricsExporter {
	return c.metrics
}

// Close marks the cache closed and releases its codec. The store is not
// closed.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.codec.close()
	})
	return nil
}

func (c *Cache) isReserved(key string) bool {
	return c.index.IsReserved(key) || strings.HasPrefix(key, c.opts.LockPrefix)
}

func (c *Cache) validateID(id string) error {
	if id == "" || c.isReserved(id) {
		return errors.ErrInvalidKey
	}
	return nil
}

// checkState checks the state of the cache
func (c *Cache) checkState(ctx context.Context, op string, key any) error {
	if c.closed.Load() {
		return errors.WrapError(op, key, errors.ErrCacheClosed)
	}
	if ctx.Err() != nil {
		return errors.WrapError(op, key, errors.ErrContextCanceled)
	}
	return nil
}
