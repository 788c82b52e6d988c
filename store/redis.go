package store

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/store/helper"
)

// redisScanBatch is the COUNT hint passed to SCAN
const redisScanBatch = 100

// redisSlab is the single pseudo-slab a Redis node reports. Redis has no
// slab allocator, so every key lives in it.
const redisSlab = 1

type redisStore struct {
	name      string
	client    redis.UniversalClient
	maxMemory int64
	timeout   time.Duration
}

// NewRedisStore creates a node backed by a Redis server or cluster. With a
// *redis.ClusterClient, flush, stats and key listing visit every master.
// Values carry the EncodeValue header so client flags survive the round trip.
// When the server reports no maxmemory, the configured MaxMemory is used as
// the node's limit.
func NewRedisStore(client redis.UniversalClient, opts ...Option) (Node, error) {
	if client == nil {
		return nil, errors.WrapError("NewRedisStore", nil, errors.ErrStoreConnection)
	}
	options, err := buildOptions("redis", opts)
	if err != nil {
		return nil, err
	}
	return &redisStore{
		name:      options.Name,
		client:    client,
		maxMemory: options.MaxMemory,
		timeout:   options.OpTimeout,
	}, nil
}

func (r *redisStore) Name() string {
	return r.name
}

func (r *redisStore) Get(ctx context.Context, key string) (Item, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return Item{}, errors.WrapError("Get", key, err)
	}
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return Item{}, errors.WrapError("Get", key, errors.ErrKeyNotFound)
		}
		return Item{}, errors.WrapError("Get", key, redisError(err))
	}
	_, flags, value, err := helper.DecodeValue(data)
	if err != nil {
		return Item{}, errors.WrapError("Get", key, err)
	}
	return Item{Key: key, Value: value, Flags: flags}, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Set", key, err)
	}
	if key == "" {
		return errors.WrapError("Set", key, errors.ErrInvalidKey)
	}
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	data := helper.EncodeValue(helper.ExpiresAt(time.Now(), ttl), flags, value)
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.WrapError("Set", key, redisError(err))
	}
	return nil
}

func (r *redisStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Add", key, err)
	}
	if key == "" {
		return false, errors.WrapError("Add", key, errors.ErrInvalidKey)
	}
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	data := helper.EncodeValue(helper.ExpiresAt(time.Now(), ttl), 0, value)
	added, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, errors.WrapError("Add", key, redisError(err))
	}
	return added, nil
}

func (r *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Delete", key, err)
	}
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, errors.WrapError("Delete", key, redisError(err))
	}
	return n > 0, nil
}

func (r *redisStore) Flush(ctx context.Context) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Flush", nil, err)
	}
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.forEachShard(ctx, func(ctx context.Context, c redis.Cmdable) error {
		return c.FlushDB(ctx).Err()
	})
	if err != nil {
		return errors.WrapError("Flush", nil, redisError(err))
	}
	return nil
}

func (r *redisStore) NodeStats(ctx context.Context) map[string]NodeStats {
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	var mu sync.Mutex
	var total NodeStats
	err := r.forEachShard(ctx, func(ctx context.Context, c redis.Cmdable) error {
		info, err := c.Info(ctx, "memory").Result()
		if err != nil {
			return redisError(err)
		}
		stats, err := parseRedisMemoryInfo(info)
		if err != nil {
			return err
		}
		n, _ := c.DBSize(ctx).Result()

		mu.Lock()
		defer mu.Unlock()
		total.Bytes += stats.Bytes
		total.LimitMaxBytes += stats.LimitMaxBytes
		total.Items += n
		return nil
	})
	if err != nil {
		return map[string]NodeStats{r.name: {Err: errors.WrapError("NodeStats", r.name, err)}}
	}
	if total.LimitMaxBytes == 0 {
		total.LimitMaxBytes = r.maxMemory
	}
	return map[string]NodeStats{r.name: total}
}

// parseRedisMemoryInfo reads used_memory and maxmemory from an INFO reply
func parseRedisMemoryInfo(info string) (NodeStats, error) {
	var stats NodeStats
	var sawUsed bool
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		field, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		switch field {
		case "used_memory":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return NodeStats{}, errors.ErrDeserialization
			}
			stats.Bytes = n
			sawUsed = true
		case "maxmemory":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return NodeStats{}, errors.ErrDeserialization
			}
			stats.LimitMaxBytes = n
		}
	}
	if !sawUsed {
		return NodeStats{}, errors.ErrDeserialization
	}
	return stats, nil
}

func (r *redisStore) Slabs(ctx context.Context) map[string][]int {
	ctx, cancel := helper.WithTimeout(ctx, r.timeout)
	defer cancel()

	var keys atomic.Int64
	err := r.forEachShard(ctx, func(ctx context.Context, c redis.Cmdable) error {
		n, err := c.DBSize(ctx).Result()
		keys.Add(n)
		return err
	})
	if err != nil || keys.Load() == 0 {
		return map[string][]int{r.name: nil}
	}
	return map[string][]int{r.name: {redisSlab}}
}

// CacheDump walks the keyspace with SCAN. The walk is not a snapshot: keys
// written during it may or may not appear.
func (r *redisStore) CacheDump(ctx context.Context, slab int) map[string][]string {
	if slab != redisSlab {
		return map[string][]string{r.name: nil}
	}

	var mu sync.Mutex
	var keys []string
	_ = r.forEachShard(ctx, func(ctx context.Context, c redis.Cmdable) error {
		var cursor uint64
		for {
			batch, next, err := c.Scan(ctx, cursor, "*", redisScanBatch).Result()
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, batch...)
			mu.Unlock()
			if cursor = next; cursor == 0 {
				return nil
			}
		}
	})
	return map[string][]string{r.name: keys}
}

// forEachShard runs fn on every master of a cluster client, or once on any
// other client
func (r *redisStore) forEachShard(ctx context.Context, fn func(ctx context.Context, c redis.Cmdable) error) error {
	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		return cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return fn(ctx, c)
		})
	}
	return fn(ctx, r.client)
}

// Close closes the underlying client
func (r *redisStore) Close(ctx context.Context) error {
	return r.client.Close()
}

func redisError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrStoreTimeout
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.ErrContextCanceled
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreError, err)
}
