package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gozephyr/tagcache/errors"
)

func newTestRedisStore(t *testing.T) (Node, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(client, WithName("redis-1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.Equal(t, "redis-1", s.Name())

	t.Run("Get Set Delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "key1", []byte("value1"), 7, 0))

		item, err := s.Get(ctx, "key1")
		require.NoError(t, err)
		require.Equal(t, []byte("value1"), item.Value)
		require.Equal(t, uint32(7), item.Flags)

		existed, err := s.Delete(ctx, "key1")
		require.NoError(t, err)
		require.True(t, existed)

		_, err = s.Get(ctx, "key1")
		require.True(t, errors.IsKeyNotFound(err))

		existed, err = s.Delete(ctx, "key1")
		require.NoError(t, err)
		require.False(t, existed)
	})

	t.Run("Add", func(t *testing.T) {
		added, err := s.Add(ctx, "lock.a", []byte("1"), 0)
		require.NoError(t, err)
		require.True(t, added)

		added, err = s.Add(ctx, "lock.a", []byte("1"), 0)
		require.NoError(t, err)
		require.False(t, added)
	})

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "short", []byte("v"), 0, 10*time.Second))
		mr.FastForward(11 * time.Second)
		_, err := s.Get(ctx, "short")
		require.True(t, errors.IsKeyNotFound(err))
	})

	t.Run("Slabs and CacheDump", func(t *testing.T) {
		require.NoError(t, s.Flush(ctx))
		require.Empty(t, s.Slabs(ctx)["redis-1"])

		require.NoError(t, s.Set(ctx, "a", []byte("1"), 0, 0))
		require.NoError(t, s.Set(ctx, "b", []byte("2"), 0, 0))
		slabs := s.Slabs(ctx)["redis-1"]
		require.Equal(t, []int{redisSlab}, slabs)
		require.ElementsMatch(t, []string{"a", "b"}, s.CacheDump(ctx, redisSlab)["redis-1"])
		require.Empty(t, s.CacheDump(ctx, redisSlab+1)["redis-1"])
	})

	t.Run("NodeStats reports the node", func(t *testing.T) {
		stats := s.NodeStats(ctx)
		require.Contains(t, stats, "redis-1")
	})

	t.Run("Server down", func(t *testing.T) {
		mr.Close()
		err := s.Set(ctx, "k", []byte("v"), 0, 0)
		require.Error(t, err)
		require.True(t, errors.IsErrorType(err, errors.ErrorTypeStore))
		require.Error(t, s.NodeStats(ctx)["redis-1"].Err)
	})
}

func TestRedisStoreCluster(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	s, err := NewRedisStore(client, WithName("cluster"), WithMaxMemory(1<<20))
	require.NoError(t, err)
	defer s.Close(ctx)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, key, []byte("v"), 0, 0))
	}

	t.Run("Listing visits masters", func(t *testing.T) {
		require.Equal(t, []int{redisSlab}, s.Slabs(ctx)["cluster"])
		require.ElementsMatch(t, []string{"a", "b", "c"}, s.CacheDump(ctx, redisSlab)["cluster"])
	})

	t.Run("Flush visits masters", func(t *testing.T) {
		require.NoError(t, s.Flush(ctx))
		require.Empty(t, s.Slabs(ctx)["cluster"])
		require.Empty(t, s.CacheDump(ctx, redisSlab)["cluster"])
	})
}

func TestNewRedisStoreNilClient(t *testing.T) {
	_, err := NewRedisStore(nil)
	require.ErrorIs(t, err, errors.ErrStoreConnection)
}

func TestParseRedisMemoryInfo(t *testing.T) {
	t.Run("Valid reply", func(t *testing.T) {
		info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:4194304\r\nmaxmemory_policy:allkeys-lru\r\n"
		stats, err := parseRedisMemoryInfo(info)
		require.NoError(t, err)
		require.Equal(t, int64(1048576), stats.Bytes)
		require.Equal(t, int64(4194304), stats.LimitMaxBytes)
	})

	t.Run("Unlimited server", func(t *testing.T) {
		stats, err := parseRedisMemoryInfo("used_memory:100\r\nmaxmemory:0\r\n")
		require.NoError(t, err)
		require.Zero(t, stats.LimitMaxBytes)
	})

	t.Run("Missing used_memory", func(t *testing.T) {
		_, err := parseRedisMemoryInfo("# Memory\r\nmaxmemory:10\r\n")
		require.ErrorIs(t, err, errors.ErrDeserialization)
	})

	t.Run("Malformed number", func(t *testing.T) {
		_, err := parseRedisMemoryInfo("used_memory:abc\r\n")
		require.ErrorIs(t, err, errors.ErrDeserialization)
	})
}
