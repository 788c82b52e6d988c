package tagcache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/store"
)

// stubStore overrides selected operations of a real node
type stubStore struct {
	store.Store
	stats      map[string]store.NodeStats
	failDelete map[string]bool
}

func (s *stubStore) NodeStats(ctx context.Context) map[string]store.NodeStats {
	if s.stats == nil {
		return s.Store.NodeStats(ctx)
	}
	return s.stats
}

func (s *stubStore) Delete(ctx context.Context, key string) (bool, error) {
	if s.failDelete[key] {
		return false, errors.ErrStoreError
	}
	return s.Store.Delete(ctx, key)
}

func requireMiss(t *testing.T, c *Cache, id string) {
	t.Helper()
	_, err := c.Load(context.Background(), id)
	require.True(t, errors.IsKeyNotFound(err), "expected miss for %s", id)
}

func requireHit(t *testing.T, c *Cache, id, want string) {
	t.Helper()
	got, err := c.Load(context.Background(), id)
	require.NoError(t, err, id)
	require.Equal(t, want, string(got))
}

func TestCleanMatchingTag(t *testing.T) {
	ctx := context.Background()

	t.Run("Scenario", func(t *testing.T) {
		c := newTestCache(t, newTestStore(t))
		require.NoError(t, c.Save(ctx, "k1", []byte("hello"), []string{"news", "sport"}))
		require.NoError(t, c.Save(ctx, "k2", []byte("world"), []string{"news"}))

		require.NoError(t, c.Clean(ctx, CleaningModeMatchingTag, "sport"))

		requireMiss(t, c, "k1")
		requireHit(t, c, "k2", "world")

		registered, err := c.Tags(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"news"}, registered)
	})

	t.Run("Tags are combined with OR", func(t *testing.T) {
		c := newTestCache(t, newTestStore(t))
		require.NoError(t, c.Save(ctx, "a", []byte("a"), []string{"red"}))
		require.NoError(t, c.Save(ctx, "b", []byte("b"), []string{"blue"}))
		require.NoError(t, c.Save(ctx, "c", []byte("c"), []string{"green"}))

		require.NoError(t, c.Clean(ctx, CleaningModeMatchingTag, "red", "blue", "unknown"))

		requireMiss(t, c, "a")
		requireMiss(t, c, "b")
		requireHit(t, c, "c", "c")

		registered, err := c.Tags(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"green"}, registered)

		members, err := c.index.MembersOf(ctx, "red")
		require.NoError(t, err)
		require.Empty(t, members)
	})

	t.Run("Any tag alias", func(t *testing.T) {
		c := newTestCache(t, newTestStore(t))
		require.NoError(t, c.Save(ctx, "a", []byte("a"), []string{"red"}))
		require.NoError(t, c.Clean(ctx, CleaningModeMatchingAnyTag, "red"))
		requireMiss(t, c, "a")
	})

	t.Run("Empty registry", func(t *testing.T) {
		c := newTestCache(t, newTestStore(t))
		require.NoError(t, c.Save(ctx, "untagged", []byte("x"), nil))
		require.NoError(t, c.Clean(ctx, CleaningModeMatchingTag, "news"))
		requireHit(t, c, "untagged", "x")
	})

	t.Run("Metrics", func(t *testing.T) {
		c := newTestCache(t, newTestStore(t))
		for i := range 5 {
			require.NoError(t, c.Save(ctx, fmt.Sprintf("id-%d", i), []byte("x"), []string{"bulk"}))
		}
		require.NoError(t, c.Clean(ctx, CleaningModeMatchingTag, "bulk"))
		snap := c.Metrics().GetSnapshot()
		require.Equal(t, int64(5), snap.Invalidated)
		require.Equal(t, int64(1), snap.Cleans)
	})
}

func TestCleanNotMatchingTag(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newTestStore(t))

	require.NoError(t, c.Save(ctx, "k1", []byte("1"), []string{"keep"}))
	require.NoError(t, c.Save(ctx, "k2", []byte("2"), []string{"drop"}))
	require.NoError(t, c.Save(ctx, "k3", []byte("3"), []string{"other"}))
	require.NoError(t, c.Save(ctx, "untagged", []byte("4"), nil))

	require.NoError(t, c.Clean(ctx, CleaningModeNotMatchingTag, "keep"))

	requireHit(t, c, "k1", "1")
	requireMiss(t, c, "k2")
	requireMiss(t, c, "k3")
	requireHit(t, c, "untagged", "4")

	registered, err := c.Tags(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"keep"}, registered)

	members, err := c.index.MembersOf(ctx, "keep")
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, members)
}

func TestCleanAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCache(t, s)

	require.NoError(t, c.Save(ctx, "k1", []byte("1"), []string{"news"}))
	require.NoError(t, c.Save(ctx, "k2", []byte("2"), nil))
	require.NoError(t, s.Set(ctx, "foreign", []byte("x"), 0, 0))

	require.NoError(t, c.Clean(ctx, CleaningModeAll))

	requireMiss(t, c, "k1")
	requireMiss(t, c, "k2")
	_, err := s.Get(ctx, "foreign")
	require.True(t, errors.IsKeyNotFound(err))

	registered, err := c.Tags(ctx)
	require.NoError(t, err)
	require.Empty(t, registered)
}

func TestCleanOld(t *testing.T) {
	ctx := context.Background()
	logger, logs := observedLogger(zapcore.WarnLevel)
	c := newTestCache(t, newTestStore(t), WithLogger(logger))

	require.NoError(t, c.Save(ctx, "k1", []byte("1"), []string{"news"}))
	require.NoError(t, c.Clean(ctx, CleaningModeOld))

	requireHit(t, c, "k1", "1")
	entries := logs.FilterMessage("cleaning mode is unsupported by this backend").All()
	require.Len(t, entries, 1)
	require.Equal(t, "old", entries[0].ContextMap()["mode"])
}

func TestCleanInvalidMode(t *testing.T) {
	c := newTestCache(t, newTestStore(t))
	err := c.Clean(context.Background(), CleaningMode(42))
	require.ErrorIs(t, err, errors.ErrInvalidCleaningMode)
}

func TestCleanDeleteFailure(t *testing.T) {
	ctx := context.Background()
	s := &stubStore{Store: newTestStore(t), failDelete: map[string]bool{"stuck": true}}
	logger, logs := observedLogger(zapcore.WarnLevel)
	c := newTestCache(t, s, WithLogger(logger), WithDeleteConcurrency(2))

	require.NoError(t, c.Save(ctx, "stuck", []byte("1"), []string{"news"}))
	require.NoError(t, c.Save(ctx, "free", []byte("2"), []string{"news"}))
	require.NoError(t, c.Save(ctx, "other", []byte("3"), []string{"news"}))

	require.NoError(t, c.Clean(ctx, CleaningModeMatchingTag, "news"))

	requireMiss(t, c, "free")
	requireMiss(t, c, "other")
	requireHit(t, c, "stuck", "1")

	registered, err := c.Tags(ctx)
	require.NoError(t, err)
	require.Empty(t, registered)

	require.Equal(t, 1, logs.FilterMessage("failed to delete entry").Len())
	require.Equal(t, int64(1), c.Metrics().GetSnapshot().DeleteErrors)
}

func TestParseCleaningMode(t *testing.T) {
	for _, mode := range []CleaningMode{
		CleaningModeAll,
		CleaningModeOld,
		CleaningModeMatchingTag,
		CleaningModeNotMatchingTag,
		CleaningModeMatchingAnyTag,
	} {
		t.Run(mode.String(), func(t *testing.T) {
			parsed, err := ParseCleaningMode(mode.String())
			require.NoError(t, err)
			require.Equal(t, mode, parsed)
		})
	}

	_, err := ParseCleaningMode("everything")
	require.ErrorIs(t, err, errors.ErrInvalidCleaningMode)
	require.Equal(t, "unknown", CleaningMode(-1).String())
}
