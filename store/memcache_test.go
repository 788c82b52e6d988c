package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/store/helper"
)

// fakeMemcached speaks enough of the memcached text protocol for the node:
// gets, set, add, delete, flush_all, stats, stats slabs, stats cachedump.
type fakeMemcached struct {
	mu       sync.Mutex
	items    map[string]fakeItem
	limit    int64
	listener net.Listener
}

type fakeItem struct {
	value []byte
	flags uint32
}

func startFakeMemcached(t *testing.T, limit int64) *fakeMemcached {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeMemcached{items: make(map[string]fakeItem), limit: limit, listener: ln}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeMemcached) Addr() string {
	return f.listener.Addr().String()
}

func (f *fakeMemcached) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeMemcached) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "get", "gets":
			f.mu.Lock()
			for _, key := range fields[1:] {
				if it, ok := f.items[key]; ok {
					fmt.Fprintf(w, "VALUE %s %d %d 1\r\n%s\r\n", key, it.flags, len(it.value), it.value)
				}
			}
			f.mu.Unlock()
			w.WriteString("END\r\n")
		case "set", "add":
			flags, _ := strconv.ParseUint(fields[2], 10, 32)
			size, _ := strconv.Atoi(fields[4])
			data := make([]byte, size+2)
			if _, err := io.ReadFull(r, data); err != nil {
				return
			}
			f.mu.Lock()
			if _, exists := f.items[fields[1]]; exists && fields[0] == "add" {
				w.WriteString("NOT_STORED\r\n")
			} else {
				f.items[fields[1]] = fakeItem{value: data[:size], flags: uint32(flags)}
				w.WriteString("STORED\r\n")
			}
			f.mu.Unlock()
		case "delete":
			f.mu.Lock()
			if _, exists := f.items[fields[1]]; exists {
				delete(f.items, fields[1])
				w.WriteString("DELETED\r\n")
			} else {
				w.WriteString("NOT_FOUND\r\n")
			}
			f.mu.Unlock()
		case "flush_all":
			f.mu.Lock()
			f.items = make(map[string]fakeItem)
			f.mu.Unlock()
			w.WriteString("OK\r\n")
		case "stats":
			f.stats(w, fields[1:])
		default:
			w.WriteString("ERROR\r\n")
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (f *fakeMemcached) stats(w *bufio.Writer, args []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bySlab := make(map[int][]string)
	var used int64
	for key, it := range f.items {
		size := helper.ItemSize(key, it.value)
		used += size
		class := helper.SlabClass(size)
		bySlab[class] = append(bySlab[class], key)
	}

	switch {
	case len(args) == 0:
		fmt.Fprintf(w, "STAT pid 1\r\nSTAT curr_items %d\r\nSTAT bytes %d\r\nSTAT limit_maxbytes %d\r\n", len(f.items), used, f.limit)
	case args[0] == "slabs":
		ids := make([]int, 0, len(bySlab))
		for id := range bySlab {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "STAT %d:chunk_size 96\r\nSTAT %d:used_chunks %d\r\n", id, id, len(bySlab[id]))
		}
		fmt.Fprintf(w, "STAT active_slabs %d\r\nSTAT total_malloced 1048576\r\n", len(ids))
	case args[0] == "cachedump" && len(args) >= 2:
		id, _ := strconv.Atoi(args[1])
		for _, key := range bySlab[id] {
			fmt.Fprintf(w, "ITEM %s [%d b; 0 s]\r\n", key, len(f.items[key].value))
		}
	}
	w.WriteString("END\r\n")
}

func newTestMemcacheStore(t *testing.T, limit int64) (Node, *fakeMemcached) {
	t.Helper()
	f := startFakeMemcached(t, limit)
	s, err := NewMemcacheStore(f.Addr(), WithName("mc-1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, f
}

func TestMemcacheStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemcacheStore(t, 1024*1024)
	require.Equal(t, "mc-1", s.Name())

	t.Run("Get Set Delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "key1", []byte("value1"), 5, time.Minute))

		item, err := s.Get(ctx, "key1")
		require.NoError(t, err)
		require.Equal(t, []byte("value1"), item.Value)
		require.Equal(t, uint32(5), item.Flags)

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

	t.Run("Malformed key", func(t *testing.T) {
		err := s.Set(ctx, "has space", []byte("v"), 0, 0)
		require.ErrorIs(t, err, errors.ErrInvalidKey)
	})

	t.Run("Stats", func(t *testing.T) {
		require.NoError(t, s.Flush(ctx))
		require.NoError(t, s.Set(ctx, "a", []byte("1"), 0, 0))
		stats := s.NodeStats(ctx)["mc-1"]
		require.NoError(t, stats.Err)
		require.Equal(t, int64(1024*1024), stats.LimitMaxBytes)
		require.Equal(t, helper.ItemSize("a", []byte("1")), stats.Bytes)
		require.Equal(t, int64(1), stats.Items)
	})

	t.Run("Slabs and CacheDump", func(t *testing.T) {
		require.NoError(t, s.Flush(ctx))
		require.NoError(t, s.Set(ctx, "small", []byte("x"), 0, 0))
		require.NoError(t, s.Set(ctx, "large", make([]byte, 4096), 0, 0))

		slabs := s.Slabs(ctx)["mc-1"]
		require.Len(t, slabs, 2)

		var keys []string
		for _, slab := range slabs {
			keys = append(keys, s.CacheDump(ctx, slab)["mc-1"]...)
		}
		require.ElementsMatch(t, []string{"small", "large"}, keys)
	})
}

func TestMemcacheStoreUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s, err := NewMemcacheStore(addr, WithOpTimeout(200*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, addr, s.Name())

	stats := s.NodeStats(context.Background())[addr]
	require.ErrorIs(t, stats.Err, errors.ErrStoreConnection)
	require.Empty(t, s.Slabs(context.Background())[addr])
}

func TestMemcacheExpiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.Equal(t, int32(0), memcacheExpiration(now, 0))
	require.Equal(t, int32(1), memcacheExpiration(now, 200*time.Millisecond))
	require.Equal(t, int32(60), memcacheExpiration(now, time.Minute))

	long := 31 * 24 * time.Hour
	require.Equal(t, int32(now.Unix()+int64(long/time.Second)), memcacheExpiration(now, long))
}

func TestNewMemcacheStoreEmptyAddr(t *testing.T) {
	_, err := NewMemcacheStore("")
	require.ErrorIs(t, err, errors.ErrStoreConnection)
}
