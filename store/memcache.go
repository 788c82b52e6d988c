package store

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/store/helper"
)

// memcachedRelativeLimit is the largest expiration memcached treats as
// relative; longer ones must be sent as a unix timestamp.
const memcachedRelativeLimit = 30 * 24 * time.Hour

// cachedumpLimit of 0 asks memcached for every key in the slab
const cachedumpLimit = 0

type memcacheStore struct {
	name    string
	addr    string
	client  *memcache.Client
	timeout time.Duration
}

// NewMemcacheStore creates a node for a single memcached server.
// Data operations use gomemcache; statistics and key dumps speak the text
// protocol directly since gomemcache does not expose them.
func NewMemcacheStore(addr string, opts ...Option) (Node, error) {
	if addr == "" {
		return nil, errors.WrapError("NewMemcacheStore", nil, errors.ErrStoreConnection)
	}
	options, err := buildOptions(addr, opts)
	if err != nil {
		return nil, err
	}
	client := memcache.New(addr)
	client.Timeout = options.OpTimeout
	return &memcacheStore{
		name:    options.Name,
		addr:    addr,
		client:  client,
		timeout: options.OpTimeout,
	}, nil
}

func (m *memcacheStore) Name() string {
	return m.name
}

func (m *memcacheStore) Get(ctx context.Context, key string) (Item, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return Item{}, errors.WrapError("Get", key, err)
	}
	it, err := m.client.Get(key)
	if err != nil {
		return Item{}, errors.WrapError("Get", key, memcacheError(err))
	}
	return Item{Key: key, Value: it.Value, Flags: it.Flags}, nil
}

func (m *memcacheStore) Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Set", key, err)
	}
	if key == "" {
		return errors.WrapError("Set", key, errors.ErrInvalidKey)
	}
	err := m.client.Set(&memcache.Item{Key: key, Value: value, Flags: flags, Expiration: memcacheExpiration(time.Now(), ttl)})
	if err != nil {
		return errors.WrapError("Set", key, memcacheError(err))
	}
	return nil
}

func (m *memcacheStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Add", key, err)
	}
	if key == "" {
		return false, errors.WrapError("Add", key, errors.ErrInvalidKey)
	}
	err := m.client.Add(&memcache.Item{Key: key, Value: value, Expiration: memcacheExpiration(time.Now(), ttl)})
	if stderrors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapError("Add", key, memcacheError(err))
	}
	return true, nil
}

func (m *memcacheStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Delete", key, err)
	}
	err := m.client.Delete(key)
	if stderrors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapError("Delete", key, memcacheError(err))
	}
	return true, nil
}

func (m *memcacheStore) Flush(ctx context.Context) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Flush", nil, err)
	}
	if err := m.client.FlushAll(); err != nil {
		return errors.WrapError("Flush", nil, memcacheError(err))
	}
	return nil
}

func (m *memcacheStore) NodeStats(ctx context.Context) map[string]NodeStats {
	var stats NodeStats
	err := m.command(ctx, "stats", func(fields []string) error {
		if len(fields) != 3 || fields[0] != "STAT" {
			return nil
		}
		var target *int64
		switch fields[1] {
		case "limit_maxbytes":
			target = &stats.LimitMaxBytes
		case "bytes":
			target = &stats.Bytes
		case "curr_items":
			target = &stats.Items
		default:
			return nil
		}
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return errors.ErrDeserialization
		}
		*target = n
		return nil
	})
	if err != nil {
		return map[string]NodeStats{m.name: {Err: errors.WrapError("NodeStats", m.name, err)}}
	}
	return map[string]NodeStats{m.name: stats}
}

// Slabs lists the slab ids from "stats slabs" ("STAT <id>:<field> <value>")
func (m *memcacheStore) Slabs(ctx context.Context) map[string][]int {
	var slabs []int
	err := m.command(ctx, "stats slabs", func(fields []string) error {
		if len(fields) != 3 || fields[0] != "STAT" {
			return nil
		}
		idText, _, ok := strings.Cut(fields[1], ":")
		if !ok {
			return nil
		}
		id, err := strconv.Atoi(idText)
		if err != nil {
			return nil
		}
		if !slices.Contains(slabs, id) {
			slabs = append(slabs, id)
		}
		return nil
	})
	if err != nil {
		return map[string][]int{m.name: nil}
	}
	slices.Sort(slabs)
	return map[string][]int{m.name: slabs}
}

// CacheDump lists keys from "stats cachedump" ("ITEM <key> [<n> b; <t> s]")
func (m *memcacheStore) CacheDump(ctx context.Context, slab int) map[string][]string {
	var keys []string
	err := m.command(ctx, fmt.Sprintf("stats cachedump %d %d", slab, cachedumpLimit), func(fields []string) error {
		if len(fields) >= 2 && fields[0] == "ITEM" {
			keys = append(keys, fields[1])
		}
		return nil
	})
	if err != nil {
		return map[string][]string{m.name: nil}
	}
	return map[string][]string{m.name: keys}
}

// command sends a text-protocol command and feeds every reply line, split
// into fields, to fn until END
func (m *memcacheStore) command(ctx context.Context, cmd string, fn func(fields []string) error) error {
	if err := helper.CheckContext(ctx); err != nil {
		return err
	}
	ctx, cancel := helper.WithTimeout(ctx, m.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreConnection, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreError, err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "END":
			return nil
		case line == "ERROR", strings.HasPrefix(line, "CLIENT_ERROR"), strings.HasPrefix(line, "SERVER_ERROR"):
			return fmt.Errorf("%w: %s", errors.ErrStoreError, line)
		}
		if err := fn(strings.Fields(line)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreError, err)
	}
	return fmt.Errorf("%w: connection closed before END", errors.ErrStoreError)
}

// Close releases idle connections
func (m *memcacheStore) Close(ctx context.Context) error {
	return m.client.Close()
}

// memcacheExpiration converts a ttl into memcached's exptime: relative
// seconds up to 30 days, an absolute unix time beyond that, 0 for never.
func memcacheExpiration(now time.Time, ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if secs == 0 {
		secs = 1
	}
	if ttl > memcachedRelativeLimit {
		return int32(now.Unix() + secs)
	}
	return int32(secs)
}

func memcacheError(err error) error {
	switch {
	case stderrors.Is(err, memcache.ErrCacheMiss):
		return errors.ErrKeyNotFound
	case stderrors.Is(err, memcache.ErrMalformedKey):
		return errors.ErrInvalidKey
	case stderrors.Is(err, memcache.ErrNotStored):
		return errors.ErrNotStored
	case stderrors.Is(err, memcache.ErrNoServers):
		return errors.ErrStoreConnection
	}
	var connErr *memcache.ConnectTimeoutError
	if stderrors.As(err, &connErr) {
		return errors.ErrStoreTimeout
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreError, err)
}
