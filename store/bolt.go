package store

import (
	"context"
	"slices"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/store/helper"
)

var boltBucket = []byte("tagcache")

// boltStore is a persistent single-file node. Items never get evicted;
// expired ones are dropped when read or swept.
type boltStore struct {
	name      string
	db        *bolt.DB
	maxMemory int64
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewBoltStore opens (or creates) a bbolt database at path as a node.
// MaxMemory is reported as the node's limit.
func NewBoltStore(path string, opts ...Option) (Node, error) {
	options, err := buildOptions("bolt", opts)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: options.OpTimeout})
	if err != nil {
		return nil, errors.WrapError("NewBoltStore", path, errors.ErrStoreConnection)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.WrapError("NewBoltStore", path, errors.ErrStoreError)
	}

	b := &boltStore{
		name:      options.Name,
		db:        db,
		maxMemory: options.MaxMemory,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	if options.CleanupInterval > 0 {
		go b.sweep(options.CleanupInterval)
	} else {
		close(b.done)
	}
	return b, nil
}

func (b *boltStore) Name() string {
	return b.name
}

func (b *boltStore) Get(ctx context.Context, key string) (Item, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return Item{}, errors.WrapError("Get", key, err)
	}

	var item Item
	var found, expired bool
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		expiresAt, flags, value, err := helper.DecodeValue(raw)
		if err != nil {
			return err
		}
		found = true
		if helper.IsExpired(expiresAt, b.now()) {
			expired = true
			return nil
		}
		item = Item{Key: key, Value: value, Flags: flags}
		return nil
	})
	if err != nil {
		return Item{}, errors.WrapError("Get", key, err)
	}
	if expired {
		_ = b.deleteIfExpired(key)
	}
	if !found || expired {
		return Item{}, errors.WrapError("Get", key, errors.ErrKeyNotFound)
	}
	return item, nil
}

func (b *boltStore) Set(ctx context.Context, key string, value []byte, flags uint32, ttl time.Duration) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Set", key, err)
	}
	if key == "" {
		return errors.WrapError("Set", key, errors.ErrInvalidKey)
	}

	data := helper.EncodeValue(helper.ExpiresAt(b.now(), ttl), flags, value)
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), data)
	})
	if err != nil {
		return errors.WrapError("Set", key, errors.ErrStoreError)
	}
	return nil
}

func (b *boltStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Add", key, err)
	}
	if key == "" {
		return false, errors.WrapError("Add", key, errors.ErrInvalidKey)
	}

	var added bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if raw := bucket.Get([]byte(key)); raw != nil {
			expiresAt, _, _, err := helper.DecodeValue(raw)
			if err == nil && !helper.IsExpired(expiresAt, b.now()) {
				return nil
			}
		}
		added = true
		return bucket.Put([]byte(key), helper.EncodeValue(helper.ExpiresAt(b.now(), ttl), 0, value))
	})
	if err != nil {
		return false, errors.WrapError("Add", key, errors.ErrStoreError)
	}
	return added, nil
}

func (b *boltStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := helper.CheckContext(ctx); err != nil {
		return false, errors.WrapError("Delete", key, err)
	}

	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		expiresAt, _, _, err := helper.DecodeValue(raw)
		existed = err == nil && !helper.IsExpired(expiresAt, b.now())
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return false, errors.WrapError("Delete", key, errors.ErrStoreError)
	}
	return existed, nil
}

func (b *boltStore) Flush(ctx context.Context) error {
	if err := helper.CheckContext(ctx); err != nil {
		return errors.WrapError("Flush", nil, err)
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(boltBucket)
		return err
	})
	if err != nil {
		return errors.WrapError("Flush", nil, errors.ErrStoreError)
	}
	return nil
}

// deleteIfExpired removes key only if the value stored now is still
// expired, so a write that landed after the read survives.
func (b *boltStore) deleteIfExpired(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		expiresAt, _, _, err := helper.DecodeValue(raw)
		if err != nil || !helper.IsExpired(expiresAt, b.now()) {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// each calls fn for every live item with its memcached-equivalent size
func (b *boltStore) each(fn func(key string, size int64)) error {
	now := b.now()
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, v []byte) error {
			expiresAt, _, value, err := helper.DecodeValue(v)
			if err != nil || helper.IsExpired(expiresAt, now) {
				return nil
			}
			fn(string(k), helper.ItemSize(string(k), value))
			return nil
		})
	})
}

func (b *boltStore) NodeStats(ctx context.Context) map[string]NodeStats {
	if err := helper.CheckContext(ctx); err != nil {
		return map[string]NodeStats{b.name: {Err: err}}
	}

	stats := NodeStats{LimitMaxBytes: b.maxMemory}
	err := b.each(func(_ string, size int64) {
		stats.Bytes += size
		stats.Items++
	})
	if err != nil {
		return map[string]NodeStats{b.name: {Err: errors.WrapError("NodeStats", b.name, errors.ErrStoreError)}}
	}
	return map[string]NodeStats{b.name: stats}
}

func (b *boltStore) Slabs(ctx context.Context) map[string][]int {
	if err := helper.CheckContext(ctx); err != nil {
		return map[string][]int{b.name: nil}
	}
	var slabs []int
	_ = b.each(func(_ string, size int64) {
		if class := helper.SlabClass(size); !slices.Contains(slabs, class) {
			slabs = append(slabs, class)
		}
	})
	slices.Sort(slabs)
	return map[string][]int{b.name: slabs}
}

func (b *boltStore) CacheDump(ctx context.Context, slab int) map[string][]string {
	if err := helper.CheckContext(ctx); err != nil {
		return map[string][]string{b.name: nil}
	}
	var keys []string
	_ = b.each(func(key string, size int64) {
		if helper.SlabClass(size) == slab {
			keys = append(keys, key)
		}
	})
	return map[string][]string{b.name: keys}
}

func (b *boltStore) sweep(interval time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = b.removeExpired()
		case <-b.stop:
			return
		}
	}
}

// removeExpired deletes every expired item in one transaction
func (b *boltStore) removeExpired() error {
	now := b.now()
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			expiresAt, _, _, err := helper.DecodeValue(v)
			if err == nil && helper.IsExpired(expiresAt, now) {
				expired = append(expired, slices.Clone(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops the sweeper and closes the database
func (b *boltStore) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
		err = b.db.Close()
	})
	return err
}
