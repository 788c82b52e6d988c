package tagcache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gozephyr/tagcache/errors"
)

const maxLockRetryInterval = 5 * time.Second

var lockValue = []byte("1")

// TryLock makes one attempt to take the advisory lock named key. It returns
// false without error when the lock is already held. Locks carry no owner
// and no lease: a holder that never calls Unlock keeps the lock until the
// node drops it.
func (c *Cache) TryLock(ctx context.Context, key string) (bool, error) {
	if err := c.checkState(ctx, "TryLock", key); err != nil {
		return false, err
	}
	if key == "" {
		return false, errors.WrapError("TryLock", key, errors.ErrInvalidKey)
	}
	ok, err := c.store.Add(ctx, c.opts.LockPrefix+key, lockValue, 0)
	if err != nil {
		return false, errors.WrapError("TryLock", key, err)
	}
	c.metrics.RecordLock(ok)
	return ok, nil
}

// Unlock releases the lock named key, whoever holds it, and reports whether
// it was held.
func (c *Cache) Unlock(ctx context.Context, key string) (bool, error) {
	if err := c.checkState(ctx, "Unlock", key); err != nil {
		return false, err
	}
	if key == "" {
		return false, errors.WrapError("Unlock", key, errors.ErrInvalidKey)
	}
	existed, err := c.store.Delete(ctx, c.opts.LockPrefix+key)
	if err != nil {
		return false, errors.WrapError("Unlock", key, err)
	}
	return existed, nil
}

// Lock retries TryLock with exponential backoff starting at retryInterval
// until the lock is taken or ctx is done.
func (c *Cache) Lock(ctx context.Context, key string, retryInterval time.Duration) error {
	if retryInterval <= 0 {
		return errors.WrapError("Lock", key, errors.ErrInvalidOperation)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInterval
	bo.MaxInterval = max(maxLockRetryInterval, retryInterval)
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		ok, err := c.TryLock(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.WrapError("Lock", key, errors.ErrContextCanceled)
		}
	}
}
