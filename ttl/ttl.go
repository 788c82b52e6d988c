// Package ttl provides lifetime handling for cache entries.
// It resolves effective lifetimes, applies the jitter policy that spreads
// expiry of entries saved together, and checks embedded expiry independent
// of the key-value store's native TTL.
package ttl

import (
	"math/rand/v2"
	"time"

	"github.com/gozephyr/tagcache/errors"
)

// Config represents configuration for lifetime behavior
type Config struct {
	// DefaultLifetime is used when Save is called without an override
	DefaultLifetime time.Duration

	// MaxLifetime is the maximum allowed lifetime (0 means unbounded)
	MaxLifetime time.Duration

	// JitterDelta is the upper bound of the random extra lifetime added on
	// save. Zero disables jitter.
	JitterDelta time.Duration
}

// DefaultConfig returns the default lifetime configuration
func DefaultConfig() Config {
	return Config{
		DefaultLifetime: time.Hour,
		MaxLifetime:     30 * 24 * time.Hour,
	}
}

// Validate validates a lifetime value against the configuration
func Validate(lifetime time.Duration, config Config) error {
	if lifetime < 0 {
		return errors.WrapError("Validate", nil, errors.ErrInvalidLifetime)
	}
	if config.MaxLifetime > 0 && lifetime > config.MaxLifetime {
		return errors.WrapError("Validate", nil, errors.ErrInvalidLifetime)
	}
	return nil
}

// ValidateConfig checks a whole Config
func ValidateConfig(config Config) error {
	if config.JitterDelta < 0 {
		return errors.WrapError("ValidateConfig", nil, errors.ErrInvalidJitter)
	}
	if config.MaxLifetime < 0 {
		return errors.WrapError("ValidateConfig", nil, errors.ErrInvalidLifetime)
	}
	return Validate(config.DefaultLifetime, config)
}

// Resolve returns the override when one is given, else the configured default.
// Only the first override is considered.
func Resolve(config Config, override ...time.Duration) time.Duration {
	if len(override) > 0 {
		return override[0]
	}
	return config.DefaultLifetime
}

// Seconds truncates a lifetime to whole seconds, the resolution entries are
// stored with. A positive lifetime never truncates to zero, which would
// make it infinite.
func Seconds(lifetime time.Duration) time.Duration {
	if lifetime > 0 && lifetime < time.Second {
		return time.Second
	}
	return lifetime.Truncate(time.Second)
}

// Jitter adds a uniformly random number of whole seconds in [0, delta] to a
// positive lifetime. A zero lifetime means infinite and is returned as is.
func Jitter(lifetime, delta time.Duration) time.Duration {
	return JitterWith(lifetime, delta, rand.Int64N)
}

// JitterWith is Jitter with an explicit source of randomness; intn must
// return a value in [0, n).
func JitterWith(lifetime, delta time.Duration, intn func(n int64) int64) time.Duration {
	if lifetime <= 0 || delta < time.Second {
		return lifetime
	}
	max := int64(delta / time.Second)
	return lifetime + time.Duration(intn(max+1))*time.Second
}

// ExpiresAt returns the absolute expiry of an entry, or the zero time when
// the lifetime is infinite.
func ExpiresAt(createdAt time.Time, lifetime time.Duration) time.Time {
	if lifetime == 0 {
		return time.Time{}
	}
	return createdAt.Add(lifetime)
}

// IsExpired reports whether an entry created at createdAt with the given
// lifetime is expired at now. An entry is still valid at exactly
// createdAt+lifetime.
func IsExpired(createdAt time.Time, lifetime time.Duration, now time.Time) bool {
	if lifetime == 0 {
		return false
	}
	return now.After(createdAt.Add(lifetime))
}

// Remaining returns the lifetime left at now, never negative.
func Remaining(createdAt time.Time, lifetime time.Duration, now time.Time) time.Duration {
	if lifetime == 0 {
		return 0
	}
	left := createdAt.Add(lifetime).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
