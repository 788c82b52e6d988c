// Package helper provides utility functions shared by the store nodes
package helper

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/gozephyr/tagcache/errors"
)

// Memcached item accounting: every item carries a fixed header plus the key
// (NUL terminated) and the value (CRLF terminated).
const (
	itemHeaderSize = 48

	// SlabBaseChunk is the chunk size of the smallest slab class
	SlabBaseChunk = 96
	// SlabGrowthFactor is the ratio between consecutive slab classes
	SlabGrowthFactor = 1.25
	// SlabPageSize is the largest item a slab class can hold
	SlabPageSize = 1024 * 1024

	// HeaderSize is the length of the header written by EncodeValue
	HeaderSize = 12
)

// ItemSize returns the bytes an item occupies, the way memcached counts them
func ItemSize(key string, value []byte) int64 {
	return int64(itemHeaderSize + len(key) + 1 + len(value) + 2)
}

// SlabClass returns the 1-based slab class whose chunk fits size bytes
func SlabClass(size int64) int {
	class := 1
	chunk := float64(SlabBaseChunk)
	for int64(chunk) < size && chunk < SlabPageSize {
		chunk *= SlabGrowthFactor
		chunk = float64((int64(chunk) + 7) &^ 7) // 8-byte alignment
		class++
	}
	return class
}

// EncodeValue prefixes value with its absolute expiry (unix nanoseconds, 0
// for none) and client flags: expiresAt(8) | flags(4) | value.
func EncodeValue(expiresAt time.Time, flags uint32, value []byte) []byte {
	buf := make([]byte, HeaderSize+len(value))
	var exp int64
	if !expiresAt.IsZero() {
		exp = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[:8], uint64(exp))
	binary.BigEndian.PutUint32(buf[8:12], flags)
	copy(buf[HeaderSize:], value)
	return buf
}

// DecodeValue splits a buffer written by EncodeValue. The returned value is
// a copy.
func DecodeValue(buf []byte) (expiresAt time.Time, flags uint32, value []byte, err error) {
	if len(buf) < HeaderSize {
		return time.Time{}, 0, nil, errors.WrapError("DecodeValue", nil, errors.ErrDeserialization)
	}
	if exp := int64(binary.BigEndian.Uint64(buf[:8])); exp > 0 {
		expiresAt = time.Unix(0, exp)
	}
	flags = binary.BigEndian.Uint32(buf[8:12])
	value = append([]byte(nil), buf[HeaderSize:]...)
	return expiresAt, flags, value, nil
}

// ExpiresAt converts a relative ttl into an absolute expiry; zero ttl gives
// the zero time.
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// IsExpired reports whether an absolute expiry has passed
func IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// CheckContext checks if the context is done
func CheckContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.ErrContextCanceled
	default:
		return nil
	}
}

// WithTimeout bounds ctx by d unless it already has an earlier deadline
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
