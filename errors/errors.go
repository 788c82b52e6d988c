// Package errors provides error types and utilities for the tagcache packages.
package errors

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeCache represents cache-level errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeStore represents key-value node errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeValidation represents validation and codec errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeOperation represents operation-specific errors
	ErrorTypeOperation ErrorType = "operation"
)

// Common error types
var (
	// Cache errors
	ErrCacheClosed         = errors.New("cache is closed")
	ErrKeyNotFound         = errors.New("key not found")
	ErrInvalidKey          = errors.New("invalid key")
	ErrInvalidTag          = errors.New("invalid tag")
	ErrCapacityUnavailable = errors.New("can't get filling percentage")
	ErrContextCanceled     = errors.New("operation canceled by context")

	// Lifetime errors
	ErrInvalidLifetime = errors.New("invalid lifetime value")
	ErrInvalidJitter   = errors.New("jitter delta cannot be negative")

	// Store errors
	ErrStoreError         = errors.New("store operation failed")
	ErrStoreConnection    = errors.New("store connection failed")
	ErrStoreTimeout       = errors.New("store operation timed out")
	ErrNotStored          = errors.New("item not stored")
	ErrNoNodes            = errors.New("no store nodes configured")
	ErrInvalidSize        = errors.New("max size must be greater than 0")
	ErrInvalidMemoryLimit = errors.New("max memory cannot be negative")

	// Data errors
	ErrCompression     = errors.New("compression error")
	ErrDecompression   = errors.New("decompression error")
	ErrSerialization   = errors.New("serialization error")
	ErrDeserialization = errors.New("deserialization error")

	// Operation errors
	ErrInvalidCleaningMode     = errors.New("invalid cleaning mode")
	ErrUnsupportedCleaningMode = errors.New("cleaning mode is unsupported by this backend")
	ErrInvalidOperation        = errors.New("invalid operation")
)

// CacheError represents a cache operation error
type CacheError struct {
	Op      string
	Key     any
	Err     error
	ErrType ErrorType
}

// determineErrorType determines the error type based on the error
func determineErrorType(err error) ErrorType {
	switch {
	case errors.Is(err, ErrCacheClosed) || errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidTag) ||
		errors.Is(err, ErrCapacityUnavailable):
		return ErrorTypeCache
	case errors.Is(err, ErrStoreError) || errors.Is(err, ErrStoreConnection) ||
		errors.Is(err, ErrStoreTimeout) || errors.Is(err, ErrNotStored) ||
		errors.Is(err, ErrNoNodes):
		return ErrorTypeStore
	case errors.Is(err, ErrCompression) || errors.Is(err, ErrDecompression) ||
		errors.Is(err, ErrSerialization) || errors.Is(err, ErrDeserialization) ||
		errors.Is(err, ErrInvalidLifetime) || errors.Is(err, ErrInvalidJitter):
		return ErrorTypeValidation
	default:
		return ErrorTypeOperation
	}
}

// Error implements the error interface
func (e *CacheError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("%s: %s: key=%v: %v", e.ErrType, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.ErrType, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *CacheError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error is of the same type as the receiver
func (e *CacheError) Is(target error) bool {
	t, ok := target.(*CacheError)
	if !ok {
		return false
	}
	return e.ErrType == t.ErrType && e.Op == t.Op && errors.Is(e.Err, t.Err)
}

// NewCacheError creates a new CacheError
func NewCacheError(errType ErrorType, op string, key any, err error) error {
	return &CacheError{
		ErrType: errType,
		Op:      op,
		Key:     key,
		Err:     err,
	}
}

// ErrorMetrics tracks error statistics
type ErrorMetrics struct {
	CacheErrors      atomic.Int64
	StoreErrors      atomic.Int64
	ValidationErrors atomic.Int64
	OperationErrors  atomic.Int64

	LastCacheError      atomic.Value // time.Time
	LastStoreError      atomic.Value // time.Time
	LastValidationError atomic.Value // time.Time
	LastOperationError  atomic.Value // time.Time

	PanicRecoveries atomic.Int64
	LastPanic       atomic.Value // time.Time
}

var metrics = &ErrorMetrics{}

// GetErrorMetrics returns the current error metrics
func GetErrorMetrics() *ErrorMetrics {
	return metrics
}

// ResetErrorMetrics resets all error metrics
func ResetErrorMetrics() {
	metrics.CacheErrors.Store(0)
	metrics.StoreErrors.Store(0)
	metrics.ValidationErrors.Store(0)
	metrics.OperationErrors.Store(0)
	metrics.PanicRecoveries.Store(0)
	metrics.LastCacheError.Store(time.Time{})
	metrics.LastStoreError.Store(time.Time{})
	metrics.LastValidationError.Store(time.Time{})
	metrics.LastOperationError.Store(time.Time{})
	metrics.LastPanic.Store(time.Time{})
}

func updateErrorMetrics(errType ErrorType) {
	now := time.Now()
	switch errType {
	case ErrorTypeCache:
		metrics.CacheErrors.Add(1)
		metrics.LastCacheError.Store(now)
	case ErrorTypeStore:
		metrics.StoreErrors.Add(1)
		metrics.LastStoreError.Store(now)
	case ErrorTypeValidation:
		metrics.ValidationErrors.Add(1)
		metrics.LastValidationError.Store(now)
	case ErrorTypeOperation:
		metrics.OperationErrors.Add(1)
		metrics.LastOperationError.Store(now)
	}
}

// WrapError wraps an error with context and updates metrics.
// An error that is already a *CacheError keeps its original type.
func WrapError(op string, key any, err error) error {
	if err == nil {
		return nil
	}

	errType := determineErrorType(err)
	var ce *CacheError
	if errors.As(err, &ce) {
		errType = ce.ErrType
	}

	updateErrorMetrics(errType)
	return NewCacheError(errType, op, key, err)
}

// RecoverFromPanic recovers from a panic and updates metrics
func RecoverFromPanic(op string, key any) bool {
	if r := recover(); r != nil {
		metrics.PanicRecoveries.Add(1)
		metrics.LastPanic.Store(time.Now())
		return true
	}
	return false
}

// IsCacheError checks if an error is a CacheError
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

// GetCacheError returns the outermost CacheError in the chain, if any
func GetCacheError(err error) *CacheError {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if ce := GetCacheError(err); ce != nil {
		return ce.ErrType == errType
	}
	return false
}

// IsKeyNotFound checks if the error is a key not found error
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsContextCanceled checks if the error is a context canceled error
func IsContextCanceled(err error) bool {
	return errors.Is(err, ErrContextCanceled)
}

// IsCacheClosed checks if the error is a cache closed error
func IsCacheClosed(err error) bool {
	return errors.Is(err, ErrCacheClosed)
}

// IsCapacityUnavailable checks if no node reported usable statistics
func IsCapacityUnavailable(err error) bool {
	return errors.Is(err, ErrCapacityUnavailable)
}
