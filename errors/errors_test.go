package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheErrorBasics(t *testing.T) {
	err := errors.New("base error")
	ce := &CacheError{
		Op:      "Load",
		Key:     "foo",
		Err:     err,
		ErrType: ErrorTypeCache,
	}
	require.Contains(t, ce.Error(), "Load")
	require.Contains(t, ce.Error(), "foo")
	require.Contains(t, ce.Error(), "base error")
	require.Equal(t, err, ce.Unwrap())

	ce2 := &CacheError{
		Op:      "Load",
		Key:     "foo",
		Err:     err,
		ErrType: ErrorTypeCache,
	}
	require.True(t, ce.Is(ce2))

	noKey := &CacheError{Op: "Clean", Err: err, ErrType: ErrorTypeOperation}
	require.Equal(t, "operation: Clean: base error", noKey.Error())
}

func TestWrapErrorAndTypeChecks(t *testing.T) {
	ResetErrorMetrics()
	wrapped := WrapError("Load", "bar", ErrKeyNotFound)
	require.Error(t, wrapped)
	ce, ok := wrapped.(*CacheError)
	require.True(t, ok)
	require.Equal(t, ErrorTypeCache, ce.ErrType)
	require.Equal(t, "Load", ce.Op)
	require.Equal(t, "bar", ce.Key)
	require.True(t, errors.Is(wrapped, ErrKeyNotFound))
	require.True(t, IsKeyNotFound(wrapped))

	require.True(t, IsCacheError(wrapped))
	require.NotNil(t, GetCacheError(wrapped))
	require.True(t, IsErrorType(wrapped, ErrorTypeCache))

	require.Nil(t, WrapError("Load", "bar", nil))
}

func TestWrapErrorKeepsInnerType(t *testing.T) {
	inner := WrapError("Get", "k", ErrStoreConnection)
	outer := WrapError("Load", "k", inner)
	require.True(t, IsErrorType(outer, ErrorTypeStore))
	require.True(t, errors.Is(outer, ErrStoreConnection))

	// fmt-wrapped CacheErrors are still found
	require.True(t, IsCacheError(fmt.Errorf("ctx: %w", inner)))
}

func TestCapacityUnavailable(t *testing.T) {
	err := WrapError("FillingPercentage", nil, ErrCapacityUnavailable)
	require.True(t, IsCapacityUnavailable(err))
	require.True(t, IsErrorType(err, ErrorTypeCache))
}

func TestErrorMetrics(t *testing.T) {
	ResetErrorMetrics()
	_ = WrapError("Set", "baz", ErrStoreError)
	_ = WrapError("Set", "baz", ErrCompression)
	_ = WrapError("Clean", nil, ErrInvalidCleaningMode)
	m := GetErrorMetrics()
	require.Equal(t, int64(0), m.CacheErrors.Load())
	require.Equal(t, int64(1), m.StoreErrors.Load())
	require.Equal(t, int64(1), m.ValidationErrors.Load())
	require.Equal(t, int64(1), m.OperationErrors.Load())
	ResetErrorMetrics()
	m = GetErrorMetrics()
	require.Equal(t, int64(0), m.StoreErrors.Load())
	require.Equal(t, int64(0), m.ValidationErrors.Load())
	require.Equal(t, int64(0), m.OperationErrors.Load())
}

func TestRecoverFromPanic(t *testing.T) {
	ResetErrorMetrics()
	defer func() {
		m := GetErrorMetrics()
		require.Equal(t, int64(1), m.PanicRecoveries.Load())
		require.IsType(t, time.Now(), m.LastPanic.Load())
	}()
	func() {
		defer RecoverFromPanic("Test", "panic-key")
		panic("test panic")
	}()
}
