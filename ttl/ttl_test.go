package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, time.Hour, cfg.DefaultLifetime)
	require.Equal(t, 30*24*time.Hour, cfg.MaxLifetime)
	require.Zero(t, cfg.JitterDelta)
	require.NoError(t, ValidateConfig(cfg))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("Negative lifetime", func(t *testing.T) {
		require.Error(t, Validate(-1*time.Second, cfg))
	})

	t.Run("Zero lifetime is infinite", func(t *testing.T) {
		require.NoError(t, Validate(0, cfg))
	})

	t.Run("Lifetime too long", func(t *testing.T) {
		require.Error(t, Validate(31*24*time.Hour, cfg))
	})

	t.Run("Unbounded max", func(t *testing.T) {
		cfg2 := cfg
		cfg2.MaxLifetime = 0
		require.NoError(t, Validate(365*24*time.Hour, cfg2))
	})

	t.Run("Negative jitter", func(t *testing.T) {
		cfg2 := cfg
		cfg2.JitterDelta = -time.Second
		require.Error(t, ValidateConfig(cfg2))
	})
}

func TestResolve(t *testing.T) {
	cfg := TestConfig()
	require.Equal(t, time.Minute, Resolve(cfg))
	require.Equal(t, 5*time.Second, Resolve(cfg, 5*time.Second))
	require.Equal(t, time.Duration(0), Resolve(cfg, 0))
}

func TestJitter(t *testing.T) {
	t.Run("Stays within bounds", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			got := Jitter(10*time.Second, 5*time.Second)
			require.GreaterOrEqual(t, got, 10*time.Second)
			require.LessOrEqual(t, got, 15*time.Second)
			require.Zero(t, got%time.Second)
		}
	})

	t.Run("Upper bound is inclusive", func(t *testing.T) {
		got := JitterWith(10*time.Second, 5*time.Second, func(n int64) int64 {
			require.Equal(t, int64(6), n)
			return n - 1
		})
		require.Equal(t, 15*time.Second, got)
	})

	t.Run("Infinite lifetime untouched", func(t *testing.T) {
		require.Equal(t, time.Duration(0), Jitter(0, time.Minute))
	})

	t.Run("Zero delta untouched", func(t *testing.T) {
		require.Equal(t, 10*time.Second, Jitter(10*time.Second, 0))
	})
}

func TestIsExpired(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Infinite lifetime never expires", func(t *testing.T) {
		require.False(t, IsExpired(created, 0, created.Add(100*365*24*time.Hour)))
	})

	t.Run("Boundary is still valid", func(t *testing.T) {
		require.False(t, IsExpired(created, 10*time.Second, created.Add(10*time.Second)))
	})

	t.Run("Past boundary is expired", func(t *testing.T) {
		require.True(t, IsExpired(created, 10*time.Second, created.Add(10*time.Second+time.Nanosecond)))
	})
}

func TestExpiresAtAndRemaining(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, ExpiresAt(created, 0).IsZero())
	require.Equal(t, created.Add(time.Minute), ExpiresAt(created, time.Minute))

	require.Equal(t, 40*time.Second, Remaining(created, time.Minute, created.Add(20*time.Second)))
	require.Equal(t, time.Duration(0), Remaining(created, time.Minute, created.Add(2*time.Minute)))
	require.Equal(t, time.Duration(0), Remaining(created, 0, created))
	require.Equal(t, 3*time.Second, Seconds(3*time.Second+900*time.Millisecond))
	require.Equal(t, time.Second, Seconds(200*time.Millisecond))
	require.Equal(t, time.Duration(0), Seconds(0))
}
