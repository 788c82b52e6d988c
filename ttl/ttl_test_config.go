package ttl

import "time"

// TestConfig returns a lifetime configuration suitable for testing.
// Jitter is disabled so stored lifetimes are deterministic.
func TestConfig() Config {
	return Config{
		DefaultLifetime: time.Minute,
		MaxLifetime:     24 * time.Hour,
	}
}
