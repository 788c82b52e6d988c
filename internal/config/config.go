// Package config loads the tagcachectl configuration file.
package config

import "time"

// Node types
const (
	NodeMemory   = "memory"
	NodeRedis    = "redis"
	NodeMemcache = "memcache"
	NodeBolt     = "bolt"
)

// Config is the root configuration
type Config struct {
	Nodes           []NodeConfig      `yaml:"nodes"`
	DefaultLifetime time.Duration     `yaml:"default_lifetime"`
	MaxLifetime     time.Duration     `yaml:"max_lifetime"`
	Jitter          time.Duration     `yaml:"jitter"`
	Compression     CompressionConfig `yaml:"compression"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	LogLevel        string            `yaml:"log_level"`
}

// NodeConfig describes one key-value node
type NodeConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Path     string        `yaml:"path"`
	MaxBytes int64         `yaml:"max_bytes"`
	Timeout  time.Duration `yaml:"timeout"`

	// MaxItems and Eviction apply to memory nodes only
	MaxItems int    `yaml:"max_items"`
	Eviction string `yaml:"eviction"`
}

// CompressionConfig configures payload compression
type CompressionConfig struct {
	Algorithm string `yaml:"algorithm"`
	Level     int    `yaml:"level"`
	MinSize   int    `yaml:"min_size"`
}

// MetricsConfig configures the metrics exporter
type MetricsConfig struct {
	Exporter  string            `yaml:"exporter"`
	CacheName string            `yaml:"cache_name"`
	Labels    map[string]string `yaml:"labels"`
}

// DefaultConfig returns a configuration with a single in-memory node
func DefaultConfig() *Config {
	return &Config{
		DefaultLifetime: time.Hour,
		MaxLifetime:     30 * 24 * time.Hour,
		Compression: CompressionConfig{
			Algorithm: "zstd",
			MinSize:   1024,
		},
		Metrics: MetricsConfig{
			Exporter:  "standard",
			CacheName: "tagcache",
		},
		LogLevel: "info",
	}
}
