package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/gozephyr/tagcache/policy"
)

var (
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validAlgorithms  = map[string]bool{"": true, "none": true, "zstd": true, "gzip": true, "s2": true}
	validExporters   = map[string]bool{"": true, "standard": true, "prometheus": true}
	validNodeTypes   = map[string]bool{NodeMemory: true, NodeRedis: true, NodeMemcache: true, NodeBolt: true}
	nodesNeedingAddr = map[string]bool{NodeRedis: true, NodeMemcache: true}
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(cfg.Nodes) == 0 {
		cfg.Nodes = []NodeConfig{{Type: NodeMemory}}
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks configuration for errors and fills in node names
func (l *Loader) validate(cfg *Config) error {
	names := make(map[string]bool)
	for i := range cfg.Nodes {
		node := &cfg.Nodes[i]
		if !validNodeTypes[node.Type] {
			return fmt.Errorf("node %d: invalid type %q", i, node.Type)
		}
		if node.Name == "" {
			node.Name = fmt.Sprintf("%s-%d", node.Type, i)
		}
		if names[node.Name] {
			return fmt.Errorf("duplicate node name: %s", node.Name)
		}
		names[node.Name] = true

		if nodesNeedingAddr[node.Type] && node.Addr == "" {
			return fmt.Errorf("node %s: addr is required", node.Name)
		}
		if node.Type == NodeBolt && node.Path == "" {
			return fmt.Errorf("node %s: path is required", node.Name)
		}
		if node.MaxBytes < 0 {
			return fmt.Errorf("node %s: max_bytes cannot be negative", node.Name)
		}
		if node.Timeout < 0 {
			return fmt.Errorf("node %s: timeout cannot be negative", node.Name)
		}
		if node.MaxItems < 0 {
			return fmt.Errorf("node %s: max_items cannot be negative", node.Name)
		}
		if node.Eviction != "" {
			if node.Type != NodeMemory {
				return fmt.Errorf("node %s: eviction only applies to memory nodes", node.Name)
			}
			if _, err := policy.New[string](policy.Name(node.Eviction)); err != nil {
				return fmt.Errorf("node %s: %w", node.Name, err)
			}
		}
	}

	if cfg.DefaultLifetime < 0 || cfg.MaxLifetime < 0 || cfg.Jitter < 0 {
		return fmt.Errorf("lifetimes and jitter cannot be negative")
	}
	if cfg.MaxLifetime > 0 && cfg.DefaultLifetime > cfg.MaxLifetime {
		return fmt.Errorf("default_lifetime %s exceeds max_lifetime %s", cfg.DefaultLifetime, cfg.MaxLifetime)
	}
	if !validAlgorithms[cfg.Compression.Algorithm] {
		return fmt.Errorf("invalid compression algorithm: %s", cfg.Compression.Algorithm)
	}
	if cfg.Compression.MinSize < 0 {
		return fmt.Errorf("compression min_size cannot be negative")
	}
	if !validExporters[cfg.Metrics.Exporter] {
		return fmt.Errorf("invalid metrics exporter: %s", cfg.Metrics.Exporter)
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}
