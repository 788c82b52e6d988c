package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gozephyr/tagcache"
	"github.com/gozephyr/tagcache/internal/config"
	"github.com/gozephyr/tagcache/metrics"
	"github.com/gozephyr/tagcache/policy"
	"github.com/gozephyr/tagcache/store"
	"github.com/gozephyr/tagcache/ttl"
)

// buildStore connects every configured node. A single node is used as is;
// several are combined into a pool.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	nodes := make([]store.Node, 0, len(cfg.Nodes))
	closeAll := func() {
		for _, n := range nodes {
			_ = n.Close(context.Background())
		}
	}

	for _, nc := range cfg.Nodes {
		node, err := buildNode(ctx, nc)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("node %s: %w", nc.Name, err)
		}
		nodes = append(nodes, node)
	}

	if len(nodes) == 1 {
		return nodes[0], nil
	}
	pool, err := store.NewPool(nodes...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return pool, nil
}

func buildNode(ctx context.Context, nc config.NodeConfig) (store.Node, error) {
	opts := []store.Option{store.WithName(nc.Name)}
	if nc.MaxBytes > 0 {
		opts = append(opts, store.WithMaxMemory(nc.MaxBytes))
	}
	if nc.Timeout > 0 {
		opts = append(opts, store.WithOpTimeout(nc.Timeout))
	}

	switch nc.Type {
	case config.NodeMemory:
		if nc.MaxItems > 0 {
			opts = append(opts, store.WithMaxSize(nc.MaxItems))
		}
		if nc.Eviction != "" {
			opts = append(opts, store.WithEviction(policy.Name(nc.Eviction)))
		}
		return store.NewMemoryStore(ctx, opts...)
	case config.NodeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     nc.Addr,
			Password: nc.Password,
			DB:       nc.DB,
		})
		node, err := store.NewRedisStore(client, opts...)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return node, nil
	case config.NodeMemcache:
		return store.NewMemcacheStore(nc.Addr, opts...)
	case config.NodeBolt:
		return store.NewBoltStore(nc.Path, opts...)
	default:
		return nil, fmt.Errorf("unsupported node type %q", nc.Type)
	}
}

func buildCache(s store.Store, cfg *config.Config, logger *zap.Logger) (*tagcache.Cache, error) {
	algorithm, err := tagcache.ParseCompressionAlgorithm(cfg.Compression.Algorithm)
	if err != nil {
		return nil, err
	}

	exporter := metrics.StandardExporter
	if cfg.Metrics.Exporter == string(metrics.PrometheusExporterType) {
		exporter = metrics.PrometheusExporterType
	}

	return tagcache.New(s,
		tagcache.WithLogger(logger),
		tagcache.WithTTLConfig(ttl.Config{
			DefaultLifetime: cfg.DefaultLifetime,
			MaxLifetime:     cfg.MaxLifetime,
			JitterDelta:     cfg.Jitter,
		}),
		tagcache.WithCompressionConfig(tagcache.CompressionConfig{
			Algorithm: algorithm,
			Level:     cfg.Compression.Level,
			MinSize:   cfg.Compression.MinSize,
		}),
		tagcache.WithMetricsConfig(tagcache.MetricsConfig{
			ExporterType: exporter,
			CacheName:    cfg.Metrics.CacheName,
			Labels:       cfg.Metrics.Labels,
		}),
	)
}
