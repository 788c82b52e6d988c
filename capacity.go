package tagcache

import (
	"context"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/internal"
)

// FillingPercentage returns the share of node memory in use across all
// nodes, in [0, 100] rounded to two decimals. Nodes that fail to report
// are logged and skipped; it fails with errors.ErrCapacityUnavailable when
// no node reports a positive limit.
func (c *Cache) FillingPercentage(ctx context.Context) (float64, error) {
	if err := c.checkState(ctx, "FillingPercentage", nil); err != nil {
		return 0, err
	}

	stats := c.store.NodeStats(ctx)
	var used, limit int64
	for _, node := range slices.Sorted(maps.Keys(stats)) {
		s := stats[node]
		if s.Err != nil {
			c.logger.Warn("node did not report stats", zap.String("node", node), zap.Error(s.Err))
			continue
		}
		if s.LimitMaxBytes <= 0 {
			c.logger.Warn("node reported no memory limit", zap.String("node", node))
			continue
		}
		used += min(max(s.Bytes, 0), s.LimitMaxBytes)
		limit += s.LimitMaxBytes
	}

	if limit == 0 {
		return 0, errors.WrapError("FillingPercentage", nil, errors.ErrCapacityUnavailable)
	}

	percent := internal.Round2(100 * float64(used) / float64(limit))
	c.metrics.UpdateFillPercentage(percent)
	return percent, nil
}
