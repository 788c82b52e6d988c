package tagcache

import (
	"context"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/internal"
)

// CleaningMode selects what Clean deletes
type CleaningMode int

const (
	// CleaningModeAll flushes the whole node, including keys this package
	// did not write
	CleaningModeAll CleaningMode = iota
	// CleaningModeOld is accepted but does nothing; nodes expire entries
	// themselves
	CleaningModeOld
	// CleaningModeMatchingTag deletes every entry carrying any of the given
	// tags and drops those tags. Despite the name, tags are combined with
	// OR; use IDsMatchingTags and Remove for AND semantics.
	CleaningModeMatchingTag
	// CleaningModeNotMatchingTag deletes the entries of every registered
	// tag except the given ones and drops those tags
	CleaningModeNotMatchingTag
	// CleaningModeMatchingAnyTag behaves exactly like CleaningModeMatchingTag
	CleaningModeMatchingAnyTag
)

var cleaningModeNames = map[CleaningMode]string{
	CleaningModeAll:            "all",
	CleaningModeOld:            "old",
	CleaningModeMatchingTag:    "matchingTag",
	CleaningModeNotMatchingTag: "notMatchingTag",
	CleaningModeMatchingAnyTag: "matchingAnyTag",
}

// String returns the name of the mode
func (m CleaningMode) String() string {
	if name, ok := cleaningModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseCleaningMode maps a mode name to a CleaningMode
func ParseCleaningMode(name string) (CleaningMode, error) {
	for mode, n := range cleaningModeNames {
		if n == name {
			return mode, nil
		}
	}
	return 0, errors.WrapError("ParseCleaningMode", name, errors.ErrInvalidCleaningMode)
}

// Clean deletes entries according to mode. Deletes of single entries are
// best effort: failures are logged and counted, and the tag registry is
// still updated.
func (c *Cache) Clean(ctx context.Context, mode CleaningMode, tagList ...string) error {
	if err := c.checkState(ctx, "Clean", mode.String()); err != nil {
		return err
	}

	switch mode {
	case CleaningModeAll:
		if err := c.store.Flush(ctx); err != nil {
			return errors.WrapError("Clean", mode.String(), err)
		}
		c.metrics.RecordClean(0)
		c.logger.Debug("flushed store")
		return nil
	case CleaningModeOld:
		c.logger.Warn(errors.ErrUnsupportedCleaningMode.Error(), zap.Stringer("mode", mode))
		return nil
	case CleaningModeMatchingTag, CleaningModeMatchingAnyTag:
		return c.cleanTags(ctx, mode, func(tag string) bool {
			return slices.Contains(tagList, tag)
		})
	case CleaningModeNotMatchingTag:
		return c.cleanTags(ctx, mode, func(tag string) bool {
			return !slices.Contains(tagList, tag)
		})
	default:
		return errors.WrapError("Clean", mode.String(), errors.ErrInvalidCleaningMode)
	}
}

// cleanTags deletes the members of every registered tag chosen by
// selected, then removes those tags from the index
func (c *Cache) cleanTags(ctx context.Context, mode CleaningMode, selected func(tag string) bool) error {
	registered, err := c.index.Tags(ctx)
	if err != nil {
		return errors.WrapError("Clean", mode.String(), err)
	}
	if len(registered) == 0 {
		return nil
	}

	var ids, dropped []string
	for _, tag := range registered {
		if !selected(tag) {
			continue
		}
		members, err := c.index.MembersOf(ctx, tag)
		if err != nil {
			c.logger.Warn("failed to read tag members", zap.String("tag", tag), zap.Error(err))
			continue
		}
		ids = append(ids, members...)
		dropped = append(dropped, tag)
	}
	if len(dropped) == 0 {
		return nil
	}

	deleted := c.deleteAll(ctx, internal.Dedupe(ids))

	for _, tag := range dropped {
		if err := c.index.SetMembers(ctx, tag, nil); err != nil {
			c.logger.Warn("failed to delete tag record", zap.String("tag", tag), zap.Error(err))
		}
	}
	if err := c.index.SetTags(ctx, internal.Remove(registered, dropped...)); err != nil {
		return errors.WrapError("Clean", mode.String(), err)
	}

	c.metrics.RecordClean(deleted)
	c.logger.Debug("cleaned tags",
		zap.Stringer("mode", mode),
		zap.Strings("tags", dropped),
		zap.Int64("deleted", deleted),
	)
	return nil
}

// deleteAll deletes ids with at most DeleteConcurrency deletes in flight
// and returns how many existed
func (c *Cache) deleteAll(ctx context.Context, ids []string) int64 {
	var deleted atomic.Int64
	var g errgroup.Group
	g.SetLimit(c.opts.DeleteConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			defer errors.RecoverFromPanic("Clean", id)
			existed, err := c.store.Delete(ctx, id)
			if err != nil {
				c.logger.Warn("failed to delete entry", zap.String("id", id), zap.Error(err))
				c.metrics.RecordDeleteError()
				return nil
			}
			if existed {
				deleted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return deleted.Load()
}
