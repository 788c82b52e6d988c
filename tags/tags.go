// Package tags maintains the tag index on top of a key-value store: one
// membership record per tag listing the ids carrying it, and a registry
// record listing every tag that currently has members.
//
// Every update is a read-modify-write with no compare-and-swap. Two writers
// adding different ids to the same tag at the same time can lose one of the
// additions; callers that need strict membership must serialize writes to a
// tag themselves, for example with a lock keyed by the tag name.
package tags

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/internal"
	"github.com/gozephyr/tagcache/store"
)

// Default reserved keys
const (
	DefaultPrefix      = "tag."
	DefaultRegistryKey = "tagcache.registry"
)

// Options configures an Index
type Options struct {
	// Prefix is prepended to a tag to form its membership record key
	Prefix string

	// RegistryKey is the key of the record listing all known tags
	RegistryKey string

	// Logger receives debug output about registry changes
	Logger *zap.Logger
}

// Option is a function that configures index options
type Option func(*Options) error

// WithPrefix sets the membership record key prefix
func WithPrefix(prefix string) Option {
	return func(o *Options) error {
		if prefix == "" {
			return errors.ErrInvalidKey
		}
		o.Prefix = prefix
		return nil
	}
}

// WithRegistryKey sets the key of the tag registry record
func WithRegistryKey(key string) Option {
	return func(o *Options) error {
		if key == "" {
			return errors.ErrInvalidKey
		}
		o.RegistryKey = key
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) error {
		if logger != nil {
			o.Logger = logger
		}
		return nil
	}
}

// Index is the tag index over a store
type Index struct {
	store  store.Store
	opts   Options
	logger *zap.Logger
}

// New creates an index over s
func New(s store.Store, opts ...Option) (*Index, error) {
	options := Options{
		Prefix:      DefaultPrefix,
		RegistryKey: DefaultRegistryKey,
		Logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, errors.WrapError("tags.New", nil, err)
		}
	}
	if strings.HasPrefix(options.RegistryKey, options.Prefix) {
		return nil, errors.WrapError("tags.New", options.RegistryKey, errors.ErrInvalidKey)
	}
	return &Index{store: s, opts: options, logger: options.Logger}, nil
}

// Key returns the membership record key of tag
func (ix *Index) Key(tag string) string {
	return ix.opts.Prefix + tag
}

// IsReserved reports whether key belongs to the index rather than to an entry
func (ix *Index) IsReserved(key string) bool {
	return key == ix.opts.RegistryKey || strings.HasPrefix(key, ix.opts.Prefix)
}

// ValidateTag rejects tags that cannot be part of a store key
func ValidateTag(tag string) error {
	if tag == "" || strings.IndexFunc(tag, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return errors.WrapError("ValidateTag", tag, errors.ErrInvalidTag)
	}
	return nil
}

// MembersOf returns the ids tagged with tag, empty if the tag is unknown
func (ix *Index) MembersOf(ctx context.Context, tag string) ([]string, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}
	return ix.readSet(ctx, ix.Key(tag))
}

// SetMembers overwrites the membership of tag. An empty set deletes the
// record instead of storing it.
func (ix *Index) SetMembers(ctx context.Context, tag string, ids []string) error {
	if err := ValidateTag(tag); err != nil {
		return err
	}
	return ix.writeSet(ctx, ix.Key(tag), ids)
}

// Tags returns the registry contents, sorted
func (ix *Index) Tags(ctx context.Context) ([]string, error) {
	registered, err := ix.readSet(ctx, ix.opts.RegistryKey)
	if err != nil {
		return nil, err
	}
	slices.Sort(registered)
	return registered, nil
}

// SetTags overwrites the registry. An empty set deletes the record.
func (ix *Index) SetTags(ctx context.Context, tags []string) error {
	return ix.writeSet(ctx, ix.opts.RegistryKey, tags)
}

// RegisterTagsFor adds id to the membership of each tag and adds newly
// seen tags to the registry. Adding an id twice leaves one occurrence.
func (ix *Index) RegisterTagsFor(ctx context.Context, id string, tags []string) error {
	tags = internal.Dedupe(tags)
	if len(tags) == 0 {
		return nil
	}
	for _, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			return err
		}
	}

	for _, tag := range tags {
		members, err := ix.MembersOf(ctx, tag)
		if err != nil {
			return err
		}
		members, changed := internal.AppendUnique(members, id)
		if !changed {
			continue
		}
		if err := ix.SetMembers(ctx, tag, members); err != nil {
			return err
		}
	}

	registered, err := ix.readSet(ctx, ix.opts.RegistryKey)
	if err != nil {
		return err
	}
	var added []string
	for _, tag := range tags {
		var changed bool
		if registered, changed = internal.AppendUnique(registered, tag); changed {
			added = append(added, tag)
		}
	}
	if len(added) == 0 {
		return nil
	}
	ix.logger.Debug("registered new tags", zap.Strings("tags", added), zap.String("id", id))
	return ix.SetTags(ctx, registered)
}

// DropIdentifier removes id from every registered tag's membership. Tags
// left without members are dropped from the registry.
//
// With fromRegistry set, a registry entry equal to id is dropped as well;
// this supports data written when ids and tag names shared one namespace
// and is deprecated.
func (ix *Index) DropIdentifier(ctx context.Context, id string, fromRegistry bool) error {
	registered, err := ix.readSet(ctx, ix.opts.RegistryKey)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(registered))
	for _, tag := range registered {
		if fromRegistry && tag == id {
			continue
		}
		members, err := ix.MembersOf(ctx, tag)
		if err != nil {
			return err
		}
		if slices.Contains(members, id) {
			members = internal.Remove(members, id)
			if err := ix.SetMembers(ctx, tag, members); err != nil {
				return err
			}
		}
		if len(members) > 0 {
			kept = append(kept, tag)
		}
	}

	if len(kept) == len(registered) {
		return nil
	}
	return ix.SetTags(ctx, kept)
}

// MatchingAll returns the ids tagged with every one of tags
func (ix *Index) MatchingAll(ctx context.Context, tags []string) ([]string, error) {
	sets, err := ix.memberSets(ctx, tags)
	if err != nil || len(sets) == 0 {
		return nil, err
	}
	return internal.Intersect(sets...), nil
}

// MatchingAny returns the ids tagged with at least one of tags
func (ix *Index) MatchingAny(ctx context.Context, tags []string) ([]string, error) {
	sets, err := ix.memberSets(ctx, tags)
	if err != nil {
		return nil, err
	}
	return internal.Union(sets...), nil
}

// NotMatching returns the tagged ids that carry none of tags. Ids that were
// saved without any tag are not known to the index and never appear.
func (ix *Index) NotMatching(ctx context.Context, tags []string) ([]string, error) {
	registered, err := ix.Tags(ctx)
	if err != nil {
		return nil, err
	}
	all, err := ix.memberSets(ctx, registered)
	if err != nil {
		return nil, err
	}
	excluded, err := ix.MatchingAny(ctx, tags)
	if err != nil {
		return nil, err
	}
	return internal.Remove(internal.Union(all...), excluded...), nil
}

func (ix *Index) memberSets(ctx context.Context, tags []string) ([][]string, error) {
	tags = internal.Dedupe(tags)
	sets := make([][]string, 0, len(tags))
	for _, tag := range tags {
		members, err := ix.MembersOf(ctx, tag)
		if err != nil {
			return nil, err
		}
		sets = append(sets, members)
	}
	return sets, nil
}

func (ix *Index) readSet(ctx context.Context, key string) ([]string, error) {
	item, err := ix.store.Get(ctx, key)
	if errors.IsKeyNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var set []string
	if err := json.Unmarshal(item.Value, &set); err != nil {
		return nil, errors.WrapError("readSet", key, errors.ErrDeserialization)
	}
	return set, nil
}

func (ix *Index) writeSet(ctx context.Context, key string, set []string) error {
	if len(set) == 0 {
		_, err := ix.store.Delete(ctx, key)
		return err
	}
	data, err := json.Marshal(set)
	if err != nil {
		return errors.WrapError("writeSet", key, errors.ErrSerialization)
	}
	return ix.store.Set(ctx, key, data, 0, 0)
}
