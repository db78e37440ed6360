package querycache

import (
	"context"
	"time"

	"github.com/vextjs/monsqlize/cache"
)

// Collection is the document collection the cache sits in front of.
// FindOne returns a nil document when nothing matches.
type Collection interface {
	Database() string
	Name() string

	Find(ctx context.Context, filter cache.Filter, opts cache.QueryOptions) ([]cache.Document, error)
	FindOne(ctx context.Context, filter cache.Filter, opts cache.QueryOptions) (cache.Document, error)
	Count(ctx context.Context, filter cache.Filter) (int64, error)
	Distinct(ctx context.Context, field string, filter cache.Filter) ([]any, error)

	InsertOne(ctx context.Context, doc cache.Document) error
	InsertMany(ctx context.Context, docs []cache.Document) error
	UpdateOne(ctx context.Context, filter cache.Filter, update map[string]any) (int64, error)
	UpdateMany(ctx context.Context, filter cache.Filter, update map[string]any) (int64, error)
	ReplaceOne(ctx context.Context, filter cache.Filter, replacement cache.Document) (int64, error)
	DeleteOne(ctx context.Context, filter cache.Filter) (int64, error)
	DeleteMany(ctx context.Context, filter cache.Filter) (int64, error)
}

var _ Collection = (*CachedCollection)(nil)

// CachedCollection decorates a Collection with read caching and write
// invalidation. Reads are served through the coordinator; successful writes
// are reported to it so affected entries are dropped before the write call
// returns. Cached results are shared between callers and must not be
// modified.
type CachedCollection struct {
	base  Collection
	cache *Coordinator
	ns    cache.Namespace
}

// NewCachedCollection wraps base with the coordinator's cache.
func NewCachedCollection(base Collection, c *Coordinator) *CachedCollection {
	return &CachedCollection{
		base:  base,
		cache: c,
		ns:    c.Namespace(base.Database(), base.Name()),
	}
}

func (c *CachedCollection) Database() string { return c.base.Database() }

func (c *CachedCollection) Name() string { return c.base.Name() }

// Namespace returns the cache namespace of the collection.
func (c *CachedCollection) Namespace() cache.Namespace { return c.ns }

func (c *CachedCollection) query(op cache.Operation, filter cache.Filter, opts cache.QueryOptions) cache.Query {
	return cache.Query{Namespace: c.ns, Operation: op, Filter: filter, Options: opts}
}

func readTTL(ctx context.Context) (time.Duration, bool) {
	opts := callOptionsFromContext(ctx)
	return opts.ttl, opts.bypass
}

func (c *CachedCollection) autoInvalidate(ctx context.Context) bool {
	if opts := callOptionsFromContext(ctx); opts.autoInvalidate != nil {
		return *opts.autoInvalidate
	}
	return c.cache.cfg.AutoInvalidate
}

// Find returns matching documents, cached per query shape.
func (c *CachedCollection) Find(ctx context.Context, filter cache.Filter, opts cache.QueryOptions) ([]cache.Document, error) {
	ttl, bypass := readTTL(ctx)
	if bypass {
		return c.base.Find(ctx, filter, opts)
	}
	return FetchQuery(ctx, c.cache, c.query(cache.OpFind, filter, opts), ttl, func(ctx context.Context) ([]cache.Document, error) {
		return c.base.Find(ctx, filter, opts)
	})
}

// FindOne returns the first matching document, cached per query shape.
func (c *CachedCollection) FindOne(ctx context.Context, filter cache.Filter, opts cache.QueryOptions) (cache.Document, error) {
	ttl, bypass := readTTL(ctx)
	if bypass {
		return c.base.FindOne(ctx, filter, opts)
	}
	return FetchQuery(ctx, c.cache, c.query(cache.OpFindOne, filter, opts), ttl, func(ctx context.Context) (cache.Document, error) {
		return c.base.FindOne(ctx, filter, opts)
	})
}

// Count returns the number of matching documents, cached per filter.
func (c *CachedCollection) Count(ctx context.Context, filter cache.Filter) (int64, error) {
	ttl, bypass := readTTL(ctx)
	if bypass {
		return c.base.Count(ctx, filter)
	}
	return FetchQuery(ctx, c.cache, c.query(cache.OpCount, filter, cache.QueryOptions{}), ttl, func(ctx context.Context) (int64, error) {
		return c.base.Count(ctx, filter)
	})
}

// Distinct returns the distinct values of field, cached per field and filter.
func (c *CachedCollection) Distinct(ctx context.Context, field string, filter cache.Filter) ([]any, error) {
	ttl, bypass := readTTL(ctx)
	if bypass {
		return c.base.Distinct(ctx, field, filter)
	}
	q := c.query(cache.OpDistinct, filter, cache.QueryOptions{DistinctField: field})
	return FetchQuery(ctx, c.cache, q, ttl, func(ctx context.Context) ([]any, error) {
		return c.base.Distinct(ctx, field, filter)
	})
}

func (c *CachedCollection) written(ctx context.Context, w cache.WriteDescriptor) {
	w.Namespace = c.ns
	w.AutoInvalidate = c.autoInvalidate(ctx)
	c.cache.OnWrite(ctx, w)
}

// InsertOne inserts doc and invalidates cached shapes it matches.
func (c *CachedCollection) InsertOne(ctx context.Context, doc cache.Document) error {
	if err := c.base.InsertOne(ctx, doc); err != nil {
		return err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteInsert, Documents: []cache.Document{doc}})
	return nil
}

// InsertMany inserts docs and invalidates cached shapes any of them match.
func (c *CachedCollection) InsertMany(ctx context.Context, docs []cache.Document) error {
	if err := c.base.InsertMany(ctx, docs); err != nil {
		return err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteInsert, Documents: docs})
	return nil
}

// UpdateOne updates the first match and invalidates overlapping shapes.
func (c *CachedCollection) UpdateOne(ctx context.Context, filter cache.Filter, update map[string]any) (int64, error) {
	n, err := c.base.UpdateOne(ctx, filter, update)
	if err != nil {
		return n, err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteUpdate, Filter: filter, Update: update})
	return n, nil
}

// UpdateMany updates every match and invalidates overlapping shapes.
func (c *CachedCollection) UpdateMany(ctx context.Context, filter cache.Filter, update map[string]any) (int64, error) {
	n, err := c.base.UpdateMany(ctx, filter, update)
	if err != nil {
		return n, err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteUpdate, Filter: filter, Update: update})
	return n, nil
}

// ReplaceOne replaces the first match and invalidates shapes that overlap
// the filter or match the replacement.
func (c *CachedCollection) ReplaceOne(ctx context.Context, filter cache.Filter, replacement cache.Document) (int64, error) {
	n, err := c.base.ReplaceOne(ctx, filter, replacement)
	if err != nil {
		return n, err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteReplace, Filter: filter, Update: replacement})
	return n, nil
}

// DeleteOne deletes the first match and invalidates overlapping shapes.
func (c *CachedCollection) DeleteOne(ctx context.Context, filter cache.Filter) (int64, error) {
	n, err := c.base.DeleteOne(ctx, filter)
	if err != nil {
		return n, err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteDelete, Filter: filter})
	return n, nil
}

// DeleteMany deletes every match and invalidates overlapping shapes.
func (c *CachedCollection) DeleteMany(ctx context.Context, filter cache.Filter) (int64, error) {
	n, err := c.base.DeleteMany(ctx, filter)
	if err != nil {
		return n, err
	}
	c.written(ctx, cache.WriteDescriptor{Operation: cache.WriteDelete, Filter: filter})
	return n, nil
}

// Invalidate flushes every cached entry of the collection, or only those of
// the given operations.
func (c *CachedCollection) Invalidate(ctx context.Context, ops ...cache.Operation) (int, error) {
	return c.cache.Invalidate(ctx, c.ns, ops...)
}
