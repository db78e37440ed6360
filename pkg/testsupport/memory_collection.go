package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/internal/filter"
)

// ErrUnsupportedUpdate is returned for update operators MemoryCollection
// does not implement.
var ErrUnsupportedUpdate = errors.New("unsupported update")

// MemoryCollection is an in-memory document collection evaluating filters
// with the same engine the cache uses. It counts reads so tests can tell
// cache hits from collection hits.
type MemoryCollection struct {
	db   string
	name string

	mu   sync.RWMutex
	docs []cache.Document

	// Delay is slept before every read.
	Delay time.Duration
	// FailReads makes every read return this error when set.
	FailReads error

	reads atomic.Int64
}

// NewMemoryCollection creates a collection holding copies of docs.
func NewMemoryCollection(db, name string, docs ...cache.Document) *MemoryCollection {
	c := &MemoryCollection{db: db, name: name}
	for _, d := range docs {
		c.docs = append(c.docs, cloneDoc(d))
	}
	return c
}

func (c *MemoryCollection) Database() string { return c.db }

func (c *MemoryCollection) Name() string { return c.name }

// Reads returns how many read operations reached the collection.
func (c *MemoryCollection) Reads() int64 {
	return c.reads.Load()
}

func (c *MemoryCollection) read(ctx context.Context) error {
	c.reads.Add(1)
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.FailReads
}

func (c *MemoryCollection) matching(f cache.Filter) ([]cache.Document, error) {
	var out []cache.Document
	for _, d := range c.docs {
		ok, err := filter.Match(f, d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Find returns copies of the matching documents after sort, skip, limit and
// an inclusion projection.
func (c *MemoryCollection) Find(ctx context.Context, f cache.Filter, opts cache.QueryOptions) ([]cache.Document, error) {
	if err := c.read(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := c.matching(f)
	if err != nil {
		return nil, err
	}
	if len(opts.Sort) > 0 {
		sortDocs(docs, opts.Sort)
	}
	if opts.Skip > 0 {
		if int(opts.Skip) >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int(opts.Limit) < len(docs) {
		docs = docs[:opts.Limit]
	}

	out := make([]cache.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, project(d, opts.Projection))
	}
	return out, nil
}

// FindOne returns the first match or nil.
func (c *MemoryCollection) FindOne(ctx context.Context, f cache.Filter, opts cache.QueryOptions) (cache.Document, error) {
	opts.Limit = 1
	docs, err := c.Find(ctx, f, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count returns the number of matches.
func (c *MemoryCollection) Count(ctx context.Context, f cache.Filter) (int64, error) {
	if err := c.read(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := c.matching(f)
	return int64(len(docs)), err
}

// Distinct returns the distinct top-level values of field among matches.
func (c *MemoryCollection) Distinct(ctx context.Context, field string, f cache.Filter) ([]any, error) {
	if err := c.read(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := c.matching(f)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, d := range docs {
		v, ok := d[field]
		if !ok {
			continue
		}
		seen := false
		for _, o := range out {
			if filter.Equal(o, v) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *MemoryCollection) InsertOne(ctx context.Context, doc cache.Document) error {
	return c.InsertMany(ctx, []cache.Document{doc})
}

func (c *MemoryCollection) InsertMany(_ context.Context, docs []cache.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range docs {
		c.docs = append(c.docs, cloneDoc(d))
	}
	return nil
}

func (c *MemoryCollection) UpdateOne(_ context.Context, f cache.Filter, update map[string]any) (int64, error) {
	return c.update(f, update, 1)
}

func (c *MemoryCollection) UpdateMany(_ context.Context, f cache.Filter, update map[string]any) (int64, error) {
	return c.update(f, update, -1)
}

func (c *MemoryCollection) update(f cache.Filter, update map[string]any, limit int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for i, d := range c.docs {
		if limit >= 0 && n >= int64(limit) {
			break
		}
		ok, err := filter.Match(f, d)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		next, err := applyUpdate(d, update)
		if err != nil {
			return n, err
		}
		c.docs[i] = next
		n++
	}
	return n, nil
}

func (c *MemoryCollection) ReplaceOne(_ context.Context, f cache.Filter, replacement cache.Document) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, d := range c.docs {
		ok, err := filter.Match(f, d)
		if err != nil {
			return 0, err
		}
		if ok {
			next := cloneDoc(replacement)
			if id, has := d["_id"]; has {
				next["_id"] = id
			}
			c.docs[i] = next
			return 1, nil
		}
	}
	return 0, nil
}

func (c *MemoryCollection) DeleteOne(_ context.Context, f cache.Filter) (int64, error) {
	return c.delete(f, 1)
}

func (c *MemoryCollection) DeleteMany(_ context.Context, f cache.Filter) (int64, error) {
	return c.delete(f, -1)
}

func (c *MemoryCollection) delete(f cache.Filter, limit int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		kept []cache.Document
		n    int64
	)
	for _, d := range c.docs {
		if limit < 0 || n < int64(limit) {
			ok, err := filter.Match(f, d)
			if err != nil {
				return 0, err
			}
			if ok {
				n++
				continue
			}
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return n, nil
}

// applyUpdate supports $set, $unset and $inc on top-level and dotted paths.
func applyUpdate(doc cache.Document, update map[string]any) (cache.Document, error) {
	next := cloneDoc(doc)
	for op, arg := range update {
		fields, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a document", ErrUnsupportedUpdate, op)
		}
		for path, v := range fields {
			parent, leaf := walk(next, path)
			switch op {
			case "$set":
				parent[leaf] = v
			case "$unset":
				delete(parent, leaf)
			case "$inc":
				cur, _ := parent[leaf].(int)
				inc, ok := v.(int)
				if !ok {
					return nil, fmt.Errorf("%w: $inc expects int", ErrUnsupportedUpdate)
				}
				parent[leaf] = cur + inc
			default:
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedUpdate, op)
			}
		}
	}
	return next, nil
}

// walk returns the map holding the last segment of path, creating
// intermediate documents as needed.
func walk(doc map[string]any, path string) (map[string]any, string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

func project(doc cache.Document, projection map[string]any) cache.Document {
	if len(projection) == 0 {
		return cloneDoc(doc)
	}
	out := cache.Document{}
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for field, v := range projection {
		if include, ok := v.(int); ok && include == 0 {
			delete(out, field)
			continue
		}
		if val, ok := doc[field]; ok {
			out[field] = val
		}
	}
	return out
}

func sortDocs(docs []cache.Document, spec []cache.SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range spec {
			c, ok := filter.Compare(docs[i][s.Field], docs[j][s.Field])
			if !ok || c == 0 {
				continue
			}
			if s.Direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func cloneDoc(doc cache.Document) cache.Document {
	out := make(cache.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
