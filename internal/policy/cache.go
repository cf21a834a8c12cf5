package policy

import "context"

type cacheKey struct {
	kind Kind
	id   string
}

type cacheEntry struct {
	res *Resource
	err error
}

// Cache memoizes resource lookups for a single guarded invocation. It is not
// safe for concurrent use and must not outlive the invocation it was made for.
type Cache struct {
	entries map[cacheKey]cacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *Cache) load(ctx context.Context, kind Kind, id string, fn LookupFunc) (*Resource, error) {
	key := cacheKey{kind: kind, id: id}
	if e, ok := c.entries[key]; ok {
		return e.res, e.err
	}
	res, err := fn(ctx, id)
	c.entries[key] = cacheEntry{res: res, err: err}
	return res, err
}

type cacheContextKey struct{}

// WithCache installs a fresh cache in ctx.
func WithCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheContextKey{}, NewCache())
}

// CacheFromContext returns the cache installed by WithCache.
func CacheFromContext(ctx context.Context) (*Cache, bool) {
	c, ok := ctx.Value(cacheContextKey{}).(*Cache)
	return c, ok && c != nil
}
