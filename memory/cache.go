package memory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of distinct searches CachedStore keeps.
const DefaultCacheSize = 256

type searchKey struct {
	query string
	limit int
}

// CachedStore memoizes Search results of another Store. Any write purges the
// cache, so a hit is always what the backend would return right now.
type CachedStore struct {
	backend Store
	cache   *lru.Cache[searchKey, []Result]
}

// NewCachedStore wraps s with an LRU cache of size entries.
func NewCachedStore(s Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[searchKey, []Result](size)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	return &CachedStore{backend: s, cache: cache}, nil
}

// Search answers from the cache when the same query and limit were seen since
// the last write.
func (c *CachedStore) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := searchKey{query: query, limit: limit}
	if hits, ok := c.cache.Get(key); ok {
		return cloneResults(hits), nil
	}
	hits, err := c.backend.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneResults(hits))
	return hits, nil
}

// Store writes through and purges the cache.
func (c *CachedStore) Store(ctx context.Context, content string, metadata map[string]any) (string, error) {
	id, err := c.backend.Store(ctx, content, metadata)
	if err == nil {
		c.cache.Purge()
	}
	return id, err
}

// Delete writes through and purges the cache.
func (c *CachedStore) Delete(ctx context.Context, id string) error {
	err := c.backend.Delete(ctx, id)
	if err == nil {
		c.cache.Purge()
	}
	return err
}

// Len returns the backend's size.
func (c *CachedStore) Len() int { return c.backend.Len() }

// Cached reports how many searches are currently memoized.
func (c *CachedStore) Cached() int { return c.cache.Len() }

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	for i, r := range in {
		r.Metadata = copyMetadata(r.Metadata)
		out[i] = r
	}
	return out
}
