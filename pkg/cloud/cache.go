package cloud

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nadalpiantini/omnidrive/pkg/models"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize bounds the number of distinct listings kept per service.
	DefaultCacheSize = 256
)

type cacheKey struct {
	scope  string
	folder string
	query  string
	limit  int
}

// ListCache is a short-lived cache of list results. One cache is shared by
// every instance a backend constructor builds, so entries are scoped by the
// credential that listed them. A nil *ListCache is valid and caches nothing.
type ListCache struct {
	lru *expirable.LRU[cacheKey, []models.CloudFile]
}

func NewListCache(ttl time.Duration) *ListCache {
	return NewSizedListCache(DefaultCacheSize, ttl)
}

// NewSizedListCache keeps at most size listings, evicting the least recently
// used one first.
func NewSizedListCache(size int, ttl time.Duration) *ListCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &ListCache{lru: expirable.NewLRU[cacheKey, []models.CloudFile](size, nil, ttl)}
}

func keyFor(scope string, opts ListOptions) cacheKey {
	return cacheKey{scope: scope, folder: opts.FolderID, query: opts.Query + "|" + opts.MimeType, limit: opts.EffectiveLimit()}
}

func (c *ListCache) Get(scope string, opts ListOptions) ([]models.CloudFile, bool) {
	if c == nil || opts.Trashed {
		return nil, false
	}
	files, ok := c.lru.Get(keyFor(scope, opts))
	if !ok {
		return nil, false
	}
	out := make([]models.CloudFile, len(files))
	copy(out, files)
	return out, true
}

func (c *ListCache) Put(scope string, opts ListOptions, files []models.CloudFile) {
	if c == nil || opts.Trashed {
		return
	}
	stored := make([]models.CloudFile, len(files))
	copy(stored, files)
	c.lru.Add(keyFor(scope, opts), stored)
}

// Invalidate drops every entry of every scope. Mutating operations call it.
func (c *ListCache) Invalidate() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *ListCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
