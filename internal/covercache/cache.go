// Package covercache memoizes cover thumbnails by item id. The cache is
// bounded (LRU) and concurrent first requests for the same id share a
// single load.
package covercache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of covers kept when no size is configured.
const DefaultSize = 500

// Cover is a cached thumbnail.
type Cover struct {
	MIME string
	Data []byte
}

// LoadFunc produces the cover of one item.
type LoadFunc func(ctx context.Context) (Cover, error)

// Observer is told about every lookup.
type Observer interface {
	ObserveCache(hit bool)
}

// Cache is safe for concurrent use.
type Cache struct {
	lru   *lru.Cache[int, Cover]
	group singleflight.Group
	loads atomic.Int64
	obs   Observer
}

// New creates a cache holding at most size covers. obs may be nil.
func New(size int, obs Observer) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[int, Cover](size)
	if err != nil {
		return nil, fmt.Errorf("covercache: %w", err)
	}
	return &Cache{lru: l, obs: obs}, nil
}

// Get returns the cover of id, calling load on a miss. Failed loads are not
// cached.
func (c *Cache) Get(ctx context.Context, id int, load LoadFunc) (Cover, error) {
	if cv, ok := c.lru.Get(id); ok {
		c.observe(true)
		return cv, nil
	}
	c.observe(false)

	v, err, _ := c.group.Do(strconv.Itoa(id), func() (any, error) {
		if cv, ok := c.lru.Get(id); ok {
			return cv, nil
		}
		c.loads.Add(1)
		cv, err := load(ctx)
		if err != nil {
			return Cover{}, err
		}
		c.lru.Add(id, cv)
		return cv, nil
	})
	if err != nil {
		return Cover{}, err
	}
	return v.(Cover), nil
}

// Invalidate drops the cover of id.
func (c *Cache) Invalidate(id int) {
	c.lru.Remove(id)
}

// Len returns the number of cached covers.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Loads returns how many times a load function ran.
func (c *Cache) Loads() int64 {
	return c.loads.Load()
}

func (c *Cache) observe(hit bool) {
	if c.obs != nil {
		c.obs.ObserveCache(hit)
	}
}
