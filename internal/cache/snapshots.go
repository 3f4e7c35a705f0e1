// Package cache memoizes derived squad state per source root and externally
// fetched issue lists with a time-to-live.
//
// Both caches coalesce concurrent misses for the same key into one build or
// fetch, and both carry a per-key generation so a build that started before
// an invalidation is never stored after it.
package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultRoots bounds how many source roots keep a cached snapshot.
const DefaultRoots = 8

// Snapshots is a read-through cache of values keyed by source root.
type Snapshots[V any] struct {
	build func(ctx context.Context, root string) (V, error)

	mu    sync.Mutex
	items *lru.Cache[string, V]
	gen   map[string]uint64
	group singleflight.Group
}

// NewSnapshots creates a cache holding at most size roots.
func NewSnapshots[V any](size int, build func(ctx context.Context, root string) (V, error)) (*Snapshots[V], error) {
	if size <= 0 {
		size = DefaultRoots
	}
	items, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return &Snapshots[V]{build: build, items: items, gen: map[string]uint64{}}, nil
}

// Get returns the cached value for root, building it on a miss. Concurrent
// misses share one build.
func (c *Snapshots[V]) Get(ctx context.Context, root string) (V, error) {
	c.mu.Lock()
	if v, ok := c.items.Get(root); ok {
		c.mu.Unlock()
		return v, nil
	}
	gen := c.gen[root]
	c.mu.Unlock()

	key := fmt.Sprintf("%s#%d", root, gen)
	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := c.build(ctx, root)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.gen[root] == gen {
			c.items.Add(root, v)
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Peek returns the cached value without building.
func (c *Snapshots[V]) Peek(root string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Peek(root)
}

// Invalidate discards the value for root. A build already in flight for the
// old generation completes for its callers but is not stored.
func (c *Snapshots[V]) Invalidate(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[root]++
	c.items.Remove(root)
}

// Len reports how many roots are cached.
func (c *Snapshots[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}
