package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when a TTL cache is created with a zero duration.
const DefaultTTL = 5 * time.Minute

// Result is what a TTL read returns. Cached is true when the value came from
// a fresh entry without fetching. Err is set when a forced fetch failed and
// the fresh entry was served in its place.
type Result[V any] struct {
	Value     V
	FetchedAt time.Time
	Cached    bool
	Err       error
}

type ttlEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

// TTL caches fetched values per key. An entry is fresh until TTL has elapsed
// since its fetch; a missing entry is always expired. Reading an expired
// entry drops it before refetching.
type TTL[V any] struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]ttlEntry[V]
	gen     map[string]uint64
	group   singleflight.Group
}

func NewTTL[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[V]{TTL: ttl, Now: time.Now, entries: map[string]ttlEntry[V]{}, gen: map[string]uint64{}}
}

func (c *TTL[V]) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Get serves a fresh entry unless force is set, and otherwise fetches. A
// forced read keeps the fresh entry until its fetch succeeds; if the fetch
// fails that entry is served with Err set. Without a fresh entry a failed
// fetch returns the error with a zero value and no stale entry is served.
func (c *TTL[V]) Get(ctx context.Context, key string, force bool, fetch func(ctx context.Context) (V, error)) (Result[V], error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.now().Sub(e.fetchedAt) < c.TTL {
			if !force {
				c.mu.Unlock()
				return Result[V]{Value: e.value, FetchedAt: e.fetchedAt, Cached: true}, nil
			}
		} else {
			delete(c.entries, key)
		}
	}
	gen := c.gen[key]
	c.mu.Unlock()

	flight := fmt.Sprintf("%s#%d", key, gen)
	if force {
		// A forced read must not join a flight that started before it.
		c.group.Forget(flight)
	}
	res, err, _ := c.group.Do(flight, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		at := c.now()
		c.mu.Lock()
		if c.gen[key] == gen {
			c.entries[key] = ttlEntry[V]{value: v, fetchedAt: at}
		}
		c.mu.Unlock()
		return Result[V]{Value: v, FetchedAt: at}, nil
	})
	if err != nil {
		c.mu.Lock()
		e, ok := c.entries[key]
		fresh := ok && c.gen[key] == gen && c.now().Sub(e.fetchedAt) < c.TTL
		c.mu.Unlock()
		if fresh {
			return Result[V]{Value: e.value, FetchedAt: e.fetchedAt, Cached: true, Err: err}, nil
		}
		return Result[V]{}, err
	}
	return res.(Result[V]), nil
}

// Seed stores a value fetched earlier, for example one restored from disk.
// It does not replace a newer entry.
func (c *TTL[V]) Seed(key string, v V, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !e.fetchedAt.Before(fetchedAt) {
		return
	}
	c.entries[key] = ttlEntry[V]{value: v, fetchedAt: fetchedAt}
}

// Fresh reports whether key holds an unexpired entry.
func (c *TTL[V]) Fresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.now().Sub(e.fetchedAt) < c.TTL
}

// Invalidate drops key and detaches any in-flight fetch for it.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[key]++
	delete(c.entries, key)
}
