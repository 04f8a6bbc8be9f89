// Package dashboard serves the supervisor views of the console: open help
// requests, the knowledge base, analytics and backend health.
//
// Reads go through a pull-based [Cache]. Every key has a freshness window;
// a read inside the window is answered from memory, a read after it (or
// after the key was invalidated) fetches again. Concurrent misses for the
// same key share one fetch. Mutations invalidate the keys whose data they
// change, so the next read observes the mutation.
package dashboard

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/frontdesk/internal/observe"
)

// Lookup results reported to metrics.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultStale = "stale"
)

type entry struct {
	value     any
	fetchedAt time.Time
	valid     bool
}

// Cache stores fetched values by key. The zero value is not usable; call
// NewCache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	// gens counts invalidations per key. A fetch that started under an older
	// generation is stored as already stale.
	gens map[string]uint64

	flight  singleflight.Group
	now     func() time.Time
	metrics *observe.Metrics
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithCacheMetrics records lookups on m.
func WithCacheMetrics(m *observe.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache returns an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached value for key when it is younger than staleTime and
// has not been invalidated. Otherwise it calls fetch, stores the result and
// returns it. Concurrent callers missing on the same key share one fetch,
// which runs detached from any single caller's cancellation.
//
// Get is a function rather than a method because methods cannot have type
// parameters.
func Get[T any](ctx context.Context, c *Cache, key string, staleTime time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.valid && c.now().Sub(e.fetchedAt) < staleTime {
		v := e.value
		c.mu.Unlock()
		c.metrics.RecordCacheLookup(ctx, family(key), resultHit)
		return v.(T), nil
	}
	c.mu.Unlock()

	result := resultMiss
	if ok {
		result = resultStale
	}
	c.metrics.RecordCacheLookup(ctx, family(key), result)
	return load(ctx, c, key, fetch)
}

// Refresh fetches key unconditionally and stores the result. Background
// refetch loops use it.
func Refresh[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error)) (T, error) {
	return load(ctx, c, key, fetch)
}

func load[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	gen, ok := c.gens[key]
	if !ok {
		c.gens[key] = 0
	}
	c.mu.Unlock()

	flightKey := key + "#" + strconv.FormatUint(gen, 10)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = &entry{
			value:     v,
			fetchedAt: c.now(),
			valid:     c.gens[key] == gen,
		}
		c.mu.Unlock()
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Invalidate marks every key starting with one of prefixes as stale. The
// values stay in memory until the next read refetches them.
func (c *Cache) Invalidate(prefixes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range prefixes {
		for k := range c.gens {
			if strings.HasPrefix(k, p) {
				c.gens[k]++
			}
		}
		for k, e := range c.entries {
			if strings.HasPrefix(k, p) {
				e.valid = false
			}
		}
	}
}

// Len returns the number of keys held, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// family strips the parameter part of key for metric attributes.
func family(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
