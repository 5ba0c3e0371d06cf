package connectors

import (
	"context"
	"sync"
	"time"

	"github.com/agentstation/fieldsync/pkg/constants"
)

// FetchFunc loads the current value for a cache key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache is a stale-while-revalidate cache. Entries younger than the fresh
// window are served as-is. Entries between the fresh and stale windows are
// served while one background refresh runs. Older entries block and refetch.
type Cache[T any] struct {
	fresh   time.Duration
	stale   time.Duration
	now     func() time.Time
	onError func(key string, err error)
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry[T]
	wg      sync.WaitGroup
}

type cacheEntry[T any] struct {
	value      T
	fetchedAt  time.Time
	refreshing bool
}

// CacheOption configures a Cache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	now     func() time.Time
	onError func(string, error)
	timeout time.Duration
}

// WithCacheClock sets the clock used to age entries.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(o *cacheOptions) { o.now = now }
}

// WithRefreshErrorHandler is called when a background refresh fails. The
// stale entry is kept.
func WithRefreshErrorHandler(fn func(key string, err error)) CacheOption {
	return func(o *cacheOptions) { o.onError = fn }
}

// WithRefreshTimeout bounds a background refresh.
func WithRefreshTimeout(d time.Duration) CacheOption {
	return func(o *cacheOptions) { o.timeout = d }
}

// NewCache creates a cache with the given windows. Zero windows fall back to
// the package defaults; stale is raised to fresh if smaller.
func NewCache[T any](fresh, stale time.Duration, opts ...CacheOption) *Cache[T] {
	o := cacheOptions{now: time.Now, timeout: constants.DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if fresh <= 0 {
		fresh = constants.CacheFreshWindow
	}
	if stale <= 0 {
		stale = constants.CacheStaleWindow
	}
	if stale < fresh {
		stale = fresh
	}
	return &Cache[T]{
		fresh:   fresh,
		stale:   stale,
		now:     o.now,
		onError: o.onError,
		timeout: o.timeout,
		entries: make(map[string]*cacheEntry[T]),
	}
}

// Get returns the cached value for key, fetching or refreshing as its age
// requires.
func (c *Cache[T]) Get(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		age := c.now().Sub(e.fetchedAt)
		if age < c.fresh {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		if age < c.stale {
			if !e.refreshing {
				e.refreshing = true
				c.wg.Add(1)
				go c.refresh(context.WithoutCancel(ctx), key, fetch)
			}
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
	}
	c.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.store(key, v)
	return v, nil
}

func (c *Cache[T]) refresh(ctx context.Context, key string, fetch FetchFunc[T]) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := fetch(ctx)
	if err != nil {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.refreshing = false
		}
		c.mu.Unlock()
		if c.onError != nil {
			c.onError(key, err)
		}
		return
	}
	c.store(key, v)
}

func (c *Cache[T]) store(key string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry[T]{value: v, fetchedAt: c.now()}
}

// Invalidate drops a key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of cached keys.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until in-flight background refreshes finish.
func (c *Cache[T]) Wait() {
	c.wg.Wait()
}
