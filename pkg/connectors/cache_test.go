package connectors_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/connectors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCacheServesFreshWithoutFetching(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	cache := connectors.NewCache[int](time.Minute, time.Hour, connectors.WithCacheClock(clock.Now))

	var calls atomic.Int32
	fetch := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	v, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(30 * time.Second)
	v, err = cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheStaleTriggersSingleBackgroundRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	cache := connectors.NewCache[int](time.Minute, time.Hour, connectors.WithCacheClock(clock.Now))

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n > 1 {
			<-release
		}
		return int(n), nil
	}

	_, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.Get(context.Background(), "k", fetch)
			assert.NoError(t, err)
			assert.Equal(t, 1, v, "stale value is served while refreshing")
		}()
	}
	wg.Wait()

	close(release)
	cache.Wait()
	assert.Equal(t, int32(2), calls.Load(), "exactly one background refresh")

	v, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCacheExpiredBlocksAndRefetches(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	cache := connectors.NewCache[string](time.Minute, time.Hour, connectors.WithCacheClock(clock.Now))

	value := "old"
	fetch := func(context.Context) (string, error) { return value, nil }

	_, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)

	value = "new"
	clock.Advance(2 * time.Hour)
	v, err := cache.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestCacheRefreshFailureKeepsStaleEntry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	var failures atomic.Int32
	cache := connectors.NewCache[int](time.Minute, time.Hour,
		connectors.WithCacheClock(clock.Now),
		connectors.WithRefreshErrorHandler(func(string, error) { failures.Add(1) }),
	)

	_, err := cache.Get(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	boom := func(context.Context) (int, error) { return 0, errors.New("rate limited") }
	v, err := cache.Get(context.Background(), "k", boom)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	cache.Wait()
	assert.Equal(t, int32(1), failures.Load())

	// the failed refresh clears the in-flight flag so a later call retries
	v, err = cache.Get(context.Background(), "k", boom)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	cache.Wait()
	assert.Equal(t, int32(2), failures.Load())
}

func TestCacheFetchErrorIsNotCached(t *testing.T) {
	cache := connectors.NewCache[int](time.Minute, time.Hour)
	_, err := cache.Get(context.Background(), "k", func(context.Context) (int, error) { return 0, errors.New("down") })
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	cache.Invalidate("k")
	v, err := cache.Get(context.Background(), "k", func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 1, cache.Len())
}
