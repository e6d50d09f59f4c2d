package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mybadgelife/internal/logging"
)

// LoadFunc produces a value on a cache miss. cacheable=false keeps the
// value out of Redis (degraded results, for example) while still sharing it
// with concurrent waiters.
type LoadFunc func(ctx context.Context) (value interface{}, cacheable bool, err error)

// DefaultLoadTimeout bounds a shared load once it is detached from the
// request that started it
const DefaultLoadTimeout = 90 * time.Second

// CoalescingCache fronts a CacheService so concurrent misses for the same
// key share one load instead of stampeding the upstream
type CoalescingCache struct {
	cache       *CacheService
	loadTimeout time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	shared atomic.Int64

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type inflightCall struct {
	done chan struct{}
	data []byte
	err  error
}

// NewCoalescingCache creates a coalescing cache over cache. Shared loads
// run for at most loadTimeout, DefaultLoadTimeout when zero.
func NewCoalescingCache(cache *CacheService, loadTimeout time.Duration) *CoalescingCache {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	return &CoalescingCache{
		cache:       cache,
		loadTimeout: loadTimeout,
		inflight:    make(map[string]*inflightCall),
	}
}

// GetOrLoad fills dest from Redis, from a load already in flight for key,
// or by starting load. It reports whether dest came from Redis. Redis
// failures are logged and treated as misses.
//
// The load runs detached from ctx, so a caller that gives up only stops
// its own wait and the other waiters still receive the result.
func (c *CoalescingCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, dest interface{}, load LoadFunc) (bool, error) {
	found, err := c.cache.Get(ctx, key, dest)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Cache read failed, loading directly")
	}
	if found {
		c.hits.Add(1)
		return true, nil
	}
	c.misses.Add(1)

	call, leader := c.join(key)
	if leader {
		go c.run(ctx, key, ttl, load)
	} else {
		c.shared.Add(1)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if call.err != nil {
		return false, call.err
	}
	return false, json.Unmarshal(call.data, dest)
}

// run executes load and publishes its result, including a panic, to every
// waiter on key
func (c *CoalescingCache) run(parent context.Context, key string, ttl time.Duration, load LoadFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.loadTimeout)
	defer cancel()
	logger := logging.FromContext(ctx)

	var (
		data []byte
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("key", key).WithField("panic", fmt.Sprint(r)).Error("Cache load panicked")
			data, err = nil, fmt.Errorf("load for %s panicked: %v", key, r)
		}
		c.complete(key, data, err)
	}()

	value, cacheable, err := load(ctx)
	if err != nil {
		return
	}
	if data, err = json.Marshal(value); err != nil {
		err = fmt.Errorf("failed to marshal loaded value: %w", err)
		return
	}
	if cacheable {
		if setErr := c.cache.redis.Set(ctx, key, data, ttl); setErr != nil {
			logger.WithError(setErr).WithField("key", key).Warn("Cache write failed")
		}
	}
}

// join returns the in-flight call for key and whether the caller must run it
func (c *CoalescingCache) join(key string) (*inflightCall, bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	if call, ok := c.inflight[key]; ok {
		return call, false
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	return call, true
}

// complete publishes the result to every waiter
func (c *CoalescingCache) complete(key string, data []byte, err error) {
	c.inflightMu.Lock()
	call, ok := c.inflight[key]
	delete(c.inflight, key)
	c.inflightMu.Unlock()

	if ok {
		call.data = data
		call.err = err
		close(call.done)
	}
}

// CoalescingStats reports cache effectiveness
type CoalescingStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Shared  int64   `json:"shared"`
	HitRate float64 `json:"hitRate"`
}

// Stats returns cache statistics
func (c *CoalescingCache) Stats() CoalescingStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return CoalescingStats{
		Hits:    hits,
		Misses:  misses,
		Shared:  c.shared.Load(),
		HitRate: hitRate,
	}
}
