package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaded struct {
	Value string `json:"value"`
}

func TestCoalescingCache_LoadsOnceThenHits(t *testing.T) {
	redisCache, _ := newTestRedis(t)
	cc := NewCoalescingCache(NewCacheService(redisCache, time.Minute), time.Minute)
	ctx := testContext(t)

	var calls atomic.Int32
	load := func(ctx context.Context) (interface{}, bool, error) {
		calls.Add(1)
		return loaded{Value: "fresh"}, true, nil
	}

	var first loaded
	hit, err := cc.GetOrLoad(ctx, "match:k", time.Minute, &first, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", first.Value)

	var second loaded
	hit, err = cc.GetOrLoad(ctx, "match:k", time.Minute, &second, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "fresh", second.Value)
	assert.Equal(t, int32(1), calls.Load())

	stats := cc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCoalescingCache_UncacheableNotStored(t *testing.T) {
	redisCache, mr := newTestRedis(t)
	cc := NewCoalescingCache(NewCacheService(redisCache, time.Minute), time.Minute)

	var out loaded
	_, err := cc.GetOrLoad(testContext(t), "match:degraded", time.Minute, &out,
		func(ctx context.Context) (interface{}, bool, error) {
			return loaded{Value: "degraded"}, false, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "degraded", out.Value)
	assert.False(t, mr.Exists("match:degraded"))
}

func TestCoalescingCache_SharesInflightLoad(t *testing.T) {
	redisCache, _ := newTestRedis(t)
	cc := NewCoalescingCache(NewCacheService(redisCache, time.Minute), time.Minute)
	ctx := testContext(t)

	release := make(chan struct{})
	var calls atomic.Int32
	load := func(ctx context.Context) (interface{}, bool, error) {
		calls.Add(1)
		<-release
		return loaded{Value: "shared"}, false, nil
	}

	const waiters = 5
	var wg sync.WaitGroup
	results := make([]loaded, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cc.GetOrLoad(ctx, "match:same", time.Minute, &results[i], load)
		}(i)
	}

	require.Eventually(t, func() bool { return cc.Stats().Misses == waiters }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Value)
	}
	assert.Equal(t, int64(waiters-1), cc.Stats().Shared)
}

func TestCoalescingCache_PropagatesLoadError(t *testing.T) {
	redisCache, _ := newTestRedis(t)
	cc := NewCoalescingCache(NewCacheService(redisCache, time.Minute), time.Minute)

	boom := errors.New("provider down")
	var out loaded
	_, err := cc.GetOrLoad(testContext(t), "match:err", time.Minute, &out,
		func(ctx context.Context) (interface{}, bool, error) { return nil, false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestCoalescingCache_LeaderCancelDoesNotFailWaiters(t *testing.T) {
	redisCache, _ := newTestRedis(t)
	cc := NewCoalescingCache(NewCacheService(redisCache, time.Minute), time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (interface{}, bool, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		return loaded{Value: "survived"}, true, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		var out loaded
		_, err := cc.GetOrLoad(leaderCtx, "match:cancel", time.Minute, &out, load)
		leaderErr <- err
	}()
	<-started

	var follower loaded
	followerErr := make(chan error, 1)
	go func() {
		_, err := cc.GetOrLoad(testContext(t), "match:cancel", time.Minute, &follower, load)
		followerErr <- err
	}()
	require.Eventually(t, func() bool { return cc.Stats().Shared == 1 }, time.Second, 5*time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	require.NoError(t, <-followerErr)
	assert.Equal(t, "survived", follower.Value)
}

func TestCoalescingCache_PanickingLoadWakesWaiters(t *testing.T) {
	redisCache, _ := newTestRedis(t)
	cc := NewCoalescingCache(NewCacheService(redisCache, time.Minute), time.Minute)

	done := make(chan error, 1)
	go func() {
		var out loaded
		_, err := cc.GetOrLoad(testContext(t), "match:panic", time.Minute, &out,
			func(ctx context.Context) (interface{}, bool, error) { panic("decoder blew up") })
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	case <-time.After(2 * time.Second):
		t.Fatal("GetOrLoad did not return after the load panicked")
	}

	// the failed call is cleared so the next miss loads again
	var out loaded
	_, err := cc.GetOrLoad(testContext(t), "match:panic", time.Minute, &out,
		func(ctx context.Context) (interface{}, bool, error) { return loaded{Value: "ok"}, true, nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Value)
}
