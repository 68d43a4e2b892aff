package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseops/ai-gateway/internal/shared/redis"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	t.Cleanup(func() { client.Close() })

	current := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	return New(client, func() time.Time { return current }), &current
}

func TestAllow_ZeroLimitIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), "key-1", 0)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestAllow_EnforcesLimit(t *testing.T) {
	l, _ := newTestLimiter(t)

	res, err := l.Allow(context.Background(), "key-1", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = l.Allow(context.Background(), "key-1", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Allow(context.Background(), "key-1", 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 2, res.Limit)
}

func TestAllow_ConcurrentBurstAdmitsExactlyLimit(t *testing.T) {
	l, _ := newTestLimiter(t)

	const (
		callers = 50
		limit   = 3
	)

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(context.Background(), "key-1", limit)
			assert.NoError(t, err)
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), allowed.Load())
}

func TestAllow_DenialReportsWhenSlotFrees(t *testing.T) {
	l, clock := newTestLimiter(t)
	first := *clock

	_, err := l.Allow(context.Background(), "key-1", 1)
	require.NoError(t, err)

	*clock = clock.Add(10 * time.Second)
	res, err := l.Allow(context.Background(), "key-1", 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The slot frees when the first request ages out of the window.
	assert.Equal(t, first.Add(time.Minute), res.ResetAt)
}

func TestAllow_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(context.Background(), "key-1", 3)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Allow(context.Background(), "key-1", 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	*clock = clock.Add(61 * time.Second)

	res, err = l.Allow(context.Background(), "key-1", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAllow_KeysAreIsolated(t *testing.T) {
	l, _ := newTestLimiter(t)

	res, err := l.Allow(context.Background(), "key-1", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(context.Background(), "key-1", 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(context.Background(), "key-2", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAllow_RedisDownReturnsError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	l := New(client, nil)
	mr.Close()

	_, err := l.Allow(context.Background(), "key-1", 5)
	assert.Error(t, err)
}
