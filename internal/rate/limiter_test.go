package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func TestAllowWithinBudget(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
	}

	retryAfter, err := l.Allow(ctx, "203.0.113.7")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)

	// Other keys have their own window.
	_, err = l.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)

	assert.True(t, mr.Exists(defaultPrefix+"203.0.113.7"))
}

func TestWindowExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 1, Window: 30 * time.Second})
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	_, err = l.Allow(ctx, "k")
	require.ErrorIs(t, err, ErrRateLimited)

	mr.FastForward(31 * time.Second)

	_, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	hits, err := l.Hits(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestCounterWithoutTTLIsRearmed(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Prefix: "rl:", Limit: 10, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, mr.Set("rl:k", "4"))
	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, mr.TTL("rl:k"), time.Duration(0))
}

func TestResetAndHits(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	hits, err := l.Hits(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, hits)

	_, _ = l.Allow(ctx, "k")
	_, _ = l.Allow(ctx, "k")
	hits, err = l.Hits(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, hits)

	require.NoError(t, l.Reset(ctx, "k"))
	hits, err = l.Hits(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, hits)
}

func TestRedisFailureIsWrapped(t *testing.T) {
	l, mr := newTestLimiter(t, Config{})
	mr.Close()

	_, err := l.Allow(context.Background(), "k")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
	assert.NotErrorIs(t, err, ErrRateLimited)
}
