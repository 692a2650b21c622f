package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/captiva/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLockerExclusiveWithTokenRelease(t *testing.T) {
	client, mr := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "captiva:reconcile:intent:1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "captiva:reconcile:intent:1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, locker.Release(ctx, "captiva:reconcile:intent:1", "not-the-owner"), ErrLeaseLost)
	assert.True(t, mr.Exists("captiva:reconcile:intent:1"))

	require.NoError(t, locker.Release(ctx, "captiva:reconcile:intent:1", token))
	assert.False(t, mr.Exists("captiva:reconcile:intent:1"))
}

func TestLockerExpires(t *testing.T) {
	client, mr := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	stale, ok, err := locker.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	_, ok, err = locker.TryLock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, locker.Release(ctx, "k", stale), ErrLeaseLost)
	assert.True(t, mr.Exists("k"), "the new holder keeps its lease")
}

func TestNilLocker(t *testing.T) {
	assert.Nil(t, NewLocker(nil))
	assert.Nil(t, NewTokenBucket(nil))
}

func TestStatusPollLimiterLocal(t *testing.T) {
	cfg := config.Config{StatusPoll: config.StatusPollConfig{Rate: 0.01, Burst: 2}}
	limiter := NewStatusPollLimiter(cfg, nil, zap.NewNop())
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, "1"))
	assert.True(t, limiter.Allow(ctx, "1"))
	assert.False(t, limiter.Allow(ctx, "1"))
	assert.True(t, limiter.Allow(ctx, "2"), "limits are per intent")

	var nilLimiter *StatusPollLimiter
	assert.True(t, nilLimiter.Allow(ctx, "1"))
}

func TestStatusPollLimiterRedis(t *testing.T) {
	client, _ := newRedis(t)
	cfg := config.Config{StatusPoll: config.StatusPollConfig{Rate: 0.01, Burst: 1}}
	limiter := NewStatusPollLimiter(cfg, NewTokenBucket(client), zap.NewNop())
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, "1"))
	assert.False(t, limiter.Allow(ctx, "1"))
}

func TestTokenBucketRetryAfter(t *testing.T) {
	client, _ := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	first, err := bucket.Take(ctx, "captiva:test:bucket", 0.5, 1)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	second, err := bucket.Take(ctx, "captiva:test:bucket", 0.5, 1)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Greater(t, second.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, second.RetryAfter, 2*time.Second)
}

func TestTokenBucketRejectsBadArguments(t *testing.T) {
	client, _ := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Take(ctx, "", 1, 1)
	assert.ErrorIs(t, err, ErrBucketMisconfigured)
	_, err = bucket.Take(ctx, "k", 0, 1)
	assert.ErrorIs(t, err, ErrBucketMisconfigured)

	var nilBucket *TokenBucket
	_, err = nilBucket.Take(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrBucketMisconfigured)
	assert.Nil(t, NewTokenBucket(nil))
}
