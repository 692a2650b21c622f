package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var ErrBucketMisconfigured = errors.New("token bucket misconfigured")

// Refills are computed against redis TIME so every instance shares one clock.
const bucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed / 1000) * rate)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`

// TokenBucket is a redis-backed bucket shared by all API instances.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(bucketScript),
	}
}

func (t *TokenBucket) Take(ctx context.Context, key string, ratePerSec float64, burst int) (Decision, error) {
	switch {
	case t == nil || t.client == nil:
		return Decision{}, fmt.Errorf("%w: no redis client", ErrBucketMisconfigured)
	case key == "":
		return Decision{}, fmt.Errorf("%w: empty key", ErrBucketMisconfigured)
	case ratePerSec <= 0 || burst <= 0:
		return Decision{}, fmt.Errorf("%w: rate %v burst %d", ErrBucketMisconfigured, ratePerSec, burst)
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		ratePerSec, burst, bucketTTL(ratePerSec, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected bucket reply: %v", res)
	}

	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	remaining := parseTokens(res[1])
	return Decision{
		RetryAfter: time.Duration((1 - remaining) / ratePerSec * float64(time.Second)),
	}, nil
}

// bucketTTL keeps idle buckets around for twice their full refill time.
func bucketTTL(ratePerSec float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(float64(burst)/ratePerSec*2))
	return time.Duration(seconds) * time.Second
}

func parseTokens(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return math.Min(f, 1)
}
