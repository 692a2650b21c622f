package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/captiva/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keyStatusPoll      = "captiva:poll:intent:"
	localLimiterMaxAge = 10 * time.Minute
	localLimiterPrune  = 1024
)

// StatusPollLimiter throttles client-driven gateway lookups per payment
// intent. It uses the shared redis bucket when configured and a process-local
// limiter otherwise, or when redis errors.
type StatusPollLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger

	mu    sync.Mutex
	local map[string]*localLimiter
}

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewStatusPollLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *StatusPollLimiter {
	r := cfg.StatusPoll.Rate
	if r <= 0 {
		r = 0.2
	}
	burst := cfg.StatusPoll.Burst
	if burst <= 0 {
		burst = 1
	}
	return &StatusPollLimiter{
		bucket: bucket,
		rate:   r,
		burst:  burst,
		log:    log.Named("ratelimit.status_poll"),
		local:  map[string]*localLimiter{},
	}
}

func (l *StatusPollLimiter) Allow(ctx context.Context, intentID string) bool {
	if l == nil {
		return true
	}
	if l.bucket != nil {
		decision, err := l.bucket.Take(ctx, keyStatusPoll+intentID, l.rate, l.burst)
		if err == nil {
			return decision.Allowed
		}
		l.log.Warn("redis rate limit failed, using local limiter", zap.Error(err))
	}
	return l.allowLocal(intentID, time.Now())
}

func (l *StatusPollLimiter) allowLocal(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.local) >= localLimiterPrune {
		for k, entry := range l.local {
			if now.Sub(entry.lastSeen) > localLimiterMaxAge {
				delete(l.local, k)
			}
		}
	}

	entry, ok := l.local[key]
	if !ok {
		entry = &localLimiter{limiter: rate.NewLimiter(rate.Limit(l.rate), l.burst)}
		l.local[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
