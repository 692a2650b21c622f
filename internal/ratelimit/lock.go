package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockMisconfigured = errors.New("redis lock misconfigured")
	// ErrLeaseLost is returned by Release when the key expired or was taken
	// over before the holder released it.
	ErrLeaseLost = errors.New("redis lock lease lost")
)

// Deletes the key only while it still carries the holder's token.
const compareAndDelete = `
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`

// Locker is a lease lock on a single redis key. It gives at-most-one holder
// across API instances for as long as the TTL lasts.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(compareAndDelete),
	}
}

// TryLock returns the holder token and whether the lease was granted.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, fmt.Errorf("%w: no redis client", ErrLockMisconfigured)
	case key == "":
		return "", false, fmt.Errorf("%w: empty key", ErrLockMisconfigured)
	case ttl <= 0:
		return "", false, fmt.Errorf("%w: ttl %s", ErrLockMisconfigured, ttl)
	}

	token := uuid.NewString()
	granted, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !granted {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	deleted, err := l.script.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}
