package reconcile

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/smallbiznis/captiva/internal/clock"
)

// Locker hands out short-lived exclusive leases on a key. A lease expires on
// its own after ttl, so a crashed holder never blocks a key for good.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// KeyLock is the in-process Locker. Entries past their deadline are treated
// as free and removed by Evict.
type KeyLock struct {
	mu      sync.Mutex
	clock   clock.Clock
	seq     uint64
	entries map[string]lease
}

type lease struct {
	token     string
	expiresAt time.Time
}

func NewKeyLock(clk clock.Clock) *KeyLock {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &KeyLock{
		clock:   clk,
		entries: map[string]lease{},
	}
}

func (l *KeyLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.entries[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}
	l.seq++
	token := strconv.FormatUint(l.seq, 10)
	l.entries[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release frees key only while token still owns it; a lease that expired and
// was taken over stays with its new holder.
func (l *KeyLock) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.entries[key]; ok && current.token == token {
		delete(l.entries, key)
	}
	return nil
}

func (l *KeyLock) Evict() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, current := range l.entries {
		if !now.Before(current.expiresAt) {
			delete(l.entries, key)
			evicted++
		}
	}
	return evicted
}

func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunJanitor evicts expired leases every interval until ctx is done.
func (l *KeyLock) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}
