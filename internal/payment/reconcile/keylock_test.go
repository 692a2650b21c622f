package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/captiva/internal/clock"
)

func TestKeyLockExclusive(t *testing.T) {
	ctx := context.Background()
	lock := NewKeyLock(clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	token, ok, err := lock.TryLock(ctx, "intent:1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := lock.TryLock(ctx, "intent:1", 30*time.Second); ok {
		t.Fatalf("expected second lock to be refused")
	}
	if _, ok, _ := lock.TryLock(ctx, "intent:2", 30*time.Second); !ok {
		t.Fatalf("expected other key to lock independently")
	}

	if err := lock.Release(ctx, "intent:1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := lock.TryLock(ctx, "intent:1", 30*time.Second); !ok {
		t.Fatalf("expected lock after release")
	}
}

func TestKeyLockExpires(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lock := NewKeyLock(clk)

	stale, ok, _ := lock.TryLock(ctx, "intent:1", 30*time.Second)
	if !ok {
		t.Fatalf("expected lock")
	}

	clk.Advance(29 * time.Second)
	if _, ok, _ := lock.TryLock(ctx, "intent:1", 30*time.Second); ok {
		t.Fatalf("lease must hold until its deadline")
	}

	clk.Advance(time.Second)
	fresh, ok, _ := lock.TryLock(ctx, "intent:1", 30*time.Second)
	if !ok {
		t.Fatalf("expected expired lease to be taken over")
	}

	// The stale holder must not free the new lease.
	_ = lock.Release(ctx, "intent:1", stale)
	if _, ok, _ := lock.TryLock(ctx, "intent:1", 30*time.Second); ok {
		t.Fatalf("stale token released a lease it no longer owns")
	}
	_ = lock.Release(ctx, "intent:1", fresh)
}

func TestKeyLockEvict(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lock := NewKeyLock(clk)

	_, _, _ = lock.TryLock(ctx, "a", 10*time.Second)
	_, _, _ = lock.TryLock(ctx, "b", time.Minute)

	clk.Advance(15 * time.Second)
	if evicted := lock.Evict(); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if lock.Len() != 1 {
		t.Fatalf("expected 1 live lease, got %d", lock.Len())
	}
}
