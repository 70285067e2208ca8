package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryLimiter_Cooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter()
	l.nowF = func() time.Time { return now }
	ctx := context.Background()
	key := Key("claim-1")

	if err := l.Acquire(ctx, key, 30*time.Second); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	now = now.Add(10 * time.Second)
	err := l.Acquire(ctx, key, 30*time.Second)
	if !errors.Is(err, ErrTooSoon) {
		t.Fatalf("second Acquire err = %v, want ErrTooSoon", err)
	}
	var tooSoon *TooSoonError
	if !errors.As(err, &tooSoon) || tooSoon.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", tooSoon)
	}
	if err.Error() != "please wait 20 seconds before requesting another code" {
		t.Errorf("message = %q", err.Error())
	}

	if err := l.Acquire(ctx, Key("claim-2"), 30*time.Second); err != nil {
		t.Errorf("other claim should not be throttled: %v", err)
	}

	now = now.Add(20 * time.Second)
	if err := l.Acquire(ctx, key, 30*time.Second); err != nil {
		t.Errorf("Acquire after cooldown: %v", err)
	}
}

func TestMemoryLimiter_ZeroCooldownAndRelease(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "k", 0); err != nil {
			t.Fatalf("zero cooldown Acquire: %v", err)
		}
	}
	if err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx, "k", time.Minute); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		t.Skipf("Redis connection failed: %v", err)
	}
	defer client.Close()

	l := NewRedisLimiter(client, "test-"+uuid.NewString())
	key := Key("claim-1")
	if err := l.Acquire(ctx, key, 5*time.Second); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	err = l.Acquire(ctx, key, 5*time.Second)
	var tooSoon *TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("second Acquire err = %v, want TooSoonError", err)
	}
	if tooSoon.RetryAfter <= 0 || tooSoon.RetryAfter > 5*time.Second {
		t.Errorf("RetryAfter = %v", tooSoon.RetryAfter)
	}
	if err := l.Release(ctx, key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Acquire(ctx, key, 5*time.Second); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
	_ = l.Release(ctx, key)
}
