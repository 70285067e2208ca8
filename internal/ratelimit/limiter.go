// Package ratelimit enforces the minimum interval between verification code sends.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTooSoon is matched (errors.Is) by every cooldown rejection.
var ErrTooSoon = errors.New("please wait before requesting another code")

// TooSoonError carries how long the caller has to wait.
type TooSoonError struct {
	RetryAfter time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting another code", int((e.RetryAfter+time.Second-1)/time.Second))
}

func (e *TooSoonError) Unwrap() error { return ErrTooSoon }

// Limiter grants at most one send per key per cooldown.
type Limiter interface {
	// Acquire starts a cooldown for key, or returns *TooSoonError if one is running.
	// A zero cooldown always succeeds.
	Acquire(ctx context.Context, key string, cooldown time.Duration) error
	// Release ends the cooldown for key early (used when the send failed).
	Release(ctx context.Context, key string) error
}

// Key returns the limiter key for a claim's code sends.
func Key(claimID string) string {
	return "claim:otp:last:" + claimID
}

// MemoryLimiter is a process-local Limiter.
type MemoryLimiter struct {
	mu    sync.Mutex
	until map[string]time.Time
	nowF  func() time.Time
}

// NewMemoryLimiter returns an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{until: make(map[string]time.Time), nowF: time.Now}
}

func (l *MemoryLimiter) Acquire(ctx context.Context, key string, cooldown time.Duration) error {
	if cooldown <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	if until, ok := l.until[key]; ok && now.Before(until) {
		return &TooSoonError{RetryAfter: until.Sub(now)}
	}
	l.until[key] = now.Add(cooldown)
	for k, u := range l.until {
		if !now.Before(u) {
			delete(l.until, k)
		}
	}
	return nil
}

func (l *MemoryLimiter) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.until, key)
	return nil
}
