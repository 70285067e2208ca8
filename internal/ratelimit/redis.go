package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares cooldowns across server replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter returns a limiter storing keys under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) key(k string) string {
	if l.prefix == "" {
		return k
	}
	return l.prefix + ":" + k
}

// Acquire uses SET NX PX so that concurrent senders race on a single key.
func (l *RedisLimiter) Acquire(ctx context.Context, key string, cooldown time.Duration) error {
	if cooldown <= 0 {
		return nil
	}
	k := l.key(key)
	ok, err := l.client.SetNX(ctx, k, "1", cooldown).Result()
	if err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if ok {
		return nil
	}
	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if ttl <= 0 {
		// Expired between SETNX and PTTL.
		ttl = time.Millisecond
	}
	return &TooSoonError{RetryAfter: ttl}
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	return nil
}
