package repository

import (
	"context"
	"sync"
	"time"

	"company-claims/backend/internal/otp/domain"
)

// MemoryRepository is an in-process Repository for tests and database-less dev runs.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]*domain.Challenge
}

// NewMemoryRepository returns an empty in-memory challenge store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Challenge)}
}

func (r *MemoryRepository) Replace(ctx context.Context, c *domain.Challenge, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.m {
		if existing.ClaimRequestID == c.ClaimRequestID && existing.SupersededAt == nil {
			at := now
			existing.SupersededAt = &at
		}
	}
	cp := *c
	r.m[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return clone(c), nil
}

func (r *MemoryRepository) GetActive(ctx context.Context, claimID string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.m {
		if c.ClaimRequestID == claimID && c.SupersededAt == nil {
			return clone(c), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) FindSupersededByHash(ctx context.Context, claimID, codeHash string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.m {
		if c.ClaimRequestID == claimID && c.SupersededAt != nil && c.CodeHash == codeHash {
			return clone(c), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.m[id]
	if !found || c.SupersededAt != nil || c.ConsumedAt != nil || c.LockedAt != nil {
		return 0, false, false, nil
	}
	c.Attempts++
	if c.Attempts >= maxAttempts {
		at := now
		c.LockedAt = &at
	}
	return c.Attempts, c.LockedAt != nil, true, nil
}

func (r *MemoryRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.m[id]
	if !found || c.SupersededAt != nil || c.ConsumedAt != nil || c.LockedAt != nil || now.After(c.ExpiresAt) {
		return false, nil
	}
	at := now
	c.ConsumedAt = &at
	return true, nil
}

func (r *MemoryRepository) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.m {
		if c.ExpiresAt.Before(cutoff) {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

func clone(c *domain.Challenge) *domain.Challenge {
	cp := *c
	return &cp
}
