// Package devotp captures plaintext verification codes per claim when dev OTP mode is on
// (OTP_RETURN_TO_CLIENT=true), so local clients can read them from GET /dev/claims/{id}/otp.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Entry is the latest code captured for a claim.
type Entry struct {
	Code        string
	ChallengeID string
	ExpiresAt   time.Time
}

// Store holds the latest plaintext code by claim id. Never wired in production.
type Store interface {
	// Put records code as the claim's current code, replacing any earlier one.
	Put(ctx context.Context, claimID string, e Entry)
	// Get returns the claim's code if present and unexpired.
	Get(ctx context.Context, claimID string) (Entry, bool)
	// Forget drops the claim's code (e.g. after it was consumed).
	Forget(ctx context.Context, claimID string)
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]Entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]Entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores e for claimID and drops entries that already expired.
func (s *MemoryStore) Put(ctx context.Context, claimID string, e Entry) {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, old := range s.m {
		if !old.ExpiresAt.After(now) {
			delete(s.m, id)
		}
	}
	s.m[claimID] = e
}

// Get returns the entry for claimID if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, claimID string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.m[claimID]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if !e.ExpiresAt.After(s.nowF()) {
		s.Forget(ctx, claimID)
		return Entry{}, false
	}
	return e, true
}

// Forget removes the entry for claimID.
func (s *MemoryStore) Forget(ctx context.Context, claimID string) {
	s.mu.Lock()
	delete(s.m, claimID)
	s.mu.Unlock()
}
