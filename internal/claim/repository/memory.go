package repository

import (
	"context"
	"sort"
	"sync"

	"company-claims/backend/internal/claim/domain"
)

// MemoryRepository is an in-process Repository for tests and database-less dev runs.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*domain.ClaimRequest
}

// NewMemoryRepository returns an empty in-memory claim store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.ClaimRequest)}
}

func (r *MemoryRepository) Create(ctx context.Context, c *domain.ClaimRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Status.Active() && r.findActiveLocked(c.CompanyID, c.ClaimantUserID) != nil {
		return ErrDuplicateClaim
	}
	if c.Version == 0 {
		c.Version = 1
	}
	r.m[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.ClaimRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[id].Clone(), nil
}

func (r *MemoryRepository) FindActiveByCompanyAndClaimant(ctx context.Context, companyID, claimantUserID string) (*domain.ClaimRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findActiveLocked(companyID, claimantUserID).Clone(), nil
}

func (r *MemoryRepository) findActiveLocked(companyID, claimantUserID string) *domain.ClaimRequest {
	for _, c := range r.m {
		if c.CompanyID == companyID && c.ClaimantUserID == claimantUserID && c.Status.Active() {
			return c
		}
	}
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, c *domain.ClaimRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.m[c.ID]
	if !ok || stored.Version != c.Version {
		return ErrConflict
	}
	c.Version++
	r.m[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.ClaimRequest, error) {
	r.mu.RLock()
	var out []*domain.ClaimRequest
	for _, c := range r.m {
		if status == "" || c.Status == status {
			out = append(out, c.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
