package repository

import (
	"context"
	"sync"

	"company-claims/backend/internal/company/domain"
)

// MemoryRepository is an in-memory company directory.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]domain.Company
}

// NewMemoryRepository returns a directory pre-filled with companies.
func NewMemoryRepository(companies ...*domain.Company) *MemoryRepository {
	r := &MemoryRepository{m: make(map[string]domain.Company)}
	for _, c := range companies {
		r.m[c.ID] = *c
	}
	return r
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, c *domain.Company) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.ID] = *c
	return nil
}
