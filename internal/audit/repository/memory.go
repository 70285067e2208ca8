package repository

import (
	"context"
	"sync"

	"company-claims/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory (dev mode without a database).
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *MemoryRepository) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].ActorID != actorID {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *r.entries[i]
		out = append(out, &cp)
	}
	return out, nil
}
