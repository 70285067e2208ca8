package repository

import (
	"context"

	"company-claims/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByActor returns the actor's entries, newest first.
	ListByActor(ctx context.Context, actorID string, limit, offset int) ([]*domain.AuditLog, error)
}
