package repository

import (
	"context"

	"company-claims/backend/internal/company/domain"
)

// Repository is the company directory lookup used by the claim workflow.
type Repository interface {
	// GetByID returns the company, or nil if it is not listed.
	GetByID(ctx context.Context, id string) (*domain.Company, error)
	// Upsert inserts or updates a company (seed and tests only).
	Upsert(ctx context.Context, c *domain.Company) error
}
