package repository

import (
	"context"
	"errors"

	"company-claims/backend/internal/claim/domain"
)

var (
	// ErrDuplicateClaim is returned by Create when the claimant already has an active claim for the company.
	ErrDuplicateClaim = errors.New("active claim already exists for company and claimant")
	// ErrConflict is returned by Update when the stored version moved on.
	ErrConflict = errors.New("claim was modified concurrently")
)

// DefaultListLimit and MaxListLimit bound ListByStatus pages.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Repository is the durable store of claim requests.
type Repository interface {
	// Create inserts c. Returns ErrDuplicateClaim if an active claim exists for the same pair.
	Create(ctx context.Context, c *domain.ClaimRequest) error
	// GetByID returns the claim, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.ClaimRequest, error)
	// FindActiveByCompanyAndClaimant returns the non-rejected claim for the pair, or nil.
	FindActiveByCompanyAndClaimant(ctx context.Context, companyID, claimantUserID string) (*domain.ClaimRequest, error)
	// Update writes c if the stored version equals c.Version, then increments c.Version.
	// Returns ErrConflict otherwise.
	Update(ctx context.Context, c *domain.ClaimRequest) error
	// ListByStatus returns claims newest first; an empty status lists every claim.
	ListByStatus(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.ClaimRequest, error)
}

// ClampLimit applies the list page defaults.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
