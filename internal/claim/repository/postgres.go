package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"company-claims/backend/internal/claim/domain"
	"company-claims/backend/internal/db"
)

const claimColumns = `id, company_id, claimant_user_id, display_name, photo_ref, business_email,
	has_domain_email, status, codes_issued, last_code_sent_at, version, created_at, updated_at`

// activeClaimIndex is the partial unique index allowing one non-rejected claim per (company, claimant).
const activeClaimIndex = "claim_requests_active_idx"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a claim repository backed by the claim_requests table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the claim. A concurrent create for the same pair surfaces as ErrDuplicateClaim.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.ClaimRequest) error {
	if c.Version == 0 {
		c.Version = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO claim_requests (`+claimColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.CompanyID, c.ClaimantUserID, c.DisplayName, c.PhotoRef, c.BusinessEmail,
		nullBool(c.HasDomainEmail), string(c.Status), c.CodesIssued, c.LastCodeSentAt, c.Version,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, activeClaimIndex) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// GetByID returns the claim for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.ClaimRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claim_requests WHERE id = $1`, id)
	return scanClaim(row)
}

// FindActiveByCompanyAndClaimant returns the non-rejected claim for the pair, or nil.
func (r *PostgresRepository) FindActiveByCompanyAndClaimant(ctx context.Context, companyID, claimantUserID string) (*domain.ClaimRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claim_requests
		 WHERE company_id = $1 AND claimant_user_id = $2 AND status <> 'rejected'`,
		companyID, claimantUserID)
	return scanClaim(row)
}

// Update is a compare-and-swap on version.
func (r *PostgresRepository) Update(ctx context.Context, c *domain.ClaimRequest) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE claim_requests SET
		   display_name = $3, photo_ref = $4, business_email = $5, has_domain_email = $6,
		   status = $7, codes_issued = $8, last_code_sent_at = $9, updated_at = $10,
		   version = version + 1
		 WHERE id = $1 AND version = $2`,
		c.ID, c.Version, c.DisplayName, c.PhotoRef, c.BusinessEmail, nullBool(c.HasDomainEmail),
		string(c.Status), c.CodesIssued, c.LastCodeSentAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	c.Version++
	return nil
}

// ListByStatus returns claims newest first.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.ClaimRequest, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claim_requests
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		string(status), ClampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ClaimRequest
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(s scanner) (*domain.ClaimRequest, error) {
	var c domain.ClaimRequest
	var status string
	var hasDomain sql.NullBool
	var lastSent sql.NullTime
	err := s.Scan(&c.ID, &c.CompanyID, &c.ClaimantUserID, &c.DisplayName, &c.PhotoRef, &c.BusinessEmail,
		&hasDomain, &status, &c.CodesIssued, &lastSent, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Status = domain.Status(status)
	if hasDomain.Valid {
		c.HasDomainEmail = domain.BoolPtr(hasDomain.Bool)
	}
	if lastSent.Valid {
		t := lastSent.Time.UTC()
		c.LastCodeSentAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
