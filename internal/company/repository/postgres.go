package repository

import (
	"context"
	"database/sql"
	"errors"

	"company-claims/backend/internal/company/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a company directory backed by the companies table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the company for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	var c domain.Company
	var dom sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, known_email_domain FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &dom)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.KnownEmailDomain = dom.String
	return &c, nil
}

// Upsert inserts the company or updates its name and domain.
func (r *PostgresRepository) Upsert(ctx context.Context, c *domain.Company) error {
	if err := c.Validate(); err != nil {
		return err
	}
	dom := sql.NullString{String: c.KnownEmailDomain, Valid: c.KnownEmailDomain != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, known_email_domain) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, known_email_domain = EXCLUDED.known_email_domain`,
		c.ID, c.Name, dom)
	return err
}
