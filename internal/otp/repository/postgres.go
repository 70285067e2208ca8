package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"company-claims/backend/internal/db"
	"company-claims/backend/internal/otp/domain"
)

const challengeColumns = `id, claim_request_id, code_hash, issued_at, expires_at, attempts, consumed_at, superseded_at, locked_at`

// activeChallengeIndex is the partial unique index allowing one non-superseded challenge per claim.
const activeChallengeIndex = "otp_challenges_active_idx"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a challenge repository backed by the otp_challenges table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Replace supersedes the active challenge and inserts c in one transaction.
// A concurrent Replace for the same claim surfaces as ErrConflict.
func (r *PostgresRepository) Replace(ctx context.Context, c *domain.Challenge, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_challenges SET superseded_at = $2 WHERE claim_request_id = $1 AND superseded_at IS NULL`,
		c.ClaimRequestID, now,
	); err != nil {
		return fmt.Errorf("supersede challenge: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO otp_challenges (`+challengeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.ClaimRequestID, c.CodeHash, c.IssuedAt, c.ExpiresAt, c.Attempts,
		c.ConsumedAt, c.SupersededAt, c.LockedAt,
	); err != nil {
		if db.IsUniqueViolation(err, activeChallengeIndex) {
			return ErrConflict
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if db.IsUniqueViolation(err, activeChallengeIndex) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// GetByID returns the challenge for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM otp_challenges WHERE id = $1`, id)
	return scanChallenge(row)
}

// GetActive returns the claim's current challenge, or nil if it never had one.
func (r *PostgresRepository) GetActive(ctx context.Context, claimID string) (*domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges WHERE claim_request_id = $1 AND superseded_at IS NULL`,
		claimID)
	return scanChallenge(row)
}

// FindSupersededByHash returns the most recent superseded challenge whose code hash matches.
func (r *PostgresRepository) FindSupersededByHash(ctx context.Context, claimID, codeHash string) (*domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges
		 WHERE claim_request_id = $1 AND superseded_at IS NOT NULL AND code_hash = $2
		 ORDER BY issued_at DESC LIMIT 1`,
		claimID, codeHash)
	return scanChallenge(row)
}

// RecordFailedAttempt increments attempts in a single guarded UPDATE.
func (r *PostgresRepository) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, now time.Time) (int, bool, bool, error) {
	var attempts int
	var locked bool
	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_challenges
		 SET attempts = attempts + 1,
		     locked_at = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE locked_at END
		 WHERE id = $1 AND superseded_at IS NULL AND consumed_at IS NULL AND locked_at IS NULL
		 RETURNING attempts, locked_at IS NOT NULL`,
		id, maxAttempts, now,
	).Scan(&attempts, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	return attempts, locked, true, nil
}

// Consume is the compare-and-set consumed_at NULL -> now.
func (r *PostgresRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET consumed_at = $2
		 WHERE id = $1 AND superseded_at IS NULL AND consumed_at IS NULL AND locked_at IS NULL AND expires_at >= $2`,
		id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PurgeExpiredBefore deletes challenges whose expiry is older than cutoff.
func (r *PostgresRepository) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanChallenge(row *sql.Row) (*domain.Challenge, error) {
	var c domain.Challenge
	var consumed, superseded, locked sql.NullTime
	err := row.Scan(&c.ID, &c.ClaimRequestID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt, &c.Attempts,
		&consumed, &superseded, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.ConsumedAt = nullTimePtr(consumed)
	c.SupersededAt = nullTimePtr(superseded)
	c.LockedAt = nullTimePtr(locked)
	return &c, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
