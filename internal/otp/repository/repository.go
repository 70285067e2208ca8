package repository

import (
	"context"
	"errors"
	"time"

	"company-claims/backend/internal/otp/domain"
)

// ErrConflict is returned when a concurrent issue for the same claim won the race.
var ErrConflict = errors.New("otp: concurrent challenge update")

// Repository defines persistence for OTP challenges.
// Getters return (nil, nil) when nothing matches.
type Repository interface {
	// Replace supersedes the claim's active challenge (if any) at now and inserts c, atomically.
	Replace(ctx context.Context, c *domain.Challenge, now time.Time) error
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	// GetActive returns the non-superseded challenge for the claim.
	GetActive(ctx context.Context, claimID string) (*domain.Challenge, error)
	// FindSupersededByHash returns a superseded challenge of the claim whose code hash matches.
	FindSupersededByHash(ctx context.Context, claimID, codeHash string) (*domain.Challenge, error)
	// RecordFailedAttempt atomically increments attempts on an active, unconsumed, unlocked challenge
	// and locks it at now once attempts reach maxAttempts. ok is false when the challenge no longer qualifies.
	RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, now time.Time) (attempts int, locked bool, ok bool, err error)
	// Consume marks the challenge consumed iff it is active, unconsumed, unlocked and unexpired at now.
	Consume(ctx context.Context, id string, now time.Time) (bool, error)
	// PurgeExpiredBefore deletes challenges that expired before cutoff and returns the count.
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultTTL is the code lifetime.
const DefaultTTL = 60 * time.Minute
