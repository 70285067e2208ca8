// Package service issues, reissues and validates claim verification codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"company-claims/backend/internal/otp"
	"company-claims/backend/internal/otp/domain"
	"company-claims/backend/internal/otp/repository"
)

// Validation outcomes. ErrLocked and ErrSuperseded wrap ErrExpired: both need a new code just like an expired one.
var (
	ErrNotFound = errors.New("no verification code has been issued for this claim")
	ErrExpired  = errors.New("verification code expired")
	ErrConsumed = errors.New("verification code already used")
	ErrMismatch = errors.New("verification code does not match")
	ErrLocked   = fmt.Errorf("%w: too many wrong attempts", ErrExpired)

	// ErrSuperseded is returned for a code that belonged to a replaced challenge.
	ErrSuperseded = fmt.Errorf("%w: a newer code was issued", ErrExpired)
)

// DefaultMaxAttempts is the number of wrong codes a challenge tolerates.
const DefaultMaxAttempts = 5

// Result carries validation details alongside the outcome error.
type Result struct {
	ChallengeID string
	// RemainingAttempts is set on ErrMismatch and on success.
	RemainingAttempts int
}

// Service implements issue/resend/validate over a challenge Repository.
type Service struct {
	repo        repository.Repository
	ttl         time.Duration
	maxAttempts int
	nowF        func() time.Time
	codeF       func() (string, error)
}

// NewService returns a Service. ttl and maxAttempts fall back to the defaults when non-positive.
func NewService(repo repository.Repository, ttl time.Duration, maxAttempts int) *Service {
	if ttl <= 0 {
		ttl = repository.DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		repo:        repo,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		nowF:        func() time.Time { return time.Now().UTC() },
		codeF:       otp.GenerateCode,
	}
}

// MaxAttempts returns the configured wrong-attempt limit.
func (s *Service) MaxAttempts() int { return s.maxAttempts }

// Issue creates a fresh challenge for claimID, superseding any previous one, and returns it with the
// plaintext code. The challenge is durable when Issue returns; callers dispatch the code afterwards.
func (s *Service) Issue(ctx context.Context, claimID string) (*domain.Challenge, string, error) {
	code, err := s.codeF()
	if err != nil {
		return nil, "", fmt.Errorf("generate code: %w", err)
	}
	now := s.nowF()
	c := &domain.Challenge{
		ID:             uuid.New().String(),
		ClaimRequestID: claimID,
		CodeHash:       otp.HashCode(code),
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Replace(ctx, c, now); err != nil {
		return nil, "", err
	}
	return c, code, nil
}

// Resend is Issue under another name; throttling is the caller's concern.
func (s *Service) Resend(ctx context.Context, claimID string) (*domain.Challenge, string, error) {
	return s.Issue(ctx, claimID)
}

// Validate checks candidate against the claim's active challenge. It returns nil only when this call
// consumed the challenge; every other outcome is one of the sentinel errors above or a store error.
func (s *Service) Validate(ctx context.Context, claimID, candidate string) (Result, error) {
	return s.ValidateWithLimit(ctx, claimID, candidate, s.maxAttempts)
}

// ValidateWithLimit is Validate with a per-call wrong-attempt limit (e.g. from the claim policy).
// Non-positive maxAttempts uses the configured limit.
func (s *Service) ValidateWithLimit(ctx context.Context, claimID, candidate string, maxAttempts int) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	c, err := s.repo.GetActive(ctx, claimID)
	if err != nil {
		return Result{}, err
	}
	if c == nil {
		return Result{}, ErrNotFound
	}
	res := Result{ChallengeID: c.ID}
	now := s.nowF()
	if err := s.state(c, now); err != nil {
		return res, err
	}

	if !otp.CodeEqual(candidate, c.CodeHash) {
		old, err := s.repo.FindSupersededByHash(ctx, claimID, otp.HashCode(candidate))
		if err != nil {
			return res, err
		}
		if old != nil {
			return res, ErrSuperseded
		}
		attempts, locked, ok, err := s.repo.RecordFailedAttempt(ctx, c.ID, maxAttempts, now)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, s.recheck(ctx, c.ID, now)
		}
		if locked {
			return res, ErrLocked
		}
		res.RemainingAttempts = maxAttempts - attempts
		return res, ErrMismatch
	}

	ok, err := s.repo.Consume(ctx, c.ID, now)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, s.recheck(ctx, c.ID, now)
	}
	res.RemainingAttempts = maxAttempts - c.Attempts
	return res, nil
}

// Purge deletes challenges that expired more than retention ago.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeExpiredBefore(ctx, s.nowF().Add(-retention))
}

func (s *Service) state(c *domain.Challenge, now time.Time) error {
	switch {
	case !c.Active():
		return ErrSuperseded
	case c.Locked():
		return ErrLocked
	case c.ExpiredAt(now):
		return ErrExpired
	case c.Consumed():
		return ErrConsumed
	}
	return nil
}

// recheck classifies a challenge that changed under a lost compare-and-set.
func (s *Service) recheck(ctx context.Context, id string, now time.Time) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	if err := s.state(c, now); err != nil {
		return err
	}
	return ErrExpired
}
