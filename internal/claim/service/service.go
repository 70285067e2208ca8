// Package service is the claim request state machine: it drives a claim from start through
// the domain question and profile entry to domain confirmation or email OTP verification.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"company-claims/backend/internal/claim/domain"
	"company-claims/backend/internal/claim/repository"
	companydomain "company-claims/backend/internal/company/domain"
	companyrepo "company-claims/backend/internal/company/repository"
	"company-claims/backend/internal/devotp"
	"company-claims/backend/internal/domainverify"
	"company-claims/backend/internal/events"
	"company-claims/backend/internal/mail"
	"company-claims/backend/internal/otp"
	otpdomain "company-claims/backend/internal/otp/domain"
	otpservice "company-claims/backend/internal/otp/service"
	"company-claims/backend/internal/policy/engine"
	"company-claims/backend/internal/ratelimit"
)

var (
	ErrValidation          = errors.New("invalid request")
	ErrClaimNotFound       = errors.New("claim not found")
	ErrInvalidTransition   = errors.New("operation not allowed in the claim's current state")
	ErrDeliveryFailure     = errors.New("verification email could not be sent")
	ErrCodeBudgetExhausted = errors.New("no more verification codes can be issued for this claim")
)

// Outcome is the result kind of VerifyOTP.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeMismatch Outcome = "mismatch"
	OutcomeLocked   Outcome = "locked"
	OutcomeExpired  Outcome = "expired"
	OutcomeConsumed Outcome = "consumed"
	OutcomeNotFound Outcome = "not_found"
)

// VerifyResult is returned by VerifyOTP for every recoverable outcome.
type VerifyResult struct {
	Outcome Outcome
	// RemainingAttempts is set for OutcomeMismatch.
	RemainingAttempts int
	Claim             *domain.ClaimRequest
}

// Profile is the claimant-supplied data of SubmitProfile.
type Profile struct {
	DisplayName   string
	PhotoRef      string
	BusinessEmail string
}

// Codes issues and validates verification codes.
type Codes interface {
	Issue(ctx context.Context, claimID string) (*otpdomain.Challenge, string, error)
	ValidateWithLimit(ctx context.Context, claimID, candidate string, maxAttempts int) (otpservice.Result, error)
}

// Deps are the collaborators of Service. Limiter, Events and DevCodes are optional.
type Deps struct {
	Claims    repository.Repository
	Companies companyrepo.Repository
	Codes     Codes
	Verifier  *domainverify.Verifier
	Policy    engine.Evaluator
	Mailer    mail.Dispatcher
	Limiter   ratelimit.Limiter
	Events    events.Publisher
	// DevCodes captures plaintext codes in dev OTP mode. Nil in production.
	DevCodes devotp.Store
	Logger   *zap.Logger
}

// Service implements the claim workflow operations.
type Service struct {
	claims    repository.Repository
	companies companyrepo.Repository
	codes     Codes
	verifier  *domainverify.Verifier
	policy    engine.Evaluator
	mailer    mail.Dispatcher
	limiter   ratelimit.Limiter
	events    events.Publisher
	devCodes  devotp.Store
	logger    *zap.Logger
	locks     *keyedMutex
	nowF      func() time.Time
}

// NewService returns a Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := d.Policy
	if policy == nil {
		policy = engine.StaticEvaluator{Limits: engine.Limits{MaxAttempts: otpservice.DefaultMaxAttempts, MaxCodes: 5}}
	}
	verifier := d.Verifier
	if verifier == nil {
		verifier = domainverify.New(policy, logger)
	}
	return &Service{
		claims:    d.Claims,
		companies: d.Companies,
		codes:     d.Codes,
		verifier:  verifier,
		policy:    policy,
		mailer:    d.Mailer,
		limiter:   d.Limiter,
		events:    d.Events,
		devCodes:  d.DevCodes,
		logger:    logger,
		locks:     newKeyedMutex(),
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// StartClaim finds or creates the active claim of claimantUserID for companyID. existing is true
// when a claim was already in progress; that is informational, not an error.
func (s *Service) StartClaim(ctx context.Context, companyID, claimantUserID string) (claim *domain.ClaimRequest, existing bool, err error) {
	if companyID == "" {
		return nil, false, fmt.Errorf("%w: company id is required", ErrValidation)
	}
	if claimantUserID == "" {
		return nil, false, fmt.Errorf("%w: claimant user id is required", ErrValidation)
	}
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, false, err
	}

	unlock := s.locks.Lock("start:" + companyID + ":" + claimantUserID)
	defer unlock()

	found, err := s.claims.FindActiveByCompanyAndClaimant(ctx, companyID, claimantUserID)
	if err != nil {
		return nil, false, err
	}
	if found != nil {
		return found, true, nil
	}

	now := s.nowF()
	c := &domain.ClaimRequest{
		ID:             uuid.New().String(),
		CompanyID:      companyID,
		ClaimantUserID: claimantUserID,
		Status:         domain.StatusDomainChoice,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !s.verifier.OffersDomainPath(ctx, company) {
		c.Status = domain.StatusProfileEntry
		c.HasDomainEmail = domain.BoolPtr(false)
	}
	if err := s.claims.Create(ctx, c); err != nil {
		if !errors.Is(err, repository.ErrDuplicateClaim) {
			return nil, false, err
		}
		// Lost the create race to another replica.
		found, ferr := s.claims.FindActiveByCompanyAndClaimant(ctx, companyID, claimantUserID)
		if ferr != nil {
			return nil, false, ferr
		}
		if found == nil {
			return nil, false, err
		}
		return found, true, nil
	}
	s.publish(ctx, events.ClaimStarted, c, map[string]string{
		"domain_path_offered": strconv.FormatBool(c.Status == domain.StatusDomainChoice),
	})
	return c, false, nil
}

// ChooseDomain records whether the claimant holds a company-domain email and moves the claim to
// profile entry. Repeating the same answer afterwards is a no-op.
func (s *Service) ChooseDomain(ctx context.Context, claimID, claimantUserID string, asserted bool) (*domain.ClaimRequest, error) {
	unlock := s.locks.Lock(claimID)
	defer unlock()

	c, err := s.owned(ctx, claimID, claimantUserID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.StatusProfileEntry && c.HasDomainEmail != nil && *c.HasDomainEmail == asserted {
		return c, nil
	}
	if c.Status != domain.StatusDomainChoice {
		return nil, fmt.Errorf("%w: cannot choose domain in status %s", ErrInvalidTransition, c.Status)
	}
	company, err := s.company(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.RecordDomainChoice(c, company, asserted); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.save(ctx, c, domain.StatusProfileEntry); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ClaimDomainChosen, c, map[string]string{"asserted": strconv.FormatBool(asserted)})
	return c, nil
}

// SubmitProfile stores the claimant's profile. On the domain path the claim is confirmed for admin
// review without a code; otherwise the business email is required and the first code is sent.
// Resubmitting on the OTP path (pending or expired) updates the profile and sends a fresh code.
func (s *Service) SubmitProfile(ctx context.Context, claimID, claimantUserID string, p Profile) (*domain.ClaimRequest, error) {
	unlock := s.locks.Lock(claimID)
	defer unlock()

	c, err := s.owned(ctx, claimID, claimantUserID)
	if err != nil {
		return nil, err
	}
	name, err := domain.NormalizeDisplayName(p.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	switch c.Status {
	case domain.StatusDomainConfirmed:
		if c.DisplayName == name && c.PhotoRef == p.PhotoRef && sameEmail(c.BusinessEmail, p.BusinessEmail) {
			return c, nil
		}
		return nil, fmt.Errorf("%w: claim is already confirmed", ErrInvalidTransition)
	case domain.StatusProfileEntry, domain.StatusPendingOTP, domain.StatusExpired:
	default:
		return nil, fmt.Errorf("%w: cannot submit profile in status %s", ErrInvalidTransition, c.Status)
	}
	if c.HasDomainEmail == nil {
		return nil, fmt.Errorf("%w: domain question not answered", ErrInvalidTransition)
	}

	if c.DomainAsserted() {
		if c.Status != domain.StatusProfileEntry {
			return nil, fmt.Errorf("%w: cannot submit profile in status %s", ErrInvalidTransition, c.Status)
		}
		email := ""
		if p.BusinessEmail != "" {
			if email, err = domain.NormalizeEmail(p.BusinessEmail); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrValidation, err)
			}
		}
		c.DisplayName, c.PhotoRef, c.BusinessEmail = name, p.PhotoRef, email
		if err := s.save(ctx, c, domain.StatusDomainConfirmed); err != nil {
			return nil, err
		}
		attrs := map[string]string{}
		if company, err := s.company(ctx, c.CompanyID); err == nil && email != "" {
			attrs["email_matches_domain"] = strconv.FormatBool(domainverify.EmailMatchesDomain(email, company.KnownEmailDomain))
		}
		s.publish(ctx, events.ClaimDomainConfirmed, c, attrs)
		return c, nil
	}

	email, err := domain.NormalizeEmail(p.BusinessEmail)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	company, err := s.company(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}
	rotate := c.BusinessEmail != "" && !sameEmail(c.BusinessEmail, email)
	c.DisplayName, c.PhotoRef, c.BusinessEmail = name, p.PhotoRef, email
	if err := s.sendCode(ctx, c, company, rotate); err != nil {
		return c, err
	}
	return c, nil
}

// SendOrResendOTP issues a new code for a claim on the OTP path, superseding the previous one.
func (s *Service) SendOrResendOTP(ctx context.Context, claimID, claimantUserID string) (*domain.ClaimRequest, error) {
	unlock := s.locks.Lock(claimID)
	defer unlock()

	c, err := s.owned(ctx, claimID, claimantUserID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.StatusPendingOTP && c.Status != domain.StatusExpired {
		return nil, fmt.Errorf("%w: cannot send a code in status %s", ErrInvalidTransition, c.Status)
	}
	company, err := s.company(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}
	if err := s.sendCode(ctx, c, company, false); err != nil {
		return c, err
	}
	return c, nil
}

// VerifyOTP checks code against the claim's active challenge. Wrong, expired, locked and reused
// codes are reported in the result, not as errors.
func (s *Service) VerifyOTP(ctx context.Context, claimID, claimantUserID, code string) (VerifyResult, error) {
	unlock := s.locks.Lock(claimID)
	defer unlock()

	c, err := s.owned(ctx, claimID, claimantUserID)
	if err != nil {
		return VerifyResult{}, err
	}
	switch c.Status {
	case domain.StatusVerified:
		return VerifyResult{Outcome: OutcomeConsumed, Claim: c}, nil
	case domain.StatusExpired:
		return VerifyResult{Outcome: OutcomeExpired, Claim: c}, nil
	case domain.StatusPendingOTP:
	default:
		return VerifyResult{}, fmt.Errorf("%w: no code is pending in status %s", ErrInvalidTransition, c.Status)
	}
	if !otp.WellFormed(code) {
		return VerifyResult{}, fmt.Errorf("%w: code must be %d digits", ErrValidation, otp.CodeDigits)
	}

	company, err := s.company(ctx, c.CompanyID)
	if err != nil {
		return VerifyResult{}, err
	}
	limits := s.limits(ctx, c, company)
	res, verr := s.codes.ValidateWithLimit(ctx, c.ID, code, limits.MaxAttempts)
	switch {
	case verr == nil:
		return s.markVerified(ctx, c, company)

	case errors.Is(verr, otpservice.ErrMismatch):
		s.publish(ctx, events.ClaimOTPFailed, c, map[string]string{
			"reason":             "mismatch",
			"remaining_attempts": strconv.Itoa(res.RemainingAttempts),
		})
		return VerifyResult{Outcome: OutcomeMismatch, RemainingAttempts: res.RemainingAttempts, Claim: c}, nil

	case errors.Is(verr, otpservice.ErrLocked):
		s.forgetDevCode(ctx, c.ID)
		if c.CodesIssued >= limits.MaxCodes {
			if err := s.save(ctx, c, domain.StatusRejected); err != nil {
				return VerifyResult{}, err
			}
			s.publish(ctx, events.ClaimRejected, c, map[string]string{"reason": "attempts_exhausted"})
		} else {
			s.publish(ctx, events.ClaimOTPFailed, c, map[string]string{"reason": "locked"})
		}
		return VerifyResult{Outcome: OutcomeLocked, Claim: c}, nil

	case errors.Is(verr, otpservice.ErrSuperseded):
		// An old code; the current one is still usable.
		return VerifyResult{Outcome: OutcomeExpired, Claim: c}, nil

	case errors.Is(verr, otpservice.ErrExpired), errors.Is(verr, otpservice.ErrNotFound):
		outcome := OutcomeExpired
		if errors.Is(verr, otpservice.ErrNotFound) {
			outcome = OutcomeNotFound
		}
		if err := s.save(ctx, c, domain.StatusExpired); err != nil {
			return VerifyResult{}, err
		}
		s.forgetDevCode(ctx, c.ID)
		s.publish(ctx, events.ClaimExpired, c, nil)
		return VerifyResult{Outcome: outcome, Claim: c}, nil

	case errors.Is(verr, otpservice.ErrConsumed):
		// Only a matching code consumes a challenge. The claim is still pending_otp,
		// so the earlier verified save failed; finish it now.
		return s.markVerified(ctx, c, company)
	}
	return VerifyResult{}, verr
}

func (s *Service) markVerified(ctx context.Context, c *domain.ClaimRequest, company *companydomain.Company) (VerifyResult, error) {
	if err := s.save(ctx, c, domain.StatusVerified); err != nil {
		return VerifyResult{}, err
	}
	s.forgetDevCode(ctx, c.ID)
	s.publish(ctx, events.ClaimVerified, c, map[string]string{
		"email_matches_domain": strconv.FormatBool(domainverify.EmailMatchesDomain(c.BusinessEmail, company.KnownEmailDomain)),
	})
	return VerifyResult{Outcome: OutcomeVerified, Claim: c}, nil
}

// GetClaim returns the caller's claim.
func (s *Service) GetClaim(ctx context.Context, claimID, claimantUserID string) (*domain.ClaimRequest, error) {
	return s.owned(ctx, claimID, claimantUserID)
}

// CancelClaim abandons an in-progress claim. Cancelling a rejected claim is a no-op.
func (s *Service) CancelClaim(ctx context.Context, claimID, claimantUserID string) (*domain.ClaimRequest, error) {
	unlock := s.locks.Lock(claimID)
	defer unlock()

	c, err := s.owned(ctx, claimID, claimantUserID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.StatusRejected {
		return c, nil
	}
	if err := s.save(ctx, c, domain.StatusRejected); err != nil {
		return nil, err
	}
	s.forgetDevCode(ctx, c.ID)
	s.publish(ctx, events.ClaimRejected, c, map[string]string{"reason": "cancelled"})
	return c, nil
}

// ListClaims lists claims for the admin review surface. An empty status lists all claims.
func (s *Service) ListClaims(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.ClaimRequest, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrValidation)
	}
	return s.claims.ListByStatus(ctx, status, limit, offset)
}

// sendCode enforces the code budget and cooldown, stores a new challenge, moves the claim to
// pending_otp and only then dispatches the email. rotate is set when the business email changed.
// Caller holds the claim lock.
func (s *Service) sendCode(ctx context.Context, c *domain.ClaimRequest, company *companydomain.Company, rotate bool) error {
	limits := s.limits(ctx, c, company)
	if c.CodesIssued >= limits.MaxCodes {
		return ErrCodeBudgetExhausted
	}
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, ratelimit.Key(c.ID), limits.ResendCooldown); err != nil {
			return err
		}
	}
	now := s.nowF()
	prevIssued, prevSentAt := c.CodesIssued, c.LastCodeSentAt
	c.CodesIssued++
	c.LastCodeSentAt = &now
	persist := func() error {
		if err := s.save(ctx, c, domain.StatusPendingOTP); err != nil {
			c.CodesIssued, c.LastCodeSentAt = prevIssued, prevSentAt
			return err
		}
		return nil
	}
	var (
		ch   *otpdomain.Challenge
		code string
	)
	issue := func() (err error) {
		if ch, code, err = s.codes.Issue(ctx, c.ID); err != nil {
			s.logger.Warn("verification code issue failed", zap.String("claim_id", c.ID), zap.Error(err))
		}
		return err
	}
	// Saving first keeps the previous code usable when the save fails; a failed Issue after
	// the save still counts against MaxCodes. A code sent to a previous address must not
	// verify a new one, so an address change replaces the challenge first.
	steps := []func() error{persist, issue}
	if rotate {
		steps[0], steps[1] = issue, persist
	}
	for _, step := range steps {
		if err := step(); err != nil {
			s.releaseCooldown(ctx, c.ID)
			return err
		}
	}
	if s.devCodes != nil {
		s.devCodes.Put(ctx, c.ID, devotp.Entry{Code: code, ChallengeID: ch.ID, ExpiresAt: ch.ExpiresAt})
	}

	var sendErr error
	if s.mailer == nil {
		sendErr = mail.ErrNotConfigured
	} else {
		sendErr = s.mailer.Send(ctx, c.BusinessEmail, mail.Vars{
			OTP:         code,
			CompanyName: company.Name,
			Year:        now.Year(),
			TTLMinutes:  int(ch.ExpiresAt.Sub(ch.IssuedAt) / time.Minute),
		})
	}
	if sendErr != nil {
		s.logger.Warn("verification email failed", zap.String("claim_id", c.ID), zap.String("company_id", c.CompanyID), zap.Error(sendErr))
		s.releaseCooldown(ctx, c.ID)
		s.publish(ctx, events.ClaimOTPFailed, c, map[string]string{"reason": "delivery_failure"})
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, sendErr)
	}
	s.publish(ctx, events.ClaimOTPSent, c, map[string]string{
		"codes_issued":         strconv.Itoa(c.CodesIssued),
		"email_matches_domain": strconv.FormatBool(domainverify.EmailMatchesDomain(c.BusinessEmail, company.KnownEmailDomain)),
	})
	return nil
}

func (s *Service) limits(ctx context.Context, c *domain.ClaimRequest, company *companydomain.Company) engine.Limits {
	d, err := s.policy.Evaluate(ctx, engine.Input{
		CompanyID:        company.ID,
		CompanyName:      company.Name,
		KnownEmailDomain: company.KnownEmailDomain,
		CodesIssued:      c.CodesIssued,
	})
	if err != nil {
		s.logger.Warn("claim policy failed, using defaults", zap.String("claim_id", c.ID), zap.Error(err))
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = otpservice.DefaultMaxAttempts
	}
	if d.MaxCodes <= 0 {
		d.MaxCodes = 5
	}
	return d.Limits
}

// save moves c to status along a workflow edge and persists it.
func (s *Service) save(ctx context.Context, c *domain.ClaimRequest, to domain.Status) error {
	if !domain.CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	prev := c.Status
	c.Status = to
	c.UpdatedAt = s.nowF()
	if err := s.claims.Update(ctx, c); err != nil {
		c.Status = prev
		return err
	}
	return nil
}

func (s *Service) owned(ctx context.Context, claimID, claimantUserID string) (*domain.ClaimRequest, error) {
	if claimID == "" {
		return nil, fmt.Errorf("%w: claim id is required", ErrValidation)
	}
	c, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if c == nil || claimantUserID == "" || c.ClaimantUserID != claimantUserID {
		return nil, ErrClaimNotFound
	}
	return c, nil
}

func (s *Service) company(ctx context.Context, id string) (*companydomain.Company, error) {
	company, err := s.companies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, companydomain.ErrNotFound
	}
	return company, nil
}

func (s *Service) releaseCooldown(ctx context.Context, claimID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Release(ctx, ratelimit.Key(claimID)); err != nil {
		s.logger.Warn("release resend cooldown failed", zap.String("claim_id", claimID), zap.Error(err))
	}
}

func (s *Service) forgetDevCode(ctx context.Context, claimID string) {
	if s.devCodes != nil {
		s.devCodes.Forget(ctx, claimID)
	}
}

func (s *Service) publish(ctx context.Context, t events.Type, c *domain.ClaimRequest, attrs map[string]string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, events.New(t, c, s.nowF(), attrs)); err != nil {
		s.logger.Warn("claim event publish failed", zap.String("event_type", string(t)), zap.String("claim_id", c.ID), zap.Error(err))
	}
}

func sameEmail(stored, submitted string) bool {
	if submitted == "" {
		return stored == ""
	}
	n, err := domain.NormalizeEmail(submitted)
	return err == nil && n == stored
}
