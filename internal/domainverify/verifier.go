// Package domainverify decides whether a claimant is offered the company-domain fast track
// and records their answer. No DNS or mailbox proof is attempted: the assertion is reviewed
// by an admin before ownership is granted.
package domainverify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	claimdomain "company-claims/backend/internal/claim/domain"
	companydomain "company-claims/backend/internal/company/domain"
	"company-claims/backend/internal/policy/engine"
)

// ErrNoKnownDomain is returned when a claimant asserts a domain email for a company without one.
var ErrNoKnownDomain = errors.New("company has no known email domain")

// Verifier answers domain-path questions for the claim workflow.
type Verifier struct {
	policy engine.Evaluator
	logger *zap.Logger
}

// New returns a Verifier. A nil policy uses the built-in rule (known domain => offered).
func New(policy engine.Evaluator, logger *zap.Logger) *Verifier {
	if policy == nil {
		policy = engine.StaticEvaluator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{policy: policy, logger: logger}
}

// OffersDomainPath reports whether the claimant should be asked if they hold a company-domain
// email. It never verifies anything.
func (v *Verifier) OffersDomainPath(ctx context.Context, company *companydomain.Company) bool {
	if !company.HasKnownDomain() {
		return false
	}
	d, err := v.policy.Evaluate(ctx, engine.Input{
		CompanyID:        company.ID,
		CompanyName:      company.Name,
		KnownEmailDomain: company.KnownEmailDomain,
	})
	if err != nil {
		v.logger.Warn("domain path policy failed, offering by default", zap.String("company_id", company.ID), zap.Error(err))
		return true
	}
	return d.OfferDomainPath
}

// RecordDomainChoice stores the claimant's answer on claim. It does not change the status.
func (v *Verifier) RecordDomainChoice(claim *claimdomain.ClaimRequest, company *companydomain.Company, asserted bool) error {
	if asserted && !company.HasKnownDomain() {
		return ErrNoKnownDomain
	}
	claim.HasDomainEmail = claimdomain.BoolPtr(asserted)
	return nil
}

// EmailMatchesDomain reports whether email is on domain or one of its subdomains.
func EmailMatchesDomain(email, domain string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || domain == "" {
		return false
	}
	host, err := companydomain.NormalizeDomain(email[at+1:])
	if err != nil {
		return false
	}
	want, err := companydomain.NormalizeDomain(domain)
	if err != nil {
		return false
	}
	return host == want || strings.HasSuffix(host, "."+want)
}
