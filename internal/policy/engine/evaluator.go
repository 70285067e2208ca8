package engine

import (
	"context"
	"time"
)

// Limits are the tunable budgets of the claim workflow.
type Limits struct {
	// MaxAttempts is the number of wrong codes a challenge accepts before it locks.
	MaxAttempts int
	// MaxCodes is the number of challenges one claim may be issued.
	MaxCodes int
	// ResendCooldown is the minimum interval between two code sends for one claim (0 = none).
	ResendCooldown time.Duration
}

// Input is what the claim policy sees about a claim.
type Input struct {
	CompanyID        string
	CompanyName      string
	KnownEmailDomain string
	CodesIssued      int
}

// Decision holds the result of claim policy evaluation.
type Decision struct {
	OfferDomainPath bool
	Limits
}

// Evaluator evaluates the claim policy using OPA or other engines.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// StaticEvaluator applies the built-in rules without a policy engine: the domain path is
// offered iff the company has a known email domain, and the limits are used as-is.
type StaticEvaluator struct {
	Limits Limits
}

// Evaluate implements Evaluator.
func (s StaticEvaluator) Evaluate(_ context.Context, in Input) (Decision, error) {
	return Decision{OfferDomainPath: in.KnownEmailDomain != "", Limits: s.Limits}, nil
}
