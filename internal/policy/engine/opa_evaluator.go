package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const policyQuery = "data.claims.verification"

// Default Rego policy: matches StaticEvaluator.
const defaultRegoPolicy = `package claims.verification

default offer_domain_path := false

offer_domain_path if {
	input.company.known_email_domain != ""
}

max_attempts := input.defaults.max_attempts

max_codes := input.defaults.max_codes

resend_cooldown_seconds := input.defaults.resend_cooldown_seconds
`

// OPAEvaluator evaluates the claim policy using OPA Rego. Evaluation failures fall back
// to StaticEvaluator so a broken policy never blocks claimants.
type OPAEvaluator struct {
	defaults Limits
	query    rego.PreparedEvalQuery
	logger   *zap.Logger
}

// NewOPAEvaluator compiles policy (the built-in policy when empty) and returns an evaluator.
// defaults are passed to the policy as input.defaults and used when a value is undefined.
func NewOPAEvaluator(ctx context.Context, policy string, defaults Limits, logger *zap.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	compiler, err := ast.CompileModules(map[string]string{"claim_policy.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile claim policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare claim policy: %w", err)
	}
	return &OPAEvaluator{defaults: defaults, query: q, logger: logger}, nil
}

// LoadPolicyFile reads a Rego policy from path. An empty path yields the built-in policy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read claim policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(e.buildInput(Input{})))
	if err != nil {
		return fmt.Errorf("eval claim policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Evaluate implements Evaluator.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	fallback, _ := StaticEvaluator{Limits: e.defaults}.Evaluate(ctx, in)
	rs, err := e.query.Eval(ctx, rego.EvalInput(e.buildInput(in)))
	if err != nil {
		e.logger.Warn("claim policy evaluation failed, using defaults", zap.String("company_id", in.CompanyID), zap.Error(err))
		return fallback, nil
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fallback, nil
	}
	values, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return fallback, nil
	}

	out := Decision{Limits: e.defaults}
	if v, ok := values["offer_domain_path"].(bool); ok {
		out.OfferDomainPath = v
	}
	// The domain path needs a domain to assert against whatever the policy says.
	if in.KnownEmailDomain == "" {
		out.OfferDomainPath = false
	}
	if n, ok := positiveInt(values["max_attempts"]); ok {
		out.MaxAttempts = n
	}
	if n, ok := positiveInt(values["max_codes"]); ok {
		out.MaxCodes = n
	}
	if v, present := values["resend_cooldown_seconds"]; present {
		if n, ok := positiveInt(v); ok {
			out.ResendCooldown = time.Duration(n) * time.Second
		} else if isZero(v) {
			out.ResendCooldown = 0
		}
	}
	return out, nil
}

func (e *OPAEvaluator) buildInput(in Input) map[string]interface{} {
	return map[string]interface{}{
		"company": map[string]interface{}{
			"id":                 in.CompanyID,
			"name":               in.CompanyName,
			"known_email_domain": in.KnownEmailDomain,
		},
		"claim": map[string]interface{}{
			"codes_issued": in.CodesIssued,
		},
		"defaults": map[string]interface{}{
			"max_attempts":            e.defaults.MaxAttempts,
			"max_codes":               e.defaults.MaxCodes,
			"resend_cooldown_seconds": int64(e.defaults.ResendCooldown / time.Second),
		},
	}
}

func positiveInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil && i > 0 {
			return int(i), true
		}
	case float64:
		if n > 0 {
			return int(n), true
		}
	case int64:
		if n > 0 {
			return int(n), true
		}
	case int:
		if n > 0 {
			return n, true
		}
	}
	return 0, false
}

func isZero(v interface{}) bool {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return err == nil && i == 0
	case float64:
		return n == 0
	case int64:
		return n == 0
	case int:
		return n == 0
	}
	return false
}
