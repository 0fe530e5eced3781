// Package policyopa implements the policy-decision collaborator on
// top of OPA rego bundles. A Deny surfaces as Forbidden in the
// services before any side effect.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/Fedosin/glare/internal/domain"
)

const defaultQuery = "data.glare.authz.result"

type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngineFromBundlePath compiles the rego bundle at path and
// prepares the authorization query.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Authorize(ctx context.Context, input domain.PolicyInput) (domain.PolicyDecision, error) {
	if e == nil {
		return domain.PolicyDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyDecision{}, errors.New("empty policy result")
	}
	decision, err := decodeDecision(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	sort.Strings(decision.Reasons)
	return decision, nil
}

func decodeDecision(value any) (domain.PolicyDecision, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	var decision domain.PolicyDecision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return domain.PolicyDecision{}, err
	}
	return decision, nil
}

// AllowAll approves everything. It stands in for a real bundle in
// development and tests.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, input domain.PolicyInput) (domain.PolicyDecision, error) {
	return domain.PolicyDecision{Allow: true}, nil
}
