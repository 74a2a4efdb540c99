// Package policy evaluates module access rules written in Rego.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the module policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy evaluates.
type Input struct {
	UserID      string `json:"user_id"`
	ModuleSlug  string `json:"module_slug"`
	PremiumOnly bool   `json:"premium_only"`
	Plan        string `json:"plan"`
	IsPremium   bool   `json:"is_premium"`
	TriggerType string `json:"trigger_type"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// module must define data.module_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.module_policy.decision"),
		rego.Module("module_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision and an optional reason for input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	doc := map[string]any{
		"user_id":      input.UserID,
		"module_slug":  input.ModuleSlug,
		"premium_only": input.PremiumOnly,
		"plan":         input.Plan,
		"is_premium":   input.IsPremium,
		"trigger_type": input.TriggerType,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return v, "", nil
	case map[string]any:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		if decision == "" {
			return DecisionAllow, "policy returned no decision", nil
		}
		return decision, reason, nil
	}
	return DecisionAllow, "unexpected return type", nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package module_policy

default decision = {"decision": "allow", "reason": ""}

decision = {"decision": "block", "reason": "module requires a premium plan"} {
	input.premium_only
	not input.is_premium
}
`
