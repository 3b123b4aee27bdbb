package policy

import (
	"context"
	"fmt"
)

// LegacyEvaluator implements the pre-C3 behavior: bare scalar-equality
// conditions only. Kept as the opt-out side of the policy_operators_enabled
// config flag per spec §9's Open Question resolution — never silently
// removed. The flag is process-wide, so every tenant uses the same evaluator.
type LegacyEvaluator struct {
	Store PolicyLister
}

func NewLegacyEvaluator(store PolicyLister) *LegacyEvaluator {
	return &LegacyEvaluator{Store: store}
}

// Evaluate mirrors Evaluator.Evaluate's contract but only ever treats a
// condition value as a scalar to be compared with ==; operator maps
// ({eq:...}, {in:...}, ...) are treated as non-matching since the legacy
// path never understood the extended grammar.
func (e *LegacyEvaluator) Evaluate(ctx context.Context, pc PolicyContext) (EvaluationResult, error) {
	policies, err := e.Store.ListEnabledPolicies(ctx, pc.TenantID, pc.WorkspaceID, pc.Environment)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("policy.LegacyEvaluator.Evaluate: load policies: %w", err)
	}

	var traces []PolicyTrace
	var matched []Policy
	for _, p := range policies {
		trace := matchPolicyLegacy(p, pc)
		traces = append(traces, trace)
		if trace.Matched {
			matched = append(matched, p)
		}
	}

	if len(matched) == 0 {
		return EvaluationResult{
			Decision:        DecisionAllow,
			DecisionTrace:   traces,
			Explanation:     "No matching policy",
		}, nil
	}

	ordered := orderByPrecedenceSpecificitySeverity(matched)
	winner := ordered[0]
	ids := make([]string, len(matched))
	for i, p := range matched {
		ids[i] = p.PolicyID
	}

	explanation := winner.Explanation
	if explanation == "" {
		explanation = deriveExplanation(winner, traces)
	}

	return EvaluationResult{
		Decision:          winner.Effect.Decision,
		MatchedPolicies:   ids,
		DecisionTrace:     traces,
		Explanation:       explanation,
		PolicyFallbackHit: len(matched) == 1 && matched[0].IsFallback,
	}, nil
}

func matchPolicyLegacy(p Policy, pc PolicyContext) PolicyTrace {
	trace := PolicyTrace{PolicyID: p.PolicyID, IsFallback: p.IsFallback}
	trace.ScopeMatch = scopeMatches(p.Scope, pc)
	if !trace.ScopeMatch {
		return trace
	}
	trace.SubjectMatch = subjectMatches(p.Subject, pc)
	if !trace.SubjectMatch {
		return trace
	}
	if len(p.Conditions) == 0 {
		trace.Matched = true
		return trace
	}
	for field, raw := range p.Conditions {
		scalar, ok := raw.(map[string]interface{})
		if ok {
			// operator map: the legacy path cannot express this, fail closed.
			_ = scalar
			trace.Fields = append(trace.Fields, FieldTrace{Field: field, Result: false})
			return trace
		}
		actual, found := resolveField(field, pc)
		result := found && actual == raw
		trace.Fields = append(trace.Fields, FieldTrace{Field: field, Actual: actual, Expected: raw, Result: result})
		if !result {
			return trace
		}
	}
	trace.Matched = true
	return trace
}
