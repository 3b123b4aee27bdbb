package policy

import (
	"context"
	"fmt"

	gconditions "github.com/agentgate/gatekeeper/pkg/conditions"
)

// FieldTrace is the per-field evaluation record of spec §4.4 step 2.
type FieldTrace struct {
	Field    string
	Operator gconditions.Operator
	Expected interface{}
	Actual   interface{}
	Result   bool
}

// PolicyTrace records why a single policy did or did not match.
type PolicyTrace struct {
	PolicyID    string
	ScopeMatch  bool
	SubjectMatch bool
	Fields      []FieldTrace
	Matched     bool
	IsFallback  bool
}

// EvaluationResult is the output of Evaluate, per spec §4.4.
type EvaluationResult struct {
	Decision          Decision
	MatchedPolicies   []string
	DecisionTrace     []PolicyTrace
	Explanation       string
	PolicyFallbackHit bool
}

// PolicyLister is the subset of pkg/store's Store the evaluator depends on:
// the enabled, scope-filtered policy set for a context, ordered however the
// store likes (the evaluator re-sorts per step 4).
type PolicyLister interface {
	ListEnabledPolicies(ctx context.Context, tenantID, workspaceID, environment string) ([]Policy, error)
}

// Evaluator implements the extended (C3 operator-aware) policy evaluation
// algorithm of spec §4.4.
type Evaluator struct {
	Store PolicyLister
}

func NewEvaluator(store PolicyLister) *Evaluator {
	return &Evaluator{Store: store}
}

// Evaluate runs spec §4.4 steps 1-5 against pc.
func (e *Evaluator) Evaluate(ctx context.Context, pc PolicyContext) (EvaluationResult, error) {
	policies, err := e.Store.ListEnabledPolicies(ctx, pc.TenantID, pc.WorkspaceID, pc.Environment)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("policy.Evaluate: load policies: %w", err)
	}

	var traces []PolicyTrace
	var matched []Policy
	for _, p := range policies {
		trace := matchPolicy(p, pc)
		traces = append(traces, trace)
		if trace.Matched {
			matched = append(matched, p)
		}
	}

	if len(matched) == 0 {
		return EvaluationResult{
			Decision:          DecisionAllow,
			MatchedPolicies:   nil,
			DecisionTrace:     traces,
			Explanation:       "No matching policy",
			PolicyFallbackHit: false,
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

	fallbackHit := len(matched) == 1 && matched[0].IsFallback

	return EvaluationResult{
		Decision:          winner.Effect.Decision,
		MatchedPolicies:   ids,
		DecisionTrace:     traces,
		Explanation:       explanation,
		PolicyFallbackHit: fallbackHit,
	}, nil
}

// orderByPrecedenceSpecificitySeverity implements spec §4.4 step 4.
func orderByPrecedenceSpecificitySeverity(matched []Policy) []Policy {
	ordered := make([]Policy, len(matched))
	copy(ordered, matched)
	for i := 1; i < len(ordered); i++ {
		j := i
		for j > 0 && less(ordered[j], ordered[j-1]) {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
			j--
		}
	}
	return ordered
}

// less reports whether a ranks ahead of b (should sort before b).
func less(a, b Policy) bool {
	if a.Precedence != b.Precedence {
		return a.Precedence > b.Precedence
	}
	if as, bs := a.specificity(), b.specificity(); as != bs {
		return as > bs
	}
	return severityRank[a.Effect.Decision] > severityRank[b.Effect.Decision]
}

func matchPolicy(p Policy, pc PolicyContext) PolicyTrace {
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
		cond, err := gconditions.Parse(raw)
		if err != nil {
			trace.Fields = append(trace.Fields, FieldTrace{Field: field, Result: false})
			return trace
		}
		cond, ok := resolveConditionTemplates(cond, pc.TemplateVars)
		if !ok {
			trace.Fields = append(trace.Fields, FieldTrace{Field: field, Operator: cond.Op, Result: false})
			return trace
		}
		actual, found := resolveField(field, pc)
		result := evaluateField(field, cond, actual, found)
		trace.Fields = append(trace.Fields, FieldTrace{
			Field:    field,
			Operator: cond.Op,
			Expected: conditionExpected(cond),
			Actual:   actual,
			Result:   result,
		})
		if !result {
			// first non-match short-circuits (spec §4.4 step 2)
			return trace
		}
	}

	trace.Matched = true
	return trace
}

func resolveField(field string, pc PolicyContext) (interface{}, bool) {
	return pc.fieldValue(field)
}

// resolveConditionTemplates substitutes {{workspace.root}}/{{tenant.id}}/
// {{workspace.id}} tokens into every string operand of cond before it's
// evaluated against the request context, per spec §4.3. Any unresolvable
// token fails the whole condition closed (ok=false), never falling through
// to matching the literal "{{...}}" text.
func resolveConditionTemplates(cond gconditions.Condition, vars map[string]string) (gconditions.Condition, bool) {
	switch cond.Op {
	case gconditions.OpEq:
		if s, ok := cond.Eq.(string); ok {
			resolved, ok := gconditions.ResolveTemplate(s, vars)
			if !ok {
				return cond, false
			}
			cond.Eq = resolved
		}
	case gconditions.OpIn:
		resolvedIn := make([]interface{}, len(cond.In))
		for i, v := range cond.In {
			s, ok := v.(string)
			if !ok {
				resolvedIn[i] = v
				continue
			}
			resolved, ok := gconditions.ResolveTemplate(s, vars)
			if !ok {
				return cond, false
			}
			resolvedIn[i] = resolved
		}
		cond.In = resolvedIn
	case gconditions.OpPrefix:
		resolved, ok := gconditions.ResolveTemplate(cond.Prefix, vars)
		if !ok {
			return cond, false
		}
		cond.Prefix = resolved
	case gconditions.OpAllUnder:
		resolved, ok := resolveTemplateSlice(cond.AllUnder, vars)
		if !ok {
			return cond, false
		}
		cond.AllUnder = resolved
	case gconditions.OpAnyUnder:
		resolved, ok := resolveTemplateSlice(cond.AnyUnder, vars)
		if !ok {
			return cond, false
		}
		cond.AnyUnder = resolved
	}
	return cond, true
}

func resolveTemplateSlice(roots []string, vars map[string]string) ([]string, bool) {
	out := make([]string, len(roots))
	for i, s := range roots {
		resolved, ok := gconditions.ResolveTemplate(s, vars)
		if !ok {
			return nil, false
		}
		out[i] = resolved
	}
	return out, true
}

// evaluateField special-cases the "capability" family of fields: the
// context value is a requested-capabilities set, so an Eq condition means
// "the set contains this capability", not direct equality.
func evaluateField(field string, cond gconditions.Condition, actual interface{}, found bool) bool {
	if hasCapabilityField(field) && found {
		caps, ok := actual.([]string)
		if !ok {
			return false
		}
		if cond.Op == gconditions.OpEq {
			for _, c := range caps {
				if c == cond.Eq {
					return true
				}
			}
			return false
		}
		for _, c := range caps {
			if gconditions.Evaluate(cond, c, true) {
				return true
			}
		}
		return false
	}
	return gconditions.Evaluate(cond, actual, found)
}

func conditionExpected(c gconditions.Condition) interface{} {
	switch c.Op {
	case gconditions.OpEq:
		return c.Eq
	case gconditions.OpIn:
		return c.In
	case gconditions.OpPrefix:
		return c.Prefix
	case gconditions.OpAllUnder:
		return c.AllUnder
	case gconditions.OpAnyUnder:
		return c.AnyUnder
	case gconditions.OpExists:
		return c.Exists
	default:
		return nil
	}
}

func scopeMatches(s Scope, pc PolicyContext) bool {
	if s.TenantID != "" && s.TenantID != pc.TenantID {
		return false
	}
	if s.WorkspaceID != "" && s.WorkspaceID != pc.WorkspaceID {
		return false
	}
	if s.Environment != "" && s.Environment != pc.Environment {
		return false
	}
	return true
}

func subjectMatches(subj Subject, pc PolicyContext) bool {
	if subj.Name == "" {
		return true
	}
	switch subj.Type {
	case SubjectTool:
		return subj.Name == pc.Tool
	case SubjectAdapter:
		return subj.Name == pc.AdapterName
	case SubjectSkill:
		return subj.Name == pc.SkillState
	case SubjectEnvironment:
		return subj.Name == pc.Environment
	case SubjectRisk:
		return subj.Name == string(pc.RiskLevel)
	default:
		return true
	}
}

func deriveExplanation(winner Policy, traces []PolicyTrace) string {
	for _, t := range traces {
		if t.PolicyID != winner.PolicyID || !t.Matched {
			continue
		}
		switch winner.Effect.Decision {
		case DecisionDeny:
			return fmt.Sprintf("Blocked: matched policy %s", winner.PolicyID)
		case DecisionRequireApproval:
			return fmt.Sprintf("Requires approval: matched policy %s", winner.PolicyID)
		default:
			return fmt.Sprintf("Allowed: matched policy %s", winner.PolicyID)
		}
	}
	return "Decision derived from matched policy"
}
