// Package policy implements the scoped rule-matching evaluator (C4):
// policy model, condition-trace evaluation, precedence/specificity/severity
// ordering, and fallback-allow attestation.
package policy

import "time"

// Decision is the effect a policy (or the overall evaluator) produces.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
)

// severityRank orders decisions from least to most restrictive for the
// "decision severity" tiebreaker in spec §4.4 step 4 (deny > require_approval > allow).
var severityRank = map[Decision]int{
	DecisionDeny:            2,
	DecisionRequireApproval: 1,
	DecisionAllow:           0,
}

// SubjectType enumerates what a policy's subject selector names.
type SubjectType string

const (
	SubjectTool        SubjectType = "tool"
	SubjectAdapter     SubjectType = "adapter"
	SubjectSkill       SubjectType = "skill"
	SubjectEnvironment SubjectType = "environment"
	SubjectRisk        SubjectType = "risk"
	SubjectCost        SubjectType = "cost"
)

// Scope is the tenant/workspace/environment selector a policy applies to.
type Scope struct {
	TenantID      string
	WorkspaceID   string
	Environment   string
}

// Subject narrows a policy to a particular kind of thing, optionally by name.
type Subject struct {
	Type SubjectType
	Name string
}

// Effect is the terminal outcome a policy produces when it matches.
type Effect struct {
	Decision Decision
}

// WizardMeta is a provenance receipt attached by the setup wizard. Per
// spec §9 it affects audit display only and is never consulted during
// evaluation.
type WizardMeta struct {
	CreatedBy string
	CreatedAt time.Time
	Source    string
}

// Policy is the persisted rule entity of spec §3. Conditions is kept as the
// raw decoded map so it round-trips byte-for-byte through storage; parsing
// into conditions.Condition happens on demand in the evaluator.
type Policy struct {
	TenantID    string
	PolicyID    string
	Scope       Scope
	Subject     Subject
	Conditions  map[string]interface{}
	Effect      Effect
	Explanation string
	Precedence  int
	Enabled     bool
	WizardMeta  *WizardMeta
	IsFallback  bool
	UpdatedAt   time.Time
}

// specificity ranks a policy's scope narrowness, per spec §4.4 step 4:
// workspace_id+environment > environment > other.
func (p Policy) specificity() int {
	switch {
	case p.Scope.WorkspaceID != "" && p.Scope.Environment != "":
		return 2
	case p.Scope.Environment != "":
		return 1
	default:
		return 0
	}
}
