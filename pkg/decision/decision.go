// Package decision implements the decision engine (C7): it fuses RBAC,
// risk scoring, budget enforcement, and policy evaluation into a single
// execution-request verdict, per spec §4.7's nine-step contract.
package decision

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentgate/gatekeeper/pkg/budget"
	"github.com/agentgate/gatekeeper/pkg/policy"
	"github.com/agentgate/gatekeeper/pkg/rbac"
	"github.com/agentgate/gatekeeper/pkg/risk"
)

// ApprovalMode gates whether a policy/risk require_approval verdict blocks
// the caller or is auto-allowed, per spec §4.7 step 6.
type ApprovalMode string

const (
	ModeEnforce  ApprovalMode = "enforce"
	ModeSimulate ApprovalMode = "simulate"
)

// DefaultMaxSteps bounds granted_scope.max_steps absent a tighter request
// or policy cap, per spec §4.7 step 9.
const DefaultMaxSteps = 100

// DefaultTokenTTL is the lifetime of a granted scope, per spec §4.7 step 9.
const DefaultTokenTTL = 15 * time.Minute

// Override carries an operator-supplied reason to bypass a deny/require_approval
// fork, per spec §4.7 step 8.
type Override struct {
	Present     bool
	ReasonCode  string
	Justification string
}

// Request is everything the engine needs for one execution-request
// decision, composed from the adapter's HTTP payload.
type Request struct {
	TenantID              string
	WorkspaceID           string
	Environment           string
	AdapterID             string
	AdapterName           string
	ExecutionID           string
	Tool                  string
	ToolGroup             string
	SkillState            string
	Intent                string
	RequestedCapabilities []string
	EstimatedCost         float64
	RequestedMaxSteps     int
	Context               map[string]interface{}
	TemplateVars          map[string]string
	Provenance            string
	RiskInputs            risk.Inputs
	Override              Override
	ApprovalMode          ApprovalMode
}

// GrantedScope is the capability/cost/step envelope handed to an allowed
// request, per spec §4.7 step 9.
type GrantedScope struct {
	Capabilities []string
	MaxSteps     int
	MaxCost      float64
	ExpiresAt    time.Time
}

// Result is the engine's full verdict, carrying every field spec §4.7
// requires on every outcome.
type Result struct {
	Allowed           bool
	Decision          policy.Decision
	RequiresApproval  bool
	BlockedReason     string
	MatchedPolicies   []string
	DecisionTrace     []policy.PolicyTrace
	Explanation       string
	ApprovalMode      ApprovalMode
	AutoAllowedInCore bool
	PolicyFallbackHit bool
	OpsOverrideUsed   bool
	RiskResult        risk.Result
	BudgetCheck       budget.Check
	GrantedScope      *GrantedScope
}

// PolicyEvaluator is satisfied by both policy.Evaluator (the C3
// operator-aware path) and policy.LegacyEvaluator (the pre-C3,
// scalar-equality-only path), letting the policy_operators_enabled
// config flag select between them without the Engine knowing which one
// it holds (spec §9).
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, pc policy.PolicyContext) (policy.EvaluationResult, error)
}

// Engine wires RBAC, risk, budget, and policy evaluation together. The
// evaluator is held behind an atomic pointer so policy_operators_enabled
// can flip between the C3 and legacy evaluation paths on config reload
// without a lock in the request path.
type Engine struct {
	RBAC      *rbac.Checker
	Budget    *budget.Manager
	evaluator atomic.Pointer[PolicyEvaluator]
}

func NewEngine(rbacChecker *rbac.Checker, budgetMgr *budget.Manager, evaluator PolicyEvaluator) *Engine {
	e := &Engine{RBAC: rbacChecker, Budget: budgetMgr}
	e.SetEvaluator(evaluator)
	return e
}

// SetEvaluator swaps the active policy evaluator, e.g. when the
// policy_operators_enabled hot-reload flag changes.
func (e *Engine) SetEvaluator(evaluator PolicyEvaluator) {
	e.evaluator.Store(&evaluator)
}

// Decide runs the nine-step contract of spec §4.7.
func (e *Engine) Decide(ctx context.Context, req Request) (Result, error) {
	// Step 1: RBAC.
	rbacAllowed, err := e.RBAC.Allowed(ctx, req.TenantID, req.AdapterID, req.RequestedCapabilities)
	if err != nil {
		return Result{}, fmt.Errorf("decision.Decide: rbac check: %w", err)
	}
	if !rbacAllowed {
		return Result{Allowed: false, Decision: policy.DecisionDeny, BlockedReason: "rbac_denied", ApprovalMode: req.ApprovalMode}, nil
	}

	// Step 2: risk + budget, fanned out concurrently — both are fast,
	// non-blocking calls, never a suspension point (spec §5).
	var riskResult risk.Result
	var budgetCheck budget.Check
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		riskResult = risk.Score(req.RiskInputs)
		return nil
	})
	g.Go(func() error {
		check, err := e.Budget.CheckBudget(gctx, req.TenantID, req.EstimatedCost)
		if err != nil {
			return err
		}
		budgetCheck = check
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("decision.Decide: risk/budget fan-out: %w", err)
	}

	// Step 3: policy evaluation, with risk level folded into the context.
	policyResult, err := (*e.evaluator.Load()).Evaluate(ctx, policy.PolicyContext{
		TenantID:              req.TenantID,
		WorkspaceID:           req.WorkspaceID,
		Environment:           req.Environment,
		AdapterID:             req.AdapterID,
		AdapterName:           req.AdapterName,
		Tool:                  req.Tool,
		ToolGroup:             req.ToolGroup,
		SkillState:            req.SkillState,
		RiskLevel:             policy.RiskLevel(riskResult.Level),
		EstimatedCost:         req.EstimatedCost,
		RequestedCapabilities: req.RequestedCapabilities,
		Intent:                req.Intent,
		Context:               req.Context,
		Provenance:            req.Provenance,
		TemplateVars:          req.TemplateVars,
	})
	if err != nil {
		return Result{}, fmt.Errorf("decision.Decide: policy evaluation: %w", err)
	}

	base := Result{
		MatchedPolicies:   policyResult.MatchedPolicies,
		DecisionTrace:     policyResult.DecisionTrace,
		Explanation:       policyResult.Explanation,
		ApprovalMode:      req.ApprovalMode,
		PolicyFallbackHit: policyResult.PolicyFallbackHit,
		RiskResult:        riskResult,
		BudgetCheck:       budgetCheck,
	}

	override := req.Override.Present

	// Step 4: budget denial.
	if !budgetCheck.Allowed && !override {
		base.Allowed = false
		base.Decision = policy.DecisionDeny
		base.BlockedReason = budgetCheck.Reason
		return base, nil
	}

	// Step 5: policy deny.
	if policyResult.Decision == policy.DecisionDeny && !override {
		base.Allowed = false
		base.Decision = policy.DecisionDeny
		base.BlockedReason = "policy_denied"
		return base, nil
	}

	// Step 6: policy-triggered approval fork.
	if policyResult.Decision == policy.DecisionRequireApproval && !override {
		return e.approvalFork(base, req, budgetCheck)
	}

	// Step 7: risk-triggered approval fork.
	if (riskResult.Level == risk.LevelHigh || riskResult.Level == risk.LevelCritical) && !override {
		base.Decision = policy.DecisionRequireApproval
		if base.Explanation == "" || base.Explanation == "No matching policy" {
			base.Explanation = fmt.Sprintf("Risk level %s requires approval", riskResult.Level)
		}
		return e.approvalFork(base, req, budgetCheck)
	}

	// Step 8: override bypasses any of the above forks.
	if override {
		base.OpsOverrideUsed = true
	}

	// Step 9: allow, building granted_scope.
	base.Allowed = true
	base.Decision = policy.DecisionAllow
	base.GrantedScope = buildGrantedScope(req, budgetCheck)
	return base, nil
}

// approvalFork implements spec §4.7 step 6/7's mode switch: enforce blocks
// on the caller (C8 materializes a pending decision record); simulate
// auto-allows, is tagged for audit and explanation, and still gets a
// granted_scope so an auto-allowed adapter has a step/cost/expiry envelope
// to run under.
func (e *Engine) approvalFork(base Result, req Request, budgetCheck budget.Check) (Result, error) {
	base.Decision = policy.DecisionRequireApproval
	if req.ApprovalMode == ModeSimulate {
		base.Allowed = true
		base.AutoAllowedInCore = true
		base.Explanation = "Auto-allowed in core (simulate mode): " + base.Explanation
		base.GrantedScope = buildGrantedScope(req, budgetCheck)
		return base, nil
	}
	base.Allowed = false
	base.RequiresApproval = true
	return base, nil
}

// buildGrantedScope implements spec §4.7 step 9: capabilities pass through
// verbatim, max_steps is the tighter of the request and the default cap,
// max_cost is the tighter of the request and residual budget, and the
// grant expires after DefaultTokenTTL.
func buildGrantedScope(req Request, budgetCheck budget.Check) *GrantedScope {
	maxSteps := DefaultMaxSteps
	if req.RequestedMaxSteps > 0 && req.RequestedMaxSteps < maxSteps {
		maxSteps = req.RequestedMaxSteps
	}

	maxCost := req.EstimatedCost
	if !math.IsInf(budgetCheck.Remaining, 1) && budgetCheck.Remaining < maxCost {
		maxCost = budgetCheck.Remaining
	}
	if maxCost < 0 {
		maxCost = 0
	}

	return &GrantedScope{
		Capabilities: req.RequestedCapabilities,
		MaxSteps:     maxSteps,
		MaxCost:      maxCost,
		ExpiresAt:    time.Now().Add(DefaultTokenTTL),
	}
}
