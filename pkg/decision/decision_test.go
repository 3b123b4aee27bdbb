package decision

import (
	"context"
	"testing"

	"github.com/agentgate/gatekeeper/pkg/budget"
	"github.com/agentgate/gatekeeper/pkg/policy"
	"github.com/agentgate/gatekeeper/pkg/rbac"
	"github.com/agentgate/gatekeeper/pkg/risk"
)

type fakeRoles struct {
	caps map[string]bool
}

func (f fakeRoles) GetAdapterRole(ctx context.Context, tenantID, adapterID string) (rbac.Role, error) {
	return rbac.Role{Name: "default", Capabilities: f.caps}, nil
}

type fakeBudgetStore struct {
	remaining float64
	configured bool
}

func (f fakeBudgetStore) GetRemainingBudget(ctx context.Context, tenantID string) (float64, bool, error) {
	return f.remaining, f.configured, nil
}

type fakeLister struct {
	policies []policy.Policy
}

func (f fakeLister) ListEnabledPolicies(ctx context.Context, tenantID, workspaceID, environment string) ([]policy.Policy, error) {
	return f.policies, nil
}

func newEngine(caps map[string]bool, remaining float64, configured bool, policies []policy.Policy) *Engine {
	return NewEngine(
		rbac.NewChecker(fakeRoles{caps: caps}),
		budget.NewManager(fakeBudgetStore{remaining: remaining, configured: configured}),
		policy.NewEvaluator(fakeLister{policies: policies}),
	)
}

func baseRequest() Request {
	return Request{
		TenantID:    "t1",
		WorkspaceID: "ws1",
		AdapterID:   "adapter-1",
		AdapterName: "adapter-1",
		Tool:        "read_file",
		ExecutionID: "exec-1",
		ApprovalMode: ModeEnforce,
		RiskInputs:  risk.Inputs{ToolCount: 1, SkillState: risk.SkillStable, SkillPinned: true},
	}
}

func TestDecide_RBACDeniedShortCircuits(t *testing.T) {
	e := newEngine(map[string]bool{}, 0, false, nil)
	req := baseRequest()
	req.RequestedCapabilities = []string{"shell_exec"}

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if result.Allowed || result.BlockedReason != "rbac_denied" {
		t.Errorf("Decide() = %+v, want deny with rbac_denied", result)
	}
}

func TestDecide_BudgetExceededDenies(t *testing.T) {
	e := newEngine(nil, 5, true, nil)
	req := baseRequest()
	req.EstimatedCost = 10

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if result.Allowed || result.BlockedReason != "budget_exceeded" {
		t.Errorf("Decide() = %+v, want deny with budget_exceeded", result)
	}
}

func TestDecide_PolicyDenyBlocks(t *testing.T) {
	policies := []policy.Policy{
		{
			TenantID: "t1", PolicyID: "deny-1", Precedence: 10,
			Scope:  policy.Scope{},
			Effect: policy.Effect{Decision: policy.DecisionDeny}, Enabled: true,
		},
	}
	e := newEngine(nil, 0, false, policies)
	req := baseRequest()

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if result.Allowed || result.BlockedReason != "policy_denied" {
		t.Errorf("Decide() = %+v, want deny with policy_denied", result)
	}
}

func TestDecide_RequireApprovalEnforceBlocksCaller(t *testing.T) {
	policies := []policy.Policy{
		{TenantID: "t1", PolicyID: "approve-1", Precedence: 10, Effect: policy.Effect{Decision: policy.DecisionRequireApproval}, Enabled: true},
	}
	e := newEngine(nil, 0, false, policies)
	req := baseRequest()
	req.ApprovalMode = ModeEnforce

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if result.Allowed || !result.RequiresApproval || result.Decision != policy.DecisionRequireApproval {
		t.Errorf("Decide() = %+v, want requires_approval under enforce", result)
	}
}

func TestDecide_RequireApprovalSimulateAutoAllows(t *testing.T) {
	policies := []policy.Policy{
		{TenantID: "t1", PolicyID: "approve-1", Precedence: 10, Effect: policy.Effect{Decision: policy.DecisionRequireApproval}, Enabled: true},
	}
	e := newEngine(nil, 0, false, policies)
	req := baseRequest()
	req.ApprovalMode = ModeSimulate

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !result.Allowed || !result.AutoAllowedInCore {
		t.Errorf("Decide() = %+v, want auto-allowed in simulate mode", result)
	}
}

func TestDecide_HighRiskTriggersApprovalFork(t *testing.T) {
	e := newEngine(nil, 0, false, nil)
	req := baseRequest()
	req.ApprovalMode = ModeEnforce
	req.RiskInputs = risk.Inputs{
		ToolCount: 5, SkillState: risk.SkillDeprecated, AdapterRiskClass: risk.AdapterRiskHigh,
		RequestedCapabilities: []string{"shell_exec", "credential_read"},
	}

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if result.Allowed || !result.RequiresApproval {
		t.Errorf("Decide() = %+v, want requires_approval on high risk", result)
	}
}

func TestDecide_OverridePresentBypassesPolicyDeny(t *testing.T) {
	policies := []policy.Policy{
		{TenantID: "t1", PolicyID: "deny-1", Precedence: 10, Effect: policy.Effect{Decision: policy.DecisionDeny}, Enabled: true},
	}
	e := newEngine(nil, 0, false, policies)
	req := baseRequest()
	req.Override = Override{Present: true, ReasonCode: "ops_break_glass", Justification: "incident response"}

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !result.Allowed || !result.OpsOverrideUsed {
		t.Errorf("Decide() = %+v, want allow with ops_override_used", result)
	}
}

func TestDecide_AllowBuildsGrantedScope(t *testing.T) {
	e := newEngine(nil, 100, true, nil)
	req := baseRequest()
	req.RequestedCapabilities = []string{"read_file"}
	req.EstimatedCost = 20
	req.RequestedMaxSteps = 5

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !result.Allowed || result.GrantedScope == nil {
		t.Fatalf("Decide() = %+v, want allow with granted scope", result)
	}
	if result.GrantedScope.MaxSteps != 5 {
		t.Errorf("MaxSteps = %d, want 5 (tighter of request and default)", result.GrantedScope.MaxSteps)
	}
	if result.GrantedScope.MaxCost != 20 {
		t.Errorf("MaxCost = %v, want 20", result.GrantedScope.MaxCost)
	}
}

func TestDecide_GrantedScopeCapsCostToResidualBudget(t *testing.T) {
	e := newEngine(nil, 3, true, nil)
	req := baseRequest()
	req.EstimatedCost = 3

	result, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !result.Allowed || result.GrantedScope == nil {
		t.Fatalf("Decide() = %+v, want allow", result)
	}
	if result.GrantedScope.MaxCost != 3 {
		t.Errorf("MaxCost = %v, want 3 (capped to residual budget)", result.GrantedScope.MaxCost)
	}
}
