// Package store defines the persistence contract (C2) the governance core
// depends on, and the row types shared by its sqlstore/auditstore/cache
// backends.
package store

import (
	"context"
	"time"

	"github.com/agentgate/gatekeeper/pkg/policy"
)

// PolicyFilter narrows ListPolicies per spec §4.2's filtering semantics.
type PolicyFilter struct {
	TenantID    string
	WorkspaceID string
	Environment string
	EnabledOnly bool
}

// AdapterRecord is the persisted Adapter entity of spec §3.
type AdapterRecord struct {
	TenantID     string
	AdapterID    string
	DisplayName  string
	RiskClass    string
	Capabilities []string
	Version      string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DecisionStatus is the Execution decision record's status, per spec §3.
type DecisionStatus string

const (
	DecisionStatusPending  DecisionStatus = "pending"
	DecisionStatusApproved DecisionStatus = "approved"
	DecisionStatusDenied   DecisionStatus = "denied"
	DecisionStatusExpired  DecisionStatus = "expired"
)

// DecisionRecord is the Execution decision record entity of spec §3.
type DecisionRecord struct {
	DecisionID          string
	TenantID            string
	WorkspaceID         string
	ExecutionID          string
	AdapterID           string
	Status              DecisionStatus
	RequiredRole        string
	ExpiresAt           *time.Time
	RequestSnapshot     map[string]interface{}
	GrantedScope        map[string]interface{}
	Resolution          map[string]interface{}
	DecisionToken       string
	DecisionTokenJTI    string
	DecisionTokenUsedAt *time.Time
	Fingerprint         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ToolAuthorizationRecord is the Tool authorization entity of spec §3.
type ToolAuthorizationRecord struct {
	ExecutionID string
	Tool        string
	Sequence    int
	Decision    string
	PolicyID    string
	CreatedAt   time.Time
}

// TraceRecord is the persisted Trace entity of spec §3/§6: an adapter's
// hash-linked step sequence plus the integrity status IngestTrace computed
// over it.
type TraceRecord struct {
	TraceID     string
	TenantID    string
	ExecutionID string
	Integrity   string
	Steps       []map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DecisionFilter narrows ListDecisions for the operator surface's pending
// and resolved listings.
type DecisionFilter struct {
	TenantID string
	Status   DecisionStatus
}

// Store is the full persistence contract of spec §4.2, composed from the
// sqlstore, auditstore, and cache backends by the concrete wiring in
// cmd/gatekeeper.
type Store interface {
	UpsertPolicy(ctx context.Context, p policy.Policy) error
	GetPolicy(ctx context.Context, tenantID, policyID string) (policy.Policy, bool, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]policy.Policy, error)
	SetPolicyEnabled(ctx context.Context, tenantID, policyID string, enabled bool) error
	DeletePolicy(ctx context.Context, tenantID, policyID string) error

	UpsertAdapter(ctx context.Context, a AdapterRecord) error
	GetAdapter(ctx context.Context, tenantID, adapterID string) (AdapterRecord, bool, error)

	CreateDecision(ctx context.Context, d DecisionRecord) error
	GetDecision(ctx context.Context, decisionID string) (DecisionRecord, bool, error)
	GetLatestDecisionForExecution(ctx context.Context, tenantID, executionID string) (DecisionRecord, bool, error)
	GetDecisionByFingerprint(ctx context.Context, tenantID, fingerprint string, newerThan time.Time) (DecisionRecord, bool, error)
	TransitionDecisionStatus(ctx context.Context, decisionID string, from, to DecisionStatus) (bool, error)
	SetDecisionToken(ctx context.Context, decisionID, token, jti string) error
	MarkDecisionTokenUsed(ctx context.Context, decisionID, jti string) (bool, error)

	InsertToolAuthorization(ctx context.Context, a ToolAuthorizationRecord) error

	GetRemainingBudget(ctx context.Context, tenantID string) (remaining float64, configured bool, err error)

	ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error)

	InsertTrace(ctx context.Context, t TraceRecord) error
	ListTraces(ctx context.Context, tenantID, executionID string) ([]TraceRecord, error)
}

// PolicyLister is the narrow read-only surface the policy evaluator needs.
// It is not part of Store; sqlstore.SQLStore satisfies it via
// ListEnabledPolicies, which calls ListPolicies with EnabledOnly: true.
type PolicyLister interface {
	ListEnabledPolicies(ctx context.Context, tenantID, workspaceID, environment string) ([]policy.Policy, error)
}
