// Package approval implements the approval lifecycle (C8): materializing a
// pending decision record when the engine returns require_approval under
// enforce mode, minting the decision token on resolution, adapter-side
// polling, fingerprint-based request-reuse, and cancellation/expiry.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/gatekeeper/pkg/audit"
	"github.com/agentgate/gatekeeper/pkg/decision"
	"github.com/agentgate/gatekeeper/pkg/store"
	"github.com/agentgate/gatekeeper/pkg/tokens"
)

// DefaultReuseWindow is the fingerprint-reuse window of spec §4.8.
const DefaultReuseWindow = 10 * time.Minute

// DefaultPollInterval and DefaultWaitTimeout bound pollDecision's caller
// contract, per spec §4.8/§6's config surface.
const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultWaitTimeout  = 5 * time.Minute
)

// Store is the subset of pkg/store the approval lifecycle depends on.
type Store interface {
	CreateDecision(ctx context.Context, d store.DecisionRecord) error
	GetDecision(ctx context.Context, decisionID string) (store.DecisionRecord, bool, error)
	GetLatestDecisionForExecution(ctx context.Context, tenantID, executionID string) (store.DecisionRecord, bool, error)
	GetDecisionByFingerprint(ctx context.Context, tenantID, fingerprint string, newerThan time.Time) (store.DecisionRecord, bool, error)
	TransitionDecisionStatus(ctx context.Context, decisionID string, from, to store.DecisionStatus) (bool, error)
	SetDecisionToken(ctx context.Context, decisionID, token, jti string) error
	MarkDecisionTokenUsed(ctx context.Context, decisionID, jti string) (bool, error)
}

// Lifecycle wires a decision store, the audit chain, and the token signer
// into the behaviors spec §4.8 describes.
type Lifecycle struct {
	Store       Store
	Audit       *audit.Chain
	Tokens      *tokens.Signer
	ReuseWindow time.Duration
}

func NewLifecycle(store Store, auditChain *audit.Chain, signer *tokens.Signer) *Lifecycle {
	return &Lifecycle{Store: store, Audit: auditChain, Tokens: signer, ReuseWindow: DefaultReuseWindow}
}

// CreatePendingInput is everything needed to materialize a pending decision
// record for a require_approval-under-enforce verdict.
type CreatePendingInput struct {
	TenantID    string
	WorkspaceID string
	ExecutionID string
	AdapterID   string
	Fingerprint string
	Snapshot    map[string]interface{}
	Result      decision.Result
}

// CreatePending materializes a pending decision record, reusing an existing
// pending record with a matching fingerprint inside the reuse window
// instead of creating a duplicate, per spec §4.8's fingerprint-reuse rule.
func (l *Lifecycle) CreatePending(ctx context.Context, in CreatePendingInput) (store.DecisionRecord, error) {
	if in.Fingerprint != "" {
		cutoff := time.Now().Add(-l.ReuseWindow)
		existing, found, err := l.Store.GetDecisionByFingerprint(ctx, in.TenantID, in.Fingerprint, cutoff)
		if err != nil {
			return store.DecisionRecord{}, fmt.Errorf("approval.CreatePending: fingerprint lookup: %w", err)
		}
		if found {
			if _, err := l.Audit.Append(ctx, audit.Entry{
				TenantID:    in.TenantID,
				WorkspaceID: in.WorkspaceID,
				ExecutionID: existing.ExecutionID,
				EventType:   audit.EventApprovalPendingReused,
				EventData:   map[string]interface{}{"fingerprint": in.Fingerprint, "decision_id": existing.DecisionID},
			}); err != nil {
				return store.DecisionRecord{}, fmt.Errorf("approval.CreatePending: audit reuse: %w", err)
			}
			return existing, nil
		}
	}

	expiresAt := time.Now().Add(DefaultWaitTimeout)
	record := store.DecisionRecord{
		DecisionID:      uuid.NewString(),
		TenantID:        in.TenantID,
		WorkspaceID:     in.WorkspaceID,
		ExecutionID:     in.ExecutionID,
		AdapterID:       in.AdapterID,
		Status:          store.DecisionStatusPending,
		RequestSnapshot: in.Snapshot,
		Fingerprint:     in.Fingerprint,
		ExpiresAt:       &expiresAt,
	}
	if err := l.Store.CreateDecision(ctx, record); err != nil {
		return store.DecisionRecord{}, fmt.Errorf("approval.CreatePending: %w", err)
	}

	if _, err := l.Audit.Append(ctx, audit.Entry{
		TenantID:    in.TenantID,
		WorkspaceID: in.WorkspaceID,
		ExecutionID: in.ExecutionID,
		EventType:   audit.EventPolicyDecisionPending,
		EventData:   map[string]interface{}{"decision_id": record.DecisionID, "explanation": in.Result.Explanation},
	}); err != nil {
		return store.DecisionRecord{}, fmt.Errorf("approval.CreatePending: audit pending: %w", err)
	}
	return record, nil
}

// Resolution is an operator's verdict on a pending decision.
type Resolution struct {
	Approve       bool
	Reason        string
	GrantedScope  map[string]interface{}
}

// Resolve atomically transitions a pending decision to approved or denied,
// mints a decision token on approval, and appends the resolution audit
// entry, per spec §4.8.
func (l *Lifecycle) Resolve(ctx context.Context, decisionID string, res Resolution) (store.DecisionRecord, error) {
	record, found, err := l.Store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: %w", err)
	}
	if !found {
		return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: decision %s not found", decisionID)
	}

	to := store.DecisionStatusDenied
	if res.Approve {
		to = store.DecisionStatusApproved
	}
	ok, err := l.Store.TransitionDecisionStatus(ctx, decisionID, store.DecisionStatusPending, to)
	if err != nil {
		return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: transition: %w", err)
	}
	if !ok {
		return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: decision %s is not pending", decisionID)
	}
	record.Status = to

	if res.Approve {
		token, jti, err := l.Tokens.MintDecisionToken(ctx, record.TenantID, record.WorkspaceID, record.AdapterID, record.ExecutionID, record.DecisionID, record.DecisionID)
		if err != nil {
			return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: mint token: %w", err)
		}
		if err := l.Store.SetDecisionToken(ctx, decisionID, token, jti); err != nil {
			return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: persist token: %w", err)
		}
		record.DecisionToken = token
		record.DecisionTokenJTI = jti
	}

	if _, err := l.Audit.Append(ctx, audit.Entry{
		TenantID:    record.TenantID,
		WorkspaceID: record.WorkspaceID,
		ExecutionID: record.ExecutionID,
		EventType:   audit.EventPolicyDecisionResolved,
		EventData:   map[string]interface{}{"decision_id": decisionID, "status": string(to), "reason": res.Reason},
	}); err != nil {
		return store.DecisionRecord{}, fmt.Errorf("approval.Resolve: audit: %w", err)
	}
	return record, nil
}

// Cancel models either side's cancellation as a denial with reason
// "cancelled". The reason is recorded only in the policy_decision_resolved
// audit entry; the decision record's Resolution field is not written.
func (l *Lifecycle) Cancel(ctx context.Context, decisionID string) (store.DecisionRecord, error) {
	return l.Resolve(ctx, decisionID, Resolution{Approve: false, Reason: "cancelled"})
}

// PollResult is pollDecision's response contract, per spec §4.8.
type PollResult struct {
	Status        store.DecisionStatus
	DecisionToken string
	Resolution    map[string]interface{}
	TimedOut      bool
}

// PollDecision returns the current status of an execution's latest
// decision, lazily transitioning an overdue pending record to expired, per
// spec §5's "lazily transitioned on next read" rule. It never blocks; the
// adapter-side wait loop is the caller's responsibility (spec §4.8).
func (l *Lifecycle) PollDecision(ctx context.Context, tenantID, executionID string) (PollResult, error) {
	record, found, err := l.Store.GetLatestDecisionForExecution(ctx, tenantID, executionID)
	if err != nil {
		return PollResult{}, fmt.Errorf("approval.PollDecision: %w", err)
	}
	if !found {
		return PollResult{}, fmt.Errorf("approval.PollDecision: no decision for execution %s", executionID)
	}

	if record.Status == store.DecisionStatusPending && record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt) {
		if ok, err := l.Store.TransitionDecisionStatus(ctx, record.DecisionID, store.DecisionStatusPending, store.DecisionStatusExpired); err != nil {
			return PollResult{}, fmt.Errorf("approval.PollDecision: expire: %w", err)
		} else if ok {
			record.Status = store.DecisionStatusExpired
		}
	}

	return PollResult{
		Status:        record.Status,
		DecisionToken: record.DecisionToken,
		Resolution:    record.Resolution,
		TimedOut:      record.Status == store.DecisionStatusExpired,
	}, nil
}

// ConsumeToken validates and single-use-consumes a decision token, per
// spec §4.8's markDecisionTokenUsed compare-and-swap: the first call
// succeeds, every subsequent call for the same jti fails.
func (l *Lifecycle) ConsumeToken(ctx context.Context, decisionID, raw string) (tokens.DecisionTokenClaims, error) {
	claims, err := l.Tokens.VerifyDecisionToken(ctx, raw)
	if err != nil {
		return tokens.DecisionTokenClaims{}, err
	}
	if claims.DecisionID != decisionID {
		return tokens.DecisionTokenClaims{}, fmt.Errorf("approval.ConsumeToken: token decision_id mismatch")
	}
	used, err := l.Store.MarkDecisionTokenUsed(ctx, decisionID, claims.JTI)
	if err != nil {
		return tokens.DecisionTokenClaims{}, fmt.Errorf("approval.ConsumeToken: %w", err)
	}
	if !used {
		return tokens.DecisionTokenClaims{}, fmt.Errorf("approval.ConsumeToken: token already consumed")
	}
	return claims, nil
}
