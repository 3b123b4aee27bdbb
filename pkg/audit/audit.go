// Package audit implements the self-attested, hash-linked audit chain (C9):
// append-only entries hashed over stable JSON with prev-hash linkage, and
// integrity verification that walks a tenant's chain.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentgate/gatekeeper/pkg/stablejson"
)

// EventType is the closed taxonomy of spec §4.9, represented as a Go string
// enum with room for forward-compatible versioning.
type EventType string

const (
	EventToolAuthorizationRequested EventType = "tool_authorization_requested"
	EventToolAuthorizationGranted   EventType = "tool_authorization_granted"
	EventToolAuthorizationDenied    EventType = "tool_authorization_denied"
	EventPolicyDecisionPending      EventType = "policy_decision_pending"
	EventPolicyDecisionResolved     EventType = "policy_decision_resolved"
	EventApprovalAutoAllowedInCore  EventType = "approval_auto_allowed_in_core"
	EventApprovalPendingReused      EventType = "approval_pending_reused"
	EventAdapterTraceIngested       EventType = "adapter_trace_ingested"
	EventAdapterAuditEvent          EventType = "adapter_audit_event"
	EventOpsOverrideUsed            EventType = "ops_override_used"
	EventPolicyCreatedViaWizard     EventType = "policy_created_via_wizard"
)

// EntryVersion is stamped on every entry so the closed event-type set can
// still evolve without breaking older consumers of the chain.
const EntryVersion = 1

// Entry is a single audit-chain write request, before chain fields are
// computed.
type Entry struct {
	TenantID    string
	WorkspaceID string
	ExecutionID string
	TraceID     string
	UserID      string
	EventType   EventType
	EventData   map[string]interface{}
	CreatedAt   time.Time
}

// AppendedEntry is an Entry after chain-field computation and persistence.
type AppendedEntry struct {
	Entry
	Version       int
	Seq           int64
	PrevEventHash string
	EventHash     string
}

// MarshalJSON renders PrevEventHash as JSON null on the chain's first entry
// (spec §3), while the in-memory string stays "" so hashing and comparisons
// (computeEventHash, VerifyChain) don't need a nil-aware special case.
func (a AppendedEntry) MarshalJSON() ([]byte, error) {
	type alias AppendedEntry
	out := struct {
		alias
		PrevEventHash *string `json:"PrevEventHash"`
	}{alias: alias(a)}
	if a.PrevEventHash != "" {
		out.PrevEventHash = &a.PrevEventHash
	}
	return json.Marshal(out)
}

// coreFields is exactly the set of fields hashed per spec §3:
// sha256(stableJson({tenant_id, seq, prev_event_hash, event_type, event_data, created_at})).
type coreFields struct {
	TenantID      string                 `json:"tenant_id"`
	Seq           int64                  `json:"seq"`
	PrevEventHash string                 `json:"prev_event_hash"`
	EventType     EventType              `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ChainStore is the subset of pkg/store/auditstore the Chain depends on:
// allocate the next seq and prior hash for a tenant, then persist the new
// entry, all inside one serialized critical section (a DB transaction
// under a per-tenant advisory lock in the concrete implementation).
type ChainStore interface {
	AppendLocked(ctx context.Context, tenantID string, build func(prevHash string, seq int64) (AppendedEntry, error)) (AppendedEntry, error)
	ChainEntries(ctx context.Context, tenantID string) ([]AppendedEntry, error)
}

// Chain implements Append and VerifyChain per spec §4.9.
type Chain struct {
	Store ChainStore
}

func NewChain(store ChainStore) *Chain {
	return &Chain{Store: store}
}

// Append computes event_hash/prev_event_hash/seq for e and persists it atomically.
func (c *Chain) Append(ctx context.Context, e Entry) (AppendedEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return c.Store.AppendLocked(ctx, e.TenantID, func(prevHash string, seq int64) (AppendedEntry, error) {
		hash, err := computeEventHash(e.TenantID, seq, prevHash, e.EventType, e.EventData, e.CreatedAt)
		if err != nil {
			return AppendedEntry{}, fmt.Errorf("audit.Append: compute hash: %w", err)
		}
		return AppendedEntry{
			Entry:         e,
			Version:       EntryVersion,
			Seq:           seq,
			PrevEventHash: prevHash,
			EventHash:     hash,
		}, nil
	})
}

func computeEventHash(tenantID string, seq int64, prevHash string, eventType EventType, eventData map[string]interface{}, createdAt time.Time) (string, error) {
	return stablejson.Hash(coreFields{
		TenantID:      tenantID,
		Seq:           seq,
		PrevEventHash: prevHash,
		EventType:     eventType,
		EventData:     eventData,
		CreatedAt:     createdAt,
	})
}

// List returns tenantID's chain in seq order for the operator audit surface.
func (c *Chain) List(ctx context.Context, tenantID string) ([]AppendedEntry, error) {
	return c.Store.ChainEntries(ctx, tenantID)
}

// VerificationResult is the outcome of VerifyChain.
type VerificationResult struct {
	Verified   bool
	BrokenAtSeq int64
}

// VerifyChain walks tenantID's chain in seq order and confirms every entry's
// prev_event_hash matches its predecessor's event_hash and its own
// event_hash recomputes correctly, per spec §4.9/§8 invariant 4.
func (c *Chain) VerifyChain(ctx context.Context, tenantID string) (VerificationResult, error) {
	entries, err := c.Store.ChainEntries(ctx, tenantID)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("audit.VerifyChain: %w", err)
	}

	var prevHash string
	for _, entry := range entries {
		if entry.Seq > 1 && entry.PrevEventHash != prevHash {
			return VerificationResult{Verified: false, BrokenAtSeq: entry.Seq}, nil
		}
		recomputed, err := computeEventHash(entry.TenantID, entry.Seq, entry.PrevEventHash, entry.EventType, entry.EventData, entry.CreatedAt)
		if err != nil {
			return VerificationResult{}, fmt.Errorf("audit.VerifyChain: recompute seq %d: %w", entry.Seq, err)
		}
		if recomputed != entry.EventHash {
			return VerificationResult{Verified: false, BrokenAtSeq: entry.Seq}, nil
		}
		prevHash = entry.EventHash
	}
	return VerificationResult{Verified: true}, nil
}
