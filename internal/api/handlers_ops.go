package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentgate/gatekeeper/internal/apperrors"
	"github.com/agentgate/gatekeeper/pkg/approval"
	"github.com/agentgate/gatekeeper/pkg/policy"
	"github.com/agentgate/gatekeeper/pkg/store"
)

type upsertPolicyRequest struct {
	TenantID    string                 `json:"tenant_id"`
	WorkspaceID string                 `json:"workspace_id"`
	Environment string                 `json:"environment"`
	SubjectType string                 `json:"subject_type"`
	SubjectName string                 `json:"subject_name"`
	Conditions  map[string]interface{} `json:"conditions"`
	Decision    string                 `json:"decision"`
	Explanation string                 `json:"explanation"`
	Precedence  int                    `json:"precedence"`
	Enabled     bool                   `json:"enabled"`
}

// upsertPolicy is PUT /ops/policies/{policy_id}.
func (h *handlers) upsertPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policy_id")
	var req upsertPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}

	p := policy.Policy{
		TenantID: req.TenantID,
		PolicyID: policyID,
		Scope: policy.Scope{
			TenantID:    req.TenantID,
			WorkspaceID: req.WorkspaceID,
			Environment: req.Environment,
		},
		Subject:     policy.Subject{Type: policy.SubjectType(req.SubjectType), Name: req.SubjectName},
		Conditions:  req.Conditions,
		Effect:      policy.Effect{Decision: policy.Decision(req.Decision)},
		Explanation: req.Explanation,
		Precedence:  req.Precedence,
		Enabled:     req.Enabled,
	}
	if err := h.deps.Store.UpsertPolicy(r.Context(), p); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to upsert policy"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policy": p})
}

// getPolicy is GET /ops/policies/{policy_id}.
func (h *handlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policy_id")
	tenantID := r.URL.Query().Get("tenant_id")
	p, found, err := h.deps.Store.GetPolicy(r.Context(), tenantID, policyID)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to fetch policy"))
		return
	}
	if !found {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeNotFound, "policy not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policy": p})
}

// listPolicies is GET /ops/policies.
func (h *handlers) listPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PolicyFilter{
		TenantID:    q.Get("tenant_id"),
		WorkspaceID: q.Get("workspace_id"),
		Environment: q.Get("environment"),
		EnabledOnly: q.Get("enabled_only") == "true",
	}
	policies, err := h.deps.Store.ListPolicies(r.Context(), filter)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to list policies"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

type setPolicyEnabledRequest struct {
	TenantID string `json:"tenant_id"`
	Enabled  bool   `json:"enabled"`
}

// setPolicyEnabled is POST /ops/policies/{policy_id}/enabled.
func (h *handlers) setPolicyEnabled(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policy_id")
	var req setPolicyEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}
	if err := h.deps.Store.SetPolicyEnabled(r.Context(), req.TenantID, policyID, req.Enabled); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to set policy enabled state"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// deletePolicy is DELETE /ops/policies/{policy_id}.
func (h *handlers) deletePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policy_id")
	tenantID := r.URL.Query().Get("tenant_id")
	if err := h.deps.Store.DeletePolicy(r.Context(), tenantID, policyID); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to delete policy"))
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// listDecisions is GET /ops/decisions.
func (h *handlers) listDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DecisionFilter{
		TenantID: q.Get("tenant_id"),
		Status:   store.DecisionStatus(q.Get("status")),
	}
	decisions, err := h.deps.Store.ListDecisions(r.Context(), filter)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to list decisions"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

type resolveDecisionRequest struct {
	Approve      bool                   `json:"approve"`
	Reason       string                 `json:"reason"`
	GrantedScope map[string]interface{} `json:"granted_scope"`
}

// resolveDecision is POST /ops/decisions/{decision_id}/resolve.
func (h *handlers) resolveDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "decision_id")
	var req resolveDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}
	record, err := h.deps.Approval.Resolve(r.Context(), decisionID, approval.Resolution{
		Approve:      req.Approve,
		Reason:       req.Reason,
		GrantedScope: req.GrantedScope,
	})
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeConflict, "failed to resolve decision"))
		return
	}
	if h.deps.Notify != nil {
		_ = h.deps.Notify.Resolved(r.Context(), record.TenantID, record.DecisionID, string(record.Status))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decision": record})
}

// listAuditEntries is GET /ops/audit/{tenant_id}.
func (h *handlers) listAuditEntries(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	entries, err := h.deps.Audit.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to list audit entries"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// listTraces is GET /ops/traces/{tenant_id}/{execution_id}.
func (h *handlers) listTraces(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	executionID := chi.URLParam(r, "execution_id")
	traces, err := h.deps.Store.ListTraces(r.Context(), tenantID, executionID)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to list traces"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"traces": traces})
}
