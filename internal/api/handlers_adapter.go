package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentgate/gatekeeper/internal/apperrors"
	"github.com/agentgate/gatekeeper/pkg/approval"
	"github.com/agentgate/gatekeeper/pkg/audit"
	"github.com/agentgate/gatekeeper/pkg/decision"
	"github.com/agentgate/gatekeeper/pkg/policy"
	"github.com/agentgate/gatekeeper/pkg/risk"
	"github.com/agentgate/gatekeeper/pkg/stablejson"
	"github.com/agentgate/gatekeeper/pkg/store"
)

type registerAdapterRequest struct {
	TenantID     string   `json:"tenant_id"`
	AdapterID    string   `json:"adapter_id"`
	DisplayName  string   `json:"display_name"`
	RiskClass    string   `json:"risk_class"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
}

func (h *handlers) registerAdapter(w http.ResponseWriter, r *http.Request) {
	var req registerAdapterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}

	record := store.AdapterRecord{
		TenantID:     req.TenantID,
		AdapterID:    req.AdapterID,
		DisplayName:  req.DisplayName,
		RiskClass:    req.RiskClass,
		Capabilities: req.Capabilities,
		Version:      req.Version,
		Enabled:      true,
	}
	if err := h.deps.Store.UpsertAdapter(r.Context(), record); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to register adapter"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"adapter": record})
}

type overrideRequest struct {
	ReasonCode    string `json:"reason_code"`
	Justification string `json:"justification"`
}

type executionRequest struct {
	TenantID              string                 `json:"tenant_id"`
	WorkspaceID           string                 `json:"workspace_id"`
	Environment           string                 `json:"environment"`
	AdapterID             string                 `json:"adapter_id"`
	AdapterName           string                 `json:"adapter_name"`
	ExecutionID           string                 `json:"execution_id"`
	Tool                  string                 `json:"tool"`
	ToolGroup             string                 `json:"tool_group"`
	SkillState            string                 `json:"skill_state"`
	Intent                string                 `json:"intent"`
	RequestedCapabilities []string               `json:"requested_capabilities"`
	EstimatedCost         float64                `json:"estimated_cost"`
	RequestedMaxSteps     int                    `json:"requested_max_steps"`
	Context               map[string]interface{} `json:"context"`
	TemplateVars          map[string]string      `json:"template_vars"`
	Provenance            string                 `json:"provenance"`
	ApprovalMode          string                 `json:"approval_mode"`
	Session               string                 `json:"session"`
	Targets               []string               `json:"targets"`
	Override              *overrideRequest       `json:"override"`
	RiskInputs            riskInputsRequest      `json:"risk_inputs"`
}

type riskInputsRequest struct {
	ToolCount           int      `json:"tool_count"`
	ToolNames           []string `json:"tool_names"`
	SkillPinned         bool     `json:"skill_pinned"`
	Temperature         float64  `json:"temperature"`
	DataSensitivityHigh bool     `json:"data_sensitivity_high"`
	AdapterRiskClass    string   `json:"adapter_risk_class"`
	ExternalNetwork     bool     `json:"external_network"`
	WritesFilesystem    bool     `json:"writes_filesystem"`
	ProvenanceUntested  bool     `json:"provenance_untested"`
	CustomFlags         map[string]bool `json:"custom_flags"`
}

type executionResponse struct {
	Allowed           bool                   `json:"allowed"`
	ExecutionID       string                 `json:"execution_id"`
	Decision          string                 `json:"decision"`
	DecisionID        string                 `json:"decision_id,omitempty"`
	GrantedScope      map[string]interface{} `json:"granted_scope,omitempty"`
	BlockedReason     string                 `json:"blocked_reason,omitempty"`
	RequiresApproval  bool                   `json:"requires_approval,omitempty"`
	MatchedPolicies   []string               `json:"matched_policies"`
	DecisionTrace     interface{}            `json:"decision_trace"`
	Explanation       string                 `json:"explanation,omitempty"`
	ApprovalMode      string                 `json:"approval_mode"`
	AutoAllowedInCore bool                   `json:"auto_allowed_in_core,omitempty"`
	PolicyFallbackHit bool                   `json:"policy_fallback_hit"`
}

// fingerprint mirrors spec §4.8's "same adapter, tool, mapped targets,
// session" semantic-action identity used for pending-decision reuse.
func fingerprint(req executionRequest) (string, error) {
	return stablejson.Hash(struct {
		AdapterID string   `json:"adapter_id"`
		Tool      string   `json:"tool"`
		Targets   []string `json:"targets"`
		Session   string   `json:"session"`
	}{req.AdapterID, req.Tool, req.Targets, req.Session})
}

// requestDecision is POST /api/execution/request.
func (h *handlers) requestDecision(w http.ResponseWriter, r *http.Request) {
	var req executionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}

	defaultMode := decision.ModeSimulate
	if h.deps.Runtime != nil && h.deps.Runtime.Load().DefaultApprovalMode == string(decision.ModeEnforce) {
		defaultMode = decision.ModeEnforce
	}
	mode := defaultMode
	switch req.ApprovalMode {
	case string(decision.ModeEnforce):
		mode = decision.ModeEnforce
	case string(decision.ModeSimulate):
		mode = decision.ModeSimulate
	}

	var override decision.Override
	if req.Override != nil {
		override = decision.Override{Present: true, ReasonCode: req.Override.ReasonCode, Justification: req.Override.Justification}
	}

	engineReq := decision.Request{
		TenantID:              req.TenantID,
		WorkspaceID:           req.WorkspaceID,
		Environment:           req.Environment,
		AdapterID:             req.AdapterID,
		AdapterName:           req.AdapterName,
		ExecutionID:           req.ExecutionID,
		Tool:                  req.Tool,
		ToolGroup:             req.ToolGroup,
		SkillState:            req.SkillState,
		Intent:                req.Intent,
		RequestedCapabilities: req.RequestedCapabilities,
		EstimatedCost:         req.EstimatedCost,
		RequestedMaxSteps:     req.RequestedMaxSteps,
		Context:               req.Context,
		TemplateVars:          req.TemplateVars,
		Provenance:            req.Provenance,
		Override:              override,
		ApprovalMode:          mode,
		RiskInputs: risk.Inputs{
			ToolCount:             req.RiskInputs.ToolCount,
			ToolNames:             req.RiskInputs.ToolNames,
			SkillState:            risk.SkillState(req.SkillState),
			SkillPinned:           req.RiskInputs.SkillPinned,
			Temperature:           req.RiskInputs.Temperature,
			DataSensitivityHigh:   req.RiskInputs.DataSensitivityHigh,
			AdapterRiskClass:      risk.AdapterRiskClass(req.RiskInputs.AdapterRiskClass),
			RequestedCapabilities: req.RequestedCapabilities,
			ExternalNetwork:       req.RiskInputs.ExternalNetwork,
			WritesFilesystem:      req.RiskInputs.WritesFilesystem,
			ProvenanceUntested:    req.RiskInputs.ProvenanceUntested,
			CustomFlags:           req.RiskInputs.CustomFlags,
		},
	}

	result, err := h.deps.Engine.Decide(r.Context(), engineReq)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decision evaluation failed"))
		return
	}

	resp := executionResponse{
		Allowed:           result.Allowed,
		ExecutionID:       req.ExecutionID,
		Decision:          string(result.Decision),
		BlockedReason:     result.BlockedReason,
		RequiresApproval:  result.RequiresApproval,
		MatchedPolicies:   result.MatchedPolicies,
		DecisionTrace:      result.DecisionTrace,
		Explanation:       result.Explanation,
		ApprovalMode:      string(result.ApprovalMode),
		AutoAllowedInCore: result.AutoAllowedInCore,
		PolicyFallbackHit: result.PolicyFallbackHit,
	}

	if result.OpsOverrideUsed {
		if _, err := h.deps.Audit.Append(r.Context(), audit.Entry{
			TenantID: req.TenantID, WorkspaceID: req.WorkspaceID, ExecutionID: req.ExecutionID,
			EventType: audit.EventOpsOverrideUsed,
			EventData: map[string]interface{}{"reason_code": req.Override.ReasonCode, "justification": req.Override.Justification},
		}); err != nil {
			writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to record override audit"))
			return
		}
	}

	if result.AutoAllowedInCore {
		if _, err := h.deps.Audit.Append(r.Context(), audit.Entry{
			TenantID: req.TenantID, WorkspaceID: req.WorkspaceID, ExecutionID: req.ExecutionID,
			EventType: audit.EventApprovalAutoAllowedInCore,
			EventData: map[string]interface{}{"explanation": result.Explanation},
		}); err != nil {
			writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to record auto-allow audit"))
			return
		}
	}

	if result.RequiresApproval {
		fp, err := fingerprint(req)
		if err != nil {
			writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to compute fingerprint"))
			return
		}
		snapshot, err := json.Marshal(req)
		if err != nil {
			writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to snapshot request"))
			return
		}
		var snapshotMap map[string]interface{}
		_ = json.Unmarshal(snapshot, &snapshotMap)

		record, err := h.deps.Approval.CreatePending(r.Context(), approval.CreatePendingInput{
			TenantID:    req.TenantID,
			WorkspaceID: req.WorkspaceID,
			ExecutionID: req.ExecutionID,
			AdapterID:   req.AdapterID,
			Fingerprint: fp,
			Snapshot:    snapshotMap,
			Result:      result,
		})
		if err != nil {
			writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to materialize pending decision"))
			return
		}
		resp.DecisionID = record.DecisionID
		if h.deps.Notify != nil {
			_ = h.deps.Notify.PendingApproval(r.Context(), req.TenantID, record.DecisionID, req.ExecutionID, result.Explanation)
		}
	} else if result.Allowed && result.GrantedScope != nil {
		scope := map[string]interface{}{
			"capabilities": result.GrantedScope.Capabilities,
			"max_steps":    result.GrantedScope.MaxSteps,
			"max_cost":     result.GrantedScope.MaxCost,
			"expires_at":   result.GrantedScope.ExpiresAt,
		}
		resp.GrantedScope = scope
	}

	writeJSON(w, http.StatusOK, resp)
}

type toolAuthorizeRequest struct {
	TenantID    string `json:"tenant_id"`
	ExecutionID string `json:"execution_id"`
	Tool        string `json:"tool"`
	Sequence    int    `json:"sequence"`
}

// authorizeTool is POST /api/governance/tool/authorize: re-evaluates a
// single tool invocation against the currently matching policies for an
// already-granted execution, per spec §4.10.
func (h *handlers) authorizeTool(w http.ResponseWriter, r *http.Request) {
	var req toolAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}

	policies, err := h.deps.Store.ListPolicies(r.Context(), store.PolicyFilter{TenantID: req.TenantID, EnabledOnly: true})
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to list policies"))
		return
	}

	authDecision := "allow"
	var policyID, reason string
	for _, p := range policies {
		if p.Subject.Type == policy.SubjectTool && p.Subject.Name == req.Tool {
			authDecision = string(p.Effect.Decision)
			policyID = p.PolicyID
			reason = p.Explanation
			break
		}
	}

	if err := h.deps.Store.InsertToolAuthorization(r.Context(), store.ToolAuthorizationRecord{
		ExecutionID: req.ExecutionID, Tool: req.Tool, Sequence: req.Sequence, Decision: authDecision, PolicyID: policyID,
	}); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to record tool authorization"))
		return
	}

	eventType := audit.EventToolAuthorizationGranted
	if authDecision == "deny" {
		eventType = audit.EventToolAuthorizationDenied
	}
	if _, err := h.deps.Audit.Append(r.Context(), audit.Entry{
		TenantID: req.TenantID, ExecutionID: req.ExecutionID, EventType: eventType,
		EventData: map[string]interface{}{"tool": req.Tool, "sequence": req.Sequence, "policy_id": policyID},
	}); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to record audit"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"decision": authDecision, "policy_id": policyID, "reason": reason})
}

type ingestTraceRequest struct {
	TenantID    string                   `json:"tenant_id"`
	ExecutionID string                   `json:"execution_id"`
	Steps       []map[string]interface{} `json:"steps"`
}

// ingestTrace is POST /api/ingest/trace: validates the step-hash chain and
// persists the result with its computed integrity status, per spec §4.10.
func (h *handlers) ingestTrace(w http.ResponseWriter, r *http.Request) {
	var req ingestTraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}

	steps := make([]audit.TraceStep, len(req.Steps))
	for i, raw := range req.Steps {
		id, _ := raw["step_id"].(string)
		typ, _ := raw["type"].(string)
		payload, _ := raw["payload"].(map[string]interface{})
		prevStepHash, _ := raw["prev_step_hash"].(string)
		stepHash, _ := raw["step_hash"].(string)
		steps[i] = audit.TraceStep{
			StepID: id, Type: audit.TraceStepType(typ), Payload: payload,
			PrevStepHash: prevStepHash, StepHash: stepHash,
		}
	}

	stamped, integrity, err := audit.IngestTrace(r.Context(), steps)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeValidation, "trace ingestion failed"))
		return
	}

	stampedMaps := make([]map[string]interface{}, len(stamped))
	for i, s := range stamped {
		stampedMaps[i] = map[string]interface{}{
			"step_id": s.StepID, "type": string(s.Type), "payload": s.Payload,
			"prev_step_hash": s.PrevStepHash, "step_hash": s.StepHash,
		}
	}

	if err := h.deps.Store.InsertTrace(r.Context(), store.TraceRecord{
		TraceID: req.ExecutionID, TenantID: req.TenantID, ExecutionID: req.ExecutionID,
		Integrity: string(integrity), Steps: stampedMaps,
	}); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to persist trace"))
		return
	}

	if _, err := h.deps.Audit.Append(r.Context(), audit.Entry{
		TenantID: req.TenantID, ExecutionID: req.ExecutionID, EventType: audit.EventAdapterTraceIngested,
		EventData: map[string]interface{}{"integrity": string(integrity), "step_count": len(stamped)},
	}); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to record audit"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"stored": true})
}

type ingestAuditRequest struct {
	TenantID    string                 `json:"tenant_id"`
	WorkspaceID string                 `json:"workspace_id"`
	ExecutionID string                 `json:"execution_id"`
	EventType   string                 `json:"event_type"`
	EventData   map[string]interface{} `json:"event_data"`
}

// ingestAudit is POST /api/ingest/audit: appends an adapter-originated
// event onto the tenant's hash-linked chain, per spec §4.9/§4.10.
func (h *handlers) ingestAudit(w http.ResponseWriter, r *http.Request) {
	var req ingestAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.New(apperrors.ErrorTypeValidation, "invalid JSON body"))
		return
	}

	data := req.EventData
	if data == nil {
		data = map[string]interface{}{}
	}
	data["adapter_event_type"] = req.EventType

	if _, err := h.deps.Audit.Append(r.Context(), audit.Entry{
		TenantID: req.TenantID, WorkspaceID: req.WorkspaceID, ExecutionID: req.ExecutionID,
		EventType: audit.EventAdapterAuditEvent, EventData: data,
	}); err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to append audit entry"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stored": true})
}

// pollDecision is GET /api/decisions/{execution_id}/latest.
func (h *handlers) pollDecision(w http.ResponseWriter, r *http.Request) {
	claims, _ := adapterClaimsFromContext(r.Context())
	executionID := chi.URLParam(r, "execution_id")

	result, err := h.deps.Approval.PollDecision(r.Context(), claims.TenantID, executionID)
	if err != nil {
		writeError(w, loggerFromRequest(r), apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "no decision found for execution"))
		return
	}

	resp := map[string]interface{}{"status": string(result.Status)}
	if result.Resolution != nil {
		resp["resolution"] = result.Resolution
	}
	if result.DecisionToken != "" {
		resp["decision_token"] = result.DecisionToken
	}
	writeJSON(w, http.StatusOK, resp)
}
