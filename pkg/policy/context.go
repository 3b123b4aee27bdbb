package policy

// RiskLevel mirrors pkg/risk's levels without importing that package,
// keeping policy evaluation decoupled from the scorer's implementation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PolicyContext is everything the evaluator needs to match a single
// execution request against the policy set, per spec §4.4.
type PolicyContext struct {
	TenantID             string
	WorkspaceID          string
	Environment          string
	AdapterID            string
	AdapterName          string
	Tool                 string
	ToolGroup             string
	SkillState           string
	RiskLevel            RiskLevel
	EstimatedCost        float64
	RequestedCapabilities []string
	Intent               string
	// Context carries the structured request context (exec, targets,
	// side_effects, ...) as nested maps, resolved via conditions.ResolvePath
	// using dotted field names such as "context.exec.argv0".
	Context map[string]interface{}
	// Provenance describes where the request or its governing policy came
	// from; consulted only for trace/explanation purposes.
	Provenance string
	// TemplateVars feeds conditions.ResolveTemplate (workspace.root, tenant.id, workspace.id).
	TemplateVars map[string]string
}

// fieldValue resolves a condition field name to a value, checking the
// well-known top-level context fields first, then falling back to a
// dotted-path lookup into Context.
func (pc PolicyContext) fieldValue(field string) (interface{}, bool) {
	switch field {
	case "tool":
		return pc.Tool, pc.Tool != ""
	case "tool_group":
		return pc.ToolGroup, pc.ToolGroup != ""
	case "adapter":
		return pc.AdapterName, pc.AdapterName != ""
	case "skill_state":
		return pc.SkillState, pc.SkillState != ""
	case "risk_level":
		return string(pc.RiskLevel), pc.RiskLevel != ""
	case "estimated_cost":
		return pc.EstimatedCost, true
	case "intent":
		return pc.Intent, pc.Intent != ""
	}
	if hasCapabilityField(field) {
		return pc.RequestedCapabilities, true
	}
	return resolveContextField(pc.Context, field)
}

func hasCapabilityField(field string) bool {
	return field == "capability" || field == "capabilities" || field == "requested_capabilities"
}
