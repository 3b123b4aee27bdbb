package policy

import "github.com/agentgate/gatekeeper/pkg/conditions"

// resolveContextField resolves a dotted field name (e.g.
// "context.targets.paths") against the structured request context, using
// conditions.ResolvePath's fail-closed, prototype-segment-rejecting walk.
func resolveContextField(ctx map[string]interface{}, field string) (interface{}, bool) {
	return conditions.ResolvePath(map[string]interface{}{"context": ctx}, field)
}
