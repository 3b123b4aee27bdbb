// Package rbac implements the flat, single-tenant role→capability table
// that feeds step 1 of the decision engine (C7). Per spec §9/§1 Non-goals,
// there is no multi-tenant identity or cross-organization RBAC — one role
// table per tenant is the full scope.
package rbac

import "context"

// Role names the set of capabilities an adapter (or the request acting on
// its behalf) is permitted to exercise.
type Role struct {
	Name         string
	Capabilities map[string]bool
}

// RoleSource is the subset of pkg/store feeding role lookups.
type RoleSource interface {
	GetAdapterRole(ctx context.Context, tenantID, adapterID string) (Role, error)
}

// Checker evaluates whether an adapter's role grants the capabilities a
// request asks for.
type Checker struct {
	Roles RoleSource
}

func NewChecker(roles RoleSource) *Checker {
	return &Checker{Roles: roles}
}

// Allowed reports whether the adapter's assigned role grants every
// capability in requested. An empty requested set is always allowed.
func (c *Checker) Allowed(ctx context.Context, tenantID, adapterID string, requested []string) (bool, error) {
	if len(requested) == 0 {
		return true, nil
	}
	role, err := c.Roles.GetAdapterRole(ctx, tenantID, adapterID)
	if err != nil {
		return false, err
	}
	for _, cap := range requested {
		if !role.Capabilities[cap] {
			return false, nil
		}
	}
	return true, nil
}
