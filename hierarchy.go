package permit

import (
	"context"
	"errors"
)

// ============================================================================
// ROLE HIERARCHY
// ============================================================================

// Hierarchy resolves ancestor chains over a tenant's role forest and
// owns acyclicity. The parent chain can be mutated independently of the
// engine, so every traversal keeps a visited set bounded by the
// tenant's role count and fails closed on anything malformed.
type Hierarchy struct {
	roles RoleStore
}

// NewHierarchy returns a Hierarchy backed by the given role store.
func NewHierarchy(roles RoleStore) *Hierarchy {
	return &Hierarchy{roles: roles}
}

// AncestorsOf returns the role's ancestor chain, root-most first. The
// role itself is not included. A broken parent link or a repeated node
// aborts with a structural integrity error rather than truncating.
func (h *Hierarchy) AncestorsOf(ctx context.Context, tenant TenantID, roleID string) ([]*Role, error) {
	role, err := h.roles.GetRole(ctx, tenant, roleID)
	if err != nil {
		return nil, err
	}
	chain := make([]*Role, 0, 4)
	visited := map[string]bool{role.ID: true}
	cur := role
	for cur.ParentID != "" {
		if cur.ParentID == cur.ID {
			return nil, &StructuralError{Tenant: tenant, RoleID: cur.ID, Reason: "role references itself as parent"}
		}
		if visited[cur.ParentID] {
			return nil, &StructuralError{Tenant: tenant, RoleID: cur.ParentID, Reason: "parent chain revisits role"}
		}
		parent, err := h.roles.GetRole(ctx, tenant, cur.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, &StructuralError{Tenant: tenant, RoleID: cur.ID, Reason: "parent role " + cur.ParentID + " is missing"}
			}
			return nil, err
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		cur = parent
	}
	// walked child-up; callers get root-most first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// IsDescendant reports whether role sits strictly below
// candidateAncestor. A role is never its own descendant.
func (h *Hierarchy) IsDescendant(ctx context.Context, tenant TenantID, candidateAncestorID, roleID string) (bool, error) {
	if candidateAncestorID == roleID {
		return false, nil
	}
	ancestors, err := h.AncestorsOf(ctx, tenant, roleID)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a.ID == candidateAncestorID {
			return true, nil
		}
	}
	return false, nil
}

// WouldCreateCycle reports whether assigning proposedParent as the
// role's parent would make the role its own ancestor. It walks the
// full chain upward from the proposed parent; this is the one check
// the data layer cannot express and must run before any reassignment.
func (h *Hierarchy) WouldCreateCycle(ctx context.Context, tenant TenantID, roleID, proposedParentID string) (bool, error) {
	if proposedParentID == "" {
		return false, nil
	}
	if proposedParentID == roleID {
		return true, nil
	}
	parent, err := h.roles.GetRole(ctx, tenant, proposedParentID)
	if err != nil {
		return false, err
	}
	if !parent.Ref().In(tenant) {
		return false, &TenantViolationError{Entity: "role", ID: parent.ID, WantTenant: tenant, ActualTenant: parent.TenantID}
	}
	visited := map[string]bool{proposedParentID: true}
	cur := parent
	for cur.ParentID != "" {
		if cur.ParentID == roleID {
			return true, nil
		}
		if visited[cur.ParentID] {
			return false, &StructuralError{Tenant: tenant, RoleID: cur.ParentID, Reason: "existing parent chain already contains a cycle"}
		}
		next, err := h.roles.GetRole(ctx, tenant, cur.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, &StructuralError{Tenant: tenant, RoleID: cur.ID, Reason: "parent role " + cur.ParentID + " is missing"}
			}
			return false, err
		}
		visited[next.ID] = true
		cur = next
	}
	return false, nil
}

// ReachableRoles returns the role plus all of its ancestors: the set
// over which permission effects are inherited. The role itself comes
// first, ancestors follow root-most first.
func (h *Hierarchy) ReachableRoles(ctx context.Context, tenant TenantID, roleID string) ([]*Role, error) {
	role, err := h.roles.GetRole(ctx, tenant, roleID)
	if err != nil {
		return nil, err
	}
	ancestors, err := h.AncestorsOf(ctx, tenant, roleID)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(ancestors)+1)
	out = append(out, role)
	out = append(out, ancestors...)
	return out, nil
}

// reachableSet unions ReachableRoles over several starting roles,
// deduplicating by role ID. Used by the sharing engine to test whether
// a role-targeted grant applies to any of the actor's roles. Only
// active roles enter the set: an inactive held role severs its whole
// path, an inactive ancestor is dropped individually.
func (h *Hierarchy) reachableSet(ctx context.Context, tenant TenantID, roleIDs []string) (map[string]*Role, error) {
	set := make(map[string]*Role, len(roleIDs))
	for _, id := range roleIDs {
		reach, err := h.ReachableRoles(ctx, tenant, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !reach[0].IsActive {
			continue
		}
		for _, r := range reach {
			if !r.IsActive {
				continue
			}
			set[r.ID] = r
		}
	}
	return set, nil
}
