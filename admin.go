package permit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// ADMINISTRATIVE OPERATIONS
// ============================================================================
//
// Mutations of the role/profile/group/sharing graph. The engine never
// auto-corrects a detected cycle or cross-tenant link; it rejects the
// mutation that would introduce it. Hierarchy mutations are serialized
// per tenant so two concurrent reparents cannot both pass their cycle
// pre-checks and then race each other's writes.

func (e *Engine) tenantLock(tenant TenantID) *sync.Mutex {
	e.mutateMu.Lock()
	defer e.mutateMu.Unlock()
	mu, ok := e.tenantMu[tenant]
	if !ok {
		mu = &sync.Mutex{}
		e.tenantMu[tenant] = mu
	}
	return mu
}

// CreateRole validates tenant-scoping of the parent link and inserts
// the role.
func (e *Engine) CreateRole(ctx context.Context, r *Role) error {
	if r.TenantID == "" || r.ID == "" || r.Code == "" {
		return &ValidationError{Entity: "role", ID: r.ID, Reason: "id, tenant and code are required"}
	}
	mu := e.tenantLock(r.TenantID)
	mu.Lock()
	defer mu.Unlock()
	if r.ParentID != "" {
		parent, err := e.roles.GetRole(ctx, r.TenantID, r.ParentID)
		if err != nil {
			return fmt.Errorf("resolve parent: %w", err)
		}
		if parent.TenantID != r.TenantID {
			return &TenantViolationError{Entity: "role", ID: parent.ID, WantTenant: r.TenantID, ActualTenant: parent.TenantID}
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := e.roles.CreateRole(ctx, r); err != nil {
		return err
	}
	e.afterMutation(r.TenantID, "role.create", nil, roleValues(r))
	return nil
}

// ReparentRole moves a role under a new parent (empty parent makes it a
// root). The cycle check runs under the tenant mutation lock so it is
// atomic with the write.
func (e *Engine) ReparentRole(ctx context.Context, tenant TenantID, roleID, newParentID string) error {
	mu := e.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	role, err := e.roles.GetRole(ctx, tenant, roleID)
	if err != nil {
		return err
	}
	if newParentID != "" {
		cycle, err := e.hierarchy.WouldCreateCycle(ctx, tenant, roleID, newParentID)
		if err != nil {
			return err
		}
		if cycle {
			return &CycleError{Tenant: tenant, RoleID: roleID, ParentID: newParentID}
		}
	}
	old := roleValues(role)
	role.ParentID = newParentID
	if err := e.roles.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.afterMutation(tenant, "role.reparent", old, roleValues(role))
	return nil
}

// DeleteRole removes a role and detaches its children: they become
// independent roots, never cascading deactivation.
func (e *Engine) DeleteRole(ctx context.Context, tenant TenantID, roleID string) error {
	mu := e.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	role, err := e.roles.GetRole(ctx, tenant, roleID)
	if err != nil {
		return err
	}
	children, err := e.roles.ListChildren(ctx, tenant, roleID)
	if err != nil {
		return err
	}
	for _, child := range children {
		child.ParentID = ""
		if err := e.roles.UpdateRole(ctx, child); err != nil {
			return fmt.Errorf("detach child %s: %w", child.ID, err)
		}
	}
	if err := e.roles.DeleteRole(ctx, tenant, roleID); err != nil {
		return err
	}
	e.afterMutation(tenant, "role.delete", roleValues(role), nil)
	return nil
}

// SetRoleActive toggles the role's soft-deactivation flag. The
// underlying relationships stay intact; reactivation restores the
// role's contribution unchanged.
func (e *Engine) SetRoleActive(ctx context.Context, tenant TenantID, roleID string, active bool) error {
	role, err := e.roles.GetRole(ctx, tenant, roleID)
	if err != nil {
		return err
	}
	old := roleValues(role)
	role.IsActive = active
	if err := e.roles.UpdateRole(ctx, role); err != nil {
		return err
	}
	e.afterMutation(tenant, "role.set_active", old, roleValues(role))
	return nil
}

// SetProfileActive toggles a profile's soft-deactivation flag.
func (e *Engine) SetProfileActive(ctx context.Context, tenant TenantID, profileID string, active bool) error {
	p, err := e.profiles.GetProfile(ctx, tenant, profileID)
	if err != nil {
		return err
	}
	old := map[string]any{"id": p.ID, "is_active": p.IsActive}
	p.IsActive = active
	if err := e.profiles.UpdateProfile(ctx, p); err != nil {
		return err
	}
	e.afterMutation(tenant, "profile.set_active", old, map[string]any{"id": p.ID, "is_active": p.IsActive})
	return nil
}

// SetGroupActive toggles a group's soft-deactivation flag.
func (e *Engine) SetGroupActive(ctx context.Context, tenant TenantID, groupID string, active bool) error {
	g, err := e.groups.GetGroup(ctx, tenant, groupID)
	if err != nil {
		return err
	}
	old := map[string]any{"id": g.ID, "is_active": g.IsActive}
	g.IsActive = active
	if err := e.groups.UpdateGroup(ctx, g); err != nil {
		return err
	}
	e.afterMutation(tenant, "group.set_active", old, map[string]any{"id": g.ID, "is_active": g.IsActive})
	return nil
}

// SetRuleActive toggles a sharing rule's soft-deactivation flag.
func (e *Engine) SetRuleActive(ctx context.Context, tenant TenantID, ruleID string, active bool) error {
	r, err := e.sharing.GetRule(ctx, tenant, ruleID)
	if err != nil {
		return err
	}
	old := map[string]any{"id": r.ID, "is_active": r.IsActive}
	r.IsActive = active
	if err := e.sharing.UpdateRule(ctx, r); err != nil {
		return err
	}
	e.afterMutation(tenant, "sharing_rule.set_active", old, map[string]any{"id": r.ID, "is_active": r.IsActive})
	return nil
}

// CreateSharingRule validates the endpoint invariant and the tenant of
// every referenced principal before inserting the rule.
func (e *Engine) CreateSharingRule(ctx context.Context, r *SharingRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := e.checkRulePrincipals(ctx, r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := e.sharing.CreateRule(ctx, r); err != nil {
		return err
	}
	e.afterMutation(r.TenantID, "sharing_rule.create", nil, map[string]any{"id": r.ID, "rule_type": string(r.Type)})
	return nil
}

func (e *Engine) checkRulePrincipals(ctx context.Context, r *SharingRule) error {
	switch r.Type {
	case RuleRoleToRole:
		for _, id := range []string{r.SourceRoleID, r.TargetRoleID} {
			if _, err := e.roles.GetRole(ctx, r.TenantID, id); err != nil {
				return fmt.Errorf("resolve role %s: %w", id, err)
			}
		}
	case RuleGroupToGroup:
		for _, id := range []string{r.SourceGroupID, r.TargetGroupID} {
			if _, err := e.groups.GetGroup(ctx, r.TenantID, id); err != nil {
				return fmt.Errorf("resolve group %s: %w", id, err)
			}
		}
	}
	return nil
}

// ShareRecord grants one record to a user, group or role.
func (e *Engine) ShareRecord(ctx context.Context, s *RecordShare) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.RoleID != "" {
		if _, err := e.roles.GetRole(ctx, s.TenantID, s.RoleID); err != nil {
			return fmt.Errorf("resolve role %s: %w", s.RoleID, err)
		}
	}
	if s.GroupID != "" {
		if _, err := e.groups.GetGroup(ctx, s.TenantID, s.GroupID); err != nil {
			return fmt.Errorf("resolve group %s: %w", s.GroupID, err)
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := e.sharing.CreateShare(ctx, s); err != nil {
		return err
	}
	e.afterMutation(s.TenantID, "record_share.create", nil, map[string]any{
		"id": s.ID, "module": s.Module, "record_id": s.RecordID,
	})
	return nil
}

// UnshareRecord revokes a record share.
func (e *Engine) UnshareRecord(ctx context.Context, tenant TenantID, shareID string) error {
	if err := e.sharing.DeleteShare(ctx, tenant, shareID); err != nil {
		return err
	}
	e.afterMutation(tenant, "record_share.delete", map[string]any{"id": shareID}, nil)
	return nil
}

// afterMutation emits a change audit event and drops cached decisions.
func (e *Engine) afterMutation(tenant TenantID, action string, oldVals, newVals map[string]any) {
	e.InvalidateDecisions()
	e.emitAudit(AuditEvent{
		ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		TenantID:  tenant,
		Action:    action,
		Status:    AuditSuccess,
		OldValues: oldVals,
		NewValues: newVals,
		Timestamp: time.Now(),
	})
}

func roleValues(r *Role) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"name":      r.Name,
		"code":      r.Code,
		"parent_id": r.ParentID,
		"is_active": r.IsActive,
	}
}
