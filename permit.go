// Package permit implements a multi-tenant access decision engine.
// Every entity is owned by exactly one tenant; decisions combine
// role-derived permission effects, group membership and explicit
// sharing grants with deny-overrides-allow semantics.
package permit

import (
	"context"
	"time"
)

// ============================================================================
// TENANT SCOPING
// ============================================================================

// TenantID identifies one organization. It is the isolation boundary
// for every lookup and every decision.
type TenantID string

// Ref is a tenant-qualified entity reference. Bare IDs never cross
// package boundaries; a Ref whose tenant differs from the evaluation
// tenant is a TenantViolation, not a miss.
type Ref struct {
	Tenant TenantID `json:"tenant" yaml:"tenant"`
	ID     string   `json:"id" yaml:"id"`
}

// In reports whether the reference belongs to the given tenant.
func (r Ref) In(tenant TenantID) bool { return r.Tenant == tenant }

// ============================================================================
// CLOSED ENUMS
// ============================================================================

// Action is an operation on a module's records.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// Valid reports whether the action is one of the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport:
		return true
	}
	return false
}

// Effect is the outcome attached to a permission grant.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

func (e Effect) Valid() bool { return e == EffectAllow || e == EffectDeny }

// RuleType distinguishes the four sharing rule shapes. Exactly the
// endpoint pair matching the type must be populated on the rule.
type RuleType string

const (
	RuleUserToUser   RuleType = "user_to_user"
	RuleRoleToRole   RuleType = "role_to_role"
	RuleGroupToGroup RuleType = "group_to_group"
	RuleRecordLevel  RuleType = "record_level"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleUserToUser, RuleRoleToRole, RuleGroupToGroup, RuleRecordLevel:
		return true
	}
	return false
}

// GrantKind classifies the principal a sharing grant matched through.
type GrantKind string

const (
	GrantUser   GrantKind = "user"
	GrantRole   GrantKind = "role"
	GrantGroup  GrantKind = "group"
	GrantRecord GrantKind = "record"
)

// SignalSource names the evaluation path that produced a signal.
type SignalSource string

const (
	SourceRoleMatrix  SignalSource = "role_matrix"
	SourceSharingRule SignalSource = "sharing_rule"
	SourceRecordShare SignalSource = "record_share"
	SourceNone        SignalSource = "none"
)

// AuditStatus marks whether an audited operation completed.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Role is one node in a tenant's role forest. ParentID is empty for
// roots. Permission inheritance flows upward: a role inherits every
// effect its ancestors carry.
type Role struct {
	ID        string    `json:"id" yaml:"id"`
	TenantID  TenantID  `json:"tenant_id" yaml:"tenant_id"`
	Name      string    `json:"name" yaml:"name"`
	Code      string    `json:"code" yaml:"code"`
	ParentID  string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Ref returns the tenant-qualified reference for the role.
func (r *Role) Ref() Ref { return Ref{Tenant: r.TenantID, ID: r.ID} }

// Profile is a reusable bundle of permission effects attachable to roles.
type Profile struct {
	ID        string    `json:"id" yaml:"id"`
	TenantID  TenantID  `json:"tenant_id" yaml:"tenant_id"`
	Name      string    `json:"name" yaml:"name"`
	Code      string    `json:"code" yaml:"code"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Module is a named record namespace (e.g. "invoices"). Permissions are
// defined per module; an inactive module contributes nothing.
type Module struct {
	Name     string   `json:"name" yaml:"name"`
	TenantID TenantID `json:"tenant_id" yaml:"tenant_id"`
	IsActive bool     `json:"is_active" yaml:"is_active"`
}

// Permission is one (module, action) slot, unique per tenant.
type Permission struct {
	ID       string   `json:"id" yaml:"id"`
	TenantID TenantID `json:"tenant_id" yaml:"tenant_id"`
	Module   string   `json:"module" yaml:"module"`
	Action   Action   `json:"action" yaml:"action"`
	IsActive bool     `json:"is_active" yaml:"is_active"`
}

// Key returns the matrix key for the permission.
func (p *Permission) Key() PermissionKey {
	return PermissionKey{Module: p.Module, Action: p.Action}
}

// PermissionKey addresses one cell of a tenant's permission matrix.
type PermissionKey struct {
	Module string `json:"module" yaml:"module"`
	Action Action `json:"action" yaml:"action"`
}

// ProfileEffect is one (profile, permission) -> effect row. A profile
// holds at most one effect per permission.
type ProfileEffect struct {
	TenantID     TenantID `json:"tenant_id" yaml:"tenant_id"`
	ProfileID    string   `json:"profile_id" yaml:"profile_id"`
	PermissionID string   `json:"permission_id" yaml:"permission_id"`
	Effect       Effect   `json:"effect" yaml:"effect"`
}

// Group is a membership container independent of the role tree.
type Group struct {
	ID       string   `json:"id" yaml:"id"`
	TenantID TenantID `json:"tenant_id" yaml:"tenant_id"`
	Name     string   `json:"name" yaml:"name"`
	IsActive bool     `json:"is_active" yaml:"is_active"`
}

// SharingRule is a typed grant between two principals, or a marker for
// record-level sharing. The endpoint pair matching Type must be set and
// all others empty; Validate enforces this.
type SharingRule struct {
	ID            string   `json:"id" yaml:"id"`
	TenantID      TenantID `json:"tenant_id" yaml:"tenant_id"`
	Type          RuleType `json:"rule_type" yaml:"rule_type"`
	SourceUserID  string   `json:"source_user_id,omitempty" yaml:"source_user_id,omitempty"`
	TargetUserID  string   `json:"target_user_id,omitempty" yaml:"target_user_id,omitempty"`
	SourceRoleID  string   `json:"source_role_id,omitempty" yaml:"source_role_id,omitempty"`
	TargetRoleID  string   `json:"target_role_id,omitempty" yaml:"target_role_id,omitempty"`
	SourceGroupID string   `json:"source_group_id,omitempty" yaml:"source_group_id,omitempty"`
	TargetGroupID string   `json:"target_group_id,omitempty" yaml:"target_group_id,omitempty"`
	// Module optionally restricts the rule to one module. Empty means
	// the rule applies to every module. Wildcard suffixes are allowed
	// ("sales_*").
	Module    string    `json:"module,omitempty" yaml:"module,omitempty"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Ref returns the tenant-qualified reference for the rule.
func (s *SharingRule) Ref() Ref { return Ref{Tenant: s.TenantID, ID: s.ID} }

// Validate checks the endpoint invariant for the rule's type.
func (s *SharingRule) Validate() error {
	if !s.Type.Valid() {
		return &ValidationError{Entity: "sharing_rule", ID: s.ID, Reason: "unknown rule_type " + string(s.Type)}
	}
	users := s.SourceUserID != "" || s.TargetUserID != ""
	roles := s.SourceRoleID != "" || s.TargetRoleID != ""
	groups := s.SourceGroupID != "" || s.TargetGroupID != ""
	switch s.Type {
	case RuleUserToUser:
		if s.SourceUserID == "" || s.TargetUserID == "" || roles || groups {
			return &ValidationError{Entity: "sharing_rule", ID: s.ID, Reason: "user_to_user requires exactly the user endpoint pair"}
		}
	case RuleRoleToRole:
		if s.SourceRoleID == "" || s.TargetRoleID == "" || users || groups {
			return &ValidationError{Entity: "sharing_rule", ID: s.ID, Reason: "role_to_role requires exactly the role endpoint pair"}
		}
	case RuleGroupToGroup:
		if s.SourceGroupID == "" || s.TargetGroupID == "" || users || roles {
			return &ValidationError{Entity: "sharing_rule", ID: s.ID, Reason: "group_to_group requires exactly the group endpoint pair"}
		}
	case RuleRecordLevel:
		if users || roles || groups {
			return &ValidationError{Entity: "sharing_rule", ID: s.ID, Reason: "record_level carries no principal endpoints"}
		}
	}
	return nil
}

// RecordShare grants one record to exactly one of user, group or role.
type RecordShare struct {
	ID        string    `json:"id" yaml:"id"`
	TenantID  TenantID  `json:"tenant_id" yaml:"tenant_id"`
	Module    string    `json:"module" yaml:"module"`
	RecordID  string    `json:"record_id" yaml:"record_id"`
	UserID    string    `json:"shared_with_user_id,omitempty" yaml:"shared_with_user_id,omitempty"`
	GroupID   string    `json:"shared_with_group_id,omitempty" yaml:"shared_with_group_id,omitempty"`
	RoleID    string    `json:"shared_with_role_id,omitempty" yaml:"shared_with_role_id,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Validate checks that exactly one shared-with endpoint is populated.
func (s *RecordShare) Validate() error {
	n := 0
	for _, id := range []string{s.UserID, s.GroupID, s.RoleID} {
		if id != "" {
			n++
		}
	}
	if n != 1 {
		return &ValidationError{Entity: "record_share", ID: s.ID, Reason: "exactly one of user, group or role must be set"}
	}
	if s.Module == "" || s.RecordID == "" {
		return &ValidationError{Entity: "record_share", ID: s.ID, Reason: "module and record_id are required"}
	}
	return nil
}

// Grant is one matched sharing signal. Source names the granting
// principal, RuleID the rule or share that matched.
type Grant struct {
	Kind   GrantKind `json:"kind"`
	Source string    `json:"source"`
	RuleID string    `json:"rule_id"`
}

// ============================================================================
// DECISIONS
// ============================================================================

// Signal is one contribution to a decision, kept for explainability.
type Signal struct {
	Source SignalSource `json:"source"`
	Effect Effect       `json:"effect"`
	Detail string       `json:"detail"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed   bool         `json:"allowed"`
	Effect    Effect       `json:"effect"`
	Reason    string       `json:"reason"`
	Source    SignalSource `json:"source"`
	Signals   []Signal     `json:"signals,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// AuditEvent is emitted once per evaluation and once per administrative
// mutation. The engine never blocks on its delivery.
type AuditEvent struct {
	ID        string         `json:"id"`
	TenantID  TenantID       `json:"tenant_id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Module    string         `json:"module,omitempty"`
	RecordID  string         `json:"record_id,omitempty"`
	Status    AuditStatus    `json:"status"`
	Decision  Effect         `json:"decision,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Source    SignalSource   `json:"source,omitempty"`
	OldValues map[string]any `json:"old_values,omitempty"`
	NewValues map[string]any `json:"new_values,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditFilter narrows audit log queries.
type AuditFilter struct {
	TenantID  TenantID
	ActorID   string
	Action    string
	Module    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// ============================================================================
// STORAGE CONTRACTS
// ============================================================================

// RoleStore persists roles, role-profile attachments and user-role
// membership. Lookups are tenant-scoped: an ID that exists under a
// different tenant yields a TenantViolation, an absent ID a NotFound.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, tenant TenantID, id string) error
	GetRole(ctx context.Context, tenant TenantID, id string) (*Role, error)
	ListRoles(ctx context.Context, tenant TenantID) ([]*Role, error)
	ListChildren(ctx context.Context, tenant TenantID, parentID string) ([]*Role, error)

	AttachProfile(ctx context.Context, tenant TenantID, roleID, profileID string) error
	DetachProfile(ctx context.Context, tenant TenantID, roleID, profileID string) error
	ProfilesOf(ctx context.Context, tenant TenantID, roleID string) ([]string, error)

	AssignRole(ctx context.Context, tenant TenantID, userID, roleID string) error
	RevokeRole(ctx context.Context, tenant TenantID, userID, roleID string) error
	RolesOf(ctx context.Context, tenant TenantID, userID string) ([]string, error)
}

// ProfileStore persists profiles, permissions and profile effects.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, tenant TenantID, id string) (*Profile, error)
	ListProfiles(ctx context.Context, tenant TenantID) ([]*Profile, error)

	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, tenant TenantID, id string) (*Permission, error)
	FindPermission(ctx context.Context, tenant TenantID, module string, action Action) (*Permission, error)
	ListPermissions(ctx context.Context, tenant TenantID) ([]*Permission, error)

	SetEffect(ctx context.Context, tenant TenantID, profileID, permissionID string, effect Effect) error
	ClearEffect(ctx context.Context, tenant TenantID, profileID, permissionID string) error
	EffectsOf(ctx context.Context, tenant TenantID, profileID string) ([]ProfileEffect, error)
}

// GroupStore persists groups and user-group membership.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	UpdateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, tenant TenantID, id string) (*Group, error)
	ListGroups(ctx context.Context, tenant TenantID) ([]*Group, error)

	AddMember(ctx context.Context, tenant TenantID, groupID, userID string) error
	RemoveMember(ctx context.Context, tenant TenantID, groupID, userID string) error
	GroupIDsOf(ctx context.Context, tenant TenantID, userID string) ([]string, error)
}

// SharingStore persists sharing rules and record shares.
type SharingStore interface {
	CreateRule(ctx context.Context, r *SharingRule) error
	UpdateRule(ctx context.Context, r *SharingRule) error
	DeleteRule(ctx context.Context, tenant TenantID, id string) error
	GetRule(ctx context.Context, tenant TenantID, id string) (*SharingRule, error)
	ListRules(ctx context.Context, tenant TenantID) ([]*SharingRule, error)

	CreateShare(ctx context.Context, s *RecordShare) error
	DeleteShare(ctx context.Context, tenant TenantID, id string) error
	SharesForRecord(ctx context.Context, tenant TenantID, module, recordID string) ([]*RecordShare, error)
}

// ModuleStore persists the module registry.
type ModuleStore interface {
	CreateModule(ctx context.Context, m *Module) error
	UpdateModule(ctx context.Context, m *Module) error
	GetModule(ctx context.Context, tenant TenantID, name string) (*Module, error)
	ListModules(ctx context.Context, tenant TenantID) ([]*Module, error)
}

// AuditSink durably records audit events. Delivery is fire-and-forget
// from the engine's perspective.
type AuditSink interface {
	Record(ctx context.Context, ev *AuditEvent) error
}

// AuditLog extends AuditSink with query access.
type AuditLog interface {
	AuditSink
	Events(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error)
}

// MembershipSource supplies direct role and group membership for a
// user. The engine defaults to the SQL/memory stores; a Redis-backed
// source can be swapped in for hot lookup paths.
type MembershipSource interface {
	RoleIDsOf(ctx context.Context, tenant TenantID, userID string) ([]string, error)
	GroupIDsOf(ctx context.Context, tenant TenantID, userID string) ([]string, error)
}
