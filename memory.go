package permit

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================
//
// Reference store implementations used by tests and throwaway engines.
// Lookups distinguish "absent" from "wrong tenant": an ID that exists
// under another tenant is a TenantViolation, never a silent miss.

type memberKey struct {
	tenant TenantID
	a, b   string
}

// MemoryRoleStore holds roles, attachments and memberships in maps.
type MemoryRoleStore struct {
	mu       sync.RWMutex
	roles    map[string]*Role    // by ID across tenants
	profiles map[memberKey]bool  // (tenant, roleID, profileID)
	users    map[memberKey]bool  // (tenant, userID, roleID)
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		roles:    make(map[string]*Role),
		profiles: make(map[memberKey]bool),
		users:    make(map[memberKey]bool),
	}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.roles[r.ID]; ok {
		if existing.TenantID != r.TenantID {
			return &TenantViolationError{Entity: "role", ID: r.ID, WantTenant: r.TenantID, ActualTenant: existing.TenantID}
		}
		return &ValidationError{Entity: "role", ID: r.ID, Reason: "id already exists"}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	s.roles[r.ID] = &cp
	return nil
}

func (s *MemoryRoleStore) UpdateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[r.ID]
	if !ok {
		return &NotFoundError{Entity: "role", Tenant: r.TenantID, ID: r.ID}
	}
	if existing.TenantID != r.TenantID {
		return &TenantViolationError{Entity: "role", ID: r.ID, WantTenant: r.TenantID, ActualTenant: existing.TenantID}
	}
	cp := *r
	s.roles[r.ID] = &cp
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, tenant TenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[id]
	if !ok {
		return &NotFoundError{Entity: "role", Tenant: tenant, ID: id}
	}
	if existing.TenantID != tenant {
		return &TenantViolationError{Entity: "role", ID: id, WantTenant: tenant, ActualTenant: existing.TenantID}
	}
	delete(s.roles, id)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, tenant TenantID, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, &NotFoundError{Entity: "role", Tenant: tenant, ID: id}
	}
	if r.TenantID != tenant {
		return nil, &TenantViolationError{Entity: "role", ID: id, WantTenant: tenant, ActualTenant: r.TenantID}
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context, tenant TenantID) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0)
	for _, r := range s.roles {
		if r.TenantID == tenant {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryRoleStore) ListChildren(ctx context.Context, tenant TenantID, parentID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0)
	for _, r := range s.roles {
		if r.TenantID == tenant && r.ParentID == parentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryRoleStore) AttachProfile(ctx context.Context, tenant TenantID, roleID, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[memberKey{tenant, roleID, profileID}] = true
	return nil
}

func (s *MemoryRoleStore) DetachProfile(ctx context.Context, tenant TenantID, roleID, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, memberKey{tenant, roleID, profileID})
	return nil
}

func (s *MemoryRoleStore) ProfilesOf(ctx context.Context, tenant TenantID, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for k := range s.profiles {
		if k.tenant == tenant && k.a == roleID {
			out = append(out, k.b)
		}
	}
	return out, nil
}

func (s *MemoryRoleStore) AssignRole(ctx context.Context, tenant TenantID, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[memberKey{tenant, userID, roleID}] = true
	return nil
}

func (s *MemoryRoleStore) RevokeRole(ctx context.Context, tenant TenantID, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, memberKey{tenant, userID, roleID})
	return nil
}

func (s *MemoryRoleStore) RolesOf(ctx context.Context, tenant TenantID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for k := range s.users {
		if k.tenant == tenant && k.a == userID {
			out = append(out, k.b)
		}
	}
	return out, nil
}

// MemoryProfileStore holds profiles, permissions and effects in maps.
type MemoryProfileStore struct {
	mu          sync.RWMutex
	profiles    map[string]*Profile
	permissions map[string]*Permission
	effects     map[memberKey]Effect // (tenant, profileID, permissionID)
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles:    make(map[string]*Profile),
		permissions: make(map[string]*Permission),
		effects:     make(map[memberKey]Effect),
	}
}

func (s *MemoryProfileStore) CreateProfile(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.ID]; ok {
		if existing.TenantID != p.TenantID {
			return &TenantViolationError{Entity: "profile", ID: p.ID, WantTenant: p.TenantID, ActualTenant: existing.TenantID}
		}
		return &ValidationError{Entity: "profile", ID: p.ID, Reason: "id already exists"}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *MemoryProfileStore) UpdateProfile(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.profiles[p.ID]
	if !ok {
		return &NotFoundError{Entity: "profile", Tenant: p.TenantID, ID: p.ID}
	}
	if existing.TenantID != p.TenantID {
		return &TenantViolationError{Entity: "profile", ID: p.ID, WantTenant: p.TenantID, ActualTenant: existing.TenantID}
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *MemoryProfileStore) GetProfile(ctx context.Context, tenant TenantID, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, &NotFoundError{Entity: "profile", Tenant: tenant, ID: id}
	}
	if p.TenantID != tenant {
		return nil, &TenantViolationError{Entity: "profile", ID: id, WantTenant: tenant, ActualTenant: p.TenantID}
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProfileStore) ListProfiles(ctx context.Context, tenant TenantID) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0)
	for _, p := range s.profiles {
		if p.TenantID == tenant {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryProfileStore) CreatePermission(ctx context.Context, p *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.permissions[p.ID]; ok {
		if existing.TenantID != p.TenantID {
			return &TenantViolationError{Entity: "permission", ID: p.ID, WantTenant: p.TenantID, ActualTenant: existing.TenantID}
		}
		return &ValidationError{Entity: "permission", ID: p.ID, Reason: "id already exists"}
	}
	cp := *p
	s.permissions[p.ID] = &cp
	return nil
}

func (s *MemoryProfileStore) UpdatePermission(ctx context.Context, p *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.permissions[p.ID]
	if !ok {
		return &NotFoundError{Entity: "permission", Tenant: p.TenantID, ID: p.ID}
	}
	if existing.TenantID != p.TenantID {
		return &TenantViolationError{Entity: "permission", ID: p.ID, WantTenant: p.TenantID, ActualTenant: existing.TenantID}
	}
	cp := *p
	s.permissions[p.ID] = &cp
	return nil
}

func (s *MemoryProfileStore) GetPermission(ctx context.Context, tenant TenantID, id string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, &NotFoundError{Entity: "permission", Tenant: tenant, ID: id}
	}
	if p.TenantID != tenant {
		return nil, &TenantViolationError{Entity: "permission", ID: id, WantTenant: tenant, ActualTenant: p.TenantID}
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProfileStore) FindPermission(ctx context.Context, tenant TenantID, module string, action Action) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.TenantID == tenant && p.Module == module && p.Action == action {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &NotFoundError{Entity: "permission", Tenant: tenant, ID: module + ":" + string(action)}
}

func (s *MemoryProfileStore) ListPermissions(ctx context.Context, tenant TenantID) ([]*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Permission, 0)
	for _, p := range s.permissions {
		if p.TenantID == tenant {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryProfileStore) SetEffect(ctx context.Context, tenant TenantID, profileID, permissionID string, effect Effect) error {
	if !effect.Valid() {
		return &ValidationError{Entity: "profile_effect", ID: profileID + "/" + permissionID, Reason: "effect must be allow or deny"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects[memberKey{tenant, profileID, permissionID}] = effect
	return nil
}

func (s *MemoryProfileStore) ClearEffect(ctx context.Context, tenant TenantID, profileID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.effects, memberKey{tenant, profileID, permissionID})
	return nil
}

func (s *MemoryProfileStore) EffectsOf(ctx context.Context, tenant TenantID, profileID string) ([]ProfileEffect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProfileEffect, 0)
	for k, eff := range s.effects {
		if k.tenant == tenant && k.a == profileID {
			out = append(out, ProfileEffect{TenantID: tenant, ProfileID: profileID, PermissionID: k.b, Effect: eff})
		}
	}
	return out, nil
}

// MemoryGroupStore holds groups and memberships in maps.
type MemoryGroupStore struct {
	mu      sync.RWMutex
	groups  map[string]*Group
	members map[memberKey]bool // (tenant, userID, groupID)
}

func NewMemoryGroupStore() *MemoryGroupStore {
	return &MemoryGroupStore{
		groups:  make(map[string]*Group),
		members: make(map[memberKey]bool),
	}
}

func (s *MemoryGroupStore) CreateGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.groups[g.ID]; ok {
		if existing.TenantID != g.TenantID {
			return &TenantViolationError{Entity: "group", ID: g.ID, WantTenant: g.TenantID, ActualTenant: existing.TenantID}
		}
		return &ValidationError{Entity: "group", ID: g.ID, Reason: "id already exists"}
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *MemoryGroupStore) UpdateGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[g.ID]
	if !ok {
		return &NotFoundError{Entity: "group", Tenant: g.TenantID, ID: g.ID}
	}
	if existing.TenantID != g.TenantID {
		return &TenantViolationError{Entity: "group", ID: g.ID, WantTenant: g.TenantID, ActualTenant: existing.TenantID}
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *MemoryGroupStore) GetGroup(ctx context.Context, tenant TenantID, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, &NotFoundError{Entity: "group", Tenant: tenant, ID: id}
	}
	if g.TenantID != tenant {
		return nil, &TenantViolationError{Entity: "group", ID: id, WantTenant: tenant, ActualTenant: g.TenantID}
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryGroupStore) ListGroups(ctx context.Context, tenant TenantID) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0)
	for _, g := range s.groups {
		if g.TenantID == tenant {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryGroupStore) AddMember(ctx context.Context, tenant TenantID, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey{tenant, userID, groupID}] = true
	return nil
}

func (s *MemoryGroupStore) RemoveMember(ctx context.Context, tenant TenantID, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, memberKey{tenant, userID, groupID})
	return nil
}

func (s *MemoryGroupStore) GroupIDsOf(ctx context.Context, tenant TenantID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for k := range s.members {
		if k.tenant == tenant && k.a == userID {
			out = append(out, k.b)
		}
	}
	return out, nil
}

// MemorySharingStore holds sharing rules and record shares in maps.
type MemorySharingStore struct {
	mu     sync.RWMutex
	rules  map[string]*SharingRule
	shares map[string]*RecordShare
}

func NewMemorySharingStore() *MemorySharingStore {
	return &MemorySharingStore{
		rules:  make(map[string]*SharingRule),
		shares: make(map[string]*RecordShare),
	}
}

func (s *MemorySharingStore) CreateRule(ctx context.Context, r *SharingRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rules[r.ID]; ok {
		if existing.TenantID != r.TenantID {
			return &TenantViolationError{Entity: "sharing_rule", ID: r.ID, WantTenant: r.TenantID, ActualTenant: existing.TenantID}
		}
		return &ValidationError{Entity: "sharing_rule", ID: r.ID, Reason: "id already exists"}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *MemorySharingStore) UpdateRule(ctx context.Context, r *SharingRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok {
		return &NotFoundError{Entity: "sharing_rule", Tenant: r.TenantID, ID: r.ID}
	}
	if existing.TenantID != r.TenantID {
		return &TenantViolationError{Entity: "sharing_rule", ID: r.ID, WantTenant: r.TenantID, ActualTenant: existing.TenantID}
	}
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *MemorySharingStore) DeleteRule(ctx context.Context, tenant TenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[id]
	if !ok {
		return &NotFoundError{Entity: "sharing_rule", Tenant: tenant, ID: id}
	}
	if existing.TenantID != tenant {
		return &TenantViolationError{Entity: "sharing_rule", ID: id, WantTenant: tenant, ActualTenant: existing.TenantID}
	}
	delete(s.rules, id)
	return nil
}

func (s *MemorySharingStore) GetRule(ctx context.Context, tenant TenantID, id string) (*SharingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, &NotFoundError{Entity: "sharing_rule", Tenant: tenant, ID: id}
	}
	if r.TenantID != tenant {
		return nil, &TenantViolationError{Entity: "sharing_rule", ID: id, WantTenant: tenant, ActualTenant: r.TenantID}
	}
	cp := *r
	return &cp, nil
}

func (s *MemorySharingStore) ListRules(ctx context.Context, tenant TenantID) ([]*SharingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SharingRule, 0)
	for _, r := range s.rules {
		if r.TenantID == tenant {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemorySharingStore) CreateShare(ctx context.Context, sh *RecordShare) error {
	if err := sh.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.shares[sh.ID]; ok {
		if existing.TenantID != sh.TenantID {
			return &TenantViolationError{Entity: "record_share", ID: sh.ID, WantTenant: sh.TenantID, ActualTenant: existing.TenantID}
		}
		return &ValidationError{Entity: "record_share", ID: sh.ID, Reason: "id already exists"}
	}
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = time.Now()
	}
	cp := *sh
	s.shares[sh.ID] = &cp
	return nil
}

func (s *MemorySharingStore) DeleteShare(ctx context.Context, tenant TenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.shares[id]
	if !ok {
		return &NotFoundError{Entity: "record_share", Tenant: tenant, ID: id}
	}
	if existing.TenantID != tenant {
		return &TenantViolationError{Entity: "record_share", ID: id, WantTenant: tenant, ActualTenant: existing.TenantID}
	}
	delete(s.shares, id)
	return nil
}

func (s *MemorySharingStore) SharesForRecord(ctx context.Context, tenant TenantID, module, recordID string) ([]*RecordShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RecordShare, 0)
	for _, sh := range s.shares {
		if sh.TenantID == tenant && sh.Module == module && sh.RecordID == recordID {
			cp := *sh
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryModuleStore holds the module registry in a map.
type MemoryModuleStore struct {
	mu      sync.RWMutex
	modules map[memberKey]*Module // (tenant, name, "")
}

func NewMemoryModuleStore() *MemoryModuleStore {
	return &MemoryModuleStore{modules: make(map[memberKey]*Module)}
}

func (s *MemoryModuleStore) CreateModule(ctx context.Context, m *Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{m.TenantID, m.Name, ""}
	if _, ok := s.modules[k]; ok {
		return &ValidationError{Entity: "module", ID: m.Name, Reason: "name already exists"}
	}
	cp := *m
	s.modules[k] = &cp
	return nil
}

func (s *MemoryModuleStore) UpdateModule(ctx context.Context, m *Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{m.TenantID, m.Name, ""}
	if _, ok := s.modules[k]; !ok {
		return &NotFoundError{Entity: "module", Tenant: m.TenantID, ID: m.Name}
	}
	cp := *m
	s.modules[k] = &cp
	return nil
}

func (s *MemoryModuleStore) GetModule(ctx context.Context, tenant TenantID, name string) (*Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[memberKey{tenant, name, ""}]
	if !ok {
		return nil, &NotFoundError{Entity: "module", Tenant: tenant, ID: name}
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryModuleStore) ListModules(ctx context.Context, tenant TenantID) ([]*Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Module, 0)
	for k, m := range s.modules {
		if k.tenant == tenant {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryAuditLog records audit events in a slice.
type MemoryAuditLog struct {
	mu     sync.RWMutex
	events []*AuditEvent
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{events: make([]*AuditEvent, 0)}
}

func (s *MemoryAuditLog) Record(ctx context.Context, ev *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryAuditLog) Events(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEvent, 0)
	for _, ev := range s.events {
		if filter.TenantID != "" && ev.TenantID != filter.TenantID {
			continue
		}
		if filter.ActorID != "" && ev.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && ev.Action != filter.Action {
			continue
		}
		if filter.Module != "" && ev.Module != filter.Module {
			continue
		}
		if !filter.StartTime.IsZero() && ev.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && ev.Timestamp.After(filter.EndTime) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
