package permit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config seeds an engine's stores from a declarative document. It is
// the bootstrap path for fixtures, tooling and small deployments; live
// mutations go through the administrative operations.
type Config struct {
	Tenants        []TenantConfig  `json:"tenants" yaml:"tenants"`
	Modules        []*Module       `json:"modules" yaml:"modules"`
	Roles          []*Role         `json:"roles" yaml:"roles"`
	Profiles       []*Profile      `json:"profiles" yaml:"profiles"`
	Permissions    []*Permission   `json:"permissions" yaml:"permissions"`
	ProfileEffects []ProfileEffect `json:"profile_effects" yaml:"profile_effects"`
	RoleProfiles   []RoleProfile   `json:"role_profiles" yaml:"role_profiles"`
	Groups         []*Group        `json:"groups" yaml:"groups"`
	UserRoles      []UserRole      `json:"user_roles" yaml:"user_roles"`
	UserGroups     []UserGroup     `json:"user_groups" yaml:"user_groups"`
	SharingRules   []*SharingRule  `json:"sharing_rules" yaml:"sharing_rules"`
	RecordShares   []*RecordShare  `json:"record_shares" yaml:"record_shares"`
	Engine         EngineConfig    `json:"engine" yaml:"engine"`
}

type TenantConfig struct {
	ID   TenantID `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
}

type RoleProfile struct {
	TenantID  TenantID `json:"tenant_id" yaml:"tenant_id"`
	RoleID    string   `json:"role_id" yaml:"role_id"`
	ProfileID string   `json:"profile_id" yaml:"profile_id"`
}

type UserRole struct {
	TenantID TenantID `json:"tenant_id" yaml:"tenant_id"`
	UserID   string   `json:"user_id" yaml:"user_id"`
	RoleID   string   `json:"role_id" yaml:"role_id"`
}

type UserGroup struct {
	TenantID TenantID `json:"tenant_id" yaml:"tenant_id"`
	UserID   string   `json:"user_id" yaml:"user_id"`
	GroupID  string   `json:"group_id" yaml:"group_id"`
}

type EngineConfig struct {
	DecisionCacheTTL     int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	RistrettoNumCounters int64 `json:"ristretto_num_counters" yaml:"ristretto_num_counters"`
	RistrettoMaxCost     int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBufferItems int64 `json:"ristretto_buffer_items" yaml:"ristretto_buffer_items"`
}

// ConfigLoader reads configuration documents.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension (.yaml, .yml, .json).
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// ToYAML exports the config.
func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON exports the config.
func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Validate checks the closed enums and shape invariants of every entry
// before anything touches a store.
func (c *Config) Validate() error {
	tenants := make(map[TenantID]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return &ValidationError{Entity: "tenant", Reason: "id is required"}
		}
		tenants[t.ID] = true
	}
	inTenant := func(entity, id string, tenant TenantID) error {
		if len(tenants) > 0 && !tenants[tenant] {
			return &ValidationError{Entity: entity, ID: id, Reason: fmt.Sprintf("references undeclared tenant %q", tenant)}
		}
		return nil
	}
	roleTenant := make(map[string]TenantID, len(c.Roles))
	for _, r := range c.Roles {
		if r.ID == "" || r.Code == "" {
			return &ValidationError{Entity: "role", ID: r.ID, Reason: "id and code are required"}
		}
		if err := inTenant("role", r.ID, r.TenantID); err != nil {
			return err
		}
		roleTenant[r.ID] = r.TenantID
	}
	for _, r := range c.Roles {
		if r.ParentID == "" {
			continue
		}
		pt, ok := roleTenant[r.ParentID]
		if !ok {
			return &ValidationError{Entity: "role", ID: r.ID, Reason: fmt.Sprintf("parent %q is not declared", r.ParentID)}
		}
		if pt != r.TenantID {
			return &TenantViolationError{Entity: "role", ID: r.ParentID, WantTenant: r.TenantID, ActualTenant: pt}
		}
	}
	for _, p := range c.Permissions {
		if !p.Action.Valid() {
			return &ValidationError{Entity: "permission", ID: p.ID, Reason: "unknown action " + string(p.Action)}
		}
		if err := inTenant("permission", p.ID, p.TenantID); err != nil {
			return err
		}
	}
	for _, pe := range c.ProfileEffects {
		if !pe.Effect.Valid() {
			return &ValidationError{Entity: "profile_effect", ID: pe.ProfileID + "/" + pe.PermissionID, Reason: "effect must be allow or deny"}
		}
	}
	for _, r := range c.SharingRules {
		if err := r.Validate(); err != nil {
			return err
		}
		if err := inTenant("sharing_rule", r.ID, r.TenantID); err != nil {
			return err
		}
	}
	for _, s := range c.RecordShares {
		if err := s.Validate(); err != nil {
			return err
		}
		if err := inTenant("record_share", s.ID, s.TenantID); err != nil {
			return err
		}
	}
	return nil
}

// ApplyConfig validates and loads the document into the engine's
// stores. Roles are created in two passes so parents go through the
// cycle-checked reparent path regardless of declaration order.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Engine.DecisionCacheTTL > 0 {
		e.SetDecisionCacheTTL(time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond)
	}
	if cfg.Engine.RistrettoNumCounters > 0 {
		if err := e.ConfigureDecisionCache(cfg.Engine.RistrettoNumCounters, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBufferItems); err != nil {
			return fmt.Errorf("configure decision cache: %w", err)
		}
	}
	for _, m := range cfg.Modules {
		if err := e.modules.CreateModule(ctx, m); err != nil {
			return fmt.Errorf("create module %s: %w", m.Name, err)
		}
	}
	for _, p := range cfg.Profiles {
		if err := e.profiles.CreateProfile(ctx, p); err != nil {
			return fmt.Errorf("create profile %s: %w", p.ID, err)
		}
	}
	for _, p := range cfg.Permissions {
		if err := e.profiles.CreatePermission(ctx, p); err != nil {
			return fmt.Errorf("create permission %s: %w", p.ID, err)
		}
	}
	for _, pe := range cfg.ProfileEffects {
		if err := e.profiles.SetEffect(ctx, pe.TenantID, pe.ProfileID, pe.PermissionID, pe.Effect); err != nil {
			return fmt.Errorf("set effect %s/%s: %w", pe.ProfileID, pe.PermissionID, err)
		}
	}
	for _, r := range cfg.Roles {
		root := *r
		root.ParentID = ""
		if err := e.CreateRole(ctx, &root); err != nil {
			return fmt.Errorf("create role %s: %w", r.ID, err)
		}
	}
	for _, r := range cfg.Roles {
		if r.ParentID == "" {
			continue
		}
		if err := e.ReparentRole(ctx, r.TenantID, r.ID, r.ParentID); err != nil {
			return fmt.Errorf("reparent role %s: %w", r.ID, err)
		}
	}
	for _, rp := range cfg.RoleProfiles {
		if err := e.roles.AttachProfile(ctx, rp.TenantID, rp.RoleID, rp.ProfileID); err != nil {
			return fmt.Errorf("attach profile %s to role %s: %w", rp.ProfileID, rp.RoleID, err)
		}
	}
	for _, g := range cfg.Groups {
		if err := e.groups.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("create group %s: %w", g.ID, err)
		}
	}
	for _, ur := range cfg.UserRoles {
		if err := e.roles.AssignRole(ctx, ur.TenantID, ur.UserID, ur.RoleID); err != nil {
			return fmt.Errorf("assign role %s to user %s: %w", ur.RoleID, ur.UserID, err)
		}
	}
	for _, ug := range cfg.UserGroups {
		if err := e.groups.AddMember(ctx, ug.TenantID, ug.GroupID, ug.UserID); err != nil {
			return fmt.Errorf("add user %s to group %s: %w", ug.UserID, ug.GroupID, err)
		}
	}
	for _, r := range cfg.SharingRules {
		if err := e.CreateSharingRule(ctx, r); err != nil {
			return fmt.Errorf("create sharing rule %s: %w", r.ID, err)
		}
	}
	for _, s := range cfg.RecordShares {
		if err := e.ShareRecord(ctx, s); err != nil {
			return fmt.Errorf("create record share %s: %w", s.ID, err)
		}
	}
	e.InvalidateDecisions()
	return nil
}
