package permit

import (
	"context"
	"errors"
	"testing"
)

const testConfigYAML = `
tenants:
  - id: acme
    name: Acme Corp

modules:
  - {tenant_id: acme, name: invoices, is_active: true}

roles:
  - {id: r-manager, tenant_id: acme, name: Manager, code: manager, parent_id: r-director, is_active: true}
  - {id: r-director, tenant_id: acme, name: Director, code: director, is_active: true}

profiles:
  - {id: p-sales, tenant_id: acme, name: Sales, code: sales, is_active: true}

permissions:
  - {id: perm-read, tenant_id: acme, module: invoices, action: read, is_active: true}

profile_effects:
  - {tenant_id: acme, profile_id: p-sales, permission_id: perm-read, effect: allow}

role_profiles:
  - {tenant_id: acme, role_id: r-director, profile_id: p-sales}

groups:
  - {id: g-sales, tenant_id: acme, name: Sales, is_active: true}

user_roles:
  - {tenant_id: acme, user_id: alice, role_id: r-manager}

user_groups:
  - {tenant_id: acme, user_id: alice, group_id: g-sales}

sharing_rules:
  - id: sr-1
    tenant_id: acme
    rule_type: user_to_user
    source_user_id: alice
    target_user_id: bob
    module: invoices
    is_active: true

record_shares:
  - {id: sh-1, tenant_id: acme, module: invoices, record_id: inv-9, shared_with_user_id: carol}

engine:
  decision_cache_ttl_ms: 2000
`

func TestLoadYAMLAndApply(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := e.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// parent declared after the child still resolves
	manager, err := e.Roles().GetRole(ctx, "acme", "r-manager")
	if err != nil {
		t.Fatalf("get manager: %v", err)
	}
	if manager.ParentID != "r-director" {
		t.Fatalf("manager parent = %q, want r-director", manager.ParentID)
	}

	dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed || dec.Source != SourceRoleMatrix {
		t.Fatalf("expected matrix allow after apply, got %+v", dec)
	}

	dec, _ = e.Evaluate(ctx, "acme", "bob", "invoices", "inv-1", ActionRead)
	if !dec.Allowed || dec.Source != SourceSharingRule {
		t.Fatalf("expected sharing allow for bob, got %+v", dec)
	}

	dec, _ = e.Evaluate(ctx, "acme", "carol", "invoices", "inv-9", ActionRead)
	if !dec.Allowed || dec.Source != SourceRecordShare {
		t.Fatalf("expected record-share allow for carol, got %+v", dec)
	}
}

func TestConfigJSONRoundtrip(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	cfg2, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(cfg2.Roles) != len(cfg.Roles) || len(cfg2.SharingRules) != len(cfg.SharingRules) {
		t.Fatalf("roundtrip lost entries: %+v", cfg2)
	}
	if cfg2.Engine.DecisionCacheTTL != 2000 {
		t.Fatalf("engine tuning lost: %+v", cfg2.Engine)
	}
}

func TestConfigValidateRejectsBadInput(t *testing.T) {
	base := func() *Config {
		cfg, err := NewConfigLoader().LoadYAML([]byte(testConfigYAML))
		if err != nil {
			t.Fatalf("load yaml: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Roles[0].TenantID = "ghost-tenant"
	if err := cfg.Validate(); err == nil {
		t.Fatal("undeclared tenant must be rejected")
	}

	cfg = base()
	cfg.Roles[0].ParentID = "r-nowhere"
	if err := cfg.Validate(); err == nil {
		t.Fatal("undeclared parent must be rejected")
	}

	cfg = base()
	cfg.Permissions[0].Action = "explode"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown action must be rejected")
	}

	cfg = base()
	cfg.SharingRules[0].TargetUserID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("malformed sharing rule must be rejected")
	}
}

func TestApplyConfigRejectsCyclicRoles(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()

	cfg := &Config{
		Roles: []*Role{
			{ID: "a", TenantID: "t", Name: "A", Code: "a", ParentID: "b", IsActive: true},
			{ID: "b", TenantID: "t", Name: "B", Code: "b", ParentID: "a", IsActive: true},
		},
	}
	err := e.ApplyConfig(context.Background(), cfg)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("cyclic declaration must be rejected, got %v", err)
	}
}
