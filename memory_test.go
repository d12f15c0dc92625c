package permit

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryCreateRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	roles := NewMemoryRoleStore()

	if err := roles.CreateRole(ctx, &Role{ID: "r1", TenantID: "t1", Code: "r1", IsActive: true}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	err := roles.CreateRole(ctx, &Role{ID: "r1", TenantID: "t1", Code: "other"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for duplicate id, got %v", err)
	}

	// an ID held by another tenant must not be clobbered
	err = roles.CreateRole(ctx, &Role{ID: "r1", TenantID: "t2", Code: "steal"})
	if !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("expected tenant violation, got %v", err)
	}
	got, err := roles.GetRole(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if got.Code != "r1" {
		t.Fatalf("original role must survive the rejected create, got %+v", got)
	}
}

func TestMemoryCreateDuplicateAcrossStores(t *testing.T) {
	ctx := context.Background()

	profiles := NewMemoryProfileStore()
	if err := profiles.CreateProfile(ctx, &Profile{ID: "p1", TenantID: "t1", Code: "p1", IsActive: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := profiles.CreateProfile(ctx, &Profile{ID: "p1", TenantID: "t2", Code: "p1"}); !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("profile: expected tenant violation, got %v", err)
	}
	if err := profiles.CreatePermission(ctx, &Permission{ID: "perm1", TenantID: "t1", Module: "docs", Action: ActionRead}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := profiles.CreatePermission(ctx, &Permission{ID: "perm1", TenantID: "t2", Module: "docs", Action: ActionRead}); !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("permission: expected tenant violation, got %v", err)
	}

	groups := NewMemoryGroupStore()
	if err := groups.CreateGroup(ctx, &Group{ID: "g1", TenantID: "t1", Name: "G"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := groups.CreateGroup(ctx, &Group{ID: "g1", TenantID: "t2", Name: "G"}); !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("group: expected tenant violation, got %v", err)
	}

	sharing := NewMemorySharingStore()
	rule := &SharingRule{ID: "sr1", TenantID: "t1", Type: RuleUserToUser, SourceUserID: "a", TargetUserID: "b"}
	if err := sharing.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	foreign := &SharingRule{ID: "sr1", TenantID: "t2", Type: RuleUserToUser, SourceUserID: "a", TargetUserID: "b"}
	if err := sharing.CreateRule(ctx, foreign); !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("rule: expected tenant violation, got %v", err)
	}
	share := &RecordShare{ID: "sh1", TenantID: "t1", Module: "docs", RecordID: "d1", UserID: "u"}
	if err := sharing.CreateShare(ctx, share); err != nil {
		t.Fatalf("create share: %v", err)
	}
	stolen := &RecordShare{ID: "sh1", TenantID: "t2", Module: "docs", RecordID: "d1", UserID: "u"}
	if err := sharing.CreateShare(ctx, stolen); !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("share: expected tenant violation, got %v", err)
	}

	// modules are keyed per tenant, so only a same-tenant duplicate collides
	modules := NewMemoryModuleStore()
	if err := modules.CreateModule(ctx, &Module{TenantID: "t1", Name: "docs", IsActive: true}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	if err := modules.CreateModule(ctx, &Module{TenantID: "t2", Name: "docs", IsActive: true}); err != nil {
		t.Fatalf("same name under another tenant must be fine: %v", err)
	}
	err := modules.CreateModule(ctx, &Module{TenantID: "t1", Name: "docs"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("module: expected validation error, got %v", err)
	}
}
