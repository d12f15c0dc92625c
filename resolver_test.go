package permit

import (
	"context"
	"errors"
	"testing"

	"github.com/oarkflow/permit/logger"
)

type testEngine struct {
	*Engine
	audit *MemoryAuditLog
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	audit := NewMemoryAuditLog()
	eng := NewEngine(
		NewMemoryRoleStore(),
		NewMemoryProfileStore(),
		NewMemoryGroupStore(),
		NewMemorySharingStore(),
		NewMemoryModuleStore(),
		audit,
	)
	eng.SetLogger(logger.NewNullLogger())
	return &testEngine{Engine: eng, audit: audit}
}

// seedSalesTenant sets up the acme tenant: an invoices module with
// read/delete/export permissions, a sales profile (allow read, allow
// delete), a strict profile (deny delete) and a director > manager
// hierarchy. alice holds manager.
func seedSalesTenant(t *testing.T, e *testEngine) {
	t.Helper()
	ctx := context.Background()

	if err := e.Modules().CreateModule(ctx, &Module{TenantID: "acme", Name: "invoices", IsActive: true}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	perms := []*Permission{
		{ID: "perm-read", TenantID: "acme", Module: "invoices", Action: ActionRead, IsActive: true},
		{ID: "perm-delete", TenantID: "acme", Module: "invoices", Action: ActionDelete, IsActive: true},
		{ID: "perm-export", TenantID: "acme", Module: "invoices", Action: ActionExport, IsActive: true},
	}
	for _, p := range perms {
		if err := e.Profiles().CreatePermission(ctx, p); err != nil {
			t.Fatalf("create permission %s: %v", p.ID, err)
		}
	}

	if err := e.Profiles().CreateProfile(ctx, &Profile{ID: "p-sales", TenantID: "acme", Name: "Sales", Code: "sales", IsActive: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	_ = e.Profiles().SetEffect(ctx, "acme", "p-sales", "perm-read", EffectAllow)
	_ = e.Profiles().SetEffect(ctx, "acme", "p-sales", "perm-delete", EffectAllow)

	if err := e.Profiles().CreateProfile(ctx, &Profile{ID: "p-strict", TenantID: "acme", Name: "Strict", Code: "strict", IsActive: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	_ = e.Profiles().SetEffect(ctx, "acme", "p-strict", "perm-delete", EffectDeny)

	if err := e.CreateRole(ctx, &Role{ID: "r-director", TenantID: "acme", Name: "Director", Code: "director", IsActive: true}); err != nil {
		t.Fatalf("create director: %v", err)
	}
	if err := e.CreateRole(ctx, &Role{ID: "r-manager", TenantID: "acme", Name: "Manager", Code: "manager", ParentID: "r-director", IsActive: true}); err != nil {
		t.Fatalf("create manager: %v", err)
	}
	_ = e.Roles().AttachProfile(ctx, "acme", "r-director", "p-sales")
	_ = e.Roles().AttachProfile(ctx, "acme", "r-manager", "p-strict")
	_ = e.Roles().AssignRole(ctx, "acme", "alice", "r-manager")
}

func TestEvaluateAllowViaInheritedProfile(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed || dec.Source != SourceRoleMatrix {
		t.Fatalf("expected role-matrix allow, got %+v", dec)
	}
}

func TestEvaluateDenyWinsAcrossProfiles(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	// p-sales (inherited) allows delete, p-strict (direct) denies it
	dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionDelete)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("explicit deny must win over allow, got %+v", dec)
	}
	if dec.Effect != EffectDeny {
		t.Fatalf("expected deny effect, got %s", dec.Effect)
	}
}

func TestEvaluateFailClosed(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	// no profile touches export, no sharing applies
	dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionExport)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Source != SourceNone {
		t.Fatalf("absence of signals must deny, got %+v", dec)
	}
	if dec.Reason != "no matching signal from any source" {
		t.Fatalf("unexpected reason: %s", dec.Reason)
	}
}

func TestEvaluateRecordShareAllows(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	// bob has no role at all
	share := &RecordShare{ID: "sh1", TenantID: "acme", Module: "invoices", RecordID: "inv-7", UserID: "bob"}
	if err := e.ShareRecord(ctx, share); err != nil {
		t.Fatalf("share record: %v", err)
	}

	dec, err := e.Evaluate(ctx, "acme", "bob", "invoices", "inv-7", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed || dec.Source != SourceRecordShare {
		t.Fatalf("expected record-share allow, got %+v", dec)
	}

	// a share authorizes the record for any action
	dec, _ = e.Evaluate(ctx, "acme", "bob", "invoices", "inv-7", ActionUpdate)
	if !dec.Allowed {
		t.Fatalf("share must satisfy any action, got %+v", dec)
	}

	// but only that record
	dec, _ = e.Evaluate(ctx, "acme", "bob", "invoices", "inv-8", ActionRead)
	if dec.Allowed {
		t.Fatalf("unshared record must deny, got %+v", dec)
	}
}

func TestEvaluateCrossTenantRoleAborts(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	_ = e.Modules().CreateModule(ctx, &Module{TenantID: "t1", Name: "docs", IsActive: true})
	if err := e.CreateRole(ctx, &Role{ID: "r-foreign", TenantID: "t2", Name: "Foreign", Code: "foreign", IsActive: true}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	// membership row in t1 pointing at a t2 role
	_ = e.Roles().AssignRole(ctx, "t1", "eve", "r-foreign")

	dec, err := e.Evaluate(ctx, "t1", "eve", "docs", "d1", ActionRead)
	if !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("expected tenant violation, got dec=%+v err=%v", dec, err)
	}
	if dec != nil {
		t.Fatalf("aborted evaluation must produce no decision, got %+v", dec)
	}
}

func TestEvaluateInvalidRequest(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	if _, err := e.Evaluate(ctx, "acme", "alice", "invoices", "", Action("drop")); err == nil {
		t.Fatal("unknown action must be rejected")
	}
	if _, err := e.Evaluate(ctx, "", "alice", "invoices", "", ActionRead); err == nil {
		t.Fatal("empty tenant must be rejected")
	}
	if _, err := e.Evaluate(ctx, "acme", "", "invoices", "", ActionRead); err == nil {
		t.Fatal("empty actor must be rejected")
	}
	if _, err := e.Evaluate(ctx, "acme", "alice", "", "", ActionRead); err == nil {
		t.Fatal("empty module must be rejected")
	}
}

func TestDeactivateReactivateRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	allowed := func() bool {
		dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		return dec.Allowed
	}

	if !allowed() {
		t.Fatal("baseline read must be allowed")
	}
	if err := e.SetProfileActive(ctx, "acme", "p-sales", false); err != nil {
		t.Fatalf("deactivate profile: %v", err)
	}
	if allowed() {
		t.Fatal("deactivated profile must contribute nothing")
	}
	if err := e.SetProfileActive(ctx, "acme", "p-sales", true); err != nil {
		t.Fatalf("reactivate profile: %v", err)
	}
	if !allowed() {
		t.Fatal("reactivation must restore the allow unchanged")
	}

	if err := e.SetRoleActive(ctx, "acme", "r-director", false); err != nil {
		t.Fatalf("deactivate role: %v", err)
	}
	if allowed() {
		t.Fatal("deactivated ancestor role must contribute nothing")
	}
	if err := e.SetRoleActive(ctx, "acme", "r-director", true); err != nil {
		t.Fatalf("reactivate role: %v", err)
	}
	if !allowed() {
		t.Fatal("reactivated role must contribute again")
	}
}

func TestEvaluateInactiveHeldRoleSeversInheritance(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	// alice's only link to the hierarchy is r-manager; deactivating it
	// must cut off the director profiles too, not just its own
	if err := e.SetRoleActive(ctx, "acme", "r-manager", false); err != nil {
		t.Fatalf("deactivate role: %v", err)
	}
	dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("inactive held role must sever ancestor profiles, got %+v", dec)
	}
	if dec.Source != SourceNone {
		t.Fatalf("expected fail-closed deny, got source %s", dec.Source)
	}

	if err := e.SetRoleActive(ctx, "acme", "r-manager", true); err != nil {
		t.Fatalf("reactivate role: %v", err)
	}
	dec, err = e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("reactivation must restore the inherited allow, got %+v", dec)
	}
}

func TestEvaluateInactiveRoleDropsSharingGrants(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	ctx := context.Background()

	if err := e.Modules().CreateModule(ctx, &Module{TenantID: "t", Name: "docs", IsActive: true}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	if err := e.CreateRole(ctx, &Role{ID: "r-src", TenantID: "t", Code: "src", IsActive: true}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := e.CreateRole(ctx, &Role{ID: "r-shared", TenantID: "t", Code: "shared", IsActive: true}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	_ = e.Roles().AssignRole(ctx, "t", "bob", "r-shared")
	if err := e.CreateSharingRule(ctx, &SharingRule{
		ID: "sr1", TenantID: "t", Type: RuleRoleToRole, Module: "docs",
		SourceRoleID: "r-src", TargetRoleID: "r-shared", IsActive: true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := e.ShareRecord(ctx, &RecordShare{ID: "sh1", TenantID: "t", Module: "docs", RecordID: "d1", RoleID: "r-shared"}); err != nil {
		t.Fatalf("share record: %v", err)
	}

	dec, err := e.Evaluate(ctx, "t", "bob", "docs", "d1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("baseline share must allow, got %+v", dec)
	}

	// the rule and the record share both target r-shared; deactivating
	// it must silence both grants
	if err := e.SetRoleActive(ctx, "t", "r-shared", false); err != nil {
		t.Fatalf("deactivate role: %v", err)
	}
	dec, err = e.Evaluate(ctx, "t", "bob", "docs", "d1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("deactivated role must not satisfy role-targeted grants, got %+v", dec)
	}

	if err := e.SetRoleActive(ctx, "t", "r-shared", true); err != nil {
		t.Fatalf("reactivate role: %v", err)
	}
	dec, err = e.Evaluate(ctx, "t", "bob", "docs", "d1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("reactivation must restore the grants, got %+v", dec)
	}
}

func TestMutationAfterCloseIsDropped(t *testing.T) {
	e := newTestEngine(t)
	seedSalesTenant(t, e)
	ctx := context.Background()
	e.Close()

	// the audit worker is gone; the mutation must still land, its
	// audit event is dropped instead of panicking on the closed channel
	if err := e.SetRoleActive(ctx, "acme", "r-manager", false); err != nil {
		t.Fatalf("set active after close: %v", err)
	}
	role, err := e.Roles().GetRole(ctx, "acme", "r-manager")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.IsActive {
		t.Fatal("deactivation must persist after close")
	}
}

func TestExplainKeepsSignals(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	dec, err := e.Explain(ctx, "acme", "alice", "invoices", "inv-1", ActionDelete)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if len(dec.Signals) < 2 {
		t.Fatalf("explain must keep all signals, got %+v", dec.Signals)
	}
	sawDeny := false
	for _, s := range dec.Signals {
		if s.Effect == EffectDeny {
			sawDeny = true
		}
	}
	if !sawDeny {
		t.Fatalf("expected a deny signal among %+v", dec.Signals)
	}

	// the plain path strips them
	dec, _ = e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionDelete)
	if dec.Signals != nil {
		t.Fatalf("evaluate must not carry signals, got %+v", dec.Signals)
	}
}

func TestBatchEvaluate(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	decs, err := e.BatchEvaluate(ctx, "acme", []EvalRequest{
		{ActorID: "alice", Module: "invoices", Action: ActionRead},
		{ActorID: "alice", Module: "invoices", Action: ActionDelete},
		{ActorID: "alice", Module: "invoices", Action: ActionExport},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(decs) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decs))
	}
	if !decs[0].Allowed || decs[1].Allowed || decs[2].Allowed {
		t.Fatalf("unexpected batch outcome: %v %v %v", decs[0].Allowed, decs[1].Allowed, decs[2].Allowed)
	}
}

func TestEffectivePermissions(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	actions, err := e.EffectivePermissions(ctx, "acme", "alice", "invoices")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(actions) != 1 || actions[0] != ActionRead {
		t.Fatalf("expected [read], got %v", actions)
	}
}

func TestEvaluateEmitsAudit(t *testing.T) {
	e := newTestEngine(t)
	seedSalesTenant(t, e)
	ctx := context.Background()

	if _, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := e.Evaluate(ctx, "t-missing", "eve", "invoices", "", Action("bogus")); err == nil {
		t.Fatal("expected validation error")
	}
	e.Close() // drain the audit channel

	events, err := e.audit.Events(ctx, AuditFilter{TenantID: "acme", ActorID: "alice", Action: "evaluate.read"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 evaluation event, got %d", len(events))
	}
	ev := events[0]
	if ev.Status != AuditSuccess || ev.Decision != EffectAllow || ev.Module != "invoices" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	failed, err := e.audit.Events(ctx, AuditFilter{Action: "evaluate.bogus"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(failed) != 1 || failed[0].Status != AuditFailed {
		t.Fatalf("aborted evaluation must record a failed event, got %+v", failed)
	}
}

func TestDecisionCacheInvalidation(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	if err := e.ConfigureDecisionCache(0, 0, 0); err != nil {
		t.Fatalf("configure cache: %v", err)
	}

	dec, err := e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if err != nil || !dec.Allowed {
		t.Fatalf("baseline evaluate: dec=%+v err=%v", dec, err)
	}

	// revoking must not be masked by a stale cached allow
	if err := e.SetProfileActive(ctx, "acme", "p-sales", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	dec, err = e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if err != nil {
		t.Fatalf("evaluate after revoke: %v", err)
	}
	if dec.Allowed {
		t.Fatal("mutation must invalidate cached decisions")
	}
}

func TestRedisStyleMembershipSource(t *testing.T) {
	e := newTestEngine(t)
	defer e.Close()
	seedSalesTenant(t, e)
	ctx := context.Background()

	// override direct membership: alice loses manager, carl gains it
	e.SetMembershipSource(&staticMembership{
		roles: map[string][]string{"carl": {"r-manager"}},
	})

	dec, _ := e.Evaluate(ctx, "acme", "carl", "invoices", "inv-1", ActionRead)
	if !dec.Allowed {
		t.Fatalf("source-provided role must grant access, got %+v", dec)
	}
	dec, _ = e.Evaluate(ctx, "acme", "alice", "invoices", "inv-1", ActionRead)
	if dec.Allowed {
		t.Fatalf("store membership must be ignored once a source is set, got %+v", dec)
	}
}

type staticMembership struct {
	roles  map[string][]string
	groups map[string][]string
}

func (s *staticMembership) RoleIDsOf(ctx context.Context, tenant TenantID, userID string) ([]string, error) {
	return s.roles[userID], nil
}

func (s *staticMembership) GroupIDsOf(ctx context.Context, tenant TenantID, userID string) ([]string, error) {
	return s.groups[userID], nil
}
