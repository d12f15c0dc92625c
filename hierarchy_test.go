package permit

import (
	"context"
	"errors"
	"testing"
)

func seedChain(t *testing.T, store *MemoryRoleStore, tenant TenantID, ids ...string) {
	t.Helper()
	ctx := context.Background()
	parent := ""
	for _, id := range ids {
		role := &Role{ID: id, TenantID: tenant, Name: id, Code: id, ParentID: parent, IsActive: true}
		if err := store.CreateRole(ctx, role); err != nil {
			t.Fatalf("create role %s: %v", id, err)
		}
		parent = id
	}
}

func TestAncestorsOfRootMostFirst(t *testing.T) {
	store := NewMemoryRoleStore()
	seedChain(t, store, "t", "root", "mid", "leaf")
	h := NewHierarchy(store)

	ancestors, err := h.AncestorsOf(context.Background(), "t", "leaf")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("expected 2 ancestors, got %d", len(ancestors))
	}
	if ancestors[0].ID != "root" || ancestors[1].ID != "mid" {
		t.Fatalf("wrong order: %s, %s", ancestors[0].ID, ancestors[1].ID)
	}

	ancestors, err = h.AncestorsOf(context.Background(), "t", "root")
	if err != nil {
		t.Fatalf("ancestors of root: %v", err)
	}
	if len(ancestors) != 0 {
		t.Fatalf("root must have no ancestors, got %d", len(ancestors))
	}
}

func TestAncestorsOfMissingParent(t *testing.T) {
	store := NewMemoryRoleStore()
	ctx := context.Background()
	_ = store.CreateRole(ctx, &Role{ID: "orphan", TenantID: "t", Name: "Orphan", Code: "orphan", ParentID: "gone", IsActive: true})
	h := NewHierarchy(store)

	_, err := h.AncestorsOf(ctx, "t", "orphan")
	if !errors.Is(err, ErrStructuralIntegrity) {
		t.Fatalf("expected structural integrity error, got %v", err)
	}
}

func TestAncestorsOfSelfParent(t *testing.T) {
	store := NewMemoryRoleStore()
	ctx := context.Background()
	_ = store.CreateRole(ctx, &Role{ID: "loop", TenantID: "t", Name: "Loop", Code: "loop", ParentID: "loop", IsActive: true})
	h := NewHierarchy(store)

	_, err := h.AncestorsOf(ctx, "t", "loop")
	if !errors.Is(err, ErrStructuralIntegrity) {
		t.Fatalf("expected structural integrity error, got %v", err)
	}
}

func TestIsDescendant(t *testing.T) {
	store := NewMemoryRoleStore()
	seedChain(t, store, "t", "root", "mid", "leaf")
	_ = store.CreateRole(context.Background(), &Role{ID: "other", TenantID: "t", Name: "Other", Code: "other", IsActive: true})
	h := NewHierarchy(store)
	ctx := context.Background()

	cases := []struct {
		ancestor, role string
		want           bool
	}{
		{"root", "leaf", true},
		{"mid", "leaf", true},
		{"root", "mid", true},
		{"leaf", "root", false},
		{"leaf", "leaf", false}, // never its own descendant
		{"other", "leaf", false},
	}
	for _, c := range cases {
		got, err := h.IsDescendant(ctx, "t", c.ancestor, c.role)
		if err != nil {
			t.Fatalf("IsDescendant(%s, %s): %v", c.ancestor, c.role, err)
		}
		if got != c.want {
			t.Fatalf("IsDescendant(%s, %s) = %v, want %v", c.ancestor, c.role, got, c.want)
		}
	}
}

func TestWouldCreateCycle(t *testing.T) {
	store := NewMemoryRoleStore()
	seedChain(t, store, "t", "root", "mid", "leaf")
	_ = store.CreateRole(context.Background(), &Role{ID: "other", TenantID: "t", Name: "Other", Code: "other", IsActive: true})
	h := NewHierarchy(store)
	ctx := context.Background()

	// every position in the chain must be rejected
	for _, parent := range []string{"root", "mid", "leaf"} {
		cycle, err := h.WouldCreateCycle(ctx, "t", "root", parent)
		if err != nil {
			t.Fatalf("WouldCreateCycle(root, %s): %v", parent, err)
		}
		if !cycle {
			t.Fatalf("making root a child of %s must be a cycle", parent)
		}
	}

	cycle, err := h.WouldCreateCycle(ctx, "t", "leaf", "other")
	if err != nil {
		t.Fatalf("WouldCreateCycle(leaf, other): %v", err)
	}
	if cycle {
		t.Fatal("moving leaf under an unrelated role is not a cycle")
	}

	cycle, err = h.WouldCreateCycle(ctx, "t", "leaf", "")
	if err != nil || cycle {
		t.Fatalf("detaching to root must never cycle, got cycle=%v err=%v", cycle, err)
	}
}

func TestWouldCreateCycleCrossTenantParent(t *testing.T) {
	store := NewMemoryRoleStore()
	ctx := context.Background()
	_ = store.CreateRole(ctx, &Role{ID: "mine", TenantID: "t1", Name: "Mine", Code: "mine", IsActive: true})
	_ = store.CreateRole(ctx, &Role{ID: "theirs", TenantID: "t2", Name: "Theirs", Code: "theirs", IsActive: true})
	h := NewHierarchy(store)

	_, err := h.WouldCreateCycle(ctx, "t1", "mine", "theirs")
	if !errors.Is(err, ErrTenantViolation) {
		t.Fatalf("expected tenant violation, got %v", err)
	}
}

func TestReachableRoles(t *testing.T) {
	store := NewMemoryRoleStore()
	seedChain(t, store, "t", "root", "mid", "leaf")
	h := NewHierarchy(store)

	reach, err := h.ReachableRoles(context.Background(), "t", "leaf")
	if err != nil {
		t.Fatalf("reachable: %v", err)
	}
	if len(reach) != 3 {
		t.Fatalf("expected 3 reachable roles, got %d", len(reach))
	}
	if reach[0].ID != "leaf" || reach[1].ID != "root" || reach[2].ID != "mid" {
		t.Fatalf("wrong order: %s, %s, %s", reach[0].ID, reach[1].ID, reach[2].ID)
	}
}
