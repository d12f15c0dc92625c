package permit

import (
	"context"
	"errors"
)

// ============================================================================
// GROUP MEMBERSHIP
// ============================================================================

// Membership resolves the active groups a user belongs to. Groups stay
// independent of the role tree; they feed the sharing engine only.
type Membership struct {
	groups GroupStore
	source MembershipSource
}

// NewMembership returns a Membership over the given group store.
func NewMembership(groups GroupStore) *Membership {
	return &Membership{groups: groups}
}

// SetSource overrides where direct group IDs come from (e.g. Redis).
// Group records themselves are still resolved through the group store
// so activity flags stay authoritative.
func (m *Membership) SetSource(src MembershipSource) { m.source = src }

// GroupsOf returns the user's active groups. Memberships pointing at
// deactivated or vanished groups contribute nothing.
func (m *Membership) GroupsOf(ctx context.Context, tenant TenantID, userID string) ([]*Group, error) {
	var ids []string
	var err error
	if m.source != nil {
		ids, err = m.source.GroupIDsOf(ctx, tenant, userID)
	} else {
		ids, err = m.groups.GroupIDsOf(ctx, tenant, userID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*Group, 0, len(ids))
	for _, id := range ids {
		g, err := m.groups.GetGroup(ctx, tenant, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !g.IsActive {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}
