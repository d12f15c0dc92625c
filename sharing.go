package permit

import (
	"context"

	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// SHARING RULES
// ============================================================================

// Sharing evaluates explicit grants between principals and per-record
// shares, independent of the role/profile path. A matched grant
// satisfies any requested action: the rule model carries no action
// column, so sharing authorizes the record, not an operation subset.
type Sharing struct {
	rules      SharingStore
	hierarchy  *Hierarchy
	membership *Membership
	roles      RoleStore

	// optional override for direct role IDs (e.g. the Redis mirror)
	membershipSource MembershipSource
}

// NewSharing returns a Sharing engine over the given collaborators.
func NewSharing(rules SharingStore, hierarchy *Hierarchy, membership *Membership, roles RoleStore) *Sharing {
	return &Sharing{rules: rules, hierarchy: hierarchy, membership: membership, roles: roles}
}

// actorContext is the actor's resolved standing within one tenant,
// computed once per evaluation and threaded through the signal sources.
type actorContext struct {
	UserID      string
	RoleIDs     []string
	RoleClosure map[string]*Role
	Groups      []*Group
}

func (a *actorContext) inGroup(groupID string) bool {
	for _, g := range a.Groups {
		if g.ID == groupID {
			return true
		}
	}
	return false
}

func (a *actorContext) holdsOrInherits(roleID string) bool {
	_, ok := a.RoleClosure[roleID]
	return ok
}

// GrantsFor returns every sharing grant that applies to the actor for
// the given resource. Inactive rules contribute nothing.
func (s *Sharing) GrantsFor(ctx context.Context, tenant TenantID, userID, module, recordID string, action Action) ([]Grant, error) {
	actor, err := s.resolveActor(ctx, tenant, userID)
	if err != nil {
		return nil, err
	}
	return s.grantsForActor(ctx, tenant, actor, module, recordID, action)
}

func (s *Sharing) resolveActor(ctx context.Context, tenant TenantID, userID string) (*actorContext, error) {
	var roleIDs []string
	var err error
	if s.membershipSource != nil {
		roleIDs, err = s.membershipSource.RoleIDsOf(ctx, tenant, userID)
	} else {
		roleIDs, err = s.roles.RolesOf(ctx, tenant, userID)
	}
	if err != nil {
		return nil, err
	}
	closure, err := s.hierarchy.reachableSet(ctx, tenant, roleIDs)
	if err != nil {
		return nil, err
	}
	groups, err := s.membership.GroupsOf(ctx, tenant, userID)
	if err != nil {
		return nil, err
	}
	return &actorContext{UserID: userID, RoleIDs: roleIDs, RoleClosure: closure, Groups: groups}, nil
}

func (s *Sharing) grantsForActor(ctx context.Context, tenant TenantID, actor *actorContext, module, recordID string, _ Action) ([]Grant, error) {
	grants := make([]Grant, 0, 2)

	rules, err := s.rules.ListRules(ctx, tenant)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if !rule.Ref().In(tenant) {
			return nil, &TenantViolationError{Entity: "sharing_rule", ID: rule.ID, WantTenant: tenant, ActualTenant: rule.TenantID}
		}
		if rule.Module != "" && !utils.MatchModule(module, rule.Module) {
			continue
		}
		switch rule.Type {
		case RuleUserToUser:
			if rule.TargetUserID == actor.UserID {
				grants = append(grants, Grant{Kind: GrantUser, Source: rule.SourceUserID, RuleID: rule.ID})
			}
		case RuleRoleToRole:
			// the acting party may hold the target role directly or
			// inherit it through an ancestor
			if actor.holdsOrInherits(rule.TargetRoleID) {
				grants = append(grants, Grant{Kind: GrantRole, Source: rule.SourceRoleID, RuleID: rule.ID})
			}
		case RuleGroupToGroup:
			if actor.inGroup(rule.TargetGroupID) {
				grants = append(grants, Grant{Kind: GrantGroup, Source: rule.SourceGroupID, RuleID: rule.ID})
			}
		case RuleRecordLevel:
			// record_level rules are markers; the concrete grants live
			// in record_shares and are matched below
		}
	}

	if recordID != "" {
		shares, err := s.rules.SharesForRecord(ctx, tenant, module, recordID)
		if err != nil {
			return nil, err
		}
		for _, share := range shares {
			if share.TenantID != tenant {
				return nil, &TenantViolationError{Entity: "record_share", ID: share.ID, WantTenant: tenant, ActualTenant: share.TenantID}
			}
			switch {
			case share.UserID != "":
				if share.UserID == actor.UserID {
					grants = append(grants, Grant{Kind: GrantRecord, Source: "user:" + share.UserID, RuleID: share.ID})
				}
			case share.GroupID != "":
				if actor.inGroup(share.GroupID) {
					grants = append(grants, Grant{Kind: GrantRecord, Source: "group:" + share.GroupID, RuleID: share.ID})
				}
			case share.RoleID != "":
				if actor.holdsOrInherits(share.RoleID) {
					grants = append(grants, Grant{Kind: GrantRecord, Source: "role:" + share.RoleID, RuleID: share.ID})
				}
			}
		}
	}

	return grants, nil
}
