package permit

import (
	"context"
	"errors"
)

// ============================================================================
// PERMISSION MATRIX
// ============================================================================

// Matrix aggregates profile effects over a tenant's role hierarchy.
// Inactive profiles, permissions, modules and roles contribute nothing;
// an explicit deny from any contributing profile beats every allow.
type Matrix struct {
	hierarchy *Hierarchy
	roles     RoleStore
	profiles  ProfileStore
	modules   ModuleStore
}

// NewMatrix returns a Matrix over the given stores.
func NewMatrix(hierarchy *Hierarchy, roles RoleStore, profiles ProfileStore, modules ModuleStore) *Matrix {
	return &Matrix{hierarchy: hierarchy, roles: roles, profiles: profiles, modules: modules}
}

// effectEntry records which profile and role produced an effect, kept
// so the resolver can name the deciding source.
type effectEntry struct {
	Effect    Effect
	ProfileID string
	RoleID    string
}

// EffectsForProfile maps each permission the profile touches to its
// effect. An inactive profile yields an empty map, not an error.
func (m *Matrix) EffectsForProfile(ctx context.Context, tenant TenantID, profileID string) (map[PermissionKey]Effect, error) {
	entries, err := m.effectsForProfile(ctx, tenant, profileID, "")
	if err != nil {
		return nil, err
	}
	out := make(map[PermissionKey]Effect, len(entries))
	for k, e := range entries {
		out[k] = e.Effect
	}
	return out, nil
}

func (m *Matrix) effectsForProfile(ctx context.Context, tenant TenantID, profileID, viaRoleID string) (map[PermissionKey]effectEntry, error) {
	profile, err := m.profiles.GetProfile(ctx, tenant, profileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return map[PermissionKey]effectEntry{}, nil
		}
		return nil, err
	}
	if !profile.IsActive {
		return map[PermissionKey]effectEntry{}, nil
	}
	rows, err := m.profiles.EffectsOf(ctx, tenant, profileID)
	if err != nil {
		return nil, err
	}
	out := make(map[PermissionKey]effectEntry, len(rows))
	for _, row := range rows {
		perm, err := m.profiles.GetPermission(ctx, tenant, row.PermissionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !perm.IsActive {
			continue
		}
		if !m.moduleActive(ctx, tenant, perm.Module) {
			continue
		}
		mergeEffect(out, perm.Key(), effectEntry{Effect: row.Effect, ProfileID: profileID, RoleID: viaRoleID})
	}
	return out, nil
}

// EffectsForRole unions EffectsForProfile over every profile attached
// to every role reachable from the given role. Deny wins on conflict.
// An inactive starting role yields nothing: membership in it is the
// only link to its ancestors, so the whole path is severed.
func (m *Matrix) EffectsForRole(ctx context.Context, tenant TenantID, roleID string) (map[PermissionKey]Effect, error) {
	entries, err := m.effectsForRole(ctx, tenant, roleID)
	if err != nil {
		return nil, err
	}
	out := make(map[PermissionKey]Effect, len(entries))
	for k, e := range entries {
		out[k] = e.Effect
	}
	return out, nil
}

func (m *Matrix) effectsForRole(ctx context.Context, tenant TenantID, roleID string) (map[PermissionKey]effectEntry, error) {
	reachable, err := m.hierarchy.ReachableRoles(ctx, tenant, roleID)
	if err != nil {
		return nil, err
	}
	// an inactive starting role severs the path to its ancestors; an
	// inactive ancestor only withholds its own profiles
	if !reachable[0].IsActive {
		return map[PermissionKey]effectEntry{}, nil
	}
	out := make(map[PermissionKey]effectEntry)
	for _, role := range reachable {
		if !role.IsActive {
			continue
		}
		profileIDs, err := m.roles.ProfilesOf(ctx, tenant, role.ID)
		if err != nil {
			return nil, err
		}
		for _, pid := range profileIDs {
			effects, err := m.effectsForProfile(ctx, tenant, pid, role.ID)
			if err != nil {
				return nil, err
			}
			for key, entry := range effects {
				mergeEffect(out, key, entry)
			}
		}
	}
	return out, nil
}

// mergeEffect applies explicit-deny-overrides-allow, never last-write-wins.
func mergeEffect(dst map[PermissionKey]effectEntry, key PermissionKey, entry effectEntry) {
	existing, ok := dst[key]
	if !ok {
		dst[key] = entry
		return
	}
	if existing.Effect == EffectDeny {
		return
	}
	if entry.Effect == EffectDeny {
		dst[key] = entry
	}
}

func (m *Matrix) moduleActive(ctx context.Context, tenant TenantID, name string) bool {
	mod, err := m.modules.GetModule(ctx, tenant, name)
	if err != nil {
		// unknown module contributes nothing rather than failing the walk
		return false
	}
	return mod.IsActive
}
