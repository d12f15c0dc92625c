package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLProfileStore persists profiles, permissions and profile effects in
// SQL (squealx).
type SQLProfileStore struct {
	db *squealx.DB
}

func NewSQLProfileStore(db *squealx.DB) *SQLProfileStore {
	return &SQLProfileStore{db: db}
}

func (s *SQLProfileStore) CreateProfile(ctx context.Context, p *permit.Profile) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO profiles(id, tenant_id, name, code, is_active, created_at) VALUES(:id, :tenant_id, :name, :code, :is_active, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "tenant_id": string(p.TenantID), "name": p.Name, "code": p.Code,
		"is_active": boolToInt(p.IsActive), "created_at": created,
	})
	return err
}

func (s *SQLProfileStore) UpdateProfile(ctx context.Context, p *permit.Profile) error {
	if _, err := s.GetProfile(ctx, p.TenantID, p.ID); err != nil {
		return err
	}
	q := `UPDATE profiles SET name=:name, code=:code, is_active=:is_active WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "tenant_id": string(p.TenantID), "name": p.Name, "code": p.Code,
		"is_active": boolToInt(p.IsActive),
	})
	return err
}

func (s *SQLProfileStore) GetProfile(ctx context.Context, tenant permit.TenantID, id string) (*permit.Profile, error) {
	q := `SELECT id, tenant_id, name, code, is_active, created_at FROM profiles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "profile", Tenant: tenant, ID: id}
	}
	p, err := scanProfile(r)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenant {
		return nil, &permit.TenantViolationError{Entity: "profile", ID: id, WantTenant: tenant, ActualTenant: p.TenantID}
	}
	return p, nil
}

func (s *SQLProfileStore) ListProfiles(ctx context.Context, tenant permit.TenantID) ([]*permit.Profile, error) {
	q := `SELECT id, tenant_id, name, code, is_active, created_at FROM profiles WHERE tenant_id = :tenant_id ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.Profile, 0)
	for r.Next() {
		p, err := scanProfile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanProfile(r rowScanner) (*permit.Profile, error) {
	var id, tenant, name, code string
	var active int
	var createdRaw any
	if err := r.Scan(&id, &tenant, &name, &code, &active, &createdRaw); err != nil {
		return nil, err
	}
	return &permit.Profile{
		ID: id, TenantID: permit.TenantID(tenant), Name: name, Code: code,
		IsActive: intToBool(active), CreatedAt: scanTime(createdRaw),
	}, nil
}

// ===== PERMISSIONS =====

func (s *SQLProfileStore) CreatePermission(ctx context.Context, p *permit.Permission) error {
	q := `INSERT INTO permissions(id, tenant_id, module, action, is_active) VALUES(:id, :tenant_id, :module, :action, :is_active)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "tenant_id": string(p.TenantID), "module": p.Module,
		"action": string(p.Action), "is_active": boolToInt(p.IsActive),
	})
	return err
}

func (s *SQLProfileStore) UpdatePermission(ctx context.Context, p *permit.Permission) error {
	if _, err := s.GetPermission(ctx, p.TenantID, p.ID); err != nil {
		return err
	}
	q := `UPDATE permissions SET module=:module, action=:action, is_active=:is_active WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "tenant_id": string(p.TenantID), "module": p.Module,
		"action": string(p.Action), "is_active": boolToInt(p.IsActive),
	})
	return err
}

func (s *SQLProfileStore) GetPermission(ctx context.Context, tenant permit.TenantID, id string) (*permit.Permission, error) {
	q := `SELECT id, tenant_id, module, action, is_active FROM permissions WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "permission", Tenant: tenant, ID: id}
	}
	p, err := scanPermission(r)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenant {
		return nil, &permit.TenantViolationError{Entity: "permission", ID: id, WantTenant: tenant, ActualTenant: p.TenantID}
	}
	return p, nil
}

func (s *SQLProfileStore) FindPermission(ctx context.Context, tenant permit.TenantID, module string, action permit.Action) (*permit.Permission, error) {
	q := `SELECT id, tenant_id, module, action, is_active FROM permissions WHERE tenant_id = :tenant_id AND module = :module AND action = :action`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant), "module": module, "action": string(action)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "permission", Tenant: tenant, ID: module + "." + string(action)}
	}
	return scanPermission(r)
}

func (s *SQLProfileStore) ListPermissions(ctx context.Context, tenant permit.TenantID) ([]*permit.Permission, error) {
	q := `SELECT id, tenant_id, module, action, is_active FROM permissions WHERE tenant_id = :tenant_id ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.Permission, 0)
	for r.Next() {
		p, err := scanPermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPermission(r rowScanner) (*permit.Permission, error) {
	var id, tenant, module, action string
	var active int
	if err := r.Scan(&id, &tenant, &module, &action, &active); err != nil {
		return nil, err
	}
	return &permit.Permission{
		ID: id, TenantID: permit.TenantID(tenant), Module: module,
		Action: permit.Action(action), IsActive: intToBool(active),
	}, nil
}

// ===== PROFILE EFFECTS =====

func (s *SQLProfileStore) SetEffect(ctx context.Context, tenant permit.TenantID, profileID, permissionID string, effect permit.Effect) error {
	q := `INSERT INTO profile_permissions(tenant_id, profile_id, permission_id, effect) VALUES(:tenant_id, :profile_id, :permission_id, :effect)
ON CONFLICT(tenant_id, profile_id, permission_id) DO UPDATE SET effect = :effect`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id": string(tenant), "profile_id": profileID,
		"permission_id": permissionID, "effect": string(effect),
	})
	return err
}

func (s *SQLProfileStore) ClearEffect(ctx context.Context, tenant permit.TenantID, profileID, permissionID string) error {
	q := `DELETE FROM profile_permissions WHERE tenant_id=:tenant_id AND profile_id=:profile_id AND permission_id=:permission_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id": string(tenant), "profile_id": profileID, "permission_id": permissionID,
	})
	return err
}

func (s *SQLProfileStore) EffectsOf(ctx context.Context, tenant permit.TenantID, profileID string) ([]permit.ProfileEffect, error) {
	q := `SELECT permission_id, effect FROM profile_permissions WHERE tenant_id=:tenant_id AND profile_id=:profile_id ORDER BY permission_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant), "profile_id": profileID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]permit.ProfileEffect, 0)
	for r.Next() {
		var permissionID, effect string
		if err := r.Scan(&permissionID, &effect); err != nil {
			return nil, err
		}
		out = append(out, permit.ProfileEffect{
			TenantID: tenant, ProfileID: profileID,
			PermissionID: permissionID, Effect: permit.Effect(effect),
		})
	}
	return out, nil
}
