package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLRoleStore persists roles, role-profile attachments and user-role
// membership in SQL (squealx).
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *permit.Role) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO roles(id, tenant_id, name, code, parent_id, is_active, created_at) VALUES(:id, :tenant_id, :name, :code, :parent_id, :is_active, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "tenant_id": string(r.TenantID), "name": r.Name, "code": r.Code,
		"parent_id": r.ParentID, "is_active": boolToInt(r.IsActive), "created_at": created,
	})
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *permit.Role) error {
	if _, err := s.GetRole(ctx, r.TenantID, r.ID); err != nil {
		return err
	}
	q := `UPDATE roles SET name=:name, code=:code, parent_id=:parent_id, is_active=:is_active WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "tenant_id": string(r.TenantID), "name": r.Name, "code": r.Code,
		"parent_id": r.ParentID, "is_active": boolToInt(r.IsActive),
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, tenant permit.TenantID, id string) error {
	if _, err := s.GetRole(ctx, tenant, id); err != nil {
		return err
	}
	q := `DELETE FROM roles WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "tenant_id": string(tenant)})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, tenant permit.TenantID, id string) (*permit.Role, error) {
	q := `SELECT id, tenant_id, name, code, parent_id, is_active, created_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "role", Tenant: tenant, ID: id}
	}
	role, err := scanRole(r)
	if err != nil {
		return nil, err
	}
	if role.TenantID != tenant {
		return nil, &permit.TenantViolationError{Entity: "role", ID: id, WantTenant: tenant, ActualTenant: role.TenantID}
	}
	return role, nil
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, tenant permit.TenantID) ([]*permit.Role, error) {
	q := `SELECT id, tenant_id, name, code, parent_id, is_active, created_at FROM roles WHERE tenant_id = :tenant_id ORDER BY id`
	return s.queryRoles(ctx, q, map[string]any{"tenant_id": string(tenant)})
}

func (s *SQLRoleStore) ListChildren(ctx context.Context, tenant permit.TenantID, parentID string) ([]*permit.Role, error) {
	q := `SELECT id, tenant_id, name, code, parent_id, is_active, created_at FROM roles WHERE tenant_id = :tenant_id AND parent_id = :parent_id ORDER BY id`
	return s.queryRoles(ctx, q, map[string]any{"tenant_id": string(tenant), "parent_id": parentID})
}

func (s *SQLRoleStore) queryRoles(ctx context.Context, q string, args map[string]any) ([]*permit.Role, error) {
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r rowScanner) (*permit.Role, error) {
	var id, tenant, name, code, parentID string
	var active int
	var createdRaw any
	if err := r.Scan(&id, &tenant, &name, &code, &parentID, &active, &createdRaw); err != nil {
		return nil, err
	}
	return &permit.Role{
		ID: id, TenantID: permit.TenantID(tenant), Name: name, Code: code,
		ParentID: parentID, IsActive: intToBool(active), CreatedAt: scanTime(createdRaw),
	}, nil
}

// ===== ROLE-PROFILE ATTACHMENTS =====

func (s *SQLRoleStore) AttachProfile(ctx context.Context, tenant permit.TenantID, roleID, profileID string) error {
	q := `INSERT OR IGNORE INTO role_profiles(tenant_id, role_id, profile_id) VALUES(:tenant_id, :role_id, :profile_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": string(tenant), "role_id": roleID, "profile_id": profileID})
	return err
}

func (s *SQLRoleStore) DetachProfile(ctx context.Context, tenant permit.TenantID, roleID, profileID string) error {
	q := `DELETE FROM role_profiles WHERE tenant_id=:tenant_id AND role_id=:role_id AND profile_id=:profile_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": string(tenant), "role_id": roleID, "profile_id": profileID})
	return err
}

func (s *SQLRoleStore) ProfilesOf(ctx context.Context, tenant permit.TenantID, roleID string) ([]string, error) {
	q := `SELECT profile_id FROM role_profiles WHERE tenant_id=:tenant_id AND role_id=:role_id ORDER BY profile_id`
	return s.queryIDs(ctx, q, map[string]any{"tenant_id": string(tenant), "role_id": roleID})
}

// ===== USER-ROLE MEMBERSHIP =====

func (s *SQLRoleStore) AssignRole(ctx context.Context, tenant permit.TenantID, userID, roleID string) error {
	q := `INSERT OR IGNORE INTO user_roles(tenant_id, user_id, role_id) VALUES(:tenant_id, :user_id, :role_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": string(tenant), "user_id": userID, "role_id": roleID})
	return err
}

func (s *SQLRoleStore) RevokeRole(ctx context.Context, tenant permit.TenantID, userID, roleID string) error {
	q := `DELETE FROM user_roles WHERE tenant_id=:tenant_id AND user_id=:user_id AND role_id=:role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": string(tenant), "user_id": userID, "role_id": roleID})
	return err
}

func (s *SQLRoleStore) RolesOf(ctx context.Context, tenant permit.TenantID, userID string) ([]string, error) {
	q := `SELECT role_id FROM user_roles WHERE tenant_id=:tenant_id AND user_id=:user_id ORDER BY role_id`
	return s.queryIDs(ctx, q, map[string]any{"tenant_id": string(tenant), "user_id": userID})
}

func (s *SQLRoleStore) queryIDs(ctx context.Context, q string, args map[string]any) ([]string, error) {
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
