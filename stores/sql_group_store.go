package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLGroupStore persists groups and user-group membership in SQL
// (squealx).
type SQLGroupStore struct {
	db *squealx.DB
}

func NewSQLGroupStore(db *squealx.DB) *SQLGroupStore {
	return &SQLGroupStore{db: db}
}

func (s *SQLGroupStore) CreateGroup(ctx context.Context, g *permit.Group) error {
	q := `INSERT INTO groups(id, tenant_id, name, is_active) VALUES(:id, :tenant_id, :name, :is_active)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": g.ID, "tenant_id": string(g.TenantID), "name": g.Name, "is_active": boolToInt(g.IsActive),
	})
	return err
}

func (s *SQLGroupStore) UpdateGroup(ctx context.Context, g *permit.Group) error {
	if _, err := s.GetGroup(ctx, g.TenantID, g.ID); err != nil {
		return err
	}
	q := `UPDATE groups SET name=:name, is_active=:is_active WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": g.ID, "tenant_id": string(g.TenantID), "name": g.Name, "is_active": boolToInt(g.IsActive),
	})
	return err
}

func (s *SQLGroupStore) GetGroup(ctx context.Context, tenant permit.TenantID, id string) (*permit.Group, error) {
	q := `SELECT id, tenant_id, name, is_active FROM groups WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "group", Tenant: tenant, ID: id}
	}
	g, err := scanGroup(r)
	if err != nil {
		return nil, err
	}
	if g.TenantID != tenant {
		return nil, &permit.TenantViolationError{Entity: "group", ID: id, WantTenant: tenant, ActualTenant: g.TenantID}
	}
	return g, nil
}

func (s *SQLGroupStore) ListGroups(ctx context.Context, tenant permit.TenantID) ([]*permit.Group, error) {
	q := `SELECT id, tenant_id, name, is_active FROM groups WHERE tenant_id = :tenant_id ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.Group, 0)
	for r.Next() {
		g, err := scanGroup(r)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func scanGroup(r rowScanner) (*permit.Group, error) {
	var id, tenant, name string
	var active int
	if err := r.Scan(&id, &tenant, &name, &active); err != nil {
		return nil, err
	}
	return &permit.Group{ID: id, TenantID: permit.TenantID(tenant), Name: name, IsActive: intToBool(active)}, nil
}

func (s *SQLGroupStore) AddMember(ctx context.Context, tenant permit.TenantID, groupID, userID string) error {
	q := `INSERT OR IGNORE INTO user_groups(tenant_id, user_id, group_id) VALUES(:tenant_id, :user_id, :group_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": string(tenant), "user_id": userID, "group_id": groupID})
	return err
}

func (s *SQLGroupStore) RemoveMember(ctx context.Context, tenant permit.TenantID, groupID, userID string) error {
	q := `DELETE FROM user_groups WHERE tenant_id=:tenant_id AND user_id=:user_id AND group_id=:group_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": string(tenant), "user_id": userID, "group_id": groupID})
	return err
}

func (s *SQLGroupStore) GroupIDsOf(ctx context.Context, tenant permit.TenantID, userID string) ([]string, error) {
	q := `SELECT group_id FROM user_groups WHERE tenant_id=:tenant_id AND user_id=:user_id ORDER BY group_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant), "user_id": userID})
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
