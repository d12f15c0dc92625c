package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLModuleStore persists the module registry in SQL (squealx).
type SQLModuleStore struct {
	db *squealx.DB
}

func NewSQLModuleStore(db *squealx.DB) *SQLModuleStore {
	return &SQLModuleStore{db: db}
}

func (s *SQLModuleStore) CreateModule(ctx context.Context, m *permit.Module) error {
	q := `INSERT INTO modules(tenant_id, name, is_active) VALUES(:tenant_id, :name, :is_active)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id": string(m.TenantID), "name": m.Name, "is_active": boolToInt(m.IsActive),
	})
	return err
}

func (s *SQLModuleStore) UpdateModule(ctx context.Context, m *permit.Module) error {
	if _, err := s.GetModule(ctx, m.TenantID, m.Name); err != nil {
		return err
	}
	q := `UPDATE modules SET is_active=:is_active WHERE tenant_id=:tenant_id AND name=:name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id": string(m.TenantID), "name": m.Name, "is_active": boolToInt(m.IsActive),
	})
	return err
}

func (s *SQLModuleStore) GetModule(ctx context.Context, tenant permit.TenantID, name string) (*permit.Module, error) {
	q := `SELECT tenant_id, name, is_active FROM modules WHERE tenant_id = :tenant_id AND name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant), "name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "module", Tenant: tenant, ID: name}
	}
	var tenantID, n string
	var active int
	if err := r.Scan(&tenantID, &n, &active); err != nil {
		return nil, err
	}
	return &permit.Module{TenantID: permit.TenantID(tenantID), Name: n, IsActive: intToBool(active)}, nil
}

func (s *SQLModuleStore) ListModules(ctx context.Context, tenant permit.TenantID) ([]*permit.Module, error) {
	q := `SELECT tenant_id, name, is_active FROM modules WHERE tenant_id = :tenant_id ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.Module, 0)
	for r.Next() {
		var tenantID, name string
		var active int
		if err := r.Scan(&tenantID, &name, &active); err != nil {
			return nil, err
		}
		out = append(out, &permit.Module{TenantID: permit.TenantID(tenantID), Name: name, IsActive: intToBool(active)})
	}
	return out, nil
}
