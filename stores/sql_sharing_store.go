package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLSharingStore persists sharing rules and record shares in SQL
// (squealx).
type SQLSharingStore struct {
	db *squealx.DB
}

func NewSQLSharingStore(db *squealx.DB) *SQLSharingStore {
	return &SQLSharingStore{db: db}
}

func (s *SQLSharingStore) CreateRule(ctx context.Context, r *permit.SharingRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO sharing_rules(id, tenant_id, rule_type, source_user_id, target_user_id, source_role_id, target_role_id, source_group_id, target_group_id, module, is_active, created_at)
VALUES(:id, :tenant_id, :rule_type, :source_user_id, :target_user_id, :source_role_id, :target_role_id, :source_group_id, :target_group_id, :module, :is_active, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, ruleParams(r, created))
	return err
}

func (s *SQLSharingStore) UpdateRule(ctx context.Context, r *permit.SharingRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := s.GetRule(ctx, r.TenantID, r.ID); err != nil {
		return err
	}
	q := `UPDATE sharing_rules SET rule_type=:rule_type, source_user_id=:source_user_id, target_user_id=:target_user_id, source_role_id=:source_role_id, target_role_id=:target_role_id, source_group_id=:source_group_id, target_group_id=:target_group_id, module=:module, is_active=:is_active
WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, ruleParams(r, r.CreatedAt))
	return err
}

func ruleParams(r *permit.SharingRule, created time.Time) map[string]any {
	return map[string]any{
		"id": r.ID, "tenant_id": string(r.TenantID), "rule_type": string(r.Type),
		"source_user_id": r.SourceUserID, "target_user_id": r.TargetUserID,
		"source_role_id": r.SourceRoleID, "target_role_id": r.TargetRoleID,
		"source_group_id": r.SourceGroupID, "target_group_id": r.TargetGroupID,
		"module": r.Module, "is_active": boolToInt(r.IsActive), "created_at": created,
	}
}

func (s *SQLSharingStore) DeleteRule(ctx context.Context, tenant permit.TenantID, id string) error {
	if _, err := s.GetRule(ctx, tenant, id); err != nil {
		return err
	}
	q := `DELETE FROM sharing_rules WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "tenant_id": string(tenant)})
	return err
}

func (s *SQLSharingStore) GetRule(ctx context.Context, tenant permit.TenantID, id string) (*permit.SharingRule, error) {
	q := ruleSelect + ` WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &permit.NotFoundError{Entity: "sharing_rule", Tenant: tenant, ID: id}
	}
	rule, err := scanRule(r)
	if err != nil {
		return nil, err
	}
	if rule.TenantID != tenant {
		return nil, &permit.TenantViolationError{Entity: "sharing_rule", ID: id, WantTenant: tenant, ActualTenant: rule.TenantID}
	}
	return rule, nil
}

func (s *SQLSharingStore) ListRules(ctx context.Context, tenant permit.TenantID) ([]*permit.SharingRule, error) {
	q := ruleSelect + ` WHERE tenant_id = :tenant_id ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.SharingRule, 0)
	for r.Next() {
		rule, err := scanRule(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

const ruleSelect = `SELECT id, tenant_id, rule_type, source_user_id, target_user_id, source_role_id, target_role_id, source_group_id, target_group_id, module, is_active, created_at FROM sharing_rules`

func scanRule(r rowScanner) (*permit.SharingRule, error) {
	var id, tenant, ruleType, srcUser, tgtUser, srcRole, tgtRole, srcGroup, tgtGroup, module string
	var active int
	var createdRaw any
	if err := r.Scan(&id, &tenant, &ruleType, &srcUser, &tgtUser, &srcRole, &tgtRole, &srcGroup, &tgtGroup, &module, &active, &createdRaw); err != nil {
		return nil, err
	}
	return &permit.SharingRule{
		ID: id, TenantID: permit.TenantID(tenant), Type: permit.RuleType(ruleType),
		SourceUserID: srcUser, TargetUserID: tgtUser,
		SourceRoleID: srcRole, TargetRoleID: tgtRole,
		SourceGroupID: srcGroup, TargetGroupID: tgtGroup,
		Module: module, IsActive: intToBool(active), CreatedAt: scanTime(createdRaw),
	}, nil
}

// ===== RECORD SHARES =====

func (s *SQLSharingStore) CreateShare(ctx context.Context, sh *permit.RecordShare) error {
	if err := sh.Validate(); err != nil {
		return err
	}
	created := sh.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO record_shares(id, tenant_id, module, record_id, shared_with_user_id, shared_with_group_id, shared_with_role_id, created_at)
VALUES(:id, :tenant_id, :module, :record_id, :shared_with_user_id, :shared_with_group_id, :shared_with_role_id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": sh.ID, "tenant_id": string(sh.TenantID), "module": sh.Module, "record_id": sh.RecordID,
		"shared_with_user_id": sh.UserID, "shared_with_group_id": sh.GroupID, "shared_with_role_id": sh.RoleID,
		"created_at": created,
	})
	return err
}

func (s *SQLSharingStore) DeleteShare(ctx context.Context, tenant permit.TenantID, id string) error {
	q := `DELETE FROM record_shares WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "tenant_id": string(tenant)})
	return err
}

func (s *SQLSharingStore) SharesForRecord(ctx context.Context, tenant permit.TenantID, module, recordID string) ([]*permit.RecordShare, error) {
	q := `SELECT id, tenant_id, module, record_id, shared_with_user_id, shared_with_group_id, shared_with_role_id, created_at FROM record_shares
WHERE tenant_id=:tenant_id AND module=:module AND record_id=:record_id ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": string(tenant), "module": module, "record_id": recordID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.RecordShare, 0)
	for r.Next() {
		var id, tenantID, mod, record, userID, groupID, roleID string
		var createdRaw any
		if err := r.Scan(&id, &tenantID, &mod, &record, &userID, &groupID, &roleID, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &permit.RecordShare{
			ID: id, TenantID: permit.TenantID(tenantID), Module: mod, RecordID: record,
			UserID: userID, GroupID: groupID, RoleID: roleID, CreatedAt: scanTime(createdRaw),
		})
	}
	return out, nil
}
