package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLAuditStore persists audit events in SQL. It implements
// permit.AuditLog so it can serve both as the engine's sink and as the
// query surface for audit review.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) Record(ctx context.Context, ev *permit.AuditEvent) error {
	oldB, _ := json.Marshal(ev.OldValues)
	newB, _ := json.Marshal(ev.NewValues)
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	q := `INSERT INTO audit_events(id, tenant_id, actor_id, action, module, record_id, status, decision, reason, source, old_values_json, new_values_json, created_at)
VALUES(:id, :tenant_id, :actor_id, :action, :module, :record_id, :status, :decision, :reason, :source, :old_values_json, :new_values_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              ev.ID,
		"tenant_id":       string(ev.TenantID),
		"actor_id":        ev.ActorID,
		"action":          ev.Action,
		"module":          ev.Module,
		"record_id":       ev.RecordID,
		"status":          string(ev.Status),
		"decision":        string(ev.Decision),
		"reason":          ev.Reason,
		"source":          string(ev.Source),
		"old_values_json": string(oldB),
		"new_values_json": string(newB),
		"created_at":      ts,
	})
	return err
}

func (s *SQLAuditStore) Events(ctx context.Context, filter permit.AuditFilter) ([]*permit.AuditEvent, error) {
	q := `SELECT id, tenant_id, actor_id, action, module, record_id, status, decision, reason, source, old_values_json, new_values_json, created_at FROM audit_events WHERE 1=1`
	params := map[string]any{}
	if filter.TenantID != "" {
		q += " AND tenant_id = :tenant_id"
		params["tenant_id"] = string(filter.TenantID)
	}
	if filter.ActorID != "" {
		q += " AND actor_id = :actor_id"
		params["actor_id"] = filter.ActorID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if filter.Module != "" {
		q += " AND module = :module"
		params["module"] = filter.Module
	}
	if !filter.StartTime.IsZero() {
		q += " AND created_at >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND created_at <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY created_at"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.AuditEvent, 0)
	for r.Next() {
		var id, tenant, actor, action, module, record, status, decision, reason, source, oldJSON, newJSON string
		var createdRaw any
		if err := r.Scan(&id, &tenant, &actor, &action, &module, &record, &status, &decision, &reason, &source, &oldJSON, &newJSON, &createdRaw); err != nil {
			return nil, err
		}
		ev := &permit.AuditEvent{
			ID: id, TenantID: permit.TenantID(tenant), ActorID: actor,
			Action: action, Module: module, RecordID: record,
			Status: permit.AuditStatus(status), Decision: permit.Effect(decision),
			Reason: reason, Source: permit.SignalSource(source),
			Timestamp: scanTime(createdRaw),
		}
		_ = json.Unmarshal([]byte(oldJSON), &ev.OldValues)
		_ = json.Unmarshal([]byte(newJSON), &ev.NewValues)
		out = append(out, ev)
	}
	return out, nil
}
