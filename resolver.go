package permit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// ACCESS DECISION RESOLVER
// ============================================================================

// Engine combines the hierarchy, matrix, membership and sharing signal
// sources into one decision per request. Evaluation is stateless and
// side-effect-free except for the trailing audit emission; concurrent
// evaluations share nothing but the backing stores.
type Engine struct {
	roles    RoleStore
	profiles ProfileStore
	groups   GroupStore
	sharing  SharingStore
	modules  ModuleStore
	audit    AuditSink

	hierarchy  *Hierarchy
	matrix     *Matrix
	membership *Membership
	shares     *Sharing

	log logger.Logger

	cache    *ristretto.Cache
	cacheTTL time.Duration

	auditCh   chan AuditEvent
	auditOnce sync.Once
	auditWG   sync.WaitGroup
	auditMu   sync.RWMutex
	auditDone bool

	// serializes hierarchy mutations per tenant so concurrent reparents
	// cannot race past each other's cycle pre-checks
	mutateMu sync.Mutex
	tenantMu map[TenantID]*sync.Mutex
}

// NewEngine wires an Engine over the given stores. The audit sink may
// not be nil; use NewMemoryAuditLog for throwaway engines.
func NewEngine(roles RoleStore, profiles ProfileStore, groups GroupStore, sharing SharingStore, modules ModuleStore, audit AuditSink) *Engine {
	e := &Engine{
		roles:    roles,
		profiles: profiles,
		groups:   groups,
		sharing:  sharing,
		modules:  modules,
		audit:    audit,
		log:      logger.NewPhusluLogger(),
		cacheTTL: time.Second,
		tenantMu: make(map[TenantID]*sync.Mutex),
	}
	e.hierarchy = NewHierarchy(roles)
	e.matrix = NewMatrix(e.hierarchy, roles, profiles, modules)
	e.membership = NewMembership(groups)
	e.shares = NewSharing(sharing, e.hierarchy, e.membership, roles)

	e.auditCh = make(chan AuditEvent, 1024)
	e.auditWG.Add(1)
	go e.auditWorker()
	return e
}

// Hierarchy exposes the role hierarchy component.
func (e *Engine) Hierarchy() *Hierarchy { return e.hierarchy }

// Matrix exposes the permission matrix component.
func (e *Engine) Matrix() *Matrix { return e.matrix }

// Membership exposes the group membership component.
func (e *Engine) Membership() *Membership { return e.membership }

// Sharing exposes the sharing rule component.
func (e *Engine) Sharing() *Sharing { return e.shares }

// Store accessors, for administrative code that seeds or inspects the
// backing stores directly.

func (e *Engine) Roles() RoleStore       { return e.roles }
func (e *Engine) Profiles() ProfileStore { return e.profiles }
func (e *Engine) Groups() GroupStore     { return e.groups }
func (e *Engine) Shares() SharingStore   { return e.sharing }
func (e *Engine) Modules() ModuleStore   { return e.modules }
func (e *Engine) Audit() AuditSink       { return e.audit }

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(l logger.Logger) {
	if l != nil {
		e.log = l
	}
}

// SetMembershipSource swaps in an alternate direct-membership source
// (e.g. the Redis mirror) for role and group IDs.
func (e *Engine) SetMembershipSource(src MembershipSource) {
	e.membership.SetSource(src)
	e.shares.membershipSource = src
}

// SetDecisionCacheTTL adjusts how long decisions stay cached.
func (e *Engine) SetDecisionCacheTTL(ttl time.Duration) { e.cacheTTL = ttl }

// ConfigureDecisionCache enables the ristretto decision cache. A cache
// hit returns the stored decision without a fresh audit event; only
// evaluations that reach the stores emit one.
func (e *Engine) ConfigureDecisionCache(numCounters, maxCost, bufferItems int64) error {
	if numCounters <= 0 {
		numCounters = 1e4
	}
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	if bufferItems <= 0 {
		bufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return err
	}
	e.cache = c
	return nil
}

// InvalidateDecisions drops every cached decision. Administrative
// mutations call this so stale allows never outlive a revocation.
func (e *Engine) InvalidateDecisions() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Close drains and stops the audit worker. Events emitted after Close
// are dropped, not sent.
func (e *Engine) Close() {
	e.auditOnce.Do(func() {
		e.auditMu.Lock()
		e.auditDone = true
		close(e.auditCh)
		e.auditMu.Unlock()
	})
	e.auditWG.Wait()
	if e.cache != nil {
		e.cache.Close()
	}
}

// ============================================================================
// EVALUATION
// ============================================================================

// Evaluate is the sole decision entry point: may actor perform action
// on (module, recordID) inside tenant. recordID may be empty for
// module-level checks. A TenantViolation or structural error aborts
// with no decision; every completed evaluation emits one audit event,
// except a decision-cache hit, which replays the stored decision
// without re-emitting.
func (e *Engine) Evaluate(ctx context.Context, tenant TenantID, actorID, module, recordID string, action Action) (*Decision, error) {
	return e.evaluate(ctx, tenant, actorID, module, recordID, action, false)
}

// Explain runs Evaluate but keeps every contributing signal on the
// decision for audit tooling and debugging.
func (e *Engine) Explain(ctx context.Context, tenant TenantID, actorID, module, recordID string, action Action) (*Decision, error) {
	return e.evaluate(ctx, tenant, actorID, module, recordID, action, true)
}

func (e *Engine) evaluate(ctx context.Context, tenant TenantID, actorID, module, recordID string, action Action, keepSignals bool) (*Decision, error) {
	start := time.Now()
	if !action.Valid() {
		err := &ValidationError{Entity: "action", ID: string(action), Reason: "not one of create, read, update, delete, export"}
		e.auditEvaluation(tenant, actorID, module, recordID, action, nil, AuditFailed, err.Error())
		return nil, err
	}
	if tenant == "" || actorID == "" || module == "" {
		err := &ValidationError{Entity: "request", ID: actorID, Reason: "tenant, actor and module are required"}
		e.auditEvaluation(tenant, actorID, module, recordID, action, nil, AuditFailed, err.Error())
		return nil, err
	}

	key := decisionKey(tenant, actorID, module, recordID, action)
	if !keepSignals && e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if dec, ok := v.(*Decision); ok {
				return dec, nil
			}
		}
	}

	actor, err := e.shares.resolveActor(ctx, tenant, actorID)
	if err != nil {
		e.auditEvaluation(tenant, actorID, module, recordID, action, nil, AuditFailed, err.Error())
		return nil, err
	}

	signals := make([]Signal, 0, 4)

	// role-derived effects for the requested permission
	want := PermissionKey{Module: module, Action: action}
	for _, roleID := range actor.RoleIDs {
		entries, err := e.matrix.effectsForRole(ctx, tenant, roleID)
		if err != nil {
			e.auditEvaluation(tenant, actorID, module, recordID, action, nil, AuditFailed, err.Error())
			return nil, err
		}
		if entry, ok := entries[want]; ok {
			signals = append(signals, Signal{
				Source: SourceRoleMatrix,
				Effect: entry.Effect,
				Detail: fmt.Sprintf("profile %s via role %s", entry.ProfileID, entry.RoleID),
			})
		}
	}

	// sharing grants (rules and record shares)
	grants, err := e.shares.grantsForActor(ctx, tenant, actor, module, recordID, action)
	if err != nil {
		e.auditEvaluation(tenant, actorID, module, recordID, action, nil, AuditFailed, err.Error())
		return nil, err
	}
	for _, g := range grants {
		src := SourceSharingRule
		if g.Kind == GrantRecord {
			src = SourceRecordShare
		}
		signals = append(signals, Signal{
			Source: src,
			Effect: EffectAllow,
			Detail: fmt.Sprintf("%s grant from %s (rule %s)", g.Kind, g.Source, g.RuleID),
		})
	}

	decision := mergeSignals(signals, start)
	if !keepSignals {
		decision.Signals = nil
	}

	if e.cache != nil {
		e.cache.SetWithTTL(key, decision, 1, e.cacheTTL)
	}
	e.auditEvaluation(tenant, actorID, module, recordID, action, decision, AuditSuccess, "")
	return decision, nil
}

// mergeSignals applies the conflict table: any explicit deny wins over
// every allow across all sources; no signal at all is a deny.
func mergeSignals(signals []Signal, ts time.Time) *Decision {
	d := &Decision{Effect: EffectDeny, Source: SourceNone, Signals: signals, Timestamp: ts}
	var firstAllow *Signal
	for i := range signals {
		s := &signals[i]
		if s.Effect == EffectDeny {
			d.Allowed = false
			d.Effect = EffectDeny
			d.Source = s.Source
			d.Reason = "explicit deny: " + s.Detail
			return d
		}
		if firstAllow == nil {
			firstAllow = s
		}
	}
	if firstAllow != nil {
		d.Allowed = true
		d.Effect = EffectAllow
		d.Source = firstAllow.Source
		d.Reason = "allow: " + firstAllow.Detail
		return d
	}
	d.Reason = "no matching signal from any source"
	return d
}

// BatchEvaluate runs several evaluations in request order.
func (e *Engine) BatchEvaluate(ctx context.Context, tenant TenantID, reqs []EvalRequest) ([]*Decision, error) {
	out := make([]*Decision, len(reqs))
	for i, req := range reqs {
		dec, err := e.Evaluate(ctx, tenant, req.ActorID, req.Module, req.RecordID, req.Action)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		out[i] = dec
	}
	return out, nil
}

// EvalRequest is one entry of a BatchEvaluate call.
type EvalRequest struct {
	ActorID  string `json:"actor_id"`
	Module   string `json:"module"`
	RecordID string `json:"record_id,omitempty"`
	Action   Action `json:"action"`
}

// EffectivePermissions reports which actions the actor may take on the
// module, by evaluating each action of the closed set.
func (e *Engine) EffectivePermissions(ctx context.Context, tenant TenantID, actorID, module string) ([]Action, error) {
	all := []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport}
	out := make([]Action, 0, len(all))
	for _, a := range all {
		dec, err := e.Evaluate(ctx, tenant, actorID, module, "", a)
		if err != nil {
			return nil, err
		}
		if dec.Allowed {
			out = append(out, a)
		}
	}
	return out, nil
}

func decisionKey(tenant TenantID, actorID, module, recordID string, action Action) string {
	var b strings.Builder
	b.Grow(len(tenant) + len(actorID) + len(module) + len(recordID) + len(action) + 4)
	b.WriteString(string(tenant))
	b.WriteByte('|')
	b.WriteString(actorID)
	b.WriteByte('|')
	b.WriteString(module)
	b.WriteByte('|')
	b.WriteString(recordID)
	b.WriteByte('|')
	b.WriteString(string(action))
	return b.String()
}

// ============================================================================
// AUDIT EMISSION
// ============================================================================

func (e *Engine) auditWorker() {
	defer e.auditWG.Done()
	bg := context.Background()
	for ev := range e.auditCh {
		if err := e.audit.Record(bg, &ev); err != nil {
			e.log.Error("audit sink rejected event", "event_id", ev.ID, "error", err.Error())
		}
	}
}

func (e *Engine) auditEvaluation(tenant TenantID, actorID, module, recordID string, action Action, dec *Decision, status AuditStatus, failReason string) {
	ev := AuditEvent{
		ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		TenantID:  tenant,
		ActorID:   actorID,
		Action:    "evaluate." + string(action),
		Module:    module,
		RecordID:  recordID,
		Status:    status,
		Timestamp: time.Now(),
	}
	if dec != nil {
		ev.Decision = dec.Effect
		ev.Reason = dec.Reason
		ev.Source = dec.Source
		e.log.Info("access decision",
			"tenant", string(tenant),
			"actor", actorID,
			"module", module,
			"record", recordID,
			"action", string(action),
			"allowed", dec.Allowed,
			"source", string(dec.Source),
			"reason", dec.Reason,
		)
	} else {
		ev.Reason = failReason
		e.log.Error("evaluation aborted",
			"tenant", string(tenant),
			"actor", actorID,
			"module", module,
			"action", string(action),
			"error", failReason,
		)
	}
	e.emitAudit(ev)
}

// emitAudit queues without blocking; a full buffer drops the event and
// logs a warning, the decision is never held back by the sink.
func (e *Engine) emitAudit(ev AuditEvent) {
	e.auditMu.RLock()
	defer e.auditMu.RUnlock()
	if e.auditDone {
		e.log.Error("audit worker stopped, dropping event", "event_id", ev.ID, "action", ev.Action)
		return
	}
	select {
	case e.auditCh <- ev:
	default:
		e.log.Error("audit buffer full, dropping event", "event_id", ev.ID, "action", ev.Action)
	}
}
