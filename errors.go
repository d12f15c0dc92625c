package permit

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers branch with errors.Is; the concrete
// types below carry the offending identifiers.
var (
	// ErrTenantViolation marks a reference that resolves outside the
	// evaluation's tenant. Fatal: evaluation aborts with no decision.
	ErrTenantViolation = errors.New("tenant violation")

	// ErrCycleDetected marks a role reparent that would make a role its
	// own ancestor. Raised by administrative mutation only.
	ErrCycleDetected = errors.New("role cycle detected")

	// ErrStructuralIntegrity marks a malformed hierarchy found during
	// traversal. Never silently repaired.
	ErrStructuralIntegrity = errors.New("structural integrity error")

	// ErrNotFound marks an absent entity. Non-fatal during evaluation
	// (absent contributes nothing), fatal for administrative operations.
	ErrNotFound = errors.New("not found")
)

// TenantViolationError reports an entity observed under the wrong tenant.
type TenantViolationError struct {
	Entity       string
	ID           string
	WantTenant   TenantID
	ActualTenant TenantID
}

func (e *TenantViolationError) Error() string {
	return fmt.Sprintf("tenant violation: %s %q belongs to tenant %q, not %q", e.Entity, e.ID, e.ActualTenant, e.WantTenant)
}

func (e *TenantViolationError) Is(target error) bool { return target == ErrTenantViolation }

// CycleError reports the rejected parent assignment.
type CycleError struct {
	Tenant   TenantID
	RoleID   string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("role cycle detected: making %q a child of %q in tenant %q", e.RoleID, e.ParentID, e.Tenant)
}

func (e *CycleError) Is(target error) bool { return target == ErrCycleDetected }

// StructuralError reports a malformed node hit during hierarchy traversal.
type StructuralError struct {
	Tenant TenantID
	RoleID string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural integrity error at role %q in tenant %q: %s", e.RoleID, e.Tenant, e.Reason)
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructuralIntegrity }

// NotFoundError reports an absent entity.
type NotFoundError struct {
	Entity string
	Tenant TenantID
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in tenant %q", e.Entity, e.ID, e.Tenant)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports an entity that violates a shape invariant.
type ValidationError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Entity, e.ID, e.Reason)
}
