/*
store.go - Persistence interface for the charge engine

PURPOSE:
  Defines the boundary between charge logic and the database. Implementations
  live in store/sqlite (production) and store/memory (tests).

UNIQUENESS CONTRACT:
  CreateCharge MUST reject a second charge for the same (student, due_date)
  with billing.ErrDuplicateCharge, enforced by a storage-level uniqueness
  constraint, not just a pre-check. The engine's check-then-create pattern is
  racy under concurrent invocation; the constraint is the real invariant and
  the engine treats the sentinel as "already generated".

SWEEP CONTRACT:
  MarkOverdueCharges transitions only status=pending rows with
  due_date < before. It is a single bulk statement so the sweep is atomic
  per tenant, and idempotent because overdue rows no longer match.
*/
package membership

import (
	"context"

	"github.com/gymcore/billing-engine/billing"
)

// ChargeStore handles charge persistence.
type ChargeStore interface {
	// CreateCharge inserts a charge. Returns billing.ErrDuplicateCharge if a
	// charge for (StudentID, DueDate) already exists.
	CreateCharge(ctx context.Context, c Charge) error

	// GetCharge loads a charge within a tenant scope.
	GetCharge(ctx context.Context, tenantID billing.TenantID, id ChargeID) (Charge, error)

	// UpdateCharge persists a status/payment mutation.
	UpdateCharge(ctx context.Context, c Charge) error

	// ChargeExists checks the (student, due_date) pair.
	ChargeExists(ctx context.Context, studentID billing.StudentID, due billing.Date) (bool, error)

	// ListChargesByStudent returns all charges of a student ordered by due date.
	ListChargesByStudent(ctx context.Context, studentID billing.StudentID) ([]Charge, error)

	// MarkOverdueCharges bulk-transitions pending charges of the tenant with
	// due_date < before into overdue. Returns the number updated.
	MarkOverdueCharges(ctx context.Context, tenantID billing.TenantID, before billing.Date) (int, error)
}

// StudentStore provides the student lookups the engine needs.
type StudentStore interface {
	CreateStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, tenantID billing.TenantID, id billing.StudentID) (Student, error)
	UpdateStudent(ctx context.Context, s Student) error
	ListStudents(ctx context.Context, tenantID billing.TenantID) ([]Student, error)
}

// PlanStore provides plan lookups.
type PlanStore interface {
	CreatePlan(ctx context.Context, p Plan) error
	GetPlan(ctx context.Context, tenantID billing.TenantID, id PlanID) (Plan, error)
	ListPlans(ctx context.Context, tenantID billing.TenantID) ([]Plan, error)
}
