// Package membership implements the subscription charge engine: the rules
// that generate, backfill and transition a student's recurring membership
// charges against their plan's billing period.
package membership

import (
	"time"

	"github.com/gymcore/billing-engine/billing"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlanID string
type ChargeID string

// =============================================================================
// PLAN - Subscription plan with a billing period
// =============================================================================

// Plan defines what a student pays and how often. Value is copied onto each
// charge at creation time: changing a plan's price never retroactively
// affects issued charges.
type Plan struct {
	ID           PlanID
	TenantID     billing.TenantID
	Name         string
	Value        billing.Money
	DurationDays int // billing period length
	Description  string
	Active       bool
}

// =============================================================================
// STUDENT
// =============================================================================

type StudentStatus string

const (
	StudentActive   StudentStatus = "active"
	StudentInactive StudentStatus = "inactive"
	StudentBlocked  StudentStatus = "blocked"
)

func (s StudentStatus) Valid() bool {
	switch s {
	case StudentActive, StudentInactive, StudentBlocked:
		return true
	}
	return false
}

// Student is a gym member. The lifecycle status gates whether new charges
// may ever be auto-generated: only active students accrue charges.
type Student struct {
	ID             billing.StudentID
	TenantID       billing.TenantID
	PlanID         PlanID // empty = no plan
	Name           string
	Email          string
	Phone          string
	EnrollmentDate billing.Date
	Retroactive    bool
	// NextChargeDate is the manager-supplied override for retroactive
	// enrollments: the first charge is issued on this date instead of the
	// enrollment date. Only consulted when Retroactive is set.
	NextChargeDate billing.Date
	Status         StudentStatus
}

// HasPlan reports whether the student is linked to a plan.
func (s Student) HasPlan() bool { return s.PlanID != "" }

// Billable reports whether charge generation applies at all: a student
// without a plan or enrollment date never receives charges.
func (s Student) Billable() bool {
	return s.HasPlan() && !s.EnrollmentDate.IsZero()
}

// =============================================================================
// CHARGE - One periodic membership-fee obligation ("mensalidade")
// =============================================================================

// Charge is one periodic membership fee tied to a student and a due date.
//
// INVARIANT: at most one charge per (student, due_date). The store enforces
// this with a uniqueness constraint; the engine treats the constraint hit as
// the idempotency signal.
type Charge struct {
	ID        ChargeID
	StudentID billing.StudentID
	TenantID  billing.TenantID
	PlanID    PlanID

	// Amount is copied from the plan at creation time and never recomputed.
	Amount  billing.Money
	DueDate billing.Date

	PaidDate billing.Date // zero until paid
	Method   billing.PaymentMethod
	Status   billing.Status
	Note     string

	CreatedAt time.Time
}

// DaysOverdue returns how late the charge is as of today.
// Positive = days late, negative = days remaining, 0 = paid or due today.
func (c Charge) DaysOverdue(today billing.Date) int {
	return billing.DaysOverdue(c.DueDate, c.Status, today)
}
