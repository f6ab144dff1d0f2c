/*
engine.go - Subscription charge engine

PURPOSE:
  Implements the charge lifecycle: first charge on enrollment, retroactive
  backfill for late-registered students, next-charge-on-payment, the daily
  overdue sweep, and payment recording.

GENERATION RULES:
  First charge    due on the enrollment date itself (or the manager-supplied
                  override for retroactive enrollments).
  Backfill        due dates step from enrollment + duration in plan-duration
                  increments, and keep going while due <= today + duration,
                  so exactly one charge lands in the near future. That is the
                  same state a punctual payer reaches through
                  next-charge-on-payment: one open charge ahead of today.
  Next charge     due exactly one plan duration after the paid charge's due
                  date. Only for active students that still have a plan.

IDEMPOTENCY:
  Every creation path checks (student, due_date) first and additionally
  treats the store's uniqueness violation as "already generated". Re-running
  any generation operation produces no duplicates.

PAYMENT POLICY:
  RecordPayment commits the payment first, then attempts next-charge
  generation. A generation failure is logged and swallowed: the payment is
  the primary fact and is never rolled back because a follow-on write failed.
*/
package membership

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/gymcore/billing-engine/billing"
)

// Engine orchestrates charge generation and transitions for one store.
type Engine struct {
	charges  ChargeStore
	students StudentStore
	plans    PlanStore
	clock    billing.Clock
	logger   *log.Logger
}

// NewEngine wires the engine. A nil clock defaults to the system clock and a
// nil logger to the standard logger.
func NewEngine(charges ChargeStore, students StudentStore, plans PlanStore, clock billing.Clock, logger *log.Logger) *Engine {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		charges:  charges,
		students: students,
		plans:    plans,
		clock:    clock,
		logger:   logger,
	}
}

// =============================================================================
// CHARGE GENERATION
// =============================================================================

// GenerateFirstCharge creates the charge for a newly enrolled student.
// Returns (nil, nil) when the student has no plan or no enrollment date.
//
// For retroactive enrollments with a next-charge override, the charge is due
// on the override date; otherwise it is due on the enrollment date itself.
// Either way a due date already in the past yields a charge born overdue.
func (e *Engine) GenerateFirstCharge(ctx context.Context, student Student) (*Charge, error) {
	if !student.Billable() {
		return nil, nil
	}

	plan, err := e.plans.GetPlan(ctx, student.TenantID, student.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	today := e.clock.Today()

	due := student.EnrollmentDate
	note := "first charge generated"
	if student.Retroactive && !student.NextChargeDate.IsZero() {
		due = student.NextChargeDate
		note = ""
	}

	charge := e.newCharge(student, plan, due, today)
	charge.Note = note

	if err := e.createIgnoringDuplicate(ctx, &charge); err != nil {
		return nil, err
	}
	if charge.ID == "" {
		return nil, nil // duplicate: already generated
	}
	return &charge, nil
}

// GenerateRetroactiveCharges backfills every missed billing period since
// enrollment, plus one charge into the near future (the loop runs while
// due <= today + duration). Existing (student, due_date) pairs are skipped,
// so re-running is a no-op. Returns the first newly created charge, or nil
// when nothing was created.
func (e *Engine) GenerateRetroactiveCharges(ctx context.Context, student Student) (*Charge, error) {
	if !student.Billable() {
		return nil, nil
	}

	plan, err := e.plans.GetPlan(ctx, student.TenantID, student.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan.DurationDays <= 0 {
		return nil, &billing.ValidationError{Field: "duration_days", Message: "must be positive"}
	}

	today := e.clock.Today()
	horizon := today.AddDays(plan.DurationDays)

	var first *Charge
	for due := student.EnrollmentDate.AddDays(plan.DurationDays); due.BeforeOrEqual(horizon); due = due.AddDays(plan.DurationDays) {
		exists, err := e.charges.ChargeExists(ctx, student.ID, due)
		if err != nil {
			return first, fmt.Errorf("check charge at %s: %w", due, err)
		}
		if exists {
			continue
		}

		charge := e.newCharge(student, plan, due, today)
		if err := e.createIgnoringDuplicate(ctx, &charge); err != nil {
			return first, err
		}
		if charge.ID != "" && first == nil {
			first = &charge
		}
	}
	return first, nil
}

// GenerateNextCharge creates the successor of a paid charge, due one plan
// duration later. No-op when the student is no longer active, has no plan,
// or the successor already exists.
func (e *Engine) GenerateNextCharge(ctx context.Context, paid Charge) (*Charge, error) {
	student, err := e.students.GetStudent(ctx, paid.TenantID, paid.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if student.Status != StudentActive || !student.HasPlan() {
		return nil, nil
	}

	plan, err := e.plans.GetPlan(ctx, student.TenantID, student.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	next := paid.DueDate.AddDays(plan.DurationDays)

	exists, err := e.charges.ChargeExists(ctx, student.ID, next)
	if err != nil {
		return nil, fmt.Errorf("check charge at %s: %w", next, err)
	}
	if exists {
		return nil, nil
	}

	charge := Charge{
		ID:        ChargeID(uuid.NewString()),
		StudentID: student.ID,
		TenantID:  student.TenantID,
		PlanID:    plan.ID,
		Amount:    plan.Value,
		DueDate:   next,
		Status:    billing.StatusPending,
		CreatedAt: e.clock.Now(),
	}
	if err := e.createIgnoringDuplicate(ctx, &charge); err != nil {
		return nil, err
	}
	if charge.ID == "" {
		return nil, nil
	}
	return &charge, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// MarkOverdueCharges transitions every pending charge of the tenant whose
// due date has strictly passed into overdue. Safe to run repeatedly.
func (e *Engine) MarkOverdueCharges(ctx context.Context, tenantID billing.TenantID) (int, error) {
	return e.charges.MarkOverdueCharges(ctx, tenantID, e.clock.Today())
}

// RecordPayment marks a charge paid and then generates the next charge.
//
// The payment write and the next-charge creation are one logical unit, but
// deliberately NOT one atomic unit: if generation fails after the payment
// committed, the payment stays committed and the failure is logged. The next
// sweep or the next payment attempt will not resurrect the missing charge;
// ReprocessRetroactive covers recovery.
func (e *Engine) RecordPayment(ctx context.Context, tenantID billing.TenantID, id ChargeID, method billing.PaymentMethod, note string) (Charge, error) {
	if !method.Valid() {
		return Charge{}, &billing.ValidationError{Field: "payment_method", Message: "unknown method"}
	}

	charge, err := e.charges.GetCharge(ctx, tenantID, id)
	if err != nil {
		return Charge{}, err
	}
	if !charge.Status.CanTransitionTo(billing.StatusPaid) {
		return Charge{}, &billing.TransitionError{From: charge.Status, To: billing.StatusPaid}
	}

	charge.Status = billing.StatusPaid
	charge.PaidDate = e.clock.Today()
	charge.Method = method
	if note != "" {
		charge.Note = note
	}

	if err := e.charges.UpdateCharge(ctx, charge); err != nil {
		return Charge{}, fmt.Errorf("record payment: %w", err)
	}

	if _, err := e.GenerateNextCharge(ctx, charge); err != nil {
		// Non-fatal: the payment is committed. See package comment.
		e.logger.Printf("[Charges] next charge generation failed for charge %s: %v", charge.ID, err)
	}

	return charge, nil
}

// =============================================================================
// BATCH REPROCESSING
// =============================================================================

// ReprocessRetroactive runs the backfill for every active billable student
// of the tenant whose first billing period has already elapsed and who has
// no charges yet. Returns the number of students processed.
func (e *Engine) ReprocessRetroactive(ctx context.Context, tenantID billing.TenantID) (int, error) {
	students, err := e.students.ListStudents(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list students: %w", err)
	}

	today := e.clock.Today()
	processed := 0

	for _, student := range students {
		if student.Status != StudentActive || !student.Billable() {
			continue
		}

		plan, err := e.plans.GetPlan(ctx, student.TenantID, student.PlanID)
		if err != nil {
			e.logger.Printf("[Charges] reprocess: load plan for student %s: %v", student.ID, err)
			continue
		}

		firstDue := student.EnrollmentDate.AddDays(plan.DurationDays)
		if !billing.IsPast(student.EnrollmentDate, today) || !billing.IsPast(firstDue, today) {
			continue
		}

		existing, err := e.charges.ListChargesByStudent(ctx, student.ID)
		if err != nil {
			e.logger.Printf("[Charges] reprocess: list charges for student %s: %v", student.ID, err)
			continue
		}
		if len(existing) > 0 {
			continue
		}

		if _, err := e.GenerateRetroactiveCharges(ctx, student); err != nil {
			e.logger.Printf("[Charges] reprocess: backfill for student %s: %v", student.ID, err)
			continue
		}
		processed++
	}

	return processed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) newCharge(student Student, plan Plan, due billing.Date, today billing.Date) Charge {
	return Charge{
		ID:        ChargeID(uuid.NewString()),
		StudentID: student.ID,
		TenantID:  student.TenantID,
		PlanID:    plan.ID,
		Amount:    plan.Value,
		DueDate:   due,
		Status:    billing.StatusForNewItem(due, today),
		CreatedAt: e.clock.Now(),
	}
}

// createIgnoringDuplicate inserts the charge and clears its ID when the
// store reports the (student, due_date) constraint: a duplicate means the
// charge was already generated, which is success for an idempotent operation.
func (e *Engine) createIgnoringDuplicate(ctx context.Context, c *Charge) error {
	err := e.charges.CreateCharge(ctx, *c)
	if err == nil {
		return nil
	}
	if billing.IsDuplicate(err) {
		c.ID = ""
		return nil
	}
	return err
}
