package membership_test

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/store/memory"
)

const (
	tenant = billing.TenantID("gym-1")
	planID = membership.PlanID("plan-monthly")
)

func newEngine(t *testing.T, clock billing.Clock) (*membership.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, billing.Tenant{ID: tenant, Name: "Test Gym"}))
	require.NoError(t, store.CreatePlan(ctx, membership.Plan{
		ID:           planID,
		TenantID:     tenant,
		Name:         "Monthly",
		Value:        billing.MustMoney("150.00"),
		DurationDays: 30,
		Active:       true,
	}))

	engine := membership.NewEngine(store, store, store, clock, log.Default())
	return engine, store
}

func newStudent(id string, enrollment billing.Date) membership.Student {
	return membership.Student{
		ID:             billing.StudentID(id),
		TenantID:       tenant,
		PlanID:         planID,
		Name:           "Ana",
		EnrollmentDate: enrollment,
		Status:         membership.StudentActive,
	}
}

func TestFirstChargeDueOnEnrollment(t *testing.T) {
	// GIVEN a student enrolling today
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date)
	require.NoError(t, store.CreateStudent(ctx, student))

	// WHEN the first charge is generated
	charge, err := engine.GenerateFirstCharge(ctx, student)
	require.NoError(t, err)
	require.NotNil(t, charge)

	// THEN it is due on the enrollment date, pending, at the plan price
	assert.True(t, charge.DueDate.Equal(clock.Date))
	assert.Equal(t, billing.StatusPending, charge.Status)
	assert.True(t, charge.Amount.Equal(billing.MustMoney("150.00")))
	assert.NotEmpty(t, charge.Note)
}

func TestFirstChargeRetroactiveOverride(t *testing.T) {
	// GIVEN a retroactive enrollment with a manager-supplied first due date
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", billing.NewDate(2025, time.January, 10))
	student.Retroactive = true
	student.NextChargeDate = billing.NewDate(2025, time.April, 1)
	require.NoError(t, store.CreateStudent(ctx, student))

	// WHEN the first charge is generated
	charge, err := engine.GenerateFirstCharge(ctx, student)
	require.NoError(t, err)
	require.NotNil(t, charge)

	// THEN the override date wins over the enrollment date
	assert.Equal(t, "2025-04-01", charge.DueDate.String())
	assert.Equal(t, billing.StatusPending, charge.Status)
}

func TestFirstChargeSkippedWithoutPlan(t *testing.T) {
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, _ := newEngine(t, clock)

	student := newStudent("s1", clock.Date)
	student.PlanID = ""

	charge, err := engine.GenerateFirstCharge(context.Background(), student)
	require.NoError(t, err)
	assert.Nil(t, charge)
}

func TestRetroactiveBackfillCoversMissedPeriods(t *testing.T) {
	// GIVEN a student enrolled 40 days ago on a 30-day plan
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	enrollment := clock.Date.AddDays(-40) // 2025-02-03
	student := newStudent("s1", enrollment)
	require.NoError(t, store.CreateStudent(ctx, student))

	// WHEN the backfill runs
	first, err := engine.GenerateRetroactiveCharges(ctx, student)
	require.NoError(t, err)
	require.NotNil(t, first)

	// THEN the missed period is overdue and exactly one future charge exists
	charges, err := store.ListChargesByStudent(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, charges, 2)

	assert.Equal(t, "2025-03-05", charges[0].DueDate.String())
	assert.Equal(t, billing.StatusOverdue, charges[0].Status)

	assert.Equal(t, "2025-04-04", charges[1].DueDate.String())
	assert.Equal(t, billing.StatusPending, charges[1].Status)
}

func TestRetroactiveBackfillIsIdempotent(t *testing.T) {
	// GIVEN a backfill that already ran
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date.AddDays(-40))
	require.NoError(t, store.CreateStudent(ctx, student))

	_, err := engine.GenerateRetroactiveCharges(ctx, student)
	require.NoError(t, err)

	// WHEN it runs again
	second, err := engine.GenerateRetroactiveCharges(ctx, student)
	require.NoError(t, err)

	// THEN nothing new is created
	assert.Nil(t, second)
	charges, err := store.ListChargesByStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Len(t, charges, 2)
}

func TestPaymentGeneratesNextCharge(t *testing.T) {
	// GIVEN a student with one pending charge
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date)
	require.NoError(t, store.CreateStudent(ctx, student))
	charge, err := engine.GenerateFirstCharge(ctx, student)
	require.NoError(t, err)

	// WHEN the charge is paid
	paid, err := engine.RecordPayment(ctx, tenant, charge.ID, billing.MethodPix, "")
	require.NoError(t, err)

	// THEN the charge is settled
	assert.Equal(t, billing.StatusPaid, paid.Status)
	assert.True(t, paid.PaidDate.Equal(clock.Date))
	assert.Equal(t, billing.MethodPix, paid.Method)

	// AND the successor exists one plan duration later
	charges, err := store.ListChargesByStudent(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, "2025-04-14", charges[1].DueDate.String())
	assert.Equal(t, billing.StatusPending, charges[1].Status)
}

func TestNextChargeNotDuplicated(t *testing.T) {
	// GIVEN a paid charge whose successor was already generated
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date)
	require.NoError(t, store.CreateStudent(ctx, student))
	charge, err := engine.GenerateFirstCharge(ctx, student)
	require.NoError(t, err)
	paid, err := engine.RecordPayment(ctx, tenant, charge.ID, billing.MethodCash, "")
	require.NoError(t, err)

	// WHEN next-charge generation is invoked again for the same payment
	next, err := engine.GenerateNextCharge(ctx, paid)
	require.NoError(t, err)

	// THEN it is a no-op
	assert.Nil(t, next)
	charges, err := store.ListChargesByStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Len(t, charges, 2)
}

func TestNextChargeSkippedForInactiveStudent(t *testing.T) {
	// GIVEN a student who went inactive after receiving a charge
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date)
	require.NoError(t, store.CreateStudent(ctx, student))
	charge, err := engine.GenerateFirstCharge(ctx, student)
	require.NoError(t, err)

	student.Status = membership.StudentInactive
	require.NoError(t, store.UpdateStudent(ctx, student))

	// WHEN the charge is paid
	_, err = engine.RecordPayment(ctx, tenant, charge.ID, billing.MethodCash, "")
	require.NoError(t, err)

	// THEN no successor is generated
	charges, err := store.ListChargesByStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Len(t, charges, 1)
}

func TestPayingPaidChargeRejected(t *testing.T) {
	// GIVEN a paid charge
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date)
	require.NoError(t, store.CreateStudent(ctx, student))
	charge, err := engine.GenerateFirstCharge(ctx, student)
	require.NoError(t, err)
	_, err = engine.RecordPayment(ctx, tenant, charge.ID, billing.MethodCash, "")
	require.NoError(t, err)

	// WHEN it is paid again
	_, err = engine.RecordPayment(ctx, tenant, charge.ID, billing.MethodCash, "")

	// THEN the second payment is rejected as already paid
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrAlreadyPaid))
}

func TestPaymentRejectsUnknownMethod(t *testing.T) {
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, _ := newEngine(t, clock)

	_, err := engine.RecordPayment(context.Background(), tenant, "missing", "check", "")
	require.Error(t, err)
	assert.True(t, billing.IsValidation(err))
}

func TestOverdueSweepIsMonotonic(t *testing.T) {
	// GIVEN a pending charge whose due date has passed
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	student := newStudent("s1", clock.Date)
	require.NoError(t, store.CreateStudent(ctx, student))
	require.NoError(t, store.CreateCharge(ctx, membership.Charge{
		ID:        "c1",
		StudentID: student.ID,
		TenantID:  tenant,
		PlanID:    planID,
		Amount:    billing.MustMoney("150.00"),
		DueDate:   clock.Date.AddDays(-1),
		Status:    billing.StatusPending,
		CreatedAt: clock.Now(),
	}))

	// WHEN the sweep runs
	n, err := engine.MarkOverdueCharges(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// THEN a second run finds nothing left to transition
	n, err = engine.MarkOverdueCharges(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	charge, err := store.GetCharge(ctx, tenant, "c1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOverdue, charge.Status)
}

func TestReprocessRetroactiveBackfillsChargelessStudents(t *testing.T) {
	// GIVEN one student without charges past their first period and one
	// student already billed
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	missed := newStudent("missed", clock.Date.AddDays(-45))
	require.NoError(t, store.CreateStudent(ctx, missed))

	billed := newStudent("billed", clock.Date.AddDays(-45))
	require.NoError(t, store.CreateStudent(ctx, billed))
	_, err := engine.GenerateRetroactiveCharges(ctx, billed)
	require.NoError(t, err)

	// WHEN the batch runs
	processed, err := engine.ReprocessRetroactive(ctx, tenant)
	require.NoError(t, err)

	// THEN only the charge-less student is processed
	assert.Equal(t, 1, processed)
	charges, err := store.ListChargesByStudent(ctx, missed.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, charges)
}

func TestReprocessSkipsRecentEnrollments(t *testing.T) {
	// GIVEN a student whose first billing period has not elapsed yet
	clock := billing.NewFixedClock(2025, time.March, 15)
	engine, store := newEngine(t, clock)
	ctx := context.Background()

	fresh := newStudent("fresh", clock.Date.AddDays(-10))
	require.NoError(t, store.CreateStudent(ctx, fresh))

	// WHEN the batch runs
	processed, err := engine.ReprocessRetroactive(ctx, tenant)
	require.NoError(t, err)

	// THEN the student is left alone
	assert.Equal(t, 0, processed)
}
