package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/store/sqlite"
)

const tenant = billing.TenantID("gym-1")

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateTenant(ctx, billing.Tenant{ID: tenant, Name: "Test Gym"}))
	require.NoError(t, store.CreatePlan(ctx, membership.Plan{
		ID: "plan-1", TenantID: tenant, Name: "Monthly",
		Value: billing.MustMoney("150.00"), DurationDays: 30, Active: true,
	}))
	require.NoError(t, store.CreateStudent(ctx, membership.Student{
		ID: "ana", TenantID: tenant, PlanID: "plan-1", Name: "Ana",
		EnrollmentDate: billing.NewDate(2025, time.January, 1),
		Status:         membership.StudentActive,
	}))
	require.NoError(t, store.CreateCategory(ctx, finance.Category{
		ID: "cat-1", TenantID: tenant, Name: "Rent", Kind: finance.KindExpense, Active: true,
	}))
	return store
}

func testCharge(id string, due billing.Date) membership.Charge {
	return membership.Charge{
		ID:        membership.ChargeID(id),
		StudentID: "ana",
		TenantID:  tenant,
		PlanID:    "plan-1",
		Amount:    billing.MustMoney("150.00"),
		DueDate:   due,
		Status:    billing.StatusPending,
		CreatedAt: time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testTransaction(id, key string, recurring bool) finance.Transaction {
	return finance.Transaction{
		ID:               finance.TransactionID(id),
		TenantID:         tenant,
		CategoryID:       "cat-1",
		Kind:             finance.KindExpense,
		Description:      "Rent",
		TotalValue:       billing.MustMoney("2000.00"),
		CompetencyDate:   billing.NewDate(2025, time.March, 1),
		FirstDueDate:     billing.NewDate(2025, time.March, 5),
		InstallmentCount: 1,
		Recurring:        recurring,
		RecurrenceKey:    key,
		CreatedAt:        time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testInstallment(id, txnID string, number int) finance.Installment {
	return finance.Installment{
		ID:            finance.InstallmentID(id),
		TransactionID: finance.TransactionID(txnID),
		TenantID:      tenant,
		Role:          finance.RoleFromNumber(number),
		Amount:        billing.MustMoney("2000.00"),
		DueDate:       billing.NewDate(2025, time.March, 5),
		Status:        billing.StatusPending,
		CreatedAt:     time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestChargeRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	original := testCharge("c1", billing.NewDate(2025, time.March, 5))
	original.Note = "first charge generated"
	require.NoError(t, store.CreateCharge(ctx, original))

	loaded, err := store.GetCharge(ctx, tenant, "c1")
	require.NoError(t, err)

	assert.Equal(t, original.ID, loaded.ID)
	assert.True(t, loaded.Amount.Equal(original.Amount))
	assert.True(t, loaded.DueDate.Equal(original.DueDate))
	assert.True(t, loaded.PaidDate.IsZero())
	assert.Equal(t, original.Note, loaded.Note)
	assert.Equal(t, billing.StatusPending, loaded.Status)
}

func TestDuplicateChargeConstraint(t *testing.T) {
	// GIVEN a charge for a (student, due_date) pair
	store := newStore(t)
	ctx := context.Background()

	due := billing.NewDate(2025, time.March, 5)
	require.NoError(t, store.CreateCharge(ctx, testCharge("c1", due)))

	// WHEN a second charge targets the same pair
	err := store.CreateCharge(ctx, testCharge("c2", due))

	// THEN the uniqueness index rejects it with the sentinel
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrDuplicateCharge))

	// AND a different due date is fine
	require.NoError(t, store.CreateCharge(ctx, testCharge("c3", due.AddDays(30))))
}

func TestChargeExists(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	due := billing.NewDate(2025, time.March, 5)
	require.NoError(t, store.CreateCharge(ctx, testCharge("c1", due)))

	exists, err := store.ChargeExists(ctx, "ana", due)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.ChargeExists(ctx, "ana", due.AddDays(1))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMarkOverdueChargesBulk(t *testing.T) {
	// GIVEN pending charges on both sides of the cutoff
	store := newStore(t)
	ctx := context.Background()

	today := billing.NewDate(2025, time.March, 15)
	require.NoError(t, store.CreateCharge(ctx, testCharge("past", today.AddDays(-5))))
	require.NoError(t, store.CreateCharge(ctx, testCharge("due-today", today)))
	require.NoError(t, store.CreateCharge(ctx, testCharge("future", today.AddDays(5))))

	// WHEN the sweep runs
	n, err := store.MarkOverdueCharges(ctx, tenant, today)
	require.NoError(t, err)

	// THEN only the strictly past charge transitions
	assert.Equal(t, 1, n)

	past, err := store.GetCharge(ctx, tenant, "past")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOverdue, past.Status)

	dueToday, err := store.GetCharge(ctx, tenant, "due-today")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, dueToday.Status)
}

func TestRecurrenceKeyConstraint(t *testing.T) {
	// GIVEN a materialized competency month
	store := newStore(t)
	ctx := context.Background()

	key := finance.MakeRecurrenceKey("cat-1", "Rent", time.March, 2025)
	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", key, true),
		[]finance.Installment{testInstallment("i1", "t1", 1)}))

	// WHEN the same key is inserted again
	err := store.CreateTransactionWithInstallments(ctx,
		testTransaction("t2", key, false),
		[]finance.Installment{testInstallment("i2", "t2", 1)})

	// THEN the constraint rejects it
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrDuplicateRecurrence))

	// AND the rejected transaction left no installments behind
	_, err = store.GetInstallment(ctx, tenant, "i2")
	assert.True(t, errors.Is(err, billing.ErrInstallmentNotFound))
}

func TestManualTransactionsWithoutKeyMayDuplicate(t *testing.T) {
	// GIVEN two identical manual entries with no recurrence key
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", "", false),
		[]finance.Installment{testInstallment("i1", "t1", 1)}))

	// THEN the second one is legal
	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t2", "", false),
		[]finance.Installment{testInstallment("i2", "t2", 1)}))
}

func TestDuplicateInstallmentNumberConstraint(t *testing.T) {
	// GIVEN a schedule that repeats a number within one transaction
	store := newStore(t)
	ctx := context.Background()

	err := store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", "", false),
		[]finance.Installment{
			testInstallment("i1", "t1", 1),
			testInstallment("i2", "t1", 1),
		})

	// THEN the insert fails atomically
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrDuplicateInstallment))

	_, err = store.GetTransaction(ctx, tenant, "t1")
	assert.True(t, errors.Is(err, billing.ErrTransactionNotFound))
}

func TestDownPaymentAndNumberedCoexist(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", "", false),
		[]finance.Installment{
			testInstallment("down", "t1", 0),
			testInstallment("first", "t1", 1),
		}))

	installments, err := store.ListInstallments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, installments, 2)
	assert.True(t, installments[0].Role.IsDownPayment())
	assert.Equal(t, 1, installments[1].Role.Number())
}

func TestDeleteTransactionCascades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", "", false),
		[]finance.Installment{testInstallment("i1", "t1", 1)}))

	require.NoError(t, store.DeleteTransaction(ctx, tenant, "t1"))

	_, err := store.GetTransaction(ctx, tenant, "t1")
	assert.True(t, errors.Is(err, billing.ErrTransactionNotFound))
	_, err = store.GetInstallment(ctx, tenant, "i1")
	assert.True(t, errors.Is(err, billing.ErrInstallmentNotFound))
}

func TestDeleteTransactionRejectedOncePaid(t *testing.T) {
	// GIVEN a transaction whose installment is already paid
	store := newStore(t)
	ctx := context.Background()

	paid := testInstallment("i1", "t1", 1)
	paid.Status = billing.StatusPaid
	paid.PaidDate = paid.DueDate
	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", "", false),
		[]finance.Installment{paid}))

	// WHEN deletion is attempted
	err := store.DeleteTransaction(ctx, tenant, "t1")

	// THEN the delete boundary itself rejects it and nothing is removed
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrHasPaidInstallments))

	_, err = store.GetTransaction(ctx, tenant, "t1")
	require.NoError(t, err)
	_, err = store.GetInstallment(ctx, tenant, "i1")
	require.NoError(t, err)
}

func TestTransactionsListedByCompetencyMonth(t *testing.T) {
	// GIVEN a March competency falling due in April
	store := newStore(t)
	ctx := context.Background()

	txn := testTransaction("t1", "", false)
	txn.FirstDueDate = billing.NewDate(2025, time.April, 10)
	inst := testInstallment("i1", "t1", 1)
	inst.DueDate = txn.FirstDueDate
	require.NoError(t, store.CreateTransactionWithInstallments(ctx, txn,
		[]finance.Installment{inst}))

	// THEN it lists under its competency month, not its due month
	march, err := store.ListTransactions(ctx, tenant, time.March, 2025)
	require.NoError(t, err)
	assert.Len(t, march, 1)

	april, err := store.ListTransactions(ctx, tenant, time.April, 2025)
	require.NoError(t, err)
	assert.Empty(t, april)
}

func TestTenantScopingOnReads(t *testing.T) {
	// GIVEN a charge owned by gym-1
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCharge(ctx, testCharge("c1", billing.NewDate(2025, time.March, 5))))

	// WHEN another tenant asks for it
	_, err := store.GetCharge(ctx, "gym-2", "c1")

	// THEN it is not found
	assert.True(t, errors.Is(err, billing.ErrChargeNotFound))
}

func TestChargeTotalsAggregation(t *testing.T) {
	// GIVEN paid, open and cancelled charges in March plus one in April
	store := newStore(t)
	ctx := context.Background()

	paid := testCharge("paid", billing.NewDate(2025, time.March, 1))
	paid.Status = billing.StatusPaid
	paid.PaidDate = paid.DueDate
	require.NoError(t, store.CreateCharge(ctx, paid))

	require.NoError(t, store.CreateCharge(ctx, testCharge("open", billing.NewDate(2025, time.March, 10))))

	cancelled := testCharge("cancelled", billing.NewDate(2025, time.March, 20))
	cancelled.Status = billing.StatusCancelled
	require.NoError(t, store.CreateCharge(ctx, cancelled))

	require.NoError(t, store.CreateCharge(ctx, testCharge("april", billing.NewDate(2025, time.April, 1))))

	// WHEN March is aggregated
	totals, err := store.ChargeTotals(ctx, tenant, time.March, 2025)
	require.NoError(t, err)

	// THEN cancelled and out-of-month charges are excluded
	assert.Equal(t, "150.00", totals.Paid.String())
	assert.Equal(t, "150.00", totals.Open.String())
}

func TestChargeTotalsBucketPaidByPaymentMonth(t *testing.T) {
	// GIVEN a March charge settled late, in April
	store := newStore(t)
	ctx := context.Background()

	late := testCharge("late", billing.NewDate(2025, time.March, 10))
	late.Status = billing.StatusPaid
	late.PaidDate = billing.NewDate(2025, time.April, 2)
	require.NoError(t, store.CreateCharge(ctx, late))

	// THEN the money counts in the month it was paid
	march, err := store.ChargeTotals(ctx, tenant, time.March, 2025)
	require.NoError(t, err)
	assert.Equal(t, "0.00", march.Paid.String())
	assert.Equal(t, "0.00", march.Open.String())

	april, err := store.ChargeTotals(ctx, tenant, time.April, 2025)
	require.NoError(t, err)
	assert.Equal(t, "150.00", april.Paid.String())
	assert.Equal(t, "0.00", april.Open.String())
}

func TestInstallmentTotalsBucketPaidByPaymentMonth(t *testing.T) {
	// GIVEN one open and one late-paid installment of a March expense
	store := newStore(t)
	ctx := context.Background()

	open := testInstallment("open", "t1", 1)
	late := testInstallment("late", "t1", 2)
	late.Status = billing.StatusPaid
	late.PaidDate = billing.NewDate(2025, time.April, 2)
	require.NoError(t, store.CreateTransactionWithInstallments(ctx,
		testTransaction("t1", "", false),
		[]finance.Installment{open, late}))

	// THEN March sees only the open money and April only the paid money
	march, err := store.InstallmentTotals(ctx, tenant, time.March, 2025)
	require.NoError(t, err)
	assert.Equal(t, "2000.00", march.ExpenseOpen.String())
	assert.Equal(t, "0.00", march.ExpensePaid.String())

	april, err := store.InstallmentTotals(ctx, tenant, time.April, 2025)
	require.NoError(t, err)
	assert.Equal(t, "0.00", april.ExpenseOpen.String())
	assert.Equal(t, "2000.00", april.ExpensePaid.String())
}
