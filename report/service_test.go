package report_test

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/report"
	"github.com/gymcore/billing-engine/store/memory"
)

const tenant = billing.TenantID("gym-1")

// fixture builds a tenant with one active and one inactive student, three
// March charges (one paid, one past due, one almost due) and two March
// transactions (a paid income and a pending expense).
func fixture(t *testing.T) (*report.Service, *memory.Store, billing.FixedClock) {
	t.Helper()
	clock := billing.NewFixedClock(2025, time.March, 15)
	store := memory.New()
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
	require.NoError(t, store.CreateStudent(ctx, membership.Student{
		ID: "bob", TenantID: tenant, Name: "Bob",
		Status: membership.StudentInactive,
	}))

	charge := func(id string, due billing.Date, status billing.Status, paid billing.Date) membership.Charge {
		return membership.Charge{
			ID: membership.ChargeID(id), StudentID: "ana", TenantID: tenant, PlanID: "plan-1",
			Amount: billing.MustMoney("150.00"), DueDate: due,
			PaidDate: paid, Status: status, CreatedAt: clock.Now(),
		}
	}
	require.NoError(t, store.CreateCharge(ctx,
		charge("c-paid", billing.NewDate(2025, time.March, 1), billing.StatusPaid, billing.NewDate(2025, time.March, 1))))
	require.NoError(t, store.CreateCharge(ctx,
		charge("c-late", billing.NewDate(2025, time.March, 5), billing.StatusPending, billing.Date{})))
	require.NoError(t, store.CreateCharge(ctx,
		charge("c-soon", billing.NewDate(2025, time.March, 16), billing.StatusPending, billing.Date{})))

	require.NoError(t, store.CreateCategory(ctx, finance.Category{
		ID: "cat-income", TenantID: tenant, Name: "Other income", Kind: finance.KindIncome, Active: true,
	}))
	require.NoError(t, store.CreateCategory(ctx, finance.Category{
		ID: "cat-expense", TenantID: tenant, Name: "Rent", Kind: finance.KindExpense, Active: true,
	}))

	membershipEngine := membership.NewEngine(store, store, store, clock, log.Default())
	financeEngine := finance.NewEngine(store, store, clock, log.Default())

	_, incomeInstallments, err := financeEngine.CreateTransaction(ctx, tenant, finance.TransactionSpec{
		CategoryID: "cat-income", Kind: finance.KindIncome, Description: "Evaluation fee",
		TotalValue:     billing.MustMoney("100.00"),
		CompetencyDate: billing.NewDate(2025, time.March, 1),
		FirstDueDate:   billing.NewDate(2025, time.March, 10), InstallmentCount: 1,
	})
	require.NoError(t, err)
	_, err = financeEngine.RecordInstallmentPayment(ctx, tenant, incomeInstallments[0].ID, billing.MethodCash, billing.Date{}, "")
	require.NoError(t, err)

	_, _, err = financeEngine.CreateTransaction(ctx, tenant, finance.TransactionSpec{
		CategoryID: "cat-expense", Kind: finance.KindExpense, Description: "Water",
		TotalValue:     billing.MustMoney("50.00"),
		CompetencyDate: billing.NewDate(2025, time.March, 1),
		FirstDueDate:   billing.NewDate(2025, time.March, 20), InstallmentCount: 1,
	})
	require.NoError(t, err)

	service := report.NewService(store, membershipEngine, financeEngine, clock, log.Default())
	return service, store, clock
}

func TestMonthlySummary(t *testing.T) {
	service, _, _ := fixture(t)

	summary, err := service.MonthlySummary(context.Background(), tenant, time.March, 2025)
	require.NoError(t, err)

	assert.Equal(t, "150.00", summary.MembershipPaid.String())
	assert.Equal(t, "300.00", summary.MembershipOpen.String())
	assert.Equal(t, "100.00", summary.IncomePaid.String())
	assert.Equal(t, "0.00", summary.IncomeOpen.String())
	assert.Equal(t, "0.00", summary.ExpensePaid.String())
	assert.Equal(t, "50.00", summary.ExpenseOpen.String())

	// Balance is realized cash only: 150 membership + 100 income - 0 expense.
	assert.Equal(t, "250.00", summary.Balance.String())
}

func TestSummarySweepsBeforeAggregating(t *testing.T) {
	// GIVEN a pending charge with a past due date
	service, store, _ := fixture(t)
	ctx := context.Background()

	// WHEN any report runs
	_, err := service.MonthlySummary(ctx, tenant, time.March, 2025)
	require.NoError(t, err)

	// THEN the stale pending charge was transitioned first
	c, err := store.GetCharge(ctx, tenant, "c-late")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOverdue, c.Status)
}

func TestDashboard(t *testing.T) {
	service, _, _ := fixture(t)

	dashboard, err := service.Dashboard(context.Background(), tenant)
	require.NoError(t, err)

	// Only Ana is active.
	assert.Equal(t, 1, dashboard.ActiveStudents)

	// The swept charge is the only overdue one.
	assert.Equal(t, 1, dashboard.Overdue.Count)
	assert.Equal(t, "150.00", dashboard.Overdue.Total.String())

	// Only the charge due within today+2 is urgent; the overdue one from
	// March 5 is outside the window.
	require.Len(t, dashboard.Urgent, 1)
	assert.Equal(t, membership.ChargeID("c-soon"), dashboard.Urgent[0].ChargeID)
	assert.Equal(t, "Ana", dashboard.Urgent[0].StudentName)
	assert.Equal(t, -1, dashboard.Urgent[0].DaysLate)

	assert.Equal(t, "250.00", dashboard.Month.Balance.String())
}

func TestPendingInstallments(t *testing.T) {
	service, _, _ := fixture(t)

	pending, err := service.PendingInstallments(context.Background(), tenant, report.PendingFilter{})
	require.NoError(t, err)

	// The income installment is paid; only the expense one remains open.
	require.Len(t, pending, 1)
	assert.Equal(t, "Water", pending[0].Description)
	assert.Equal(t, finance.KindExpense, pending[0].Kind)
	assert.Equal(t, "2025-03-20", pending[0].DueDate.String())

	// A kind filter on the other direction leaves nothing.
	pending, err = service.PendingInstallments(context.Background(), tenant,
		report.PendingFilter{Kind: finance.KindIncome})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMonthlyStatementOrderedByDueDate(t *testing.T) {
	service, _, _ := fixture(t)

	entries, err := service.MonthlyStatement(context.Background(), tenant, "", time.March, 2025)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	// Charges and installments interleave in due-date order.
	var dates []string
	for _, e := range entries {
		dates = append(dates, e.DueDate.String())
	}
	assert.Equal(t, []string{
		"2025-03-01", "2025-03-05", "2025-03-10", "2025-03-16", "2025-03-20",
	}, dates)

	assert.Equal(t, report.SourceCharge, entries[0].Source)
	assert.Equal(t, report.SourceInstallment, entries[2].Source)
}

func TestMonthlyStatementKindFilter(t *testing.T) {
	service, _, _ := fixture(t)

	// Only the expense installment is an expense line; charges count as income.
	entries, err := service.MonthlyStatement(context.Background(), tenant,
		finance.KindExpense, time.March, 2025)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Water", entries[0].Description)
}
