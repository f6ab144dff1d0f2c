/*
service.go - Reporting service

PURPOSE:
  Builds the read models from aggregate queries. The heavy lifting happens
  in the store (SQL aggregation); this layer sequences the sweeps and folds
  the numbers.

FRESHNESS:
  Every report that exposes overdue state runs the relevant overdue sweep
  first, so a report never shows a pending item whose due date has already
  passed. A sweep failure degrades to stale statuses and is logged, it never
  fails the report.
*/
package report

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
)

// urgentWindowDays is how far ahead the dashboard looks for charges that
// need attention.
const urgentWindowDays = 2

// ChargeTotals aggregates a tenant's charges in one month. Paid money is
// bucketed by the month it was paid, open money by the month it falls due.
type ChargeTotals struct {
	Paid billing.Money
	Open billing.Money
}

// InstallmentTotals aggregates a tenant's installments in one month, split
// by direction, with the same paid/open month bucketing as ChargeTotals.
type InstallmentTotals struct {
	IncomePaid  billing.Money
	IncomeOpen  billing.Money
	ExpensePaid billing.Money
	ExpenseOpen billing.Money
}

// Store is the aggregate-query surface the reports are built from.
// Implementations live in store/sqlite (SQL aggregation) and store/memory.
type Store interface {
	CountActiveStudents(ctx context.Context, tenantID billing.TenantID) (int, error)

	// ChargeTotals sums the tenant's charges for the month: paid by payment
	// date, open (pending or overdue) by due date. Cancelled charges are
	// excluded.
	ChargeTotals(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (ChargeTotals, error)

	// InstallmentTotals sums the tenant's installments for the month by kind,
	// with the same paid/open bucketing. Cancelled installments are excluded.
	InstallmentTotals(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (InstallmentTotals, error)

	// OverdueChargeStats counts the tenant's overdue charges, all time.
	OverdueChargeStats(ctx context.Context, tenantID billing.TenantID) (OverdueStats, error)

	// ListUrgentCharges returns open charges with from <= due <= to, joined
	// with the student, ordered by due date.
	ListUrgentCharges(ctx context.Context, tenantID billing.TenantID, from, to billing.Date) ([]UrgentCharge, error)

	// ListOpenInstallments returns pending and overdue installments joined
	// with their transaction, ordered by due date.
	ListOpenInstallments(ctx context.Context, tenantID billing.TenantID) ([]OpenInstallment, error)

	// ListStatementEntries returns the flattened charge and installment lines
	// due in the month, ordered by due date.
	ListStatementEntries(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]StatementEntry, error)
}

// Service builds reports. It borrows the two engines only for their overdue
// sweeps.
type Service struct {
	store      Store
	membership *membership.Engine
	finance    *finance.Engine
	clock      billing.Clock
	logger     *log.Logger
}

func NewService(store Store, m *membership.Engine, f *finance.Engine, clock billing.Clock, logger *log.Logger) *Service {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, membership: m, finance: f, clock: clock, logger: logger}
}

// sweep refreshes overdue state on both engines before a report is built.
func (s *Service) sweep(ctx context.Context, tenantID billing.TenantID) {
	if _, err := s.membership.MarkOverdueCharges(ctx, tenantID); err != nil {
		s.logger.Printf("[Reports] charge sweep for tenant %s: %v", tenantID, err)
	}
	if _, err := s.finance.MarkOverdueInstallments(ctx, tenantID); err != nil {
		s.logger.Printf("[Reports] installment sweep for tenant %s: %v", tenantID, err)
	}
}

// MonthlySummary builds the financial summary of one competency month.
func (s *Service) MonthlySummary(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (Summary, error) {
	s.sweep(ctx, tenantID)

	charges, err := s.store.ChargeTotals(ctx, tenantID, month, year)
	if err != nil {
		return Summary{}, fmt.Errorf("charge totals: %w", err)
	}
	installments, err := s.store.InstallmentTotals(ctx, tenantID, month, year)
	if err != nil {
		return Summary{}, fmt.Errorf("installment totals: %w", err)
	}

	return Summary{
		Month:          month,
		Year:           year,
		MembershipPaid: charges.Paid,
		MembershipOpen: charges.Open,
		IncomePaid:     installments.IncomePaid,
		IncomeOpen:     installments.IncomeOpen,
		ExpensePaid:    installments.ExpensePaid,
		ExpenseOpen:    installments.ExpenseOpen,
		Balance:        charges.Paid.Add(installments.IncomePaid).Sub(installments.ExpensePaid),
	}, nil
}

// PendingFilter narrows the open installment list. The zero value keeps
// both directions and applies no cap.
type PendingFilter struct {
	Kind  finance.Kind
	Limit int
}

// PendingInstallments returns the tenant's open installments with fresh
// overdue statuses, filtered and capped per the filter.
func (s *Service) PendingInstallments(ctx context.Context, tenantID billing.TenantID, filter PendingFilter) ([]OpenInstallment, error) {
	s.sweep(ctx, tenantID)

	open, err := s.store.ListOpenInstallments(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if filter.Kind != "" {
		kept := open[:0]
		for _, inst := range open {
			if inst.Kind == filter.Kind {
				kept = append(kept, inst)
			}
		}
		open = kept
	}
	if filter.Limit > 0 && len(open) > filter.Limit {
		open = open[:filter.Limit]
	}
	return open, nil
}

// Dashboard builds the landing-page read model: headcount, overdue totals,
// the charges due within the attention window, and the current month's
// summary.
func (s *Service) Dashboard(ctx context.Context, tenantID billing.TenantID) (Dashboard, error) {
	s.sweep(ctx, tenantID)

	today := s.clock.Today()

	students, err := s.store.CountActiveStudents(ctx, tenantID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("count students: %w", err)
	}
	overdue, err := s.store.OverdueChargeStats(ctx, tenantID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("overdue stats: %w", err)
	}
	urgent, err := s.store.ListUrgentCharges(ctx, tenantID, today, today.AddDays(urgentWindowDays))
	if err != nil {
		return Dashboard{}, fmt.Errorf("urgent charges: %w", err)
	}
	for i := range urgent {
		urgent[i].DaysLate = billing.DaysOverdue(urgent[i].DueDate, urgent[i].Status, today)
	}

	month, err := s.MonthlySummary(ctx, tenantID, today.Month(), today.Year())
	if err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		ActiveStudents: students,
		Overdue:        overdue,
		Urgent:         urgent,
		Month:          month,
	}, nil
}

// MonthlyStatement returns the flattened ledger of the month: every charge
// and installment due in it, in due-date order. A non-empty kind keeps only
// that direction; charges count as income.
func (s *Service) MonthlyStatement(ctx context.Context, tenantID billing.TenantID, kind finance.Kind, month time.Month, year int) ([]StatementEntry, error) {
	s.sweep(ctx, tenantID)

	entries, err := s.store.ListStatementEntries(ctx, tenantID, month, year)
	if err != nil {
		return nil, err
	}
	if kind != "" {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Kind == kind {
				kept = append(kept, entry)
			}
		}
		entries = kept
	}
	return entries, nil
}
