/*
memory.go - In-memory store

PURPOSE:
  Map-backed implementation of every store interface, guarded by a single
  RWMutex. Used by the engine tests; production uses store/sqlite.

FIDELITY:
  Mirrors the sqlite store's contracts exactly: the same uniqueness
  violations surface the same billing sentinels, sweeps are atomic under the
  lock, and list results come back in the same order the SQL queries use.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/report"
)

// Store holds everything in maps. Secondary key maps stand in for the
// uniqueness indexes of the sqlite schema.
type Store struct {
	mu sync.RWMutex

	tenants  map[billing.TenantID]billing.Tenant
	plans    map[membership.PlanID]membership.Plan
	students map[billing.StudentID]membership.Student

	charges     map[membership.ChargeID]membership.Charge
	chargeByDue map[string]membership.ChargeID // studentID|due

	categories map[finance.CategoryID]finance.Category

	txns         map[finance.TransactionID]finance.Transaction
	recurrence   map[string]finance.TransactionID // tenantID|key
	installments map[finance.InstallmentID]finance.Installment
	instByNumber map[string]finance.InstallmentID // transactionID|number
}

func New() *Store {
	return &Store{
		tenants:      make(map[billing.TenantID]billing.Tenant),
		plans:        make(map[membership.PlanID]membership.Plan),
		students:     make(map[billing.StudentID]membership.Student),
		charges:      make(map[membership.ChargeID]membership.Charge),
		chargeByDue:  make(map[string]membership.ChargeID),
		categories:   make(map[finance.CategoryID]finance.Category),
		txns:         make(map[finance.TransactionID]finance.Transaction),
		recurrence:   make(map[string]finance.TransactionID),
		installments: make(map[finance.InstallmentID]finance.Installment),
		instByNumber: make(map[string]finance.InstallmentID),
	}
}

func chargeDueKey(studentID billing.StudentID, due billing.Date) string {
	return fmt.Sprintf("%s|%s", studentID, due)
}

func recurrenceMapKey(tenantID billing.TenantID, key string) string {
	return fmt.Sprintf("%s|%s", tenantID, key)
}

func instNumberKey(txnID finance.TransactionID, number int) string {
	return fmt.Sprintf("%s|%d", txnID, number)
}

// =============================================================================
// TENANTS
// =============================================================================

func (s *Store) CreateTenant(ctx context.Context, t billing.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id billing.TenantID) (billing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return billing.Tenant{}, billing.ErrTenantNotFound
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]billing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PLANS
// =============================================================================

func (s *Store) CreatePlan(ctx context.Context, p membership.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
	return nil
}

func (s *Store) GetPlan(ctx context.Context, tenantID billing.TenantID, id membership.PlanID) (membership.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok || p.TenantID != tenantID {
		return membership.Plan{}, billing.ErrPlanNotFound
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context, tenantID billing.TenantID) ([]membership.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []membership.Plan
	for _, p := range s.plans {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) CreateStudent(ctx context.Context, st membership.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = st
	return nil
}

func (s *Store) GetStudent(ctx context.Context, tenantID billing.TenantID, id billing.StudentID) (membership.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok || st.TenantID != tenantID {
		return membership.Student{}, billing.ErrStudentNotFound
	}
	return st, nil
}

func (s *Store) UpdateStudent(ctx context.Context, st membership.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.ID]; !ok {
		return billing.ErrStudentNotFound
	}
	s.students[st.ID] = st
	return nil
}

func (s *Store) ListStudents(ctx context.Context, tenantID billing.TenantID) ([]membership.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []membership.Student
	for _, st := range s.students {
		if st.TenantID == tenantID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// CHARGES
// =============================================================================

func (s *Store) CreateCharge(ctx context.Context, c membership.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chargeDueKey(c.StudentID, c.DueDate)
	if _, taken := s.chargeByDue[key]; taken {
		return billing.ErrDuplicateCharge
	}
	s.charges[c.ID] = c
	s.chargeByDue[key] = c.ID
	return nil
}

func (s *Store) GetCharge(ctx context.Context, tenantID billing.TenantID, id membership.ChargeID) (membership.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.charges[id]
	if !ok || c.TenantID != tenantID {
		return membership.Charge{}, billing.ErrChargeNotFound
	}
	return c, nil
}

func (s *Store) UpdateCharge(ctx context.Context, c membership.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.charges[c.ID]; !ok {
		return billing.ErrChargeNotFound
	}
	s.charges[c.ID] = c
	return nil
}

func (s *Store) ChargeExists(ctx context.Context, studentID billing.StudentID, due billing.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chargeByDue[chargeDueKey(studentID, due)]
	return ok, nil
}

func (s *Store) ListChargesByStudent(ctx context.Context, studentID billing.StudentID) ([]membership.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []membership.Charge
	for _, c := range s.charges {
		if c.StudentID == studentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *Store) MarkOverdueCharges(ctx context.Context, tenantID billing.TenantID, before billing.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.charges {
		if c.TenantID == tenantID && billing.ShouldBeOverdue(c.Status, c.DueDate, before) {
			c.Status = billing.StatusOverdue
			s.charges[id] = c
			n++
		}
	}
	return n, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) CreateCategory(ctx context.Context, c finance.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
	return nil
}

func (s *Store) GetCategory(ctx context.Context, tenantID billing.TenantID, id finance.CategoryID) (finance.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok || c.TenantID != tenantID {
		return finance.Category{}, billing.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context, tenantID billing.TenantID) ([]finance.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []finance.Category
	for _, c := range s.categories {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c finance.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; !ok {
		return billing.ErrCategoryNotFound
	}
	s.categories[c.ID] = c
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, tenantID billing.TenantID, id finance.CategoryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok || c.TenantID != tenantID {
		return billing.ErrCategoryNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CategoryInUse(ctx context.Context, tenantID billing.TenantID, id finance.CategoryID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.txns {
		if t.TenantID == tenantID && t.CategoryID == id {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// TRANSACTIONS + INSTALLMENTS
// =============================================================================

func (s *Store) CreateTransactionWithInstallments(ctx context.Context, t finance.Transaction, installments []finance.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.RecurrenceKey != "" {
		if _, taken := s.recurrence[recurrenceMapKey(t.TenantID, t.RecurrenceKey)]; taken {
			return billing.ErrDuplicateRecurrence
		}
	}
	for _, inst := range installments {
		if _, taken := s.instByNumber[instNumberKey(t.ID, inst.Role.Number())]; taken {
			return billing.ErrDuplicateInstallment
		}
	}

	s.txns[t.ID] = t
	if t.RecurrenceKey != "" {
		s.recurrence[recurrenceMapKey(t.TenantID, t.RecurrenceKey)] = t.ID
	}
	for _, inst := range installments {
		s.installments[inst.ID] = inst
		s.instByNumber[instNumberKey(t.ID, inst.Role.Number())] = inst.ID
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID billing.TenantID, id finance.TransactionID) (finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok || t.TenantID != tenantID {
		return finance.Transaction{}, billing.ErrTransactionNotFound
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []finance.Transaction
	for _, t := range s.txns {
		if t.TenantID == tenantID && t.CompetencyDate.InMonth(month, year) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompetencyDate.Equal(out[j].CompetencyDate) {
			return out[i].CompetencyDate.Before(out[j].CompetencyDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, tenantID billing.TenantID, id finance.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok || t.TenantID != tenantID {
		return billing.ErrTransactionNotFound
	}
	// Paid check and cascade run under the same lock.
	for _, inst := range s.installments {
		if inst.TransactionID == id && inst.Status == billing.StatusPaid {
			return billing.ErrHasPaidInstallments
		}
	}
	for instID, inst := range s.installments {
		if inst.TransactionID == id {
			delete(s.instByNumber, instNumberKey(id, inst.Role.Number()))
			delete(s.installments, instID)
		}
	}
	if t.RecurrenceKey != "" {
		delete(s.recurrence, recurrenceMapKey(t.TenantID, t.RecurrenceKey))
	}
	delete(s.txns, id)
	return nil
}

func (s *Store) GetInstallment(ctx context.Context, tenantID billing.TenantID, id finance.InstallmentID) (finance.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.installments[id]
	if !ok || inst.TenantID != tenantID {
		return finance.Installment{}, billing.ErrInstallmentNotFound
	}
	return inst, nil
}

func (s *Store) ListInstallments(ctx context.Context, transactionID finance.TransactionID) ([]finance.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []finance.Installment
	for _, inst := range s.installments {
		if inst.TransactionID == transactionID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role.Number() < out[j].Role.Number() })
	return out, nil
}

func (s *Store) UpdateInstallment(ctx context.Context, inst finance.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.installments[inst.ID]; !ok {
		return billing.ErrInstallmentNotFound
	}
	s.installments[inst.ID] = inst
	return nil
}

func (s *Store) RecurrenceExists(ctx context.Context, tenantID billing.TenantID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.recurrence[recurrenceMapKey(tenantID, key)]
	return ok, nil
}

func (s *Store) ListRecurring(ctx context.Context, tenantID billing.TenantID) ([]finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []finance.Transaction
	for _, t := range s.txns {
		if t.TenantID == tenantID && t.Recurring {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkOverdueInstallments(ctx context.Context, tenantID billing.TenantID, before billing.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, inst := range s.installments {
		if inst.TenantID == tenantID && billing.ShouldBeOverdue(inst.Status, inst.DueDate, before) {
			inst.Status = billing.StatusOverdue
			s.installments[id] = inst
			n++
		}
	}
	return n, nil
}

// =============================================================================
// REPORT QUERIES
// =============================================================================

func (s *Store) CountActiveStudents(ctx context.Context, tenantID billing.TenantID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.students {
		if st.TenantID == tenantID && st.Status == membership.StudentActive {
			n++
		}
	}
	return n, nil
}

func (s *Store) ChargeTotals(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (report.ChargeTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Paid money buckets by the month it was paid, open money by the month
	// it falls due.
	totals := report.ChargeTotals{Paid: billing.Zero(), Open: billing.Zero()}
	for _, c := range s.charges {
		if c.TenantID != tenantID {
			continue
		}
		switch c.Status {
		case billing.StatusPaid:
			if c.PaidDate.InMonth(month, year) {
				totals.Paid = totals.Paid.Add(c.Amount)
			}
		case billing.StatusPending, billing.StatusOverdue:
			if c.DueDate.InMonth(month, year) {
				totals.Open = totals.Open.Add(c.Amount)
			}
		}
	}
	return totals, nil
}

func (s *Store) InstallmentTotals(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (report.InstallmentTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := report.InstallmentTotals{
		IncomePaid:  billing.Zero(),
		IncomeOpen:  billing.Zero(),
		ExpensePaid: billing.Zero(),
		ExpenseOpen: billing.Zero(),
	}
	for _, inst := range s.installments {
		if inst.TenantID != tenantID {
			continue
		}
		t, ok := s.txns[inst.TransactionID]
		if !ok {
			continue
		}
		paid := inst.Status == billing.StatusPaid && inst.PaidDate.InMonth(month, year)
		open := inst.Status.IsOpen() && inst.DueDate.InMonth(month, year)
		switch {
		case t.Kind == finance.KindIncome && paid:
			totals.IncomePaid = totals.IncomePaid.Add(inst.Amount)
		case t.Kind == finance.KindIncome && open:
			totals.IncomeOpen = totals.IncomeOpen.Add(inst.Amount)
		case t.Kind == finance.KindExpense && paid:
			totals.ExpensePaid = totals.ExpensePaid.Add(inst.Amount)
		case t.Kind == finance.KindExpense && open:
			totals.ExpenseOpen = totals.ExpenseOpen.Add(inst.Amount)
		}
	}
	return totals, nil
}

func (s *Store) OverdueChargeStats(ctx context.Context, tenantID billing.TenantID) (report.OverdueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := report.OverdueStats{Total: billing.Zero()}
	for _, c := range s.charges {
		if c.TenantID == tenantID && c.Status == billing.StatusOverdue {
			stats.Count++
			stats.Total = stats.Total.Add(c.Amount)
		}
	}
	return stats, nil
}

func (s *Store) ListUrgentCharges(ctx context.Context, tenantID billing.TenantID, from, to billing.Date) ([]report.UrgentCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []report.UrgentCharge
	for _, c := range s.charges {
		if c.TenantID != tenantID || !c.Status.IsOpen() {
			continue
		}
		if c.DueDate.Before(from) || c.DueDate.After(to) {
			continue
		}
		st := s.students[c.StudentID]
		out = append(out, report.UrgentCharge{
			ChargeID:    c.ID,
			StudentID:   c.StudentID,
			StudentName: st.Name,
			Amount:      c.Amount,
			DueDate:     c.DueDate,
			Status:      c.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *Store) ListOpenInstallments(ctx context.Context, tenantID billing.TenantID) ([]report.OpenInstallment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []report.OpenInstallment
	for _, inst := range s.installments {
		if inst.TenantID != tenantID || !inst.Status.IsOpen() {
			continue
		}
		t, ok := s.txns[inst.TransactionID]
		if !ok {
			continue
		}
		out = append(out, report.OpenInstallment{
			InstallmentID: inst.ID,
			TransactionID: inst.TransactionID,
			Description:   t.Description,
			Kind:          t.Kind,
			Number:        inst.Role.Number(),
			Amount:        inst.Amount,
			DueDate:       inst.DueDate,
			Status:        inst.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].InstallmentID < out[j].InstallmentID
	})
	return out, nil
}

func (s *Store) ListStatementEntries(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]report.StatementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []report.StatementEntry
	for _, c := range s.charges {
		if c.TenantID != tenantID || !c.DueDate.InMonth(month, year) || c.Status == billing.StatusCancelled {
			continue
		}
		st := s.students[c.StudentID]
		out = append(out, report.StatementEntry{
			Source:      report.SourceCharge,
			ID:          string(c.ID),
			Description: fmt.Sprintf("Membership - %s", st.Name),
			Kind:        finance.KindIncome,
			Amount:      c.Amount,
			DueDate:     c.DueDate,
			PaidDate:    c.PaidDate,
			Status:      c.Status,
		})
	}
	for _, inst := range s.installments {
		if inst.TenantID != tenantID || !inst.DueDate.InMonth(month, year) || inst.Status == billing.StatusCancelled {
			continue
		}
		t, ok := s.txns[inst.TransactionID]
		if !ok {
			continue
		}
		out = append(out, report.StatementEntry{
			Source:      report.SourceInstallment,
			ID:          string(inst.ID),
			Description: fmt.Sprintf("%s (%s)", t.Description, inst.Role.Label(t.InstallmentCount)),
			Kind:        t.Kind,
			Amount:      inst.Amount,
			DueDate:     inst.DueDate,
			PaidDate:    inst.PaidDate,
			Status:      inst.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
