/*
engine.go - Transaction and installment engine

PURPOSE:
  Creates income/expense transactions split into installment schedules,
  records installment payments, runs the overdue sweep, and materializes
  recurring transactions month by month.

SPLITTING RULE:
  The total, minus the down payment when one is given, is divided evenly
  over the installment count at cent precision. The rounding remainder is
  folded into the LAST installment so the schedule always sums back to the
  transaction total.

RECURRENCE:
  Two paths materialize the next competency month of a recurring series:
  payment of any installment spawns month+1 eagerly, and the monthly batch
  clones every template into a target month. Both paths are guarded by the
  recurrence-key uniqueness constraint, so they never double-materialize a
  month no matter how they interleave.
*/
package finance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gymcore/billing-engine/billing"
)

// Engine orchestrates transaction creation and installment transitions.
type Engine struct {
	txns       TransactionStore
	categories CategoryStore
	clock      billing.Clock
	logger     *log.Logger
}

// NewEngine wires the engine. A nil clock defaults to the system clock and a
// nil logger to the standard logger.
func NewEngine(txns TransactionStore, categories CategoryStore, clock billing.Clock, logger *log.Logger) *Engine {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		txns:       txns,
		categories: categories,
		clock:      clock,
		logger:     logger,
	}
}

// =============================================================================
// TRANSACTION CREATION
// =============================================================================

// CreateTransaction validates the spec, builds the installment schedule and
// writes everything atomically. Returns the transaction with its schedule
// ordered by installment number.
func (e *Engine) CreateTransaction(ctx context.Context, tenantID billing.TenantID, spec TransactionSpec) (Transaction, []Installment, error) {
	if err := spec.Validate(); err != nil {
		return Transaction{}, nil, err
	}

	category, err := e.categories.GetCategory(ctx, tenantID, spec.CategoryID)
	if err != nil {
		return Transaction{}, nil, err
	}
	if category.Kind != spec.Kind {
		return Transaction{}, nil, &billing.ValidationError{
			Field:   "category_id",
			Message: fmt.Sprintf("category %q is %s, transaction is %s", category.Name, category.Kind, spec.Kind),
		}
	}

	// No schedule given: the whole remainder falls due on the competency
	// date as a single installment.
	firstDue := spec.FirstDueDate
	count := spec.InstallmentCount
	if count == 0 {
		firstDue = spec.CompetencyDate
		count = 1
	}

	now := e.clock.Now()
	txn := Transaction{
		ID:               TransactionID(uuid.NewString()),
		TenantID:         tenantID,
		CategoryID:       spec.CategoryID,
		Kind:             spec.Kind,
		Description:      strings.TrimSpace(spec.Description),
		TotalValue:       spec.TotalValue,
		CompetencyDate:   spec.CompetencyDate,
		FirstDueDate:     firstDue,
		InstallmentCount: count,
		Recurring:        spec.Recurring,
		Note:             strings.TrimSpace(spec.Note),
		CreatedAt:        now,
	}
	if spec.Recurring {
		month, year := txn.CompetencyMonth()
		txn.RecurrenceKey = MakeRecurrenceKey(txn.CategoryID, txn.Description, month, year)
	}

	installments := e.buildSchedule(txn, spec)

	if err := e.txns.CreateTransactionWithInstallments(ctx, txn, installments); err != nil {
		return Transaction{}, nil, fmt.Errorf("create transaction: %w", err)
	}
	return txn, installments, nil
}

// buildSchedule produces the full installment list of a new transaction: the
// optional down payment plus the numbered installments, with the paid-at-
// creation marks the spec carries. The sum of the amounts always equals the
// transaction total.
func (e *Engine) buildSchedule(txn Transaction, spec TransactionSpec) []Installment {
	today := e.clock.Today()
	now := e.clock.Now()

	installments := make([]Installment, 0, txn.InstallmentCount+1)

	remaining := txn.TotalValue
	if down := spec.DownPayment; down != nil {
		due := down.DueDate
		if due.IsZero() {
			due = today
		}
		inst := Installment{
			ID:            InstallmentID(uuid.NewString()),
			TransactionID: txn.ID,
			TenantID:      txn.TenantID,
			Role:          DownPayment(),
			Amount:        down.Amount,
			DueDate:       due,
			Method:        down.Method,
			Status:        billing.StatusForNewItem(due, today),
			CreatedAt:     now,
		}
		if down.Paid {
			inst.Status = billing.StatusPaid
			inst.PaidDate = due
		}
		installments = append(installments, inst)
		remaining = remaining.Sub(down.Amount)
	}

	// Paid settles the implicit single installment only; an explicit
	// schedule is settled one payment at a time.
	settleAll := spec.Paid && spec.InstallmentCount == 0

	amounts := billing.SplitInstallments(remaining, txn.InstallmentCount)
	for i, amount := range amounts {
		due := txn.FirstDueDate.AddMonths(i)
		inst := Installment{
			ID:            InstallmentID(uuid.NewString()),
			TransactionID: txn.ID,
			TenantID:      txn.TenantID,
			Role:          Numbered(i + 1),
			Amount:        amount,
			DueDate:       due,
			Method:        spec.Method,
			Status:        billing.StatusForNewItem(due, today),
			CreatedAt:     now,
		}
		if settleAll {
			inst.Status = billing.StatusPaid
			inst.PaidDate = due
		}
		installments = append(installments, inst)
	}
	return installments
}

// =============================================================================
// INSTALLMENT TRANSITIONS
// =============================================================================

// RecordInstallmentPayment marks an installment paid. If the parent
// transaction is a recurring template, the next competency month is spawned
// afterwards; a spawn failure is logged and swallowed, the payment stays
// committed.
// A zero paidDate defaults to today; a non-empty note is recorded on the
// installment.
func (e *Engine) RecordInstallmentPayment(ctx context.Context, tenantID billing.TenantID, id InstallmentID, method billing.PaymentMethod, paidDate billing.Date, note string) (Installment, error) {
	if !method.Valid() {
		return Installment{}, &billing.ValidationError{Field: "payment_method", Message: "unknown method"}
	}

	inst, err := e.txns.GetInstallment(ctx, tenantID, id)
	if err != nil {
		return Installment{}, err
	}
	if !inst.Status.CanTransitionTo(billing.StatusPaid) {
		return Installment{}, &billing.TransitionError{From: inst.Status, To: billing.StatusPaid}
	}

	if paidDate.IsZero() {
		paidDate = e.clock.Today()
	}
	inst.Status = billing.StatusPaid
	inst.PaidDate = paidDate
	inst.Method = method
	if note != "" {
		inst.Note = note
	}

	if err := e.txns.UpdateInstallment(ctx, inst); err != nil {
		return Installment{}, fmt.Errorf("record payment: %w", err)
	}

	txn, err := e.txns.GetTransaction(ctx, tenantID, inst.TransactionID)
	if err != nil {
		e.logger.Printf("[Transactions] load parent of installment %s: %v", inst.ID, err)
		return inst, nil
	}
	if txn.Recurring {
		if err := e.spawnNextRecurrence(ctx, txn, inst); err != nil {
			// Non-fatal: the payment is committed. See package comment.
			e.logger.Printf("[Transactions] recurrence spawn for %s: %v", txn.ID, err)
		}
	}

	return inst, nil
}

// CancelInstallment cancels an open installment. Paid installments are
// immutable facts and cannot be cancelled.
func (e *Engine) CancelInstallment(ctx context.Context, tenantID billing.TenantID, id InstallmentID) (Installment, error) {
	inst, err := e.txns.GetInstallment(ctx, tenantID, id)
	if err != nil {
		return Installment{}, err
	}
	if !inst.Status.CanTransitionTo(billing.StatusCancelled) {
		return Installment{}, &billing.TransitionError{From: inst.Status, To: billing.StatusCancelled}
	}

	inst.Status = billing.StatusCancelled
	if err := e.txns.UpdateInstallment(ctx, inst); err != nil {
		return Installment{}, fmt.Errorf("cancel installment: %w", err)
	}
	return inst, nil
}

// MarkOverdueInstallments transitions every pending installment of the
// tenant whose due date has strictly passed into overdue.
func (e *Engine) MarkOverdueInstallments(ctx context.Context, tenantID billing.TenantID) (int, error) {
	return e.txns.MarkOverdueInstallments(ctx, tenantID, e.clock.Today())
}

// =============================================================================
// TRANSACTION DELETION
// =============================================================================

// DeleteTransaction removes a transaction and its installments. Rejected
// once any installment is paid: paid money is a fact, the entry can no
// longer be erased. The paid check happens inside the store's delete
// boundary, so a payment landing mid-delete cannot be erased either.
func (e *Engine) DeleteTransaction(ctx context.Context, tenantID billing.TenantID, id TransactionID) error {
	if err := e.txns.DeleteTransaction(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// RECURRENCE
// =============================================================================

// spawnNextRecurrence materializes the competency month after the template's,
// keeping the series recurring so each payment keeps the chain one month
// ahead. The clone carries exactly one installment for the full total, due
// one month after the paid installment, with the same payment method. A
// month that already exists, by pre-check or by constraint, is a silent
// no-op.
func (e *Engine) spawnNextRecurrence(ctx context.Context, template Transaction, paid Installment) error {
	competency := template.CompetencyDate.AddMonths(1)
	key := MakeRecurrenceKey(template.CategoryID, template.Description, competency.Month(), competency.Year())

	exists, err := e.txns.RecurrenceExists(ctx, template.TenantID, key)
	if err != nil {
		return fmt.Errorf("check recurrence: %w", err)
	}
	if exists {
		return nil
	}

	due := paid.DueDate.AddMonths(1)

	clone := template
	clone.ID = TransactionID(uuid.NewString())
	clone.CompetencyDate = competency
	clone.FirstDueDate = due
	clone.InstallmentCount = 1
	clone.RecurrenceKey = key
	clone.CreatedAt = e.clock.Now()

	installments := []Installment{{
		ID:            InstallmentID(uuid.NewString()),
		TransactionID: clone.ID,
		TenantID:      clone.TenantID,
		Role:          Numbered(1),
		Amount:        clone.TotalValue,
		DueDate:       due,
		Method:        paid.Method,
		Status:        billing.StatusPending,
		CreatedAt:     clone.CreatedAt,
	}}

	err = e.txns.CreateTransactionWithInstallments(ctx, clone, installments)
	if billing.IsDuplicate(err) {
		return nil
	}
	return err
}

// GenerateRecurringBatch clones every recurring template of the tenant into
// the target competency month. Clones are plain transactions, not templates,
// so the batch never multiplies the series. Returns the number created.
func (e *Engine) GenerateRecurringBatch(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (int, error) {
	templates, err := e.txns.ListRecurring(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list recurring: %w", err)
	}

	created := 0
	for _, template := range templates {
		key := MakeRecurrenceKey(template.CategoryID, template.Description, month, year)

		exists, err := e.txns.RecurrenceExists(ctx, tenantID, key)
		if err != nil {
			return created, fmt.Errorf("check recurrence: %w", err)
		}
		if exists {
			continue
		}

		clone := template
		clone.ID = TransactionID(uuid.NewString())
		clone.CompetencyDate = billing.StartOfMonth(year, month)
		clone.FirstDueDate = template.FirstDueDate.WithMonthYear(month, year)
		clone.Recurring = false
		clone.RecurrenceKey = key
		clone.CreatedAt = e.clock.Now()

		// Replicate the template's schedule shape in the target month, all
		// reset to unpaid.
		today := e.clock.Today()
		amounts := billing.SplitInstallments(clone.TotalValue, clone.InstallmentCount)
		installments := make([]Installment, 0, len(amounts))
		for i, amount := range amounts {
			due := clone.FirstDueDate.AddMonths(i)
			installments = append(installments, Installment{
				ID:            InstallmentID(uuid.NewString()),
				TransactionID: clone.ID,
				TenantID:      clone.TenantID,
				Role:          Numbered(i + 1),
				Amount:        amount,
				DueDate:       due,
				Status:        billing.StatusForNewItem(due, today),
				CreatedAt:     clone.CreatedAt,
			})
		}

		err = e.txns.CreateTransactionWithInstallments(ctx, clone, installments)
		if billing.IsDuplicate(err) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("clone %s: %w", template.ID, err)
		}
		created++
	}
	return created, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

// CreateCategory adds a tenant category.
func (e *Engine) CreateCategory(ctx context.Context, tenantID billing.TenantID, name string, kind Kind) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, &billing.ValidationError{Field: "name", Message: "required"}
	}
	if !kind.Valid() {
		return Category{}, &billing.ValidationError{Field: "kind", Message: "must be income or expense"}
	}

	category := Category{
		ID:       CategoryID(uuid.NewString()),
		TenantID: tenantID,
		Name:     name,
		Kind:     kind,
		Active:   true,
	}
	if err := e.categories.CreateCategory(ctx, category); err != nil {
		return Category{}, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

// RenameCategory renames a non-system category.
func (e *Engine) RenameCategory(ctx context.Context, tenantID billing.TenantID, id CategoryID, name string) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, &billing.ValidationError{Field: "name", Message: "required"}
	}

	category, err := e.categories.GetCategory(ctx, tenantID, id)
	if err != nil {
		return Category{}, err
	}
	if category.System {
		return Category{}, fmt.Errorf("rename category %s: %w", id, billing.ErrSystemCategory)
	}

	category.Name = name
	if err := e.categories.UpdateCategory(ctx, category); err != nil {
		return Category{}, fmt.Errorf("rename category: %w", err)
	}
	return category, nil
}

// DeleteCategory removes a category. System categories and categories still
// referenced by transactions are protected.
func (e *Engine) DeleteCategory(ctx context.Context, tenantID billing.TenantID, id CategoryID) error {
	category, err := e.categories.GetCategory(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if category.System {
		return fmt.Errorf("delete category %s: %w", id, billing.ErrSystemCategory)
	}

	inUse, err := e.categories.CategoryInUse(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("check category use: %w", err)
	}
	if inUse {
		return fmt.Errorf("delete category %s: %w", id, billing.ErrCategoryInUse)
	}

	return e.categories.DeleteCategory(ctx, tenantID, id)
}
