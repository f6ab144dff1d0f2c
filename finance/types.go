// Package finance implements the transaction and installment engine: manual
// income/expense entries split into installment schedules, monthly recurrence,
// and the category taxonomy they post against.
package finance

import (
	"fmt"
	"time"

	"github.com/gymcore/billing-engine/billing"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CategoryID string
type TransactionID string
type InstallmentID string

// =============================================================================
// KIND - Money direction
// =============================================================================

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category classifies transactions for reporting. System categories are
// engine-owned (the membership engine posts into one) and cannot be renamed
// or deleted.
type Category struct {
	ID       CategoryID
	TenantID billing.TenantID
	Name     string
	Kind     Kind
	System   bool
	Active   bool
}

// =============================================================================
// ROLE - An installment's position in its schedule
// =============================================================================

// Role distinguishes the optional down payment from the numbered monthly
// installments. The two behave identically after creation; the role only
// determines the due-date rule at creation time and the display label.
type Role struct {
	downPayment bool
	ordinal     int
}

// DownPayment is the role of the up-front entry, due immediately (or on an
// explicit date), before the numbered schedule starts.
func DownPayment() Role { return Role{downPayment: true} }

// Numbered is the role of the n-th monthly installment, n >= 1.
func Numbered(n int) Role { return Role{ordinal: n} }

func (r Role) IsDownPayment() bool { return r.downPayment }

// Ordinal returns the 1-based position of a numbered installment, 0 for the
// down payment.
func (r Role) Ordinal() int { return r.ordinal }

// Number is the storage and ordering key: 0 for the down payment, the
// ordinal otherwise. Unique within a transaction.
func (r Role) Number() int {
	if r.downPayment {
		return 0
	}
	return r.ordinal
}

// RoleFromNumber reverses Number for store hydration.
func RoleFromNumber(n int) Role {
	if n == 0 {
		return DownPayment()
	}
	return Numbered(n)
}

// Label renders the role for display: "down payment" or "2/10".
func (r Role) Label(total int) string {
	if r.downPayment {
		return "down payment"
	}
	return fmt.Sprintf("%d/%d", r.ordinal, total)
}

// =============================================================================
// TRANSACTION - One income or expense entry
// =============================================================================

// Transaction is a manual income or expense entry. Its money is never owed
// directly: it is split into Installments at creation time, and those carry
// the due dates, statuses and payments. TotalValue always equals the sum of
// the installment amounts.
type Transaction struct {
	ID          TransactionID
	TenantID    billing.TenantID
	CategoryID  CategoryID
	Kind        Kind
	Description string
	TotalValue  billing.Money

	// CompetencyDate is the accounting period the transaction belongs to,
	// independent of when its installments fall due or get paid. Recurrence
	// and monthly listings key on its month.
	CompetencyDate billing.Date

	// FirstDueDate anchors the monthly installment schedule.
	FirstDueDate     billing.Date
	InstallmentCount int

	// Recurring marks a template that respawns one competency month ahead
	// when an installment is paid.
	Recurring bool

	// RecurrenceKey is "<category>|<description>|<YYYY-MM>", set only on
	// recurring templates and engine-created clones. The store holds a
	// uniqueness constraint over it, so a competency month is materialized
	// at most once while manual duplicates stay legal (their key is empty).
	RecurrenceKey string

	Note      string
	CreatedAt time.Time
}

// CompetencyMonth returns the month/year the transaction accounts under.
func (t Transaction) CompetencyMonth() (time.Month, int) {
	return t.CompetencyDate.Month(), t.CompetencyDate.Year()
}

// MakeRecurrenceKey builds the store-level uniqueness key for one competency
// month of a recurring series.
func MakeRecurrenceKey(categoryID CategoryID, description string, month time.Month, year int) string {
	return fmt.Sprintf("%s|%s|%04d-%02d", categoryID, description, year, int(month))
}

// =============================================================================
// INSTALLMENT - One payable slice of a transaction
// =============================================================================

// Installment is one payable slice of a transaction.
//
// INVARIANT: at most one installment per (transaction, number), where number
// is Role.Number(). The store enforces this with a uniqueness constraint.
type Installment struct {
	ID            InstallmentID
	TransactionID TransactionID
	TenantID      billing.TenantID
	Role          Role

	Amount  billing.Money
	DueDate billing.Date

	PaidDate billing.Date // zero until paid
	Method   billing.PaymentMethod
	Status   billing.Status
	Note     string

	CreatedAt time.Time
}

// DaysOverdue returns how late the installment is as of today.
func (i Installment) DaysOverdue(today billing.Date) int {
	return billing.DaysOverdue(i.DueDate, i.Status, today)
}
