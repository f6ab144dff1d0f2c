// Package report aggregates charges and installments into the read models
// the front desk works from: the monthly summary, the dashboard, the open
// installment list and the monthly statement.
package report

import (
	"time"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
)

// Summary is the financial picture of one competency month. Membership
// revenue is reported separately from manual income so the two engines stay
// distinguishable in the numbers, then folded together in the balance.
type Summary struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`

	MembershipPaid billing.Money `json:"membership_paid"`
	MembershipOpen billing.Money `json:"membership_open"`

	IncomePaid  billing.Money `json:"income_paid"`
	IncomeOpen  billing.Money `json:"income_open"`
	ExpensePaid billing.Money `json:"expense_paid"`
	ExpenseOpen billing.Money `json:"expense_open"`

	// Balance is realized cash: everything paid in, minus everything paid out.
	Balance billing.Money `json:"balance"`
}

// OverdueStats counts the tenant's overdue charges and their total value.
type OverdueStats struct {
	Count int           `json:"count"`
	Total billing.Money `json:"total"`
}

// UrgentCharge is an open charge due inside the dashboard's attention
// window, joined with the student it belongs to.
type UrgentCharge struct {
	ChargeID    membership.ChargeID `json:"charge_id"`
	StudentID   billing.StudentID   `json:"student_id"`
	StudentName string              `json:"student_name"`
	Amount      billing.Money       `json:"amount"`
	DueDate     billing.Date        `json:"due_date"`
	Status      billing.Status      `json:"status"`
	DaysLate    int                 `json:"days_late"`
}

// OpenInstallment is a pending or overdue installment joined with its
// parent transaction.
type OpenInstallment struct {
	InstallmentID finance.InstallmentID `json:"installment_id"`
	TransactionID finance.TransactionID `json:"transaction_id"`
	Description   string                `json:"description"`
	Kind          finance.Kind          `json:"kind"`
	Number        int                   `json:"number"`
	Amount        billing.Money         `json:"amount"`
	DueDate       billing.Date          `json:"due_date"`
	Status        billing.Status        `json:"status"`
}

// EntrySource tells which engine a statement line came from.
type EntrySource string

const (
	SourceCharge      EntrySource = "charge"
	SourceInstallment EntrySource = "installment"
)

// StatementEntry is one line of the monthly statement, a flattened view over
// both charges and installments due in the month, ordered by due date.
type StatementEntry struct {
	Source      EntrySource    `json:"source"`
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Kind        finance.Kind   `json:"kind"`
	Amount      billing.Money  `json:"amount"`
	DueDate     billing.Date   `json:"due_date"`
	PaidDate    billing.Date   `json:"paid_date,omitempty"`
	Status      billing.Status `json:"status"`
}

// Dashboard is the landing-page read model.
type Dashboard struct {
	ActiveStudents int            `json:"active_students"`
	Overdue        OverdueStats   `json:"overdue"`
	Urgent         []UrgentCharge `json:"urgent"`
	Month          Summary        `json:"month"`
}
