package finance

import (
	"strings"

	"github.com/gymcore/billing-engine/billing"
)

// DownPaymentSpec describes the optional up-front entry of a new transaction.
// A zero DueDate means due today. Paid marks the entry settled at creation
// time, with the due date doubling as the payment date.
type DownPaymentSpec struct {
	Amount  billing.Money
	Method  billing.PaymentMethod
	DueDate billing.Date
	Paid    bool
}

// TransactionSpec is the input to Engine.CreateTransaction. With an
// InstallmentCount of one or more, the total (minus the down payment when one
// is given) is split over that many monthly installments anchored at
// FirstDueDate. With a count of zero the remainder becomes a single
// installment due on the competency date; Paid settles it immediately.
type TransactionSpec struct {
	CategoryID     CategoryID
	Kind           Kind
	Description    string
	TotalValue     billing.Money
	CompetencyDate billing.Date

	FirstDueDate     billing.Date
	InstallmentCount int

	// Method is stamped on the scheduled installments at creation, recording
	// how they are expected to be paid. Payment may still override it.
	Method billing.PaymentMethod

	// Paid settles the single-installment schedule (InstallmentCount zero) at
	// creation. Ignored when a schedule is given: scheduled installments are
	// settled one by one through RecordInstallmentPayment.
	Paid bool

	Recurring   bool
	Note        string
	DownPayment *DownPaymentSpec
}

// Validate rejects malformed specs before any write.
func (s TransactionSpec) Validate() error {
	if s.CategoryID == "" {
		return &billing.ValidationError{Field: "category_id", Message: "required"}
	}
	if !s.Kind.Valid() {
		return &billing.ValidationError{Field: "kind", Message: "must be income or expense"}
	}
	if strings.TrimSpace(s.Description) == "" {
		return &billing.ValidationError{Field: "description", Message: "required"}
	}
	if !s.TotalValue.IsPositive() {
		return &billing.ValidationError{Field: "total_value", Message: "must be positive"}
	}
	if s.CompetencyDate.IsZero() {
		return &billing.ValidationError{Field: "competency_date", Message: "required"}
	}
	if s.InstallmentCount < 0 {
		return &billing.ValidationError{Field: "installment_count", Message: "cannot be negative"}
	}
	if s.InstallmentCount >= 1 && s.FirstDueDate.IsZero() {
		return &billing.ValidationError{Field: "first_due_date", Message: "required with an installment schedule"}
	}
	if s.Method != "" && !s.Method.Valid() {
		return &billing.ValidationError{Field: "payment_method", Message: "unknown method"}
	}
	if s.DownPayment != nil {
		if !s.DownPayment.Amount.IsPositive() {
			return &billing.ValidationError{Field: "down_payment.amount", Message: "must be positive"}
		}
		if !s.DownPayment.Amount.LessThan(s.TotalValue) {
			return &billing.ValidationError{Field: "down_payment.amount", Message: "must be less than total"}
		}
		if s.DownPayment.Method != "" && !s.DownPayment.Method.Valid() {
			return &billing.ValidationError{Field: "down_payment.method", Message: "unknown method"}
		}
	}
	return nil
}
