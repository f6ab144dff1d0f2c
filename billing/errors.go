/*
errors.go - Centralized error taxonomy for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors  - malformed input, rejected before any write
  2. Not-found errors   - entity missing within the caller's tenant scope
  3. State conflicts    - operation illegal in the item's current status
  4. Duplicates         - uniqueness-constraint hits; these are the
                          idempotency signal, usually swallowed, not surfaced

USAGE:
  if errors.Is(err, billing.ErrDuplicateCharge) {
      // already generated, nothing to do
  }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateCharge is returned by stores when a charge already exists
	// for (student, due_date). This is the backfill idempotency signal.
	ErrDuplicateCharge = errors.New("charge already exists for due date")

	// ErrDuplicateInstallment is returned when an installment number is
	// already taken within its transaction.
	ErrDuplicateInstallment = errors.New("installment number already exists for transaction")

	// ErrDuplicateRecurrence is returned when a recurring transaction has
	// already been materialized for the target competency month.
	ErrDuplicateRecurrence = errors.New("transaction already exists for competency month")

	// ErrAlreadyPaid is returned when paying or cancelling an item that is
	// already paid.
	ErrAlreadyPaid = errors.New("already paid")

	// ErrInvalidTransition is returned for any other illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrHasPaidInstallments is returned when deleting a transaction that
	// has at least one paid installment.
	ErrHasPaidInstallments = errors.New("transaction has paid installments")

	// ErrSystemCategory is returned when editing or deleting a system category.
	ErrSystemCategory = errors.New("system category cannot be modified")

	// ErrCategoryInUse is returned when deleting a category that still has
	// transactions attached.
	ErrCategoryInUse = errors.New("category has transactions attached")

	ErrValidation = errors.New("invalid input")

	ErrTenantNotFound      = errors.New("tenant not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrStudentNotFound     = errors.New("student not found")
	ErrChargeNotFound      = errors.New("charge not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrCategoryNotFound    = errors.New("category not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError reports an illegal state change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.From == StatusPaid {
		return ErrAlreadyPaid
	}
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDuplicate reports whether err is one of the uniqueness-constraint
// sentinels. Duplicates are idempotency skips, not failures.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateCharge) ||
		errors.Is(err, ErrDuplicateInstallment) ||
		errors.Is(err, ErrDuplicateRecurrence)
}

// IsConflict reports whether the operation was rejected because of the
// item's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrHasPaidInstallments) ||
		errors.Is(err, ErrSystemCategory) ||
		errors.Is(err, ErrCategoryInUse)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}
