/*
store.go - Persistence interface for the transaction engine

PURPOSE:
  Defines the boundary between transaction logic and the database.
  Implementations live in store/sqlite (production) and store/memory (tests).

UNIQUENESS CONTRACTS:
  - (transaction_id, number) is unique across installments, number being
    Role.Number(). A violation surfaces billing.ErrDuplicateInstallment.
  - recurrence_key is unique across transactions where set. A violation
    surfaces billing.ErrDuplicateRecurrence; the engine treats it as "this
    competency month is already materialized". Transactions with an empty
    key never collide, so manual duplicates stay legal.

ATOMICITY:
  CreateTransactionWithInstallments writes the transaction and its full
  schedule in one transaction: either everything lands or nothing does.
  DeleteTransaction checks for paid installments and cascades inside the
  same boundary, so a concurrent payment can never be erased.
*/
package finance

import (
	"context"
	"time"

	"github.com/gymcore/billing-engine/billing"
)

// TransactionStore handles transaction and installment persistence.
type TransactionStore interface {
	// CreateTransactionWithInstallments atomically inserts a transaction and
	// its schedule. Returns billing.ErrDuplicateRecurrence when the
	// recurrence key is already taken.
	CreateTransactionWithInstallments(ctx context.Context, t Transaction, installments []Installment) error

	// GetTransaction loads a transaction within a tenant scope.
	GetTransaction(ctx context.Context, tenantID billing.TenantID, id TransactionID) (Transaction, error)

	// ListTransactions returns the tenant's transactions in a competency
	// month, ordered by competency date.
	ListTransactions(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]Transaction, error)

	// DeleteTransaction removes a transaction and all of its installments.
	// Returns billing.ErrHasPaidInstallments when any installment is paid;
	// the check and the cascade share one store boundary.
	DeleteTransaction(ctx context.Context, tenantID billing.TenantID, id TransactionID) error

	// GetInstallment loads an installment within a tenant scope.
	GetInstallment(ctx context.Context, tenantID billing.TenantID, id InstallmentID) (Installment, error)

	// ListInstallments returns a transaction's installments ordered by number.
	ListInstallments(ctx context.Context, transactionID TransactionID) ([]Installment, error)

	// UpdateInstallment persists a status/payment mutation.
	UpdateInstallment(ctx context.Context, i Installment) error

	// RecurrenceExists checks whether a transaction with the given recurrence
	// key already exists. Pre-check only; the constraint is the real guard.
	RecurrenceExists(ctx context.Context, tenantID billing.TenantID, key string) (bool, error)

	// ListRecurring returns the tenant's recurring templates.
	ListRecurring(ctx context.Context, tenantID billing.TenantID) ([]Transaction, error)

	// MarkOverdueInstallments bulk-transitions pending installments of the
	// tenant with due_date < before into overdue. Returns the number updated.
	MarkOverdueInstallments(ctx context.Context, tenantID billing.TenantID, before billing.Date) (int, error)
}

// CategoryStore handles category persistence.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c Category) error
	GetCategory(ctx context.Context, tenantID billing.TenantID, id CategoryID) (Category, error)
	ListCategories(ctx context.Context, tenantID billing.TenantID) ([]Category, error)
	UpdateCategory(ctx context.Context, c Category) error
	DeleteCategory(ctx context.Context, tenantID billing.TenantID, id CategoryID) error

	// CategoryInUse reports whether any transaction references the category.
	CategoryInUse(ctx context.Context, tenantID billing.TenantID, id CategoryID) (bool, error)
}
