/*
sqlite.go - SQLite store

PURPOSE:
  Production persistence for every store interface, backed by mattn/go-sqlite3
  with WAL journaling and foreign keys on.

SCHEMA NOTES:
  - Dates are stored as "YYYY-MM-DD" text so lexicographic comparison is
    chronological comparison; range scans over due_date need no parsing.
  - Money is stored as fixed two-decimal text and summed in Go with the
    decimal type, never with SQL float arithmetic.
  - The three uniqueness indexes ARE the engine invariants:
      charges(student_id, due_date)         one charge per period
      installments(transaction_id, number)  one slot per schedule position
      transactions(tenant_id, recurrence_key) one materialization per
                                            competency month; the key is NULL
                                            on manual entries so duplicates
                                            of those stay legal
    Constraint violations are translated into the billing sentinels so the
    engines can treat them as idempotency signals.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/report"
)

// Store wraps the database handle. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for tests.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a single pooled connection also
	// keeps ":memory:" databases from silently splitting per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL REFERENCES tenants(id),
	name          TEXT NOT NULL,
	value         TEXT NOT NULL,
	duration_days INTEGER NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	active        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS students (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL REFERENCES tenants(id),
	plan_id          TEXT,
	name             TEXT NOT NULL,
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	enrollment_date  TEXT,
	retroactive      INTEGER NOT NULL DEFAULT 0,
	next_charge_date TEXT,
	status           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_students_tenant ON students(tenant_id);

CREATE TABLE IF NOT EXISTS charges (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES students(id),
	tenant_id  TEXT NOT NULL,
	plan_id    TEXT NOT NULL,
	amount     TEXT NOT NULL,
	due_date   TEXT NOT NULL,
	paid_date  TEXT,
	method     TEXT,
	status     TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_charges_student_due ON charges(student_id, due_date);
CREATE INDEX IF NOT EXISTS idx_charges_tenant_status ON charges(tenant_id, status);

CREATE TABLE IF NOT EXISTS categories (
	id        TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	name      TEXT NOT NULL,
	kind      TEXT NOT NULL,
	system    INTEGER NOT NULL DEFAULT 0,
	active    INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_categories_tenant ON categories(tenant_id);

CREATE TABLE IF NOT EXISTS transactions (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL REFERENCES tenants(id),
	category_id       TEXT NOT NULL REFERENCES categories(id),
	kind              TEXT NOT NULL,
	description       TEXT NOT NULL,
	total_value       TEXT NOT NULL,
	competency_date   TEXT NOT NULL,
	first_due_date    TEXT NOT NULL,
	installment_count INTEGER NOT NULL,
	recurring         INTEGER NOT NULL DEFAULT 0,
	recurrence_key    TEXT,
	note              TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_recurrence ON transactions(tenant_id, recurrence_key);
CREATE INDEX IF NOT EXISTS idx_transactions_tenant_competency ON transactions(tenant_id, competency_date);

CREATE TABLE IF NOT EXISTS installments (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	tenant_id      TEXT NOT NULL,
	number         INTEGER NOT NULL,
	amount         TEXT NOT NULL,
	due_date       TEXT NOT NULL,
	paid_date      TEXT,
	method         TEXT,
	status         TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_installments_txn_number ON installments(transaction_id, number);
CREATE INDEX IF NOT EXISTS idx_installments_tenant_status ON installments(tenant_id, status);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// mapConstraintErr translates SQLite uniqueness violations into billing
// sentinels by matching the offending columns in the driver's error text.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "charges.student_id"):
		return billing.ErrDuplicateCharge
	case strings.Contains(msg, "installments.transaction_id"):
		return billing.ErrDuplicateInstallment
	case strings.Contains(msg, "transactions.tenant_id"):
		return billing.ErrDuplicateRecurrence
	}
	return err
}

func dateOrNull(d billing.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func strOrNull(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func parseDate(v sql.NullString) (billing.Date, error) {
	if !v.Valid || v.String == "" {
		return billing.Date{}, nil
	}
	return billing.ParseDate(v.String)
}

func mustParseDate(v string) (billing.Date, error) {
	return billing.ParseDate(v)
}

func monthRange(month time.Month, year int) (string, string) {
	return billing.StartOfMonth(year, month).String(), billing.EndOfMonth(year, month).String()
}

const timeLayout = time.RFC3339

// =============================================================================
// TENANTS
// =============================================================================

func (s *Store) CreateTenant(ctx context.Context, t billing.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name) VALUES (?, ?)`, string(t.ID), t.Name)
	return err
}

func (s *Store) GetTenant(ctx context.Context, id billing.TenantID) (billing.Tenant, error) {
	var t billing.Tenant
	var rawID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM tenants WHERE id = ?`, string(id)).Scan(&rawID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Tenant{}, billing.ErrTenantNotFound
	}
	if err != nil {
		return billing.Tenant{}, err
	}
	t.ID = billing.TenantID(rawID)
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]billing.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Tenant
	for rows.Next() {
		var t billing.Tenant
		var rawID string
		if err := rows.Scan(&rawID, &t.Name); err != nil {
			return nil, err
		}
		t.ID = billing.TenantID(rawID)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// PLANS
// =============================================================================

func (s *Store) CreatePlan(ctx context.Context, p membership.Plan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, tenant_id, name, value, duration_days, description, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.TenantID), p.Name, p.Value.String(),
		p.DurationDays, p.Description, p.Active)
	return err
}

func (s *Store) GetPlan(ctx context.Context, tenantID billing.TenantID, id membership.PlanID) (membership.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, value, duration_days, description, active
		FROM plans WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Plan{}, billing.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) ListPlans(ctx context.Context, tenantID billing.TenantID) ([]membership.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, value, duration_days, description, active
		FROM plans WHERE tenant_id = ? ORDER BY name`,
		string(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(r rowScanner) (membership.Plan, error) {
	var p membership.Plan
	var id, tenantID, value string
	if err := r.Scan(&id, &tenantID, &p.Name, &value, &p.DurationDays, &p.Description, &p.Active); err != nil {
		return membership.Plan{}, err
	}
	amount, err := billing.ParseMoney(value)
	if err != nil {
		return membership.Plan{}, fmt.Errorf("plan %s: %w", id, err)
	}
	p.ID = membership.PlanID(id)
	p.TenantID = billing.TenantID(tenantID)
	p.Value = amount
	return p, nil
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) CreateStudent(ctx context.Context, st membership.Student) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, tenant_id, plan_id, name, email, phone,
			enrollment_date, retroactive, next_charge_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(st.ID), string(st.TenantID), strOrNull(string(st.PlanID)),
		st.Name, st.Email, st.Phone,
		dateOrNull(st.EnrollmentDate), st.Retroactive,
		dateOrNull(st.NextChargeDate), string(st.Status))
	return err
}

func (s *Store) GetStudent(ctx context.Context, tenantID billing.TenantID, id billing.StudentID) (membership.Student, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan_id, name, email, phone,
			enrollment_date, retroactive, next_charge_date, status
		FROM students WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Student{}, billing.ErrStudentNotFound
	}
	return st, err
}

func (s *Store) UpdateStudent(ctx context.Context, st membership.Student) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE students SET plan_id = ?, name = ?, email = ?, phone = ?,
			enrollment_date = ?, retroactive = ?, next_charge_date = ?, status = ?
		WHERE id = ? AND tenant_id = ?`,
		strOrNull(string(st.PlanID)), st.Name, st.Email, st.Phone,
		dateOrNull(st.EnrollmentDate), st.Retroactive,
		dateOrNull(st.NextChargeDate), string(st.Status),
		string(st.ID), string(st.TenantID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrStudentNotFound
	}
	return nil
}

func (s *Store) ListStudents(ctx context.Context, tenantID billing.TenantID) ([]membership.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, plan_id, name, email, phone,
			enrollment_date, retroactive, next_charge_date, status
		FROM students WHERE tenant_id = ? ORDER BY name`,
		string(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStudent(r rowScanner) (membership.Student, error) {
	var st membership.Student
	var id, tenantID, status string
	var planID, enrollment, nextCharge sql.NullString
	if err := r.Scan(&id, &tenantID, &planID, &st.Name, &st.Email, &st.Phone,
		&enrollment, &st.Retroactive, &nextCharge, &status); err != nil {
		return membership.Student{}, err
	}
	var err error
	if st.EnrollmentDate, err = parseDate(enrollment); err != nil {
		return membership.Student{}, fmt.Errorf("student %s: %w", id, err)
	}
	if st.NextChargeDate, err = parseDate(nextCharge); err != nil {
		return membership.Student{}, fmt.Errorf("student %s: %w", id, err)
	}
	st.ID = billing.StudentID(id)
	st.TenantID = billing.TenantID(tenantID)
	st.PlanID = membership.PlanID(planID.String)
	st.Status = membership.StudentStatus(status)
	return st, nil
}

// =============================================================================
// CHARGES
// =============================================================================

func (s *Store) CreateCharge(ctx context.Context, c membership.Charge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO charges (id, student_id, tenant_id, plan_id, amount,
			due_date, paid_date, method, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.StudentID), string(c.TenantID), string(c.PlanID),
		c.Amount.String(), c.DueDate.String(), dateOrNull(c.PaidDate),
		strOrNull(string(c.Method)), string(c.Status), c.Note,
		c.CreatedAt.Format(timeLayout))
	return mapConstraintErr(err)
}

func (s *Store) GetCharge(ctx context.Context, tenantID billing.TenantID, id membership.ChargeID) (membership.Charge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, tenant_id, plan_id, amount,
			due_date, paid_date, method, status, note, created_at
		FROM charges WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	c, err := scanCharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Charge{}, billing.ErrChargeNotFound
	}
	return c, err
}

func (s *Store) UpdateCharge(ctx context.Context, c membership.Charge) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE charges SET paid_date = ?, method = ?, status = ?, note = ?
		WHERE id = ? AND tenant_id = ?`,
		dateOrNull(c.PaidDate), strOrNull(string(c.Method)), string(c.Status),
		c.Note, string(c.ID), string(c.TenantID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrChargeNotFound
	}
	return nil
}

func (s *Store) ChargeExists(ctx context.Context, studentID billing.StudentID, due billing.Date) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM charges WHERE student_id = ? AND due_date = ?`,
		string(studentID), due.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListChargesByStudent(ctx context.Context, studentID billing.StudentID) ([]membership.Charge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, tenant_id, plan_id, amount,
			due_date, paid_date, method, status, note, created_at
		FROM charges WHERE student_id = ? ORDER BY due_date`,
		string(studentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCharges(rows)
}

func (s *Store) MarkOverdueCharges(ctx context.Context, tenantID billing.TenantID, before billing.Date) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE charges SET status = ?
		WHERE tenant_id = ? AND status = ? AND due_date < ?`,
		string(billing.StatusOverdue), string(tenantID),
		string(billing.StatusPending), before.String())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func collectCharges(rows *sql.Rows) ([]membership.Charge, error) {
	var out []membership.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCharge(r rowScanner) (membership.Charge, error) {
	var c membership.Charge
	var id, studentID, tenantID, planID, amount, due, status, createdAt string
	var paid, method sql.NullString
	if err := r.Scan(&id, &studentID, &tenantID, &planID, &amount,
		&due, &paid, &method, &status, &c.Note, &createdAt); err != nil {
		return membership.Charge{}, err
	}
	var err error
	if c.Amount, err = billing.ParseMoney(amount); err != nil {
		return membership.Charge{}, fmt.Errorf("charge %s: %w", id, err)
	}
	if c.DueDate, err = mustParseDate(due); err != nil {
		return membership.Charge{}, fmt.Errorf("charge %s: %w", id, err)
	}
	if c.PaidDate, err = parseDate(paid); err != nil {
		return membership.Charge{}, fmt.Errorf("charge %s: %w", id, err)
	}
	if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return membership.Charge{}, fmt.Errorf("charge %s: %w", id, err)
	}
	c.ID = membership.ChargeID(id)
	c.StudentID = billing.StudentID(studentID)
	c.TenantID = billing.TenantID(tenantID)
	c.PlanID = membership.PlanID(planID)
	c.Method = billing.PaymentMethod(method.String)
	c.Status = billing.Status(status)
	return c, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) CreateCategory(ctx context.Context, c finance.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, tenant_id, name, kind, system, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.TenantID), c.Name, string(c.Kind), c.System, c.Active)
	return err
}

func (s *Store) GetCategory(ctx context.Context, tenantID billing.TenantID, id finance.CategoryID) (finance.Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, kind, system, active
		FROM categories WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Category{}, billing.ErrCategoryNotFound
	}
	return c, err
}

func (s *Store) ListCategories(ctx context.Context, tenantID billing.TenantID) ([]finance.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, kind, system, active
		FROM categories WHERE tenant_id = ? ORDER BY name`,
		string(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCategory(ctx context.Context, c finance.Category) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, active = ?
		WHERE id = ? AND tenant_id = ?`,
		c.Name, c.Active, string(c.ID), string(c.TenantID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrCategoryNotFound
	}
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, tenantID billing.TenantID, id finance.CategoryID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM categories WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrCategoryNotFound
	}
	return nil
}

func (s *Store) CategoryInUse(ctx context.Context, tenantID billing.TenantID, id finance.CategoryID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transactions WHERE tenant_id = ? AND category_id = ? LIMIT 1`,
		string(tenantID), string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanCategory(r rowScanner) (finance.Category, error) {
	var c finance.Category
	var id, tenantID, kind string
	if err := r.Scan(&id, &tenantID, &c.Name, &kind, &c.System, &c.Active); err != nil {
		return finance.Category{}, err
	}
	c.ID = finance.CategoryID(id)
	c.TenantID = billing.TenantID(tenantID)
	c.Kind = finance.Kind(kind)
	return c, nil
}

// =============================================================================
// TRANSACTIONS + INSTALLMENTS
// =============================================================================

func (s *Store) CreateTransactionWithInstallments(ctx context.Context, t finance.Transaction, installments []finance.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, tenant_id, category_id, kind, description,
			total_value, competency_date, first_due_date, installment_count,
			recurring, recurrence_key, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.TenantID), string(t.CategoryID), string(t.Kind),
		t.Description, t.TotalValue.String(), t.CompetencyDate.String(),
		t.FirstDueDate.String(), t.InstallmentCount, t.Recurring,
		strOrNull(t.RecurrenceKey), t.Note, t.CreatedAt.Format(timeLayout))
	if err != nil {
		return mapConstraintErr(err)
	}

	for _, inst := range installments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO installments (id, transaction_id, tenant_id, number,
				amount, due_date, paid_date, method, status, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(inst.ID), string(inst.TransactionID), string(inst.TenantID),
			inst.Role.Number(), inst.Amount.String(), inst.DueDate.String(),
			dateOrNull(inst.PaidDate), strOrNull(string(inst.Method)),
			string(inst.Status), inst.Note, inst.CreatedAt.Format(timeLayout))
		if err != nil {
			return mapConstraintErr(err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetTransaction(ctx context.Context, tenantID billing.TenantID, id finance.TransactionID) (finance.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, category_id, kind, description, total_value,
			competency_date, first_due_date, installment_count, recurring,
			recurrence_key, note, created_at
		FROM transactions WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Transaction{}, billing.ErrTransactionNotFound
	}
	return t, err
}

func (s *Store) ListTransactions(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]finance.Transaction, error) {
	from, to := monthRange(month, year)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, category_id, kind, description, total_value,
			competency_date, first_due_date, installment_count, recurring,
			recurrence_key, note, created_at
		FROM transactions
		WHERE tenant_id = ? AND competency_date BETWEEN ? AND ?
		ORDER BY competency_date, id`,
		string(tenantID), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) DeleteTransaction(ctx context.Context, tenantID billing.TenantID, id finance.TransactionID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The paid check lives inside the delete boundary: a payment committed
	// before this transaction is always seen, one after it never matters.
	var paid int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM installments WHERE transaction_id = ? AND status = ?`,
		string(id), string(billing.StatusPaid)).Scan(&paid)
	if err != nil {
		return err
	}
	if paid > 0 {
		return billing.ErrHasPaidInstallments
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM installments WHERE transaction_id = ?`, string(id)); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrTransactionNotFound
	}
	return tx.Commit()
}

func (s *Store) GetInstallment(ctx context.Context, tenantID billing.TenantID, id finance.InstallmentID) (finance.Installment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, tenant_id, number, amount, due_date,
			paid_date, method, status, note, created_at
		FROM installments WHERE id = ? AND tenant_id = ?`,
		string(id), string(tenantID))
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Installment{}, billing.ErrInstallmentNotFound
	}
	return inst, err
}

func (s *Store) ListInstallments(ctx context.Context, transactionID finance.TransactionID) ([]finance.Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, tenant_id, number, amount, due_date,
			paid_date, method, status, note, created_at
		FROM installments WHERE transaction_id = ? ORDER BY number`,
		string(transactionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInstallment(ctx context.Context, inst finance.Installment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE installments SET paid_date = ?, method = ?, status = ?, note = ?
		WHERE id = ? AND tenant_id = ?`,
		dateOrNull(inst.PaidDate), strOrNull(string(inst.Method)),
		string(inst.Status), inst.Note, string(inst.ID), string(inst.TenantID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrInstallmentNotFound
	}
	return nil
}

func (s *Store) RecurrenceExists(ctx context.Context, tenantID billing.TenantID, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transactions WHERE tenant_id = ? AND recurrence_key = ?`,
		string(tenantID), key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListRecurring(ctx context.Context, tenantID billing.TenantID) ([]finance.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, category_id, kind, description, total_value,
			competency_date, first_due_date, installment_count, recurring,
			recurrence_key, note, created_at
		FROM transactions WHERE tenant_id = ? AND recurring = 1 ORDER BY id`,
		string(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) MarkOverdueInstallments(ctx context.Context, tenantID billing.TenantID, before billing.Date) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE installments SET status = ?
		WHERE tenant_id = ? AND status = ? AND due_date < ?`,
		string(billing.StatusOverdue), string(tenantID),
		string(billing.StatusPending), before.String())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func collectTransactions(rows *sql.Rows) ([]finance.Transaction, error) {
	var out []finance.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(r rowScanner) (finance.Transaction, error) {
	var t finance.Transaction
	var id, tenantID, categoryID, kind, total, competency, firstDue, createdAt string
	var key sql.NullString
	if err := r.Scan(&id, &tenantID, &categoryID, &kind, &t.Description, &total,
		&competency, &firstDue, &t.InstallmentCount, &t.Recurring, &key,
		&t.Note, &createdAt); err != nil {
		return finance.Transaction{}, err
	}
	var err error
	if t.TotalValue, err = billing.ParseMoney(total); err != nil {
		return finance.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	if t.CompetencyDate, err = mustParseDate(competency); err != nil {
		return finance.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	if t.FirstDueDate, err = mustParseDate(firstDue); err != nil {
		return finance.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return finance.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	t.ID = finance.TransactionID(id)
	t.TenantID = billing.TenantID(tenantID)
	t.CategoryID = finance.CategoryID(categoryID)
	t.Kind = finance.Kind(kind)
	t.RecurrenceKey = key.String
	return t, nil
}

func scanInstallment(r rowScanner) (finance.Installment, error) {
	var inst finance.Installment
	var id, txnID, tenantID, amount, due, status, createdAt string
	var number int
	var paid, method sql.NullString
	if err := r.Scan(&id, &txnID, &tenantID, &number, &amount, &due,
		&paid, &method, &status, &inst.Note, &createdAt); err != nil {
		return finance.Installment{}, err
	}
	var err error
	if inst.Amount, err = billing.ParseMoney(amount); err != nil {
		return finance.Installment{}, fmt.Errorf("installment %s: %w", id, err)
	}
	if inst.DueDate, err = mustParseDate(due); err != nil {
		return finance.Installment{}, fmt.Errorf("installment %s: %w", id, err)
	}
	if inst.PaidDate, err = parseDate(paid); err != nil {
		return finance.Installment{}, fmt.Errorf("installment %s: %w", id, err)
	}
	if inst.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return finance.Installment{}, fmt.Errorf("installment %s: %w", id, err)
	}
	inst.ID = finance.InstallmentID(id)
	inst.TransactionID = finance.TransactionID(txnID)
	inst.TenantID = billing.TenantID(tenantID)
	inst.Role = finance.RoleFromNumber(number)
	inst.Method = billing.PaymentMethod(method.String)
	inst.Status = billing.Status(status)
	return inst, nil
}

// =============================================================================
// REPORT QUERIES
// =============================================================================

func (s *Store) CountActiveStudents(ctx context.Context, tenantID billing.TenantID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM students WHERE tenant_id = ? AND status = ?`,
		string(tenantID), string(membership.StudentActive)).Scan(&n)
	return n, err
}

// ChargeTotals fetches the month's charge amounts and sums them in Go to
// keep decimal precision out of SQL. Paid money counts in the month it was
// paid, open money in the month it falls due.
func (s *Store) ChargeTotals(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (report.ChargeTotals, error) {
	from, to := monthRange(month, year)
	rows, err := s.db.QueryContext(ctx, `
		SELECT amount, status FROM charges
		WHERE tenant_id = ? AND (
			(status = ? AND paid_date BETWEEN ? AND ?) OR
			(status IN (?, ?) AND due_date BETWEEN ? AND ?)
		)`,
		string(tenantID),
		string(billing.StatusPaid), from, to,
		string(billing.StatusPending), string(billing.StatusOverdue), from, to)
	if err != nil {
		return report.ChargeTotals{}, err
	}
	defer rows.Close()

	totals := report.ChargeTotals{Paid: billing.Zero(), Open: billing.Zero()}
	for rows.Next() {
		var amount, status string
		if err := rows.Scan(&amount, &status); err != nil {
			return report.ChargeTotals{}, err
		}
		value, err := billing.ParseMoney(amount)
		if err != nil {
			return report.ChargeTotals{}, err
		}
		if billing.Status(status) == billing.StatusPaid {
			totals.Paid = totals.Paid.Add(value)
		} else {
			totals.Open = totals.Open.Add(value)
		}
	}
	return totals, rows.Err()
}

// InstallmentTotals applies the same bucketing as ChargeTotals: paid by
// payment month, open by due month.
func (s *Store) InstallmentTotals(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) (report.InstallmentTotals, error) {
	from, to := monthRange(month, year)
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.amount, i.status, t.kind
		FROM installments i
		JOIN transactions t ON t.id = i.transaction_id
		WHERE i.tenant_id = ? AND (
			(i.status = ? AND i.paid_date BETWEEN ? AND ?) OR
			(i.status IN (?, ?) AND i.due_date BETWEEN ? AND ?)
		)`,
		string(tenantID),
		string(billing.StatusPaid), from, to,
		string(billing.StatusPending), string(billing.StatusOverdue), from, to)
	if err != nil {
		return report.InstallmentTotals{}, err
	}
	defer rows.Close()

	totals := report.InstallmentTotals{
		IncomePaid:  billing.Zero(),
		IncomeOpen:  billing.Zero(),
		ExpensePaid: billing.Zero(),
		ExpenseOpen: billing.Zero(),
	}
	for rows.Next() {
		var amount, status, kind string
		if err := rows.Scan(&amount, &status, &kind); err != nil {
			return report.InstallmentTotals{}, err
		}
		value, err := billing.ParseMoney(amount)
		if err != nil {
			return report.InstallmentTotals{}, err
		}
		paid := billing.Status(status) == billing.StatusPaid
		switch {
		case finance.Kind(kind) == finance.KindIncome && paid:
			totals.IncomePaid = totals.IncomePaid.Add(value)
		case finance.Kind(kind) == finance.KindIncome:
			totals.IncomeOpen = totals.IncomeOpen.Add(value)
		case finance.Kind(kind) == finance.KindExpense && paid:
			totals.ExpensePaid = totals.ExpensePaid.Add(value)
		case finance.Kind(kind) == finance.KindExpense:
			totals.ExpenseOpen = totals.ExpenseOpen.Add(value)
		}
	}
	return totals, rows.Err()
}

func (s *Store) OverdueChargeStats(ctx context.Context, tenantID billing.TenantID) (report.OverdueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM charges WHERE tenant_id = ? AND status = ?`,
		string(tenantID), string(billing.StatusOverdue))
	if err != nil {
		return report.OverdueStats{}, err
	}
	defer rows.Close()

	stats := report.OverdueStats{Total: billing.Zero()}
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return report.OverdueStats{}, err
		}
		value, err := billing.ParseMoney(amount)
		if err != nil {
			return report.OverdueStats{}, err
		}
		stats.Count++
		stats.Total = stats.Total.Add(value)
	}
	return stats, rows.Err()
}

func (s *Store) ListUrgentCharges(ctx context.Context, tenantID billing.TenantID, from, to billing.Date) ([]report.UrgentCharge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.student_id, s.name, c.amount, c.due_date, c.status
		FROM charges c
		JOIN students s ON s.id = c.student_id
		WHERE c.tenant_id = ? AND c.status IN (?, ?) AND c.due_date BETWEEN ? AND ?
		ORDER BY c.due_date, c.id`,
		string(tenantID), string(billing.StatusPending), string(billing.StatusOverdue),
		from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.UrgentCharge
	for rows.Next() {
		var u report.UrgentCharge
		var id, studentID, amount, due, status string
		if err := rows.Scan(&id, &studentID, &u.StudentName, &amount, &due, &status); err != nil {
			return nil, err
		}
		if u.Amount, err = billing.ParseMoney(amount); err != nil {
			return nil, err
		}
		if u.DueDate, err = mustParseDate(due); err != nil {
			return nil, err
		}
		u.ChargeID = membership.ChargeID(id)
		u.StudentID = billing.StudentID(studentID)
		u.Status = billing.Status(status)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListOpenInstallments(ctx context.Context, tenantID billing.TenantID) ([]report.OpenInstallment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.transaction_id, t.description, t.kind, i.number,
			i.amount, i.due_date, i.status
		FROM installments i
		JOIN transactions t ON t.id = i.transaction_id
		WHERE i.tenant_id = ? AND i.status IN (?, ?)
		ORDER BY i.due_date, i.id`,
		string(tenantID), string(billing.StatusPending), string(billing.StatusOverdue))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.OpenInstallment
	for rows.Next() {
		var o report.OpenInstallment
		var id, txnID, kind, amount, due, status string
		if err := rows.Scan(&id, &txnID, &o.Description, &kind, &o.Number,
			&amount, &due, &status); err != nil {
			return nil, err
		}
		if o.Amount, err = billing.ParseMoney(amount); err != nil {
			return nil, err
		}
		if o.DueDate, err = mustParseDate(due); err != nil {
			return nil, err
		}
		o.InstallmentID = finance.InstallmentID(id)
		o.TransactionID = finance.TransactionID(txnID)
		o.Kind = finance.Kind(kind)
		o.Status = billing.Status(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ListStatementEntries(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]report.StatementEntry, error) {
	from, to := monthRange(month, year)
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'charge' AS source, c.id,
			'Membership - ' || s.name AS description, 'income' AS kind,
			c.amount, c.due_date, c.paid_date, c.status,
			0 AS number, 0 AS total
		FROM charges c
		JOIN students s ON s.id = c.student_id
		WHERE c.tenant_id = ? AND c.due_date BETWEEN ? AND ? AND c.status != ?
		UNION ALL
		SELECT 'installment' AS source, i.id,
			t.description, t.kind,
			i.amount, i.due_date, i.paid_date, i.status,
			i.number, t.installment_count AS total
		FROM installments i
		JOIN transactions t ON t.id = i.transaction_id
		WHERE i.tenant_id = ? AND i.due_date BETWEEN ? AND ? AND i.status != ?
		ORDER BY due_date, id`,
		string(tenantID), from, to, string(billing.StatusCancelled),
		string(tenantID), from, to, string(billing.StatusCancelled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.StatementEntry
	for rows.Next() {
		var e report.StatementEntry
		var source, kind, amount, due, status string
		var paid sql.NullString
		var number, total int
		if err := rows.Scan(&source, &e.ID, &e.Description, &kind,
			&amount, &due, &paid, &status, &number, &total); err != nil {
			return nil, err
		}
		if e.Amount, err = billing.ParseMoney(amount); err != nil {
			return nil, err
		}
		if e.DueDate, err = mustParseDate(due); err != nil {
			return nil, err
		}
		if e.PaidDate, err = parseDate(paid); err != nil {
			return nil, err
		}
		e.Source = report.EntrySource(source)
		e.Kind = finance.Kind(kind)
		e.Status = billing.Status(status)
		if e.Source == report.SourceInstallment {
			e.Description = fmt.Sprintf("%s (%s)", e.Description, finance.RoleFromNumber(number).Label(total))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
