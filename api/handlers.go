/*
handlers.go - HTTP handlers

PURPOSE:
  Translates HTTP into engine calls. Handlers decode, validate, delegate and
  render; every billing rule lives in the engines, never here.

ERROR MAPPING:
  validation  -> 400
  not found   -> 404
  conflict    -> 409 (illegal transition, protected category, paid installments)
  anything else -> 500, logged
*/
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/report"
)

// Store is the direct data surface the handlers need beside the engines.
// Both store/sqlite and store/memory satisfy it.
type Store interface {
	CreateTenant(ctx context.Context, t billing.Tenant) error
	GetTenant(ctx context.Context, id billing.TenantID) (billing.Tenant, error)
	ListTenants(ctx context.Context) ([]billing.Tenant, error)

	CreatePlan(ctx context.Context, p membership.Plan) error
	GetPlan(ctx context.Context, tenantID billing.TenantID, id membership.PlanID) (membership.Plan, error)
	ListPlans(ctx context.Context, tenantID billing.TenantID) ([]membership.Plan, error)

	CreateStudent(ctx context.Context, s membership.Student) error
	GetStudent(ctx context.Context, tenantID billing.TenantID, id billing.StudentID) (membership.Student, error)
	UpdateStudent(ctx context.Context, s membership.Student) error
	ListStudents(ctx context.Context, tenantID billing.TenantID) ([]membership.Student, error)

	ListChargesByStudent(ctx context.Context, studentID billing.StudentID) ([]membership.Charge, error)

	GetTransaction(ctx context.Context, tenantID billing.TenantID, id finance.TransactionID) (finance.Transaction, error)
	ListTransactions(ctx context.Context, tenantID billing.TenantID, month time.Month, year int) ([]finance.Transaction, error)
	ListInstallments(ctx context.Context, transactionID finance.TransactionID) ([]finance.Installment, error)

	ListCategories(ctx context.Context, tenantID billing.TenantID) ([]finance.Category, error)
}

// Server holds the handler dependencies.
type Server struct {
	store      Store
	membership *membership.Engine
	finance    *finance.Engine
	reports    *report.Service
	clock      billing.Clock
	logger     *log.Logger
	validate   *validator.Validate
}

func NewServer(store Store, m *membership.Engine, f *finance.Engine, r *report.Service, clock billing.Clock, logger *log.Logger) *Server {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:      store,
		membership: m,
		finance:    f,
		reports:    r,
		clock:      clock,
		logger:     logger,
		validate:   validator.New(),
	}
}

// =============================================================================
// PLUMBING
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Printf("[API] encode response: %v", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case billing.IsValidation(err):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case billing.IsNotFound(err):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case billing.IsConflict(err), billing.IsDuplicate(err):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Printf("[API] internal error: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decode unmarshals and validates the request body in one step.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &billing.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	if err := s.validate.Struct(v); err != nil {
		return &billing.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func tenantID(r *http.Request) billing.TenantID {
	return billing.TenantID(chi.URLParam(r, "tenantID"))
}

// monthYearParams reads ?month=&year=, defaulting to the current month.
func (s *Server) monthYearParams(r *http.Request) (time.Month, int, error) {
	today := s.clock.Today()
	month, year := today.Month(), today.Year()

	if v := r.URL.Query().Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			return 0, 0, &billing.ValidationError{Field: "month", Message: "must be 1-12"}
		}
		month = time.Month(n)
	}
	if v := r.URL.Query().Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2000 || n > 2200 {
			return 0, 0, &billing.ValidationError{Field: "year", Message: "must be a four-digit year"}
		}
		year = n
	}
	return month, year, nil
}

// kindParam reads the optional ?kind= filter.
func kindParam(r *http.Request) (finance.Kind, error) {
	v := r.URL.Query().Get("kind")
	if v == "" {
		return "", nil
	}
	kind := finance.Kind(v)
	if !kind.Valid() {
		return "", &billing.ValidationError{Field: "kind", Message: "must be income or expense"}
	}
	return kind, nil
}

func parseOptionalDate(field, v string) (billing.Date, error) {
	if v == "" {
		return billing.Date{}, nil
	}
	d, err := billing.ParseDate(v)
	if err != nil {
		return billing.Date{}, &billing.ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return d, nil
}

// =============================================================================
// TENANTS
// =============================================================================

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tenant := billing.Tenant{ID: billing.TenantID(req.ID), Name: req.Name}
	if err := s.store.CreateTenant(r.Context(), tenant); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.finance.SeedDefaultCategories(r.Context(), tenant.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tenants)
}

// =============================================================================
// PLANS
// =============================================================================

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	plan := membership.Plan{
		ID:           membership.PlanID(uuid.NewString()),
		TenantID:     tenantID(r),
		Name:         req.Name,
		Value:        billing.NewMoneyFromFloat(req.Value),
		DurationDays: req.DurationDays,
		Description:  req.Description,
		Active:       true,
	}
	if err := s.store.CreatePlan(r.Context(), plan); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPlanResponse(plan))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListPlans(r.Context(), tenantID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// STUDENTS
// =============================================================================

// handleCreateStudent registers the student and immediately runs charge
// generation: the first charge always, plus the retroactive backfill when
// the enrollment is flagged retroactive.
func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	enrollment, err := parseOptionalDate("enrollment_date", req.EnrollmentDate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	nextCharge, err := parseOptionalDate("next_charge_date", req.NextChargeDate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Retroactive && enrollment.IsZero() {
		s.writeError(w, &billing.ValidationError{Field: "enrollment_date", Message: "required for retroactive enrollment"})
		return
	}

	tid := tenantID(r)
	if req.PlanID != "" {
		if _, err := s.store.GetPlan(r.Context(), tid, membership.PlanID(req.PlanID)); err != nil {
			s.writeError(w, err)
			return
		}
	}

	student := membership.Student{
		ID:             billing.StudentID(uuid.NewString()),
		TenantID:       tid,
		PlanID:         membership.PlanID(req.PlanID),
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		EnrollmentDate: enrollment,
		Retroactive:    req.Retroactive,
		NextChargeDate: nextCharge,
		Status:         membership.StudentActive,
	}
	if err := s.store.CreateStudent(r.Context(), student); err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.membership.GenerateFirstCharge(r.Context(), student); err != nil {
		s.writeError(w, err)
		return
	}
	if student.Retroactive {
		if _, err := s.membership.GenerateRetroactiveCharges(r.Context(), student); err != nil {
			s.writeError(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusCreated, toStudentResponse(student))
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	student, err := s.store.GetStudent(r.Context(), tenantID(r), billing.StudentID(chi.URLParam(r, "studentID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.ListStudents(r.Context(), tenantID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]studentResponse, 0, len(students))
	for _, st := range students {
		out = append(out, toStudentResponse(st))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	var req updateStudentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tid := tenantID(r)
	student, err := s.store.GetStudent(r.Context(), tid, billing.StudentID(chi.URLParam(r, "studentID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.PlanID != "" {
		if _, err := s.store.GetPlan(r.Context(), tid, membership.PlanID(req.PlanID)); err != nil {
			s.writeError(w, err)
			return
		}
	}

	student.Name = req.Name
	student.Email = req.Email
	student.Phone = req.Phone
	student.PlanID = membership.PlanID(req.PlanID)
	student.Status = membership.StudentStatus(req.Status)

	if err := s.store.UpdateStudent(r.Context(), student); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (s *Server) handleListStudentCharges(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	studentID := billing.StudentID(chi.URLParam(r, "studentID"))
	if _, err := s.store.GetStudent(r.Context(), tid, studentID); err != nil {
		s.writeError(w, err)
		return
	}

	charges, err := s.store.ListChargesByStudent(r.Context(), studentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	today := s.clock.Today()
	out := make([]chargeResponse, 0, len(charges))
	for _, c := range charges {
		out = append(out, toChargeResponse(c, today))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CHARGES
// =============================================================================

func (s *Server) handlePayCharge(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	charge, err := s.membership.RecordPayment(r.Context(), tenantID(r),
		membership.ChargeID(chi.URLParam(r, "chargeID")),
		billing.PaymentMethod(req.Method), req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toChargeResponse(charge, s.clock.Today()))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	competency, err := parseOptionalDate("competency_date", req.CompetencyDate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	firstDue, err := parseOptionalDate("first_due_date", req.FirstDueDate)
	if err != nil {
		s.writeError(w, err)
		return
	}

	spec := finance.TransactionSpec{
		CategoryID:       finance.CategoryID(req.CategoryID),
		Kind:             finance.Kind(req.Kind),
		Description:      req.Description,
		TotalValue:       billing.NewMoneyFromFloat(req.TotalValue),
		CompetencyDate:   competency,
		FirstDueDate:     firstDue,
		InstallmentCount: req.InstallmentCount,
		Method:           billing.PaymentMethod(req.Method),
		Paid:             req.Paid,
		Recurring:        req.Recurring,
		Note:             req.Note,
	}
	if req.DownPayment != nil {
		due, err := parseOptionalDate("down_payment.due_date", req.DownPayment.DueDate)
		if err != nil {
			s.writeError(w, err)
			return
		}
		spec.DownPayment = &finance.DownPaymentSpec{
			Amount:  billing.NewMoneyFromFloat(req.DownPayment.Amount),
			Method:  billing.PaymentMethod(req.DownPayment.Method),
			DueDate: due,
			Paid:    req.DownPayment.Paid,
		}
	}

	txn, installments, err := s.finance.CreateTransaction(r.Context(), tenantID(r), spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toTransactionResponse(txn, installments))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	id := finance.TransactionID(chi.URLParam(r, "transactionID"))

	txn, err := s.store.GetTransaction(r.Context(), tid, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	installments, err := s.store.ListInstallments(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTransactionResponse(txn, installments))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	month, year, err := s.monthYearParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	txns, err := s.store.ListTransactions(r.Context(), tenantID(r), month, year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionResponse(t, nil))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	err := s.finance.DeleteTransaction(r.Context(), tenantID(r),
		finance.TransactionID(chi.URLParam(r, "transactionID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGenerateRecurring(w http.ResponseWriter, r *http.Request) {
	month, year, err := s.monthYearParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.finance.GenerateRecurringBatch(r.Context(), tenantID(r), month, year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (s *Server) handlePayInstallment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	paidDate, err := parseOptionalDate("paid_date", req.PaidDate)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tid := tenantID(r)
	inst, err := s.finance.RecordInstallmentPayment(r.Context(), tid,
		finance.InstallmentID(chi.URLParam(r, "installmentID")),
		billing.PaymentMethod(req.Method), paidDate, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.installmentView(r.Context(), tid, inst))
}

// installmentView resolves the parent's installment count for the display
// label; the count is cosmetic, so a lookup failure degrades to zero.
func (s *Server) installmentView(ctx context.Context, tid billing.TenantID, inst finance.Installment) installmentResponse {
	count := 0
	if txn, err := s.store.GetTransaction(ctx, tid, inst.TransactionID); err == nil {
		count = txn.InstallmentCount
	}
	return toInstallmentResponse(inst, count)
}

func (s *Server) handleCancelInstallment(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	inst, err := s.finance.CancelInstallment(r.Context(), tid,
		finance.InstallmentID(chi.URLParam(r, "installmentID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.installmentView(r.Context(), tid, inst))
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context(), tenantID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, toCategoryResponse(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	category, err := s.finance.CreateCategory(r.Context(), tenantID(r), req.Name, finance.Kind(req.Kind))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toCategoryResponse(category))
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req renameCategoryRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	category, err := s.finance.RenameCategory(r.Context(), tenantID(r),
		finance.CategoryID(chi.URLParam(r, "categoryID")), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCategoryResponse(category))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	err := s.finance.DeleteCategory(r.Context(), tenantID(r),
		finance.CategoryID(chi.URLParam(r, "categoryID")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

// =============================================================================
// REPORTS
// =============================================================================

func (s *Server) handleMonthlySummary(w http.ResponseWriter, r *http.Request) {
	month, year, err := s.monthYearParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	summary, err := s.reports.MonthlySummary(r.Context(), tenantID(r), month, year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.reports.Dashboard(r.Context(), tenantID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handlePendingInstallments(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter := report.PendingFilter{Kind: kind}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, &billing.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	pending, err := s.reports.PendingInstallments(r.Context(), tenantID(r), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleMonthlyStatement(w http.ResponseWriter, r *http.Request) {
	month, year, err := s.monthYearParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	kind, err := kindParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries, err := s.reports.MonthlyStatement(r.Context(), tenantID(r), kind, month, year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// ADMIN
// =============================================================================

func (s *Server) handleOverdueSweep(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	charges, err := s.membership.MarkOverdueCharges(r.Context(), tid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	installments, err := s.finance.MarkOverdueInstallments(r.Context(), tid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"charges":      charges,
		"installments": installments,
	})
}

func (s *Server) handleReprocessRetroactive(w http.ResponseWriter, r *http.Request) {
	n, err := s.membership.ReprocessRetroactive(r.Context(), tenantID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, countResponse{Count: n})
}
