/*
dto.go - HTTP request/response shapes

PURPOSE:
  Wire types for the JSON API. Requests carry validator tags and are checked
  before anything touches an engine; responses flatten the domain types into
  stable JSON, with money rendered as fixed two-decimal strings and dates as
  "YYYY-MM-DD".
*/
package api

import (
	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
)

// =============================================================================
// REQUESTS
// =============================================================================

type createTenantRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

type createPlanRequest struct {
	Name         string  `json:"name" validate:"required"`
	Value        float64 `json:"value" validate:"required,gt=0"`
	DurationDays int     `json:"duration_days" validate:"required,gt=0"`
	Description  string  `json:"description"`
}

type createStudentRequest struct {
	Name           string `json:"name" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone"`
	PlanID         string `json:"plan_id"`
	EnrollmentDate string `json:"enrollment_date" validate:"omitempty,datetime=2006-01-02"`
	Retroactive    bool   `json:"retroactive"`
	NextChargeDate string `json:"next_charge_date" validate:"omitempty,datetime=2006-01-02"`
}

type updateStudentRequest struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"omitempty,email"`
	Phone  string `json:"phone"`
	PlanID string `json:"plan_id"`
	Status string `json:"status" validate:"required,oneof=active inactive blocked"`
}

type paymentRequest struct {
	Method   string `json:"method" validate:"required"`
	PaidDate string `json:"paid_date" validate:"omitempty,datetime=2006-01-02"`
	Note     string `json:"note"`
}

type downPaymentRequest struct {
	Amount  float64 `json:"amount" validate:"required,gt=0"`
	Method  string  `json:"method"`
	DueDate string  `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Paid    bool    `json:"paid"`
}

type createTransactionRequest struct {
	CategoryID       string              `json:"category_id" validate:"required"`
	Kind             string              `json:"kind" validate:"required,oneof=income expense"`
	Description      string              `json:"description" validate:"required"`
	TotalValue       float64             `json:"total_value" validate:"required,gt=0"`
	CompetencyDate   string              `json:"competency_date" validate:"required,datetime=2006-01-02"`
	FirstDueDate     string              `json:"first_due_date" validate:"omitempty,datetime=2006-01-02"`
	InstallmentCount int                 `json:"installment_count" validate:"gte=0"`
	Method           string              `json:"method"`
	Paid             bool                `json:"paid"`
	Recurring        bool                `json:"recurring"`
	Note             string              `json:"note"`
	DownPayment      *downPaymentRequest `json:"down_payment" validate:"omitempty"`
}

type categoryRequest struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=income expense"`
}

type renameCategoryRequest struct {
	Name string `json:"name" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type planResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Value        string `json:"value"`
	DurationDays int    `json:"duration_days"`
	Description  string `json:"description,omitempty"`
	Active       bool   `json:"active"`
}

func toPlanResponse(p membership.Plan) planResponse {
	return planResponse{
		ID:           string(p.ID),
		Name:         p.Name,
		Value:        p.Value.String(),
		DurationDays: p.DurationDays,
		Description:  p.Description,
		Active:       p.Active,
	}
}

type studentResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	PlanID         string `json:"plan_id,omitempty"`
	EnrollmentDate string `json:"enrollment_date,omitempty"`
	Retroactive    bool   `json:"retroactive"`
	NextChargeDate string `json:"next_charge_date,omitempty"`
	Status         string `json:"status"`
}

func toStudentResponse(s membership.Student) studentResponse {
	return studentResponse{
		ID:             string(s.ID),
		Name:           s.Name,
		Email:          s.Email,
		Phone:          s.Phone,
		PlanID:         string(s.PlanID),
		EnrollmentDate: dateString(s.EnrollmentDate),
		Retroactive:    s.Retroactive,
		NextChargeDate: dateString(s.NextChargeDate),
		Status:         string(s.Status),
	}
}

type chargeResponse struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	PlanID    string `json:"plan_id"`
	Amount    string `json:"amount"`
	DueDate   string `json:"due_date"`
	PaidDate  string `json:"paid_date,omitempty"`
	Method    string `json:"method,omitempty"`
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	DaysLate  int    `json:"days_late"`
}

func toChargeResponse(c membership.Charge, today billing.Date) chargeResponse {
	return chargeResponse{
		ID:        string(c.ID),
		StudentID: string(c.StudentID),
		PlanID:    string(c.PlanID),
		Amount:    c.Amount.String(),
		DueDate:   c.DueDate.String(),
		PaidDate:  dateString(c.PaidDate),
		Method:    string(c.Method),
		Status:    string(c.Status),
		Note:      c.Note,
		DaysLate:  c.DaysOverdue(today),
	}
}

type categoryResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	System bool   `json:"system"`
	Active bool   `json:"active"`
}

func toCategoryResponse(c finance.Category) categoryResponse {
	return categoryResponse{
		ID:     string(c.ID),
		Name:   c.Name,
		Kind:   string(c.Kind),
		System: c.System,
		Active: c.Active,
	}
}

type installmentResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Number        int    `json:"number"`
	Label         string `json:"label"`
	Amount        string `json:"amount"`
	DueDate       string `json:"due_date"`
	PaidDate      string `json:"paid_date,omitempty"`
	Method        string `json:"method,omitempty"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
}

func toInstallmentResponse(i finance.Installment, totalCount int) installmentResponse {
	return installmentResponse{
		ID:            string(i.ID),
		TransactionID: string(i.TransactionID),
		Number:        i.Role.Number(),
		Label:         i.Role.Label(totalCount),
		Amount:        i.Amount.String(),
		DueDate:       i.DueDate.String(),
		PaidDate:      dateString(i.PaidDate),
		Method:        string(i.Method),
		Status:        string(i.Status),
		Note:          i.Note,
	}
}

type transactionResponse struct {
	ID               string                `json:"id"`
	CategoryID       string                `json:"category_id"`
	Kind             string                `json:"kind"`
	Description      string                `json:"description"`
	TotalValue       string                `json:"total_value"`
	CompetencyDate   string                `json:"competency_date"`
	FirstDueDate     string                `json:"first_due_date"`
	InstallmentCount int                   `json:"installment_count"`
	Recurring        bool                  `json:"recurring"`
	Note             string                `json:"note,omitempty"`
	Installments     []installmentResponse `json:"installments,omitempty"`
}

func toTransactionResponse(t finance.Transaction, installments []finance.Installment) transactionResponse {
	resp := transactionResponse{
		ID:               string(t.ID),
		CategoryID:       string(t.CategoryID),
		Kind:             string(t.Kind),
		Description:      t.Description,
		TotalValue:       t.TotalValue.String(),
		CompetencyDate:   t.CompetencyDate.String(),
		FirstDueDate:     t.FirstDueDate.String(),
		InstallmentCount: t.InstallmentCount,
		Recurring:        t.Recurring,
		Note:             t.Note,
	}
	for _, inst := range installments {
		resp.Installments = append(resp.Installments, toInstallmentResponse(inst, t.InstallmentCount))
	}
	return resp
}

type countResponse struct {
	Count int `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func dateString(d billing.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
