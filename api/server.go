/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  Everything except tenant management is scoped under a tenant:
  /api/tenants                         Tenant management
  /api/tenants/{tenantID}/plans        Subscription plans
  /api/tenants/{tenantID}/students     Students and their charges
  /api/tenants/{tenantID}/charges      Charge payments
  /api/tenants/{tenantID}/transactions Transactions and recurrence
  /api/tenants/{tenantID}/installments Installment payments/cancellation
  /api/tenants/{tenantID}/categories   Category taxonomy
  /api/tenants/{tenantID}/reports      Read models
  /api/tenants/{tenantID}/admin        Sweeps and batch reprocessing

SECURITY NOTE:
  No authentication middleware. The tenant path segment is trusted; put an
  auth proxy in front before exposing this beyond a private network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", s.handleListTenants)
			r.Post("/", s.handleCreateTenant)

			r.Route("/{tenantID}", func(r chi.Router) {
				// Plan routes
				r.Route("/plans", func(r chi.Router) {
					r.Get("/", s.handleListPlans)
					r.Post("/", s.handleCreatePlan)
				})

				// Student routes
				r.Route("/students", func(r chi.Router) {
					r.Get("/", s.handleListStudents)
					r.Post("/", s.handleCreateStudent)
					r.Get("/{studentID}", s.handleGetStudent)
					r.Put("/{studentID}", s.handleUpdateStudent)
					r.Get("/{studentID}/charges", s.handleListStudentCharges)
				})

				// Charge routes
				r.Route("/charges", func(r chi.Router) {
					r.Post("/{chargeID}/payment", s.handlePayCharge)
				})

				// Transaction routes
				r.Route("/transactions", func(r chi.Router) {
					r.Get("/", s.handleListTransactions)
					r.Post("/", s.handleCreateTransaction)
					r.Post("/recurring/generate", s.handleGenerateRecurring)
					r.Get("/{transactionID}", s.handleGetTransaction)
					r.Delete("/{transactionID}", s.handleDeleteTransaction)
				})

				// Installment routes
				r.Route("/installments", func(r chi.Router) {
					r.Post("/{installmentID}/payment", s.handlePayInstallment)
					r.Post("/{installmentID}/cancel", s.handleCancelInstallment)
				})

				// Category routes
				r.Route("/categories", func(r chi.Router) {
					r.Get("/", s.handleListCategories)
					r.Post("/", s.handleCreateCategory)
					r.Put("/{categoryID}", s.handleRenameCategory)
					r.Delete("/{categoryID}", s.handleDeleteCategory)
				})

				// Report routes
				r.Route("/reports", func(r chi.Router) {
					r.Get("/summary", s.handleMonthlySummary)
					r.Get("/dashboard", s.handleDashboard)
					r.Get("/pending-installments", s.handlePendingInstallments)
					r.Get("/statement", s.handleMonthlyStatement)
				})

				// Admin routes
				r.Route("/admin", func(r chi.Router) {
					r.Post("/overdue-sweep", s.handleOverdueSweep)
					r.Post("/reprocess-retroactive", s.handleReprocessRetroactive)
				})
			})
		})
	})

	return r
}
