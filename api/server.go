/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request, echoed in error bodies
  2. Logger:       Request logging
  3. Recoverer:    Panic recovery (500 instead of crash)
  4. CORS:         Cross-origin requests for frontends
  5. Authenticate: Bearer JWT -> loan.Actor (everything but /api/health)
  6. RequireRole:  Coarse role gate per route; the engine re-checks

ROUTE GROUPS:
  /api/health           Liveness (public)
  /api/products         Product catalogue
  /api/employees/*      Employee master data, obligations
  /api/loans/*          Application, approval chain, disbursal, schedule
  /api/payroll/*        Repayment processing, deduction ledger
  /api/admin/*          Overdue sweep

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/loan-engine/loan"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *TokenIssuer, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	staff := RequireRole(loan.RoleHR, loan.RoleFinance)
	finance := RequireRole(loan.RoleFinance)
	payroll := RequireRole(loan.RolePayroll, loan.RoleFinance)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)

			// Product routes
			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.With(staff).Post("/", h.CreateProduct)
			})

			// Employee routes
			r.Route("/employees/{id}", func(r chi.Router) {
				r.With(RequireRole(loan.RoleHR)).Put("/", h.PutEmployee)
				r.Get("/obligations", h.GetObligations)
			})

			// Loan routes
			r.Route("/loans", func(r chi.Router) {
				r.Post("/eligibility", h.CheckEligibility)
				r.With(RequireRole(loan.RoleEmployee, loan.RoleHR)).Post("/", h.ApplyLoan)
				r.Get("/", h.ListLoans)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetLoan)
					r.With(RequireRole(loan.RoleManager, loan.RoleHR, loan.RoleFinance)).Post("/decisions", h.DecideLoan)
					r.With(finance).Post("/disburse", h.DisburseLoan)
					r.Get("/schedule", h.GetSchedule)
					r.Get("/approvals", h.ListApprovals)
					r.With(staff).Get("/audit", h.ListLoanAudit)
					r.Put("/remarks", h.UpdateRemarks)
					r.With(finance).Post("/installments/{seq}/waive", h.WaiveInstallment)
				})
			})

			// Payroll routes
			r.Route("/payroll", func(r chi.Router) {
				r.Use(payroll)
				r.Post("/repayments", h.ProcessRepayment)
				r.Post("/cycles", h.ProcessCycle)
				r.Get("/deductions", h.ListDeductions)
			})

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(finance)
				r.Post("/overdue-sweep", h.TriggerOverdueSweep)
				r.Get("/sweeps", h.ListSweeps)
			})
		})
	})

	return r
}
