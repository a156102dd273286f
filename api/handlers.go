/*
handlers.go - HTTP request handlers

PURPOSE:
  Implements all HTTP endpoints for the loan engine API. Handlers are thin:
  they decode and validate the request, take the actor from the token,
  call the loan engine and convert the result to DTOs.

HANDLER GROUPS:
  Products:    ListProducts, CreateProduct
  Employees:   PutEmployee, GetObligations
  Loans:       CheckEligibility, ApplyLoan, ListLoans, GetLoan, DecideLoan,
               DisburseLoan, GetSchedule, ListApprovals, ListLoanAudit,
               UpdateRemarks, WaiveInstallment
  Payroll:     ProcessRepayment, ProcessCycle, ListDeductions
  Admin:       TriggerOverdueSweep, ListSweeps

ERROR HANDLING:
  Engine errors go through respondError (errors.go), which maps the error
  taxonomy to HTTP status codes:
  - 400: Validation error (field-level details in "fields")
  - 401: Missing or invalid token (auth.go)
  - 403: Not authorized or tenant mismatch
  - 404: Loan, product, employee or installment not found
  - 409: Invalid state transition or lost concurrent update
  - 422: Eligibility rule failed (violations in "violations")
  - 500: Internal error (details are logged, not returned)

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Request/response types
  - loan/engine.go: The engine the handlers drive
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/store/sqlite"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine    *loan.Engine
	Store     *sqlite.Store
	Products  *factory.ProductFactory
	Scheduler *OverdueScheduler

	// Clock stamps products and defaults sweep dates. Defaults to time.Now.
	Clock loan.Clock

	log      logrus.FieldLogger
	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(engine *loan.Engine, store *sqlite.Store, scheduler *OverdueScheduler, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Engine:    engine,
		Store:     store,
		Products:  factory.NewProductFactory(),
		Scheduler: scheduler,
		Clock:     time.Now,
		log:       logger.WithField("component", "api"),
		validate:  newValidator(),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) actor(r *http.Request) loan.Actor {
	actor, _ := ActorFrom(r.Context())
	return actor
}

// decode reads a JSON body into dst and runs its validator tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return loan.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return h.check(dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return loan.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	if err := h.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// fail logs server-side failures and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		actor := h.actor(r)
		h.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"tenant_id":  actor.TenantID,
			"actor":      actor.ID,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	respondError(w, r, err)
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, loan.NewValidationError(field, "must be formatted YYYY-MM-DD")
	}
	return t, nil
}

func loanID(r *http.Request) loan.LoanID {
	return loan.LoanID(chi.URLParam(r, "id"))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// ListProducts returns the tenant's loan products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context(), h.actor(r).TenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]factory.ProductJSON, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, h.Products.ToJSON(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds a loan product to the tenant's catalogue.
// Products are immutable once created.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := h.actor(r)

	var pj factory.ProductJSON
	if err := h.decode(w, r, &pj); err != nil {
		h.fail(w, r, err)
		return
	}
	product, err := h.Products.FromJSON(actor.TenantID, pj)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_, err = h.Store.GetProduct(ctx, product.ID)
	switch {
	case err == nil:
		writeError(w, r, http.StatusConflict, "product_exists", "product already exists", fmt.Errorf("product %s already exists", product.ID))
		return
	case !errors.Is(err, loan.ErrProductNotFound):
		h.fail(w, r, err)
		return
	}

	product.CreatedAt = h.Clock()
	if err := h.Store.SaveProduct(ctx, *product); err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"tenant_id":  actor.TenantID,
		"product_id": product.ID,
		"actor":      actor.ID,
	}).Info("loan product created")
	writeJSON(w, http.StatusCreated, h.Products.ToJSON(*product))
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

// PutEmployee creates or replaces an employee master record.
func (h *Handler) PutEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := h.actor(r)
	id := loan.EmployeeID(chi.URLParam(r, "id"))

	var req EmployeeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.EstimatedTakeHomeSalary.IsNegative() {
		h.fail(w, r, loan.NewValidationError("estimated_take_home_salary", "must not be negative"))
		return
	}
	joinDate, err := parseDate("join_date", req.JoinDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// An ID owned by another tenant must not be taken over.
	if _, err := h.Store.GetEmployee(ctx, actor.TenantID, id); err != nil && !errors.Is(err, loan.ErrEmployeeNotFound) {
		h.fail(w, r, err)
		return
	}

	emp := loan.Employee{
		ID:                      id,
		TenantID:                actor.TenantID,
		Name:                    req.Name,
		Email:                   req.Email,
		JoinDate:                joinDate,
		Status:                  loan.EmployeeStatus(req.Status),
		Grade:                   req.Grade,
		ManagerID:               loan.EmployeeID(req.ManagerID),
		EstimatedTakeHomeSalary: loan.RoundMoney(req.EstimatedTakeHomeSalary),
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// GetObligations returns an employee's running loan obligations.
func (h *Handler) GetObligations(w http.ResponseWriter, r *http.Request) {
	id := loan.EmployeeID(chi.URLParam(r, "id"))

	o, err := h.Engine.Obligations.GetObligations(r.Context(), h.actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationsDTO(o))
}

// =============================================================================
// LOAN ENDPOINTS
// =============================================================================

func (h *Handler) applyRequest(w http.ResponseWriter, r *http.Request) (loan.ApplyRequest, error) {
	var req ApplyLoanRequest
	if err := h.decode(w, r, &req); err != nil {
		return loan.ApplyRequest{}, err
	}
	employeeID := req.EmployeeID
	if employeeID == "" {
		employeeID = h.actor(r).ID
	}
	return loan.ApplyRequest{
		EmployeeID:   loan.EmployeeID(employeeID),
		ProductID:    loan.ProductID(req.ProductID),
		Principal:    req.Principal,
		TenureMonths: req.TenureMonths,
		Remarks:      req.Remarks,
	}, nil
}

// CheckEligibility previews the eligibility rules without creating a loan.
// A failed rule is a 200 with valid=false.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	req, err := h.applyRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Engine.Workflow.CheckEligibility(r.Context(), h.actor(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEligibilityDTO(res))
}

// ApplyLoan creates a loan application.
func (h *Handler) ApplyLoan(w http.ResponseWriter, r *http.Request) {
	req, err := h.applyRequest(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Engine.Workflow.Apply(r.Context(), h.actor(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ApplyResponse{
		Loan:        toLoanDTO(res.Loan),
		Eligibility: toEligibilityDTO(res.Eligibility),
	})
}

// ListLoans lists the tenant's loans.
// Query: ?status=applied,manager_approved&employee_id=E1
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	filter := loan.LoanFilter{
		EmployeeID: loan.EmployeeID(r.URL.Query().Get("employee_id")),
	}
	for _, v := range r.URL.Query()["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, loan.Status(s))
			}
		}
	}

	loans, err := h.Engine.Workflow.ListLoans(r.Context(), h.actor(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTOs(loans))
}

// GetLoan returns a single loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.Engine.Workflow.GetLoan(r.Context(), h.actor(r), loanID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*l))
}

// DecideLoan records an approval or rejection at one level of the chain.
func (h *Handler) DecideLoan(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	l, err := h.Engine.Workflow.Decide(r.Context(), h.actor(r), loanID(r), loan.DecideRequest{
		Level:               loan.ApprovalLevel(req.Level),
		Decision:            loan.Decision(req.Decision),
		SanctionedPrincipal: req.SanctionedPrincipal,
		Remarks:             req.Remarks,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*l))
}

// DisburseLoan disburses a sanctioned loan and returns its schedule.
func (h *Handler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	l, entries, err := h.Engine.Workflow.Disburse(r.Context(), h.actor(r), loanID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DisbursementDTO{
		Loan:     toLoanDTO(*l),
		Schedule: toInstallmentDTOs(entries),
	})
}

// GetSchedule returns a loan's installment schedule.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Workflow.GetSchedule(r.Context(), h.actor(r), loanID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(entries))
}

// ListApprovals returns a loan's approval trail, oldest first.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	records, err := h.Engine.Workflow.ListApprovals(r.Context(), h.actor(r), loanID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTOs(records))
}

// ListLoanAudit returns the audit events recorded for a loan.
func (h *Handler) ListLoanAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := h.actor(r)

	l, err := h.Engine.Workflow.GetLoan(ctx, actor, loanID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.Store.ListAuditEvents(ctx, actor.TenantID, string(l.ID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEventDTOs(events))
}

// UpdateRemarks replaces a loan's remarks. Allowed in every status.
func (h *Handler) UpdateRemarks(w http.ResponseWriter, r *http.Request) {
	var req RemarksRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	l, err := h.Engine.Workflow.UpdateRemarks(r.Context(), h.actor(r), loanID(r), req.Remarks)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*l))
}

// WaiveInstallment writes off one installment.
func (h *Handler) WaiveInstallment(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 1 {
		h.fail(w, r, loan.NewValidationError("sequence", "must be a positive integer"))
		return
	}
	var req WaiveRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	l, err := h.Engine.Repayments.Waive(r.Context(), h.actor(r), loanID(r), seq, req.Remarks)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*l))
}

// =============================================================================
// PAYROLL ENDPOINTS
// =============================================================================

// ProcessRepayment recovers one employee's installments for a payroll cycle.
// Safe to call repeatedly for the same cycle.
func (h *Handler) ProcessRepayment(w http.ResponseWriter, r *http.Request) {
	var req RepaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cycleDate, err := parseDate("cycle_date", req.CycleDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	summary, err := h.Engine.Repayments.ProcessRepayment(r.Context(), h.actor(r), loan.EmployeeID(req.EmployeeID), cycleDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRepaymentDTO(summary))
}

// ProcessCycle runs a payroll cycle for many employees. Per-employee
// failures are reported in the results, not as an HTTP error.
func (h *Handler) ProcessCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := h.actor(r)

	var req CycleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cycleDate, err := parseDate("cycle_date", req.CycleDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ids := make([]loan.EmployeeID, 0, len(req.EmployeeIDs))
	for _, id := range req.EmployeeIDs {
		ids = append(ids, loan.EmployeeID(id))
	}
	if len(ids) == 0 {
		employees, err := h.Store.ListEmployees(ctx, actor.TenantID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, e := range employees {
			ids = append(ids, e.ID)
		}
	}

	report, err := h.Engine.Cycles.ProcessCycle(ctx, actor, ids, cycleDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleDTO(report))
}

// ListDeductions returns the deduction ledger of a cycle (?cycle=YYYY-MM).
func (h *Handler) ListDeductions(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Engine.Repayments.ListDeductions(r.Context(), h.actor(r), r.URL.Query().Get("cycle"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeductionDTOs(ds))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerOverdueSweep runs the overdue sweep for the caller's tenant now.
func (h *Handler) TriggerOverdueSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	asOf := h.Clock()
	if req.AsOf != "" {
		var err error
		if asOf, err = parseDate("as_of", req.AsOf); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	run, err := h.Scheduler.RunTenant(r.Context(), h.actor(r).TenantID, asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepRunDTO(*run))
}

// ListSweeps returns recent overdue sweep runs (?limit=N, default 20).
func (h *Handler) ListSweeps(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.fail(w, r, loan.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.Scheduler.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SweepRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toSweepRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}
