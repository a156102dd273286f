/*
handlers_test.go - Tests for API handlers

Tests for:
- Authentication and role gates
- The full loan lifecycle over HTTP on SQLite
- Error mapping (400 / 403 / 404 / 409 / 422)
- Payroll cycle, deduction ledger and overdue sweep endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const tenant loan.TenantID = "acme"

var (
	borrower = loan.Actor{ID: "emp-1", TenantID: tenant, Role: loan.RoleEmployee}
	manager  = loan.Actor{ID: "mgr-1", TenantID: tenant, Role: loan.RoleManager}
	hr       = loan.Actor{ID: "hr-1", TenantID: tenant, Role: loan.RoleHR}
	finance  = loan.Actor{ID: "fin-1", TenantID: tenant, Role: loan.RoleFinance}
	payroll  = loan.Actor{ID: "payroll", TenantID: tenant, Role: loan.RolePayroll}
)

type testAPI struct {
	t      *testing.T
	router http.Handler
	store  *sqlite.Store
	tokens *TokenIssuer
	logs   *logtest.Hook
	now    time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	a := &testAPI{
		t:     t,
		store: store,
		logs:  hook,
		now:   time.Date(2025, time.January, 10, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return a.now }

	engine := loan.NewEngine(loan.Dependencies{
		Store:     store,
		Directory: store,
		Audit:     store,
		Logger:    logger,
		Clock:     clock,
	}, 2)
	scheduler, err := NewOverdueScheduler(engine.Repayments, store, "0 2 * * *", logger, clock)
	require.NoError(t, err)

	h := NewHandler(engine, store, scheduler, logger)
	h.Clock = clock

	a.tokens = NewTokenIssuer("loan-engine", "loan-api", "test-secret")
	a.tokens.now = clock
	a.router = NewRouter(h, a.tokens, []string{"*"})
	return a
}

func (a *testAPI) token(actor loan.Actor) string {
	a.t.Helper()
	tok, err := a.tokens.Mint(actor, time.Hour)
	require.NoError(a.t, err)
	return tok
}

// do sends a request as actor; a nil actor sends no token.
func (a *testAPI) do(method, path string, actor *loan.Actor, body any) *httptest.ResponseRecorder {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+a.token(*actor))
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) seed() {
	a.t.Helper()

	for id, emp := range map[string]EmployeeRequest{
		"emp-1": {Name: "Asha", Email: "asha@acme.test", JoinDate: "2019-04-01", Status: "active",
			Grade: "G5", ManagerID: "mgr-1", EstimatedTakeHomeSalary: loan.MustParseMoney("100000")},
		"mgr-1": {Name: "Tomas", Email: "tomas@acme.test", JoinDate: "2015-01-05", Status: "active",
			Grade: "G8", EstimatedTakeHomeSalary: loan.MustParseMoney("200000")},
	} {
		rec := a.do(http.MethodPut, "/api/employees/"+id, &hr, emp)
		require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := a.do(http.MethodPost, "/api/products", &hr,
		factory.PersonalLoanJSON("personal", "Personal Loan", "12", "500000", 24, "1"))
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) apply(principal string, tenure int) LoanDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/loans", &borrower, map[string]any{
		"product_id":    "personal",
		"principal":     principal,
		"tenure_months": tenure,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ApplyResponse](a.t, rec).Loan
}

func (a *testAPI) decide(actor loan.Actor, id string, level int) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.do(http.MethodPost, "/api/loans/"+id+"/decisions", &actor, DecisionRequest{
		Level:    level,
		Decision: "approved",
	})
}

// disbursed applies for 120000 over 12 months and takes it through the chain.
func (a *testAPI) disbursed() LoanDTO {
	a.t.Helper()
	l := a.apply("120000", 12)
	for i, actor := range []loan.Actor{manager, hr, finance} {
		rec := a.decide(actor, l.ID, i+1)
		require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := a.do(http.MethodPost, "/api/loans/"+l.ID+"/disburse", &finance, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[DisbursementDTO](a.t, rec).Loan
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestHealth_IsPublic(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth_RejectsMissingAndForgedTokens(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/loans", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeBody[ErrorResponse](t, rec).Code)

	forged, err := NewTokenIssuer("loan-engine", "loan-api", "another-secret").Mint(hr, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_EmployeeCannotDisburse(t *testing.T) {
	// GIVEN: An authenticated employee
	// WHEN: They call a finance-only endpoint
	// THEN: 403 not_authorized, before the handler runs

	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/loans/any/disburse", &borrower, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(loan.CodeNotAuthorized), decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// LOAN LIFECYCLE
// =============================================================================

func TestLoanLifecycle_OverHTTP(t *testing.T) {
	// GIVEN: An employee, their manager and a 12% personal loan product
	// WHEN: The loan is applied for, approved at three levels, disbursed
	//       and the February payroll cycle runs twice
	// THEN: One installment is deducted, the second run is a no-op, and
	//       obligations, ledger and audit trail agree

	a := newTestAPI(t)
	a.seed()

	// Eligibility preview
	rec := a.do(http.MethodPost, "/api/loans/eligibility", &borrower, map[string]any{
		"product_id": "personal", "principal": 120000, "tenure_months": 12,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	elig := decodeBody[EligibilityDTO](t, rec)
	assert.True(t, elig.Valid)
	require.NotNil(t, elig.Preview)
	assert.Equal(t, "10661.85", elig.Preview.Emi)

	// Apply
	l := a.apply("120000", 12)
	assert.Equal(t, string(loan.StatusApplied), l.Status)
	assert.Equal(t, "emp-1", l.EmployeeID)
	assert.Equal(t, "10661.85", l.EmiAmount)

	// Approval chain
	for i, actor := range []loan.Actor{manager, hr, finance} {
		rec := a.decide(actor, l.ID, i+1)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = a.do(http.MethodGet, "/api/loans/"+l.ID, &borrower, nil)
	assert.Equal(t, string(loan.StatusFinanceSanctioned), decodeBody[LoanDTO](t, rec).Status)

	// Disburse
	rec = a.do(http.MethodPost, "/api/loans/"+l.ID+"/disburse", &finance, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	disb := decodeBody[DisbursementDTO](t, rec)
	assert.Equal(t, string(loan.StatusDisbursed), disb.Loan.Status)
	assert.Equal(t, "120000.00", disb.Loan.OutstandingBalance)
	require.Len(t, disb.Schedule, 12)
	assert.Equal(t, "2025-02-10", disb.Schedule[0].DueDate)

	// Payroll, twice
	for i, want := range []string{"10661.85", "0.00"} {
		rec = a.do(http.MethodPost, "/api/payroll/repayments", &payroll, RepaymentRequest{
			EmployeeID: "emp-1", CycleDate: "2025-02-28",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, want, decodeBody[RepaymentDTO](t, rec).TotalDeducted, "run %d", i+1)
	}

	rec = a.do(http.MethodGet, "/api/loans/"+l.ID, &borrower, nil)
	got := decodeBody[LoanDTO](t, rec)
	assert.Equal(t, string(loan.StatusActive), got.Status)
	assert.Equal(t, "110538.15", got.OutstandingBalance)

	rec = a.do(http.MethodGet, "/api/payroll/deductions?cycle=2025-02", &payroll, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deductions := decodeBody[[]DeductionDTO](t, rec)
	require.Len(t, deductions, 1)
	assert.Equal(t, l.ID+":1", deductions[0].IdempotencyKey)

	rec = a.do(http.MethodGet, "/api/employees/emp-1/obligations", &borrower, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	obligations := decodeBody[ObligationsDTO](t, rec)
	assert.Equal(t, 1, obligations.Count)
	assert.Equal(t, "10661.85", obligations.TotalEmi)
	require.Len(t, obligations.Loans, 1)
	assert.Equal(t, 11, obligations.Loans[0].RemainingInstallments)

	rec = a.do(http.MethodGet, "/api/loans/"+l.ID+"/approvals", &borrower, nil)
	assert.Len(t, decodeBody[[]ApprovalDTO](t, rec), 3)

	rec = a.do(http.MethodGet, "/api/loans/"+l.ID+"/audit", &hr, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[[]AuditEventDTO](t, rec), 6)
}

func TestApplyLoan_AboveProductMax_422WithViolations(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	rec := a.do(http.MethodPost, "/api/loans", &borrower, map[string]any{
		"product_id": "personal", "principal": "600000", "tenure_months": 12,
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, string(loan.CodeAmountOrTenureOutOfRange), resp.Code)
	require.NotEmpty(t, resp.Violations)
	assert.Equal(t, loan.CodeAmountOrTenureOutOfRange, resp.Violations[0].Code)
}

func TestApplyLoan_ForSomeoneElse_403(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	rec := a.do(http.MethodPost, "/api/loans", &borrower, map[string]any{
		"employee_id": "mgr-1", "product_id": "personal", "principal": "1000", "tenure_months": 2,
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDecideLoan_InvalidBody_400WithFields(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	l := a.apply("50000", 12)

	rec := a.do(http.MethodPost, "/api/loans/"+l.ID+"/decisions", &manager, map[string]any{
		"level": 5, "decision": "maybe",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, string(loan.CodeValidation), resp.Code)

	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"level", "decision"}, fields)
}

func TestDecideLoan_WrongStage_409(t *testing.T) {
	// GIVEN: A loan still waiting for the manager
	// WHEN: HR tries to verify it
	// THEN: 409 invalid_state_transition and the loan is unchanged

	a := newTestAPI(t)
	a.seed()
	l := a.apply("50000", 12)

	rec := a.decide(hr, l.ID, 2)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(loan.CodeInvalidStateTransition), decodeBody[ErrorResponse](t, rec).Code)

	rec = a.do(http.MethodGet, "/api/loans/"+l.ID, &hr, nil)
	assert.Equal(t, string(loan.StatusApplied), decodeBody[LoanDTO](t, rec).Status)
}

func TestGetLoan_OtherTenant_403AndLogged(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	l := a.apply("50000", 12)
	a.logs.Reset()

	intruder := loan.Actor{ID: "hr-9", TenantID: "globex", Role: loan.RoleHR}
	rec := a.do(http.MethodGet, "/api/loans/"+l.ID, &intruder, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(loan.CodeTenantMismatch), decodeBody[ErrorResponse](t, rec).Code)

	var logged bool
	for _, e := range a.logs.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.Contains(e.Message, "cross-tenant") {
			logged = true
		}
	}
	assert.True(t, logged, "tenant mismatch must be logged at error level")
}

func TestGetLoan_Unknown_404(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/loans/nope", &hr, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(loan.CodeNotFound), decodeBody[ErrorResponse](t, rec).Code)
}

func TestListLoans_EmployeeSeesOnlyOwn_StatusFilter(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	a.apply("50000", 12)
	rec := a.do(http.MethodPut, "/api/employees/emp-2", &hr, EmployeeRequest{
		Name: "Ravi", JoinDate: "2018-09-01", Status: "active", Grade: "G4",
		EstimatedTakeHomeSalary: loan.MustParseMoney("80000"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPost, "/api/loans", &hr, map[string]any{
		"employee_id": "emp-2", "product_id": "personal", "principal": "20000", "tenure_months": 6,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/loans", &borrower, nil)
	assert.Len(t, decodeBody[[]LoanDTO](t, rec), 1)

	rec = a.do(http.MethodGet, "/api/loans?status=applied", &hr, nil)
	assert.Len(t, decodeBody[[]LoanDTO](t, rec), 2)

	rec = a.do(http.MethodGet, "/api/loans?status=active,closed", &hr, nil)
	assert.Empty(t, decodeBody[[]LoanDTO](t, rec))

	rec = a.do(http.MethodGet, "/api/loans?status=bogus", &hr, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRemarks_AfterRejection(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	l := a.apply("50000", 12)

	rec := a.do(http.MethodPost, "/api/loans/"+l.ID+"/decisions", &manager, DecisionRequest{
		Level: 1, Decision: "rejected", Remarks: "budget",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(loan.StatusRejected), decodeBody[LoanDTO](t, rec).Status)

	rec = a.do(http.MethodPut, "/api/loans/"+l.ID+"/remarks", &borrower, RemarksRequest{Remarks: "will reapply"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "will reapply", decodeBody[LoanDTO](t, rec).Remarks)
}

func TestWaiveInstallment(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	l := a.disbursed()

	rec := a.do(http.MethodPost, "/api/loans/"+l.ID+"/installments/1/waive", &finance, WaiveRequest{Remarks: "hardship"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "110538.15", decodeBody[LoanDTO](t, rec).OutstandingBalance)

	rec = a.do(http.MethodPost, "/api/loans/"+l.ID+"/installments/1/waive", &finance, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/loans/"+l.ID+"/installments/0/waive", &finance, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PRODUCTS & EMPLOYEES
// =============================================================================

func TestCreateProduct_DuplicateAndForbidden(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	rec := a.do(http.MethodPost, "/api/products", &finance,
		factory.SalaryAdvanceJSON("personal", "Again", "1000", 3))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/products", &borrower,
		factory.SalaryAdvanceJSON("advance", "Advance", "1000", 3))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/api/products", &finance, `{"id":"bad","name":"Bad","max_principal":"-1","max_tenure_months":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/products", &borrower, nil)
	products := decodeBody[[]factory.ProductJSON](t, rec)
	require.Len(t, products, 1)
	assert.Equal(t, "personal", products[0].ID)
}

func TestPutEmployee_Validation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPut, "/api/employees/emp-9", &hr, EmployeeRequest{
		Name: "X", JoinDate: "01/02/2020", Status: "retired", Email: "not-an-email",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"join_date", "status", "email"}, fields)
}

// =============================================================================
// PAYROLL & ADMIN
// =============================================================================

func TestProcessCycle_DefaultsToEveryEmployee(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	a.disbursed()

	rec := a.do(http.MethodPost, "/api/payroll/cycles", &payroll, CycleRequest{CycleDate: "2025-02-15"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[CycleDTO](t, rec)
	assert.Equal(t, "2025-02", report.Cycle)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, "10661.85", report.TotalDeducted)
}

func TestPayrollEndpoints_RequirePayrollOrFinance(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/payroll/repayments", &hr, RepaymentRequest{EmployeeID: "emp-1", CycleDate: "2025-02-28"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodGet, "/api/payroll/deductions?cycle=2025-13", &finance, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverdueSweep_MarksPastMonthsAndIsRecorded(t *testing.T) {
	// GIVEN: A loan disbursed on 2025-01-10 with nothing collected
	// WHEN: Finance runs the sweep as of 2025-04-11
	// THEN: The February and March installments are overdue and the run is listed

	a := newTestAPI(t)
	a.seed()
	l := a.disbursed()

	rec := a.do(http.MethodPost, "/api/admin/overdue-sweep", &finance, SweepRequest{AsOf: "2025-04-11"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[SweepRunDTO](t, rec)
	assert.Equal(t, sqlite.SweepCompleted, run.Status)
	assert.Equal(t, 2, run.Marked)
	assert.Equal(t, "2025-04-01", run.DueBefore)

	rec = a.do(http.MethodGet, "/api/loans/"+l.ID+"/schedule", &borrower, nil)
	schedule := decodeBody[[]InstallmentDTO](t, rec)
	assert.Equal(t, string(loan.InstallmentOverdue), schedule[0].Status)
	assert.Equal(t, string(loan.InstallmentOverdue), schedule[1].Status)
	assert.Equal(t, string(loan.InstallmentPending), schedule[2].Status)

	rec = a.do(http.MethodGet, "/api/admin/sweeps", &finance, nil)
	runs := decodeBody[[]SweepRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = a.do(http.MethodGet, "/api/admin/sweeps", &payroll, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
