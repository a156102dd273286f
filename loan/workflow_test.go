package loan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/loan/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

const tenant loan.TenantID = "acme"

var (
	borrower = loan.Actor{ID: "emp-1", TenantID: tenant, Role: loan.RoleEmployee}
	manager  = loan.Actor{ID: "mgr-1", TenantID: tenant, Role: loan.RoleManager}
	hr       = loan.Actor{ID: "hr-1", TenantID: tenant, Role: loan.RoleHR}
	finance  = loan.Actor{ID: "fin-1", TenantID: tenant, Role: loan.RoleFinance}
	payroll  = loan.Actor{ID: "payroll", TenantID: tenant, Role: loan.RolePayroll}
)

type sentNote struct {
	To      string
	Subject string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []sentNote
}

func (n *recordingNotifier) Notify(_ context.Context, to, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, sentNote{To: to, Subject: subject})
	return nil
}

func (n *recordingNotifier) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notes))
	for i, note := range n.notes {
		out[i] = note.Subject
	}
	return out
}

type fixture struct {
	ctx      context.Context
	engine   *loan.Engine
	store    *store.Memory
	dir      *store.Directory
	audit    *store.AuditLog
	notifier *recordingNotifier
	logs     *logtest.Hook

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		ctx:      context.Background(),
		store:    store.NewMemory(),
		dir:      store.NewDirectory(),
		audit:    &store.AuditLog{},
		notifier: &recordingNotifier{},
		logs:     hook,
		now:      time.Date(2025, time.January, 10, 9, 30, 0, 0, time.UTC),
	}
	f.engine = loan.NewEngine(loan.Dependencies{
		Store:     f.store,
		Directory: f.dir,
		Audit:     f.audit,
		Notifier:  f.notifier,
		Logger:    logger,
		Clock:     f.clock,
	}, 4)

	f.dir.Put(loan.Employee{
		ID: "emp-1", TenantID: tenant, Name: "Asha", Email: "asha@acme.test",
		JoinDate: date(2019, time.April, 1), Status: loan.EmployeeActive, Grade: "G5",
		ManagerID: "mgr-1", EstimatedTakeHomeSalary: money("100000"),
	})
	f.dir.Put(loan.Employee{
		ID: "emp-2", TenantID: tenant, Name: "Ravi", Email: "ravi@acme.test",
		JoinDate: date(2018, time.September, 1), Status: loan.EmployeeActive, Grade: "G4",
		EstimatedTakeHomeSalary: money("30000"),
	})
	f.dir.Put(loan.Employee{
		ID: "emp-3", TenantID: tenant, Name: "Mei", Email: "mei@acme.test",
		JoinDate: date(2021, time.February, 1), Status: loan.EmployeeActive, Grade: "G3",
		EstimatedTakeHomeSalary: money("80000"),
	})
	f.dir.Put(loan.Employee{
		ID: "mgr-1", TenantID: tenant, Name: "Tomas", Email: "tomas@acme.test",
		JoinDate: date(2015, time.January, 5), Status: loan.EmployeeActive, Grade: "G8",
		EstimatedTakeHomeSalary: money("200000"),
	})

	require.NoError(t, f.store.SaveProduct(f.ctx, loan.LoanProduct{
		ID: "personal", TenantID: tenant, Name: "Personal Loan",
		InterestRate: money("12"), MaxPrincipal: money("500000"), MaxTenureMonths: 24,
		MinServiceYears: money("1"), Active: true,
	}))
	require.NoError(t, f.store.SaveProduct(f.ctx, loan.LoanProduct{
		ID: "advance", TenantID: tenant, Name: "Salary Advance",
		InterestRate: decimal.Zero, MaxPrincipal: money("100000"), MaxTenureMonths: 12,
		MinServiceYears: decimal.Zero, Active: true,
	}))
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func applyAs(employee loan.EmployeeID) loan.Actor {
	return loan.Actor{ID: string(employee), TenantID: tenant, Role: loan.RoleEmployee}
}

func (f *fixture) apply(t *testing.T, employee loan.EmployeeID, product loan.ProductID, principal string, tenure int) loan.LoanApplication {
	t.Helper()
	res, err := f.engine.Workflow.Apply(f.ctx, applyAs(employee), loan.ApplyRequest{
		EmployeeID:   employee,
		ProductID:    product,
		Principal:    money(principal),
		TenureMonths: tenure,
	})
	require.NoError(t, err)
	return res.Loan
}

func (f *fixture) decide(t *testing.T, actor loan.Actor, id loan.LoanID, level loan.ApprovalLevel) *loan.LoanApplication {
	t.Helper()
	l, err := f.engine.Workflow.Decide(f.ctx, actor, id, loan.DecideRequest{Level: level, Decision: loan.DecisionApproved})
	require.NoError(t, err)
	return l
}

func (f *fixture) sanctioned(t *testing.T, employee loan.EmployeeID, product loan.ProductID, principal string, tenure int) loan.LoanApplication {
	t.Helper()
	l := f.apply(t, employee, product, principal, tenure)
	f.decide(t, manager, l.ID, loan.LevelManager)
	f.decide(t, hr, l.ID, loan.LevelHR)
	return *f.decide(t, finance, l.ID, loan.LevelFinance)
}

func (f *fixture) disbursed(t *testing.T, employee loan.EmployeeID, product loan.ProductID, principal string, tenure int) loan.LoanApplication {
	t.Helper()
	l := f.sanctioned(t, employee, product, principal, tenure)
	out, _, err := f.engine.Workflow.Disburse(f.ctx, finance, l.ID)
	require.NoError(t, err)
	return *out
}

func (f *fixture) reload(t *testing.T, id loan.LoanID) *loan.LoanApplication {
	t.Helper()
	l, err := f.store.GetLoan(f.ctx, id)
	require.NoError(t, err)
	return l
}

func auditActions(events []loan.AuditEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

// =============================================================================
// APPROVAL CHAIN
// =============================================================================

func TestWorkflow_FullApprovalChain_DisbursesWithSchedule(t *testing.T) {
	// GIVEN: An eligible employee
	// WHEN: Applying, passing all three approval levels and disbursing
	// THEN: The loan is Disbursed with a complete 12 installment schedule,
	//       three approval records and an audit event per step

	f := newFixture(t)

	l := f.apply(t, "emp-1", "personal", "120000", 12)
	assert.Equal(t, loan.StatusApplied, l.Status)
	assertMoney(t, "10661.85", l.EmiAmount)
	assertMoney(t, "12.00", l.InterestRate, "rate copied from product")
	assert.True(t, l.OutstandingBalance.IsZero())

	assert.Equal(t, loan.StatusManagerApproved, f.decide(t, manager, l.ID, loan.LevelManager).Status)
	assert.Equal(t, loan.StatusHrVerified, f.decide(t, hr, l.ID, loan.LevelHR).Status)
	sanctioned := f.decide(t, finance, l.ID, loan.LevelFinance)
	assert.Equal(t, loan.StatusFinanceSanctioned, sanctioned.Status)
	assertMoney(t, "120000.00", sanctioned.SanctionedPrincipal)

	disbursed, entries, err := f.engine.Workflow.Disburse(f.ctx, finance, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusDisbursed, disbursed.Status)
	assertMoney(t, "120000.00", disbursed.OutstandingBalance)
	require.NotNil(t, disbursed.DisbursalDate)
	assert.Equal(t, date(2025, time.January, 10), *disbursed.DisbursalDate)
	assert.Len(t, entries, 12)

	schedule, err := f.engine.Workflow.GetSchedule(f.ctx, borrower, l.ID)
	require.NoError(t, err)
	require.Len(t, schedule, 12)
	assert.Equal(t, date(2025, time.February, 10), schedule[0].DueDate)
	assert.Equal(t, date(2026, time.January, 10), schedule[11].DueDate)
	for _, e := range schedule {
		assert.Equal(t, loan.InstallmentPending, e.Status)
	}

	approvals, err := f.engine.Workflow.ListApprovals(f.ctx, hr, l.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 3)
	assert.Equal(t, []loan.ApprovalLevel{1, 2, 3}, []loan.ApprovalLevel{approvals[0].Level, approvals[1].Level, approvals[2].Level})
	assert.Equal(t, "mgr-1", approvals[0].ApproverID)

	assert.Equal(t, []string{
		loan.AuditLoanApplied,
		loan.AuditLoanApproved,
		loan.AuditLoanApproved,
		loan.AuditLoanApproved,
		loan.AuditLoanDisbursed,
	}, auditActions(f.audit.Events()))
	assert.Contains(t, f.notifier.subjects(), "Loan disbursed")
}

func TestWorkflow_Decide_WrongStage_InvalidStateTransition(t *testing.T) {
	// GIVEN: A loan still waiting for the manager
	// WHEN: HR tries to verify it, or the manager approves twice
	// THEN: InvalidStateTransition

	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "50000", 12)

	_, err := f.engine.Workflow.Decide(f.ctx, hr, l.ID, loan.DecideRequest{Level: loan.LevelHR, Decision: loan.DecisionApproved})
	assert.ErrorIs(t, err, loan.ErrInvalidStateTransition)

	f.decide(t, manager, l.ID, loan.LevelManager)
	_, err = f.engine.Workflow.Decide(f.ctx, manager, l.ID, loan.DecideRequest{Level: loan.LevelManager, Decision: loan.DecisionApproved})
	assert.ErrorIs(t, err, loan.ErrInvalidStateTransition)
	assert.Equal(t, loan.CodeInvalidStateTransition, loan.Code(err))
}

func TestWorkflow_Decide_WrongRole_NotAuthorized(t *testing.T) {
	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "50000", 12)

	tests := []struct {
		name  string
		actor loan.Actor
	}{
		{"hr at manager level", hr},
		{"finance at manager level", finance},
		{"manager who is not the direct manager", loan.Actor{ID: "mgr-2", TenantID: tenant, Role: loan.RoleManager}},
		{"borrower", borrower},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Workflow.Decide(f.ctx, tt.actor, l.ID, loan.DecideRequest{Level: loan.LevelManager, Decision: loan.DecisionApproved})
			assert.ErrorIs(t, err, loan.ErrNotAuthorized)
		})
	}
	assert.Equal(t, loan.StatusApplied, f.reload(t, l.ID).Status)
}

func TestWorkflow_Decide_OwnLoan_NotAuthorized(t *testing.T) {
	// GIVEN: An HR employee who applied for a loan themself
	// WHEN: They try to verify it at the HR level
	// THEN: NotAuthorized

	f := newFixture(t)
	f.dir.Put(loan.Employee{
		ID: "hr-1", TenantID: tenant, Email: "hr@acme.test", JoinDate: date(2016, time.May, 1),
		Status: loan.EmployeeActive, Grade: "G6", EstimatedTakeHomeSalary: money("90000"),
	})
	l := f.apply(t, "hr-1", "personal", "50000", 12)
	f.decide(t, manager, l.ID, loan.LevelManager)

	_, err := f.engine.Workflow.Decide(f.ctx, hr, l.ID, loan.DecideRequest{Level: loan.LevelHR, Decision: loan.DecisionApproved})

	var authErr *loan.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "own loan")
}

func TestWorkflow_Reject_IsTerminal(t *testing.T) {
	// GIVEN: A manager-approved loan
	// WHEN: HR rejects it
	// THEN: Rejected, further decisions fail, remarks stay editable

	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "50000", 12)
	f.decide(t, manager, l.ID, loan.LevelManager)

	rejected, err := f.engine.Workflow.Decide(f.ctx, hr, l.ID, loan.DecideRequest{
		Level: loan.LevelHR, Decision: loan.DecisionRejected, Remarks: "documents missing",
	})
	require.NoError(t, err)
	assert.Equal(t, loan.StatusRejected, rejected.Status)

	_, err = f.engine.Workflow.Decide(f.ctx, finance, l.ID, loan.DecideRequest{Level: loan.LevelFinance, Decision: loan.DecisionApproved})
	assert.ErrorIs(t, err, loan.ErrInvalidStateTransition)

	updated, err := f.engine.Workflow.UpdateRemarks(f.ctx, borrower, l.ID, "will reapply next quarter")
	require.NoError(t, err)
	assert.Equal(t, "will reapply next quarter", updated.Remarks)
	assert.Equal(t, loan.StatusRejected, updated.Status)

	approvals, err := f.engine.Workflow.ListApprovals(f.ctx, hr, l.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 2)
	assert.Equal(t, loan.DecisionRejected, approvals[1].Decision)
	assert.Equal(t, "documents missing", approvals[1].Remarks)
	assert.Contains(t, f.notifier.subjects(), "Loan application rejected")
}

// =============================================================================
// FINANCE SANCTION
// =============================================================================

func TestWorkflow_FinanceSanctionsLowerPrincipal_EmiRecomputed(t *testing.T) {
	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "120000", 12)
	f.decide(t, manager, l.ID, loan.LevelManager)
	f.decide(t, hr, l.ID, loan.LevelHR)

	amount := money("60000")
	sanctioned, err := f.engine.Workflow.Decide(f.ctx, finance, l.ID, loan.DecideRequest{
		Level: loan.LevelFinance, Decision: loan.DecisionApproved, SanctionedPrincipal: &amount,
	})
	require.NoError(t, err)

	assertMoney(t, "60000.00", sanctioned.SanctionedPrincipal)
	assertMoney(t, "120000.00", sanctioned.AppliedPrincipal)
	assertMoney(t, "5330.93", sanctioned.EmiAmount)

	disbursed, entries, err := f.engine.Workflow.Disburse(f.ctx, finance, l.ID)
	require.NoError(t, err)
	assertMoney(t, "60000.00", disbursed.OutstandingBalance)
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Principal)
	}
	assertMoney(t, "60000.00", total)
}

func TestWorkflow_FinanceSanctionAboveProductMax_Rejected(t *testing.T) {
	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "120000", 12)
	f.decide(t, manager, l.ID, loan.LevelManager)
	f.decide(t, hr, l.ID, loan.LevelHR)

	amount := money("500000.01")
	_, err := f.engine.Workflow.Decide(f.ctx, finance, l.ID, loan.DecideRequest{
		Level: loan.LevelFinance, Decision: loan.DecisionApproved, SanctionedPrincipal: &amount,
	})

	assert.ErrorIs(t, err, loan.ErrAmountOrTenureOutOfRange)
	assert.Equal(t, loan.StatusHrVerified, f.reload(t, l.ID).Status)
}

func TestWorkflow_SanctionedPrincipalBelowFinanceLevel_ValidationError(t *testing.T) {
	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "120000", 12)

	amount := money("60000")
	_, err := f.engine.Workflow.Decide(f.ctx, manager, l.ID, loan.DecideRequest{
		Level: loan.LevelManager, Decision: loan.DecisionApproved, SanctionedPrincipal: &amount,
	})

	var verr *loan.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sanctioned_principal", verr.Fields[0].Field)
}

// =============================================================================
// CONCURRENCY & ATOMICITY
// =============================================================================

func TestWorkflow_ConcurrentDoubleApproval_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: A freshly applied loan
	// WHEN: The manager's approval is submitted 8 times concurrently
	// THEN: Exactly one decision lands, the rest are InvalidStateTransition

	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "50000", 12)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Workflow.Decide(f.ctx, manager, l.ID, loan.DecideRequest{
				Level: loan.LevelManager, Decision: loan.DecisionApproved,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, loan.ErrInvalidStateTransition)
	}
	assert.Equal(t, 1, succeeded)

	approvals, err := f.engine.Workflow.ListApprovals(f.ctx, hr, l.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
	assert.Equal(t, loan.StatusManagerApproved, f.reload(t, l.ID).Status)
}

func TestWorkflow_Disburse_ScheduleWriteFails_RollsBack(t *testing.T) {
	// GIVEN: A sanctioned loan and a store whose schedule write fails
	// WHEN: Disbursing
	// THEN: The loan stays FinanceSanctioned with no schedule

	f := newFixture(t)
	l := f.sanctioned(t, "emp-1", "personal", "120000", 12)
	f.store.FailInsertSchedule = errors.New("disk full")

	_, _, err := f.engine.Workflow.Disburse(f.ctx, finance, l.ID)
	require.Error(t, err)

	current := f.reload(t, l.ID)
	assert.Equal(t, loan.StatusFinanceSanctioned, current.Status)
	assert.Nil(t, current.DisbursalDate)
	schedule, err := f.store.GetSchedule(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, schedule)

	f.store.FailInsertSchedule = nil
	_, entries, err := f.engine.Workflow.Disburse(f.ctx, finance, l.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 12)
}

func TestWorkflow_Disburse_NotSanctioned_InvalidStateTransition(t *testing.T) {
	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "50000", 12)

	_, _, err := f.engine.Workflow.Disburse(f.ctx, finance, l.ID)
	assert.ErrorIs(t, err, loan.ErrInvalidStateTransition)

	sanctioned := f.sanctioned(t, "emp-1", "personal", "50000", 12)
	_, _, err = f.engine.Workflow.Disburse(f.ctx, hr, sanctioned.ID)
	assert.ErrorIs(t, err, loan.ErrNotAuthorized)
}

// =============================================================================
// SIDE CHANNELS & TENANCY
// =============================================================================

func TestWorkflow_AuditSinkFails_TransitionStillCommits(t *testing.T) {
	f := newFixture(t)
	f.audit.Fail = errors.New("audit service unavailable")

	l := f.apply(t, "emp-1", "personal", "50000", 12)
	approved := f.decide(t, manager, l.ID, loan.LevelManager)

	assert.Equal(t, loan.StatusManagerApproved, approved.Status)
	assert.Empty(t, f.audit.Events())

	warned := false
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "audit event not recorded" {
			warned = true
		}
	}
	assert.True(t, warned, "audit failure is logged")
}

func TestWorkflow_OtherTenant_TenantMismatchLoggedAsError(t *testing.T) {
	f := newFixture(t)
	l := f.apply(t, "emp-1", "personal", "50000", 12)
	intruder := loan.Actor{ID: "hr-9", TenantID: "globex", Role: loan.RoleHR}

	_, err := f.engine.Workflow.GetLoan(f.ctx, intruder, l.ID)

	assert.ErrorIs(t, err, loan.ErrTenantMismatch)
	require.NotNil(t, f.logs.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, f.logs.LastEntry().Level)

	_, err = f.engine.Workflow.Decide(f.ctx, loan.Actor{ID: "mgr-9", TenantID: "globex", Role: loan.RoleManager}, l.ID,
		loan.DecideRequest{Level: loan.LevelManager, Decision: loan.DecisionApproved})
	assert.ErrorIs(t, err, loan.ErrTenantMismatch)
}

// =============================================================================
// APPLY
// =============================================================================

func TestWorkflow_Apply_Ineligible_NoLoanCreated(t *testing.T) {
	// GIVEN: Take-home 30,000
	// WHEN: Applying for an advance with an EMI of 20,000
	// THEN: EmiUnaffordable with the preview attached, nothing stored

	f := newFixture(t)

	_, err := f.engine.Workflow.Apply(f.ctx, applyAs("emp-2"), loan.ApplyRequest{
		EmployeeID: "emp-2", ProductID: "advance", Principal: money("60000"), TenureMonths: 3,
	})

	var elig *loan.EligibilityError
	require.ErrorAs(t, err, &elig)
	assert.ErrorIs(t, err, loan.ErrEmiUnaffordable)
	require.NotNil(t, elig.Result.Preview)
	assertMoney(t, "20000.00", elig.Result.Preview.Emi)

	loans, err := f.engine.Workflow.ListLoans(f.ctx, hr, loan.LoanFilter{})
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestWorkflow_Apply_ForSomeoneElse_NotAuthorized(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Workflow.Apply(f.ctx, applyAs("emp-2"), loan.ApplyRequest{
		EmployeeID: "emp-1", ProductID: "personal", Principal: money("10000"), TenureMonths: 12,
	})
	assert.ErrorIs(t, err, loan.ErrNotAuthorized)

	res, err := f.engine.Workflow.Apply(f.ctx, hr, loan.ApplyRequest{
		EmployeeID: "emp-1", ProductID: "personal", Principal: money("10000"), TenureMonths: 12,
	})
	require.NoError(t, err, "HR may apply on the employee's behalf")
	assert.Equal(t, loan.EmployeeID("emp-1"), res.Loan.EmployeeID)
}

func TestWorkflow_Apply_CombinedObligations_WarnsButCreates(t *testing.T) {
	// GIVEN: Take-home 30,000 and a running advance with EMI 10,000
	// WHEN: Applying for a second advance with EMI 10,000
	// THEN: Created, with a combined-EMI warning (20,000 > 15,000)

	f := newFixture(t)
	f.disbursed(t, "emp-2", "advance", "60000", 6)

	res, err := f.engine.Workflow.Apply(f.ctx, applyAs("emp-2"), loan.ApplyRequest{
		EmployeeID: "emp-2", ProductID: "advance", Principal: money("60000"), TenureMonths: 6,
	})
	require.NoError(t, err)

	assert.Equal(t, loan.StatusApplied, res.Loan.Status)
	require.Len(t, res.Eligibility.Warnings, 1)
	assertMoney(t, "20000.00", res.Eligibility.CombinedEmi)
}

func TestWorkflow_Apply_InactiveProduct_ValidationError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveProduct(f.ctx, loan.LoanProduct{
		ID: "legacy", TenantID: tenant, Name: "Legacy", InterestRate: money("10"),
		MaxPrincipal: money("10000"), MaxTenureMonths: 12, MinServiceYears: decimal.Zero,
	}))

	_, err := f.engine.Workflow.Apply(f.ctx, borrower, loan.ApplyRequest{
		EmployeeID: "emp-1", ProductID: "legacy", Principal: money("1000"), TenureMonths: 6,
	})
	assert.ErrorIs(t, err, loan.ErrValidation)
}

func TestWorkflow_ListLoans_EmployeeSeesOnlyOwn(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "emp-1", "personal", "10000", 12)
	f.apply(t, "emp-3", "personal", "10000", 12)

	own, err := f.engine.Workflow.ListLoans(f.ctx, borrower, loan.LoanFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, loan.EmployeeID("emp-1"), own[0].EmployeeID)

	inbox, err := f.engine.Workflow.ListLoans(f.ctx, manager, loan.LoanFilter{Statuses: []loan.Status{loan.StatusApplied}})
	require.NoError(t, err)
	assert.Len(t, inbox, 2)

	_, err = f.engine.Workflow.ListLoans(f.ctx, manager, loan.LoanFilter{Statuses: []loan.Status{"pending"}})
	assert.ErrorIs(t, err, loan.ErrValidation)
}
