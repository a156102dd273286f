package loan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// OBLIGATIONS
// =============================================================================

func TestObligations_SumsRunningLoansOnly(t *testing.T) {
	// GIVEN: Two disbursed loans (one Active after a recovery) and one still Applied
	// WHEN: Aggregating obligations
	// THEN: Only the disbursed loans count

	f := newFixture(t)
	personal := f.disbursed(t, "emp-1", "personal", "120000", 12)
	f.disbursed(t, "emp-1", "advance", "60000", 6)
	f.apply(t, "emp-1", "personal", "10000", 12)
	f.repay(t, "emp-1", date(2025, time.February, 28))

	obl, err := f.engine.Obligations.GetObligations(f.ctx, hr, "emp-1")
	require.NoError(t, err)

	assert.Equal(t, 2, obl.Count)
	assertMoney(t, "20661.85", obl.TotalEmi)
	assertMoney(t, "160538.15", obl.OutstandingPrincipal)
	require.Len(t, obl.Loans, 2)

	assert.Equal(t, personal.ID, obl.Loans[0].LoanID)
	assert.Equal(t, loan.StatusActive, obl.Loans[0].Status)
	assert.Equal(t, 11, obl.Loans[0].RemainingInstallments)
	require.NotNil(t, obl.Loans[0].NextDueDate)
	assert.Equal(t, date(2025, time.March, 10), *obl.Loans[0].NextDueDate)
}

func TestObligations_NoLoans_Zero(t *testing.T) {
	f := newFixture(t)

	obl, err := f.engine.Obligations.GetObligations(f.ctx, borrower, "emp-1")
	require.NoError(t, err)
	assert.Zero(t, obl.Count)
	assert.True(t, obl.TotalEmi.IsZero())
}

func TestObligations_Access(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Obligations.GetObligations(f.ctx, borrower, "emp-2")
	assert.ErrorIs(t, err, loan.ErrNotAuthorized)

	_, err = f.engine.Obligations.GetObligations(f.ctx, hr, "emp-404")
	assert.ErrorIs(t, err, loan.ErrEmployeeNotFound)
	assert.True(t, loan.IsNotFound(err))

	_, err = f.engine.Obligations.GetObligations(f.ctx, loan.Actor{ID: "hr-9", TenantID: "globex", Role: loan.RoleHR}, "emp-1")
	assert.ErrorIs(t, err, loan.ErrTenantMismatch)
}

// =============================================================================
// PAYROLL CYCLE
// =============================================================================

func TestCycleRunner_ProcessesEveryEmployee_RerunIsNoOp(t *testing.T) {
	// GIVEN: Three employees with running loans and one without
	// WHEN: The February cycle runs twice
	// THEN: The first run deducts every EMI, the second deducts nothing

	f := newFixture(t)
	f.disbursed(t, "emp-1", "personal", "120000", 12)
	f.disbursed(t, "emp-2", "advance", "60000", 6)
	f.disbursed(t, "emp-3", "advance", "24000", 12)
	employees := []loan.EmployeeID{"emp-1", "emp-2", "emp-3", "mgr-1"}

	report, err := f.engine.Cycles.ProcessCycle(f.ctx, payroll, employees, date(2025, time.February, 28))
	require.NoError(t, err)

	assert.Equal(t, "2025-02", report.Cycle)
	assert.Equal(t, 4, report.Processed)
	assert.Zero(t, report.Failed)
	assertMoney(t, "22661.85", report.TotalDeducted)
	require.Len(t, report.Results, 4)
	assert.Equal(t, loan.EmployeeID("mgr-1"), report.Results[3].EmployeeID)
	assert.Empty(t, report.Results[3].Summary.Loans)

	rerun, err := f.engine.Cycles.ProcessCycle(f.ctx, payroll, employees, date(2025, time.February, 28))
	require.NoError(t, err)
	assert.True(t, rerun.TotalDeducted.IsZero())

	deductions, err := f.engine.Repayments.ListDeductions(f.ctx, payroll, "2025-02")
	require.NoError(t, err)
	assert.Len(t, deductions, 3)
}

func TestCycleRunner_FailuresDoNotStopBatch(t *testing.T) {
	f := newFixture(t)
	f.disbursed(t, "emp-1", "personal", "120000", 12)

	report, err := f.engine.Cycles.ProcessCycle(f.ctx, payroll, []loan.EmployeeID{"", "emp-1"}, date(2025, time.February, 28))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Processed)
	assert.ErrorIs(t, report.Results[0].Err, loan.ErrValidation)
	assertMoney(t, "10661.85", report.TotalDeducted)
}

func TestCycleRunner_OtherTenantEmployee_CountedAsFailed(t *testing.T) {
	// GIVEN: A running loan of acme's emp-1
	// WHEN: globex payroll runs a cycle naming emp-1
	// THEN: The employee is reported as failed and nothing is deducted

	f := newFixture(t)
	f.disbursed(t, "emp-1", "personal", "120000", 12)
	intruder := loan.Actor{ID: "payroll-9", TenantID: "globex", Role: loan.RolePayroll}

	report, err := f.engine.Cycles.ProcessCycle(f.ctx, intruder, []loan.EmployeeID{"emp-1"}, date(2025, time.February, 28))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Processed)
	assert.ErrorIs(t, report.Results[0].Err, loan.ErrTenantMismatch)
	assert.True(t, report.TotalDeducted.IsZero())
}

func TestCycleRunner_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	report, err := f.engine.Cycles.ProcessCycle(ctx, payroll, []loan.EmployeeID{"emp-1"}, date(2025, time.February, 28))

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Failed)
}
