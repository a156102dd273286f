/*
repayment.go - Payroll-synchronized repayment

PURPOSE:
  Recovers installments from salary once per (employee, payroll cycle) and
  closes loans whose schedule is fully settled. Also hosts the other
  installment-level operations: waiving and the overdue sweep.

REPAYMENT, per Disbursed/Active loan of the employee:
  1. Find the Pending installment due in the cycle's month. None: skip.
  2. Claim it (Pending -> Paid, compare-and-swap on the status).
  3. Append a Deduction keyed loanID:sequence.
  4. Balance -= installment principal (interest never reduces principal).
  5. Disbursed -> Active on the first recovery.
  6. Nothing Pending/Overdue left and balance <= 0: Active -> Closed,
     closure date = cycle date, balance clamped to 0.
  Steps 2-6 run in one transaction.

OVERDUE GRACE:
  The sweep leaves a month alone until OverdueGraceDays after it ends.
  Payroll for that month may run late inside the window. After it the
  installment is Overdue and a payroll run skips it with a warning.

IDEMPOTENCY:
  A replayed cycle finds no Pending installment in step 1, or loses the
  claim in step 2, and skips. The deduction key is a second guard. Either
  way outstanding balance and schedule are left untouched.

CONCURRENCY:
  Loans of one employee are processed one after the other. A lost
  compare-and-swap on the loan rolls the transaction back and is retried
  from a fresh read.

SEE ALSO:
  - cycle.go: Runs ProcessRepayment for many employees in parallel
  - store.go: ClaimInstallment, AppendDeduction
*/
package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RepaymentProcessor applies payroll recoveries to loans.
type RepaymentProcessor struct {
	core
}

// NewRepaymentProcessor creates a processor. Use NewEngine to get every component.
func NewRepaymentProcessor(deps Dependencies) *RepaymentProcessor {
	return &RepaymentProcessor{core: newCore(deps)}
}

// LoanRepayment is what one cycle did to one loan.
type LoanRepayment struct {
	LoanID             LoanID
	Sequence           int
	Amount             decimal.Decimal
	Principal          decimal.Decimal
	Interest           decimal.Decimal
	OutstandingBalance decimal.Decimal
	Status             Status
	Skipped            bool
	SkipReason         string
}

// RepaymentSummary is the outcome of ProcessRepayment.
type RepaymentSummary struct {
	TenantID      TenantID
	EmployeeID    EmployeeID
	Cycle         string
	Loans         []LoanRepayment
	TotalDeducted decimal.Decimal
}

// =============================================================================
// PROCESS REPAYMENT
// =============================================================================

// ProcessRepayment recovers the installments of employeeID due in the
// payroll cycle containing cycleDate. Calling it again for the same cycle
// changes nothing.
func (p *RepaymentProcessor) ProcessRepayment(ctx context.Context, actor Actor, employeeID EmployeeID, cycleDate time.Time) (*RepaymentSummary, error) {
	if actor.Role != RolePayroll && actor.Role != RoleFinance {
		return nil, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Required: RolePayroll}
	}
	verr := &ValidationError{}
	if employeeID == "" {
		verr.Add("employee_id", "is required")
	}
	if cycleDate.IsZero() {
		verr.Add("cycle_date", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if p.dir != nil {
		if _, err := p.loadEmployee(ctx, actor.TenantID, employeeID); err != nil {
			return nil, err
		}
	}

	cycle := CycleOf(cycleDate)
	paidAt := Date(cycleDate)
	summary := &RepaymentSummary{
		TenantID:      actor.TenantID,
		EmployeeID:    employeeID,
		Cycle:         cycle.Ref(),
		Loans:         []LoanRepayment{},
		TotalDeducted: decimal.Zero,
	}

	loans, err := p.store.ListLoans(ctx, actor.TenantID, LoanFilter{
		EmployeeID: employeeID,
		Statuses:   []Status{StatusDisbursed, StatusActive},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	for _, l := range loans {
		r, err := p.repayLoan(ctx, actor, l.ID, cycle, paidAt)
		if err != nil {
			return summary, fmt.Errorf("repayment of loan %s: %w", l.ID, err)
		}
		summary.Loans = append(summary.Loans, r)
		if !r.Skipped {
			summary.TotalDeducted = summary.TotalDeducted.Add(r.Amount)
		}
	}
	return summary, nil
}

func (p *RepaymentProcessor) repayLoan(ctx context.Context, actor Actor, loanID LoanID, cycle Cycle, paidAt time.Time) (LoanRepayment, error) {
	for attempt := 1; ; attempt++ {
		var (
			out       LoanRepayment
			before    Status
			committed *LoanApplication
		)
		err := p.store.WithTx(ctx, func(s Store) error {
			cur, err := p.loadLoan(ctx, s, actor.TenantID, loanID)
			if err != nil {
				return err
			}
			if !cur.Status.Repayable() {
				out = skipped(cur, "loan is "+string(cur.Status))
				return nil
			}

			entries, err := s.GetSchedule(ctx, cur.ID)
			if err != nil {
				return err
			}
			idx := dueInCycle(entries, cycle)
			if idx < 0 {
				out = skipped(cur, "no pending installment due in "+cycle.Ref())
				if overdueInCycle(entries, cycle) {
					out.SkipReason = "installment due in " + cycle.Ref() + " is already overdue"
					p.log.WithFields(loanFields(cur)).WithField("cycle", cycle.Ref()).
						Warn("payroll ran after the overdue grace period, installment not collected")
				}
				return nil
			}
			inst := entries[idx]

			if err := s.ClaimInstallment(ctx, cur.ID, inst.Sequence, paidAt, inst.Amount, cycle.Ref()); err != nil {
				return err
			}
			entries[idx].Status = InstallmentPaid

			if err := s.AppendDeduction(ctx, Deduction{
				ID:             p.newID(),
				TenantID:       cur.TenantID,
				EmployeeID:     cur.EmployeeID,
				LoanID:         cur.ID,
				Sequence:       inst.Sequence,
				Cycle:          cycle.Ref(),
				Amount:         inst.Amount,
				Principal:      inst.Principal,
				Interest:       inst.Interest,
				DeductedAt:     paidAt,
				IdempotencyKey: DeductionKey(cur.ID, inst.Sequence),
			}); err != nil {
				return err
			}

			next, err := Settle(*cur, inst.Principal, entries, paidAt, true)
			if err != nil {
				return err
			}
			next.UpdatedAt = p.clock()
			next.Version = cur.Version + 1
			if err := s.UpdateLoan(ctx, next, cur.Version); err != nil {
				return err
			}

			before = cur.Status
			committed = &next
			out = LoanRepayment{
				LoanID:             cur.ID,
				Sequence:           inst.Sequence,
				Amount:             inst.Amount,
				Principal:          inst.Principal,
				Interest:           inst.Interest,
				OutstandingBalance: next.OutstandingBalance,
				Status:             next.Status,
			}
			return nil
		})

		switch {
		case errors.Is(err, ErrInstallmentNotPending), errors.Is(err, ErrDuplicateIdempotencyKey):
			p.log.WithFields(logrus.Fields{
				"tenant_id": actor.TenantID,
				"loan_id":   loanID,
				"cycle":     cycle.Ref(),
			}).Debug("installment already collected")
			return LoanRepayment{LoanID: loanID, Skipped: true, SkipReason: "installment already collected"}, nil
		case errors.Is(err, ErrConcurrentModification) && attempt < maxConflictRetries:
			continue
		case err != nil:
			return LoanRepayment{}, err
		}

		if committed != nil {
			p.afterRepayment(ctx, actor, committed, before, out, cycle)
		}
		return out, nil
	}
}

func (p *RepaymentProcessor) afterRepayment(ctx context.Context, actor Actor, l *LoanApplication, before Status, r LoanRepayment, cycle Cycle) {
	fields := loanFields(l)
	fields["cycle"] = cycle.Ref()
	fields["sequence"] = r.Sequence
	fields["balance"] = l.OutstandingBalance.String()
	p.log.WithFields(fields).Info("installment recovered")

	p.record(ctx, actor, AuditLoanRepaid, l, fmt.Sprintf("installment %d of %s recovered in cycle %s, balance %s",
		r.Sequence, r.Amount.StringFixed(MinorUnitPlaces), cycle.Ref(), l.OutstandingBalance.StringFixed(MinorUnitPlaces)))
	if l.Status == StatusClosed && before != StatusClosed {
		p.closed(ctx, actor, l)
	}
}

func (p *RepaymentProcessor) closed(ctx context.Context, actor Actor, l *LoanApplication) {
	p.log.WithFields(loanFields(l)).Info("loan closed")
	p.record(ctx, actor, AuditLoanClosed, l, "all installments settled")
	p.notifyEmployee(ctx, l, "Loan closed", fmt.Sprintf("Loan %s is fully repaid and closed.", l.ID))
}

func skipped(l *LoanApplication, reason string) LoanRepayment {
	return LoanRepayment{
		LoanID:             l.ID,
		OutstandingBalance: l.OutstandingBalance,
		Status:             l.Status,
		Skipped:            true,
		SkipReason:         reason,
	}
}

// dueInCycle returns the index of the Pending installment due in cycle, or -1.
func dueInCycle(entries []InstallmentScheduleEntry, cycle Cycle) int {
	for i, e := range entries {
		if e.Status == InstallmentPending && cycle.Contains(e.DueDate) {
			return i
		}
	}
	return -1
}

func overdueInCycle(entries []InstallmentScheduleEntry, cycle Cycle) bool {
	for _, e := range entries {
		if e.Status == InstallmentOverdue && cycle.Contains(e.DueDate) {
			return true
		}
	}
	return false
}

// AllSettled reports whether every installment is Paid or Waived.
func AllSettled(entries []InstallmentScheduleEntry) bool {
	for _, e := range entries {
		if !e.Status.Settled() {
			return false
		}
	}
	return true
}

// Settle applies a settled installment's principal to l and runs the closure
// rule against entries, which must already show that installment as settled.
// collected is true for payroll recoveries, which activate a Disbursed loan.
func Settle(l LoanApplication, principal decimal.Decimal, entries []InstallmentScheduleEntry, at time.Time, collected bool) (LoanApplication, error) {
	next := l
	next.OutstandingBalance = l.OutstandingBalance.Sub(principal)

	closing := AllSettled(entries) && !next.OutstandingBalance.IsPositive()
	if next.Status == StatusDisbursed && (collected || closing) {
		to, err := Transition(next.Status, ActionRepay)
		if err != nil {
			return l, err
		}
		next.Status = to
	}
	if closing {
		to, err := Transition(next.Status, ActionClose)
		if err != nil {
			return l, err
		}
		closedOn := Date(at)
		next.Status = to
		next.ClosureDate = &closedOn
		next.OutstandingBalance = decimal.Zero
	}
	return next, nil
}

// =============================================================================
// WAIVE
// =============================================================================

// Waive writes off a Pending or Overdue installment. The balance drops by
// its principal and the loan closes if nothing is left to collect.
func (p *RepaymentProcessor) Waive(ctx context.Context, actor Actor, loanID LoanID, sequence int, remarks string) (*LoanApplication, error) {
	if actor.Role != RoleFinance {
		return nil, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Required: RoleFinance}
	}

	for attempt := 1; ; attempt++ {
		var (
			before Status
			waived InstallmentScheduleEntry
			next   LoanApplication
		)
		err := p.store.WithTx(ctx, func(s Store) error {
			cur, err := p.loadLoan(ctx, s, actor.TenantID, loanID)
			if err != nil {
				return err
			}
			if !cur.Status.Repayable() {
				return &TransitionError{LoanID: cur.ID, From: cur.Status, Action: ActionWaive}
			}

			entries, err := s.GetSchedule(ctx, cur.ID)
			if err != nil {
				return err
			}
			idx := -1
			for i, e := range entries {
				if e.Sequence == sequence {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("%w: loan %s has no installment %d", ErrInstallmentNotFound, cur.ID, sequence)
			}
			if entries[idx].Status.Settled() {
				return fmt.Errorf("%w: installment %d is %s", ErrInstallmentSettled, sequence, entries[idx].Status)
			}

			if err := s.WaiveInstallment(ctx, cur.ID, sequence); err != nil {
				return err
			}
			entries[idx].Status = InstallmentWaived

			now := p.clock()
			settled, err := Settle(*cur, entries[idx].Principal, entries, now, false)
			if err != nil {
				return err
			}
			settled.UpdatedAt = now
			settled.Version = cur.Version + 1
			if err := s.UpdateLoan(ctx, settled, cur.Version); err != nil {
				return err
			}

			before = cur.Status
			waived = entries[idx]
			next = settled
			return nil
		})
		if errors.Is(err, ErrConcurrentModification) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		p.log.WithFields(loanFields(&next)).WithField("sequence", sequence).Info("installment waived")
		p.record(ctx, actor, AuditInstallmentWaived, &next, fmt.Sprintf("installment %d waived (principal %s): %s",
			sequence, waived.Principal.StringFixed(MinorUnitPlaces), remarks))
		if next.Status == StatusClosed && before != StatusClosed {
			p.closed(ctx, actor, &next)
		}
		return &next, nil
	}
}

// =============================================================================
// OVERDUE SWEEP & LEDGER
// =============================================================================

// OverdueCutoff returns the first day of the oldest month a sweep as of asOf
// leaves alone. A month is only swept once its grace period has passed, so
// a late payroll run for the previous cycle still finds its installment
// Pending.
func (p *RepaymentProcessor) OverdueCutoff(asOf time.Time) time.Time {
	return CycleOf(Date(asOf).AddDate(0, 0, -p.grace)).Start()
}

// SweepOverdue marks the tenant's Pending installments due before
// OverdueCutoff(asOf) as Overdue. Balances are not touched.
func (p *RepaymentProcessor) SweepOverdue(ctx context.Context, tenantID TenantID, asOf time.Time) (int, error) {
	dueBefore := p.OverdueCutoff(asOf)
	n, err := p.store.MarkOverdue(ctx, tenantID, dueBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue installments: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	p.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"due_before": dueBefore.Format("2006-01-02"),
		"count":      n,
	}).Info("installments marked overdue")
	ev := AuditEvent{
		ID:          p.newID(),
		TenantID:    tenantID,
		Actor:       System(tenantID).ID,
		Action:      AuditOverdueSweep,
		EntityType:  "tenant",
		EntityID:    string(tenantID),
		Description: fmt.Sprintf("%d installments due before %s marked overdue", n, dueBefore.Format("2006-01-02")),
		At:          p.clock(),
	}
	if err := p.audit.RecordAuditEvent(ctx, ev); err != nil {
		p.log.WithError(err).WithField("tenant_id", tenantID).Warn("audit event not recorded")
	}
	return n, nil
}

// SweepAllTenants runs SweepOverdue for every tenant that has loans.
// A failing tenant does not stop the others.
func (p *RepaymentProcessor) SweepAllTenants(ctx context.Context, asOf time.Time) (map[TenantID]int, error) {
	tenants, err := p.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	counts := make(map[TenantID]int, len(tenants))
	var errs []error
	for _, t := range tenants {
		n, err := p.SweepOverdue(ctx, t, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t, err))
			continue
		}
		counts[t] = n
	}
	return counts, errors.Join(errs...)
}

// ListDeductions returns what payroll recovered in a cycle ("2006-01").
func (p *RepaymentProcessor) ListDeductions(ctx context.Context, actor Actor, cycleRef string) ([]Deduction, error) {
	if actor.Role != RolePayroll && actor.Role != RoleFinance {
		return nil, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Required: RolePayroll}
	}
	cycle, err := ParseCycle(cycleRef)
	if err != nil {
		return nil, err
	}
	return p.store.ListDeductions(ctx, actor.TenantID, cycle.Ref())
}
