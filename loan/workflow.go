/*
workflow.go - Loan application and approval workflow

PURPOSE:
  Entry points that create a loan and move it through the approval chain
  up to disbursal. Every status change is a compare-and-swap on the loan's
  version, so two concurrent decisions on the same loan never both land.

FLOW:
  Apply ──▶ Decide(1, manager) ──▶ Decide(2, hr) ──▶ Decide(3, finance) ──▶ Disburse
               │                       │                   │
               └──────── reject ───────┴───────────────────┘──▶ Rejected

AUTHORIZATION:
  Apply:       the employee themself, or HR on their behalf
  Decide(1):   manager role; the employee's direct manager when one is recorded
  Decide(2):   hr role
  Decide(3):   finance role, may change the sanctioned principal
  Disburse:    finance role
  Nobody decides on their own loan.

  The state check runs before the role check: acting on a loan that is not
  at your stage is InvalidStateTransition, acting at your stage with the
  wrong role is NotAuthorized.

SIDE CHANNELS:
  Audit events and notifications are sent after the transaction commits.
  Their failures are logged and never undo the transition.

SEE ALSO:
  - status.go: Transition table
  - repayment.go: Disbursed -> Active -> Closed
*/
package loan

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Workflow owns the loan aggregate from application to disbursal.
type Workflow struct {
	core
	obligations *ObligationAggregator
}

// NewWorkflow creates a workflow. Use NewEngine to get every component.
func NewWorkflow(deps Dependencies) *Workflow {
	c := newCore(deps)
	return &Workflow{core: c, obligations: &ObligationAggregator{core: c}}
}

// =============================================================================
// APPLY
// =============================================================================

// ApplyRequest is an employee's loan request.
type ApplyRequest struct {
	EmployeeID   EmployeeID
	ProductID    ProductID
	Principal    decimal.Decimal
	TenureMonths int
	Remarks      string
}

// Validate checks that the request is well formed. Range checks against
// the product are eligibility rules, not validation.
func (r ApplyRequest) Validate() error {
	verr := &ValidationError{}
	if r.EmployeeID == "" {
		verr.Add("employee_id", "is required")
	}
	if r.ProductID == "" {
		verr.Add("product_id", "is required")
	}
	return verr.OrNil()
}

// ApplyResult is a created loan with the eligibility outcome that allowed it.
// Eligibility.Warnings may be non-empty.
type ApplyResult struct {
	Loan        LoanApplication
	Eligibility EligibilityResult
}

// CheckEligibility evaluates the eligibility rules without creating a loan.
// A failed rule is part of the result, not an error.
func (w *Workflow) CheckEligibility(ctx context.Context, actor Actor, req ApplyRequest) (EligibilityResult, error) {
	if err := req.Validate(); err != nil {
		return EligibilityResult{}, err
	}
	if actor.Role == RoleEmployee && EmployeeID(actor.ID) != req.EmployeeID {
		return EligibilityResult{}, &AuthorizationError{
			ActorID: actor.ID,
			Role:    actor.Role,
			Reason:  "employees may only check their own eligibility",
		}
	}

	in, err := w.eligibilityInput(ctx, actor.TenantID, req)
	if err != nil {
		return EligibilityResult{}, err
	}
	return w.policy.Validate(in), nil
}

// Apply creates a loan in status Applied after the eligibility rules pass.
// Rule failures are returned as *EligibilityError carrying the full result.
func (w *Workflow) Apply(ctx context.Context, actor Actor, req ApplyRequest) (*ApplyResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch {
	case actor.Role == RoleHR:
	case actor.Role == RoleEmployee && EmployeeID(actor.ID) == req.EmployeeID:
	default:
		return nil, &AuthorizationError{
			ActorID: actor.ID,
			Role:    actor.Role,
			Reason:  "only the employee or HR may apply for a loan",
		}
	}

	in, err := w.eligibilityInput(ctx, actor.TenantID, req)
	if err != nil {
		return nil, err
	}
	res := w.policy.Validate(in)
	if err := res.Err(); err != nil {
		w.log.WithFields(logrus.Fields{
			"tenant_id":   actor.TenantID,
			"employee_id": req.EmployeeID,
			"rule":        res.Errors[0].Code,
		}).Info("loan application failed eligibility")
		return nil, err
	}

	now := w.clock()
	l := LoanApplication{
		ID:                  LoanID(w.newID()),
		TenantID:            actor.TenantID,
		EmployeeID:          req.EmployeeID,
		ProductID:           req.ProductID,
		AppliedPrincipal:    req.Principal,
		SanctionedPrincipal: decimal.Zero,
		InterestRate:        in.Product.InterestRate,
		TenureMonths:        req.TenureMonths,
		EmiAmount:           res.Preview.Emi,
		OutstandingBalance:  decimal.Zero,
		Status:              StatusApplied,
		Remarks:             req.Remarks,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := w.store.CreateLoan(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	w.log.WithFields(loanFields(&l)).WithField("principal", l.AppliedPrincipal.String()).Info("loan applied")
	w.record(ctx, actor, AuditLoanApplied, &l, fmt.Sprintf("applied for %s over %d months under %s",
		l.AppliedPrincipal.StringFixed(MinorUnitPlaces), l.TenureMonths, in.Product.Name))
	if in.Employee.Email != "" {
		if err := w.notifier.Notify(ctx, in.Employee.Email, "Loan application received",
			fmt.Sprintf("Your application %s for %s is awaiting manager approval.", l.ID, l.AppliedPrincipal.StringFixed(MinorUnitPlaces))); err != nil {
			w.log.WithFields(loanFields(&l)).WithError(err).Warn("notification not sent")
		}
	}

	return &ApplyResult{Loan: l, Eligibility: res}, nil
}

func (w *Workflow) eligibilityInput(ctx context.Context, tenantID TenantID, req ApplyRequest) (EligibilityInput, error) {
	emp, err := w.loadEmployee(ctx, tenantID, req.EmployeeID)
	if err != nil {
		return EligibilityInput{}, err
	}
	product, err := w.loadProduct(ctx, w.store, tenantID, req.ProductID)
	if err != nil {
		return EligibilityInput{}, err
	}
	if !product.Active {
		return EligibilityInput{}, NewValidationError("product_id", "product is not active")
	}
	existing, err := w.obligations.compute(ctx, w.store, tenantID, req.EmployeeID)
	if err != nil {
		return EligibilityInput{}, err
	}

	return EligibilityInput{
		Employee:       *emp,
		Product:        *product,
		Principal:      req.Principal,
		TenureMonths:   req.TenureMonths,
		TakeHomeSalary: emp.EstimatedTakeHomeSalary,
		ExistingEmi:    existing.TotalEmi,
		AsOf:           w.clock(),
	}, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// DecideRequest is one approval-chain decision.
type DecideRequest struct {
	Level    ApprovalLevel
	Decision Decision

	// SanctionedPrincipal overrides the applied principal. Finance level only.
	SanctionedPrincipal *decimal.Decimal
	Remarks             string
}

func (r DecideRequest) Validate() error {
	verr := &ValidationError{}
	if _, ok := StageFor(r.Level); !ok {
		verr.Add("level", "must be 1, 2 or 3")
	}
	if !r.Decision.Valid() {
		verr.Add("decision", "must be approved or rejected")
	}
	if r.SanctionedPrincipal != nil {
		switch {
		case r.Level != LevelFinance:
			verr.Add("sanctioned_principal", "may only be set at the finance level")
		case r.Decision != DecisionApproved:
			verr.Add("sanctioned_principal", "may only be set when approving")
		case !r.SanctionedPrincipal.IsPositive():
			verr.Add("sanctioned_principal", "must be positive")
		}
	}
	return verr.OrNil()
}

// Decide records an approval-chain decision and advances or rejects the loan.
func (w *Workflow) Decide(ctx context.Context, actor Actor, loanID LoanID, req DecideRequest) (*LoanApplication, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	stage, _ := StageFor(req.Level)
	action := req.Decision.Action()

	cur, err := w.loadLoan(ctx, w.store, actor.TenantID, loanID)
	if err != nil {
		return nil, err
	}
	if cur.Status != stage.From {
		return nil, &TransitionError{LoanID: cur.ID, From: cur.Status, Action: action}
	}
	if err := w.authorizeDecision(ctx, actor, stage, cur); err != nil {
		return nil, err
	}

	to, err := Transition(cur.Status, action)
	if err != nil {
		return nil, err
	}
	now := w.clock()
	next := *cur
	next.Status = to
	next.UpdatedAt = now
	next.Version = cur.Version + 1
	if stage.Level == LevelFinance && req.Decision == DecisionApproved {
		if err := w.sanction(ctx, &next, req.SanctionedPrincipal); err != nil {
			return nil, err
		}
	}

	rec := ApprovalRecord{
		ID:         w.newID(),
		LoanID:     cur.ID,
		TenantID:   cur.TenantID,
		ApproverID: actor.ID,
		Role:       actor.Role,
		Level:      stage.Level,
		Decision:   req.Decision,
		Remarks:    req.Remarks,
		DecidedAt:  now,
	}
	err = w.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateLoan(ctx, next, cur.Version); err != nil {
			return err
		}
		return s.AppendApproval(ctx, rec)
	})
	if errors.Is(err, ErrConcurrentModification) {
		w.log.WithFields(loanFields(cur)).WithField("level", stage.Level).Info("decision lost to a concurrent update")
		return nil, &TransitionError{LoanID: cur.ID, From: w.latestStatus(ctx, cur.ID, cur.Status), Action: action}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}

	fields := loanFields(&next)
	fields["level"] = stage.Level
	fields["status"] = next.Status
	w.log.WithFields(fields).Info("loan decision recorded")

	if req.Decision == DecisionRejected {
		w.record(ctx, actor, AuditLoanRejected, &next, fmt.Sprintf("rejected at level %d: %s", stage.Level, req.Remarks))
		w.notifyEmployee(ctx, &next, "Loan application rejected",
			fmt.Sprintf("Your loan application %s was rejected. %s", next.ID, req.Remarks))
	} else {
		w.record(ctx, actor, AuditLoanApproved, &next, fmt.Sprintf("approved at level %d, now %s", stage.Level, next.Status))
		w.notifyEmployee(ctx, &next, "Loan application approved",
			fmt.Sprintf("Your loan application %s moved to %s.", next.ID, next.Status))
	}
	return &next, nil
}

func (w *Workflow) authorizeDecision(ctx context.Context, actor Actor, stage Stage, l *LoanApplication) error {
	if actor.Role != stage.Role {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Required: stage.Role}
	}
	if EmployeeID(actor.ID) == l.EmployeeID {
		return &AuthorizationError{
			ActorID:  actor.ID,
			Role:     actor.Role,
			Required: stage.Role,
			Reason:   "approvers cannot decide on their own loan",
		}
	}
	if stage.Level != LevelManager {
		return nil
	}

	emp, err := w.loadEmployee(ctx, l.TenantID, l.EmployeeID)
	if err != nil {
		return err
	}
	if emp.ManagerID != "" && EmployeeID(actor.ID) != emp.ManagerID {
		return &AuthorizationError{
			ActorID:  actor.ID,
			Role:     actor.Role,
			Required: stage.Role,
			Reason:   "only the employee's direct manager may decide at level 1",
		}
	}
	return nil
}

// sanction fixes the principal Finance approves and recomputes the EMI.
func (w *Workflow) sanction(ctx context.Context, l *LoanApplication, requested *decimal.Decimal) error {
	principal := l.AppliedPrincipal
	if requested != nil {
		principal = *requested
		product, err := w.loadProduct(ctx, w.store, l.TenantID, l.ProductID)
		if err != nil {
			return err
		}
		if principal.GreaterThan(product.MaxPrincipal) {
			return EligibilityResult{Errors: []RuleViolation{{
				Code: CodeAmountOrTenureOutOfRange,
				Message: fmt.Sprintf("sanctioned principal %s exceeds the product maximum %s",
					principal.StringFixed(MinorUnitPlaces), product.MaxPrincipal.StringFixed(MinorUnitPlaces)),
			}}}.Err()
		}
	}

	sched, err := Amortize(AmortizationInput{
		Principal:    principal,
		AnnualRate:   l.InterestRate,
		TenureMonths: l.TenureMonths,
		StartDate:    w.clock(),
	})
	if err != nil {
		return err
	}
	l.SanctionedPrincipal = principal
	l.EmiAmount = sched.Emi
	return nil
}

// =============================================================================
// DISBURSE
// =============================================================================

// Disburse pays out a sanctioned loan. The status change and the full
// installment schedule are written in one transaction.
func (w *Workflow) Disburse(ctx context.Context, actor Actor, loanID LoanID) (*LoanApplication, []InstallmentScheduleEntry, error) {
	cur, err := w.loadLoan(ctx, w.store, actor.TenantID, loanID)
	if err != nil {
		return nil, nil, err
	}
	if !CanTransition(cur.Status, ActionDisburse) {
		return nil, nil, &TransitionError{LoanID: cur.ID, From: cur.Status, Action: ActionDisburse}
	}
	if actor.Role != RoleFinance {
		return nil, nil, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Required: RoleFinance}
	}
	if EmployeeID(actor.ID) == cur.EmployeeID {
		return nil, nil, &AuthorizationError{
			ActorID:  actor.ID,
			Role:     actor.Role,
			Required: RoleFinance,
			Reason:   "finance cannot disburse their own loan",
		}
	}

	now := w.clock()
	disbursedOn := Date(now)
	principal := cur.Principal()
	sched, err := Amortize(AmortizationInput{
		Principal:    principal,
		AnnualRate:   cur.InterestRate,
		TenureMonths: cur.TenureMonths,
		StartDate:    disbursedOn,
	})
	if err != nil {
		return nil, nil, err
	}

	to, err := Transition(cur.Status, ActionDisburse)
	if err != nil {
		return nil, nil, err
	}
	next := *cur
	next.Status = to
	next.SanctionedPrincipal = principal
	next.EmiAmount = sched.Emi
	next.OutstandingBalance = principal
	next.DisbursalDate = &disbursedOn
	next.UpdatedAt = now
	next.Version = cur.Version + 1
	entries := ScheduleEntries(next, sched)

	err = w.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateLoan(ctx, next, cur.Version); err != nil {
			return err
		}
		return s.InsertSchedule(ctx, entries)
	})
	if errors.Is(err, ErrConcurrentModification) {
		return nil, nil, &TransitionError{LoanID: cur.ID, From: w.latestStatus(ctx, cur.ID, cur.Status), Action: ActionDisburse}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to disburse loan: %w", err)
	}

	w.log.WithFields(loanFields(&next)).WithFields(logrus.Fields{
		"principal":    principal.String(),
		"emi":          sched.Emi.String(),
		"installments": len(entries),
	}).Info("loan disbursed")
	w.record(ctx, actor, AuditLoanDisbursed, &next, fmt.Sprintf("disbursed %s, EMI %s over %d months",
		principal.StringFixed(MinorUnitPlaces), sched.Emi.StringFixed(MinorUnitPlaces), next.TenureMonths))
	w.notifyEmployee(ctx, &next, "Loan disbursed",
		fmt.Sprintf("Loan %s of %s has been disbursed. Your monthly installment is %s, first due %s.",
			next.ID, principal.StringFixed(MinorUnitPlaces), sched.Emi.StringFixed(MinorUnitPlaces),
			entries[0].DueDate.Format("2006-01-02")))

	return &next, entries, nil
}

// =============================================================================
// QUERIES & REMARKS
// =============================================================================

// GetLoan returns a loan of the actor's tenant. Employees only see their own.
func (w *Workflow) GetLoan(ctx context.Context, actor Actor, loanID LoanID) (*LoanApplication, error) {
	l, err := w.loadLoan(ctx, w.store, actor.TenantID, loanID)
	if err != nil {
		return nil, err
	}
	if err := authorizeReader(actor, l); err != nil {
		return nil, err
	}
	return l, nil
}

// GetSchedule returns a loan's installments. Empty before disbursal.
func (w *Workflow) GetSchedule(ctx context.Context, actor Actor, loanID LoanID) ([]InstallmentScheduleEntry, error) {
	l, err := w.GetLoan(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}
	entries, err := w.store.GetSchedule(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	if entries == nil {
		entries = []InstallmentScheduleEntry{}
	}
	return entries, nil
}

// ListApprovals returns a loan's approval trail in decision order.
func (w *Workflow) ListApprovals(ctx context.Context, actor Actor, loanID LoanID) ([]ApprovalRecord, error) {
	l, err := w.GetLoan(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}
	return w.store.ListApprovals(ctx, l.ID)
}

// ListLoans returns the tenant's loans. Employees are restricted to their own.
func (w *Workflow) ListLoans(ctx context.Context, actor Actor, filter LoanFilter) ([]LoanApplication, error) {
	if actor.Role == RoleEmployee {
		filter.EmployeeID = EmployeeID(actor.ID)
	}
	for _, s := range filter.Statuses {
		if !s.Valid() {
			return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", s))
		}
	}
	return w.store.ListLoans(ctx, actor.TenantID, filter)
}

// UpdateRemarks replaces a loan's free-text remarks. Allowed in every status,
// including Closed and Rejected.
func (w *Workflow) UpdateRemarks(ctx context.Context, actor Actor, loanID LoanID, remarks string) (*LoanApplication, error) {
	for attempt := 1; ; attempt++ {
		cur, err := w.loadLoan(ctx, w.store, actor.TenantID, loanID)
		if err != nil {
			return nil, err
		}
		switch {
		case actor.Role == RoleHR, actor.Role == RoleFinance:
		case actor.Role == RoleEmployee && EmployeeID(actor.ID) == cur.EmployeeID:
		default:
			return nil, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Reason: "only the borrower, HR or finance may edit remarks"}
		}

		next := *cur
		next.Remarks = remarks
		next.UpdatedAt = w.clock()
		next.Version = cur.Version + 1
		err = w.store.UpdateLoan(ctx, next, cur.Version)
		if errors.Is(err, ErrConcurrentModification) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}

		w.record(ctx, actor, AuditRemarksUpdated, &next, "remarks updated")
		return &next, nil
	}
}

func authorizeReader(actor Actor, l *LoanApplication) error {
	if actor.Role == RoleEmployee && EmployeeID(actor.ID) != l.EmployeeID {
		return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Reason: "employees may only view their own loans"}
	}
	return nil
}
