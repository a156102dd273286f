package loan

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Obligations is an employee's running loan load: what payroll recovers each
// month and what is still owed if the employee leaves.
type Obligations struct {
	TenantID             TenantID
	EmployeeID           EmployeeID
	TotalEmi             decimal.Decimal
	Count                int
	OutstandingPrincipal decimal.Decimal
	Loans                []LoanObligation
}

// LoanObligation is one Disbursed or Active loan.
type LoanObligation struct {
	LoanID                LoanID
	Status                Status
	Emi                   decimal.Decimal
	OutstandingBalance    decimal.Decimal
	RemainingInstallments int
	NextDueDate           *time.Time
}

// ObligationAggregator sums the EMIs of an employee's running loans. Read-only.
type ObligationAggregator struct {
	core
}

func NewObligationAggregator(deps Dependencies) *ObligationAggregator {
	return &ObligationAggregator{core: newCore(deps)}
}

// GetObligations returns the obligations of an employee of the actor's tenant.
func (a *ObligationAggregator) GetObligations(ctx context.Context, actor Actor, employeeID EmployeeID) (*Obligations, error) {
	if employeeID == "" {
		return nil, NewValidationError("employee_id", "is required")
	}
	if actor.Role == RoleEmployee && EmployeeID(actor.ID) != employeeID {
		return nil, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Reason: "employees may only view their own obligations"}
	}
	if a.dir != nil {
		if _, err := a.loadEmployee(ctx, actor.TenantID, employeeID); err != nil {
			return nil, err
		}
	}
	return a.compute(ctx, a.store, actor.TenantID, employeeID)
}

func (a *ObligationAggregator) compute(ctx context.Context, s Store, tenantID TenantID, employeeID EmployeeID) (*Obligations, error) {
	loans, err := s.ListLoans(ctx, tenantID, LoanFilter{
		EmployeeID: employeeID,
		Statuses:   []Status{StatusDisbursed, StatusActive},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	out := &Obligations{
		TenantID:             tenantID,
		EmployeeID:           employeeID,
		TotalEmi:             decimal.Zero,
		OutstandingPrincipal: decimal.Zero,
		Loans:                make([]LoanObligation, 0, len(loans)),
	}
	for _, l := range loans {
		entries, err := s.GetSchedule(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule of loan %s: %w", l.ID, err)
		}

		lo := LoanObligation{
			LoanID:             l.ID,
			Status:             l.Status,
			Emi:                l.EmiAmount,
			OutstandingBalance: l.OutstandingBalance,
		}
		for _, e := range entries {
			if e.Status.Settled() {
				continue
			}
			lo.RemainingInstallments++
			if lo.NextDueDate == nil {
				due := e.DueDate
				lo.NextDueDate = &due
			}
		}

		out.TotalEmi = out.TotalEmi.Add(l.EmiAmount)
		out.OutstandingPrincipal = out.OutstandingPrincipal.Add(l.OutstandingBalance)
		out.Count++
		out.Loans = append(out.Loans, lo)
	}
	return out, nil
}
