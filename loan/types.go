/*
Package loan provides the employee loan lifecycle engine.

PURPOSE:
  Owns everything that happens to an employee loan after the employee asks
  for it: eligibility checks, the multi-level approval chain, disbursal with
  an EMI amortization schedule, and repayment synchronized with payroll
  cycles until the loan closes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts rounded to the currency minor unit
  - LoanProduct: tenant-scoped product configuration (rate, caps, rules)
  - LoanApplication: the loan aggregate root, versioned for compare-and-swap
  - InstallmentScheduleEntry: one row of the amortization schedule
  - ApprovalRecord: append-only trail of approval decisions
  - Deduction: append-only record of what payroll deducted for a loan

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money is involved
  2. Type Safety: distinct ID types for tenants, employees, loans, products
  3. Ownership: only Workflow and RepaymentProcessor mutate a loan
  4. Tenancy: every record carries its TenantID and every lookup checks it

SEE ALSO:
  - status.go: Loan state machine
  - amortization.go: EMI and schedule calculation
  - store.go: Persistence interfaces
*/
package loan

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MinorUnitPlaces is the number of decimal places of the currency minor unit.
const MinorUnitPlaces int32 = 2

// RoundMoney rounds an amount to the currency minor unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// MustParseMoney parses a decimal string and panics on malformed input.
// Use it for literals only; parse untrusted input with decimal.NewFromString.
func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("loan: invalid money amount %q: %v", s, err))
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EmployeeID string
type ProductID string
type LoanID string

// =============================================================================
// ACTORS & EMPLOYEES
// =============================================================================

// Role is the organisational role an actor acts under.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
	RoleFinance  Role = "finance"
	RolePayroll  Role = "payroll" // the payroll orchestrator
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleHR, RoleFinance, RolePayroll:
		return true
	}
	return false
}

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	ID       string
	TenantID TenantID
	Role     Role
}

// System is the actor used for transitions the engine performs by itself.
func System(tenantID TenantID) Actor {
	return Actor{ID: "system", TenantID: tenantID, Role: RolePayroll}
}

type EmployeeStatus string

const (
	EmployeeActive    EmployeeStatus = "active"
	EmployeeOnNotice  EmployeeStatus = "on_notice"
	EmployeeSuspended EmployeeStatus = "suspended"
	EmployeeSeparated EmployeeStatus = "separated"
)

// Employee is the slice of employee master data the engine needs.
type Employee struct {
	ID                      EmployeeID
	TenantID                TenantID
	Name                    string
	Email                   string
	JoinDate                time.Time
	Status                  EmployeeStatus
	Grade                   string
	ManagerID               EmployeeID // direct manager, empty if none
	EstimatedTakeHomeSalary decimal.Decimal
}

// =============================================================================
// LOAN PRODUCT
// =============================================================================

// LoanProduct is a tenant-scoped loan offering.
// Once referenced by a loan it is treated as immutable.
type LoanProduct struct {
	ID              ProductID
	TenantID        TenantID
	Name            string
	InterestRate    decimal.Decimal // annual, percent
	MaxPrincipal    decimal.Decimal
	MaxTenureMonths int
	MinServiceYears decimal.Decimal
	EligibleGrades  []string // empty = all grades
	Active          bool
	CreatedAt       time.Time
}

// GradeAllowed reports whether grade may borrow under this product.
func (p LoanProduct) GradeAllowed(grade string) bool {
	if len(p.EligibleGrades) == 0 {
		return true
	}
	for _, g := range p.EligibleGrades {
		if g == grade {
			return true
		}
	}
	return false
}

// =============================================================================
// LOAN APPLICATION - The aggregate root
// =============================================================================

// LoanApplication is the loan aggregate.
//
// INVARIANTS:
//   - OutstandingBalance is authoritative only once Status >= Disbursed.
//   - SanctionedPrincipal <= product.MaxPrincipal, TenureMonths <= product.MaxTenureMonths.
//   - InterestRate is copied from the product at application time.
//   - Version increases by one on every persisted change.
type LoanApplication struct {
	ID                  LoanID
	TenantID            TenantID
	EmployeeID          EmployeeID
	ProductID           ProductID
	AppliedPrincipal    decimal.Decimal
	SanctionedPrincipal decimal.Decimal
	InterestRate        decimal.Decimal
	TenureMonths        int
	EmiAmount           decimal.Decimal
	OutstandingBalance  decimal.Decimal
	Status              Status
	DisbursalDate       *time.Time
	ClosureDate         *time.Time
	Remarks             string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Principal returns the amount the schedule is built on: the sanctioned
// principal once Finance set it, the applied principal before that.
func (l LoanApplication) Principal() decimal.Decimal {
	if l.SanctionedPrincipal.IsPositive() {
		return l.SanctionedPrincipal
	}
	return l.AppliedPrincipal
}

// =============================================================================
// INSTALLMENT SCHEDULE
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
	InstallmentWaived  InstallmentStatus = "waived"
)

// Settled reports whether the installment needs no further collection.
func (s InstallmentStatus) Settled() bool {
	return s == InstallmentPaid || s == InstallmentWaived
}

// InstallmentScheduleEntry is one persisted installment of a disbursed loan.
// Status only moves Pending->Paid, Pending->Overdue or Pending/Overdue->Waived.
type InstallmentScheduleEntry struct {
	LoanID       LoanID
	TenantID     TenantID
	Sequence     int
	DueDate      time.Time
	Principal    decimal.Decimal
	Interest     decimal.Decimal
	Amount       decimal.Decimal
	Status       InstallmentStatus
	PaidDate     *time.Time
	PaidAmount   decimal.Decimal
	PayrollCycle string // cycle reference that paid it, e.g. "2025-03"
}

// =============================================================================
// APPROVAL RECORD - Append-only
// =============================================================================

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalLevel is the position in the approval chain (1 manager, 2 HR, 3 finance).
type ApprovalLevel int

const (
	LevelManager ApprovalLevel = 1
	LevelHR      ApprovalLevel = 2
	LevelFinance ApprovalLevel = 3
)

type ApprovalRecord struct {
	ID         string
	LoanID     LoanID
	TenantID   TenantID
	ApproverID string
	Role       Role
	Level      ApprovalLevel
	Decision   Decision
	Remarks    string
	DecidedAt  time.Time
}

// =============================================================================
// DEDUCTION - What payroll recovered for an installment (append-only)
// =============================================================================

type Deduction struct {
	ID             string
	TenantID       TenantID
	EmployeeID     EmployeeID
	LoanID         LoanID
	Sequence       int
	Cycle          string
	Amount         decimal.Decimal
	Principal      decimal.Decimal
	Interest       decimal.Decimal
	DeductedAt     time.Time
	IdempotencyKey string
}

// DeductionKey is the idempotency key of the deduction for one installment.
func DeductionKey(loanID LoanID, sequence int) string {
	return string(loanID) + ":" + strconv.Itoa(sequence)
}

// =============================================================================
// AUDIT EVENT
// =============================================================================

// AuditEvent is handed to the AuditSink after a state change.
type AuditEvent struct {
	ID          string
	TenantID    TenantID
	Actor       string
	Action      string
	EntityType  string
	EntityID    string
	Description string
	At          time.Time
}

const (
	AuditLoanApplied       = "loan.applied"
	AuditLoanApproved      = "loan.approved"
	AuditLoanRejected      = "loan.rejected"
	AuditLoanDisbursed     = "loan.disbursed"
	AuditLoanRepaid        = "loan.installment_paid"
	AuditLoanClosed        = "loan.closed"
	AuditInstallmentWaived = "loan.installment_waived"
	AuditRemarksUpdated    = "loan.remarks_updated"
	AuditOverdueSweep      = "loan.overdue_sweep"
)
