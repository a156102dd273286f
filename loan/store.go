/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines what the engine needs from the outside world. The workflow and
  repayment processor receive these through their constructors, so both
  run against an in-memory store in tests and SQLite in the server.

KEY INTERFACES:
  Store:             Products, loans, schedules, approvals, deductions
  TxStore:           Store + WithTx for atomic multi-record writes
  EmployeeDirectory: Employee master data (external system)
  AuditSink:         Fire-and-forget audit trail (external system)
  Notifier:          Best-effort notifications (external system)

COMPARE-AND-SWAP:
  UpdateLoan only succeeds when the stored version equals expectedVersion.
  The stored loan then carries expectedVersion+1. Two concurrent approvals
  of the same loan both read version v; exactly one write lands.

  ClaimInstallment only succeeds when the installment is still pending.
  This is the idempotency guarantee of payroll repayment.

APPEND-ONLY:
  Approval records and deductions have no update or delete methods.

IMPLEMENTATIONS:
  - loan/store/memory.go: In-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - workflow.go, repayment.go: The only writers of loan state
*/
package loan

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Loan aggregate persistence
// =============================================================================

// ProductStore persists loan products.
type ProductStore interface {
	SaveProduct(ctx context.Context, p LoanProduct) error
	GetProduct(ctx context.Context, id ProductID) (*LoanProduct, error)
	ListProducts(ctx context.Context, tenantID TenantID) ([]LoanProduct, error)
}

// LoanFilter narrows ListLoans.
type LoanFilter struct {
	EmployeeID EmployeeID
	Statuses   []Status
}

// LoanStore persists the loan aggregate root.
type LoanStore interface {
	// CreateLoan inserts a new loan. Returns ErrDuplicateLoan if the ID exists.
	CreateLoan(ctx context.Context, l LoanApplication) error

	// GetLoan returns a loan by ID regardless of tenant; callers check tenancy.
	// Returns ErrLoanNotFound if missing.
	GetLoan(ctx context.Context, id LoanID) (*LoanApplication, error)

	// UpdateLoan writes l if the stored version equals expectedVersion and
	// stores it with version expectedVersion+1. Returns ErrConcurrentModification
	// otherwise.
	UpdateLoan(ctx context.Context, l LoanApplication, expectedVersion int64) error

	// ListLoans returns the tenant's loans, oldest first.
	ListLoans(ctx context.Context, tenantID TenantID, filter LoanFilter) ([]LoanApplication, error)

	// ListTenants returns every tenant that has at least one loan.
	ListTenants(ctx context.Context) ([]TenantID, error)
}

// ScheduleStore persists installment schedules.
type ScheduleStore interface {
	// InsertSchedule writes a complete schedule.
	InsertSchedule(ctx context.Context, entries []InstallmentScheduleEntry) error

	// GetSchedule returns a loan's installments ordered by sequence.
	GetSchedule(ctx context.Context, loanID LoanID) ([]InstallmentScheduleEntry, error)

	// ClaimInstallment atomically moves a pending installment to paid.
	// Returns ErrInstallmentNotPending if it is no longer pending.
	ClaimInstallment(ctx context.Context, loanID LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error

	// WaiveInstallment moves a pending or overdue installment to waived.
	// Returns ErrInstallmentSettled if it is paid or already waived.
	WaiveInstallment(ctx context.Context, loanID LoanID, sequence int) error

	// MarkOverdue moves the tenant's pending installments due before dueBefore
	// to overdue and returns how many changed.
	MarkOverdue(ctx context.Context, tenantID TenantID, dueBefore time.Time) (int, error)
}

// ApprovalStore is the append-only approval trail.
type ApprovalStore interface {
	AppendApproval(ctx context.Context, r ApprovalRecord) error
	ListApprovals(ctx context.Context, loanID LoanID) ([]ApprovalRecord, error)
}

// DeductionStore is the append-only payroll deduction ledger.
type DeductionStore interface {
	// AppendDeduction records a deduction. Returns ErrDuplicateIdempotencyKey
	// if the installment was already deducted.
	AppendDeduction(ctx context.Context, d Deduction) error
	ListDeductions(ctx context.Context, tenantID TenantID, cycle string) ([]Deduction, error)
}

// Store combines every persistence concern of the engine.
type Store interface {
	ProductStore
	LoanStore
	ScheduleStore
	ApprovalStore
	DeductionStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// EmployeeDirectory looks up employee master data.
// Implementations return *TenantMismatchError when the employee exists under
// another tenant and ErrEmployeeNotFound when it does not exist at all.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, tenantID TenantID, id EmployeeID) (*Employee, error)
}

// AuditSink records audit events. Failures are logged, never propagated.
type AuditSink interface {
	RecordAuditEvent(ctx context.Context, e AuditEvent) error
}

// Notifier delivers notifications. Implementations must not block the caller
// for delivery; failures are swallowed.
type Notifier interface {
	Notify(ctx context.Context, recipientEmail, subject, body string) error
}

type noopAudit struct{}

func (noopAudit) RecordAuditEvent(context.Context, AuditEvent) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, string) error { return nil }
