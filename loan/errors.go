/*
errors.go - Error taxonomy of the loan engine

PURPOSE:
  All error types in one place. Business-rule and validation failures are
  returned as structured values the caller can inspect with errors.Is and
  errors.As; only infrastructure failures are opaque wrapped errors.

ERROR CATEGORIES:
  1. Validation     - malformed or out-of-range input, field-level detail
  2. Eligibility    - IneligibleEmployeeStatus, InsufficientService,
                      GradeNotEligible, AmountOrTenureOutOfRange, EmiUnaffordable
  3. Workflow       - InvalidStateTransition (conflict), NotAuthorized
  4. Tenancy        - TenantMismatch (integration error, logged at error level)
  5. Store          - not found, concurrent modification, duplicates

USAGE:
  loan, err := wf.Decide(ctx, actor, req)
  switch {
  case errors.Is(err, loan.ErrInvalidStateTransition):
      // refresh and retry
  case errors.Is(err, loan.ErrNotAuthorized):
      // 403
  }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package loan

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR CODES
// =============================================================================

type ErrorCode string

const (
	CodeValidation               ErrorCode = "validation_error"
	CodeIneligibleEmployeeStatus ErrorCode = "ineligible_employee_status"
	CodeInsufficientService      ErrorCode = "insufficient_service"
	CodeGradeNotEligible         ErrorCode = "grade_not_eligible"
	CodeAmountOrTenureOutOfRange ErrorCode = "amount_or_tenure_out_of_range"
	CodeEmiUnaffordable          ErrorCode = "emi_unaffordable"
	CodeInvalidStateTransition   ErrorCode = "invalid_state_transition"
	CodeNotAuthorized            ErrorCode = "not_authorized"
	CodeTenantMismatch           ErrorCode = "tenant_mismatch"
	CodeNotFound                 ErrorCode = "not_found"
	CodeInternal                 ErrorCode = "internal_error"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation               = errors.New("validation error")
	ErrIneligibleEmployeeStatus = errors.New("employee status is not eligible for a loan")
	ErrInsufficientService      = errors.New("insufficient completed service")
	ErrGradeNotEligible         = errors.New("employee grade is not eligible for this product")
	ErrAmountOrTenureOutOfRange = errors.New("amount or tenure out of range")
	ErrEmiUnaffordable          = errors.New("emi exceeds affordable share of take-home salary")
	ErrInvalidStateTransition   = errors.New("invalid state transition")
	ErrNotAuthorized            = errors.New("not authorized")
	ErrTenantMismatch           = errors.New("tenant mismatch")

	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("loan product not found")

	// ErrEmployeeNotFound is returned by EmployeeDirectory implementations.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrInstallmentNotFound is returned when a loan has no such sequence number.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrInstallmentNotPending is returned when claiming an installment that
	// another payroll run already settled. Expected on retries.
	ErrInstallmentNotPending = errors.New("installment is not pending")

	// ErrInstallmentSettled is returned when waiving a paid or waived installment.
	ErrInstallmentSettled = errors.New("installment already settled")

	// ErrConcurrentModification is returned when a compare-and-swap on a loan
	// finds a different version than the one read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a deduction for the same
	// installment was already recorded.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateLoan is returned when creating a loan whose ID exists.
	ErrDuplicateLoan = errors.New("loan already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed, so callers can build the error
// incrementally and return it unconditionally.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EligibilityError carries the full validator result of a rejected application.
type EligibilityError struct {
	Result EligibilityResult
}

func (e *EligibilityError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, v := range e.Result.Errors {
		msgs = append(msgs, v.Message)
	}
	return "loan application not eligible: " + strings.Join(msgs, "; ")
}

// Unwrap exposes every violated rule so errors.Is matches any of them.
func (e *EligibilityError) Unwrap() []error {
	errs := make([]error, 0, len(e.Result.Errors))
	for _, v := range e.Result.Errors {
		if s := sentinelFor(v.Code); s != nil {
			errs = append(errs, s)
		}
	}
	return errs
}

// TransitionError is returned when an action is illegal in the loan's
// current status.
type TransitionError struct {
	LoanID LoanID
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	if e.LoanID != "" {
		return fmt.Sprintf("invalid state transition: cannot %s loan %s in status %s", e.Action, e.LoanID, e.From)
	}
	return fmt.Sprintf("invalid state transition: cannot %s in status %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// AuthorizationError is returned when the actor's role or identity does not
// match what the action requires.
type AuthorizationError struct {
	ActorID  string
	Role     Role
	Required Role
	Reason   string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("not authorized: %s", e.Reason)
	}
	return fmt.Sprintf("not authorized: actor %s has role %s, %s required", e.ActorID, e.Role, e.Required)
}

func (e *AuthorizationError) Unwrap() error { return ErrNotAuthorized }

// TenantMismatchError is returned when a record belongs to a different
// tenant than the caller. Correct callers never trigger it.
type TenantMismatchError struct {
	Entity   string
	EntityID string
	Expected TenantID
	Actual   TenantID
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("tenant mismatch: %s %s belongs to tenant %s, not %s",
		e.Entity, e.EntityID, e.Actual, e.Expected)
}

func (e *TenantMismatchError) Unwrap() error { return ErrTenantMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func sentinelFor(code ErrorCode) error {
	switch code {
	case CodeIneligibleEmployeeStatus:
		return ErrIneligibleEmployeeStatus
	case CodeInsufficientService:
		return ErrInsufficientService
	case CodeGradeNotEligible:
		return ErrGradeNotEligible
	case CodeAmountOrTenureOutOfRange:
		return ErrAmountOrTenureOutOfRange
	case CodeEmiUnaffordable:
		return ErrEmiUnaffordable
	}
	return nil
}

// Code classifies err into the engine's error taxonomy.
func Code(err error) ErrorCode {
	var elig *EligibilityError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &elig) && len(elig.Result.Errors) > 0:
		return elig.Result.Errors[0].Code
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrIneligibleEmployeeStatus):
		return CodeIneligibleEmployeeStatus
	case errors.Is(err, ErrInsufficientService):
		return CodeInsufficientService
	case errors.Is(err, ErrGradeNotEligible):
		return CodeGradeNotEligible
	case errors.Is(err, ErrAmountOrTenureOutOfRange):
		return CodeAmountOrTenureOutOfRange
	case errors.Is(err, ErrEmiUnaffordable):
		return CodeEmiUnaffordable
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrInstallmentSettled):
		return CodeInvalidStateTransition
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrTenantMismatch):
		return CodeTenantMismatch
	case IsNotFound(err):
		return CodeNotFound
	}
	return CodeInternal
}

// IsClientError returns true if the error is due to input the caller can fix.
func IsClientError(err error) bool {
	switch Code(err) {
	case CodeValidation, CodeIneligibleEmployeeStatus, CodeInsufficientService,
		CodeGradeNotEligible, CodeAmountOrTenureOutOfRange, CodeEmiUnaffordable:
		return true
	}
	return false
}

// IsConflict returns true if the caller should refresh state and retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrInstallmentSettled)
}

// IsRetryable returns true if the error might succeed on an immediate retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrInstallmentNotFound)
}
