/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the loan domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal strings with two places ("12345.60"). Requests accept
  JSON numbers or strings for amounts.

VALIDATION:
  Request types carry go-playground/validator tags checked by decodeAndValidate.
  Failures become a field-level loan.ValidationError (HTTP 400). Business
  rules (product limits, affordability) are checked by the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/product.go: ProductJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// EmployeeRequest upserts an employee master record.
type EmployeeRequest struct {
	Name                    string          `json:"name" validate:"required,max=200"`
	Email                   string          `json:"email" validate:"omitempty,email"`
	JoinDate                string          `json:"join_date" validate:"required,datetime=2006-01-02"`
	Status                  string          `json:"status" validate:"required,oneof=active on_notice suspended separated"`
	Grade                   string          `json:"grade" validate:"max=32"`
	ManagerID               string          `json:"manager_id" validate:"max=64"`
	EstimatedTakeHomeSalary decimal.Decimal `json:"estimated_take_home_salary"`
}

// ApplyLoanRequest applies for a loan, or previews eligibility.
// EmployeeID defaults to the caller.
type ApplyLoanRequest struct {
	EmployeeID   string          `json:"employee_id" validate:"max=64"`
	ProductID    string          `json:"product_id" validate:"required,max=64"`
	Principal    decimal.Decimal `json:"principal"`
	TenureMonths int             `json:"tenure_months"`
	Remarks      string          `json:"remarks" validate:"max=2000"`
}

// DecisionRequest records one approval-chain decision.
type DecisionRequest struct {
	Level               int              `json:"level" validate:"required,min=1,max=3"`
	Decision            string           `json:"decision" validate:"required,oneof=approved rejected"`
	SanctionedPrincipal *decimal.Decimal `json:"sanctioned_principal,omitempty"`
	Remarks             string           `json:"remarks" validate:"max=2000"`
}

// RemarksRequest replaces a loan's remarks.
type RemarksRequest struct {
	Remarks string `json:"remarks" validate:"max=2000"`
}

// WaiveRequest waives one installment.
type WaiveRequest struct {
	Remarks string `json:"remarks" validate:"max=2000"`
}

// RepaymentRequest processes one employee in one payroll cycle.
type RepaymentRequest struct {
	EmployeeID string `json:"employee_id" validate:"required,max=64"`
	CycleDate  string `json:"cycle_date" validate:"required,datetime=2006-01-02"`
}

// CycleRequest processes a payroll cycle. Without employee IDs every
// employee of the tenant is processed.
type CycleRequest struct {
	EmployeeIDs []string `json:"employee_ids" validate:"omitempty,dive,required,max=64"`
	CycleDate   string   `json:"cycle_date" validate:"required,datetime=2006-01-02"`
}

// SweepRequest runs the overdue sweep. AsOf defaults to today.
type SweepRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID                      string `json:"id"`
	TenantID                string `json:"tenant_id"`
	Name                    string `json:"name"`
	Email                   string `json:"email,omitempty"`
	JoinDate                string `json:"join_date"`
	Status                  string `json:"status"`
	Grade                   string `json:"grade,omitempty"`
	ManagerID               string `json:"manager_id,omitempty"`
	EstimatedTakeHomeSalary string `json:"estimated_take_home_salary"`
}

// LoanDTO represents a loan application.
type LoanDTO struct {
	ID                  string  `json:"id"`
	TenantID            string  `json:"tenant_id"`
	EmployeeID          string  `json:"employee_id"`
	ProductID           string  `json:"product_id"`
	AppliedPrincipal    string  `json:"applied_principal"`
	SanctionedPrincipal string  `json:"sanctioned_principal,omitempty"`
	InterestRate        string  `json:"interest_rate"`
	TenureMonths        int     `json:"tenure_months"`
	EmiAmount           string  `json:"emi_amount"`
	OutstandingBalance  string  `json:"outstanding_balance"`
	Status              string  `json:"status"`
	DisbursalDate       *string `json:"disbursal_date,omitempty"`
	ClosureDate         *string `json:"closure_date,omitempty"`
	Remarks             string  `json:"remarks,omitempty"`
	Version             int64   `json:"version"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

// InstallmentDTO represents one schedule entry.
type InstallmentDTO struct {
	Sequence     int     `json:"sequence"`
	DueDate      string  `json:"due_date"`
	Principal    string  `json:"principal"`
	Interest     string  `json:"interest"`
	Amount       string  `json:"amount"`
	Status       string  `json:"status"`
	PaidDate     *string `json:"paid_date,omitempty"`
	PaidAmount   string  `json:"paid_amount,omitempty"`
	PayrollCycle string  `json:"payroll_cycle,omitempty"`
}

// DisbursementDTO is a disbursed loan with its schedule.
type DisbursementDTO struct {
	Loan     LoanDTO          `json:"loan"`
	Schedule []InstallmentDTO `json:"schedule"`
}

// ApprovalDTO represents one approval decision.
type ApprovalDTO struct {
	ID         string `json:"id"`
	ApproverID string `json:"approver_id"`
	Role       string `json:"role"`
	Level      int    `json:"level"`
	Decision   string `json:"decision"`
	Remarks    string `json:"remarks,omitempty"`
	DecidedAt  string `json:"decided_at"`
}

// EmiPreviewDTO is the amortization preview of an application.
type EmiPreviewDTO struct {
	Principal     string `json:"principal"`
	TotalInterest string `json:"total_interest"`
	Emi           string `json:"emi"`
	TotalPayable  string `json:"total_payable"`
	TenureMonths  int    `json:"tenure_months"`
}

// EligibilityDTO is the validator outcome.
type EligibilityDTO struct {
	Valid        bool                 `json:"valid"`
	Errors       []loan.RuleViolation `json:"errors"`
	Warnings     []string             `json:"warnings"`
	ServiceYears string               `json:"service_years"`
	CombinedEmi  string               `json:"combined_emi"`
	Preview      *EmiPreviewDTO       `json:"preview,omitempty"`
}

// ApplyResponse is a created loan with its eligibility outcome.
type ApplyResponse struct {
	Loan        LoanDTO        `json:"loan"`
	Eligibility EligibilityDTO `json:"eligibility"`
}

// LoanObligationDTO is one running loan of an employee.
type LoanObligationDTO struct {
	LoanID                string  `json:"loan_id"`
	Status                string  `json:"status"`
	Emi                   string  `json:"emi"`
	OutstandingBalance    string  `json:"outstanding_balance"`
	RemainingInstallments int     `json:"remaining_installments"`
	NextDueDate           *string `json:"next_due_date,omitempty"`
}

// ObligationsDTO is an employee's running loan load.
type ObligationsDTO struct {
	EmployeeID           string              `json:"employee_id"`
	TotalEmi             string              `json:"total_emi"`
	Count                int                 `json:"count"`
	OutstandingPrincipal string              `json:"outstanding_principal"`
	Loans                []LoanObligationDTO `json:"loans"`
}

// LoanRepaymentDTO is what a cycle did to one loan.
type LoanRepaymentDTO struct {
	LoanID             string `json:"loan_id"`
	Sequence           int    `json:"sequence,omitempty"`
	Amount             string `json:"amount"`
	Principal          string `json:"principal"`
	Interest           string `json:"interest"`
	OutstandingBalance string `json:"outstanding_balance"`
	Status             string `json:"status"`
	Skipped            bool   `json:"skipped"`
	SkipReason         string `json:"skip_reason,omitempty"`
}

// RepaymentDTO is the outcome of one employee's repayment.
type RepaymentDTO struct {
	EmployeeID    string             `json:"employee_id"`
	Cycle         string             `json:"cycle"`
	Loans         []LoanRepaymentDTO `json:"loans"`
	TotalDeducted string             `json:"total_deducted"`
}

// CycleResultDTO is one employee's outcome within a cycle run.
type CycleResultDTO struct {
	EmployeeID string        `json:"employee_id"`
	Repayment  *RepaymentDTO `json:"repayment,omitempty"`
	Error      string        `json:"error,omitempty"`
	Code       string        `json:"code,omitempty"`
}

// CycleDTO summarizes a payroll cycle run.
type CycleDTO struct {
	Cycle         string           `json:"cycle"`
	Processed     int              `json:"processed"`
	Failed        int              `json:"failed"`
	TotalDeducted string           `json:"total_deducted"`
	Results       []CycleResultDTO `json:"results"`
}

// DeductionDTO is one ledger entry.
type DeductionDTO struct {
	ID             string `json:"id"`
	EmployeeID     string `json:"employee_id"`
	LoanID         string `json:"loan_id"`
	Sequence       int    `json:"sequence"`
	Cycle          string `json:"cycle"`
	Amount         string `json:"amount"`
	Principal      string `json:"principal"`
	Interest       string `json:"interest"`
	DeductedAt     string `json:"deducted_at"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AuditEventDTO is one audit trail entry.
type AuditEventDTO struct {
	ID          string `json:"id"`
	Actor       string `json:"actor"`
	Action      string `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Description string `json:"description,omitempty"`
	At          string `json:"at"`
}

// SweepRunDTO is one recorded overdue sweep.
type SweepRunDTO struct {
	ID          string  `json:"id"`
	AsOf        string  `json:"as_of"`
	DueBefore   string  `json:"due_before"`
	Status      string  `json:"status"`
	Tenants     int     `json:"tenants"`
	Marked      int     `json:"marked"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(loan.MinorUnitPlaces)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func toEmployeeDTO(e loan.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:                      string(e.ID),
		TenantID:                string(e.TenantID),
		Name:                    e.Name,
		Email:                   e.Email,
		JoinDate:                e.JoinDate.Format(dateLayout),
		Status:                  string(e.Status),
		Grade:                   e.Grade,
		ManagerID:               string(e.ManagerID),
		EstimatedTakeHomeSalary: money(e.EstimatedTakeHomeSalary),
	}
}

func toLoanDTO(l loan.LoanApplication) LoanDTO {
	dto := LoanDTO{
		ID:                 string(l.ID),
		TenantID:           string(l.TenantID),
		EmployeeID:         string(l.EmployeeID),
		ProductID:          string(l.ProductID),
		AppliedPrincipal:   money(l.AppliedPrincipal),
		InterestRate:       l.InterestRate.String(),
		TenureMonths:       l.TenureMonths,
		EmiAmount:          money(l.EmiAmount),
		OutstandingBalance: money(l.OutstandingBalance),
		Status:             string(l.Status),
		DisbursalDate:      datePtr(l.DisbursalDate),
		ClosureDate:        datePtr(l.ClosureDate),
		Remarks:            l.Remarks,
		Version:            l.Version,
		CreatedAt:          timestamp(l.CreatedAt),
		UpdatedAt:          timestamp(l.UpdatedAt),
	}
	if l.SanctionedPrincipal.IsPositive() {
		dto.SanctionedPrincipal = money(l.SanctionedPrincipal)
	}
	return dto
}

func toLoanDTOs(loans []loan.LoanApplication) []LoanDTO {
	dtos := make([]LoanDTO, 0, len(loans))
	for _, l := range loans {
		dtos = append(dtos, toLoanDTO(l))
	}
	return dtos
}

func toInstallmentDTOs(entries []loan.InstallmentScheduleEntry) []InstallmentDTO {
	dtos := make([]InstallmentDTO, 0, len(entries))
	for _, e := range entries {
		dto := InstallmentDTO{
			Sequence:     e.Sequence,
			DueDate:      e.DueDate.Format(dateLayout),
			Principal:    money(e.Principal),
			Interest:     money(e.Interest),
			Amount:       money(e.Amount),
			Status:       string(e.Status),
			PaidDate:     datePtr(e.PaidDate),
			PayrollCycle: e.PayrollCycle,
		}
		if e.Status == loan.InstallmentPaid {
			dto.PaidAmount = money(e.PaidAmount)
		}
		dtos = append(dtos, dto)
	}
	return dtos
}

func toApprovalDTOs(records []loan.ApprovalRecord) []ApprovalDTO {
	dtos := make([]ApprovalDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, ApprovalDTO{
			ID:         r.ID,
			ApproverID: r.ApproverID,
			Role:       string(r.Role),
			Level:      int(r.Level),
			Decision:   string(r.Decision),
			Remarks:    r.Remarks,
			DecidedAt:  timestamp(r.DecidedAt),
		})
	}
	return dtos
}

func toEligibilityDTO(res loan.EligibilityResult) EligibilityDTO {
	dto := EligibilityDTO{
		Valid:        res.Valid,
		Errors:       res.Errors,
		Warnings:     res.Warnings,
		ServiceYears: res.ServiceYears.String(),
		CombinedEmi:  money(res.CombinedEmi),
	}
	if dto.Errors == nil {
		dto.Errors = []loan.RuleViolation{}
	}
	if dto.Warnings == nil {
		dto.Warnings = []string{}
	}
	if p := res.Preview; p != nil {
		dto.Preview = &EmiPreviewDTO{
			Principal:     money(p.Principal),
			TotalInterest: money(p.TotalInterest),
			Emi:           money(p.Emi),
			TotalPayable:  money(p.TotalPayable),
			TenureMonths:  p.TenureMonths,
		}
	}
	return dto
}

func toObligationsDTO(o *loan.Obligations) ObligationsDTO {
	dto := ObligationsDTO{
		EmployeeID:           string(o.EmployeeID),
		TotalEmi:             money(o.TotalEmi),
		Count:                o.Count,
		OutstandingPrincipal: money(o.OutstandingPrincipal),
		Loans:                make([]LoanObligationDTO, 0, len(o.Loans)),
	}
	for _, l := range o.Loans {
		dto.Loans = append(dto.Loans, LoanObligationDTO{
			LoanID:                string(l.LoanID),
			Status:                string(l.Status),
			Emi:                   money(l.Emi),
			OutstandingBalance:    money(l.OutstandingBalance),
			RemainingInstallments: l.RemainingInstallments,
			NextDueDate:           datePtr(l.NextDueDate),
		})
	}
	return dto
}

func toRepaymentDTO(s *loan.RepaymentSummary) *RepaymentDTO {
	if s == nil {
		return nil
	}
	dto := &RepaymentDTO{
		EmployeeID:    string(s.EmployeeID),
		Cycle:         s.Cycle,
		Loans:         make([]LoanRepaymentDTO, 0, len(s.Loans)),
		TotalDeducted: money(s.TotalDeducted),
	}
	for _, r := range s.Loans {
		dto.Loans = append(dto.Loans, LoanRepaymentDTO{
			LoanID:             string(r.LoanID),
			Sequence:           r.Sequence,
			Amount:             money(r.Amount),
			Principal:          money(r.Principal),
			Interest:           money(r.Interest),
			OutstandingBalance: money(r.OutstandingBalance),
			Status:             string(r.Status),
			Skipped:            r.Skipped,
			SkipReason:         r.SkipReason,
		})
	}
	return dto
}

func toCycleDTO(report *loan.CycleReport) CycleDTO {
	dto := CycleDTO{
		Cycle:         report.Cycle,
		Processed:     report.Processed,
		Failed:        report.Failed,
		TotalDeducted: money(report.TotalDeducted),
		Results:       make([]CycleResultDTO, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		r := CycleResultDTO{
			EmployeeID: string(res.EmployeeID),
			Repayment:  toRepaymentDTO(res.Summary),
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
			r.Code = string(loan.Code(res.Err))
		}
		dto.Results = append(dto.Results, r)
	}
	return dto
}

func toDeductionDTOs(ds []loan.Deduction) []DeductionDTO {
	dtos := make([]DeductionDTO, 0, len(ds))
	for _, d := range ds {
		dtos = append(dtos, DeductionDTO{
			ID:             d.ID,
			EmployeeID:     string(d.EmployeeID),
			LoanID:         string(d.LoanID),
			Sequence:       d.Sequence,
			Cycle:          d.Cycle,
			Amount:         money(d.Amount),
			Principal:      money(d.Principal),
			Interest:       money(d.Interest),
			DeductedAt:     timestamp(d.DeductedAt),
			IdempotencyKey: d.IdempotencyKey,
		})
	}
	return dtos
}

func toAuditEventDTOs(events []loan.AuditEvent) []AuditEventDTO {
	dtos := make([]AuditEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, AuditEventDTO{
			ID:          e.ID,
			Actor:       e.Actor,
			Action:      e.Action,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID,
			Description: e.Description,
			At:          timestamp(e.At),
		})
	}
	return dtos
}

func toSweepRunDTO(r sqlite.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:          r.ID,
		AsOf:        r.AsOf.Format(dateLayout),
		DueBefore:   r.DueBefore.Format(dateLayout),
		Status:      r.Status,
		Tenants:     r.Tenants,
		Marked:      r.Marked,
		Error:       r.Error,
		StartedAt:   timestamp(r.StartedAt),
		CompletedAt: timestampPtr(r.CompletedAt),
	}
}
