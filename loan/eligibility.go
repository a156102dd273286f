/*
eligibility.go - Loan eligibility rules

PURPOSE:
  Decides whether an employee may apply for a product with a given
  principal and tenure. Pure: every input, including existing obligations
  and the evaluation date, is passed in.

CHECKS (in order, the first structural failure stops evaluation):
  1. Employee status is active                  -> IneligibleEmployeeStatus
  2. Completed service years >= product minimum -> InsufficientService
  3. Grade is in the product allowlist, if any  -> GradeNotEligible
  4. 0 < principal <= max, 0 < tenure <= max    -> AmountOrTenureOutOfRange

AFFORDABILITY (only after all structural checks pass):
  - EMI > ratio * take-home                     -> EmiUnaffordable (hard failure)
  - existing EMIs + EMI > ratio * take-home     -> warning only

  The asymmetry between the two affordability rules is intentional policy
  and must not be tightened without product-owner sign-off.

SEE ALSO:
  - amortization.go: EMI preview
  - obligation.go: Existing obligations
*/
package loan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxEmiRatio is the share of take-home salary a single EMI may use.
var DefaultMaxEmiRatio = decimal.NewFromFloat(0.5)

// EligibilityPolicy holds tunable affordability thresholds.
type EligibilityPolicy struct {
	MaxEmiRatio decimal.Decimal
}

// DefaultEligibilityPolicy returns the 50% take-home policy.
func DefaultEligibilityPolicy() EligibilityPolicy {
	return EligibilityPolicy{MaxEmiRatio: DefaultMaxEmiRatio}
}

// EligibilityInput is everything the validator looks at.
type EligibilityInput struct {
	Employee       Employee
	Product        LoanProduct
	Principal      decimal.Decimal
	TenureMonths   int
	TakeHomeSalary decimal.Decimal
	ExistingEmi    decimal.Decimal // summed EMI of the employee's running loans
	AsOf           time.Time
}

// RuleViolation is one failed eligibility rule.
type RuleViolation struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// EmiPreview is shown to the applicant, also on failure paths when computable.
type EmiPreview struct {
	Principal     decimal.Decimal `json:"principal"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	Emi           decimal.Decimal `json:"emi"`
	TotalPayable  decimal.Decimal `json:"total_payable"`
	TenureMonths  int             `json:"tenure_months"`
}

// EligibilityResult is the outcome of Validate.
type EligibilityResult struct {
	Valid        bool
	Errors       []RuleViolation
	Warnings     []string
	ServiceYears decimal.Decimal
	CombinedEmi  decimal.Decimal
	Preview      *EmiPreview
}

// Err returns an *EligibilityError when the result is not valid.
func (r EligibilityResult) Err() error {
	if r.Valid {
		return nil
	}
	return &EligibilityError{Result: r}
}

// Validate evaluates the eligibility rules.
func (p EligibilityPolicy) Validate(in EligibilityInput) EligibilityResult {
	ratio := p.MaxEmiRatio
	if !ratio.IsPositive() {
		ratio = DefaultMaxEmiRatio
	}

	res := EligibilityResult{
		Errors:       []RuleViolation{},
		Warnings:     []string{},
		ServiceYears: ServiceYears(in.Employee.JoinDate, in.AsOf),
		CombinedEmi:  decimal.Zero,
	}

	if sched, err := Amortize(AmortizationInput{
		Principal:    in.Principal,
		AnnualRate:   in.Product.InterestRate,
		TenureMonths: in.TenureMonths,
		StartDate:    in.AsOf,
	}); err == nil {
		res.Preview = &EmiPreview{
			Principal:     in.Principal,
			TotalInterest: sched.TotalInterest,
			Emi:           sched.Emi,
			TotalPayable:  sched.TotalPayable,
			TenureMonths:  in.TenureMonths,
		}
	}

	if v, failed := structuralCheck(in, res.ServiceYears); failed {
		res.Errors = append(res.Errors, v)
		return res
	}

	// Structural checks passed, so the preview is always computable here.
	emi := res.Preview.Emi
	limit := RoundMoney(in.TakeHomeSalary.Mul(ratio))
	if emi.GreaterThan(limit) {
		res.Errors = append(res.Errors, RuleViolation{
			Code: CodeEmiUnaffordable,
			Message: fmt.Sprintf("EMI %s exceeds %s%% of take-home salary (%s)",
				emi.StringFixed(MinorUnitPlaces), ratio.Mul(hundred).String(), limit.StringFixed(MinorUnitPlaces)),
		})
	}

	res.CombinedEmi = in.ExistingEmi.Add(emi)
	if res.CombinedEmi.GreaterThan(limit) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"combined EMI %s including existing loans exceeds %s%% of take-home salary (%s)",
			res.CombinedEmi.StringFixed(MinorUnitPlaces), ratio.Mul(hundred).String(), limit.StringFixed(MinorUnitPlaces)))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func structuralCheck(in EligibilityInput, serviceYears decimal.Decimal) (RuleViolation, bool) {
	if in.Employee.Status != EmployeeActive {
		return RuleViolation{
			Code:    CodeIneligibleEmployeeStatus,
			Message: fmt.Sprintf("employee status %q is not active", in.Employee.Status),
		}, true
	}

	if serviceYears.LessThan(in.Product.MinServiceYears) {
		return RuleViolation{
			Code: CodeInsufficientService,
			Message: fmt.Sprintf("completed service %s years is below the required %s years",
				serviceYears.StringFixed(1), in.Product.MinServiceYears.String()),
		}, true
	}

	if !in.Product.GradeAllowed(in.Employee.Grade) {
		return RuleViolation{
			Code:    CodeGradeNotEligible,
			Message: fmt.Sprintf("grade %q is not eligible for product %s", in.Employee.Grade, in.Product.Name),
		}, true
	}

	switch {
	case !in.Principal.IsPositive() || in.Principal.GreaterThan(in.Product.MaxPrincipal):
		return RuleViolation{
			Code: CodeAmountOrTenureOutOfRange,
			Message: fmt.Sprintf("principal must be greater than 0 and at most %s",
				in.Product.MaxPrincipal.StringFixed(MinorUnitPlaces)),
		}, true
	case !in.Principal.Equal(RoundMoney(in.Principal)):
		return RuleViolation{
			Code:    CodeAmountOrTenureOutOfRange,
			Message: "principal must not be more precise than the currency minor unit",
		}, true
	case in.TenureMonths <= 0 || in.TenureMonths > in.Product.MaxTenureMonths:
		return RuleViolation{
			Code:    CodeAmountOrTenureOutOfRange,
			Message: fmt.Sprintf("tenure must be between 1 and %d months", in.Product.MaxTenureMonths),
		}, true
	}

	return RuleViolation{}, false
}
