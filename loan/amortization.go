/*
amortization.go - EMI calculation and installment schedule

PURPOSE:
  Computes the equated monthly installment (EMI) and the per-installment
  principal/interest split of a reducing-balance loan. Pure: no I/O, no
  clock, no store. Used by the eligibility preview, by the Finance
  sanction step and by disbursal.

FORMULA:
  r   = annualRate / 12 / 100
  EMI = P * r * (1+r)^n / ((1+r)^n - 1)     (r > 0)
  EMI = P / n                                 (r = 0)

ROUNDING:
  EMI and every interest component are rounded to the minor unit.
  Installment k (k < n) collects EMI; its principal is EMI - interest.
  The final installment collects whatever principal is left plus its
  interest, so principal components sum to P exactly.

EXAMPLE:
  s, err := loan.Amortize(loan.AmortizationInput{
      Principal:    decimal.NewFromInt(120000),
      AnnualRate:   decimal.NewFromInt(12),
      TenureMonths: 12,
      StartDate:    disbursedAt,
  })
  // s.Emi == 10661.85, len(s.Installments) == 12
*/
package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// AmortizationInput is the input of Amortize.
type AmortizationInput struct {
	Principal    decimal.Decimal
	AnnualRate   decimal.Decimal // percent
	TenureMonths int
	StartDate    time.Time // disbursal date; installment k is due k months later
}

// Installment is one computed row of a schedule.
type Installment struct {
	Sequence         int
	DueDate          time.Time
	Principal        decimal.Decimal
	Interest         decimal.Decimal
	Amount           decimal.Decimal
	RemainingBalance decimal.Decimal
}

// Schedule is the result of Amortize.
type Schedule struct {
	Emi           decimal.Decimal
	TotalInterest decimal.Decimal
	TotalPayable  decimal.Decimal
	Installments  []Installment
}

// Validate checks the calculator's preconditions.
func (in AmortizationInput) Validate() error {
	verr := &ValidationError{}
	if !in.Principal.IsPositive() {
		verr.Add("principal", "must be positive")
	} else if !in.Principal.Equal(RoundMoney(in.Principal)) {
		verr.Add("principal", "must not be more precise than the currency minor unit")
	}
	if in.AnnualRate.IsNegative() {
		verr.Add("interest_rate", "must not be negative")
	}
	if in.TenureMonths <= 0 {
		verr.Add("tenure_months", "must be a positive number of months")
	}
	return verr.OrNil()
}

// Emi returns the rounded equated monthly installment.
func Emi(principal, annualRate decimal.Decimal, tenureMonths int) decimal.Decimal {
	n := decimal.NewFromInt(int64(tenureMonths))
	if annualRate.IsZero() {
		return RoundMoney(principal.Div(n))
	}
	r := annualRate.Div(twelve).Div(hundred)
	factor := decimal.NewFromInt(1).Add(r).Pow(n)
	return RoundMoney(principal.Mul(r).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1))))
}

// Amortize computes the full installment schedule.
func Amortize(in AmortizationInput) (Schedule, error) {
	if err := in.Validate(); err != nil {
		return Schedule{}, err
	}

	principal := in.Principal
	emi := Emi(principal, in.AnnualRate, in.TenureMonths)
	monthlyRate := in.AnnualRate.Div(twelve).Div(hundred)

	out := Schedule{
		Emi:           emi,
		TotalInterest: decimal.Zero,
		TotalPayable:  decimal.Zero,
		Installments:  make([]Installment, 0, in.TenureMonths),
	}

	remaining := principal
	for k := 1; k <= in.TenureMonths; k++ {
		interest := RoundMoney(remaining.Mul(monthlyRate))
		principalPart := emi.Sub(interest)

		// Final installment absorbs the rounding residue. Earlier ones are
		// capped so the balance never goes negative on short tenures.
		if k == in.TenureMonths || principalPart.GreaterThan(remaining) {
			principalPart = remaining
		}
		if principalPart.IsNegative() {
			principalPart = decimal.Zero
		}
		remaining = remaining.Sub(principalPart)

		amount := principalPart.Add(interest)
		out.Installments = append(out.Installments, Installment{
			Sequence:         k,
			DueDate:          AddMonths(in.StartDate, k),
			Principal:        principalPart,
			Interest:         interest,
			Amount:           amount,
			RemainingBalance: remaining,
		})
		out.TotalInterest = out.TotalInterest.Add(interest)
		out.TotalPayable = out.TotalPayable.Add(amount)
	}

	return out, nil
}

// ScheduleEntries converts a computed schedule into persisted entries for a loan.
func ScheduleEntries(l LoanApplication, s Schedule) []InstallmentScheduleEntry {
	entries := make([]InstallmentScheduleEntry, len(s.Installments))
	for i, inst := range s.Installments {
		entries[i] = InstallmentScheduleEntry{
			LoanID:     l.ID,
			TenantID:   l.TenantID,
			Sequence:   inst.Sequence,
			DueDate:    inst.DueDate,
			Principal:  inst.Principal,
			Interest:   inst.Interest,
			Amount:     inst.Amount,
			Status:     InstallmentPending,
			PaidAmount: decimal.Zero,
		}
	}
	return entries
}
