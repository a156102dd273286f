/*
Package factory provides JSON to Go loan product conversion.

PURPOSE:
  Converts JSON product definitions into loan.LoanProduct values. HR and
  Finance configure products in JSON (admin API, catalogue files) and the
  factory validates them and builds the proper Go structs.

JSON SCHEMA:
  {
    "id": "personal",
    "name": "Personal Loan",
    "interest_rate": "12",
    "max_principal": "500000",
    "max_tenure_months": 24,
    "min_service_years": "1",
    "eligible_grades": ["G4", "G5"],
    "active": true
  }

  Decimal fields accept JSON numbers or strings. "active" defaults to true.

CATALOGUE FILES:
  A catalogue is a JSON array of product objects. ParseCatalogue stamps every
  product with the given tenant.

USAGE:
  f := factory.NewProductFactory()

  // From JSON string
  product, err := f.ParseProduct("acme", jsonString)

  // From a preset
  product, err := f.ParseProduct("acme", factory.SalaryAdvanceJSON("advance", "Salary Advance", "100000", 12))

SEE ALSO:
  - loan/types.go: LoanProduct type definition
  - api/handlers.go: POST /products
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a loan product.
type ProductJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	InterestRate    decimal.Decimal `json:"interest_rate"` // annual, percent
	MaxPrincipal    decimal.Decimal `json:"max_principal"`
	MaxTenureMonths int             `json:"max_tenure_months"`
	MinServiceYears decimal.Decimal `json:"min_service_years"`
	EligibleGrades  []string        `json:"eligible_grades,omitempty"`
	Active          *bool           `json:"active,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// ProductFactory creates loan products from JSON.
type ProductFactory struct{}

func NewProductFactory() *ProductFactory {
	return &ProductFactory{}
}

// ParseProduct parses a JSON string into a LoanProduct of tenantID.
func (f *ProductFactory) ParseProduct(tenantID loan.TenantID, jsonStr string) (*loan.LoanProduct, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse product JSON: %w", err)
	}
	return f.FromJSON(tenantID, pj)
}

// ParseCatalogue parses a JSON array of products.
// The first invalid product aborts the parse.
func (f *ProductFactory) ParseCatalogue(tenantID loan.TenantID, data []byte) ([]loan.LoanProduct, error) {
	var pjs []ProductJSON
	if err := json.Unmarshal(data, &pjs); err != nil {
		return nil, fmt.Errorf("failed to parse product catalogue: %w", err)
	}

	products := make([]loan.LoanProduct, 0, len(pjs))
	seen := make(map[string]bool, len(pjs))
	for i, pj := range pjs {
		if seen[pj.ID] {
			return nil, fmt.Errorf("catalogue entry %d: %w", i, loan.NewValidationError("id", "duplicate product id "+pj.ID))
		}
		seen[pj.ID] = true

		p, err := f.FromJSON(tenantID, pj)
		if err != nil {
			return nil, fmt.Errorf("catalogue entry %d: %w", i, err)
		}
		products = append(products, *p)
	}
	return products, nil
}

// FromJSON validates pj and converts it to a LoanProduct.
func (f *ProductFactory) FromJSON(tenantID loan.TenantID, pj ProductJSON) (*loan.LoanProduct, error) {
	verr := &loan.ValidationError{}
	if tenantID == "" {
		verr.Add("tenant_id", "is required")
	}
	if pj.ID == "" {
		verr.Add("id", "is required")
	}
	if pj.Name == "" {
		verr.Add("name", "is required")
	}
	if pj.InterestRate.IsNegative() {
		verr.Add("interest_rate", "must not be negative")
	}
	if !pj.MaxPrincipal.IsPositive() {
		verr.Add("max_principal", "must be positive")
	}
	if !pj.MaxPrincipal.Equal(loan.RoundMoney(pj.MaxPrincipal)) {
		verr.Add("max_principal", "has more decimal places than the currency allows")
	}
	if pj.MaxTenureMonths <= 0 {
		verr.Add("max_tenure_months", "must be positive")
	}
	if pj.MinServiceYears.IsNegative() {
		verr.Add("min_service_years", "must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	active := true
	if pj.Active != nil {
		active = *pj.Active
	}

	var grades []string
	if len(pj.EligibleGrades) > 0 {
		grades = append(grades, pj.EligibleGrades...)
	}

	return &loan.LoanProduct{
		ID:              loan.ProductID(pj.ID),
		TenantID:        tenantID,
		Name:            pj.Name,
		InterestRate:    pj.InterestRate,
		MaxPrincipal:    pj.MaxPrincipal,
		MaxTenureMonths: pj.MaxTenureMonths,
		MinServiceYears: pj.MinServiceYears,
		EligibleGrades:  grades,
		Active:          active,
	}, nil
}

// ToJSON converts a LoanProduct to ProductJSON.
func (f *ProductFactory) ToJSON(p loan.LoanProduct) ProductJSON {
	active := p.Active
	return ProductJSON{
		ID:              string(p.ID),
		Name:            p.Name,
		InterestRate:    p.InterestRate,
		MaxPrincipal:    p.MaxPrincipal,
		MaxTenureMonths: p.MaxTenureMonths,
		MinServiceYears: p.MinServiceYears,
		EligibleGrades:  p.EligibleGrades,
		Active:          &active,
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// PersonalLoanJSON returns JSON for an interest-bearing personal loan.
func PersonalLoanJSON(id, name, annualRate, maxPrincipal string, maxTenureMonths int, minServiceYears string) string {
	pj := map[string]interface{}{
		"id":                id,
		"name":              name,
		"interest_rate":     annualRate,
		"max_principal":     maxPrincipal,
		"max_tenure_months": maxTenureMonths,
		"min_service_years": minServiceYears,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// SalaryAdvanceJSON returns JSON for an interest-free salary advance open
// to every employee from day one.
func SalaryAdvanceJSON(id, name, maxPrincipal string, maxTenureMonths int) string {
	pj := map[string]interface{}{
		"id":                id,
		"name":              name,
		"interest_rate":     "0",
		"max_principal":     maxPrincipal,
		"max_tenure_months": maxTenureMonths,
		"min_service_years": "0",
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// GradeRestrictedLoanJSON returns JSON for a product limited to some grades,
// e.g. a housing loan for senior staff.
func GradeRestrictedLoanJSON(id, name, annualRate, maxPrincipal string, maxTenureMonths int, minServiceYears string, grades ...string) string {
	pj := map[string]interface{}{
		"id":                id,
		"name":              name,
		"interest_rate":     annualRate,
		"max_principal":     maxPrincipal,
		"max_tenure_months": maxTenureMonths,
		"min_service_years": minServiceYears,
		"eligible_grades":   grades,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
