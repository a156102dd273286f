package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// PRODUCT STORE
// =============================================================================

// SaveProduct inserts or replaces a loan product.
func (s *Store) SaveProduct(ctx context.Context, p loan.LoanProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProduct(ctx, s.db, p)
}

func (s *Store) saveProduct(ctx context.Context, q querier, p loan.LoanProduct) error {
	grades := p.EligibleGrades
	if grades == nil {
		grades = []string{}
	}
	gradesJSON, err := json.Marshal(grades)
	if err != nil {
		return fmt.Errorf("failed to encode eligible grades: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO loan_products (id, tenant_id, name, interest_rate, max_principal,
			max_tenure_months, min_service_years, eligible_grades_json, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			interest_rate = excluded.interest_rate,
			max_principal = excluded.max_principal,
			max_tenure_months = excluded.max_tenure_months,
			min_service_years = excluded.min_service_years,
			eligible_grades_json = excluded.eligible_grades_json,
			active = excluded.active
	`

	_, err = q.ExecContext(ctx, query,
		p.ID, p.TenantID, p.Name,
		p.InterestRate.String(), p.MaxPrincipal.String(),
		p.MaxTenureMonths, p.MinServiceYears.String(),
		string(gradesJSON), p.Active, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// GetProduct returns a product by ID.
func (s *Store) GetProduct(ctx context.Context, id loan.ProductID) (*loan.LoanProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProduct(ctx, s.db, id)
}

const productColumns = `id, tenant_id, name, interest_rate, max_principal,
	max_tenure_months, min_service_years, eligible_grades_json, active, created_at`

func (s *Store) getProduct(ctx context.Context, q querier, id loan.ProductID) (*loan.LoanProduct, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM loan_products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loan.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns the tenant's products ordered by ID.
func (s *Store) ListProducts(ctx context.Context, tenantID loan.TenantID) ([]loan.LoanProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProducts(ctx, s.db, tenantID)
}

func (s *Store) listProducts(ctx context.Context, q querier, tenantID loan.TenantID) ([]loan.LoanProduct, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+productColumns+` FROM loan_products WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []loan.LoanProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(sc scanner) (loan.LoanProduct, error) {
	var (
		p          loan.LoanProduct
		gradesJSON string
		createdAt  string
	)
	err := sc.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.InterestRate, &p.MaxPrincipal,
		&p.MaxTenureMonths, &p.MinServiceYears, &gradesJSON, &p.Active, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan product: %w", err)
	}
	if gradesJSON != "" {
		if err := json.Unmarshal([]byte(gradesJSON), &p.EligibleGrades); err != nil {
			return p, fmt.Errorf("failed to decode eligible grades of %s: %w", p.ID, err)
		}
	}
	if len(p.EligibleGrades) == 0 {
		p.EligibleGrades = nil
	}
	var cols timeColumns
	p.CreatedAt = cols.timestamp("created_at", createdAt)
	if cols.err != nil {
		return p, fmt.Errorf("failed to decode product %s: %w", p.ID, cols.err)
	}
	return p, nil
}

// =============================================================================
// LOAN STORE
// =============================================================================

// CreateLoan inserts a new loan.
func (s *Store) CreateLoan(ctx context.Context, l loan.LoanApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLoan(ctx, s.db, l)
}

func (s *Store) createLoan(ctx context.Context, q querier, l loan.LoanApplication) error {
	query := `
		INSERT INTO loans (id, tenant_id, employee_id, product_id, applied_principal,
			sanctioned_principal, interest_rate, tenure_months, emi_amount,
			outstanding_balance, status, disbursal_date, closure_date, remarks,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		l.ID, l.TenantID, l.EmployeeID, l.ProductID,
		l.AppliedPrincipal.String(), l.SanctionedPrincipal.String(),
		l.InterestRate.String(), l.TenureMonths, l.EmiAmount.String(),
		l.OutstandingBalance.String(), l.Status,
		nullDate(l.DisbursalDate), nullDate(l.ClosureDate), nullString(l.Remarks),
		l.Version, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loan.ErrDuplicateLoan
		}
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan returns a loan by ID regardless of tenant.
func (s *Store) GetLoan(ctx context.Context, id loan.LoanID) (*loan.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLoan(ctx, s.db, id)
}

const loanColumns = `id, tenant_id, employee_id, product_id, applied_principal,
	sanctioned_principal, interest_rate, tenure_months, emi_amount,
	outstanding_balance, status, disbursal_date, closure_date, remarks,
	version, created_at, updated_at`

func (s *Store) getLoan(ctx context.Context, q querier, id loan.LoanID) (*loan.LoanApplication, error) {
	row := q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLoan writes l when the stored version still equals expectedVersion.
func (s *Store) UpdateLoan(ctx context.Context, l loan.LoanApplication, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLoan(ctx, s.db, l, expectedVersion)
}

func (s *Store) updateLoan(ctx context.Context, q querier, l loan.LoanApplication, expectedVersion int64) error {
	query := `
		UPDATE loans SET
			sanctioned_principal = ?,
			tenure_months = ?,
			emi_amount = ?,
			outstanding_balance = ?,
			status = ?,
			disbursal_date = ?,
			closure_date = ?,
			remarks = ?,
			version = ?,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := q.ExecContext(ctx, query,
		l.SanctionedPrincipal.String(), l.TenureMonths, l.EmiAmount.String(),
		l.OutstandingBalance.String(), l.Status,
		nullDate(l.DisbursalDate), nullDate(l.ClosureDate), nullString(l.Remarks),
		expectedVersion+1, formatTime(l.UpdatedAt),
		l.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM loans WHERE id = ?", l.ID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check loan: %w", err)
	}
	if count == 0 {
		return loan.ErrLoanNotFound
	}
	return loan.ErrConcurrentModification
}

// ListLoans returns the tenant's loans in creation order.
func (s *Store) ListLoans(ctx context.Context, tenantID loan.TenantID, filter loan.LoanFilter) ([]loan.LoanApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLoans(ctx, s.db, tenantID, filter)
}

func (s *Store) listLoans(ctx context.Context, q querier, tenantID loan.TenantID, filter loan.LoanFilter) ([]loan.LoanApplication, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE tenant_id = ?`
	args := []any{tenantID}

	if filter.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, filter.EmployeeID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(filter.Statuses)-1) + `)`
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY rowid`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []loan.LoanApplication
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// ListTenants returns every tenant with at least one loan.
func (s *Store) ListTenants(ctx context.Context) ([]loan.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTenants(ctx, s.db)
}

func (s *Store) listTenants(ctx context.Context, q querier) ([]loan.TenantID, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM loans ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []loan.TenantID
	for rows.Next() {
		var t loan.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func scanLoan(sc scanner) (loan.LoanApplication, error) {
	var (
		l                          loan.LoanApplication
		disbursalDate, closureDate sql.NullString
		remarks                    sql.NullString
		createdAt, updatedAt       string
	)
	err := sc.Scan(
		&l.ID, &l.TenantID, &l.EmployeeID, &l.ProductID, &l.AppliedPrincipal,
		&l.SanctionedPrincipal, &l.InterestRate, &l.TenureMonths, &l.EmiAmount,
		&l.OutstandingBalance, &l.Status, &disbursalDate, &closureDate, &remarks,
		&l.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan loan: %w", err)
	}

	var cols timeColumns
	l.DisbursalDate = cols.optionalDate("disbursal_date", disbursalDate)
	l.ClosureDate = cols.optionalDate("closure_date", closureDate)
	l.Remarks = remarks.String
	l.CreatedAt = cols.timestamp("created_at", createdAt)
	l.UpdatedAt = cols.timestamp("updated_at", updatedAt)
	if cols.err != nil {
		return l, fmt.Errorf("failed to decode loan %s: %w", l.ID, cols.err)
	}
	return l, nil
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

// InsertSchedule writes a complete schedule atomically.
func (s *Store) InsertSchedule(ctx context.Context, entries []loan.InstallmentScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.insertSchedule(ctx, sqlTx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) insertSchedule(ctx context.Context, q querier, entries []loan.InstallmentScheduleEntry) error {
	query := `
		INSERT INTO installments (loan_id, tenant_id, sequence, due_date, principal,
			interest, amount, status, paid_date, paid_amount, payroll_cycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, e := range entries {
		_, err := q.ExecContext(ctx, query,
			e.LoanID, e.TenantID, e.Sequence, formatDate(e.DueDate),
			e.Principal.String(), e.Interest.String(), e.Amount.String(),
			e.Status, nullDate(e.PaidDate), e.PaidAmount.String(), nullString(e.PayrollCycle),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("installment %s/%d already exists: %w", e.LoanID, e.Sequence, loan.ErrConcurrentModification)
			}
			return fmt.Errorf("failed to insert installment: %w", err)
		}
	}
	return nil
}

// GetSchedule returns a loan's installments ordered by sequence.
func (s *Store) GetSchedule(ctx context.Context, loanID loan.LoanID) ([]loan.InstallmentScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSchedule(ctx, s.db, loanID)
}

func (s *Store) getSchedule(ctx context.Context, q querier, loanID loan.LoanID) ([]loan.InstallmentScheduleEntry, error) {
	query := `
		SELECT loan_id, tenant_id, sequence, due_date, principal, interest, amount,
			status, paid_date, paid_amount, payroll_cycle
		FROM installments
		WHERE loan_id = ?
		ORDER BY sequence
	`

	rows, err := q.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var entries []loan.InstallmentScheduleEntry
	for rows.Next() {
		var (
			e        loan.InstallmentScheduleEntry
			dueDate  string
			paidDate sql.NullString
			cycle    sql.NullString
		)
		if err := rows.Scan(
			&e.LoanID, &e.TenantID, &e.Sequence, &dueDate, &e.Principal, &e.Interest,
			&e.Amount, &e.Status, &paidDate, &e.PaidAmount, &cycle,
		); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		var cols timeColumns
		e.DueDate = cols.date("due_date", dueDate)
		e.PaidDate = cols.optionalDate("paid_date", paidDate)
		if cols.err != nil {
			return nil, fmt.Errorf("failed to decode installment %d of loan %s: %w", e.Sequence, e.LoanID, cols.err)
		}
		e.PayrollCycle = cycle.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClaimInstallment moves a pending installment to paid.
func (s *Store) ClaimInstallment(ctx context.Context, loanID loan.LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimInstallment(ctx, s.db, loanID, sequence, paidAt, amount, cycle)
}

func (s *Store) claimInstallment(ctx context.Context, q querier, loanID loan.LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error {
	query := `
		UPDATE installments
		SET status = ?, paid_date = ?, paid_amount = ?, payroll_cycle = ?
		WHERE loan_id = ? AND sequence = ? AND status = ?
	`

	res, err := q.ExecContext(ctx, query,
		loan.InstallmentPaid, formatDate(paidAt), amount.String(), cycle,
		loanID, sequence, loan.InstallmentPending,
	)
	if err != nil {
		return fmt.Errorf("failed to claim installment: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	found, err := installmentExists(ctx, q, loanID, sequence)
	if err != nil {
		return err
	}
	if !found {
		return loan.ErrInstallmentNotFound
	}
	return loan.ErrInstallmentNotPending
}

// WaiveInstallment moves a pending or overdue installment to waived.
func (s *Store) WaiveInstallment(ctx context.Context, loanID loan.LoanID, sequence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiveInstallment(ctx, s.db, loanID, sequence)
}

func (s *Store) waiveInstallment(ctx context.Context, q querier, loanID loan.LoanID, sequence int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE installments SET status = ? WHERE loan_id = ? AND sequence = ? AND status IN (?, ?)`,
		loan.InstallmentWaived, loanID, sequence, loan.InstallmentPending, loan.InstallmentOverdue,
	)
	if err != nil {
		return fmt.Errorf("failed to waive installment: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	found, err := installmentExists(ctx, q, loanID, sequence)
	if err != nil {
		return err
	}
	if !found {
		return loan.ErrInstallmentNotFound
	}
	return loan.ErrInstallmentSettled
}

// MarkOverdue moves the tenant's pending installments due before dueBefore to overdue.
func (s *Store) MarkOverdue(ctx context.Context, tenantID loan.TenantID, dueBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markOverdue(ctx, s.db, tenantID, dueBefore)
}

func (s *Store) markOverdue(ctx context.Context, q querier, tenantID loan.TenantID, dueBefore time.Time) (int, error) {
	// due_date is stored as YYYY-MM-DD, so text comparison is date order.
	res, err := q.ExecContext(ctx,
		`UPDATE installments SET status = ? WHERE tenant_id = ? AND status = ? AND due_date < ?`,
		loan.InstallmentOverdue, tenantID, loan.InstallmentPending, formatDate(dueBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue installments: %w", err)
	}
	return rowsAffected(res)
}

func installmentExists(ctx context.Context, q querier, loanID loan.LoanID, sequence int) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM installments WHERE loan_id = ? AND sequence = ?",
		loanID, sequence,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check installment: %w", err)
	}
	return count > 0, nil
}

// =============================================================================
// APPROVAL STORE (append-only)
// =============================================================================

// AppendApproval records an approval decision.
func (s *Store) AppendApproval(ctx context.Context, r loan.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendApproval(ctx, s.db, r)
}

func (s *Store) appendApproval(ctx context.Context, q querier, r loan.ApprovalRecord) error {
	query := `
		INSERT INTO approval_records (id, loan_id, tenant_id, approver_id, role, level,
			decision, remarks, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.LoanID, r.TenantID, r.ApproverID, r.Role, int(r.Level),
		r.Decision, nullString(r.Remarks), formatTime(r.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append approval: %w", err)
	}
	return nil
}

// ListApprovals returns a loan's approval trail in decision order.
func (s *Store) ListApprovals(ctx context.Context, loanID loan.LoanID) ([]loan.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listApprovals(ctx, s.db, loanID)
}

func (s *Store) listApprovals(ctx context.Context, q querier, loanID loan.LoanID) ([]loan.ApprovalRecord, error) {
	query := `
		SELECT id, loan_id, tenant_id, approver_id, role, level, decision, remarks, decided_at
		FROM approval_records
		WHERE loan_id = ?
		ORDER BY rowid
	`

	rows, err := q.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var records []loan.ApprovalRecord
	for rows.Next() {
		var (
			r         loan.ApprovalRecord
			level     int
			remarks   sql.NullString
			decidedAt string
		)
		if err := rows.Scan(
			&r.ID, &r.LoanID, &r.TenantID, &r.ApproverID, &r.Role, &level,
			&r.Decision, &remarks, &decidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		r.Level = loan.ApprovalLevel(level)
		r.Remarks = remarks.String
		var cols timeColumns
		r.DecidedAt = cols.timestamp("decided_at", decidedAt)
		if cols.err != nil {
			return nil, fmt.Errorf("failed to decode approval %s: %w", r.ID, cols.err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// DEDUCTION STORE (append-only)
// =============================================================================

// AppendDeduction records a payroll deduction.
func (s *Store) AppendDeduction(ctx context.Context, d loan.Deduction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendDeduction(ctx, s.db, d)
}

func (s *Store) appendDeduction(ctx context.Context, q querier, d loan.Deduction) error {
	query := `
		INSERT INTO deductions (id, tenant_id, employee_id, loan_id, sequence, cycle,
			amount, principal, interest, deducted_at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		d.ID, d.TenantID, d.EmployeeID, d.LoanID, d.Sequence, d.Cycle,
		d.Amount.String(), d.Principal.String(), d.Interest.String(),
		formatTime(d.DeductedAt), d.IdempotencyKey,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loan.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append deduction: %w", err)
	}
	return nil
}

// ListDeductions returns the tenant's deductions, optionally for one cycle.
func (s *Store) ListDeductions(ctx context.Context, tenantID loan.TenantID, cycle string) ([]loan.Deduction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDeductions(ctx, s.db, tenantID, cycle)
}

func (s *Store) listDeductions(ctx context.Context, q querier, tenantID loan.TenantID, cycle string) ([]loan.Deduction, error) {
	query := `
		SELECT id, tenant_id, employee_id, loan_id, sequence, cycle, amount, principal,
			interest, deducted_at, idempotency_key
		FROM deductions
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if cycle != "" {
		query += ` AND cycle = ?`
		args = append(args, cycle)
	}
	query += ` ORDER BY rowid`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deductions: %w", err)
	}
	defer rows.Close()

	var deductions []loan.Deduction
	for rows.Next() {
		var (
			d          loan.Deduction
			deductedAt string
		)
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.EmployeeID, &d.LoanID, &d.Sequence, &d.Cycle,
			&d.Amount, &d.Principal, &d.Interest, &deductedAt, &d.IdempotencyKey,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deduction: %w", err)
		}
		var cols timeColumns
		d.DeductedAt = cols.timestamp("deducted_at", deductedAt)
		if cols.err != nil {
			return nil, fmt.Errorf("failed to decode deduction %s: %w", d.IdempotencyKey, cols.err)
		}
		deductions = append(deductions, d)
	}
	return deductions, rows.Err()
}
