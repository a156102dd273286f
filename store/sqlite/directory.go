package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// EMPLOYEE STORE (loan.EmployeeDirectory)
// =============================================================================

// SaveEmployee inserts or replaces an employee.
func (s *Store) SaveEmployee(ctx context.Context, e loan.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, tenant_id, name, email, join_date, status, grade,
			manager_id, take_home_salary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			email = excluded.email,
			join_date = excluded.join_date,
			status = excluded.status,
			grade = excluded.grade,
			manager_id = excluded.manager_id,
			take_home_salary = excluded.take_home_salary,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.Name, nullString(e.Email), formatDate(e.JoinDate),
		e.Status, nullString(e.Grade), nullString(string(e.ManagerID)),
		e.EstimatedTakeHomeSalary.String(), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns an employee of tenantID.
// An employee stored under another tenant yields *loan.TenantMismatchError.
func (s *Store) GetEmployee(ctx context.Context, tenantID loan.TenantID, id loan.EmployeeID) (*loan.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loan.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.TenantID != tenantID {
		return nil, &loan.TenantMismatchError{
			Entity:   "employee",
			EntityID: string(id),
			Expected: tenantID,
			Actual:   e.TenantID,
		}
	}
	return &e, nil
}

// ListEmployees returns the tenant's employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context, tenantID loan.TenantID) ([]loan.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []loan.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

const employeeColumns = `id, tenant_id, name, email, join_date, status, grade,
	manager_id, take_home_salary`

func scanEmployee(sc scanner) (loan.Employee, error) {
	var (
		e                       loan.Employee
		email, grade, managerID sql.NullString
		joinDate                string
	)
	err := sc.Scan(
		&e.ID, &e.TenantID, &e.Name, &email, &joinDate, &e.Status, &grade,
		&managerID, &e.EstimatedTakeHomeSalary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan employee: %w", err)
	}
	e.Email = email.String
	e.Grade = grade.String
	e.ManagerID = loan.EmployeeID(managerID.String)
	var cols timeColumns
	e.JoinDate = cols.date("join_date", joinDate)
	if cols.err != nil {
		return e, fmt.Errorf("failed to decode employee %s: %w", e.ID, cols.err)
	}
	return e, nil
}

// =============================================================================
// AUDIT STORE (loan.AuditSink)
// =============================================================================

// RecordAuditEvent appends an audit event.
func (s *Store) RecordAuditEvent(ctx context.Context, e loan.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO audit_events (id, tenant_id, actor, action, entity_type, entity_id,
			description, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.Actor, e.Action, e.EntityType, e.EntityID,
		nullString(e.Description), formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the tenant's audit events in recording order.
// An empty entityID returns every event of the tenant.
func (s *Store) ListAuditEvents(ctx context.Context, tenantID loan.TenantID, entityID string) ([]loan.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, actor, action, entity_type, entity_id, description, at
		FROM audit_events
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []loan.AuditEvent
	for rows.Next() {
		var (
			e           loan.AuditEvent
			description sql.NullString
			at          string
		)
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID,
			&description, &at,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Description = description.String
		var cols timeColumns
		e.At = cols.timestamp("at", at)
		if cols.err != nil {
			return nil, fmt.Errorf("failed to decode audit event %s: %w", e.ID, cols.err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
