/*
Package sqlite provides a SQLite-backed implementation of the loan engine's
storage interfaces.

PURPOSE:
  Implements loan.TxStore, loan.EmployeeDirectory and loan.AuditSink on a
  single SQLite database. The server wires one Store into every slot of
  loan.Dependencies.

INTERFACES IMPLEMENTED:
  loan.TxStore:           Products, loans, schedules, approvals, deductions
  loan.EmployeeDirectory: Employee master data (employees table)
  loan.AuditSink:         Audit trail (audit_events table)

COMPARE-AND-SWAP:
  UpdateLoan is a single UPDATE ... WHERE id = ? AND version = ?. Zero rows
  affected means another writer got there first.
  ClaimInstallment is UPDATE ... WHERE status = 'pending'. Zero rows affected
  means the installment was already collected.

APPEND-ONLY ENFORCEMENT:
  approval_records and deductions are guarded by triggers that abort any
  UPDATE (and DELETE for approvals). There are no update methods for them.

KEY TABLES:
  loan_products:     Tenant-scoped product configuration
  loans:             Loan aggregate, versioned
  installments:      Schedule rows, PRIMARY KEY (loan_id, sequence)
  approval_records:  Approval trail
  deductions:        Payroll deduction ledger, UNIQUE idempotency_key
  employees:         Employee master data
  audit_events:      Audit trail
  sweep_runs:        Overdue sweep bookkeeping

INDEXES:
  - idx_installments_tenant_status_due: Overdue sweep (hot path)
  - idx_loans_tenant_employee_status: Obligations and repayment lookups
  - idx_deductions_tenant_cycle: Payroll cycle reports

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases are shared by every caller.

MIGRATION:
  Versioned migrations are embedded from migrations/ and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/loans.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := loan.NewEngine(loan.Dependencies{Store: store, Directory: store, Audit: store}, 8)

SEE ALSO:
  - loan/store.go: Interface definitions
  - loan/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ loan.TxStore           = (*Store)(nil)
	_ loan.EmployeeDirectory = (*Store)(nil)
	_ loan.AuditSink         = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies the embedded migrations.
// The migrate.Migrate is not closed: closing it would close s.db.
func (s *Store) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (loan.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// fn must only use the Store it is given; the parent is locked until commit.
func (s *Store) WithTx(ctx context.Context, fn func(store loan.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) SaveProduct(ctx context.Context, p loan.LoanProduct) error {
	return ts.parent.saveProduct(ctx, ts.tx, p)
}

func (ts *txStore) GetProduct(ctx context.Context, id loan.ProductID) (*loan.LoanProduct, error) {
	return ts.parent.getProduct(ctx, ts.tx, id)
}

func (ts *txStore) ListProducts(ctx context.Context, tenantID loan.TenantID) ([]loan.LoanProduct, error) {
	return ts.parent.listProducts(ctx, ts.tx, tenantID)
}

func (ts *txStore) CreateLoan(ctx context.Context, l loan.LoanApplication) error {
	return ts.parent.createLoan(ctx, ts.tx, l)
}

func (ts *txStore) GetLoan(ctx context.Context, id loan.LoanID) (*loan.LoanApplication, error) {
	return ts.parent.getLoan(ctx, ts.tx, id)
}

func (ts *txStore) UpdateLoan(ctx context.Context, l loan.LoanApplication, expectedVersion int64) error {
	return ts.parent.updateLoan(ctx, ts.tx, l, expectedVersion)
}

func (ts *txStore) ListLoans(ctx context.Context, tenantID loan.TenantID, filter loan.LoanFilter) ([]loan.LoanApplication, error) {
	return ts.parent.listLoans(ctx, ts.tx, tenantID, filter)
}

func (ts *txStore) ListTenants(ctx context.Context) ([]loan.TenantID, error) {
	return ts.parent.listTenants(ctx, ts.tx)
}

func (ts *txStore) InsertSchedule(ctx context.Context, entries []loan.InstallmentScheduleEntry) error {
	return ts.parent.insertSchedule(ctx, ts.tx, entries)
}

func (ts *txStore) GetSchedule(ctx context.Context, loanID loan.LoanID) ([]loan.InstallmentScheduleEntry, error) {
	return ts.parent.getSchedule(ctx, ts.tx, loanID)
}

func (ts *txStore) ClaimInstallment(ctx context.Context, loanID loan.LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error {
	return ts.parent.claimInstallment(ctx, ts.tx, loanID, sequence, paidAt, amount, cycle)
}

func (ts *txStore) WaiveInstallment(ctx context.Context, loanID loan.LoanID, sequence int) error {
	return ts.parent.waiveInstallment(ctx, ts.tx, loanID, sequence)
}

func (ts *txStore) MarkOverdue(ctx context.Context, tenantID loan.TenantID, dueBefore time.Time) (int, error) {
	return ts.parent.markOverdue(ctx, ts.tx, tenantID, dueBefore)
}

func (ts *txStore) AppendApproval(ctx context.Context, r loan.ApprovalRecord) error {
	return ts.parent.appendApproval(ctx, ts.tx, r)
}

func (ts *txStore) ListApprovals(ctx context.Context, loanID loan.LoanID) ([]loan.ApprovalRecord, error) {
	return ts.parent.listApprovals(ctx, ts.tx, loanID)
}

func (ts *txStore) AppendDeduction(ctx context.Context, d loan.Deduction) error {
	return ts.parent.appendDeduction(ctx, ts.tx, d)
}

func (ts *txStore) ListDeductions(ctx context.Context, tenantID loan.TenantID, cycle string) ([]loan.Deduction, error) {
	return ts.parent.listDeductions(ctx, ts.tx, tenantID, cycle)
}

// =============================================================================
// HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}


func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}


func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}


func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// timeColumns decodes the date and timestamp columns of one row. The first
// malformed value is kept in err and later calls return the zero time.
type timeColumns struct {
	err error
}

func (c *timeColumns) parse(column, layout, s string) time.Time {
	if c.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		c.err = fmt.Errorf("invalid %s %q: %w", column, s, err)
		return time.Time{}
	}
	return t
}

func (c *timeColumns) timestamp(column, s string) time.Time {
	return c.parse(column, time.RFC3339, s)
}

func (c *timeColumns) date(column, s string) time.Time {
	return c.parse(column, dateLayout, s)
}

func (c *timeColumns) optionalDate(column string, ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := c.date(column, ns.String)
	return &t
}

func (c *timeColumns) optionalTimestamp(column string, ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := c.timestamp(column, ns.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
