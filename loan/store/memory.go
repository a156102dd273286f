// Package store provides in-memory implementations of the loan engine's
// persistence and collaborator interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements loan.TxStore.
type Memory struct {
	mu         sync.RWMutex
	products   map[loan.ProductID]loan.LoanProduct
	loans      map[loan.LoanID]loan.LoanApplication
	loanOrder  []loan.LoanID
	schedules  map[loan.LoanID][]loan.InstallmentScheduleEntry
	approvals  map[loan.LoanID][]loan.ApprovalRecord
	deductions []loan.Deduction
	deductKeys map[string]bool

	// FailInsertSchedule, when set, is returned by InsertSchedule.
	// Tests use it to check that disbursal rolls back.
	FailInsertSchedule error
}

func NewMemory() *Memory {
	return &Memory{
		products:   make(map[loan.ProductID]loan.LoanProduct),
		loans:      make(map[loan.LoanID]loan.LoanApplication),
		schedules:  make(map[loan.LoanID][]loan.InstallmentScheduleEntry),
		approvals:  make(map[loan.LoanID][]loan.ApprovalRecord),
		deductKeys: make(map[string]bool),
	}
}

func (m *Memory) SaveProduct(_ context.Context, p loan.LoanProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveProductLocked(p)
}

func (m *Memory) GetProduct(_ context.Context, id loan.ProductID) (*loan.LoanProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id)
}

func (m *Memory) ListProducts(_ context.Context, tenantID loan.TenantID) ([]loan.LoanProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked(tenantID), nil
}

func (m *Memory) CreateLoan(_ context.Context, l loan.LoanApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLoanLocked(l)
}

func (m *Memory) GetLoan(_ context.Context, id loan.LoanID) (*loan.LoanApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLoanLocked(id)
}

func (m *Memory) UpdateLoan(_ context.Context, l loan.LoanApplication, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLoanLocked(l, expectedVersion)
}

func (m *Memory) ListLoans(_ context.Context, tenantID loan.TenantID, filter loan.LoanFilter) ([]loan.LoanApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLoansLocked(tenantID, filter), nil
}

func (m *Memory) ListTenants(_ context.Context) ([]loan.TenantID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTenantsLocked(), nil
}

func (m *Memory) InsertSchedule(_ context.Context, entries []loan.InstallmentScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertScheduleLocked(entries)
}

func (m *Memory) GetSchedule(_ context.Context, loanID loan.LoanID) ([]loan.InstallmentScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getScheduleLocked(loanID), nil
}

func (m *Memory) ClaimInstallment(_ context.Context, loanID loan.LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimLocked(loanID, sequence, paidAt, amount, cycle)
}

func (m *Memory) WaiveInstallment(_ context.Context, loanID loan.LoanID, sequence int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiveLocked(loanID, sequence)
}

func (m *Memory) MarkOverdue(_ context.Context, tenantID loan.TenantID, dueBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markOverdueLocked(tenantID, dueBefore), nil
}

func (m *Memory) AppendApproval(_ context.Context, r loan.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[r.LoanID] = append(m.approvals[r.LoanID], r)
	return nil
}

func (m *Memory) ListApprovals(_ context.Context, loanID loan.LoanID) ([]loan.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]loan.ApprovalRecord{}, m.approvals[loanID]...), nil
}

func (m *Memory) AppendDeduction(_ context.Context, d loan.Deduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendDeductionLocked(d)
}

func (m *Memory) ListDeductions(_ context.Context, tenantID loan.TenantID, cycle string) ([]loan.Deduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDeductionsLocked(tenantID, cycle), nil
}

// =============================================================================
// LOCKED OPERATIONS - Callers hold m.mu
// =============================================================================

func (m *Memory) saveProductLocked(p loan.LoanProduct) error {
	m.products[p.ID] = p
	return nil
}

func (m *Memory) getProductLocked(id loan.ProductID) (*loan.LoanProduct, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, loan.ErrProductNotFound
	}
	return &p, nil
}

func (m *Memory) listProductsLocked(tenantID loan.TenantID) []loan.LoanProduct {
	var out []loan.LoanProduct
	for _, p := range m.products {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) createLoanLocked(l loan.LoanApplication) error {
	if _, exists := m.loans[l.ID]; exists {
		return loan.ErrDuplicateLoan
	}
	m.loans[l.ID] = l
	m.loanOrder = append(m.loanOrder, l.ID)
	return nil
}

func (m *Memory) getLoanLocked(id loan.LoanID) (*loan.LoanApplication, error) {
	l, ok := m.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound
	}
	return &l, nil
}

func (m *Memory) updateLoanLocked(l loan.LoanApplication, expectedVersion int64) error {
	cur, ok := m.loans[l.ID]
	if !ok {
		return loan.ErrLoanNotFound
	}
	if cur.Version != expectedVersion {
		return loan.ErrConcurrentModification
	}
	l.Version = expectedVersion + 1
	m.loans[l.ID] = l
	return nil
}

func (m *Memory) listLoansLocked(tenantID loan.TenantID, filter loan.LoanFilter) []loan.LoanApplication {
	var out []loan.LoanApplication
	for _, id := range m.loanOrder {
		l := m.loans[id]
		if l.TenantID != tenantID {
			continue
		}
		if filter.EmployeeID != "" && l.EmployeeID != filter.EmployeeID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, l.Status) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func hasStatus(statuses []loan.Status, s loan.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *Memory) listTenantsLocked() []loan.TenantID {
	seen := make(map[loan.TenantID]bool)
	var out []loan.TenantID
	for _, id := range m.loanOrder {
		t := m.loans[id].TenantID
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) insertScheduleLocked(entries []loan.InstallmentScheduleEntry) error {
	if m.FailInsertSchedule != nil {
		return m.FailInsertSchedule
	}
	for _, e := range entries {
		for _, existing := range m.schedules[e.LoanID] {
			if existing.Sequence == e.Sequence {
				return fmt.Errorf("installment %d of loan %s already exists", e.Sequence, e.LoanID)
			}
		}
		m.schedules[e.LoanID] = append(m.schedules[e.LoanID], e)
	}
	for _, e := range entries {
		s := m.schedules[e.LoanID]
		sort.Slice(s, func(i, j int) bool { return s[i].Sequence < s[j].Sequence })
	}
	return nil
}

func (m *Memory) getScheduleLocked(loanID loan.LoanID) []loan.InstallmentScheduleEntry {
	return append([]loan.InstallmentScheduleEntry{}, m.schedules[loanID]...)
}

func (m *Memory) findInstallmentLocked(loanID loan.LoanID, sequence int) (*loan.InstallmentScheduleEntry, error) {
	s := m.schedules[loanID]
	for i := range s {
		if s[i].Sequence == sequence {
			return &s[i], nil
		}
	}
	return nil, loan.ErrInstallmentNotFound
}

func (m *Memory) claimLocked(loanID loan.LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error {
	e, err := m.findInstallmentLocked(loanID, sequence)
	if err != nil {
		return err
	}
	if e.Status != loan.InstallmentPending {
		return loan.ErrInstallmentNotPending
	}
	paid := paidAt
	e.Status = loan.InstallmentPaid
	e.PaidDate = &paid
	e.PaidAmount = amount
	e.PayrollCycle = cycle
	return nil
}

func (m *Memory) waiveLocked(loanID loan.LoanID, sequence int) error {
	e, err := m.findInstallmentLocked(loanID, sequence)
	if err != nil {
		return err
	}
	if e.Status.Settled() {
		return loan.ErrInstallmentSettled
	}
	e.Status = loan.InstallmentWaived
	return nil
}

func (m *Memory) markOverdueLocked(tenantID loan.TenantID, dueBefore time.Time) int {
	n := 0
	for _, s := range m.schedules {
		for i := range s {
			if s[i].TenantID == tenantID && s[i].Status == loan.InstallmentPending && s[i].DueDate.Before(dueBefore) {
				s[i].Status = loan.InstallmentOverdue
				n++
			}
		}
	}
	return n
}

func (m *Memory) appendDeductionLocked(d loan.Deduction) error {
	if d.IdempotencyKey != "" && m.deductKeys[d.IdempotencyKey] {
		return loan.ErrDuplicateIdempotencyKey
	}
	m.deductions = append(m.deductions, d)
	if d.IdempotencyKey != "" {
		m.deductKeys[d.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) listDeductionsLocked(tenantID loan.TenantID, cycle string) []loan.Deduction {
	var out []loan.Deduction
	for _, d := range m.deductions {
		if d.TenantID == tenantID && (cycle == "" || d.Cycle == cycle) {
			out = append(out, d)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized; fn must only use the Store it is given.
func (m *Memory) WithTx(_ context.Context, fn func(loan.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	products   map[loan.ProductID]loan.LoanProduct
	loans      map[loan.LoanID]loan.LoanApplication
	loanOrder  []loan.LoanID
	schedules  map[loan.LoanID][]loan.InstallmentScheduleEntry
	approvals  map[loan.LoanID][]loan.ApprovalRecord
	deductions []loan.Deduction
	deductKeys map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		products:   make(map[loan.ProductID]loan.LoanProduct, len(m.products)),
		loans:      make(map[loan.LoanID]loan.LoanApplication, len(m.loans)),
		loanOrder:  append([]loan.LoanID{}, m.loanOrder...),
		schedules:  make(map[loan.LoanID][]loan.InstallmentScheduleEntry, len(m.schedules)),
		approvals:  make(map[loan.LoanID][]loan.ApprovalRecord, len(m.approvals)),
		deductions: append([]loan.Deduction{}, m.deductions...),
		deductKeys: make(map[string]bool, len(m.deductKeys)),
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.loans {
		s.loans[k] = v
	}
	for k, v := range m.schedules {
		s.schedules[k] = append([]loan.InstallmentScheduleEntry{}, v...)
	}
	for k, v := range m.approvals {
		s.approvals[k] = append([]loan.ApprovalRecord{}, v...)
	}
	for k, v := range m.deductKeys {
		s.deductKeys[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.products = s.products
	m.loans = s.loans
	m.loanOrder = s.loanOrder
	m.schedules = s.schedules
	m.approvals = s.approvals
	m.deductions = s.deductions
	m.deductKeys = s.deductKeys
}

// txView is the Store handed to WithTx callbacks. The parent lock is held.
type txView struct {
	m *Memory
}

func (v *txView) SaveProduct(_ context.Context, p loan.LoanProduct) error {
	return v.m.saveProductLocked(p)
}

func (v *txView) GetProduct(_ context.Context, id loan.ProductID) (*loan.LoanProduct, error) {
	return v.m.getProductLocked(id)
}

func (v *txView) ListProducts(_ context.Context, tenantID loan.TenantID) ([]loan.LoanProduct, error) {
	return v.m.listProductsLocked(tenantID), nil
}

func (v *txView) CreateLoan(_ context.Context, l loan.LoanApplication) error {
	return v.m.createLoanLocked(l)
}

func (v *txView) GetLoan(_ context.Context, id loan.LoanID) (*loan.LoanApplication, error) {
	return v.m.getLoanLocked(id)
}

func (v *txView) UpdateLoan(_ context.Context, l loan.LoanApplication, expectedVersion int64) error {
	return v.m.updateLoanLocked(l, expectedVersion)
}

func (v *txView) ListLoans(_ context.Context, tenantID loan.TenantID, filter loan.LoanFilter) ([]loan.LoanApplication, error) {
	return v.m.listLoansLocked(tenantID, filter), nil
}

func (v *txView) ListTenants(_ context.Context) ([]loan.TenantID, error) {
	return v.m.listTenantsLocked(), nil
}

func (v *txView) InsertSchedule(_ context.Context, entries []loan.InstallmentScheduleEntry) error {
	return v.m.insertScheduleLocked(entries)
}

func (v *txView) GetSchedule(_ context.Context, loanID loan.LoanID) ([]loan.InstallmentScheduleEntry, error) {
	return v.m.getScheduleLocked(loanID), nil
}

func (v *txView) ClaimInstallment(_ context.Context, loanID loan.LoanID, sequence int, paidAt time.Time, amount decimal.Decimal, cycle string) error {
	return v.m.claimLocked(loanID, sequence, paidAt, amount, cycle)
}

func (v *txView) WaiveInstallment(_ context.Context, loanID loan.LoanID, sequence int) error {
	return v.m.waiveLocked(loanID, sequence)
}

func (v *txView) MarkOverdue(_ context.Context, tenantID loan.TenantID, dueBefore time.Time) (int, error) {
	return v.m.markOverdueLocked(tenantID, dueBefore), nil
}

func (v *txView) AppendApproval(_ context.Context, r loan.ApprovalRecord) error {
	v.m.approvals[r.LoanID] = append(v.m.approvals[r.LoanID], r)
	return nil
}

func (v *txView) ListApprovals(_ context.Context, loanID loan.LoanID) ([]loan.ApprovalRecord, error) {
	return append([]loan.ApprovalRecord{}, v.m.approvals[loanID]...), nil
}

func (v *txView) AppendDeduction(_ context.Context, d loan.Deduction) error {
	return v.m.appendDeductionLocked(d)
}

func (v *txView) ListDeductions(_ context.Context, tenantID loan.TenantID, cycle string) ([]loan.Deduction, error) {
	return v.m.listDeductionsLocked(tenantID, cycle), nil
}
