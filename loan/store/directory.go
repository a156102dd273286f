package store

import (
	"context"
	"sync"

	"github.com/warp/loan-engine/loan"
)

// Directory is an in-memory loan.EmployeeDirectory.
type Directory struct {
	mu        sync.RWMutex
	employees map[loan.EmployeeID]loan.Employee
}

func NewDirectory(employees ...loan.Employee) *Directory {
	d := &Directory{employees: make(map[loan.EmployeeID]loan.Employee)}
	for _, e := range employees {
		d.employees[e.ID] = e
	}
	return d
}

// Put adds or replaces an employee.
func (d *Directory) Put(e loan.Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[e.ID] = e
}

func (d *Directory) GetEmployee(_ context.Context, tenantID loan.TenantID, id loan.EmployeeID) (*loan.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.employees[id]
	if !ok {
		return nil, loan.ErrEmployeeNotFound
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

// AuditLog is an in-memory loan.AuditSink.
type AuditLog struct {
	mu     sync.Mutex
	events []loan.AuditEvent

	// Fail, when set, is returned by RecordAuditEvent and nothing is stored.
	Fail error
}

func (a *AuditLog) RecordAuditEvent(_ context.Context, e loan.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail != nil {
		return a.Fail
	}
	a.events = append(a.events, e)
	return nil
}

// Events returns the recorded events in order.
func (a *AuditLog) Events() []loan.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]loan.AuditEvent{}, a.events...)
}
