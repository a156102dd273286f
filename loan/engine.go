package loan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Clock returns the current time. Injected so tests control "now".
type Clock func() time.Time

// maxConflictRetries bounds re-reads after a lost compare-and-swap.
const maxConflictRetries = 3

// DefaultOverdueGraceDays is how long after a month ends payroll may still
// run that month's cycle before its installments can be swept to Overdue.
const DefaultOverdueGraceDays = 10

// Dependencies are the collaborators shared by every engine component.
// Only Store is required.
type Dependencies struct {
	Store     TxStore
	Directory EmployeeDirectory
	Audit     AuditSink
	Notifier  Notifier
	Logger    logrus.FieldLogger
	Clock     Clock
	Policy    EligibilityPolicy
	NewID     func() string

	// OverdueGraceDays defaults to DefaultOverdueGraceDays when not positive.
	OverdueGraceDays int
}

// Engine bundles the components the HTTP layer and the payroll
// orchestrator talk to.
type Engine struct {
	Workflow    *Workflow
	Repayments  *RepaymentProcessor
	Obligations *ObligationAggregator
	Cycles      *CycleRunner
}

// NewEngine wires all components on the same dependencies.
func NewEngine(deps Dependencies, payrollConcurrency int) *Engine {
	c := newCore(deps)
	obligations := &ObligationAggregator{core: c}
	repayments := &RepaymentProcessor{core: c}
	return &Engine{
		Workflow:    &Workflow{core: c, obligations: obligations},
		Repayments:  repayments,
		Obligations: obligations,
		Cycles:      NewCycleRunner(repayments, payrollConcurrency),
	}
}

// =============================================================================
// CORE - Helpers shared by workflow, repayment and obligations
// =============================================================================

type core struct {
	store    TxStore
	dir      EmployeeDirectory
	audit    AuditSink
	notifier Notifier
	log      logrus.FieldLogger
	clock    Clock
	policy   EligibilityPolicy
	newID    func() string
	grace    int
}

func newCore(d Dependencies) core {
	c := core{
		store:    d.Store,
		dir:      d.Directory,
		audit:    d.Audit,
		notifier: d.Notifier,
		log:      d.Logger,
		clock:    d.Clock,
		policy:   d.Policy,
		newID:    d.NewID,
		grace:    d.OverdueGraceDays,
	}
	if c.audit == nil {
		c.audit = noopAudit{}
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.clock == nil {
		c.clock = func() time.Time { return time.Now().UTC() }
	}
	if !c.policy.MaxEmiRatio.IsPositive() {
		c.policy = DefaultEligibilityPolicy()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.grace <= 0 {
		c.grace = DefaultOverdueGraceDays
	}
	return c
}

func loanFields(l *LoanApplication) logrus.Fields {
	return logrus.Fields{
		"tenant_id":   l.TenantID,
		"loan_id":     l.ID,
		"employee_id": l.EmployeeID,
	}
}

// loadLoan reads a loan through s and rejects it if it belongs to another tenant.
func (c *core) loadLoan(ctx context.Context, s Store, tenantID TenantID, id LoanID) (*LoanApplication, error) {
	l, err := s.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.TenantID != tenantID {
		return nil, c.tenantMismatch(&TenantMismatchError{
			Entity:   "loan",
			EntityID: string(id),
			Expected: tenantID,
			Actual:   l.TenantID,
		})
	}
	return l, nil
}

func (c *core) loadProduct(ctx context.Context, s Store, tenantID TenantID, id ProductID) (*LoanProduct, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenantID {
		return nil, c.tenantMismatch(&TenantMismatchError{
			Entity:   "product",
			EntityID: string(id),
			Expected: tenantID,
			Actual:   p.TenantID,
		})
	}
	return p, nil
}

func (c *core) loadEmployee(ctx context.Context, tenantID TenantID, id EmployeeID) (*Employee, error) {
	if c.dir == nil {
		return nil, ErrEmployeeNotFound
	}
	emp, err := c.dir.GetEmployee(ctx, tenantID, id)
	if err != nil {
		var tm *TenantMismatchError
		if errors.As(err, &tm) {
			return nil, c.tenantMismatch(tm)
		}
		return nil, err
	}
	if emp.TenantID != tenantID {
		return nil, c.tenantMismatch(&TenantMismatchError{
			Entity:   "employee",
			EntityID: string(id),
			Expected: tenantID,
			Actual:   emp.TenantID,
		})
	}
	return emp, nil
}

// tenantMismatch logs the integration error at error level and returns it.
func (c *core) tenantMismatch(err *TenantMismatchError) error {
	c.log.WithFields(logrus.Fields{
		"entity":          err.Entity,
		"entity_id":       err.EntityID,
		"tenant_id":       err.Expected,
		"owner_tenant_id": err.Actual,
	}).Error("cross-tenant access attempt")
	return err
}

// record hands an audit event to the sink. Failures are logged only.
func (c *core) record(ctx context.Context, actor Actor, action string, l *LoanApplication, description string) {
	ev := AuditEvent{
		ID:          c.newID(),
		TenantID:    l.TenantID,
		Actor:       actor.ID,
		Action:      action,
		EntityType:  "loan",
		EntityID:    string(l.ID),
		Description: description,
		At:          c.clock(),
	}
	if err := c.audit.RecordAuditEvent(ctx, ev); err != nil {
		c.log.WithFields(loanFields(l)).WithError(err).WithField("action", action).Warn("audit event not recorded")
	}
}

// notifyEmployee tells the loan's borrower about a change. Best effort.
func (c *core) notifyEmployee(ctx context.Context, l *LoanApplication, subject, body string) {
	if c.dir == nil {
		return
	}
	emp, err := c.dir.GetEmployee(ctx, l.TenantID, l.EmployeeID)
	if err != nil || emp.Email == "" {
		return
	}
	if err := c.notifier.Notify(ctx, emp.Email, subject, body); err != nil {
		c.log.WithFields(loanFields(l)).WithError(err).Warn("notification not sent")
	}
}

// latestStatus re-reads a loan's status after a lost compare-and-swap.
func (c *core) latestStatus(ctx context.Context, id LoanID, fallback Status) Status {
	l, err := c.store.GetLoan(ctx, id)
	if err != nil {
		return fallback
	}
	return l.Status
}
