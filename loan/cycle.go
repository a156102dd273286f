package loan

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultPayrollConcurrency bounds parallel employees in one cycle run.
const DefaultPayrollConcurrency = 8

// CycleRunner processes a whole payroll cycle. Employees share no loan
// state, so they run in parallel; one employee's failure does not stop
// the batch.
type CycleRunner struct {
	processor   *RepaymentProcessor
	concurrency int
}

func NewCycleRunner(p *RepaymentProcessor, concurrency int) *CycleRunner {
	if concurrency <= 0 {
		concurrency = DefaultPayrollConcurrency
	}
	return &CycleRunner{processor: p, concurrency: concurrency}
}

// EmployeeResult is one employee's outcome within a cycle run.
type EmployeeResult struct {
	EmployeeID EmployeeID
	Summary    *RepaymentSummary
	Err        error
}

// CycleReport summarizes a cycle run. Results keep the input order.
type CycleReport struct {
	Cycle         string
	Results       []EmployeeResult
	Processed     int
	Failed        int
	TotalDeducted decimal.Decimal
}

// ProcessCycle runs ProcessRepayment for every employee. Re-running a cycle
// is safe: already collected installments are skipped.
func (r *CycleRunner) ProcessCycle(ctx context.Context, actor Actor, employeeIDs []EmployeeID, cycleDate time.Time) (*CycleReport, error) {
	results := make([]EmployeeResult, len(employeeIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range employeeIDs {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = EmployeeResult{EmployeeID: id, Err: err}
				return nil
			}
			summary, err := r.processor.ProcessRepayment(gctx, actor, id, cycleDate)
			results[i] = EmployeeResult{EmployeeID: id, Summary: summary, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &CycleReport{
		Cycle:         CycleOf(cycleDate).Ref(),
		Results:       results,
		TotalDeducted: decimal.Zero,
	}
	for _, res := range results {
		if res.Err != nil {
			report.Failed++
			r.processor.log.WithFields(logrus.Fields{
				"tenant_id":   actor.TenantID,
				"employee_id": res.EmployeeID,
				"cycle":       report.Cycle,
			}).WithError(res.Err).Error("payroll repayment failed")
			continue
		}
		report.Processed++
		report.TotalDeducted = report.TotalDeducted.Add(res.Summary.TotalDeducted)
	}

	r.processor.log.WithFields(logrus.Fields{
		"tenant_id": actor.TenantID,
		"cycle":     report.Cycle,
		"processed": report.Processed,
		"failed":    report.Failed,
		"deducted":  report.TotalDeducted.String(),
	}).Info("payroll cycle processed")
	return report, ctx.Err()
}
