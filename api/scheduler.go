/*
scheduler.go - Automated overdue sweep scheduler

PURPOSE:
  Periodically marks Pending installments whose payroll month has passed,
  grace period included, as Overdue for every tenant, and records each run.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field spec, UTC)
  - A run covers every tenant with loans; one failing tenant does not
    stop the others, the run is then recorded as failed
  - Finance can trigger a run for its own tenant (POST /admin/overdue-sweep)
  - Runs are recorded in sweep_runs for audit and GET /admin/sweeps

CONFIGURATION:
  - scheduler.overdue_cron: cron spec (default "0 2 * * *", 02:00 UTC daily)
  - scheduler.enabled: whether Start schedules anything
  - scheduler.overdue_grace_days: days after a month ends before it is swept

USAGE:
  scheduler, err := NewOverdueScheduler(engine.Repayments, store, "0 2 * * *", logger, nil)
  scheduler.Start()
  // ... later
  scheduler.Stop(ctx)

SEE ALSO:
  - handlers.go: TriggerOverdueSweep endpoint (manual sweep)
  - loan/repayment.go: SweepOverdue
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/store/sqlite"
)

// OverdueScheduler runs the overdue sweep on a cron schedule.
type OverdueScheduler struct {
	repayments *loan.RepaymentProcessor
	store      *sqlite.Store
	log        logrus.FieldLogger
	clock      loan.Clock

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// NewOverdueScheduler creates a scheduler. spec is a standard cron expression.
func NewOverdueScheduler(
	repayments *loan.RepaymentProcessor,
	store *sqlite.Store,
	spec string,
	logger logrus.FieldLogger,
	clock loan.Clock,
) (*OverdueScheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if clock == nil {
		clock = time.Now
	}

	s := &OverdueScheduler{
		repayments: repayments,
		store:      store,
		log:        logger.WithField("component", "overdue_scheduler"),
		clock:      clock,
		cron:       cron.New(cron.WithLocation(time.UTC)),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid overdue sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the schedule. Calling it twice has no effect.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()

	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.log.WithField("next_run", entries[0].Next.Format(time.RFC3339)).Info("scheduler started")
	}
}

// Stop halts the schedule and waits for a running sweep, up to ctx.
func (s *OverdueScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *OverdueScheduler) tick() {
	run, err := s.RunAll(context.Background(), s.clock())
	if err != nil {
		s.log.WithError(err).Error("scheduled overdue sweep failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"tenants": run.Tenants,
		"marked":  run.Marked,
	}).Info("scheduled overdue sweep completed")
}

// RunAll sweeps every tenant as of asOf and records the run.
// Partial failures still return the run, with Status failed.
func (s *OverdueScheduler) RunAll(ctx context.Context, asOf time.Time) (*sqlite.SweepRun, error) {
	return s.record(ctx, asOf, func() (int, int, error) {
		counts, err := s.repayments.SweepAllTenants(ctx, asOf)
		marked := 0
		for _, n := range counts {
			marked += n
		}
		return len(counts), marked, err
	})
}

// RunTenant sweeps one tenant as of asOf and records the run.
func (s *OverdueScheduler) RunTenant(ctx context.Context, tenantID loan.TenantID, asOf time.Time) (*sqlite.SweepRun, error) {
	return s.record(ctx, asOf, func() (int, int, error) {
		n, err := s.repayments.SweepOverdue(ctx, tenantID, asOf)
		if err != nil {
			return 0, 0, err
		}
		return 1, n, nil
	})
}

// ListRuns returns the most recent runs, newest first.
func (s *OverdueScheduler) ListRuns(ctx context.Context, limit int) ([]sqlite.SweepRun, error) {
	return s.store.ListSweepRuns(ctx, limit)
}

func (s *OverdueScheduler) record(ctx context.Context, asOf time.Time, sweep func() (tenants, marked int, err error)) (*sqlite.SweepRun, error) {
	asOf = loan.Date(asOf)
	run := sqlite.SweepRun{
		ID:        uuid.NewString(),
		AsOf:      asOf,
		DueBefore: s.repayments.OverdueCutoff(asOf),
		Status:    sqlite.SweepRunning,
		StartedAt: s.clock(),
	}
	if err := s.store.SaveSweepRun(ctx, run); err != nil {
		return nil, err
	}

	tenants, marked, sweepErr := sweep()

	completed := s.clock()
	run.Tenants = tenants
	run.Marked = marked
	run.CompletedAt = &completed
	run.Status = sqlite.SweepCompleted
	if sweepErr != nil {
		run.Status = sqlite.SweepFailed
		run.Error = sweepErr.Error()
		s.log.WithError(sweepErr).WithField("run_id", run.ID).Warn("overdue sweep finished with errors")
	}

	if err := s.store.SaveSweepRun(ctx, run); err != nil {
		return nil, err
	}
	return &run, nil
}
