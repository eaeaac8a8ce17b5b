/*
scheduler.go - Automated period rollover

PURPOSE:
  Opens the current period's allocation rows once the previous period has
  ended. Every (employee, leave type) that held an allocation last period
  gets a row for this period with the same grant, and the provisioner
  computes carry-forward from the unspent balance.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - A pass is idempotent: rows that already exist are skipped
  - One failing row is logged and does not stop the pass
  - The last run is kept for GET /api/rollover

CONFIGURATION:
  - CheckInterval: How often to check (LEAVE_ROLLOVER_INTERVAL, 0 disables)

USAGE:
  scheduler := NewRolloverScheduler(admin, provisioner, logger)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunRollover endpoint (manual trigger)
  - leave/provision.go: Carry-forward rules
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// RolloverRun summarises one pass.
type RolloverRun struct {
	Period      generic.Period
	StartedAt   time.Time
	CompletedAt time.Time
	Opened      int
	Skipped     int
	Failed      int
}

// RolloverScheduler opens allocation rows for a new period.
type RolloverScheduler struct {
	Admin         leave.Admin
	Provisioner   *leave.Provisioner
	CheckInterval time.Duration
	Logger        *slog.Logger

	mu      sync.Mutex // serialises passes
	lastRun *RolloverRun
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRolloverScheduler(admin leave.Admin, prov *leave.Provisioner, logger *slog.Logger) *RolloverScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloverScheduler{
		Admin:         admin,
		Provisioner:   prov,
		CheckInterval: time.Hour,
		Logger:        logger,
	}
}

// Start runs a pass immediately and then every CheckInterval until ctx is
// cancelled or Stop is called. A non-positive interval disables it.
func (rs *RolloverScheduler) Start(ctx context.Context) {
	if rs.CheckInterval <= 0 {
		rs.Logger.Info("rollover scheduler disabled")
		return
	}
	ctx, rs.cancel = context.WithCancel(ctx)
	rs.wg.Add(1)
	go rs.loop(ctx)
	rs.Logger.Info("rollover scheduler started", slog.Duration("interval", rs.CheckInterval))
}

// Stop waits for the running pass, if any, to finish.
func (rs *RolloverScheduler) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	rs.wg.Wait()
	rs.Logger.Info("rollover scheduler stopped")
}

func (rs *RolloverScheduler) loop(ctx context.Context) {
	defer rs.wg.Done()
	ticker := time.NewTicker(rs.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := rs.RunNow(ctx); err != nil && ctx.Err() == nil {
			rs.Logger.Error("rollover pass failed", slog.Any("error", err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one pass for the period containing the provisioner's
// current date.
func (rs *RolloverScheduler) RunNow(ctx context.Context) (RolloverRun, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.Provisioner.Now()
	current := rs.Provisioner.Periods.PeriodFor(generic.DateOf(now))
	previous := rs.Provisioner.Periods.PreviousPeriod(current)
	run := RolloverRun{Period: current, StartedAt: now}

	employees, err := rs.Admin.ListEmployees(ctx)
	if err != nil {
		return run, err
	}
	for _, e := range employees {
		if err := rs.rollEmployee(ctx, e.ID, previous, current, &run); err != nil {
			return run, err
		}
	}

	run.CompletedAt = rs.Provisioner.Now()
	rs.lastRun = &run
	if run.Opened > 0 || run.Failed > 0 {
		rs.Logger.InfoContext(ctx, "rollover completed",
			slog.String("period", current.Key()),
			slog.Int("opened", run.Opened),
			slog.Int("skipped", run.Skipped),
			slog.Int("failed", run.Failed),
		)
	}
	return run, nil
}

func (rs *RolloverScheduler) rollEmployee(ctx context.Context, id leave.EmployeeID, previous, current generic.Period, run *RolloverRun) error {
	prior, err := rs.Provisioner.Store.ListAllocations(ctx, id, previous.Start)
	if err != nil || len(prior) == 0 {
		return err
	}
	open, err := rs.Provisioner.Store.ListAllocations(ctx, id, current.Start)
	if err != nil {
		return err
	}
	have := make(map[leave.LeaveTypeID]bool, len(open))
	for _, a := range open {
		have[a.Key.LeaveTypeID] = true
	}

	for _, a := range prior {
		if have[a.Key.LeaveTypeID] {
			run.Skipped++
			continue
		}
		_, err := rs.Provisioner.Provision(ctx, leave.ProvisionInput{
			EmployeeID:  id,
			LeaveTypeID: a.Key.LeaveTypeID,
			AsOf:        current.Start,
			Allocated:   a.Allocated,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			run.Failed++
			rs.Logger.WarnContext(ctx, "rollover row failed",
				slog.String("employee_id", string(id)),
				slog.String("leave_type_id", string(a.Key.LeaveTypeID)),
				slog.Any("error", err),
			)
			continue
		}
		run.Opened++
	}
	return nil
}

// LastRun returns the most recent completed pass, or nil.
func (rs *RolloverScheduler) LastRun() *RolloverRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun == nil {
		return nil
	}
	run := *rs.lastRun
	return &run
}

// =============================================================================
// HANDLERS
// =============================================================================

// RunRollover triggers a pass.
// POST /api/rollover/run
func (h *Handler) RunRollover(w http.ResponseWriter, r *http.Request) {
	run, err := h.rollover.RunNow(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverDTO(run))
}

// GetRollover returns the last pass, or null.
// GET /api/rollover
func (h *Handler) GetRollover(w http.ResponseWriter, r *http.Request) {
	run := h.rollover.LastRun()
	if run == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverDTO(*run))
}
