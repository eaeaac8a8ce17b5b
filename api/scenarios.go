/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic data
	for demos. Every scenario is built through the engine itself (provisioner,
	submit, decide, cancel), so the ledger journal reads exactly as it would
	in production.

AVAILABLE SCENARIOS:

	balance-reservation: 12 allocated + 2 carried, 3 used, a 5-day request pending
	level-one-rejection: two-level chain, rejected by the manager
	cancel-mid-chain:    manager approved, employee cancelled before HR decided
	auto-approval:       sick leave with no approval chain

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Seed leave types, employee, approvers and the holiday list
 3. Provision allocations for the current period
 4. Replay the scenario's requests and decisions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "balance-reservation"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	demoEmployee leave.EmployeeID = "emp-ana"
	demoManager                   = "mgr-omar"
	demoHR                        = "hr-lina"
	demoList                      = "default"
)

const (
	casualLeave leave.LeaveTypeID = "casual"
	sickLeave   leave.LeaveTypeID = "sick"
)

const (
	roleManager leave.Role = "manager"
	roleHR      leave.Role = "hr"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "balance-reservation",
		Name:        "Balance Reservation",
		Description: "12 days allocated plus 2 carried forward, 3 used, and a 5-day request holding a reservation",
	},
	{
		ID:          "level-one-rejection",
		Name:        "Level One Rejection",
		Description: "Two-level request rejected by the manager; the HR level is never decided",
	},
	{
		ID:          "cancel-mid-chain",
		Name:        "Cancel Mid-Chain",
		Description: "Manager approved, employee cancelled before HR decided; reservation released",
	},
	{
		ID:          "auto-approval",
		Name:        "Auto Approval",
		Description: "Sick leave with an empty approval chain is approved at submission",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context, weeks demoWeeks) error{
	"balance-reservation": loadBalanceReservation,
	"level-one-rejection": loadLevelOneRejection,
	"cancel-mid-chain":    loadCancelMidChain,
	"auto-approval":       loadAutoApproval,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.reset == nil {
		writeError(w, http.StatusForbidden, "Scenario loading is disabled", nil)
		return
	}
	if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
		"employee_id": demoEmployee,
	})
}

// Load resets the store and replays scenario id.
func (h *Handler) Load(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if h.reset == nil {
		return fmt.Errorf("scenario %q: store reset is not available", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := h.seedReference(ctx); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}
	if err := load(h, ctx, h.demoWeeks()); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.logger.InfoContext(ctx, "scenario loaded", slog.String("scenario_id", id))
	return nil
}

// =============================================================================
// SHARED SEED DATA
// =============================================================================

func (h *Handler) seedReference(ctx context.Context) error {
	types := []leave.LeaveTypeDefinition{
		{
			ID:                 casualLeave,
			Name:               "Casual Leave",
			Pay:                leave.Paid,
			CarryForward:       true,
			MaxCarryForward:    generic.Days(5),
			MaxConsecutiveDays: generic.Days(10),
			ApprovalChain:      []leave.Role{roleManager, roleHR},
		},
		{
			ID:                 sickLeave,
			Name:               "Sick Leave",
			Pay:                leave.Paid,
			MaxCarryForward:    generic.ZeroDays(),
			MaxConsecutiveDays: generic.ZeroDays(),
		},
	}
	for _, lt := range types {
		if err := h.admin.SaveLeaveType(ctx, lt); err != nil {
			return err
		}
	}

	if err := h.admin.SaveEmployee(ctx, leave.Employee{ID: demoEmployee, Name: "Ana Duarte", HolidayListID: demoList}); err != nil {
		return err
	}
	if err := h.admin.SaveApprover(ctx, demoEmployee, roleManager, demoManager); err != nil {
		return err
	}
	if err := h.admin.SaveApprover(ctx, demoEmployee, roleHR, demoHR); err != nil {
		return err
	}

	period := h.svc.Periods.PeriodFor(generic.DateOf(h.svc.Now()))
	_, err := h.holidays.Add(ctx, generic.Holiday{
		ID:        "new-year",
		ListID:    demoList,
		Date:      generic.NewTimePoint(period.Start.Year(), time.January, 1),
		Name:      "New Year's Day",
		Recurring: true,
	})
	return err
}

// demoWeeks are full Monday-to-Friday weeks inside the current period, clear
// of the seeded holidays.
type demoWeeks []generic.TimePoint

func (w demoWeeks) days(week, n int) (generic.TimePoint, generic.TimePoint) {
	return w[week], w[week].AddDays(n - 1)
}

func (h *Handler) demoWeeks() demoWeeks {
	period := h.svc.Periods.PeriodFor(generic.DateOf(h.svc.Now()))
	monday := period.Start.AddDays(14)
	for monday.Weekday() != time.Monday {
		monday = monday.AddDays(1)
	}
	return demoWeeks{monday, monday.AddDays(7), monday.AddDays(14), monday.AddDays(21)}
}

func (h *Handler) provision(ctx context.Context, lt leave.LeaveTypeID, asOf generic.TimePoint, allocated, carry float64) error {
	c := generic.Days(carry)
	_, err := h.provisioner.Provision(ctx, leave.ProvisionInput{
		EmployeeID:   demoEmployee,
		LeaveTypeID:  lt,
		AsOf:         asOf,
		Allocated:    generic.Days(allocated),
		CarryForward: &c,
	})
	return err
}

func (h *Handler) submit(ctx context.Context, lt leave.LeaveTypeID, cat leave.Category, start, end generic.TimePoint, reason string) (*leave.RequestDetail, error) {
	in := leave.SubmitInput{
		EmployeeID:  demoEmployee,
		LeaveTypeID: lt,
		Category:    cat,
		StartDate:   start,
		EndDate:     end,
		Reason:      reason,
	}
	if cat == leave.HalfDay {
		in.HalfDay = leave.HalfDayAM
	}
	return h.svc.Submit(ctx, in)
}

func (h *Handler) decide(ctx context.Context, id leave.RequestID, level int, approver string, d leave.Decision, comments string) error {
	_, err := h.svc.Decide(ctx, leave.DecideInput{
		RequestID:  id,
		Level:      level,
		ApproverID: approver,
		Decision:   d,
		Comments:   comments,
	})
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadBalanceReservation(h *Handler, ctx context.Context, weeks demoWeeks) error {
	if err := h.provision(ctx, casualLeave, weeks[0], 12, 2); err != nil {
		return err
	}

	start, end := weeks.days(0, 3)
	taken, err := h.submit(ctx, casualLeave, leave.FullDay, start, end, "Family visit")
	if err != nil {
		return err
	}
	if err := h.decide(ctx, taken.Request.ID, 1, demoManager, leave.Approve, "Enjoy"); err != nil {
		return err
	}
	if err := h.decide(ctx, taken.Request.ID, 2, demoHR, leave.Approve, ""); err != nil {
		return err
	}

	start, end = weeks.days(2, 5)
	_, err = h.submit(ctx, casualLeave, leave.FullDay, start, end, "Holiday trip")
	return err
}

func loadLevelOneRejection(h *Handler, ctx context.Context, weeks demoWeeks) error {
	if err := h.provision(ctx, casualLeave, weeks[0], 12, 0); err != nil {
		return err
	}
	start, end := weeks.days(1, 2)
	req, err := h.submit(ctx, casualLeave, leave.FullDay, start, end, "Moving house")
	if err != nil {
		return err
	}
	return h.decide(ctx, req.Request.ID, 1, demoManager, leave.Reject, "Release week, please pick other dates")
}

func loadCancelMidChain(h *Handler, ctx context.Context, weeks demoWeeks) error {
	if err := h.provision(ctx, casualLeave, weeks[0], 12, 0); err != nil {
		return err
	}
	start, end := weeks.days(1, 3)
	req, err := h.submit(ctx, casualLeave, leave.FullDay, start, end, "Conference")
	if err != nil {
		return err
	}
	if err := h.decide(ctx, req.Request.ID, 1, demoManager, leave.Approve, ""); err != nil {
		return err
	}
	_, err = h.svc.Cancel(ctx, leave.CancelInput{
		RequestID: req.Request.ID,
		ActorID:   string(demoEmployee),
		Reason:    "Conference was postponed",
	})
	return err
}

func loadAutoApproval(h *Handler, ctx context.Context, weeks demoWeeks) error {
	if err := h.provision(ctx, sickLeave, weeks[0], 8, 0); err != nil {
		return err
	}
	day, _ := weeks.days(1, 1)
	_, err := h.submit(ctx, sickLeave, leave.HalfDay, day, day, "Doctor appointment")
	return err
}
