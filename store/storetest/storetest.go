// Package storetest is the behaviour every leave.Backend must share. Each
// adapter's tests call Run with a constructor for a fresh, empty backend.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/holiday"
	"github.com/warp/leave-engine/leave"
)

const (
	employee leave.EmployeeID  = "emp-1"
	casual   leave.LeaveTypeID = "casual"
)

const (
	manager = "mgr-1"
	hr      = "hr-1"
)

// Run exercises newBackend against the lifecycle, locking and journal
// contract of leave.Backend.
func Run(t *testing.T, newBackend func(t *testing.T) leave.Backend) {
	t.Run("ReferenceData", func(t *testing.T) { testReferenceData(t, newBackend(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newBackend(t)) })
	t.Run("StaleVersion", func(t *testing.T) { testStaleVersion(t, newBackend(t)) })
	t.Run("DuplicateEntry", func(t *testing.T) { testDuplicateEntry(t, newBackend(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newBackend(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newBackend(t)) })
	t.Run("CarryOut", func(t *testing.T) { testCarryOut(t, newBackend(t)) })
}

func date(m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(2025, m, d) }

func seed(t *testing.T, b leave.Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.SaveLeaveType(ctx, leave.LeaveTypeDefinition{
		ID:                 casual,
		Name:               "Casual",
		Pay:                leave.Paid,
		CarryForward:       true,
		MaxCarryForward:    generic.Days(5),
		MaxConsecutiveDays: generic.Days(10),
		ApprovalChain:      []leave.Role{"manager", "hr"},
	}))
	require.NoError(t, b.SaveEmployee(ctx, leave.Employee{ID: employee, Name: "Ana", HolidayListID: "hq"}))
	require.NoError(t, b.SaveApprover(ctx, employee, "manager", manager))
	require.NoError(t, b.SaveApprover(ctx, employee, "hr", hr))
	require.NoError(t, b.SaveHoliday(ctx, generic.Holiday{ID: "h-1", ListID: "hq", Date: date(time.March, 5), Name: "Founders Day"}))
}

func newService(b leave.Backend) *leave.Service {
	return leave.NewService(b, b,
		leave.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		leave.WithHolidays(holiday.NewCalendar(b)),
		leave.WithClock(func() time.Time { return time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC) }),
	)
}

func provision(t *testing.T, b leave.Backend, allocated float64) {
	t.Helper()
	p := leave.NewProvisioner(b, generic.NewPeriodConfig(time.January))
	p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := p.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID:  employee,
		LeaveTypeID: casual,
		AsOf:        date(time.January, 1),
		Allocated:   generic.Days(allocated),
	})
	require.NoError(t, err)
}

func assertDays(t *testing.T, want float64, got generic.Amount, field string) {
	t.Helper()
	assert.True(t, got.Equal(generic.Days(want)), "%s: want %v, got %s", field, want, got)
}

// =============================================================================
// CASES
// =============================================================================

func testReferenceData(t *testing.T, b leave.Backend) {
	ctx := context.Background()
	seed(t, b)

	lt, err := b.GetLeaveType(ctx, casual)
	require.NoError(t, err)
	assert.Equal(t, "Casual", lt.Name)
	assert.True(t, lt.CarryForward)
	assertDays(t, 5, lt.MaxCarryForward, "max carry forward")
	assert.Equal(t, []leave.Role{"manager", "hr"}, lt.ApprovalChain)

	types, err := b.ListLeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 1)

	employees, err := b.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Equal(t, []leave.Employee{{ID: employee, Name: "Ana", HolidayListID: "hq"}}, employees)

	list, err := b.HolidayListFor(ctx, employee)
	require.NoError(t, err)
	assert.Equal(t, "hq", list)

	approver, err := b.ApproverFor(ctx, employee, "hr")
	require.NoError(t, err)
	assert.Equal(t, hr, approver)

	holidays, err := b.ListHolidays(ctx, "hq")
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.Equal(t, "2025-03-05", holidays[0].Date.Key())
}

func testLifecycle(t *testing.T, b leave.Backend) {
	// GIVEN: 12 days, a holiday on Wednesday March 5
	// WHEN: Submitting Mon-Fri, approving level 1, then cancelling; and
	//       submitting a second request approved end to end
	// THEN: Balances, approvals, request filters and the journal agree

	ctx := context.Background()
	seed(t, b)
	provision(t, b, 12)
	svc := newService(b)

	first, err := svc.Submit(ctx, leave.SubmitInput{
		EmployeeID: employee, LeaveTypeID: casual, Category: leave.FullDay,
		StartDate: date(time.March, 3), EndDate: date(time.March, 7), Reason: "trip",
		DocumentRefs: []string{"doc-1"},
	})
	require.NoError(t, err)
	assertDays(t, 4, first.Request.TotalDays, "holiday excluded")

	stored, err := svc.RequestDetail(ctx, first.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Request.Status)
	assert.Equal(t, []string{"doc-1"}, stored.Request.DocumentRefs)
	assert.Equal(t, "2025-01-01", stored.Request.PeriodStart.Key())
	require.Len(t, stored.Approvals, 2)

	pending, err := svc.PendingFor(ctx, manager)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = svc.Decide(ctx, leave.DecideInput{RequestID: first.Request.ID, Level: 1, ApproverID: manager, Decision: leave.Approve, Comments: "fine"})
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, leave.CancelInput{RequestID: first.Request.ID, ActorID: string(employee), Reason: "plans changed"})
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, cancelled.Request.Status)

	stored, err = svc.RequestDetail(ctx, first.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusCancelled, stored.Request.Status)
	assert.Equal(t, "plans changed", stored.Request.CancelReason)
	require.NotNil(t, stored.Request.CancelledAt)
	assert.Equal(t, leave.ApprovalApproved, stored.Approvals[0].Status)
	assert.Equal(t, "fine", stored.Approvals[0].Comments)
	require.NotNil(t, stored.Approvals[0].DecidedAt)
	assert.Equal(t, leave.ApprovalPending, stored.Approvals[1].Status)

	second, err := svc.Submit(ctx, leave.SubmitInput{
		EmployeeID: employee, LeaveTypeID: casual, Category: leave.HalfDay, HalfDay: leave.HalfDayAM,
		StartDate: date(time.March, 10), EndDate: date(time.March, 10), Reason: "errand",
	})
	require.NoError(t, err)
	_, err = svc.Decide(ctx, leave.DecideInput{RequestID: second.Request.ID, Level: 1, ApproverID: manager, Decision: leave.Approve})
	require.NoError(t, err)
	_, err = svc.Decide(ctx, leave.DecideInput{RequestID: second.Request.ID, Level: 2, ApproverID: hr, Decision: leave.Approve})
	require.NoError(t, err)

	lines, err := svc.BalanceSummary(ctx, employee, date(time.March, 1))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "Casual", lines[0].LeaveTypeName)
	assertDays(t, 0.5, lines[0].Used, "used")
	assertDays(t, 0, lines[0].PendingReserved, "reserved")
	assertDays(t, 11.5, lines[0].Available, "available")

	approved, err := svc.ListRequests(ctx, leave.RequestFilter{EmployeeID: employee, Status: leave.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, second.Request.ID, approved[0].ID)
	all, err := svc.ListRequests(ctx, leave.RequestFilter{EmployeeID: employee})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	limited, err := svc.ListRequests(ctx, leave.RequestFilter{EmployeeID: employee, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	entries, err := svc.Journal(ctx, employee)
	require.NoError(t, err)
	var types []leave.EntryType
	for _, e := range entries {
		types = append(types, e.Type)
	}
	assert.Equal(t, []leave.EntryType{
		leave.EntryAllot, leave.EntryReserve, leave.EntryRelease, leave.EntryReserve, leave.EntryCommit,
	}, types)
}

func testStaleVersion(t *testing.T, b leave.Backend) {
	// GIVEN: A copy of an allocation row read before someone else wrote it
	// WHEN: Writing the stale copy back
	// THEN: ErrConcurrentModification, and the newer write survives

	ctx := context.Background()
	seed(t, b)
	provision(t, b, 12)
	key := leave.AllocationKey{EmployeeID: employee, LeaveTypeID: casual, PeriodStart: date(time.January, 1)}

	var stale *leave.Allocation
	require.NoError(t, b.WithTx(ctx, func(tx leave.Tx) error {
		a, err := tx.GetAllocationForUpdate(ctx, key)
		stale = a
		return err
	}))

	require.NoError(t, b.WithTx(ctx, func(tx leave.Tx) error {
		a, err := tx.GetAllocationForUpdate(ctx, key)
		if err != nil {
			return err
		}
		a.Reserved = generic.Days(2)
		return tx.UpdateAllocation(ctx, a)
	}))

	err := b.WithTx(ctx, func(tx leave.Tx) error {
		stale.Reserved = generic.Days(7)
		return tx.UpdateAllocation(ctx, stale)
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	rows, err := b.ListAllocations(ctx, employee, key.PeriodStart)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDays(t, 2, rows[0].Reserved, "reserved")
}

func testDuplicateEntry(t *testing.T, b leave.Backend) {
	ctx := context.Background()
	seed(t, b)
	provision(t, b, 12)

	entry := leave.LedgerEntry{
		ID:             "entry-1",
		Key:            leave.AllocationKey{EmployeeID: employee, LeaveTypeID: casual, PeriodStart: date(time.January, 1)},
		Type:           leave.EntryReserve,
		Delta:          generic.Days(-1),
		IdempotencyKey: "reserve-x",
		CreatedBy:      string(employee),
		CreatedAt:      time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, b.WithTx(ctx, func(tx leave.Tx) error { return tx.AppendEntry(ctx, entry) }))

	entry.ID = "entry-2"
	err := b.WithTx(ctx, func(tx leave.Tx) error { return tx.AppendEntry(ctx, entry) })
	assert.ErrorIs(t, err, generic.ErrDuplicate)
}

func testRollback(t *testing.T, b leave.Backend) {
	// GIVEN: A transaction that reserves days and then fails
	// WHEN: It returns the error
	// THEN: No trace of the reservation remains

	ctx := context.Background()
	seed(t, b)
	provision(t, b, 12)
	key := leave.AllocationKey{EmployeeID: employee, LeaveTypeID: casual, PeriodStart: date(time.January, 1)}
	ledger := leave.NewLedger(b)

	err := b.WithTx(ctx, func(tx leave.Tx) error {
		if _, err := ledger.ReserveTx(ctx, tx, key, generic.Days(3), "req-x", string(employee)); err != nil {
			return err
		}
		return leave.ErrNotFound
	})
	require.ErrorIs(t, err, leave.ErrNotFound)

	rows, err := b.ListAllocations(ctx, employee, key.PeriodStart)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDays(t, 0, rows[0].Reserved, "reserved")
	entries, err := b.ListEntries(ctx, employee)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the allot entry")
}

func testNotFound(t *testing.T, b leave.Backend) {
	ctx := context.Background()

	_, err := b.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, leave.ErrNotFound)
	_, err = b.GetLeaveType(ctx, "missing")
	assert.ErrorIs(t, err, leave.ErrNotFound)
	_, err = b.HolidayListFor(ctx, "missing")
	assert.ErrorIs(t, err, leave.ErrNotFound)
	_, err = b.ApproverFor(ctx, "missing", "manager")
	assert.ErrorIs(t, err, leave.ErrNotFound)

	err = b.WithTx(ctx, func(tx leave.Tx) error {
		_, err := tx.GetReservationForUpdate(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

func testCarryOut(t *testing.T, b leave.Backend) {
	// GIVEN: 12 casual days in 2025
	// WHEN: 2026 is opened with the computed carry-forward
	// THEN: The 2025 row persists 5 days carried out and a carry_out entry

	ctx := context.Background()
	seed(t, b)
	provision(t, b, 12)

	p := leave.NewProvisioner(b, generic.NewPeriodConfig(time.January))
	p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	next, err := p.Provision(ctx, leave.ProvisionInput{
		EmployeeID:  employee,
		LeaveTypeID: casual,
		AsOf:        generic.NewTimePoint(2026, time.January, 1),
		Allocated:   generic.Days(12),
	})
	require.NoError(t, err)
	assertDays(t, 5, next.CarryForward, "carry forward")

	rows, err := b.ListAllocations(ctx, employee, date(time.January, 1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDays(t, 5, rows[0].CarriedOut, "carried out")
	assertDays(t, 7, rows[0].Available(), "available")

	entries, err := b.ListEntries(ctx, employee)
	require.NoError(t, err)
	var carried []leave.LedgerEntry
	for _, e := range entries {
		if e.Type == leave.EntryCarryOut {
			carried = append(carried, e)
		}
	}
	require.Len(t, carried, 1)
	assertDays(t, -5, carried[0].Delta, "carry_out delta")
}
