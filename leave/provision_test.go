package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func TestProvision_CarriesForwardUnspentDaysUpToTheCap(t *testing.T) {
	// GIVEN: 2025 casual leave of 12 days with 3 used, cap of 5 days
	// WHEN: Provisioning 2026
	// THEN: Carry forward is min(9, 5) = 5

	f := newFixture(t)
	f.provision(t, casual, 12, 0)
	f.takeDays(t, 3)

	a, err := f.prov.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID:  emp,
		LeaveTypeID: casual,
		AsOf:        generic.NewTimePoint(2026, time.March, 1),
		Allocated:   days(12),
	})
	require.NoError(t, err)
	assertAmount(t, 5, a.CarryForward, "carry forward")
	assert.Equal(t, "2026-01-01", a.Key.PeriodStart.Key())
	assert.Equal(t, "2026-12-31", a.PeriodEnd.Key())
	assertAmount(t, 17, a.Available(), "available")

	prev := f.balance(t, casual)
	assertAmount(t, 5, prev.CarriedOut, "2025 carried out")
	assertAmount(t, 4, prev.Available, "2025 available")
}

func TestProvision_NoCarryForwardWhenTheTypeForbidsIt(t *testing.T) {
	f := newFixture(t)
	f.provision(t, sick, 8, 0)

	a, err := f.prov.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID:  emp,
		LeaveTypeID: sick,
		AsOf:        generic.NewTimePoint(2026, time.January, 1),
		Allocated:   days(8),
	})
	require.NoError(t, err)
	assertAmount(t, 0, a.CarryForward, "carry forward")
}

func TestProvision_ResizeNeverDropsBelowConsumption(t *testing.T) {
	// GIVEN: 12 allocated, 5 reserved by a pending request
	// WHEN: Shrinking the allocation to 4, then to 6
	// THEN: 4 is refused, 6 is accepted with 1 day left

	f := newFixture(t)
	f.provision(t, casual, 12, 0)
	f.submit(t, casual, date(time.March, 3), date(time.March, 7))

	zero := days(0)
	_, err := f.prov.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID: emp, LeaveTypeID: casual, AsOf: date(time.June, 1), Allocated: days(4), CarryForward: &zero,
	})
	assert.ErrorIs(t, err, leave.ErrValidation)

	a, err := f.prov.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID: emp, LeaveTypeID: casual, AsOf: date(time.June, 1), Allocated: days(6), CarryForward: &zero,
	})
	require.NoError(t, err)
	assertAmount(t, 1, a.Available(), "available")
	assertAmount(t, 5, a.Reserved, "reserved kept")
}

func TestProvision_Validation(t *testing.T) {
	f := newFixture(t)
	negative := days(-1)

	tests := []struct {
		name string
		in   leave.ProvisionInput
	}{
		{"missing employee", leave.ProvisionInput{LeaveTypeID: casual, AsOf: date(time.January, 1)}},
		{"missing leave type", leave.ProvisionInput{EmployeeID: emp, AsOf: date(time.January, 1)}},
		{"missing date", leave.ProvisionInput{EmployeeID: emp, LeaveTypeID: casual}},
		{"negative allocation", leave.ProvisionInput{EmployeeID: emp, LeaveTypeID: casual, AsOf: date(time.January, 1), Allocated: days(-2)}},
		{"negative carry forward", leave.ProvisionInput{EmployeeID: emp, LeaveTypeID: casual, AsOf: date(time.January, 1), Allocated: days(2), CarryForward: &negative}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.prov.Provision(context.Background(), tt.in)
			assert.ErrorIs(t, err, leave.ErrValidation)
		})
	}
}

func TestProvision_CarryForwardIsDebitedFromThePreviousPeriod(t *testing.T) {
	// GIVEN: 2025 casual leave of 12 days and 2026 opened with 5 carried in
	// WHEN: A 12-weekday request is backdated into December 2025
	// THEN: It is refused; the 2025 row only has 12 - 5 = 7 days left to spend

	f := newFixture(t)
	f.provision(t, casual, 12, 0)

	next, err := f.prov.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID:  emp,
		LeaveTypeID: casual,
		AsOf:        generic.NewTimePoint(2026, time.January, 1),
		Allocated:   days(12),
	})
	require.NoError(t, err)
	assertAmount(t, 5, next.CarryForward, "carried into 2026")

	b := f.balance(t, casual)
	assertAmount(t, 5, b.CarriedOut, "carried out of 2025")
	assertAmount(t, 7, b.Available, "2025 available")

	_, err = f.svc.Submit(context.Background(), fullDay(casual, date(time.December, 1), date(time.December, 16)))
	require.ErrorIs(t, err, leave.ErrInsufficientBalance)

	d := f.submit(t, casual, date(time.December, 1), date(time.December, 9))
	f.approve(t, d.Request.ID, 1, manager)
	f.approve(t, d.Request.ID, 2, hr)
	assertAmount(t, 0, f.balance(t, casual).Available, "2025 spent")
}

func TestProvision_RerunMovesOnlyTheCarryDifference(t *testing.T) {
	// GIVEN: 2026 opened with the computed carry of 5
	// WHEN: 2026 is re-provisioned with a carry override of 2, then 9
	// THEN: 3 days return to 2025, then the override is capped at 5 again

	f := newFixture(t)
	f.provision(t, casual, 12, 0)
	provision2026 := func(carry *generic.Amount) *leave.Allocation {
		t.Helper()
		a, err := f.prov.Provision(context.Background(), leave.ProvisionInput{
			EmployeeID:   emp,
			LeaveTypeID:  casual,
			AsOf:         generic.NewTimePoint(2026, time.January, 1),
			Allocated:    days(12),
			CarryForward: carry,
		})
		require.NoError(t, err)
		return a
	}
	provision2026(nil)

	two := days(2)
	assertAmount(t, 2, provision2026(&two).CarryForward, "override")
	b := f.balance(t, casual)
	assertAmount(t, 2, b.CarriedOut, "carried out after override")
	assertAmount(t, 10, b.Available, "2025 available after override")

	nine := days(9)
	assertAmount(t, 5, provision2026(&nine).CarryForward, "capped override")
	assertAmount(t, 7, f.balance(t, casual).Available, "2025 available after cap")

	entries, err := f.svc.Journal(context.Background(), emp)
	require.NoError(t, err)
	var moves []float64
	for _, e := range entries {
		if e.Type == leave.EntryCarryOut {
			assert.Equal(t, "2025-01-01", e.Key.PeriodStart.Key())
			moves = append(moves, e.Delta.Value.InexactFloat64())
		}
	}
	assert.Equal(t, []float64{-5, 3, -3}, moves)
}
