package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

func newLedger(t *testing.T, allocated float64) (*leave.Ledger, leave.AllocationKey) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.SaveLeaveType(context.Background(), leave.LeaveTypeDefinition{ID: casual, Name: "Casual", Pay: leave.Paid}))

	prov := leave.NewProvisioner(store, generic.NewPeriodConfig(time.January))
	prov.Logger = quietLogger()
	a, err := prov.Provision(context.Background(), leave.ProvisionInput{
		EmployeeID:  emp,
		LeaveTypeID: casual,
		AsOf:        date(time.January, 1),
		Allocated:   days(allocated),
	})
	require.NoError(t, err)

	l := leave.NewLedger(store)
	l.NewID = sequentialIDs()
	l.Retry = generic.RetryPolicy{Attempts: 50, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
	return l, a.Key
}

func available(t *testing.T, l *leave.Ledger) leave.BalanceLine {
	t.Helper()
	lines, err := l.Balances(context.Background(), emp, generic.NewPeriodConfig(time.January).PeriodFor(date(time.June, 1)))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	return lines[0]
}

func TestLedger_ReserveThenRelease_RestoresBalance(t *testing.T) {
	// GIVEN: 10 days allocated
	// WHEN: Reserving 3 then releasing them
	// THEN: Available goes 10 -> 7 -> 10 and used never moves

	l, key := newLedger(t, 10)
	ctx := context.Background()

	res, err := l.Reserve(ctx, key, days(3), "req-1", string(emp))
	require.NoError(t, err)
	assert.Equal(t, leave.ReservationHeld, res.State)
	assertAmount(t, 7, available(t, l).Available, "after reserve")

	require.NoError(t, l.Release(ctx, res.ID, string(emp)))
	line := available(t, l)
	assertAmount(t, 10, line.Available, "after release")
	assertAmount(t, 0, line.Used, "used")
	assertAmount(t, 0, line.PendingReserved, "reserved")
}

func TestLedger_CommitMovesReservedToUsed(t *testing.T) {
	l, key := newLedger(t, 10)
	ctx := context.Background()

	res, err := l.Reserve(ctx, key, days(2.5), "req-1", string(emp))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, res.ID, "mgr-1"))

	line := available(t, l)
	assertAmount(t, 2.5, line.Used, "used")
	assertAmount(t, 0, line.PendingReserved, "reserved")
	assertAmount(t, 7.5, line.Available, "available")
}

func TestLedger_CommitAndReleaseAreIdempotent(t *testing.T) {
	l, key := newLedger(t, 10)
	ctx := context.Background()

	committed, err := l.Reserve(ctx, key, days(2), "req-1", string(emp))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, committed.ID, "mgr-1"))
	require.NoError(t, l.Commit(ctx, committed.ID, "mgr-1"))

	released, err := l.Reserve(ctx, key, days(1), "req-2", string(emp))
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, released.ID, string(emp)))
	require.NoError(t, l.Release(ctx, released.ID, string(emp)))

	line := available(t, l)
	assertAmount(t, 2, line.Used, "used counted once")
	assertAmount(t, 8, line.Available, "available")
}

func TestLedger_ReleaseAfterCommit_Fails(t *testing.T) {
	l, key := newLedger(t, 10)
	ctx := context.Background()

	res, err := l.Reserve(ctx, key, days(2), "req-1", string(emp))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, res.ID, "mgr-1"))

	assert.ErrorIs(t, l.Release(ctx, res.ID, string(emp)), leave.ErrReservationCommitted)

	other, err := l.Reserve(ctx, key, days(1), "req-2", string(emp))
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, other.ID, string(emp)))
	assert.ErrorIs(t, l.Commit(ctx, other.ID, "mgr-1"), leave.ErrReservationReleased)
}

func TestLedger_ReserveRejectsBadAmountsAndMissingRows(t *testing.T) {
	l, key := newLedger(t, 10)
	ctx := context.Background()

	_, err := l.Reserve(ctx, key, days(0), "req-1", string(emp))
	assert.ErrorIs(t, err, leave.ErrValidation)

	_, err = l.Reserve(ctx, key, days(10.25), "req-1", string(emp))
	var ib *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assertAmount(t, 0.25, ib.Shortfall, "shortfall")

	missing := key
	missing.LeaveTypeID = "sick"
	_, err = l.Reserve(ctx, missing, days(1), "req-1", string(emp))
	assert.ErrorIs(t, err, leave.ErrNotFound)

	assert.ErrorIs(t, l.Commit(ctx, "nope", "mgr-1"), leave.ErrNotFound)
}

func TestLedger_ConcurrentReservesSumToAvailable(t *testing.T) {
	// GIVEN: 5 days allocated
	// WHEN: 20 goroutines each reserve half a day
	// THEN: Exactly 10 succeed and available is exactly zero

	l, key := newLedger(t, 5)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(context.Background(), key, days(0.5), "req", string(emp)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	line := available(t, l)
	assertAmount(t, 0, line.Available, "available")
	assertAmount(t, 5, line.PendingReserved, "reserved")
}
