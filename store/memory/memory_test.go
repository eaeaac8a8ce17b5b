package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.Backend { return memory.New() })
}

func TestMemory_ResetDropsRowsAndFencesOpenTransactions(t *testing.T) {
	// GIVEN: A transaction that read an allocation before a reset
	// WHEN: It tries to commit after the reset
	// THEN: The commit fails with ErrConcurrentModification and the store
	//       stays empty

	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.SaveLeaveType(ctx, leave.LeaveTypeDefinition{ID: "casual", Name: "Casual", Pay: leave.Paid}))
	key := leave.AllocationKey{EmployeeID: "emp-1", LeaveTypeID: "casual", PeriodStart: generic.NewTimePoint(2025, time.January, 1)}
	require.NoError(t, m.WithTx(ctx, func(tx leave.Tx) error {
		return tx.InsertAllocation(ctx, &leave.Allocation{
			Key:       key,
			PeriodEnd: generic.NewTimePoint(2025, time.December, 31),
			Allocated: generic.Days(10),
		})
	}))

	err := m.WithTx(ctx, func(tx leave.Tx) error {
		a, err := tx.GetAllocationForUpdate(ctx, key)
		if err != nil {
			return err
		}
		require.NoError(t, m.Reset(ctx))
		a.Reserved = generic.Days(1)
		return tx.UpdateAllocation(ctx, a)
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	rows, err := m.ListAllocations(ctx, "emp-1", key.PeriodStart)
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = m.GetLeaveType(ctx, "casual")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	require.NoError(t, m.SaveLeaveType(ctx, leave.LeaveTypeDefinition{ID: "casual", ApprovalChain: []leave.Role{"manager"}}))

	lt, err := m.GetLeaveType(ctx, "casual")
	require.NoError(t, err)
	lt.ApprovalChain[0] = "hr"

	again, err := m.GetLeaveType(ctx, "casual")
	require.NoError(t, err)
	assert.Equal(t, []leave.Role{"manager"}, again.ApprovalChain)
}
