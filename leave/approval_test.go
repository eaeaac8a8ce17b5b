package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

func chain(statuses ...leave.ApprovalStatus) []leave.LeaveApproval {
	approvers := []string{manager, hr, "dir-1"}
	rows := make([]leave.LeaveApproval, len(statuses))
	for i, st := range statuses {
		rows[i] = leave.LeaveApproval{RequestID: "req-1", Level: i + 1, ApproverID: approvers[i], Status: st}
	}
	return rows
}

func TestRecordDecision(t *testing.T) {
	at := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rows    []leave.LeaveApproval
		in      leave.DecisionInput
		want    leave.RequestStatus
		wantErr error
	}{
		{
			name: "first of two approves",
			rows: chain(leave.ApprovalPending, leave.ApprovalPending),
			in:   leave.DecisionInput{Level: 1, ApproverID: manager, Decision: leave.Approve},
			want: leave.StatusPending,
		},
		{
			name: "last level approves",
			rows: chain(leave.ApprovalApproved, leave.ApprovalPending),
			in:   leave.DecisionInput{Level: 2, ApproverID: hr, Decision: leave.Approve},
			want: leave.StatusApproved,
		},
		{
			name: "any rejection is final",
			rows: chain(leave.ApprovalApproved, leave.ApprovalPending, leave.ApprovalPending),
			in:   leave.DecisionInput{Level: 2, ApproverID: hr, Decision: leave.Reject},
			want: leave.StatusRejected,
		},
		{
			name:    "skipping a level",
			rows:    chain(leave.ApprovalPending, leave.ApprovalPending),
			in:      leave.DecisionInput{Level: 2, ApproverID: hr, Decision: leave.Approve},
			wantErr: leave.ErrSequence,
		},
		{
			name:    "deciding twice",
			rows:    chain(leave.ApprovalRejected, leave.ApprovalPending),
			in:      leave.DecisionInput{Level: 1, ApproverID: manager, Decision: leave.Approve},
			wantErr: leave.ErrAlreadyDecided,
		},
		{
			name:    "someone else's level",
			rows:    chain(leave.ApprovalPending),
			in:      leave.DecisionInput{Level: 1, ApproverID: hr, Decision: leave.Approve},
			wantErr: leave.ErrNotApprover,
		},
		{
			name:    "unknown level",
			rows:    chain(leave.ApprovalPending),
			in:      leave.DecisionInput{Level: 4, ApproverID: manager, Decision: leave.Approve},
			wantErr: leave.ErrValidation,
		},
		{
			name:    "unknown decision",
			rows:    chain(leave.ApprovalPending),
			in:      leave.DecisionInput{Level: 1, ApproverID: manager, Decision: "maybe"},
			wantErr: leave.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := append([]leave.LeaveApproval(nil), tt.rows...)
			tt.in.At = at
			tt.in.Comments = "ok"

			idx, status, err := leave.RecordDecision("req-1", tt.rows, tt.in)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, tt.rows, "rows untouched on error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.in.Level, tt.rows[idx].Level)
			assert.Equal(t, "ok", tt.rows[idx].Comments)
			require.NotNil(t, tt.rows[idx].DecidedAt)
			assert.Equal(t, at, *tt.rows[idx].DecidedAt)
		})
	}
}

func TestRoute_AssignsApproverPerRole(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{ID: emp, HolidayListID: "hq"}))
	require.NoError(t, store.SaveApprover(ctx, emp, "manager", manager))
	require.NoError(t, store.SaveApprover(ctx, emp, "hr", hr))
	o := &leave.Orchestrator{Directory: store}
	req := &leave.LeaveRequest{ID: "req-1", EmployeeID: emp}

	rows, err := o.Route(ctx, req, &leave.LeaveTypeDefinition{ApprovalChain: []leave.Role{"manager", "hr"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, leave.LeaveApproval{RequestID: "req-1", Level: 1, Role: "manager", ApproverID: manager, Status: leave.ApprovalPending}, rows[0])
	assert.Equal(t, 2, rows[1].Level)
	assert.Equal(t, hr, rows[1].ApproverID)

	rows, err = o.Route(ctx, req, &leave.LeaveTypeDefinition{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = o.Route(ctx, req, &leave.LeaveTypeDefinition{ApprovalChain: []leave.Role{"director"}})
	assert.ErrorIs(t, err, leave.ErrNotFound)
}
