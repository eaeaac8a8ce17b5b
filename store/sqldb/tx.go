package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// TRANSACTIONAL VIEW (leave.Tx)
// =============================================================================

type txStore struct {
	tx *sql.Tx
	s  *Store
}

func (t *txStore) forUpdate() string { return t.s.dialect.ForUpdate }

// --- allocations ---

func (t *txStore) GetAllocationForUpdate(ctx context.Context, key leave.AllocationKey) (*leave.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations
		WHERE employee_id = ? AND leave_type_id = ? AND period_start = ?` + t.forUpdate()
	row := t.tx.QueryRowContext(ctx, t.s.rebind(query), key.EmployeeID, key.LeaveTypeID, key.PeriodStart.Key())
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("allocation", key)
	}
	if err != nil {
		return nil, t.s.classify(fmt.Errorf("read allocation %s: %w", key, err))
	}
	return &a, nil
}

func (t *txStore) InsertAllocation(ctx context.Context, a *leave.Allocation) error {
	query := `INSERT INTO allocations (` + allocationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, t.s.rebind(query),
		a.Key.EmployeeID, a.Key.LeaveTypeID, a.Key.PeriodStart.Key(), a.PeriodEnd.Key(),
		a.Allocated.Value, a.CarryForward.Value, a.Used.Value, a.Reserved.Value, a.CarriedOut.Value,
		1, formatTime(a.UpdatedAt),
	)
	if err != nil {
		return t.s.classify(fmt.Errorf("insert allocation %s: %w", a.Key, err))
	}
	a.Version = 1
	return nil
}

func (t *txStore) UpdateAllocation(ctx context.Context, a *leave.Allocation) error {
	err := t.s.execOne(ctx, t.tx, "update allocation "+a.Key.String(), `
		UPDATE allocations
		SET allocated = ?, carry_forward = ?, used = ?, reserved = ?, carried_out = ?, updated_at = ?,
			version = version + 1
		WHERE employee_id = ? AND leave_type_id = ? AND period_start = ? AND version = ?`,
		a.Allocated.Value, a.CarryForward.Value, a.Used.Value, a.Reserved.Value, a.CarriedOut.Value,
		formatTime(a.UpdatedAt),
		a.Key.EmployeeID, a.Key.LeaveTypeID, a.Key.PeriodStart.Key(), a.Version,
	)
	if err != nil {
		return err
	}
	a.Version++
	return nil
}

// --- reservations ---

func (t *txStore) InsertReservation(ctx context.Context, r *leave.Reservation) error {
	query := `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, t.s.rebind(query),
		r.ID, r.Key.EmployeeID, r.Key.LeaveTypeID, r.Key.PeriodStart.Key(), r.Days.Value, r.State,
		r.Reference, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return t.s.classify(fmt.Errorf("insert reservation %s: %w", r.ID, err))
	}
	return nil
}

func (t *txStore) GetReservationForUpdate(ctx context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?` + t.forUpdate()
	r, err := scanReservation(t.tx.QueryRowContext(ctx, t.s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reservation", id)
	}
	if err != nil {
		return nil, t.s.classify(fmt.Errorf("read reservation %s: %w", id, err))
	}
	return &r, nil
}

// UpdateReservation moves a held reservation to its final state.
func (t *txStore) UpdateReservation(ctx context.Context, r *leave.Reservation) error {
	return t.s.execOne(ctx, t.tx, "update reservation "+string(r.ID),
		`UPDATE reservations SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		r.State, formatTime(r.UpdatedAt), r.ID, leave.ReservationHeld,
	)
}

// --- requests ---

func (t *txStore) InsertRequest(ctx context.Context, r *leave.LeaveRequest) error {
	docs, err := json.Marshal(r.DocumentRefs)
	if err != nil {
		return fmt.Errorf("encode document refs: %w", err)
	}
	query := `INSERT INTO leave_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = t.tx.ExecContext(ctx, t.s.rebind(query),
		r.ID, r.EmployeeID, r.LeaveTypeID, r.Category, r.HalfDay, r.StartDate.Key(), r.EndDate.Key(),
		r.TotalDays.Value, r.Reason, r.Contact, r.Address, string(docs), r.Status, r.PeriodStart.Key(),
		r.ReservationID, r.CancelledBy, r.CancelReason, nullTime(r.CancelledAt),
		formatTime(r.SubmittedAt), formatTime(r.UpdatedAt), 1,
	)
	if err != nil {
		return t.s.classify(fmt.Errorf("insert request %s: %w", r.ID, err))
	}
	r.Version = 1
	return nil
}

func (t *txStore) GetRequestForUpdate(ctx context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	return t.s.getRequest(ctx, t.tx, id, t.forUpdate())
}

// UpdateRequest writes the mutable lifecycle fields.
func (t *txStore) UpdateRequest(ctx context.Context, r *leave.LeaveRequest) error {
	err := t.s.execOne(ctx, t.tx, "update request "+string(r.ID), `
		UPDATE leave_requests
		SET status = ?, cancelled_by = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		r.Status, r.CancelledBy, r.CancelReason, nullTime(r.CancelledAt), formatTime(r.UpdatedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return err
	}
	r.Version++
	return nil
}

// --- approvals ---

func (t *txStore) InsertApprovals(ctx context.Context, rows []leave.LeaveApproval) error {
	query := t.s.rebind(`INSERT INTO leave_approvals (` + approvalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, a := range rows {
		_, err := t.tx.ExecContext(ctx, query,
			a.RequestID, a.Level, a.Role, a.ApproverID, a.Status, a.Comments, nullTime(a.DecidedAt),
		)
		if err != nil {
			return t.s.classify(fmt.Errorf("insert approval %s/%d: %w", a.RequestID, a.Level, err))
		}
	}
	return nil
}

func (t *txStore) ListApprovals(ctx context.Context, id leave.RequestID) ([]leave.LeaveApproval, error) {
	return t.s.listApprovals(ctx, t.tx, id, t.forUpdate())
}

// UpdateApproval records the decision on a row that is still pending.
func (t *txStore) UpdateApproval(ctx context.Context, a *leave.LeaveApproval) error {
	return t.s.execOne(ctx, t.tx, fmt.Sprintf("update approval %s/%d", a.RequestID, a.Level), `
		UPDATE leave_approvals SET status = ?, comments = ?, decided_at = ?
		WHERE request_id = ? AND level = ? AND status = ?`,
		a.Status, a.Comments, nullTime(a.DecidedAt), a.RequestID, a.Level, leave.ApprovalPending,
	)
}

// --- journal ---

func (t *txStore) AppendEntry(ctx context.Context, e leave.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, t.s.rebind(query),
		e.ID, e.Key.EmployeeID, e.Key.LeaveTypeID, e.Key.PeriodStart.Key(), e.Type, e.Delta.Value,
		e.ReservationID, e.Reference, e.IdempotencyKey, e.CreatedBy, formatTime(e.CreatedAt),
	)
	if err != nil {
		return t.s.classify(fmt.Errorf("append ledger entry %q: %w", e.IdempotencyKey, err))
	}
	return nil
}
