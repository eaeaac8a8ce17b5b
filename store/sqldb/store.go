package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// COLUMN LISTS
// =============================================================================

const (
	leaveTypeColumns = `id, name, pay, carry_forward, max_carry_forward, max_consecutive_days,
		count_holidays, approval_chain_json`

	allocationColumns = `employee_id, leave_type_id, period_start, period_end,
		allocated, carry_forward, used, reserved, carried_out, version, updated_at`

	reservationColumns = `id, employee_id, leave_type_id, period_start, days, state,
		reference, created_at, updated_at`

	requestColumns = `id, employee_id, leave_type_id, category, half_day, start_date, end_date,
		total_days, reason, contact, address, document_refs_json, status, period_start,
		reservation_id, cancelled_by, cancel_reason, cancelled_at, submitted_at, updated_at, version`

	approvalColumns = `request_id, level, role, approver_id, status, comments, decided_at`

	entryColumns = `id, employee_id, leave_type_id, period_start, entry_type, delta,
		reservation_id, reference, idempotency_key, created_by, created_at`
)

// =============================================================================
// READS (leave.Store)
// =============================================================================

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveTypeDefinition, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+leaveTypeColumns+` FROM leave_types WHERE id = ?`), id)
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("leave type", id)
	}
	if err != nil {
		return nil, err
	}
	return &lt, nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveTypeDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveTypeDefinition
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	return s.getRequest(ctx, s.db, id, "")
}

// ListRequests returns matching requests, newest first.
func (s *Store) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests WHERE 1 = 1`
	var args []any
	if filter.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, filter.EmployeeID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY submitted_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListApprovals(ctx context.Context, id leave.RequestID) ([]leave.LeaveApproval, error) {
	if _, err := s.GetRequest(ctx, id); err != nil {
		return nil, err
	}
	return s.listApprovals(ctx, s.db, id, "")
}

func (s *Store) ListPendingApprovals(ctx context.Context, approverID string) ([]leave.LeaveApproval, error) {
	query := `
		SELECT a.request_id, a.level, a.role, a.approver_id, a.status, a.comments, a.decided_at
		FROM leave_approvals a
		JOIN leave_requests r ON r.id = a.request_id
		WHERE a.approver_id = ? AND a.status = ? AND r.status = ?
		ORDER BY r.submitted_at, a.request_id, a.level`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), approverID, leave.ApprovalPending, leave.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending approvals: %w", err)
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func (s *Store) ListAllocations(ctx context.Context, employeeID leave.EmployeeID, periodStart generic.TimePoint) ([]leave.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations
		WHERE employee_id = ? AND period_start = ? ORDER BY leave_type_id`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), employeeID, periodStart.Key())
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	var out []leave.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, employeeID leave.EmployeeID) ([]leave.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE employee_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), employeeID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []leave.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SHARED QUERIES - Used by the store and its transactional view
// =============================================================================

func (s *Store) getRequest(ctx context.Context, q queryer, id leave.RequestID, suffix string) (*leave.LeaveRequest, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`+suffix), id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("request", id)
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return &r, nil
}

func (s *Store) listApprovals(ctx context.Context, q queryer, id leave.RequestID, suffix string) ([]leave.LeaveApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM leave_approvals WHERE request_id = ? ORDER BY level` + suffix
	rows, err := q.QueryContext(ctx, s.rebind(query), id)
	if err != nil {
		return nil, s.classify(fmt.Errorf("query approvals: %w", err))
	}
	defer rows.Close()
	out, err := collectApprovals(rows)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []leave.LeaveApproval{}
	}
	return out, nil
}

// =============================================================================
// SCANNERS
// =============================================================================

func days(d decimal.Decimal) generic.Amount {
	return generic.NewAmountFromDecimal(d, generic.UnitDays)
}

func scanLeaveType(row scanner) (leave.LeaveTypeDefinition, error) {
	var (
		lt        leave.LeaveTypeDefinition
		maxCarry  decimal.Decimal
		maxConsec decimal.Decimal
		chainJSON string
	)
	err := row.Scan(&lt.ID, &lt.Name, &lt.Pay, &lt.CarryForward, &maxCarry, &maxConsec, &lt.CountHolidays, &chainJSON)
	if err != nil {
		return lt, err
	}
	lt.MaxCarryForward = days(maxCarry)
	lt.MaxConsecutiveDays = days(maxConsec)
	if err := json.Unmarshal([]byte(chainJSON), &lt.ApprovalChain); err != nil {
		return lt, fmt.Errorf("decode approval chain of %s: %w", lt.ID, err)
	}
	return lt, nil
}

func scanAllocation(row scanner) (leave.Allocation, error) {
	var (
		a                                 leave.Allocation
		periodStart, periodEnd, updatedAt string
		allocated, carry, used, reserved  decimal.Decimal
		carriedOut                        decimal.Decimal
	)
	err := row.Scan(&a.Key.EmployeeID, &a.Key.LeaveTypeID, &periodStart, &periodEnd,
		&allocated, &carry, &used, &reserved, &carriedOut, &a.Version, &updatedAt)
	if err != nil {
		return a, err
	}
	if a.Key.PeriodStart, err = generic.ParseDate(periodStart); err != nil {
		return a, err
	}
	if a.PeriodEnd, err = generic.ParseDate(periodEnd); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	a.Allocated = days(allocated)
	a.CarryForward = days(carry)
	a.Used = days(used)
	a.Reserved = days(reserved)
	a.CarriedOut = days(carriedOut)
	return a, nil
}

func scanReservation(row scanner) (leave.Reservation, error) {
	var (
		r                                 leave.Reservation
		periodStart, createdAt, updatedAt string
		state                             string
		d                                 decimal.Decimal
	)
	err := row.Scan(&r.ID, &r.Key.EmployeeID, &r.Key.LeaveTypeID, &periodStart, &d, &state,
		&r.Reference, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if r.Key.PeriodStart, err = generic.ParseDate(periodStart); err != nil {
		return r, err
	}
	if r.State, err = leave.ParseReservationState(state); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	r.Days = days(d)
	return r, nil
}

func scanRequest(row scanner) (leave.LeaveRequest, error) {
	var (
		r                         leave.LeaveRequest
		category, halfDay, status string
		start, end, periodStart   string
		total                     decimal.Decimal
		docsJSON                  string
		cancelledAt               sql.NullString
		submittedAt, updatedAt    string
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &category, &halfDay, &start, &end,
		&total, &r.Reason, &r.Contact, &r.Address, &docsJSON, &status, &periodStart,
		&r.ReservationID, &r.CancelledBy, &r.CancelReason, &cancelledAt, &submittedAt, &updatedAt, &r.Version)
	if err != nil {
		return r, err
	}

	r.Category = leave.Category(category)
	r.HalfDay = leave.HalfDayType(halfDay)
	if r.Status, err = leave.ParseRequestStatus(status); err != nil {
		return r, err
	}
	if r.StartDate, err = generic.ParseDate(start); err != nil {
		return r, err
	}
	if r.EndDate, err = generic.ParseDate(end); err != nil {
		return r, err
	}
	if r.PeriodStart, err = generic.ParseDate(periodStart); err != nil {
		return r, err
	}
	if r.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return r, err
	}
	if r.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(docsJSON), &r.DocumentRefs); err != nil {
		return r, fmt.Errorf("decode document refs of %s: %w", r.ID, err)
	}
	r.TotalDays = days(total)
	return r, nil
}

func collectApprovals(rows *sql.Rows) ([]leave.LeaveApproval, error) {
	var out []leave.LeaveApproval
	for rows.Next() {
		var (
			a         leave.LeaveApproval
			status    string
			decidedAt sql.NullString
		)
		if err := rows.Scan(&a.RequestID, &a.Level, &a.Role, &a.ApproverID, &status, &a.Comments, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		var err error
		if a.Status, err = leave.ParseApprovalStatus(status); err != nil {
			return nil, err
		}
		if a.DecidedAt, err = parseNullTime(decidedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (leave.LedgerEntry, error) {
	var (
		e                      leave.LedgerEntry
		periodStart, createdAt string
		entryType              string
		delta                  decimal.Decimal
	)
	err := row.Scan(&e.ID, &e.Key.EmployeeID, &e.Key.LeaveTypeID, &periodStart, &entryType, &delta,
		&e.ReservationID, &e.Reference, &e.IdempotencyKey, &e.CreatedBy, &createdAt)
	if err != nil {
		return e, fmt.Errorf("scan ledger entry: %w", err)
	}
	if e.Key.PeriodStart, err = generic.ParseDate(periodStart); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	e.Type = leave.EntryType(entryType)
	e.Delta = days(delta)
	return e, nil
}
