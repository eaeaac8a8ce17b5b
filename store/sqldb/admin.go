package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// DIRECTORY (leave.Directory)
// =============================================================================

func (s *Store) HolidayListFor(ctx context.Context, employeeID leave.EmployeeID) (string, error) {
	var listID string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT holiday_list_id FROM employees WHERE id = ?`), employeeID).Scan(&listID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("employee", employeeID)
	}
	if err != nil {
		return "", fmt.Errorf("query employee %s: %w", employeeID, err)
	}
	return listID, nil
}

func (s *Store) ApproverFor(ctx context.Context, employeeID leave.EmployeeID, role leave.Role) (string, error) {
	var approverID string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT approver_id FROM approvers WHERE employee_id = ? AND role = ?`),
		employeeID, role,
	).Scan(&approverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("approver", fmt.Sprintf("%s for %s", role, employeeID))
	}
	if err != nil {
		return "", fmt.Errorf("query approver: %w", err)
	}
	return approverID, nil
}

// =============================================================================
// ADMIN (leave.Admin)
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveTypeDefinition) error {
	chain := lt.ApprovalChain
	if chain == nil {
		chain = []leave.Role{}
	}
	chainJSON, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("encode approval chain: %w", err)
	}

	query := `
		INSERT INTO leave_types (` + leaveTypeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			pay = excluded.pay,
			carry_forward = excluded.carry_forward,
			max_carry_forward = excluded.max_carry_forward,
			max_consecutive_days = excluded.max_consecutive_days,
			count_holidays = excluded.count_holidays,
			approval_chain_json = excluded.approval_chain_json`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		lt.ID, lt.Name, lt.Pay, lt.CarryForward, lt.MaxCarryForward.Value, lt.MaxConsecutiveDays.Value,
		lt.CountHolidays, string(chainJSON),
	)
	if err != nil {
		return fmt.Errorf("save leave type %s: %w", lt.ID, err)
	}
	return nil
}

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	query := `
		INSERT INTO employees (id, name, holiday_list_id) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, holiday_list_id = excluded.holiday_list_id`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), e.ID, e.Name, e.HolidayListID); err != nil {
		return fmt.Errorf("save employee %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, holiday_list_id FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		var e leave.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.HolidayListID); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SaveApprover(ctx context.Context, employeeID leave.EmployeeID, role leave.Role, approverID string) error {
	query := `
		INSERT INTO approvers (employee_id, role, approver_id) VALUES (?, ?, ?)
		ON CONFLICT (employee_id, role) DO UPDATE SET approver_id = excluded.approver_id`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), employeeID, role, approverID); err != nil {
		return fmt.Errorf("save approver %s for %s: %w", role, employeeID, err)
	}
	return nil
}

func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	query := `
		INSERT INTO holidays (id, list_id, date, name, recurring) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			list_id = excluded.list_id, date = excluded.date, name = excluded.name, recurring = excluded.recurring`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), h.ID, h.ListID, h.Date.Key(), h.Name, h.Recurring); err != nil {
		return fmt.Errorf("save holiday %s: %w", h.ID, err)
	}
	return nil
}

func (s *Store) ListHolidays(ctx context.Context, listID string) ([]generic.Holiday, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, list_id, date, name, recurring FROM holidays WHERE list_id = ? ORDER BY date, id`),
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("query holidays: %w", err)
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			date string
		)
		if err := rows.Scan(&h.ID, &h.ListID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, fmt.Errorf("scan holiday: %w", err)
		}
		if h.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
