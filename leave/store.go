/*
store.go - Persistence contract for the leave engine

PURPOSE:
  Defines what the engine needs from storage. Implementations live in
  store/memory (tests, development), store/sqlite and store/postgres.

KEY INTERFACES:
  Store:     Reads plus WithTx for atomic multi-row writes
  Tx:        The transactional view every mutation goes through
  Directory: Identity/role provider (holiday list, approver per role)
  Admin:     Reference-data seeding (leave types, employees, approvers)

LOCKING CONTRACT:
  Every *ForUpdate read takes the row for the rest of the transaction:
  PostgreSQL uses SELECT ... FOR UPDATE, SQLite an immediate write
  transaction, the memory store a version check at commit. Every Update* is
  a compare-and-swap on the row version and returns
  generic.ErrConcurrentModification when it misses. Callers wrap WithTx in
  generic.RetryPolicy.Do.

APPEND-ONLY:
  Ledger entries and approval history are never deleted. Approval rows are
  updated once (Pending -> decided).
*/
package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID EmployeeID
	Status     RequestStatus
	Limit      int
}

// Store is the engine's storage.
type Store interface {
	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveTypeDefinition, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveTypeDefinition, error)

	GetRequest(ctx context.Context, id RequestID) (*LeaveRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
	ListApprovals(ctx context.Context, id RequestID) ([]LeaveApproval, error)
	// ListPendingApprovals returns undecided rows of Pending requests assigned to approverID.
	ListPendingApprovals(ctx context.Context, approverID string) ([]LeaveApproval, error)

	ListAllocations(ctx context.Context, employeeID EmployeeID, periodStart generic.TimePoint) ([]Allocation, error)
	ListEntries(ctx context.Context, employeeID EmployeeID) ([]LedgerEntry, error)
}

// Tx is the transactional view of the store.
type Tx interface {
	GetAllocationForUpdate(ctx context.Context, key AllocationKey) (*Allocation, error)
	InsertAllocation(ctx context.Context, a *Allocation) error
	UpdateAllocation(ctx context.Context, a *Allocation) error

	InsertReservation(ctx context.Context, r *Reservation) error
	GetReservationForUpdate(ctx context.Context, id ReservationID) (*Reservation, error)
	UpdateReservation(ctx context.Context, r *Reservation) error

	InsertRequest(ctx context.Context, r *LeaveRequest) error
	GetRequestForUpdate(ctx context.Context, id RequestID) (*LeaveRequest, error)
	UpdateRequest(ctx context.Context, r *LeaveRequest) error

	InsertApprovals(ctx context.Context, rows []LeaveApproval) error
	ListApprovals(ctx context.Context, id RequestID) ([]LeaveApproval, error)
	UpdateApproval(ctx context.Context, a *LeaveApproval) error

	AppendEntry(ctx context.Context, e LedgerEntry) error
}

// Directory resolves who an employee is to the engine: which holiday list
// applies and which identity approves for each role.
type Directory interface {
	HolidayListFor(ctx context.Context, employeeID EmployeeID) (string, error)
	ApproverFor(ctx context.Context, employeeID EmployeeID, role Role) (string, error)
}

// Employee is the directory record.
type Employee struct {
	ID            EmployeeID
	Name          string
	HolidayListID string
}

// Admin seeds reference data. It is not used by the engine itself.
type Admin interface {
	SaveLeaveType(ctx context.Context, lt LeaveTypeDefinition) error
	SaveEmployee(ctx context.Context, e Employee) error
	ListEmployees(ctx context.Context) ([]Employee, error)
	SaveApprover(ctx context.Context, employeeID EmployeeID, role Role, approverID string) error
	SaveHoliday(ctx context.Context, h generic.Holiday) error
	ListHolidays(ctx context.Context, listID string) ([]generic.Holiday, error)
}

// Backend is everything a storage adapter provides.
type Backend interface {
	Store
	Directory
	Admin
}
