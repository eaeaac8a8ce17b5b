// Package leave implements the leave lifecycle and balance accounting engine:
// day sizing, the allocation ledger, the approval chain, and the request
// state machine that ties them together.
package leave

import (
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type RequestID string
type ReservationID string

// Role names an approval level's required approver role ("manager", "hr").
type Role string

// =============================================================================
// LEAVE TYPE - Reference data, never written by the engine
// =============================================================================

type PayKind string

const (
	Paid   PayKind = "paid"
	Unpaid PayKind = "unpaid"
)

func (p PayKind) Valid() bool {
	switch p {
	case Paid, Unpaid:
		return true
	default:
		return false
	}
}

// LeaveTypeDefinition identifies a category of leave (Casual, Sick, ...).
type LeaveTypeDefinition struct {
	ID   LeaveTypeID
	Name string
	Pay  PayKind

	CarryForward    bool
	MaxCarryForward generic.Amount // zero = no cap

	MaxConsecutiveDays generic.Amount // zero = no limit
	CountHolidays      bool           // holidays inside a range are charged

	// ApprovalChain lists the role required at each level, level 1 first.
	// An empty chain approves requests at submission.
	ApprovalChain []Role
}

// =============================================================================
// REQUEST ENUMS
// =============================================================================

type Category string

const (
	FullDay    Category = "full_day"
	HalfDay    Category = "half_day"
	ShortLeave Category = "short_leave"
)

func (c Category) Valid() bool {
	switch c {
	case FullDay, HalfDay, ShortLeave:
		return true
	default:
		return false
	}
}

type HalfDayType string

const (
	HalfDayNone HalfDayType = ""
	HalfDayAM   HalfDayType = "am"
	HalfDayPM   HalfDayType = "pm"
)

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusPending:
		return false
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		panic(fmt.Sprintf("leave: unknown request status %q", string(s)))
	}
}

func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown request status %q", s)
	}
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch st := ApprovalStatus(s); st {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown approval status %q", s)
	}
}

// Decision is what an approver submits.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

func (d Decision) status() (ApprovalStatus, error) {
	switch d {
	case Approve:
		return ApprovalApproved, nil
	case Reject:
		return ApprovalRejected, nil
	default:
		return "", &ValidationError{Field: "decision", Code: "invalid", Message: fmt.Sprintf("unknown decision %q", string(d))}
	}
}

// =============================================================================
// LEAVE REQUEST & APPROVAL
// =============================================================================

type LeaveRequest struct {
	ID           RequestID
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Category     Category
	HalfDay      HalfDayType
	StartDate    generic.TimePoint
	EndDate      generic.TimePoint
	TotalDays    generic.Amount
	Reason       string
	Contact      string
	Address      string
	DocumentRefs []string

	Status        RequestStatus
	PeriodStart   generic.TimePoint
	ReservationID ReservationID

	CancelledBy  string
	CancelReason string
	CancelledAt  *time.Time

	SubmittedAt time.Time
	UpdatedAt   time.Time
	Version     int64
}

// LeaveApproval is one level of a request's sign-off chain.
type LeaveApproval struct {
	RequestID  RequestID
	Level      int
	Role       Role
	ApproverID string
	Status     ApprovalStatus
	Comments   string
	DecidedAt  *time.Time
}

// RequestDetail is a request with its full approval history.
type RequestDetail struct {
	Request   LeaveRequest
	Approvals []LeaveApproval
}

// NextPendingLevel returns the first undecided level, or 0 when none.
func (d RequestDetail) NextPendingLevel() int {
	for _, a := range d.Approvals {
		if a.Status == ApprovalPending {
			return a.Level
		}
	}
	return 0
}

// =============================================================================
// ALLOCATION - The ledger row
// =============================================================================

// AllocationKey identifies one ledger row.
type AllocationKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	PeriodStart generic.TimePoint
}

func (k AllocationKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.EmployeeID, k.LeaveTypeID, k.PeriodStart)
}

// Allocation is the balance row for (employee, leave type, period).
type Allocation struct {
	Key          AllocationKey
	PeriodEnd    generic.TimePoint
	Allocated    generic.Amount
	CarryForward generic.Amount
	Used         generic.Amount
	Reserved     generic.Amount
	CarriedOut   generic.Amount // taken by the next period as carry-forward
	Version      int64
	UpdatedAt    time.Time
}

// Available is the single place the balance formula lives:
// allocated + carry forward - used - reserved - carried out.
func (a Allocation) Available() generic.Amount {
	return a.Allocated.Add(a.CarryForward).Sub(a.Used).Sub(a.Reserved).Sub(a.CarriedOut)
}

// BalanceLine is one row of an employee's balance summary.
type BalanceLine struct {
	LeaveTypeID     LeaveTypeID
	LeaveTypeName   string
	Period          generic.Period
	Allocated       generic.Amount
	CarryForward    generic.Amount
	Used            generic.Amount
	PendingReserved generic.Amount
	CarriedOut      generic.Amount
	Available       generic.Amount
}

// =============================================================================
// RESERVATION - Handle for a provisional hold
// =============================================================================

type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

func ParseReservationState(s string) (ReservationState, error) {
	switch st := ReservationState(s); st {
	case ReservationHeld, ReservationCommitted, ReservationReleased:
		return st, nil
	default:
		return "", fmt.Errorf("unknown reservation state %q", s)
	}
}

type Reservation struct {
	ID        ReservationID
	Key       AllocationKey
	Days      generic.Amount
	State     ReservationState
	Reference string // request ID the hold belongs to
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Append-only journal of ledger mutations
// =============================================================================

type EntryType string

const (
	EntryReserve  EntryType = "reserve"
	EntryCommit   EntryType = "commit"
	EntryRelease  EntryType = "release"
	EntryAllot    EntryType = "allot"
	EntryCarryOut EntryType = "carry_out"
)

// LedgerEntry records one mutation of an allocation row. Entries are never
// updated or deleted; the idempotency key is unique.
type LedgerEntry struct {
	ID             string
	Key            AllocationKey
	Type           EntryType
	Delta          generic.Amount
	ReservationID  ReservationID
	Reference      string
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}
