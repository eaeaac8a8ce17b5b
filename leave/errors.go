package leave

import (
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a reservation exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSequence is returned when a level is decided before its predecessors are approved.
	ErrSequence = errors.New("approval out of sequence")

	// ErrAlreadyDecided is returned when an approval row already carries a decision.
	ErrAlreadyDecided = errors.New("approval already decided")

	// ErrAlreadyTerminal is returned when a request has left Pending.
	ErrAlreadyTerminal = errors.New("request already terminal")

	// ErrNotApprover is returned when the actor is not the approver assigned to the level.
	ErrNotApprover = errors.New("actor is not the assigned approver")

	// ErrNotFound is returned when a request, leave type, allocation or reservation is missing.
	ErrNotFound = errors.New("not found")

	// ErrReservationCommitted is returned when releasing a reservation that was committed.
	ErrReservationCommitted = errors.New("reservation already committed")

	// ErrReservationReleased is returned when committing a reservation that was released.
	ErrReservationReleased = errors.New("reservation already released")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Validation codes.
const (
	CodeRequired     = "required"
	CodeInvalid      = "invalid"
	CodeInvalidRange = "invalid_range"
	CodeZeroDays     = "zero_days"
	CodeTooLong      = "exceeds_max_consecutive"
	CodeCrossPeriod  = "spans_periods"
	CodeStale        = "stale_request"
)

// ValidationError describes malformed input.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func required(field string) error {
	return &ValidationError{Field: field, Code: CodeRequired, Message: "is required"}
}

// InsufficientBalanceError carries the shortfall so callers can render
// "available X, requested Y".
type InsufficientBalanceError struct {
	Key       AllocationKey
	Available generic.Amount
	Requested generic.Amount
	Shortfall generic.Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, shortfall %s",
		e.Key, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// SequenceError reports the level that must be decided first.
type SequenceError struct {
	RequestID    RequestID
	Level        int
	PendingLevel int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("request %s: level %d cannot be decided while level %d is pending",
		e.RequestID, e.Level, e.PendingLevel)
}

func (e *SequenceError) Unwrap() error { return ErrSequence }

// AlreadyDecidedError reports the decision already on the row.
type AlreadyDecidedError struct {
	RequestID RequestID
	Level     int
	Status    ApprovalStatus
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("request %s: level %d already %s", e.RequestID, e.Level, e.Status)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// AlreadyTerminalError reports the request's current terminal status.
type AlreadyTerminalError struct {
	RequestID RequestID
	Status    RequestStatus
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("request %s is already %s", e.RequestID, e.Status)
}

func (e *AlreadyTerminalError) Unwrap() error { return ErrAlreadyTerminal }

// NotApproverError reports who is assigned to the level.
type NotApproverError struct {
	RequestID RequestID
	Level     int
	Actor     string
	Assigned  string
}

func (e *NotApproverError) Error() string {
	return fmt.Sprintf("request %s: %q may not act at level %d (assigned %q)",
		e.RequestID, e.Actor, e.Level, e.Assigned)
}

func (e *NotApproverError) Unwrap() error { return ErrNotApprover }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports errors caused by concurrent activity on the request.
// They are safe to retry after re-fetching the request.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSequence) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrAlreadyTerminal)
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}
