package leave

import (
	"context"
	"time"
)

// =============================================================================
// NOTIFICATIONS - Post-commit events for the outside world
// =============================================================================

type EventType string

const (
	EventSubmitted     EventType = "submitted"
	EventLevelApproved EventType = "level_approved"
	EventApproved      EventType = "approved"
	EventRejected      EventType = "rejected"
	EventCancelled     EventType = "cancelled"
)

// Event describes a committed lifecycle transition. NextApproverID is set
// when the request is waiting on someone.
type Event struct {
	Type           EventType     `json:"type"`
	RequestID      RequestID     `json:"request_id"`
	EmployeeID     EmployeeID    `json:"employee_id"`
	LeaveTypeID    LeaveTypeID   `json:"leave_type_id"`
	Status         RequestStatus `json:"status"`
	Days           string        `json:"days"`
	Level          int           `json:"level,omitempty"`
	ActorID        string        `json:"actor_id,omitempty"`
	NextApproverID string        `json:"next_approver_id,omitempty"`
	At             time.Time     `json:"at"`
}

// Notifier receives events after the transaction that produced them commits.
// Errors are logged by the service and never undo the transition.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

func eventFor(typ EventType, d *RequestDetail, level int, actor string, at time.Time) Event {
	ev := Event{
		Type:        typ,
		RequestID:   d.Request.ID,
		EmployeeID:  d.Request.EmployeeID,
		LeaveTypeID: d.Request.LeaveTypeID,
		Status:      d.Request.Status,
		Days:        d.Request.TotalDays.String(),
		Level:       level,
		ActorID:     actor,
		At:          at,
	}
	if d.Request.Status == StatusPending {
		if next := d.NextPendingLevel(); next > 0 {
			for _, a := range d.Approvals {
				if a.Level == next {
					ev.NextApproverID = a.ApproverID
				}
			}
		}
	}
	return ev
}
