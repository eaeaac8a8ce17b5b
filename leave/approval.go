package leave

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// APPROVAL ORCHESTRATOR - Who signs off, and in which order
// =============================================================================

// Orchestrator materializes a request's approval chain and records decisions
// against it. Levels are strictly sequential: level k may only be decided once
// every level below it is Approved.
type Orchestrator struct {
	Directory Directory
}

// Route resolves the leave type's approval chain into one Pending row per
// level, each assigned to the identity the directory returns for that role.
// An empty chain yields no rows.
func (o *Orchestrator) Route(ctx context.Context, req *LeaveRequest, lt *LeaveTypeDefinition) ([]LeaveApproval, error) {
	rows := make([]LeaveApproval, 0, len(lt.ApprovalChain))
	for i, role := range lt.ApprovalChain {
		level := i + 1
		if o.Directory == nil {
			return nil, fmt.Errorf("route level %d: no directory configured", level)
		}
		approver, err := o.Directory.ApproverFor(ctx, req.EmployeeID, role)
		if err != nil {
			return nil, fmt.Errorf("route level %d (%s): %w", level, role, err)
		}
		if strings.TrimSpace(approver) == "" {
			return nil, &ValidationError{
				Field:   "approval_chain",
				Code:    CodeRequired,
				Message: fmt.Sprintf("no %s assigned to employee %s", role, req.EmployeeID),
			}
		}
		rows = append(rows, LeaveApproval{
			RequestID:  req.ID,
			Level:      level,
			Role:       role,
			ApproverID: approver,
			Status:     ApprovalPending,
		})
	}
	return rows, nil
}

// DecisionInput is one approver's verdict on one level.
type DecisionInput struct {
	Level      int
	ApproverID string
	Decision   Decision
	Comments   string
	At         time.Time
}

// RecordDecision applies in to rows and returns the request status it implies:
// Rejected on any rejection, Approved once the last level approves, Pending
// otherwise. rows is only modified when no error is returned; the decided row
// is updated in place and its index returned.
func RecordDecision(requestID RequestID, rows []LeaveApproval, in DecisionInput) (int, RequestStatus, error) {
	status, err := in.Decision.status()
	if err != nil {
		return -1, "", err
	}

	idx := -1
	for i := range rows {
		if rows[i].Level == in.Level {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1, "", &ValidationError{Field: "level", Code: CodeInvalid, Message: fmt.Sprintf("request %s has no approval level %d", requestID, in.Level)}
	}

	row := rows[idx]
	switch row.Status {
	case ApprovalPending:
	case ApprovalApproved, ApprovalRejected:
		return -1, "", &AlreadyDecidedError{RequestID: requestID, Level: row.Level, Status: row.Status}
	default:
		return -1, "", fmt.Errorf("request %s level %d: unknown approval status %q", requestID, row.Level, row.Status)
	}

	for _, prior := range rows {
		if prior.Level < in.Level && prior.Status != ApprovalApproved {
			return -1, "", &SequenceError{RequestID: requestID, Level: in.Level, PendingLevel: prior.Level}
		}
	}

	if row.ApproverID != in.ApproverID {
		return -1, "", &NotApproverError{RequestID: requestID, Level: row.Level, Actor: in.ApproverID, Assigned: row.ApproverID}
	}

	at := in.At
	rows[idx].Status = status
	rows[idx].Comments = in.Comments
	rows[idx].DecidedAt = &at

	switch status {
	case ApprovalRejected:
		return idx, StatusRejected, nil
	case ApprovalApproved:
		for _, r := range rows {
			if r.Status != ApprovalApproved {
				return idx, StatusPending, nil
			}
		}
		return idx, StatusApproved, nil
	default:
		panic(fmt.Sprintf("leave: unhandled approval status %q", status))
	}
}

// isChainApprover reports whether actor is assigned to any level of rows.
func isChainApprover(rows []LeaveApproval, actor string) bool {
	for _, r := range rows {
		if r.ApproverID == actor {
			return true
		}
	}
	return false
}
