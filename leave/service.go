/*
service.go - Request lifecycle: submit, decide, cancel

PURPOSE:
  The public face of the engine. Ties the calendar resolver, the balance
  ledger and the approval orchestrator together so that every lifecycle
  transition is one store transaction.

STATE MACHINE:
                      ┌──────────────┐
          Submit ───▶ │   Pending    │ ──── Decide(approve, last level) ──▶ Approved
                      └──────────────┘ ──── Decide(reject, any level)   ──▶ Rejected
                                       ──── Cancel                      ──▶ Cancelled

  Approved, Rejected and Cancelled are terminal. An empty approval chain
  finalizes the request as Approved inside the Submit transaction.

LEDGER EFFECTS:
  Submit   reserve(totalDays)
  Approved commit(reservation)
  Rejected release(reservation)
  Cancel   release(reservation)

CONCURRENCY:
  Every transition re-reads the request for update and writes it back with a
  version compare-and-swap, so two decisions (or a decision and a cancel)
  on the same request serialize. The loser sees the winner's state on retry
  and fails with a SequenceError, AlreadyDecidedError or AlreadyTerminalError.
  Only generic.ErrConcurrentModification is retried.

SEE ALSO:
  - ledger.go: Reserve, commit, release
  - approval.go: Routing and decision rules
  - calendar.go: Day sizing
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
)

type Service struct {
	Store     Store
	Ledger    *Ledger
	Calendar  *CalendarResolver
	Approvals *Orchestrator
	Periods   generic.PeriodConfig
	Retry     generic.RetryPolicy
	Notifier  Notifier
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option              { return func(s *Service) { s.Logger = l } }
func WithNotifier(n Notifier) Option                { return func(s *Service) { s.Notifier = n } }
func WithPeriods(p generic.PeriodConfig) Option     { return func(s *Service) { s.Periods = p } }
func WithRetry(p generic.RetryPolicy) Option        { return func(s *Service) { s.Retry = p } }
func WithWeeklyOff(w generic.WeeklyOff) Option      { return func(s *Service) { s.Calendar.WeeklyOff = w } }
func WithClock(now func() time.Time) Option         { return func(s *Service) { s.Now = now } }
func WithIDGenerator(next func() string) Option     { return func(s *Service) { s.NewID = next } }
func WithHolidays(h generic.HolidayCalendar) Option { return func(s *Service) { s.Calendar.Holidays = h } }

// NewService wires the engine over store, whose Directory resolves holiday
// lists and approvers. The ledger shares the service's clock, IDs and retry
// policy.
func NewService(store Store, dir Directory, opts ...Option) *Service {
	s := &Service{
		Store:     store,
		Calendar:  &CalendarResolver{Directory: dir, Holidays: generic.NoHolidays{}, WeeklyOff: generic.DefaultWeeklyOff()},
		Approvals: &Orchestrator{Directory: dir},
		Periods:   generic.PeriodConfig{Type: generic.PeriodCalendarYear},
		Retry:     generic.DefaultRetryPolicy(),
		Notifier:  NopNotifier{},
		Logger:    slog.Default(),
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Ledger = &Ledger{Store: store, Retry: s.Retry, Now: s.Now, NewID: s.NewID}
	return s
}

// =============================================================================
// SUBMIT
// =============================================================================

type SubmitInput struct {
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Category     Category
	HalfDay      HalfDayType
	StartDate    generic.TimePoint
	EndDate      generic.TimePoint
	Reason       string
	Contact      string
	Address      string
	DocumentRefs []string

	// ExpectedDays is the size the caller displayed before submitting. When
	// set, a different server-side size fails the submission as stale.
	ExpectedDays *generic.Amount
}

func (in SubmitInput) validate() error {
	if in.EmployeeID == "" {
		return required("employee_id")
	}
	if in.LeaveTypeID == "" {
		return required("leave_type_id")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return required("reason")
	}
	return nil
}

// Submit sizes the request, reserves its days and stores it Pending together
// with one Pending approval row per level. Nothing is stored when the
// reservation fails.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*RequestDetail, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// Bound the range before sizing walks it. Missing and inverted dates are
	// reported by Size.
	period := s.Periods.PeriodFor(in.StartDate)
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && !in.EndDate.Before(in.StartDate) && !period.Contains(in.EndDate) {
		return nil, &ValidationError{
			Field:   "end_date",
			Code:    CodeCrossPeriod,
			Message: fmt.Sprintf("request spans beyond the accounting period %s", period),
		}
	}

	lt, err := s.Store.GetLeaveType(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	days, err := s.Calendar.Size(ctx, in.EmployeeID, SizeInput{
		Category:      in.Category,
		HalfDay:       in.HalfDay,
		Start:         in.StartDate,
		End:           in.EndDate,
		CountHolidays: lt.CountHolidays,
	})
	if err != nil {
		return nil, err
	}
	if !days.IsPositive() {
		return nil, &ValidationError{Field: "end_date", Code: CodeZeroDays, Message: "range contains no working days"}
	}
	if lt.MaxConsecutiveDays.IsPositive() && days.GreaterThan(lt.MaxConsecutiveDays) {
		return nil, &ValidationError{
			Field:   "end_date",
			Code:    CodeTooLong,
			Message: fmt.Sprintf("%s days exceeds the %s day limit for %s", days, lt.MaxConsecutiveDays, lt.Name),
		}
	}
	if in.ExpectedDays != nil && !in.ExpectedDays.Equal(days) {
		return nil, staleSize(*in.ExpectedDays, days)
	}

	now := s.Now().UTC()
	req := LeaveRequest{
		ID:           RequestID(s.NewID()),
		EmployeeID:   in.EmployeeID,
		LeaveTypeID:  in.LeaveTypeID,
		Category:     in.Category,
		HalfDay:      in.HalfDay,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		TotalDays:    days,
		Reason:       strings.TrimSpace(in.Reason),
		Contact:      in.Contact,
		Address:      in.Address,
		DocumentRefs: in.DocumentRefs,
		Status:       StatusPending,
		PeriodStart:  period.Start,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}

	chain, err := s.Approvals.Route(ctx, &req, lt)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	key := AllocationKey{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, PeriodStart: period.Start}
	actor := string(in.EmployeeID)

	var detail *RequestDetail
	err = s.transact(ctx, "submit", func(tx Tx) error {
		r := req
		rows := append([]LeaveApproval(nil), chain...)

		res, err := s.Ledger.ReserveTx(ctx, tx, key, days, string(r.ID), actor)
		if err != nil {
			return err
		}
		r.ReservationID = res.ID

		if len(rows) == 0 {
			if _, err := s.Ledger.CommitTx(ctx, tx, res.ID, actor); err != nil {
				return err
			}
			r.Status = StatusApproved
		}

		if err := tx.InsertRequest(ctx, &r); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.InsertApprovals(ctx, rows); err != nil {
				return fmt.Errorf("insert approvals: %w", err)
			}
		}
		detail = &RequestDetail{Request: r, Approvals: rows}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.InfoContext(ctx, "leave request submitted",
		slog.String("request_id", string(detail.Request.ID)),
		slog.String("employee_id", string(in.EmployeeID)),
		slog.String("leave_type_id", string(in.LeaveTypeID)),
		slog.String("days", days.String()),
		slog.String("status", string(detail.Request.Status)),
		slog.Int("levels", len(detail.Approvals)),
	)
	s.notify(ctx, eventFor(EventSubmitted, detail, 0, actor, now))
	if detail.Request.Status == StatusApproved {
		s.notify(ctx, eventFor(EventApproved, detail, 0, actor, now))
	}
	return detail, nil
}

// =============================================================================
// DECIDE
// =============================================================================

type DecideInput struct {
	RequestID  RequestID
	Level      int
	ApproverID string
	Decision   Decision
	Comments   string
}

// Decide records one approver's decision. A rejection finalizes the request
// and releases its reservation. An approval at the last level re-sizes the
// request, finalizes it and commits the reservation.
//
// If the calendar has changed the request's size since submission, the final
// approval is recorded as a rejection and the reservation is released. The
// final detail is returned together with a CodeStale error.
func (s *Service) Decide(ctx context.Context, in DecideInput) (*RequestDetail, error) {
	if in.RequestID == "" {
		return nil, required("request_id")
	}
	if in.ApproverID == "" {
		return nil, required("approver_id")
	}
	if _, err := in.Decision.status(); err != nil {
		return nil, err
	}

	// Sizing reads the holiday calendar, which may live in the same database,
	// so it happens before the transaction opens.
	var resized *generic.Amount
	if in.Decision == Approve {
		req, err := s.Store.GetRequest(ctx, in.RequestID)
		if err != nil {
			return nil, fmt.Errorf("decide: %w", err)
		}
		if !req.Status.Terminal() {
			days, err := s.resize(ctx, req)
			if err != nil {
				return nil, err
			}
			resized = &days
		}
	}

	var (
		detail   *RequestDetail
		outcome  RequestStatus
		now      time.Time
		staleErr error
	)
	err := s.transact(ctx, "decide", func(tx Tx) error {
		staleErr = nil
		req, err := tx.GetRequestForUpdate(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return &AlreadyTerminalError{RequestID: req.ID, Status: req.Status}
		}
		rows, err := tx.ListApprovals(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}

		now = s.Now().UTC()
		idx, status, err := RecordDecision(req.ID, rows, DecisionInput{
			Level:      in.Level,
			ApproverID: in.ApproverID,
			Decision:   in.Decision,
			Comments:   in.Comments,
			At:         now,
		})
		if err != nil {
			return err
		}
		if status == StatusApproved && (resized == nil || !resized.Equal(req.TotalDays)) {
			current := req.TotalDays.Zero()
			if resized != nil {
				current = *resized
			}
			staleErr = staleSize(req.TotalDays, current)
			rows[idx].Status = ApprovalRejected
			rows[idx].Comments = staleErr.Error()
			status = StatusRejected
		}

		switch status {
		case StatusPending:
		case StatusRejected:
			if _, err := s.Ledger.ReleaseTx(ctx, tx, req.ReservationID, in.ApproverID); err != nil {
				return err
			}
		case StatusApproved:
			if _, err := s.Ledger.CommitTx(ctx, tx, req.ReservationID, in.ApproverID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("decide %s: unexpected outcome %q", req.ID, status)
		}

		if err := tx.UpdateApproval(ctx, &rows[idx]); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
		req.Status = status
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		outcome = status
		detail = &RequestDetail{Request: *req, Approvals: rows}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.InfoContext(ctx, "approval recorded",
		slog.String("request_id", string(in.RequestID)),
		slog.Int("level", in.Level),
		slog.String("approver_id", in.ApproverID),
		slog.String("decision", string(in.Decision)),
		slog.String("status", string(outcome)),
	)
	switch outcome {
	case StatusPending:
		s.notify(ctx, eventFor(EventLevelApproved, detail, in.Level, in.ApproverID, now))
	case StatusApproved:
		s.notify(ctx, eventFor(EventApproved, detail, in.Level, in.ApproverID, now))
	case StatusRejected:
		s.notify(ctx, eventFor(EventRejected, detail, in.Level, in.ApproverID, now))
	}
	if staleErr != nil {
		s.Logger.WarnContext(ctx, "final approval rejected as stale",
			slog.String("request_id", string(in.RequestID)),
			slog.Any("error", staleErr),
		)
		return detail, staleErr
	}
	return detail, nil
}

func (s *Service) resize(ctx context.Context, req *LeaveRequest) (generic.Amount, error) {
	lt, err := s.Store.GetLeaveType(ctx, req.LeaveTypeID)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("resize %s: %w", req.ID, err)
	}
	return s.Calendar.Size(ctx, req.EmployeeID, SizeInput{
		Category:      req.Category,
		HalfDay:       req.HalfDay,
		Start:         req.StartDate,
		End:           req.EndDate,
		CountHolidays: lt.CountHolidays,
	})
}

func staleSize(recorded, current generic.Amount) error {
	return &ValidationError{
		Field:   "total_days",
		Code:    CodeStale,
		Message: fmt.Sprintf("request was sized at %s days but now sizes at %s days", recorded, current),
	}
}

// =============================================================================
// CANCEL
// =============================================================================

type CancelInput struct {
	RequestID RequestID
	ActorID   string
	Reason    string
}

// Cancel withdraws a Pending request, including one that some levels have
// already approved. The employee and any approver on the chain may cancel.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (*RequestDetail, error) {
	if in.RequestID == "" {
		return nil, required("request_id")
	}
	if in.ActorID == "" {
		return nil, required("cancelled_by")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, required("reason")
	}

	var (
		detail *RequestDetail
		now    time.Time
	)
	err := s.transact(ctx, "cancel", func(tx Tx) error {
		req, err := tx.GetRequestForUpdate(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return &AlreadyTerminalError{RequestID: req.ID, Status: req.Status}
		}
		rows, err := tx.ListApprovals(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		if in.ActorID != string(req.EmployeeID) && !isChainApprover(rows, in.ActorID) {
			return &NotApproverError{RequestID: req.ID, Actor: in.ActorID, Assigned: string(req.EmployeeID)}
		}

		if _, err := s.Ledger.ReleaseTx(ctx, tx, req.ReservationID, in.ActorID); err != nil {
			return err
		}

		now = s.Now().UTC()
		cancelledAt := now
		req.Status = StatusCancelled
		req.CancelledBy = in.ActorID
		req.CancelReason = strings.TrimSpace(in.Reason)
		req.CancelledAt = &cancelledAt
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		detail = &RequestDetail{Request: *req, Approvals: rows}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.InfoContext(ctx, "leave request cancelled",
		slog.String("request_id", string(in.RequestID)),
		slog.String("cancelled_by", in.ActorID),
	)
	s.notify(ctx, eventFor(EventCancelled, detail, 0, in.ActorID, now))
	return detail, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// BalanceSummary lists every allocation the employee holds in the period
// containing asOf.
func (s *Service) BalanceSummary(ctx context.Context, employeeID EmployeeID, asOf generic.TimePoint) ([]BalanceLine, error) {
	if employeeID == "" {
		return nil, required("employee_id")
	}
	if asOf.IsZero() {
		asOf = generic.DateOf(s.Now())
	}
	lines, err := s.Ledger.Balances(ctx, employeeID, s.Periods.PeriodFor(asOf))
	if err != nil {
		return nil, err
	}

	types, err := s.Store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leave types: %w", err)
	}
	names := make(map[LeaveTypeID]string, len(types))
	for _, lt := range types {
		names[lt.ID] = lt.Name
	}
	for i := range lines {
		lines[i].LeaveTypeName = names[lines[i].LeaveTypeID]
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].LeaveTypeID < lines[j].LeaveTypeID })
	return lines, nil
}

// RequestDetail returns the request with its full approval history.
func (s *Service) RequestDetail(ctx context.Context, id RequestID) (*RequestDetail, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.Store.ListApprovals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return &RequestDetail{Request: *req, Approvals: rows}, nil
}

func (s *Service) ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error) {
	if filter.Status != "" {
		if _, err := ParseRequestStatus(string(filter.Status)); err != nil {
			return nil, &ValidationError{Field: "status", Code: CodeInvalid, Message: err.Error()}
		}
	}
	return s.Store.ListRequests(ctx, filter)
}

// PendingFor lists the Pending requests currently waiting on approverID,
// meaning the approver holds the lowest undecided level.
func (s *Service) PendingFor(ctx context.Context, approverID string) ([]RequestDetail, error) {
	if approverID == "" {
		return nil, required("approver_id")
	}
	rows, err := s.Store.ListPendingApprovals(ctx, approverID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}

	var out []RequestDetail
	seen := map[RequestID]bool{}
	for _, row := range rows {
		if seen[row.RequestID] {
			continue
		}
		seen[row.RequestID] = true
		d, err := s.RequestDetail(ctx, row.RequestID)
		if err != nil {
			return nil, err
		}
		if d.Request.Status != StatusPending {
			continue
		}
		next := d.NextPendingLevel()
		for _, a := range d.Approvals {
			if a.Level == next && a.ApproverID == approverID {
				out = append(out, *d)
				break
			}
		}
	}
	return out, nil
}

// Journal lists the employee's ledger entries, oldest first.
func (s *Service) Journal(ctx context.Context, employeeID EmployeeID) ([]LedgerEntry, error) {
	if employeeID == "" {
		return nil, required("employee_id")
	}
	return s.Store.ListEntries(ctx, employeeID)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) transact(ctx context.Context, op string, fn func(tx Tx) error) error {
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		return s.Store.WithTx(ctx, fn)
	})
	if errors.Is(err, generic.ErrContention) {
		s.Logger.WarnContext(ctx, "leave transaction gave up under contention",
			slog.String("op", op),
			slog.Any("error", err),
		)
	}
	return err
}

func (s *Service) notify(ctx context.Context, ev Event) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		s.Logger.ErrorContext(ctx, "leave notification failed",
			slog.String("event", string(ev.Type)),
			slog.String("request_id", string(ev.RequestID)),
			slog.Any("error", err),
		)
	}
}
