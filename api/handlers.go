/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave.Service over REST. Handlers decode and validate the body,
  call one service operation, and serialize the result. No business rule
  lives here.

ENDPOINTS:
  Employees:
    POST   /api/employees                        Upsert employee
    POST   /api/employees/{id}/approvers         Set approver for a role
    GET    /api/employees/{id}/balances          Balance summary (?as_of=)
    GET    /api/employees/{id}/requests          List requests (?status=)
    POST   /api/employees/{id}/requests          Submit a leave request
    GET    /api/employees/{id}/journal           Ledger journal

  Requests:
    GET    /api/requests/{id}                    Request with approval history
    POST   /api/requests/{id}/approvals/{level}  Approve or reject a level
    POST   /api/requests/{id}/cancel             Cancel a pending request
    GET    /api/approvers/{id}/pending           Requests waiting on an approver

  Reference data:
    GET/POST /api/leave-types
    POST     /api/allocations
    GET/POST /api/holidays

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON
  - 403: Actor is not the assigned approver
  - 404: Request, leave type, allocation or employee not found
  - 409: Insufficient balance, out of sequence, already decided, already terminal
  - 422: Validation errors
  - 503: Contention on a ledger row, retry later
  - 500: Internal errors

SECURITY NOTE:
  Actor identities (approver_id, actor_id) come from the request body.
  Authentication belongs in front of this API.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/holiday"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Dependencies collects what the handlers need.
type Dependencies struct {
	Service     *leave.Service
	Provisioner *leave.Provisioner
	Admin       leave.Admin
	Holidays    *holiday.Manager
	// Rollover defaults to a scheduler over Admin and Provisioner that is
	// only run on demand.
	Rollover *RolloverScheduler
	// Reset clears the store before a demo scenario loads. Scenario loading
	// is refused when nil.
	Reset  func(ctx context.Context) error
	Logger *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc         *leave.Service
	provisioner *leave.Provisioner
	admin       leave.Admin
	holidays    *holiday.Manager
	rollover    *RolloverScheduler
	reset       func(ctx context.Context) error
	logger      *slog.Logger
	validate    *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rollover := deps.Rollover
	if rollover == nil {
		rollover = NewRolloverScheduler(deps.Admin, deps.Provisioner, logger)
	}
	return &Handler{
		svc:         deps.Service,
		rollover:    rollover,
		provisioner: deps.Provisioner,
		admin:       deps.Admin,
		holidays:    deps.Holidays,
		reset:       deps.Reset,
		logger:      logger,
		validate:    validator.New(),
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// SaveEmployee creates or updates an employee.
// POST /api/employees
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	e := leave.Employee{ID: leave.EmployeeID(req.ID), Name: req.Name, HolidayListID: req.HolidayListID}
	if err := h.admin.SaveEmployee(r.Context(), e); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EmployeeDTO{ID: req.ID, Name: req.Name, HolidayListID: req.HolidayListID})
}

// SaveApprover assigns the approver of a role for the employee.
// POST /api/employees/{id}/approvers
func (h *Handler) SaveApprover(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "id"))
	var req ApproverRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.admin.SaveApprover(r.Context(), employeeID, leave.Role(req.Role), req.ApproverID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee_id": employeeID,
		"role":        req.Role,
		"approver_id": req.ApproverID,
	})
}

// GetBalances returns the employee's balance summary.
// GET /api/employees/{id}/balances?as_of=2025-03-01
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "id"))

	var asOf generic.TimePoint
	if s := r.URL.Query().Get("as_of"); s != "" {
		var err error
		if asOf, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid as_of (use YYYY-MM-DD)", err)
			return
		}
	}

	lines, err := h.svc.BalanceSummary(r.Context(), employeeID, asOf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]BalanceLineDTO, 0, len(lines))
	for _, l := range lines {
		dtos = append(dtos, toBalanceLineDTO(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"employee_id": employeeID, "balances": dtos})
}

// ListRequests lists the employee's requests, newest first.
// GET /api/employees/{id}/requests?status=pending
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := leave.RequestFilter{
		EmployeeID: leave.EmployeeID(chi.URLParam(r, "id")),
		Status:     leave.RequestStatus(r.URL.Query().Get("status")),
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	reqs, err := h.svc.ListRequests(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]RequestDTO, 0, len(reqs))
	for _, req := range reqs {
		dtos = append(dtos, toRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": dtos})
}

// SubmitRequest submits a leave request for the employee.
// POST /api/employees/{id}/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid start_date", err)
		return
	}
	end := start
	if req.EndDate != "" {
		if end, err = generic.ParseDate(req.EndDate); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid end_date", err)
			return
		}
	}

	in := leave.SubmitInput{
		EmployeeID:   leave.EmployeeID(chi.URLParam(r, "id")),
		LeaveTypeID:  leave.LeaveTypeID(req.LeaveTypeID),
		Category:     leave.Category(req.Category),
		HalfDay:      leave.HalfDayType(req.HalfDay),
		StartDate:    start,
		EndDate:      end,
		Reason:       req.Reason,
		Contact:      req.Contact,
		Address:      req.Address,
		DocumentRefs: req.DocumentRefs,
	}
	if req.ExpectedDays != "" {
		expected, err := generic.ParseDays(req.ExpectedDays)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid expected_days", err)
			return
		}
		in.ExpectedDays = &expected
	}

	detail, err := h.svc.Submit(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDetailDTO(*detail))
}

// GetJournal lists the employee's ledger entries.
// GET /api/employees/{id}/journal
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Journal(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": dtos})
}

// =============================================================================
// REQUEST WORKFLOW HANDLERS
// =============================================================================

// GetRequest returns a request with its full approval history.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.RequestDetail(r.Context(), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDetailDTO(*detail))
}

// DecideLevel records an approve or reject decision for one level.
// POST /api/requests/{id}/approvals/{level}
func (h *Handler) DecideLevel(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level < 1 {
		writeError(w, http.StatusUnprocessableEntity, "Invalid level", err)
		return
	}
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	detail, err := h.svc.Decide(r.Context(), leave.DecideInput{
		RequestID:  leave.RequestID(chi.URLParam(r, "id")),
		Level:      level,
		ApproverID: req.ApproverID,
		Decision:   leave.Decision(req.Decision),
		Comments:   req.Comments,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDetailDTO(*detail))
}

// CancelRequest cancels a pending request and releases its reservation.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := h.svc.Cancel(r.Context(), leave.CancelInput{
		RequestID: leave.RequestID(chi.URLParam(r, "id")),
		ActorID:   req.ActorID,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDetailDTO(*detail))
}

// ListPending returns the requests whose next level waits on the approver.
// GET /api/approvers/{id}/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.PendingFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]RequestDetailDTO, 0, len(details))
	for _, d := range details {
		dtos = append(dtos, toRequestDetailDTO(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": dtos})
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// ListLeaveTypes returns every leave type.
// GET /api/leave-types
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.Store.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]LeaveTypeDTO, 0, len(types))
	for _, lt := range types {
		dtos = append(dtos, toLeaveTypeDTO(lt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"leave_types": dtos})
}

// SaveLeaveType creates or updates a leave type.
// POST /api/leave-types
func (h *Handler) SaveLeaveType(w http.ResponseWriter, r *http.Request) {
	var req LeaveTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	lt, err := req.toLeaveType()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid leave type", err)
		return
	}
	if err := h.admin.SaveLeaveType(r.Context(), lt); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveTypeDTO(lt))
}

// ProvisionAllocation opens or resizes an allocation row.
// POST /api/allocations
func (h *Handler) ProvisionAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := generic.ParseDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid as_of", err)
		return
	}
	allocated, err := generic.ParseDays(req.Allocated)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid allocated", err)
		return
	}
	in := leave.ProvisionInput{
		EmployeeID:  leave.EmployeeID(req.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID),
		AsOf:        asOf,
		Allocated:   allocated,
	}
	if req.CarryForward != "" {
		carry, err := generic.ParseDays(req.CarryForward)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid carry_forward", err)
			return
		}
		in.CarryForward = &carry
	}

	a, err := h.provisioner.Provision(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*a))
}

// ListHolidays returns the holidays of a list.
// GET /api/holidays?list=default
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	listID := r.URL.Query().Get("list")
	if listID == "" {
		writeError(w, http.StatusUnprocessableEntity, "list is required", nil)
		return
	}
	holidays, err := h.holidays.List(r.Context(), listID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, toHolidayDTO(hol))
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday adds a holiday and invalidates cached lookups of its list.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	saved, err := h.holidays.Add(r.Context(), generic.Holiday{
		ListID:    req.ListID,
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolidayDTO(saved))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads the JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			writeError(w, http.StatusUnprocessableEntity, "Invalid request", err)
			return false
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Invalid request",
			Code:    leave.CodeInvalid,
			Details: fields,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the engine's error taxonomy to HTTP.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *leave.ValidationError
		balance    *leave.InsufficientBalanceError
		sequence   *leave.SequenceError
		decided    *leave.AlreadyDecidedError
		terminal   *leave.AlreadyTerminalError
		approver   *leave.NotApproverError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: validation.Error(),
			Code:  validation.Code,
			Field: validation.Field,
		})
	case errors.Is(err, holiday.ErrInvalid), errors.Is(err, generic.ErrInvalidPeriod):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: leave.CodeInvalid})
	case errors.Is(err, leave.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.As(err, &approver):
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error:   approver.Error(),
			Code:    "not_approver",
			Details: map[string]any{"level": approver.Level},
		})
	case errors.As(err, &balance):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: balance.Error(),
			Code:  "insufficient_balance",
			Details: map[string]string{
				"available": balance.Available.String(),
				"requested": balance.Requested.String(),
				"shortfall": balance.Shortfall.String(),
			},
		})
	case errors.As(err, &sequence):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   sequence.Error(),
			Code:    "out_of_sequence",
			Details: map[string]int{"level": sequence.Level, "pending_level": sequence.PendingLevel},
		})
	case errors.As(err, &decided):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   decided.Error(),
			Code:    "already_decided",
			Details: map[string]any{"level": decided.Level, "status": decided.Status},
		})
	case errors.As(err, &terminal):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   terminal.Error(),
			Code:    "already_terminal",
			Details: map[string]any{"status": terminal.Status},
		})
	case errors.Is(err, leave.ErrReservationCommitted), errors.Is(err, leave.ErrReservationReleased), errors.Is(err, generic.ErrDuplicate):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, generic.ErrContention):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "contention"})
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", fmt.Errorf("%s %s failed", r.Method, r.URL.Path))
	}
}
