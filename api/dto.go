/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  decodeAndValidate before touching the service; the service still checks
  every business rule itself.

AMOUNTS:
  Day quantities travel as decimal strings ("0.25", "5") so clients never
  see binary float rounding.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type EmployeeRequest struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	HolidayListID string `json:"holiday_list_id"`
}

type ApproverRequest struct {
	Role       string `json:"role" validate:"required"`
	ApproverID string `json:"approver_id" validate:"required"`
}

// SubmitRequest is the body of POST /api/employees/{id}/requests. EndDate
// defaults to StartDate.
type SubmitRequest struct {
	LeaveTypeID  string   `json:"leave_type_id" validate:"required"`
	Category     string   `json:"category" validate:"required,oneof=full_day half_day short_leave"`
	HalfDay      string   `json:"half_day" validate:"omitempty,oneof=am pm"`
	StartDate    string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string   `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Reason       string   `json:"reason" validate:"required"`
	Contact      string   `json:"contact"`
	Address      string   `json:"address"`
	DocumentRefs []string `json:"document_refs" validate:"dive,required"`
	ExpectedDays string   `json:"expected_days" validate:"omitempty,numeric"`
}

type DecisionRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Decision   string `json:"decision" validate:"required,oneof=approve reject"`
	Comments   string `json:"comments"`
}

type CancelRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

type LeaveTypeRequest struct {
	ID                 string   `json:"id" validate:"required"`
	Name               string   `json:"name" validate:"required"`
	Pay                string   `json:"pay" validate:"required,oneof=paid unpaid"`
	CarryForward       bool     `json:"carry_forward"`
	MaxCarryForward    string   `json:"max_carry_forward" validate:"omitempty,numeric"`
	MaxConsecutiveDays string   `json:"max_consecutive_days" validate:"omitempty,numeric"`
	CountHolidays      bool     `json:"count_holidays"`
	ApprovalChain      []string `json:"approval_chain" validate:"dive,required"`
}

// AllocationRequest provisions the allocation row of the period containing
// AsOf. CarryForward overrides the computed carry-forward when set.
type AllocationRequest struct {
	EmployeeID   string `json:"employee_id" validate:"required"`
	LeaveTypeID  string `json:"leave_type_id" validate:"required"`
	AsOf         string `json:"as_of" validate:"required,datetime=2006-01-02"`
	Allocated    string `json:"allocated" validate:"required,numeric"`
	CarryForward string `json:"carry_forward" validate:"omitempty,numeric"`
}

type HolidayRequest struct {
	ListID    string `json:"list_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required"`
	Recurring bool   `json:"recurring"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type EmployeeDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	HolidayListID string `json:"holiday_list_id"`
}

type ApprovalDTO struct {
	Level      int    `json:"level"`
	Role       string `json:"role"`
	ApproverID string `json:"approver_id"`
	Status     string `json:"status"`
	Comments   string `json:"comments,omitempty"`
	DecidedAt  string `json:"decided_at,omitempty"`
}

type RequestDTO struct {
	ID            string   `json:"id"`
	EmployeeID    string   `json:"employee_id"`
	LeaveTypeID   string   `json:"leave_type_id"`
	Category      string   `json:"category"`
	HalfDay       string   `json:"half_day,omitempty"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	TotalDays     string   `json:"total_days"`
	Reason        string   `json:"reason"`
	Contact       string   `json:"contact,omitempty"`
	Address       string   `json:"address,omitempty"`
	DocumentRefs  []string `json:"document_refs,omitempty"`
	Status        string   `json:"status"`
	PeriodStart   string   `json:"period_start"`
	ReservationID string   `json:"reservation_id"`
	CancelledBy   string   `json:"cancelled_by,omitempty"`
	CancelReason  string   `json:"cancel_reason,omitempty"`
	CancelledAt   string   `json:"cancelled_at,omitempty"`
	SubmittedAt   string   `json:"submitted_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// RequestDetailDTO is a request with its approval history.
type RequestDetailDTO struct {
	RequestDTO
	NextLevel int           `json:"next_level,omitempty"`
	Approvals []ApprovalDTO `json:"approvals"`
}

type BalanceLineDTO struct {
	LeaveTypeID     string `json:"leave_type_id"`
	LeaveTypeName   string `json:"leave_type_name"`
	PeriodStart     string `json:"period_start"`
	PeriodEnd       string `json:"period_end"`
	Allocated       string `json:"allocated"`
	CarryForward    string `json:"carry_forward"`
	Used            string `json:"used"`
	PendingReserved string `json:"pending_reserved"`
	CarriedOut      string `json:"carried_out"`
	Available       string `json:"available"`
}

type LedgerEntryDTO struct {
	ID            string `json:"id"`
	LeaveTypeID   string `json:"leave_type_id"`
	PeriodStart   string `json:"period_start"`
	Type          string `json:"type"`
	Delta         string `json:"delta"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reference     string `json:"reference,omitempty"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

type LeaveTypeDTO struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Pay                string   `json:"pay"`
	CarryForward       bool     `json:"carry_forward"`
	MaxCarryForward    string   `json:"max_carry_forward"`
	MaxConsecutiveDays string   `json:"max_consecutive_days"`
	CountHolidays      bool     `json:"count_holidays"`
	ApprovalChain      []string `json:"approval_chain"`
}

type AllocationDTO struct {
	EmployeeID   string `json:"employee_id"`
	LeaveTypeID  string `json:"leave_type_id"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	Allocated    string `json:"allocated"`
	CarryForward string `json:"carry_forward"`
	Used         string `json:"used"`
	Reserved     string `json:"reserved"`
	CarriedOut   string `json:"carried_out"`
	Available    string `json:"available"`
}

type HolidayDTO struct {
	ID        string `json:"id"`
	ListID    string `json:"list_id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// RolloverDTO reports a rollover pass.
type RolloverDTO struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
	Opened      int    `json:"opened"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toRequestDTO(r leave.LeaveRequest) RequestDTO {
	dto := RequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		LeaveTypeID:   string(r.LeaveTypeID),
		Category:      string(r.Category),
		HalfDay:       string(r.HalfDay),
		StartDate:     r.StartDate.Key(),
		EndDate:       r.EndDate.Key(),
		TotalDays:     r.TotalDays.String(),
		Reason:        r.Reason,
		Contact:       r.Contact,
		Address:       r.Address,
		DocumentRefs:  r.DocumentRefs,
		Status:        string(r.Status),
		PeriodStart:   r.PeriodStart.Key(),
		ReservationID: string(r.ReservationID),
		CancelledBy:   r.CancelledBy,
		CancelReason:  r.CancelReason,
		SubmittedAt:   r.SubmittedAt.Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.Format(time.RFC3339),
	}
	if r.CancelledAt != nil {
		dto.CancelledAt = r.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

func toRequestDetailDTO(d leave.RequestDetail) RequestDetailDTO {
	out := RequestDetailDTO{
		RequestDTO: toRequestDTO(d.Request),
		Approvals:  make([]ApprovalDTO, 0, len(d.Approvals)),
	}
	if d.Request.Status == leave.StatusPending {
		out.NextLevel = d.NextPendingLevel()
	}
	for _, a := range d.Approvals {
		dto := ApprovalDTO{
			Level:      a.Level,
			Role:       string(a.Role),
			ApproverID: a.ApproverID,
			Status:     string(a.Status),
			Comments:   a.Comments,
		}
		if a.DecidedAt != nil {
			dto.DecidedAt = a.DecidedAt.Format(time.RFC3339)
		}
		out.Approvals = append(out.Approvals, dto)
	}
	return out
}

func toBalanceLineDTO(l leave.BalanceLine) BalanceLineDTO {
	return BalanceLineDTO{
		LeaveTypeID:     string(l.LeaveTypeID),
		LeaveTypeName:   l.LeaveTypeName,
		PeriodStart:     l.Period.Start.Key(),
		PeriodEnd:       l.Period.End.Key(),
		Allocated:       l.Allocated.String(),
		CarryForward:    l.CarryForward.String(),
		Used:            l.Used.String(),
		PendingReserved: l.PendingReserved.String(),
		CarriedOut:      l.CarriedOut.String(),
		Available:       l.Available.String(),
	}
}

func toLedgerEntryDTO(e leave.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:            e.ID,
		LeaveTypeID:   string(e.Key.LeaveTypeID),
		PeriodStart:   e.Key.PeriodStart.Key(),
		Type:          string(e.Type),
		Delta:         e.Delta.String(),
		ReservationID: string(e.ReservationID),
		Reference:     e.Reference,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func toLeaveTypeDTO(lt leave.LeaveTypeDefinition) LeaveTypeDTO {
	chain := make([]string, len(lt.ApprovalChain))
	for i, r := range lt.ApprovalChain {
		chain[i] = string(r)
	}
	return LeaveTypeDTO{
		ID:                 string(lt.ID),
		Name:               lt.Name,
		Pay:                string(lt.Pay),
		CarryForward:       lt.CarryForward,
		MaxCarryForward:    lt.MaxCarryForward.String(),
		MaxConsecutiveDays: lt.MaxConsecutiveDays.String(),
		CountHolidays:      lt.CountHolidays,
		ApprovalChain:      chain,
	}
}

func toAllocationDTO(a leave.Allocation) AllocationDTO {
	return AllocationDTO{
		EmployeeID:   string(a.Key.EmployeeID),
		LeaveTypeID:  string(a.Key.LeaveTypeID),
		PeriodStart:  a.Key.PeriodStart.Key(),
		PeriodEnd:    a.PeriodEnd.Key(),
		Allocated:    a.Allocated.String(),
		CarryForward: a.CarryForward.String(),
		Used:         a.Used.String(),
		Reserved:     a.Reserved.String(),
		CarriedOut:   a.CarriedOut.String(),
		Available:    a.Available().String(),
	}
}

func toRolloverDTO(run RolloverRun) RolloverDTO {
	return RolloverDTO{
		PeriodStart: run.Period.Start.Key(),
		PeriodEnd:   run.Period.End.Key(),
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt: run.CompletedAt.UTC().Format(time.RFC3339),
		Opened:      run.Opened,
		Skipped:     run.Skipped,
		Failed:      run.Failed,
	}
}

func toHolidayDTO(h generic.Holiday) HolidayDTO {
	return HolidayDTO{
		ID:        h.ID,
		ListID:    h.ListID,
		Date:      h.Date.Key(),
		Name:      h.Name,
		Recurring: h.Recurring,
	}
}

// toLeaveType converts a validated request. Amounts were checked numeric by
// the validator; parse errors are still returned.
func (req LeaveTypeRequest) toLeaveType() (leave.LeaveTypeDefinition, error) {
	lt := leave.LeaveTypeDefinition{
		ID:                 leave.LeaveTypeID(req.ID),
		Name:               req.Name,
		Pay:                leave.PayKind(req.Pay),
		CarryForward:       req.CarryForward,
		MaxCarryForward:    generic.ZeroDays(),
		MaxConsecutiveDays: generic.ZeroDays(),
		CountHolidays:      req.CountHolidays,
	}
	var err error
	if req.MaxCarryForward != "" {
		if lt.MaxCarryForward, err = generic.ParseDays(req.MaxCarryForward); err != nil {
			return lt, err
		}
	}
	if req.MaxConsecutiveDays != "" {
		if lt.MaxConsecutiveDays, err = generic.ParseDays(req.MaxConsecutiveDays); err != nil {
			return lt, err
		}
	}
	for _, r := range req.ApprovalChain {
		lt.ApprovalChain = append(lt.ApprovalChain, leave.Role(r))
	}
	return lt, nil
}
