/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Submit, decide and cancel through the router
- Error taxonomy to HTTP status mapping
- Body validation (400 vs 422)
- Reference data endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/holiday"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

type testServer struct {
	store   *memory.Memory
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, withReset bool) *testServer {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC) }

	calendar := holiday.NewCalendar(store)
	svc := leave.NewService(store, store,
		leave.WithLogger(logger),
		leave.WithClock(clock),
		leave.WithHolidays(calendar),
	)
	prov := leave.NewProvisioner(store, generic.NewPeriodConfig(time.January))
	prov.Logger = logger
	prov.Now = clock

	deps := Dependencies{
		Service:     svc,
		Provisioner: prov,
		Admin:       store,
		Holidays:    &holiday.Manager{Store: store},
		Logger:      logger,
	}
	if withReset {
		deps.Reset = store.Reset
	}
	h := NewHandler(deps)
	return &testServer{
		store:   store,
		handler: h,
		router:  NewRouter(h, RouterConfig{AllowedOrigins: []string{"*"}}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates the reference data through the API itself.
func (s *testServer) seed(t *testing.T) {
	t.Helper()
	steps := []struct {
		path string
		body any
	}{
		{"/api/leave-types", LeaveTypeRequest{ID: "casual", Name: "Casual", Pay: "paid", CarryForward: true, MaxCarryForward: "5", ApprovalChain: []string{"manager", "hr"}}},
		{"/api/leave-types", LeaveTypeRequest{ID: "sick", Name: "Sick", Pay: "paid"}},
		{"/api/employees", EmployeeRequest{ID: "emp-1", Name: "Ana", HolidayListID: "hq"}},
		{"/api/employees/emp-1/approvers", ApproverRequest{Role: "manager", ApproverID: "mgr-1"}},
		{"/api/employees/emp-1/approvers", ApproverRequest{Role: "hr", ApproverID: "hr-1"}},
		{"/api/allocations", AllocationRequest{EmployeeID: "emp-1", LeaveTypeID: "casual", AsOf: "2025-01-01", Allocated: "12", CarryForward: "2"}},
		{"/api/allocations", AllocationRequest{EmployeeID: "emp-1", LeaveTypeID: "sick", AsOf: "2025-01-01", Allocated: "8"}},
	}
	for _, st := range steps {
		rec := s.do(t, http.MethodPost, st.path, st.body)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", st.path, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/api/holidays", HolidayRequest{ListID: "hq", Date: "2025-03-05", Name: "Founders Day"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) submit(t *testing.T, body SubmitRequest) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/employees/emp-1/requests", body)
}

func casualWeek() SubmitRequest {
	return SubmitRequest{LeaveTypeID: "casual", Category: "full_day", StartDate: "2025-03-03", EndDate: "2025-03-07", Reason: "trip"}
}

func balanceOf(t *testing.T, s *testServer, leaveType string) BalanceLineDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/employees/emp-1/balances?as_of=2025-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[struct {
		Balances []BalanceLineDTO `json:"balances"`
	}](t, rec)
	for _, b := range resp.Balances {
		if b.LeaveTypeID == leaveType {
			return b
		}
	}
	t.Fatalf("no balance for %s", leaveType)
	return BalanceLineDTO{}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSubmitDecideFlow(t *testing.T) {
	// GIVEN: 12 + 2 casual days and a holiday on March 5
	// WHEN: Submitting Mon-Fri and approving both levels
	// THEN: 4 days are reserved then used, and the request is approved

	s := newTestServer(t, false)
	s.seed(t)

	rec := s.submit(t, casualWeek())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[RequestDetailDTO](t, rec)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "4", created.TotalDays)
	assert.Equal(t, 1, created.NextLevel)
	require.Len(t, created.Approvals, 2)

	assert.Equal(t, "10", balanceOf(t, s, "casual").Available)

	rec = s.do(t, http.MethodGet, "/api/approvers/mgr-1/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[struct {
		Requests []RequestDetailDTO `json:"requests"`
	}](t, rec)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, created.ID, pending.Requests[0].ID)

	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approvals/1", DecisionRequest{ApproverID: "mgr-1", Decision: "approve", Comments: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approvals/2", DecisionRequest{ApproverID: "hr-1", Decision: "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", decodeBody[RequestDetailDTO](t, rec).Status)

	b := balanceOf(t, s, "casual")
	assert.Equal(t, "4", b.Used)
	assert.Equal(t, "0", b.PendingReserved)
	assert.Equal(t, "10", b.Available)

	rec = s.do(t, http.MethodGet, "/api/requests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[RequestDetailDTO](t, rec)
	assert.Equal(t, "ok", detail.Approvals[0].Comments)
	assert.NotEmpty(t, detail.Approvals[1].DecidedAt)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	journal := decodeBody[struct {
		Entries []LedgerEntryDTO `json:"entries"`
	}](t, rec)
	assert.Len(t, journal.Entries, 4) // two allots, reserve, commit
}

func TestCancelRequest(t *testing.T) {
	s := newTestServer(t, false)
	s.seed(t)
	created := decodeBody[RequestDetailDTO](t, s.submit(t, casualWeek()))

	rec := s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/cancel", CancelRequest{ActorID: "emp-1", Reason: "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[RequestDetailDTO](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "emp-1", cancelled.CancelledBy)
	assert.Equal(t, "14", balanceOf(t, s, "casual").Available)

	rec = s.do(t, http.MethodGet, "/api/employees/emp-1/requests?status=cancelled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Requests []RequestDTO `json:"requests"`
	}](t, rec)
	assert.Len(t, list.Requests, 1)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, false)
	s.seed(t)
	created := decodeBody[RequestDetailDTO](t, s.submit(t, casualWeek()))
	approvals := "/api/requests/" + created.ID + "/approvals/"

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"insufficient balance", http.MethodPost, "/api/employees/emp-1/requests",
			SubmitRequest{LeaveTypeID: "casual", Category: "full_day", StartDate: "2025-03-10", EndDate: "2025-03-24", Reason: "long trip"},
			http.StatusConflict, "insufficient_balance"},
		{"out of sequence", http.MethodPost, approvals + "2", DecisionRequest{ApproverID: "hr-1", Decision: "approve"},
			http.StatusConflict, "out_of_sequence"},
		{"not the approver", http.MethodPost, approvals + "1", DecisionRequest{ApproverID: "hr-1", Decision: "approve"},
			http.StatusForbidden, "not_approver"},
		{"unknown request", http.MethodGet, "/api/requests/nope", nil,
			http.StatusNotFound, "not_found"},
		{"unknown leave type", http.MethodPost, "/api/employees/emp-1/requests",
			SubmitRequest{LeaveTypeID: "parental", Category: "full_day", StartDate: "2025-03-10", Reason: "x"},
			http.StatusNotFound, "not_found"},
		{"range with no working days", http.MethodPost, "/api/employees/emp-1/requests",
			SubmitRequest{LeaveTypeID: "casual", Category: "full_day", StartDate: "2025-03-08", EndDate: "2025-03-09", Reason: "weekend"},
			http.StatusUnprocessableEntity, leave.CodeZeroDays},
		{"stale expected days", http.MethodPost, "/api/employees/emp-1/requests",
			SubmitRequest{LeaveTypeID: "sick", Category: "full_day", StartDate: "2025-03-03", EndDate: "2025-03-07", Reason: "flu", ExpectedDays: "5"},
			http.StatusUnprocessableEntity, leave.CodeStale},
		{"unknown status filter", http.MethodGet, "/api/employees/emp-1/requests?status=archived", nil,
			http.StatusUnprocessableEntity, leave.CodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	// 11 weekdays against the 10 left after the first request.
	rec := s.submit(t, SubmitRequest{LeaveTypeID: "casual", Category: "full_day", StartDate: "2025-03-10", EndDate: "2025-03-24", Reason: "too long"})
	require.Equal(t, http.StatusConflict, rec.Code)
	details := decodeBody[struct {
		Details map[string]string `json:"details"`
	}](t, rec).Details
	assert.Equal(t, map[string]string{"available": "10", "requested": "11", "shortfall": "1"}, details)
}

func TestDecide_AlreadyDecidedAndTerminal(t *testing.T) {
	s := newTestServer(t, false)
	s.seed(t)
	created := decodeBody[RequestDetailDTO](t, s.submit(t, casualWeek()))
	approvals := "/api/requests/" + created.ID + "/approvals/"

	rec := s.do(t, http.MethodPost, approvals+"1", DecisionRequest{ApproverID: "mgr-1", Decision: "reject", Comments: "no"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decodeBody[RequestDetailDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, approvals+"1", DecisionRequest{ApproverID: "mgr-1", Decision: "approve"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/cancel", CancelRequest{ActorID: "emp-1", Reason: "late"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, false)
	s.seed(t)

	rec := s.do(t, http.MethodPost, "/api/employees/emp-1/requests", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.submit(t, SubmitRequest{LeaveTypeID: "casual", Category: "sabbatical", StartDate: "03/03/2025"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, leave.CodeInvalid, resp.Code)
	assert.Equal(t, map[string]string{"Category": "oneof", "StartDate": "datetime", "Reason": "required"}, resp.Details)

	rec = s.do(t, http.MethodPost, "/api/requests/x/approvals/zero", DecisionRequest{ApproverID: "mgr-1", Decision: "approve"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/requests/x/approvals/1", DecisionRequest{ApproverID: "mgr-1", Decision: "maybe"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/holidays", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestReferenceData(t *testing.T) {
	s := newTestServer(t, false)
	s.seed(t)

	rec := s.do(t, http.MethodGet, "/api/leave-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	types := decodeBody[struct {
		LeaveTypes []LeaveTypeDTO `json:"leave_types"`
	}](t, rec)
	require.Len(t, types.LeaveTypes, 2)
	assert.Equal(t, "casual", types.LeaveTypes[0].ID)
	assert.Equal(t, []string{"manager", "hr"}, types.LeaveTypes[0].ApprovalChain)

	rec = s.do(t, http.MethodGet, "/api/holidays?list=hq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hols := decodeBody[struct {
		Holidays []HolidayDTO `json:"holidays"`
	}](t, rec)
	require.Len(t, hols.Holidays, 1)
	assert.Equal(t, "2025-03-05", hols.Holidays[0].Date)

	rec = s.do(t, http.MethodPost, "/api/holidays", HolidayRequest{ListID: "hq", Date: "2025-13-01", Name: "Bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSubmitRateLimit(t *testing.T) {
	s := newTestServer(t, false)
	s.seed(t)
	router := NewRouter(s.handler, RouterConfig{WriteRateLimit: 1})

	send := func() int {
		raw, err := json.Marshal(casualWeek())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/employees/emp-1/requests", bytes.NewReader(raw))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusCreated, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
