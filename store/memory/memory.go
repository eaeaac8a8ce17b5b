// Package memory provides an in-memory leave.Backend for tests and
// development.
//
// Transactions are optimistic: reads record the version of every row they
// touch, writes are buffered, and commit validates each touched row's
// version under the store lock. Rows nobody else wrote commit without
// conflict, so work on different allocation rows never contends.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	leaveTypes map[leave.LeaveTypeID]leave.LeaveTypeDefinition
	employees  map[leave.EmployeeID]leave.Employee
	approvers  map[approverKey]string
	holidays   map[string][]generic.Holiday

	allocations  map[string]leave.Allocation
	reservations map[string]leave.Reservation
	requests     map[string]leave.LeaveRequest
	requestOrder []leave.RequestID
	approvals    map[string][]leave.LeaveApproval
	entries      []leave.LedgerEntry
	idempotency  map[string]bool

	// versions counts commits per row key; absent rows are version 0.
	versions map[string]int64
}

type approverKey struct {
	EmployeeID leave.EmployeeID
	Role       leave.Role
}

var _ leave.Backend = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		leaveTypes:   make(map[leave.LeaveTypeID]leave.LeaveTypeDefinition),
		employees:    make(map[leave.EmployeeID]leave.Employee),
		approvers:    make(map[approverKey]string),
		holidays:     make(map[string][]generic.Holiday),
		allocations:  make(map[string]leave.Allocation),
		reservations: make(map[string]leave.Reservation),
		requests:     make(map[string]leave.LeaveRequest),
		approvals:    make(map[string][]leave.LeaveApproval),
		idempotency:  make(map[string]bool),
		versions:     make(map[string]int64),
	}
}

// Reset drops every row. Row versions survive so a transaction that began
// before the reset cannot commit over the new data.
func (m *Memory) Reset(_ context.Context) error {
	fresh := New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveTypes = fresh.leaveTypes
	m.employees = fresh.employees
	m.approvers = fresh.approvers
	m.holidays = fresh.holidays
	m.allocations = fresh.allocations
	m.reservations = fresh.reservations
	m.requests = fresh.requests
	m.requestOrder = nil
	m.approvals = fresh.approvals
	m.entries = nil
	m.idempotency = fresh.idempotency
	for rk := range m.versions {
		m.versions[rk]++
	}
	return nil
}

func allocRow(k leave.AllocationKey) string {
	return "alloc:" + string(k.EmployeeID) + "/" + string(k.LeaveTypeID) + "/" + k.PeriodStart.Key()
}
func reservationRow(id leave.ReservationID) string { return "res:" + string(id) }
func requestRow(id leave.RequestID) string         { return "req:" + string(id) }
func approvalsRow(id leave.RequestID) string       { return "appr:" + string(id) }

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, leave.ErrNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a buffered view and commits it if every row fn read
// is unchanged. A changed row fails the commit with
// generic.ErrConcurrentModification.
func (m *Memory) WithTx(ctx context.Context, fn func(tx leave.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		m:            m,
		reads:        make(map[string]int64),
		dirty:        make(map[string]bool),
		allocations:  make(map[string]*leave.Allocation),
		reservations: make(map[string]*leave.Reservation),
		requests:     make(map[string]*leave.LeaveRequest),
		approvals:    make(map[string][]leave.LeaveApproval),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	m *Memory

	reads map[string]int64
	dirty map[string]bool
	order []string

	allocations  map[string]*leave.Allocation
	reservations map[string]*leave.Reservation
	requests     map[string]*leave.LeaveRequest
	newRequests  []leave.RequestID
	approvals    map[string][]leave.LeaveApproval
	entries      []leave.LedgerEntry
}

// observe records the committed version of rk the first time the tx sees it.
func (t *memTx) observe(rk string) {
	if _, ok := t.reads[rk]; !ok {
		t.reads[rk] = t.m.versions[rk]
	}
}

func (t *memTx) markDirty(rk string) {
	if !t.dirty[rk] {
		t.dirty[rk] = true
		t.order = append(t.order, rk)
	}
}

func (t *memTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for rk, seen := range t.reads {
		if m.versions[rk] != seen {
			return fmt.Errorf("row %s: %w", rk, generic.ErrConcurrentModification)
		}
	}
	seenKeys := map[string]bool{}
	for _, e := range t.entries {
		if m.idempotency[e.IdempotencyKey] || seenKeys[e.IdempotencyKey] {
			return fmt.Errorf("ledger entry %q: %w", e.IdempotencyKey, generic.ErrDuplicate)
		}
		seenKeys[e.IdempotencyKey] = true
	}

	for _, rk := range t.order {
		switch {
		case t.allocations[rk] != nil:
			m.allocations[rk] = *t.allocations[rk]
		case t.reservations[rk] != nil:
			m.reservations[rk] = *t.reservations[rk]
		case t.requests[rk] != nil:
			m.requests[rk] = cloneRequest(*t.requests[rk])
		case t.approvals[rk] != nil:
			m.approvals[rk] = cloneApprovals(t.approvals[rk])
		}
		m.versions[rk]++
	}
	m.requestOrder = append(m.requestOrder, t.newRequests...)
	for _, e := range t.entries {
		m.entries = append(m.entries, e)
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

// --- allocations ---

func (t *memTx) GetAllocationForUpdate(_ context.Context, key leave.AllocationKey) (*leave.Allocation, error) {
	rk := allocRow(key)
	if a, ok := t.allocations[rk]; ok {
		cp := *a
		return &cp, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.observe(rk)
	a, ok := t.m.allocations[rk]
	if !ok {
		return nil, notFound("allocation", key)
	}
	t.allocations[rk] = &a
	cp := a
	return &cp, nil
}

func (t *memTx) InsertAllocation(_ context.Context, a *leave.Allocation) error {
	rk := allocRow(a.Key)
	t.m.mu.RLock()
	_, exists := t.m.allocations[rk]
	t.observe(rk)
	t.m.mu.RUnlock()
	if exists || t.allocations[rk] != nil {
		return fmt.Errorf("allocation %s: %w", a.Key, generic.ErrDuplicate)
	}
	a.Version = 1
	cp := *a
	t.allocations[rk] = &cp
	t.markDirty(rk)
	return nil
}

func (t *memTx) UpdateAllocation(ctx context.Context, a *leave.Allocation) error {
	rk := allocRow(a.Key)
	cur, ok := t.allocations[rk]
	if !ok {
		if _, err := t.GetAllocationForUpdate(ctx, a.Key); err != nil {
			return err
		}
		cur = t.allocations[rk]
	}
	if cur.Version != a.Version {
		return fmt.Errorf("allocation %s: %w", a.Key, generic.ErrConcurrentModification)
	}
	a.Version++
	cp := *a
	t.allocations[rk] = &cp
	t.markDirty(rk)
	return nil
}

// --- reservations ---

func (t *memTx) InsertReservation(_ context.Context, r *leave.Reservation) error {
	rk := reservationRow(r.ID)
	t.m.mu.RLock()
	_, exists := t.m.reservations[rk]
	t.observe(rk)
	t.m.mu.RUnlock()
	if exists || t.reservations[rk] != nil {
		return fmt.Errorf("reservation %s: %w", r.ID, generic.ErrDuplicate)
	}
	cp := *r
	t.reservations[rk] = &cp
	t.markDirty(rk)
	return nil
}

func (t *memTx) GetReservationForUpdate(_ context.Context, id leave.ReservationID) (*leave.Reservation, error) {
	rk := reservationRow(id)
	if r, ok := t.reservations[rk]; ok {
		cp := *r
		return &cp, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.observe(rk)
	r, ok := t.m.reservations[rk]
	if !ok {
		return nil, notFound("reservation", id)
	}
	t.reservations[rk] = &r
	cp := r
	return &cp, nil
}

func (t *memTx) UpdateReservation(ctx context.Context, r *leave.Reservation) error {
	rk := reservationRow(r.ID)
	if _, ok := t.reservations[rk]; !ok {
		if _, err := t.GetReservationForUpdate(ctx, r.ID); err != nil {
			return err
		}
	}
	cp := *r
	t.reservations[rk] = &cp
	t.markDirty(rk)
	return nil
}

// --- requests ---

func (t *memTx) InsertRequest(_ context.Context, r *leave.LeaveRequest) error {
	rk := requestRow(r.ID)
	t.m.mu.RLock()
	_, exists := t.m.requests[rk]
	t.observe(rk)
	t.m.mu.RUnlock()
	if exists || t.requests[rk] != nil {
		return fmt.Errorf("request %s: %w", r.ID, generic.ErrDuplicate)
	}
	r.Version = 1
	cp := cloneRequest(*r)
	t.requests[rk] = &cp
	t.newRequests = append(t.newRequests, r.ID)
	t.markDirty(rk)
	return nil
}

func (t *memTx) GetRequestForUpdate(_ context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	rk := requestRow(id)
	if r, ok := t.requests[rk]; ok {
		cp := cloneRequest(*r)
		return &cp, nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.observe(rk)
	r, ok := t.m.requests[rk]
	if !ok {
		return nil, notFound("request", id)
	}
	r = cloneRequest(r)
	t.requests[rk] = &r
	cp := cloneRequest(r)
	return &cp, nil
}

func (t *memTx) UpdateRequest(ctx context.Context, r *leave.LeaveRequest) error {
	rk := requestRow(r.ID)
	cur, ok := t.requests[rk]
	if !ok {
		if _, err := t.GetRequestForUpdate(ctx, r.ID); err != nil {
			return err
		}
		cur = t.requests[rk]
	}
	if cur.Version != r.Version {
		return fmt.Errorf("request %s: %w", r.ID, generic.ErrConcurrentModification)
	}
	r.Version++
	cp := cloneRequest(*r)
	t.requests[rk] = &cp
	t.markDirty(rk)
	return nil
}

// --- approvals ---

func (t *memTx) InsertApprovals(_ context.Context, rows []leave.LeaveApproval) error {
	byRequest := map[leave.RequestID][]leave.LeaveApproval{}
	for _, r := range rows {
		byRequest[r.RequestID] = append(byRequest[r.RequestID], r)
	}
	for id, rs := range byRequest {
		rk := approvalsRow(id)
		t.m.mu.RLock()
		_, exists := t.m.approvals[rk]
		t.observe(rk)
		t.m.mu.RUnlock()
		if exists || t.approvals[rk] != nil {
			return fmt.Errorf("approvals for %s: %w", id, generic.ErrDuplicate)
		}
		sorted := cloneApprovals(rs)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })
		t.approvals[rk] = sorted
		t.markDirty(rk)
	}
	return nil
}

func (t *memTx) ListApprovals(_ context.Context, id leave.RequestID) ([]leave.LeaveApproval, error) {
	rk := approvalsRow(id)
	if rows, ok := t.approvals[rk]; ok {
		return cloneApprovals(rows), nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	t.observe(rk)
	rows := cloneApprovals(t.m.approvals[rk])
	if rows == nil {
		rows = []leave.LeaveApproval{}
	}
	t.approvals[rk] = rows
	return cloneApprovals(rows), nil
}

func (t *memTx) UpdateApproval(ctx context.Context, a *leave.LeaveApproval) error {
	rows, err := t.ListApprovals(ctx, a.RequestID)
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].Level != a.Level {
			continue
		}
		if rows[i].Status != leave.ApprovalPending {
			return fmt.Errorf("approval %s/%d: %w", a.RequestID, a.Level, generic.ErrConcurrentModification)
		}
		rows[i] = *a
		rk := approvalsRow(a.RequestID)
		t.approvals[rk] = rows
		t.markDirty(rk)
		return nil
	}
	return notFound("approval level", fmt.Sprintf("%s/%d", a.RequestID, a.Level))
}

// --- journal ---

func (t *memTx) AppendEntry(_ context.Context, e leave.LedgerEntry) error {
	for _, pending := range t.entries {
		if pending.IdempotencyKey == e.IdempotencyKey {
			return fmt.Errorf("ledger entry %q: %w", e.IdempotencyKey, generic.ErrDuplicate)
		}
	}
	t.entries = append(t.entries, e)
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (*leave.LeaveTypeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lt, ok := m.leaveTypes[id]
	if !ok {
		return nil, notFound("leave type", id)
	}
	lt.ApprovalChain = slices.Clone(lt.ApprovalChain)
	return &lt, nil
}

func (m *Memory) ListLeaveTypes(_ context.Context) ([]leave.LeaveTypeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]leave.LeaveTypeDefinition, 0, len(m.leaveTypes))
	for _, lt := range m.leaveTypes {
		lt.ApprovalChain = slices.Clone(lt.ApprovalChain)
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (*leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[requestRow(id)]
	if !ok {
		return nil, notFound("request", id)
	}
	r = cloneRequest(r)
	return &r, nil
}

// ListRequests returns matching requests, newest first.
func (m *Memory) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.LeaveRequest
	for i := len(m.requestOrder) - 1; i >= 0; i-- {
		r := m.requests[requestRow(m.requestOrder[i])]
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, cloneRequest(r))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListApprovals(_ context.Context, id leave.RequestID) ([]leave.LeaveApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.requests[requestRow(id)]; !ok {
		return nil, notFound("request", id)
	}
	return cloneApprovals(m.approvals[approvalsRow(id)]), nil
}

func (m *Memory) ListPendingApprovals(_ context.Context, approverID string) ([]leave.LeaveApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.LeaveApproval
	for _, id := range m.requestOrder {
		if m.requests[requestRow(id)].Status != leave.StatusPending {
			continue
		}
		for _, a := range m.approvals[approvalsRow(id)] {
			if a.ApproverID == approverID && a.Status == leave.ApprovalPending {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *Memory) ListAllocations(_ context.Context, employeeID leave.EmployeeID, periodStart generic.TimePoint) ([]leave.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.Allocation
	for _, a := range m.allocations {
		if a.Key.EmployeeID == employeeID && a.Key.PeriodStart.Equal(periodStart) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.LeaveTypeID < out[j].Key.LeaveTypeID })
	return out, nil
}

func (m *Memory) ListEntries(_ context.Context, employeeID leave.EmployeeID) ([]leave.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.LedgerEntry
	for _, e := range m.entries {
		if e.Key.EmployeeID == employeeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) HolidayListFor(_ context.Context, employeeID leave.EmployeeID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[employeeID]
	if !ok {
		return "", notFound("employee", employeeID)
	}
	return e.HolidayListID, nil
}

func (m *Memory) ApproverFor(_ context.Context, employeeID leave.EmployeeID, role leave.Role) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.approvers[approverKey{EmployeeID: employeeID, Role: role}]
	if !ok {
		return "", notFound("approver", fmt.Sprintf("%s for %s", role, employeeID))
	}
	return id, nil
}

// =============================================================================
// ADMIN
// =============================================================================

func (m *Memory) SaveLeaveType(_ context.Context, lt leave.LeaveTypeDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lt.ApprovalChain = slices.Clone(lt.ApprovalChain)
	m.leaveTypes[lt.ID] = lt
	return nil
}

func (m *Memory) SaveEmployee(_ context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

// ListEmployees returns employees ordered by ID.
func (m *Memory) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]leave.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveApprover(_ context.Context, employeeID leave.EmployeeID, role leave.Role, approverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvers[approverKey{EmployeeID: employeeID, Role: role}] = approverID
	return nil
}

func (m *Memory) SaveHoliday(_ context.Context, h generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.holidays[h.ListID]
	for i := range list {
		if list[i].ID == h.ID {
			list[i] = h
			return nil
		}
	}
	m.holidays[h.ListID] = append(list, h)
	return nil
}

func (m *Memory) ListHolidays(_ context.Context, listID string) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.holidays[listID])
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func cloneRequest(r leave.LeaveRequest) leave.LeaveRequest {
	r.DocumentRefs = slices.Clone(r.DocumentRefs)
	if r.CancelledAt != nil {
		at := *r.CancelledAt
		r.CancelledAt = &at
	}
	return r
}

func cloneApprovals(rows []leave.LeaveApproval) []leave.LeaveApproval {
	if rows == nil {
		return nil
	}
	out := make([]leave.LeaveApproval, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].DecidedAt != nil {
			at := *out[i].DecidedAt
			out[i].DecidedAt = &at
		}
	}
	return out
}
