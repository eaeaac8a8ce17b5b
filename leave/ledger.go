/*
ledger.go - Balance ledger: reserve, commit, release

PURPOSE:
  Owns the allocation rows. Nothing else in the engine changes Used or
  Reserved, and nothing else computes the available balance.

TWO-PHASE CONSUMPTION:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  submit ──▶ Reserve ──▶ reserved += days   (reservation: held)   │
  │                              │                                   │
  │               ┌──────────────┴──────────────┐                    │
  │               ▼                             ▼                    │
  │   final approval: Commit         reject / cancel: Release        │
  │   reserved -= days               reserved -= days                │
  │   used     += days               (reservation: released)         │
  │   (reservation: committed)                                       │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

INVARIANTS:
  1. Available() = allocated + carry forward - used - reserved >= 0
  2. Reserve then Release leaves the row numerically unchanged
  3. Commit on a committed reservation is a no-op
  4. Every mutation appends one LedgerEntry (append-only journal)

ATOMICITY:
  Each operation reads the row for update and writes it back with a version
  compare-and-swap inside one store transaction. The *Tx variants let the
  request lifecycle fold a ledger mutation into its own transaction.
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
)

type Ledger struct {
	Store Store
	Retry generic.RetryPolicy
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Retry: generic.DefaultRetryPolicy(),
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// =============================================================================
// STANDALONE OPERATIONS - One transaction each, retried on contention
// =============================================================================

// Reserve holds days against the row. Fails with InsufficientBalanceError
// when the row's available balance is smaller than days.
func (l *Ledger) Reserve(ctx context.Context, key AllocationKey, days generic.Amount, ref, actor string) (*Reservation, error) {
	var res *Reservation
	err := l.run(ctx, func(tx Tx) error {
		r, err := l.ReserveTx(ctx, tx, key, days, ref, actor)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit turns the reservation into used days. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, id ReservationID, actor string) error {
	return l.run(ctx, func(tx Tx) error {
		_, err := l.CommitTx(ctx, tx, id, actor)
		return err
	})
}

// Release discards the reservation without touching used days.
func (l *Ledger) Release(ctx context.Context, id ReservationID, actor string) error {
	return l.run(ctx, func(tx Tx) error {
		_, err := l.ReleaseTx(ctx, tx, id, actor)
		return err
	})
}

func (l *Ledger) run(ctx context.Context, fn func(tx Tx) error) error {
	return l.Retry.Do(ctx, func(ctx context.Context) error {
		return l.Store.WithTx(ctx, fn)
	})
}

// =============================================================================
// TRANSACTIONAL OPERATIONS
// =============================================================================

func (l *Ledger) ReserveTx(ctx context.Context, tx Tx, key AllocationKey, days generic.Amount, ref, actor string) (*Reservation, error) {
	if !days.IsPositive() {
		return nil, &ValidationError{Field: "days", Code: CodeInvalid, Message: "must be positive"}
	}

	a, err := tx.GetAllocationForUpdate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", key, err)
	}

	available := a.Available()
	if available.LessThan(days) {
		return nil, &InsufficientBalanceError{
			Key:       key,
			Available: available,
			Requested: days,
			Shortfall: days.Sub(available),
		}
	}

	now := l.Now().UTC()
	a.Reserved = a.Reserved.Add(days)
	a.UpdatedAt = now
	if err := tx.UpdateAllocation(ctx, a); err != nil {
		return nil, fmt.Errorf("reserve %s: %w", key, err)
	}

	res := &Reservation{
		ID:        ReservationID(l.NewID()),
		Key:       key,
		Days:      days,
		State:     ReservationHeld,
		Reference: ref,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("record reservation: %w", err)
	}
	if err := l.appendEntry(ctx, tx, res, EntryReserve, days.Neg(), actor, now); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) CommitTx(ctx context.Context, tx Tx, id ReservationID, actor string) (*Reservation, error) {
	res, err := tx.GetReservationForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", id, err)
	}
	switch res.State {
	case ReservationCommitted:
		return res, nil
	case ReservationReleased:
		return nil, fmt.Errorf("commit %s: %w", id, ErrReservationReleased)
	case ReservationHeld:
	default:
		return nil, fmt.Errorf("commit %s: unknown reservation state %q", id, res.State)
	}

	a, err := tx.GetAllocationForUpdate(ctx, res.Key)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", id, err)
	}
	now := l.Now().UTC()
	a.Reserved = a.Reserved.Sub(res.Days)
	a.Used = a.Used.Add(res.Days)
	a.UpdatedAt = now
	if available := a.Available(); available.IsNegative() {
		return nil, &InsufficientBalanceError{
			Key:       res.Key,
			Available: available.Add(res.Days),
			Requested: res.Days,
			Shortfall: available.Neg(),
		}
	}
	if err := tx.UpdateAllocation(ctx, a); err != nil {
		return nil, fmt.Errorf("commit %s: %w", id, err)
	}

	res.State = ReservationCommitted
	res.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("commit %s: %w", id, err)
	}
	if err := l.appendEntry(ctx, tx, res, EntryCommit, res.Days.Zero(), actor, now); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) ReleaseTx(ctx context.Context, tx Tx, id ReservationID, actor string) (*Reservation, error) {
	res, err := tx.GetReservationForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}
	switch res.State {
	case ReservationReleased:
		return res, nil
	case ReservationCommitted:
		return nil, fmt.Errorf("release %s: %w", id, ErrReservationCommitted)
	case ReservationHeld:
	default:
		return nil, fmt.Errorf("release %s: unknown reservation state %q", id, res.State)
	}

	a, err := tx.GetAllocationForUpdate(ctx, res.Key)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}
	now := l.Now().UTC()
	a.Reserved = a.Reserved.Sub(res.Days)
	a.UpdatedAt = now
	if err := tx.UpdateAllocation(ctx, a); err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}

	res.State = ReservationReleased
	res.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}
	if err := l.appendEntry(ctx, tx, res, EntryRelease, res.Days, actor, now); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) appendEntry(ctx context.Context, tx Tx, res *Reservation, typ EntryType, delta generic.Amount, actor string, at time.Time) error {
	entry := LedgerEntry{
		ID:             l.NewID(),
		Key:            res.Key,
		Type:           typ,
		Delta:          delta,
		ReservationID:  res.ID,
		Reference:      res.Reference,
		IdempotencyKey: fmt.Sprintf("%s-%s", typ, res.ID),
		CreatedBy:      actor,
		CreatedAt:      at,
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append %s entry: %w", typ, err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Balances returns the employee's ledger rows for the period as balance lines.
func (l *Ledger) Balances(ctx context.Context, employeeID EmployeeID, period generic.Period) ([]BalanceLine, error) {
	rows, err := l.Store.ListAllocations(ctx, employeeID, period.Start)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	lines := make([]BalanceLine, 0, len(rows))
	for _, a := range rows {
		lines = append(lines, BalanceLine{
			LeaveTypeID:     a.Key.LeaveTypeID,
			Period:          generic.Period{Start: a.Key.PeriodStart, End: a.PeriodEnd},
			Allocated:       a.Allocated,
			CarryForward:    a.CarryForward,
			Used:            a.Used,
			PendingReserved: a.Reserved,
			CarriedOut:      a.CarriedOut,
			Available:       a.Available(),
		})
	}
	return lines, nil
}
