package leave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// PROVISIONER - Opens and resizes allocation rows at period boundaries
// =============================================================================

// Provisioner is the allocation process the ledger reads from. It grants the
// period's days and computes carry-forward from the previous period.
type Provisioner struct {
	Store   Store
	Periods generic.PeriodConfig
	Retry   generic.RetryPolicy
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

func NewProvisioner(store Store, periods generic.PeriodConfig) *Provisioner {
	return &Provisioner{
		Store:   store,
		Periods: periods,
		Retry:   generic.DefaultRetryPolicy(),
		Logger:  slog.Default(),
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

type ProvisionInput struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	AsOf        generic.TimePoint // any date inside the target period
	Allocated   generic.Amount

	// CarryForward overrides the computed carry-forward when set.
	CarryForward *generic.Amount
}

// Provision creates the row for the period containing AsOf, or resizes it.
// Carry-forward is the previous period's unspent balance when the leave type
// allows it, capped by MaxCarryForward, and is debited from the previous row.
// A resize never leaves the row with less than what is already used or
// reserved.
func (p *Provisioner) Provision(ctx context.Context, in ProvisionInput) (*Allocation, error) {
	if in.EmployeeID == "" {
		return nil, required("employee_id")
	}
	if in.LeaveTypeID == "" {
		return nil, required("leave_type_id")
	}
	if in.AsOf.IsZero() {
		return nil, required("as_of")
	}
	if in.Allocated.IsNegative() {
		return nil, &ValidationError{Field: "allocated", Code: CodeInvalid, Message: "must not be negative"}
	}
	if in.CarryForward != nil && in.CarryForward.IsNegative() {
		return nil, &ValidationError{Field: "carry_forward", Code: CodeInvalid, Message: "must not be negative"}
	}

	lt, err := p.Store.GetLeaveType(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}

	period := p.Periods.PeriodFor(in.AsOf)
	key := AllocationKey{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, PeriodStart: period.Start}

	var out *Allocation
	err = p.Retry.Do(ctx, func(ctx context.Context) error {
		return p.Store.WithTx(ctx, func(tx Tx) error {
			now := p.Now().UTC()
			carry, err := p.carryForward(ctx, tx, in, lt, period, now)
			if err != nil {
				return err
			}

			existing, err := tx.GetAllocationForUpdate(ctx, key)
			switch {
			case errors.Is(err, ErrNotFound):
				a := &Allocation{
					Key:          key,
					PeriodEnd:    period.End,
					Allocated:    in.Allocated,
					CarryForward: carry,
					Used:         in.Allocated.Zero(),
					Reserved:     in.Allocated.Zero(),
					CarriedOut:   in.Allocated.Zero(),
					UpdatedAt:    now,
				}
				if err := tx.InsertAllocation(ctx, a); err != nil {
					return fmt.Errorf("insert allocation %s: %w", key, err)
				}
				out = a
				return p.appendAllot(ctx, tx, key, in.Allocated.Add(carry), now)
			case err != nil:
				return fmt.Errorf("provision %s: %w", key, err)
			}

			before := existing.Allocated.Add(existing.CarryForward)
			existing.Allocated = in.Allocated
			existing.CarryForward = carry
			existing.UpdatedAt = now
			if available := existing.Available(); available.IsNegative() {
				return &ValidationError{
					Field:   "allocated",
					Code:    CodeInvalid,
					Message: fmt.Sprintf("%s already has %s used and %s reserved", key, existing.Used, existing.Reserved),
				}
			}
			if err := tx.UpdateAllocation(ctx, existing); err != nil {
				return fmt.Errorf("update allocation %s: %w", key, err)
			}
			out = existing
			return p.appendAllot(ctx, tx, key, existing.Allocated.Add(existing.CarryForward).Sub(before), now)
		})
	})
	if err != nil {
		return nil, err
	}

	p.Logger.InfoContext(ctx, "allocation provisioned",
		slog.String("allocation", key.String()),
		slog.String("allocated", out.Allocated.String()),
		slog.String("carry_forward", out.CarryForward.String()),
	)
	return out, nil
}

// carryForward computes the carry into period and moves it out of the
// previous period's row, so a day is spendable in one period only. A re-run
// only moves the difference against what was carried out before.
func (p *Provisioner) carryForward(ctx context.Context, tx Tx, in ProvisionInput, lt *LeaveTypeDefinition, period generic.Period, at time.Time) (generic.Amount, error) {
	zero := in.Allocated.Zero()
	if !lt.CarryForward {
		return zero, nil
	}

	prev := p.Periods.PreviousPeriod(period)
	prior, err := tx.GetAllocationForUpdate(ctx, AllocationKey{
		EmployeeID:  in.EmployeeID,
		LeaveTypeID: in.LeaveTypeID,
		PeriodStart: prev.Start,
	})
	if errors.Is(err, ErrNotFound) {
		// Opening balance brought in from outside the ledger.
		if in.CarryForward != nil {
			return p.capCarry(*in.CarryForward, lt), nil
		}
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("read previous period: %w", err)
	}

	// Everything the prior row carried out went to this period.
	pool := prior.Available().Add(prior.CarriedOut).Max(zero)
	carry := pool
	if in.CarryForward != nil {
		carry = in.CarryForward.Min(pool)
	}
	carry = p.capCarry(carry, lt)

	moved := carry.Sub(prior.CarriedOut)
	if moved.IsZero() {
		return carry, nil
	}
	prior.CarriedOut = carry
	prior.UpdatedAt = at
	if err := tx.UpdateAllocation(ctx, prior); err != nil {
		return zero, fmt.Errorf("update allocation %s: %w", prior.Key, err)
	}
	id := p.NewID()
	err = tx.AppendEntry(ctx, LedgerEntry{
		ID:             id,
		Key:            prior.Key,
		Type:           EntryCarryOut,
		Delta:          moved.Neg(),
		IdempotencyKey: fmt.Sprintf("%s-%s", EntryCarryOut, id),
		CreatedBy:      "provisioner",
		CreatedAt:      at,
	})
	if err != nil {
		return zero, fmt.Errorf("append carry_out entry: %w", err)
	}
	return carry, nil
}

func (p *Provisioner) capCarry(carry generic.Amount, lt *LeaveTypeDefinition) generic.Amount {
	if lt.MaxCarryForward.IsPositive() {
		return carry.Min(lt.MaxCarryForward)
	}
	return carry
}

func (p *Provisioner) appendAllot(ctx context.Context, tx Tx, key AllocationKey, delta generic.Amount, at time.Time) error {
	id := p.NewID()
	return tx.AppendEntry(ctx, LedgerEntry{
		ID:             id,
		Key:            key,
		Type:           EntryAllot,
		Delta:          delta,
		IdempotencyKey: fmt.Sprintf("%s-%s", EntryAllot, id),
		CreatedBy:      "provisioner",
		CreatedAt:      at,
	})
}
