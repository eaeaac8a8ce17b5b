package leave

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CALENDAR RESOLVER - How many days a request consumes
// =============================================================================

var (
	halfDayCharge    = decimal.RequireFromString("0.5")
	shortLeaveCharge = decimal.RequireFromString("0.25")
)

// SizeInput is everything sizing depends on besides the calendar.
type SizeInput struct {
	Category      Category
	HalfDay       HalfDayType
	Start         generic.TimePoint
	End           generic.TimePoint
	CountHolidays bool
}

// Size computes the chargeable days of a request. It is pure: the same input,
// holidays and weekly-off days always give the same result.
//
//   - ShortLeave: 0.25
//   - HalfDay:    0.5, half-day type must be AM or PM
//   - FullDay:    days in [Start, End] that are not weekly-off days and,
//     unless CountHolidays, not holidays
func Size(in SizeInput, holidays generic.HolidaySet, weeklyOff generic.WeeklyOff) (generic.Amount, error) {
	if err := validateSizeInput(in); err != nil {
		return generic.Amount{}, err
	}

	switch in.Category {
	case ShortLeave:
		return generic.NewAmountFromDecimal(shortLeaveCharge, generic.UnitDays), nil
	case HalfDay:
		return generic.NewAmountFromDecimal(halfDayCharge, generic.UnitDays), nil
	case FullDay:
		count := 0
		for d := in.Start; d.BeforeOrEqual(in.End); d = d.AddDays(1) {
			if weeklyOff.IsOff(d) {
				continue
			}
			if !in.CountHolidays && holidays.Contains(d) {
				continue
			}
			count++
		}
		return generic.NewAmountFromDecimal(decimal.NewFromInt(int64(count)), generic.UnitDays), nil
	default:
		return generic.Amount{}, &ValidationError{Field: "category", Code: CodeInvalid, Message: fmt.Sprintf("unknown category %q", string(in.Category))}
	}
}

func validateSizeInput(in SizeInput) error {
	if !in.Category.Valid() {
		return &ValidationError{Field: "category", Code: CodeInvalid, Message: fmt.Sprintf("unknown category %q", string(in.Category))}
	}
	switch in.HalfDay {
	case HalfDayAM, HalfDayPM:
		if in.Category != HalfDay {
			return &ValidationError{Field: "half_day", Code: CodeInvalid, Message: "only allowed for half day leave"}
		}
	case HalfDayNone:
		if in.Category == HalfDay {
			return &ValidationError{Field: "half_day", Code: CodeRequired, Message: "must be am or pm for half day leave"}
		}
	default:
		return &ValidationError{Field: "half_day", Code: CodeInvalid, Message: fmt.Sprintf("unknown half day type %q", string(in.HalfDay))}
	}
	if in.Start.IsZero() {
		return required("start_date")
	}
	if in.End.IsZero() {
		return required("end_date")
	}
	if in.End.Before(in.Start) {
		return &ValidationError{Field: "end_date", Code: CodeInvalidRange, Message: "end date is before start date"}
	}
	return nil
}

// CalendarResolver sizes requests against the employee's holiday list.
type CalendarResolver struct {
	Directory Directory
	Holidays  generic.HolidayCalendar
	WeeklyOff generic.WeeklyOff
}

// Size looks up the holiday list for employeeID and sizes in. Holidays are
// only fetched when they can affect the result.
func (r *CalendarResolver) Size(ctx context.Context, employeeID EmployeeID, in SizeInput) (generic.Amount, error) {
	if err := validateSizeInput(in); err != nil {
		return generic.Amount{}, err
	}
	weeklyOff := r.WeeklyOff
	if weeklyOff == nil {
		weeklyOff = generic.DefaultWeeklyOff()
	}
	if in.Category != FullDay || in.CountHolidays || r.Holidays == nil {
		return Size(in, nil, weeklyOff)
	}

	listID := ""
	if r.Directory != nil {
		id, err := r.Directory.HolidayListFor(ctx, employeeID)
		if err != nil {
			return generic.Amount{}, fmt.Errorf("resolve holiday list: %w", err)
		}
		listID = id
	}
	holidays, err := r.Holidays.Holidays(ctx, listID, in.Start, in.End)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("load holidays %q: %w", listID, err)
	}
	return Size(in, holidays, weeklyOff)
}
