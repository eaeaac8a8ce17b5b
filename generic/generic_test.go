package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
)

func date(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

// =============================================================================
// AMOUNT TESTS
// =============================================================================

func TestAmount_QuarterDaysSumExactly(t *testing.T) {
	// GIVEN: Four short leaves of 0.25 days
	// WHEN: Summing them
	// THEN: The total is exactly one day, no float drift

	total := generic.ZeroDays()
	for i := 0; i < 4; i++ {
		total = total.Add(generic.Days(0.25))
	}
	assert.True(t, total.Equal(generic.Days(1)), "got %s", total)
	assert.Equal(t, "1", total.String())
}

func TestAmount_ParseDays(t *testing.T) {
	a, err := generic.ParseDays("1.5")
	require.NoError(t, err)
	assert.True(t, a.Equal(generic.Days(1.5)))
	assert.Equal(t, generic.UnitDays, a.Unit)

	_, err = generic.ParseDays("one")
	assert.Error(t, err)
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestPeriodFor_CalendarYear(t *testing.T) {
	pc := generic.NewPeriodConfig(time.January)

	p := pc.PeriodFor(date(2025, time.June, 15))
	assert.Equal(t, "2025-01-01", p.Start.Key())
	assert.Equal(t, "2025-12-31", p.End.Key())
	assert.True(t, p.Contains(date(2025, time.December, 31)))
	assert.False(t, p.Contains(date(2026, time.January, 1)))
}

func TestPeriodFor_FiscalYear(t *testing.T) {
	// GIVEN: Fiscal year starting in April
	// WHEN: Looking up dates either side of April 1
	// THEN: March belongs to the previous fiscal year

	pc := generic.NewPeriodConfig(time.April)

	march := pc.PeriodFor(date(2025, time.March, 31))
	assert.Equal(t, "2024-04-01", march.Start.Key())
	assert.Equal(t, "2025-03-31", march.End.Key())

	april := pc.PeriodFor(date(2025, time.April, 1))
	assert.Equal(t, "2025-04-01", april.Start.Key())
	assert.Equal(t, "2026-03-31", april.End.Key())

	assert.Equal(t, march, pc.PreviousPeriod(april))
}

func TestPeriod_Validate(t *testing.T) {
	bad := generic.Period{Start: date(2025, time.May, 2), End: date(2025, time.May, 1)}
	assert.ErrorIs(t, bad.Validate(), generic.ErrInvalidPeriod)

	single := generic.Period{Start: date(2025, time.May, 1), End: date(2025, time.May, 1)}
	assert.NoError(t, single.Validate())
}

// =============================================================================
// TIME TESTS
// =============================================================================

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate(" 2025-02-28 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", d.AddDays(1).Key())

	_, err = generic.ParseDate("28/02/2025")
	assert.Error(t, err)
}

func TestParseWeeklyOff(t *testing.T) {
	off, err := generic.ParseWeeklyOff([]string{"Friday", "sat", ""})
	require.NoError(t, err)
	assert.True(t, off.IsOff(date(2025, time.March, 7)))  // Friday
	assert.True(t, off.IsOff(date(2025, time.March, 8)))  // Saturday
	assert.False(t, off.IsOff(date(2025, time.March, 9))) // Sunday

	_, err = generic.ParseWeeklyOff([]string{"someday"})
	assert.Error(t, err)
}

func TestHolidaySet_Contains(t *testing.T) {
	set := generic.NewHolidaySet(date(2025, time.December, 25))
	set.Add(date(2025, time.January, 1), "New Year")

	assert.True(t, set.Contains(date(2025, time.December, 25)))
	assert.True(t, set.Contains(generic.DateOf(time.Date(2025, time.January, 1, 17, 30, 0, 0, time.UTC))))
	assert.False(t, set.Contains(date(2025, time.December, 26)))
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func fastRetry(attempts int) generic.RetryPolicy {
	return generic.RetryPolicy{Attempts: attempts, BaseDelay: time.Microsecond, MaxDelay: 10 * time.Microsecond}
}

func TestRetry_RetriesConcurrentModificationUntilSuccess(t *testing.T) {
	// GIVEN: An operation that loses two races then succeeds
	// WHEN: Running it under a 5-attempt policy
	// THEN: It succeeds on the third attempt

	calls := 0
	err := fastRetry(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update row: %w", generic.ErrConcurrentModification)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustionReturnsContentionError(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), func(context.Context) error {
		calls++
		return generic.ErrConcurrentModification
	})

	require.ErrorIs(t, err, generic.ErrContention)
	var ce *generic.ContentionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRetry_SemanticErrorsAreNotRetried(t *testing.T) {
	// GIVEN: An operation failing with a business error
	// WHEN: Running it under retry
	// THEN: It runs once and the error comes back unchanged

	boom := errors.New("insufficient balance")
	calls := 0
	err := fastRetry(5).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := generic.RetryPolicy{Attempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return generic.ErrConcurrentModification
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
