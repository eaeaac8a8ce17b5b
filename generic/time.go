package generic

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date (leave is always booked in whole dates)
// =============================================================================

const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a "2006-01-02" date.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return TimePoint{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func Today() TimePoint { return DateOf(time.Now()) }

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.normalize().AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.normalize().AddDate(0, n, 0)} }
func (tp TimePoint) AddYears(n int) TimePoint  { return TimePoint{Time: tp.normalize().AddDate(n, 0, 0)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

// Key is the canonical map/storage key for the date.
func (tp TimePoint) Key() string    { return tp.normalize().Format(DateLayout) }
func (tp TimePoint) String() string { return tp.Key() }

// =============================================================================
// WEEKLY OFF - Non-working weekdays
// =============================================================================

// WeeklyOff is the set of weekdays that never count as leave days.
type WeeklyOff map[time.Weekday]bool

// DefaultWeeklyOff is Saturday and Sunday.
func DefaultWeeklyOff() WeeklyOff {
	return WeeklyOff{time.Saturday: true, time.Sunday: true}
}

// ParseWeeklyOff parses weekday names ("saturday", "Sun").
func ParseWeeklyOff(names []string) (WeeklyOff, error) {
	off := WeeklyOff{}
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if n == full || n == full[:3] {
				off[d] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
	}
	return off, nil
}

func (w WeeklyOff) IsOff(tp TimePoint) bool { return w[tp.Weekday()] }

// =============================================================================
// HOLIDAY CALENDAR - Holiday lists supplied by an external provider
// =============================================================================

// Holiday is one entry of a holiday list. Recurring holidays repeat on the
// same month/day every year from Date onward.
type Holiday struct {
	ID        string
	ListID    string // holiday list (company, region)
	Date      TimePoint
	Name      string
	Recurring bool
}

// HolidaySet is the set of non-working dates, keyed by TimePoint.Key.
type HolidaySet map[string]string

func NewHolidaySet(days ...TimePoint) HolidaySet {
	s := HolidaySet{}
	for _, d := range days {
		s[d.Key()] = ""
	}
	return s
}

func (s HolidaySet) Contains(tp TimePoint) bool {
	_, ok := s[tp.Key()]
	return ok
}

func (s HolidaySet) Add(tp TimePoint, name string) { s[tp.Key()] = name }

// HolidayCalendar supplies the non-working dates of a holiday list within
// [from, to].
type HolidayCalendar interface {
	Holidays(ctx context.Context, listID string, from, to TimePoint) (HolidaySet, error)
}

// NoHolidays is a calendar without holidays.
type NoHolidays struct{}

func (NoHolidays) Holidays(context.Context, string, TimePoint, TimePoint) (HolidaySet, error) {
	return HolidaySet{}, nil
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int { return int(to.normalize().Sub(from.normalize()).Hours() / 24) }
func StartOfYear(year int) TimePoint     { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint       { return NewTimePoint(year, time.December, 31) }
