// Package holiday provides the holiday calendar the leave engine sizes
// requests against: holiday lists read from the store, recurring entries
// expanded with RRULE, and a Redis read-through cache in front of both.
package holiday

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/warp/leave-engine/generic"
)

// ErrInvalid marks a holiday that cannot be saved.
var ErrInvalid = errors.New("invalid holiday")

// yearlyRule repeats a holiday on its month and day every year.
const yearlyRule = "FREQ=YEARLY"

// Source lists the holidays stored for a holiday list.
type Source interface {
	ListHolidays(ctx context.Context, listID string) ([]generic.Holiday, error)
}

// Calendar implements generic.HolidayCalendar over a Source.
type Calendar struct {
	Source Source
}

var _ generic.HolidayCalendar = (*Calendar)(nil)

func NewCalendar(src Source) *Calendar {
	return &Calendar{Source: src}
}

// Holidays returns every holiday of listID within [from, to], with
// recurring holidays expanded into each year they fall in.
func (c *Calendar) Holidays(ctx context.Context, listID string, from, to generic.TimePoint) (generic.HolidaySet, error) {
	set := generic.HolidaySet{}
	if listID == "" {
		return set, nil
	}
	period := generic.Period{Start: from, End: to}
	if err := period.Validate(); err != nil {
		return nil, err
	}

	holidays, err := c.Source.ListHolidays(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("list holidays %q: %w", listID, err)
	}
	for _, h := range holidays {
		if !h.Recurring {
			if period.Contains(h.Date) {
				set.Add(h.Date, h.Name)
			}
			continue
		}
		dates, err := Occurrences(h, from, to)
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			set.Add(d, h.Name)
		}
	}
	return set, nil
}

// Occurrences expands a recurring holiday into its dates within [from, to].
// The first occurrence is the holiday's own date.
func Occurrences(h generic.Holiday, from, to generic.TimePoint) ([]generic.TimePoint, error) {
	opt, err := rrule.StrToROption(yearlyRule)
	if err != nil {
		return nil, fmt.Errorf("holiday %s: %w", h.ID, err)
	}
	opt.Dtstart = h.Date.Time

	rr, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("holiday %s: %w", h.ID, err)
	}
	set := rrule.Set{}
	set.RRule(rr)

	// Between compares instants; widen to whole days on both ends.
	instances := set.Between(from.Time, to.AddDays(1).Time.Add(-1), true)
	out := make([]generic.TimePoint, 0, len(instances))
	for _, t := range instances {
		out = append(out, generic.DateOf(t))
	}
	return out, nil
}

// =============================================================================
// MANAGER - Admin writes that keep the cache honest
// =============================================================================

// Store is the read/write side of the holiday lists.
type Store interface {
	Source
	SaveHoliday(ctx context.Context, h generic.Holiday) error
}

// Invalidator drops cached lookups for a holiday list.
type Invalidator interface {
	Invalidate(ctx context.Context, listID string) error
}

// Manager adds holidays and invalidates cached lookups of the list.
type Manager struct {
	Store  Store
	Cache  Invalidator  // optional
	Logger *slog.Logger // defaults to slog.Default
}

// Add validates and saves h, assigning an ID when it has none. Once the save
// succeeds the holiday is added; a failed cache invalidation is only logged.
func (m *Manager) Add(ctx context.Context, h generic.Holiday) (generic.Holiday, error) {
	h.ListID = strings.TrimSpace(h.ListID)
	h.Name = strings.TrimSpace(h.Name)
	switch {
	case h.ListID == "":
		return h, fmt.Errorf("%w: list is required", ErrInvalid)
	case h.Name == "":
		return h, fmt.Errorf("%w: name is required", ErrInvalid)
	case h.Date.IsZero():
		return h, fmt.Errorf("%w: date is required", ErrInvalid)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := m.Store.SaveHoliday(ctx, h); err != nil {
		return h, err
	}
	if m.Cache != nil {
		if err := m.Cache.Invalidate(ctx, h.ListID); err != nil {
			m.logger().WarnContext(ctx, "holiday cache invalidation failed",
				slog.String("list_id", h.ListID),
				slog.String("holiday_id", h.ID),
				slog.Any("error", err),
			)
		}
	}
	return h, nil
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m *Manager) List(ctx context.Context, listID string) ([]generic.Holiday, error) {
	return m.Store.ListHolidays(ctx, listID)
}
