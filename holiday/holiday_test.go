package holiday_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/holiday"
)

func date(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

type fakeSource struct {
	holidays map[string][]generic.Holiday
	calls    atomic.Int32
}

func newFakeSource() *fakeSource { return &fakeSource{holidays: map[string][]generic.Holiday{}} }

func (f *fakeSource) ListHolidays(_ context.Context, listID string) ([]generic.Holiday, error) {
	f.calls.Add(1)
	return f.holidays[listID], nil
}

func (f *fakeSource) SaveHoliday(_ context.Context, h generic.Holiday) error {
	f.holidays[h.ListID] = append(f.holidays[h.ListID], h)
	return nil
}

// =============================================================================
// CALENDAR
// =============================================================================

func TestCalendar_ExpandsRecurringHolidays(t *testing.T) {
	// GIVEN: A recurring New Year first declared in 2020 and a one-off in 2024
	// WHEN: Asking for Dec 2024 - Jan 2026
	// THEN: Both New Years appear, the 2024 one-off too, and nothing else

	src := newFakeSource()
	src.holidays["hq"] = []generic.Holiday{
		{ID: "ny", ListID: "hq", Date: date(2020, time.January, 1), Name: "New Year", Recurring: true},
		{ID: "once", ListID: "hq", Date: date(2024, time.December, 24), Name: "Office closed"},
		{ID: "old", ListID: "hq", Date: date(2023, time.December, 24), Name: "Office closed"},
	}
	cal := holiday.NewCalendar(src)

	set, err := cal.Holidays(context.Background(), "hq", date(2024, time.December, 1), date(2026, time.January, 1))
	require.NoError(t, err)

	assert.Len(t, set, 3)
	assert.True(t, set.Contains(date(2024, time.December, 24)))
	assert.True(t, set.Contains(date(2025, time.January, 1)))
	assert.True(t, set.Contains(date(2026, time.January, 1)), "range end is inclusive")
	assert.Equal(t, "New Year", set[date(2025, time.January, 1).Key()])
}

func TestCalendar_EmptyListAndInvalidRange(t *testing.T) {
	cal := holiday.NewCalendar(newFakeSource())

	set, err := cal.Holidays(context.Background(), "", date(2025, time.January, 1), date(2025, time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = cal.Holidays(context.Background(), "hq", date(2025, time.May, 2), date(2025, time.May, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestOccurrences_RecurringBeforeItsFirstDate(t *testing.T) {
	got, err := holiday.Occurrences(
		generic.Holiday{ID: "ny", Date: date(2025, time.January, 1), Recurring: true},
		date(2023, time.January, 1), date(2024, time.December, 31),
	)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// MANAGER
// =============================================================================

func TestManager_Add(t *testing.T) {
	src := newFakeSource()
	m := &holiday.Manager{Store: src}

	h, err := m.Add(context.Background(), generic.Holiday{ListID: " hq ", Name: " Founders Day ", Date: date(2025, time.March, 5)})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "hq", h.ListID)
	assert.Equal(t, "Founders Day", h.Name)

	listed, err := m.List(context.Background(), "hq")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	for _, bad := range []generic.Holiday{
		{Name: "x", Date: date(2025, time.March, 5)},
		{ListID: "hq", Date: date(2025, time.March, 5)},
		{ListID: "hq", Name: "x"},
	} {
		_, err := m.Add(context.Background(), bad)
		assert.ErrorIs(t, err, holiday.ErrInvalid)
	}
}

type failingInvalidator struct{}

func (failingInvalidator) Invalidate(context.Context, string) error {
	return errors.New("redis down")
}

func TestManager_AddSucceedsWhenInvalidationFails(t *testing.T) {
	// GIVEN: A cache that cannot be invalidated
	// WHEN: A holiday is added
	// THEN: The add reports success and the holiday is stored

	src := newFakeSource()
	m := &holiday.Manager{Store: src, Cache: failingInvalidator{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	h, err := m.Add(context.Background(), generic.Holiday{ListID: "hq", Name: "Snow day", Date: date(2025, time.March, 12)})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	listed, err := m.List(context.Background(), "hq")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, h.ID, listed[0].ID)
}

// =============================================================================
// CACHE
// =============================================================================

func newCache(t *testing.T, src holiday.Source) (*holiday.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return holiday.NewCache(client, holiday.NewCalendar(src), time.Hour, logger), mr
}

func TestCache_ReadThrough(t *testing.T) {
	// GIVEN: A cache in front of a source
	// WHEN: The same range is asked for twice
	// THEN: The source is read once and both answers agree

	src := newFakeSource()
	src.holidays["hq"] = []generic.Holiday{{ID: "h1", ListID: "hq", Date: date(2025, time.March, 5), Name: "Founders Day"}}
	cache, mr := newCache(t, src)
	ctx := context.Background()
	from, to := date(2025, time.March, 1), date(2025, time.March, 31)

	first, err := cache.Holidays(ctx, "hq", from, to)
	require.NoError(t, err)
	second, err := cache.Holidays(ctx, "hq", from, to)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, second.Contains(date(2025, time.March, 5)))
	assert.Equal(t, int32(1), src.calls.Load())
	assert.True(t, mr.Exists("leave:holidays:hq:0:2025-03-01:2025-03-31"))
}

func TestCache_InvalidateThroughManager(t *testing.T) {
	// GIVEN: A cached lookup without holidays
	// WHEN: The manager adds a holiday to the list
	// THEN: The next lookup sees it

	src := newFakeSource()
	cache, _ := newCache(t, src)
	ctx := context.Background()
	from, to := date(2025, time.March, 1), date(2025, time.March, 31)

	before, err := cache.Holidays(ctx, "hq", from, to)
	require.NoError(t, err)
	assert.Empty(t, before)

	m := &holiday.Manager{Store: src, Cache: cache}
	_, err = m.Add(ctx, generic.Holiday{ListID: "hq", Name: "Snow day", Date: date(2025, time.March, 12)})
	require.NoError(t, err)

	after, err := cache.Holidays(ctx, "hq", from, to)
	require.NoError(t, err)
	assert.True(t, after.Contains(date(2025, time.March, 12)))
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCache_FallsBackWhenRedisIsDown(t *testing.T) {
	src := newFakeSource()
	src.holidays["hq"] = []generic.Holiday{{ID: "h1", ListID: "hq", Date: date(2025, time.March, 5), Name: "Founders Day"}}
	cache, mr := newCache(t, src)
	mr.Close()

	set, err := cache.Holidays(context.Background(), "hq", date(2025, time.March, 1), date(2025, time.March, 31))
	require.NoError(t, err)
	assert.True(t, set.Contains(date(2025, time.March, 5)))
}

type failingSource struct{}

func (failingSource) ListHolidays(context.Context, string) ([]generic.Holiday, error) {
	return nil, errors.New("db down")
}

func TestCache_PropagatesSourceErrors(t *testing.T) {
	cache, _ := newCache(t, failingSource{})
	_, err := cache.Holidays(context.Background(), "hq", date(2025, time.March, 1), date(2025, time.March, 31))
	assert.ErrorContains(t, err, "db down")
}

// blockingSource holds every read until release is closed and honours the
// caller's context after that.
type blockingSource struct {
	holidays []generic.Holiday
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (b *blockingSource) ListHolidays(ctx context.Context, _ string) ([]generic.Holiday, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.holidays, nil
}

func TestCache_SharedLoadSurvivesFirstCallerCancelling(t *testing.T) {
	// GIVEN: A lookup that starts the shared load and then gives up
	// WHEN: The load completes afterwards
	// THEN: The load still finishes and is cached for the next caller

	src := &blockingSource{
		holidays: []generic.Holiday{{ID: "h1", ListID: "hq", Date: date(2025, time.March, 5), Name: "Founders Day"}},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	cache, mr := newCache(t, src)
	from, to := date(2025, time.March, 1), date(2025, time.March, 31)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Holidays(ctx, "hq", from, to)
		firstErr <- err
	}()
	<-src.started
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(src.release)

	set, err := cache.Holidays(context.Background(), "hq", from, to)
	require.NoError(t, err)
	assert.True(t, set.Contains(date(2025, time.March, 5)))
	require.Eventually(t, func() bool {
		return mr.Exists("leave:holidays:hq:0:2025-03-01:2025-03-31")
	}, time.Second, 5*time.Millisecond)
}
