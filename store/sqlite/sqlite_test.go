package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/store/storetest"
)

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.Backend {
		s, err := sqlite.New(filepath.Join(t.TempDir(), "leave.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	types, err := s.ListLeaveTypes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestSQLite_ReopenKeepsDataAndResetClearsIt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leave.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Ana", HolidayListID: "hq"}))
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()
	list, err := s.HolidayListFor(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "hq", list)

	require.NoError(t, s.Reset(ctx))
	_, err = s.HolidayListFor(ctx, "emp-1")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}
