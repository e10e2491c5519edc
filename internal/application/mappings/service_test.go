package mappings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
	"github.com/bryanwahyu/fin-analyzer/internal/logger"
	"github.com/bryanwahyu/fin-analyzer/internal/testutil"
)

func newService(t *testing.T) (*Service, *testutil.Clock) {
	t.Helper()
	clk := testutil.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return &Service{Repo: testutil.Store(t).Mappings, Clock: clk, Log: logger.Discard()}, clk
}

func TestService(t *testing.T) {
	ctx := context.Background()
	alice := users.Principal{UserID: "alice"}
	bob := users.Principal{UserID: "bob"}
	admin := users.Principal{UserID: "root", IsAdmin: true}

	t.Run("Should scope lookups to the owner and let admins through", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Create(ctx, "t1", "r1", "alice", reports.TypeRisk)
		require.NoError(t, err)

		m, err := s.ByTask(ctx, alice, "t1")
		require.NoError(t, err)
		assert.Equal(t, "r1", m.ReportID)

		_, err = s.ByReport(ctx, bob, "r1")
		assert.ErrorIs(t, err, errs.ErrNotFound)
		m, err = s.ByReport(ctx, admin, "r1")
		require.NoError(t, err)
		assert.Equal(t, "t1", m.TaskID)

		assert.ErrorIs(t, s.DeleteByTask(ctx, bob, "t1"), errs.ErrNotFound)
		require.NoError(t, s.DeleteByReport(ctx, alice, "r1"))
		_, err = s.ByTask(ctx, alice, "t1")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("Should reject a second mapping for the same task", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Create(ctx, "t1", "r1", "alice", reports.TypeRisk)
		require.NoError(t, err)
		_, err = s.Create(ctx, "t1", "r2", "alice", reports.TypeRisk)
		assert.ErrorIs(t, err, errs.ErrAlreadyExists)
	})

	t.Run("Should page the caller's mappings", func(t *testing.T) {
		s, _ := newService(t)
		for i := 0; i < 3; i++ {
			_, err := s.Create(ctx, fmt.Sprintf("t%d", i), fmt.Sprintf("r%d", i), "alice", reports.TypeRisk)
			require.NoError(t, err)
		}
		_, err := s.Create(ctx, "tb", "rb", "bob", reports.TypeRisk)
		require.NoError(t, err)

		res, err := s.List(ctx, alice, 1, 2)
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.Total)
		assert.Equal(t, 2, res.TotalPages)
		assert.Len(t, res.Data, 2)

		res, err = s.List(ctx, alice, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, DefaultPageSize, res.PageSize)

		_, err = s.List(ctx, alice, 1, 101)
		assert.True(t, errs.IsValidation(err))
	})

	t.Run("Should clean up old mappings for admins only", func(t *testing.T) {
		s, clk := newService(t)
		_, err := s.Create(ctx, "old", "r-old", "alice", reports.TypeRisk)
		require.NoError(t, err)
		clk.Advance(40 * 24 * time.Hour)
		_, err = s.Create(ctx, "new", "r-new", "alice", reports.TypeRisk)
		require.NoError(t, err)

		_, err = s.Cleanup(ctx, alice, 30)
		assert.ErrorIs(t, err, errs.ErrForbidden)
		_, err = s.Cleanup(ctx, admin, 0)
		assert.True(t, errs.IsValidation(err))
		_, err = s.Cleanup(ctx, admin, 366)
		assert.True(t, errs.IsValidation(err))

		n, err := s.Cleanup(ctx, admin, 30)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		_, err = s.ByTask(ctx, alice, "new")
		assert.NoError(t, err)
	})
}
