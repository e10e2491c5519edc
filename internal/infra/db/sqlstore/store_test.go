package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/documents"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/taskerrors"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/migrations"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, migrations.Up("sqlite", sqlite.DSN(path)))

	db, err := sqlite.Connect(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func strPtr(s string) *string { return &s }

func newReport(owner string, typ reports.Type, file string) *reports.Report {
	return &reports.Report{
		UserID:       owner,
		AnalysisType: typ,
		Query:        "Analyze this financial document",
		FileName:     file,
		ReportPath:   "outputs/" + file + ".md",
		Summary:      strPtr("queued"),
	}
}

func TestReportRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create and scope reads by owner", func(t *testing.T) {
		s := newTestStore(t)
		rep := newReport("u1", reports.TypeRisk, "q1.pdf")
		require.NoError(t, s.Reports.Create(ctx, rep))
		assert.NotEmpty(t, rep.ID)
		assert.Equal(t, reports.StatusPending, rep.Status)

		got, err := s.Reports.Get(ctx, rep.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, reports.TypeRisk, got.AnalysisType)
		assert.Equal(t, "queued", *got.Summary)
		assert.Nil(t, got.DocumentID)

		_, err = s.Reports.Get(ctx, rep.ID, "u2")
		assert.ErrorIs(t, err, errs.ErrNotFound)

		_, err = s.Reports.Get(ctx, rep.ID, "")
		assert.NoError(t, err)
	})

	t.Run("Should filter, search and count", func(t *testing.T) {
		s := newTestStore(t)
		base := time.Now().Add(-time.Hour)
		for i, r := range []*reports.Report{
			newReport("u1", reports.TypeRisk, "alpha_100%.pdf"),
			newReport("u1", reports.TypeInvestment, "beta.pdf"),
			newReport("u1", reports.TypeRisk, "gamma.txt"),
			newReport("u2", reports.TypeRisk, "alpha.pdf"),
		} {
			r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.Reports.Create(ctx, r))
		}

		list, err := s.Reports.List(ctx, "u1", reports.Filter{}, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "gamma.txt", list[0].FileName)

		n, err := s.Reports.Count(ctx, "u1", reports.Filter{AnalysisType: reports.TypeRisk})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		list, err = s.Reports.List(ctx, "u1", reports.Filter{Search: "ALPHA"}, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)

		n, err = s.Reports.Count(ctx, "u1", reports.Filter{Search: "100%"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.Reports.Count(ctx, "u1", reports.Filter{Search: "_"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		page, err := s.Reports.List(ctx, "u1", reports.Filter{}, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "alpha_100%.pdf", page[0].FileName)

		byType, err := s.Reports.CountByType(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), byType[reports.TypeRisk])
		assert.Equal(t, int64(1), byType[reports.TypeInvestment])
	})

	t.Run("Should apply transitions only from the expected status", func(t *testing.T) {
		s := newTestStore(t)
		rep := newReport("u1", reports.TypeComprehensive, "doc.pdf")
		require.NoError(t, s.Reports.Create(ctx, rep))

		now := time.Now().Add(time.Minute)
		ok, err := s.Reports.Apply(ctx, rep.ID, "", reports.Transition{
			From: reports.Active, To: reports.StatusCompleted, Summary: strPtr("done"),
		}, now)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Reports.Get(ctx, rep.ID, "")
		require.NoError(t, err)
		assert.Equal(t, reports.StatusCompleted, got.Status)
		assert.Equal(t, "done", *got.Summary)
		assert.WithinDuration(t, now, got.UpdatedAt, time.Second)

		ok, err = s.Reports.Apply(ctx, rep.ID, "", reports.Transition{
			From: reports.Active, To: reports.StatusFailed,
		}, now)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Reports.Apply(ctx, "missing", "", reports.Transition{To: reports.StatusFailed}, now)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("Should find stale active reports", func(t *testing.T) {
		s := newTestStore(t)
		old := newReport("u1", reports.TypeRisk, "old.pdf")
		old.CreatedAt = time.Now().Add(-2 * time.Hour)
		require.NoError(t, s.Reports.Create(ctx, old))
		require.NoError(t, s.Reports.Create(ctx, newReport("u1", reports.TypeRisk, "new.pdf")))

		stale, err := s.Reports.List(ctx, "", reports.Filter{
			Statuses:      reports.Active,
			UpdatedBefore: time.Now().Add(-time.Hour),
		}, 100, 0)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)
	})

	t.Run("Should delete with owner scope", func(t *testing.T) {
		s := newTestStore(t)
		rep := newReport("u1", reports.TypeRisk, "x.pdf")
		require.NoError(t, s.Reports.Create(ctx, rep))

		assert.ErrorIs(t, s.Reports.Delete(ctx, rep.ID, "u2"), errs.ErrNotFound)
		require.NoError(t, s.Reports.Delete(ctx, rep.ID, "u1"))
		assert.ErrorIs(t, s.Reports.Delete(ctx, rep.ID, "u1"), errs.ErrNotFound)
	})
}

func TestDocumentRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := &documents.Document{
		UserID: "u1", OriginalName: "Q1 Report.pdf", StoredName: "Q1_Report_u1_abcd1234_ffff0000.pdf",
		Path: "data/Q1_Report_u1_abcd1234_ffff0000.pdf", SizeBytes: 42, Checksum: "abc",
	}
	require.NoError(t, s.Documents.Create(ctx, doc))

	dup := *doc
	dup.ID = ""
	assert.ErrorIs(t, s.Documents.Create(ctx, &dup), errs.ErrAlreadyExists)

	got, err := s.Documents.Get(ctx, doc.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.SizeBytes)

	_, err = s.Documents.Get(ctx, doc.ID, "u2")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	list, err := s.Documents.List(ctx, "u1", "q1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := s.Documents.Count(ctx, "u1", "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Documents.Delete(ctx, doc.ID, "u1"))
	assert.ErrorIs(t, s.Documents.Delete(ctx, doc.ID, "u1"), errs.ErrNotFound)
}

func TestMappingRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := &mappings.Mapping{TaskID: "t1", ReportID: "r1", UserID: "u1", AnalysisType: reports.TypeRisk}
	require.NoError(t, s.Mappings.Create(ctx, m))

	t.Run("Should reject a second mapping for the same task or report", func(t *testing.T) {
		err := s.Mappings.Create(ctx, &mappings.Mapping{TaskID: "t1", ReportID: "r2", UserID: "u1", AnalysisType: reports.TypeRisk})
		assert.ErrorIs(t, err, errs.ErrAlreadyExists)
		err = s.Mappings.Create(ctx, &mappings.Mapping{TaskID: "t2", ReportID: "r1", UserID: "u1", AnalysisType: reports.TypeRisk})
		assert.ErrorIs(t, err, errs.ErrAlreadyExists)
	})

	t.Run("Should look up by task and report with owner scope", func(t *testing.T) {
		got, err := s.Mappings.GetByTask(ctx, "t1", "u1")
		require.NoError(t, err)
		assert.Equal(t, "r1", got.ReportID)

		_, err = s.Mappings.GetByTask(ctx, "t1", "u2")
		assert.ErrorIs(t, err, errs.ErrNotFound)

		got, err = s.Mappings.GetByReport(ctx, "r1", "")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.TaskID)
	})

	t.Run("Should purge old mappings", func(t *testing.T) {
		old := &mappings.Mapping{TaskID: "t-old", ReportID: "r-old", UserID: "u1", AnalysisType: reports.TypeRisk,
			CreatedAt: time.Now().Add(-40 * 24 * time.Hour)}
		require.NoError(t, s.Mappings.Create(ctx, old))

		n, err := s.Mappings.DeleteOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		total, err := s.Mappings.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("Should delete by task", func(t *testing.T) {
		assert.ErrorIs(t, s.Mappings.DeleteByTask(ctx, "t1", "u2"), errs.ErrNotFound)
		require.NoError(t, s.Mappings.DeleteByTask(ctx, "t1", "u1"))
		list, err := s.Mappings.List(ctx, "", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestUserAndSessionRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := &users.User{Username: "alice", Email: "alice@example.com", PasswordHash: "h", IsActive: true}
	require.NoError(t, s.Users.Create(ctx, u))

	t.Run("Should reject duplicate usernames", func(t *testing.T) {
		err := s.Users.Create(ctx, &users.User{Username: "alice", Email: "other@example.com", PasswordHash: "h", IsActive: true})
		assert.ErrorIs(t, err, errs.ErrAlreadyExists)
	})

	t.Run("Should read back booleans and update the password", func(t *testing.T) {
		got, err := s.Users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, got.IsActive)
		assert.False(t, got.IsAdmin)

		require.NoError(t, s.Users.UpdatePassword(ctx, u.ID, "h2", time.Now()))
		got, err = s.Users.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "h2", got.PasswordHash)
	})

	t.Run("Should revoke and clean up sessions", func(t *testing.T) {
		live := &users.Session{UserID: u.ID, RefreshTokenHash: "x", ExpiresAt: time.Now().Add(time.Hour), IsActive: true}
		expired := &users.Session{UserID: u.ID, RefreshTokenHash: "y", ExpiresAt: time.Now().Add(-time.Hour), IsActive: true}
		require.NoError(t, s.Sessions.Create(ctx, live))
		require.NoError(t, s.Sessions.Create(ctx, expired))

		got, err := s.Sessions.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.True(t, got.Valid(time.Now()))

		n, err := s.Sessions.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, s.Sessions.RevokeAllForUser(ctx, u.ID))
		got, err = s.Sessions.Get(ctx, live.ID)
		require.NoError(t, err)
		assert.False(t, got.Valid(time.Now()))
	})

	t.Run("Should list and delete users", func(t *testing.T) {
		list, err := s.Users.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.Users.Delete(ctx, u.ID))
		_, err = s.Users.Get(ctx, u.ID)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestTaskErrorRepo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.TaskErrors.Save(ctx, &taskerrors.TaskError{
			TaskID: "t1", ReportID: "r1", UserID: "u1", Attempt: i,
			Phase: taskerrors.PhaseAttempt, Message: "boom",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := s.TaskErrors.ListByTask(ctx, "t1", "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1, list[0].Attempt)

	list, err = s.TaskErrors.ListByTask(ctx, "t1", "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
