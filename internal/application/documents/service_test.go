package documents

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
	"github.com/bryanwahyu/fin-analyzer/internal/logger"
	"github.com/bryanwahyu/fin-analyzer/internal/testutil"
)

// liveTasks answers Active; every other dispatcher call panics.
type liveTasks struct {
	tasks.Dispatcher
	snaps []tasks.Snapshot
}

func (l *liveTasks) Active() []tasks.Snapshot { return l.snaps }

func newService(t *testing.T) *Service {
	t.Helper()
	return &Service{
		Repo:  testutil.Store(t).Documents,
		Dir:   filepath.Join(t.TempDir(), "documents"),
		Clock: testutil.NewClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)),
		Log:   logger.Discard(),
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "q1_report_2024.pdf", SanitizeName("q1 report (2024).pdf"))
	assert.Equal(t, "passwd", SanitizeName("../../etc/passwd"))
	assert.Equal(t, "evil.txt", SanitizeName(`C:\temp\evil.txt`))
	assert.Equal(t, "", SanitizeName("  "))
	assert.Equal(t, "", SanitizeName(".."))
}

func TestServiceUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store the file under a unique name", func(t *testing.T) {
		s := newService(t)
		doc, err := s.Upload(ctx, UploadCommand{Owner: "u1", Name: "Annual Report.PDF", Content: strings.NewReader("%PDF-1.4 body")})
		require.NoError(t, err)
		assert.Equal(t, "Annual_Report.PDF", doc.OriginalName)
		assert.Len(t, doc.Checksum, 64)
		assert.True(t, strings.HasPrefix(doc.StoredName, "Annual_Report_u1_"+doc.Checksum[:8]+"_"), doc.StoredName)
		assert.True(t, strings.HasSuffix(doc.StoredName, ".pdf"))
		assert.EqualValues(t, 13, doc.SizeBytes)
		assert.Equal(t, filepath.Join(s.Dir, doc.StoredName), doc.Path)
		assert.FileExists(t, doc.Path)

		again, err := s.Upload(ctx, UploadCommand{Owner: "u1", Name: "Annual Report.PDF", Content: strings.NewReader("%PDF-1.4 body")})
		require.NoError(t, err)
		assert.NotEqual(t, doc.StoredName, again.StoredName)
		assert.Equal(t, doc.Checksum, again.Checksum)
	})

	t.Run("Should reject bad types, empty and oversized files", func(t *testing.T) {
		s := newService(t)
		s.MaxBytes = 8
		_, err := s.Upload(ctx, UploadCommand{Owner: "u1", Name: "a.txt", Content: strings.NewReader("hello")})
		require.NoError(t, err)

		_, err = s.Upload(ctx, UploadCommand{Owner: "u1", Name: "run.exe", Content: strings.NewReader("MZ")})
		assert.True(t, errs.IsValidation(err))
		_, err = s.Upload(ctx, UploadCommand{Owner: "u1", Name: "empty.txt", Content: strings.NewReader("")})
		assert.True(t, errs.IsValidation(err))
		_, err = s.Upload(ctx, UploadCommand{Owner: "u1", Name: "big.txt", Content: strings.NewReader("123456789")})
		assert.True(t, errs.IsValidation(err))

		entries, err := os.ReadDir(s.Dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestServiceAccess(t *testing.T) {
	ctx := context.Background()
	alice := users.Principal{UserID: "alice"}
	bob := users.Principal{UserID: "bob"}
	admin := users.Principal{UserID: "root", IsAdmin: true}

	s := newService(t)
	a1, err := s.Upload(ctx, UploadCommand{Owner: "alice", Name: "tesla.txt", Content: strings.NewReader("tesla")})
	require.NoError(t, err)
	_, err = s.Upload(ctx, UploadCommand{Owner: "alice", Name: "apple.txt", Content: strings.NewReader("apple")})
	require.NoError(t, err)
	_, err = s.Upload(ctx, UploadCommand{Owner: "bob", Name: "tesla-b.txt", Content: strings.NewReader("bob")})
	require.NoError(t, err)

	t.Run("Should list per owner with search and let admins see all", func(t *testing.T) {
		res, err := s.List(ctx, alice, "", 0, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Total)
		assert.Equal(t, DefaultPageSize, res.PageSize)

		res, err = s.List(ctx, alice, "TESLA", 1, 10)
		require.NoError(t, err)
		require.Len(t, res.Data, 1)
		assert.Equal(t, a1.ID, res.Data[0].ID)

		res, err = s.List(ctx, admin, "tesla", 1, 10)
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Total)

		_, err = s.List(ctx, alice, "", 1, 500)
		assert.True(t, errs.IsValidation(err))
	})

	t.Run("Should open only owned documents", func(t *testing.T) {
		_, _, err := s.Open(ctx, bob, a1.ID)
		assert.ErrorIs(t, err, errs.ErrNotFound)

		f, doc, err := s.Open(ctx, alice, a1.ID)
		require.NoError(t, err)
		defer f.Close()
		body, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "tesla", string(body))
		assert.Equal(t, "tesla.txt", doc.OriginalName)
	})

	t.Run("Should keep a document a live task still reads", func(t *testing.T) {
		s.Dispatcher = &liveTasks{snaps: []tasks.Snapshot{
			{ID: "t-other", State: tasks.StateStarted, Payload: tasks.Payload{DocumentID: "someone-else"}},
			{ID: "t-1", State: tasks.StatePending, Payload: tasks.Payload{DocumentID: a1.ID}},
		}}
		defer func() { s.Dispatcher = nil }()

		err := s.Delete(ctx, alice, a1.ID)
		assert.ErrorIs(t, err, errs.ErrConflict)
		assert.Contains(t, err.Error(), "t-1")
		assert.FileExists(t, a1.Path)
	})

	t.Run("Should delete the row and the file", func(t *testing.T) {
		s.Dispatcher = &liveTasks{}
		assert.ErrorIs(t, s.Delete(ctx, bob, a1.ID), errs.ErrNotFound)
		require.NoError(t, s.Delete(ctx, alice, a1.ID))
		assert.NoFileExists(t, a1.Path)
		_, err := s.Get(ctx, alice, a1.ID)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}
