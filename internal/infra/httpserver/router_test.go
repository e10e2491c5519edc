package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/application/analysis"
	appauth "github.com/bryanwahyu/fin-analyzer/internal/application/auth"
	appdocs "github.com/bryanwahyu/fin-analyzer/internal/application/documents"
	appmappings "github.com/bryanwahyu/fin-analyzer/internal/application/mappings"
	appreports "github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	apptasks "github.com/bryanwahyu/fin-analyzer/internal/application/tasks"
	domai "github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/ai/heuristic"
	creds "github.com/bryanwahyu/fin-analyzer/internal/infra/auth"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/extract"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/queue"
	"github.com/bryanwahyu/fin-analyzer/internal/logger"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
	"github.com/bryanwahyu/fin-analyzer/internal/testutil"
)

const filing = "Annual report. Total revenue: $120 million. Net income: $18 million. Total assets: $300 million. Total liabilities: $140 million."

type apiFixture struct {
	h     http.Handler
	store *sqlstore.Store
	auth  *appauth.Service
}

func newAPI(t *testing.T) apiFixture {
	t.Helper()
	log := logger.Discard()
	store := testutil.Store(t)
	artifacts := testutil.Artifacts(t)
	clock := application.SystemClock{}
	dir := t.TempDir()

	lc := &appreports.Lifecycle{Repo: store.Reports, Artifacts: artifacts, Clock: clock, Log: log}
	unit := &analysis.WorkUnit{
		Lifecycle: lc,
		AI:        heuristic.New(),
		Extract:   extract.File,
		Errors:    store.TaskErrors,
		Clock:     clock,
		Log:       log,
	}
	pool := queue.New(queue.Options{Concurrency: 2, QueueSize: 10, MaxRetries: 1, RetryBackoff: time.Millisecond, ResultTTL: time.Hour}, log)
	for _, typ := range domain.Types() {
		pool.Register(analysis.TaskName(typ), unit)
	}
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	authSvc := &appauth.Service{
		Users:    store.Users,
		Sessions: store.Sessions,
		Tokens:   creds.NewTokenManager("test-secret", 30*time.Minute, time.Hour),
		Hasher:   &creds.Hasher{Cost: bcrypt.MinCost},
		Clock:    clock,
		Log:      log,
	}
	mappingSvc := &appmappings.Service{Repo: store.Mappings, Clock: clock, Log: log}

	h := NewRouter(Deps{
		Name:     "Financial Document Analyzer API",
		Version:  "2.0.0",
		Database: "sqlite",
		Auth:     authSvc,
		Analysis: &analysis.Orchestrator{
			Lifecycle:  lc,
			Dispatcher: pool,
			Mappings:   mappingSvc,
			Documents:  store.Documents,
			UploadDir:  filepath.Join(dir, "data"),
			Log:        log,
		},
		Reports: &appreports.Service{Repo: store.Reports, Artifacts: artifacts, Mappings: store.Mappings, Dispatcher: pool, Clock: clock, Log: log},
		Tasks: &apptasks.Service{
			Dispatcher: pool,
			Mappings:   store.Mappings,
			Reports:    store.Reports,
			Lifecycle:  lc,
			TaskErrors: store.TaskErrors,
			Log:        log,
		},
		Mappings:    mappingSvc,
		Documents:   &appdocs.Service{Repo: store.Documents, Dir: filepath.Join(dir, "documents"), Dispatcher: pool, Clock: clock, Log: log},
		Health:      map[string]middleware.HealthChecker{"database": &middleware.DatabaseHealthChecker{DB: store.DB.DB}},
		Readiness:   map[string]middleware.HealthChecker{"worker_pool": middleware.CheckFunc(pool.Ready)},
		Limiter:     middleware.NewRateLimiter(10000, 1000),
		CORSOrigins: []string{"*"},
		Log:         log,
	})
	return apiFixture{h: h, store: store, auth: authSvc}
}

func (f apiFixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "10.0.0.1:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func (f apiFixture) json(t *testing.T, method, path, token string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return f.do(t, method, path, token, body, "application/json")
}

// signup registers and logs in a user, returning the access token.
func (f apiFixture) signup(t *testing.T, username string) string {
	t.Helper()
	rec := f.json(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return f.login(t, username, "s3cret-pass")
}

func (f apiFixture) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := f.json(t, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair appauth.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair.AccessToken
}

func form(t *testing.T, fields map[string]string, fileName, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decodeBody[map[string]string](t, rec)["detail"]
}

func (f apiFixture) waitTask(t *testing.T, token, taskID string) apptasks.Status {
	t.Helper()
	var st apptasks.Status
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/tasks/"+taskID+"/status", token, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		st = decodeBody[apptasks.Status](t, rec)
		return st.Status == "completed" || st.Status == "failed"
	}, 5*time.Second, 20*time.Millisecond)
	return st
}

func TestPublicEndpoints(t *testing.T) {
	f := newAPI(t)

	t.Run("Should describe the service at the root", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/", "", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "Financial Document Analyzer API is running", body["message"])
		assert.Equal(t, "sqlite", body["database"])
	})

	t.Run("Should answer the probes", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil, "").Code)
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "", nil, "").Code)
		assert.Equal(t, "ok", f.do(t, http.MethodGet, "/live", "", nil, "").Body.String())

		rec := f.do(t, http.MethodGet, "/metrics", "", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		m := decodeBody[map[string]any](t, rec)
		assert.Contains(t, m, "requests_total")
		assert.Contains(t, m, "tasks_pending")
	})

	t.Run("Should list the analysis types", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/analysis/types", "", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string][]analysisType](t, rec)
		require.Len(t, body["available_analysis_types"], 4)
		assert.Equal(t, "/analysis/comprehensive", body["available_analysis_types"][0].Endpoint)
	})

	t.Run("Should demand a token elsewhere", func(t *testing.T) {
		for _, path := range []string{"/reports/", "/tasks/active", "/documents/", "/auth/me"} {
			rec := f.do(t, http.MethodGet, path, "", nil, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		}
	})
}

func TestAuthFlow(t *testing.T) {
	f := newAPI(t)
	token := f.signup(t, "alice")

	t.Run("Should return the current user", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/auth/me", token, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "alice", body["username"])
		assert.NotContains(t, body, "password_hash")
	})

	t.Run("Should reject a duplicate username", func(t *testing.T) {
		rec := f.json(t, http.MethodPost, "/auth/register", "", map[string]string{
			"username": "alice", "email": "other@example.com", "password": "s3cret-pass",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Should reject a bad password with 401", func(t *testing.T) {
		rec := f.json(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "incorrect username or password", detail(t, rec))
	})

	t.Run("Should validate registration input", func(t *testing.T) {
		rec := f.json(t, http.MethodPost, "/auth/register", "", map[string]string{
			"username": "bob", "email": "bob@example.com", "password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Password must be at least 8 characters long", detail(t, rec))

		rec = f.do(t, http.MethodPost, "/auth/register", "", strings.NewReader("{"), "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should keep admin routes for admins", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/auth/users", token, nil, "").Code)
		assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/task-mappings/cleanup?days_old=30", token, nil, "").Code)

		require.NoError(t, f.auth.Bootstrap(context.Background(), appauth.RegisterCommand{
			Username: "root", Email: "root@example.com", Password: "admin-pass-1",
		}))
		admin := f.login(t, "root", "admin-pass-1")

		rec := f.do(t, http.MethodGet, "/auth/users", admin, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[[]map[string]any](t, rec), 2)

		rec = f.do(t, http.MethodPost, "/task-mappings/cleanup?days_old=30", admin, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Cleaned up 0 old mappings", decodeBody[map[string]any](t, rec)["message"])

		rec = f.do(t, http.MethodPost, "/task-mappings/cleanup?days_old=0", admin, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, "/auth/cleanup-sessions", admin, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Should invalidate the token on logout", func(t *testing.T) {
		fresh := f.login(t, "alice", "s3cret-pass")
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/auth/logout", fresh, nil, "").Code)
		assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/me", fresh, nil, "").Code)
	})
}

func TestAnalysisFlow(t *testing.T) {
	f := newAPI(t)
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")

	body, ct := form(t, map[string]string{"query": "How risky is the balance sheet?"}, "annual.txt", filing)
	rec := f.do(t, http.MethodPost, "/analysis/risk", alice, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	queued := decodeBody[analysis.Queued](t, rec)
	assert.Equal(t, "queued", queued.Status)
	assert.Equal(t, domain.TypeRisk, queued.AnalysisType)
	assert.Equal(t, "annual.txt", queued.FileProcessed)
	assert.Equal(t, "pending", queued.ReportStatus)

	t.Run("Should finish the task and expose the report", func(t *testing.T) {
		st := f.waitTask(t, alice, queued.TaskID)
		require.Equal(t, "completed", st.Status, st.Error)
		assert.Equal(t, 100, st.Progress)
		assert.Equal(t, queued.ReportID, st.ReportID)

		rec := f.do(t, http.MethodGet, "/reports/"+queued.ReportID, alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		rep := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "completed", rep["status"])
		assert.Equal(t, queued.ReportDownloadURL, rep["download_url"])

		rec = f.do(t, http.MethodGet, queued.ReportDownloadURL, alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
		assert.Contains(t, rec.Body.String(), "How risky is the balance sheet?")

		rec = f.do(t, http.MethodGet, "/reports/stats/summary", alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decodeBody[appreports.Stats](t, rec)
		assert.Equal(t, int64(1), stats.TotalReports)
		assert.Equal(t, int64(1), stats.ByAnalysisType[domain.TypeRisk])
		assert.Equal(t, int64(0), stats.ByAnalysisType[domain.TypeInvestment])

		rec = f.do(t, http.MethodGet, "/reports/?analysis_type=risk&page_size=5", alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		page := decodeBody[map[string]any](t, rec)
		assert.EqualValues(t, 1, page["total"])
	})

	t.Run("Should hide the report and task from other users", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/reports/"+queued.ReportID, bob, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tasks/"+queued.TaskID+"/status", bob, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/task-mappings/by-report/"+queued.ReportID, bob, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/reports/"+queued.ReportID, bob, nil, "").Code)
	})

	t.Run("Should update the summary and delete the report", func(t *testing.T) {
		rec := f.json(t, http.MethodPut, "/reports/"+queued.ReportID, alice, map[string]string{"summary": "edited"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "edited", decodeBody[map[string]any](t, rec)["summary"])

		rec = f.do(t, http.MethodGet, "/task-mappings/by-report/"+queued.ReportID, alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/reports/"+queued.ReportID, alice, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/reports/"+queued.ReportID, alice, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/task-mappings/by-report/"+queued.ReportID, alice, nil, "").Code)
	})
}

func TestAnalysisValidation(t *testing.T) {
	f := newAPI(t)
	token := f.signup(t, "alice")

	t.Run("Should 404 an unknown analysis type", func(t *testing.T) {
		body, ct := form(t, nil, "a.txt", filing)
		rec := f.do(t, http.MethodPost, "/analysis/astrology", token, body, ct)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should require exactly one source", func(t *testing.T) {
		body, ct := form(t, map[string]string{"query": "x"}, "", "")
		rec := f.do(t, http.MethodPost, "/analysis/risk", token, body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Either file upload or document_id must be provided", detail(t, rec))
	})

	t.Run("Should reject a non multipart body", func(t *testing.T) {
		rec := f.json(t, http.MethodPost, "/analysis/risk", token, map[string]string{"query": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should accept the verify alias", func(t *testing.T) {
		body, ct := form(t, nil, "a.txt", filing)
		rec := f.do(t, http.MethodPost, "/analysis/verify", token, body, ct)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, domain.TypeVerification, decodeBody[analysis.Queued](t, rec).AnalysisType)
	})
}

func TestDocumentsFlow(t *testing.T) {
	f := newAPI(t)
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")

	body, ct := form(t, nil, "q3 filing.txt", filing)
	rec := f.do(t, http.MethodPost, "/documents/upload", alice, body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decodeBody[map[string]any](t, rec)
	id := doc["id"].(string)
	var reportID string

	t.Run("Should list and download the document", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/documents/", alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decodeBody[map[string]any](t, rec)["total"])

		rec = f.do(t, http.MethodGet, "/documents/"+id+"/download", alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, filing, rec.Body.String())

		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/documents/"+id, bob, nil, "").Code)
	})

	t.Run("Should analyze a stored document", func(t *testing.T) {
		body, ct := form(t, map[string]string{"document_id": id}, "", "")
		rec := f.do(t, http.MethodPost, "/analysis/investment", alice, body, ct)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		queued := decodeBody[analysis.Queued](t, rec)
		assert.Equal(t, "q3_filing.txt", queued.FileProcessed)
		reportID = queued.ReportID

		st := f.waitTask(t, alice, queued.TaskID)
		require.Equal(t, "completed", st.Status, st.Error)

		reportsBefore, err := f.store.Reports.Count(context.Background(), "", domain.Filter{})
		require.NoError(t, err)
		mappingsBefore, err := f.store.Mappings.Count(context.Background(), "")
		require.NoError(t, err)

		body, ct = form(t, map[string]string{"document_id": id}, "", "")
		rec = f.do(t, http.MethodPost, "/analysis/investment", bob, body, ct)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		reportsAfter, err := f.store.Reports.Count(context.Background(), "", domain.Filter{})
		require.NoError(t, err)
		mappingsAfter, err := f.store.Mappings.Count(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, reportsBefore, reportsAfter)
		assert.Equal(t, mappingsBefore, mappingsAfter)
	})

	t.Run("Should reject an unsupported extension", func(t *testing.T) {
		body, ct := form(t, nil, "run.exe", "MZ")
		rec := f.do(t, http.MethodPost, "/documents/upload", alice, body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should delete the document and keep its reports intact", func(t *testing.T) {
		require.NotEmpty(t, reportID)
		require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/documents/"+id, alice, nil, "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/documents/"+id, alice, nil, "").Code)

		rec := f.do(t, http.MethodGet, "/reports/"+reportID, alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		rep := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "q3_filing.txt", rep["file_name"])
		assert.Equal(t, id, rep["document_id"])
		assert.Equal(t, "completed", rep["status"])

		rec = f.do(t, http.MethodGet, "/reports/"+reportID+"/download", alice, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "**Original File:** q3_filing.txt")
	})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{errs.Invalid("bad page"), http.StatusBadRequest, "bad page"},
		{fmt.Errorf("%w: report r1", errs.ErrNotFound), http.StatusNotFound, "report r1"},
		{errs.ErrNotFound, http.StatusNotFound, "Not found"},
		{fmt.Errorf("%w: username taken", errs.ErrAlreadyExists), http.StatusConflict, "username taken"},
		{fmt.Errorf("%w: report is still pending", errs.ErrConflict), http.StatusConflict, "report is still pending"},
		{errs.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{fmt.Errorf("%w: session expired", errs.ErrUnauthorized), http.StatusUnauthorized, "session expired"},
		{fmt.Errorf("analyze: %w", domai.ErrQuotaExceeded), http.StatusTooManyRequests, "ai quota exceeded"},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "request body too large"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal server error"},
	}
	for _, c := range cases {
		status, msg := classify(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.detail, msg, c.err.Error())
	}
}
