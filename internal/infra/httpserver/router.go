package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application/analysis"
	appauth "github.com/bryanwahyu/fin-analyzer/internal/application/auth"
	appdocs "github.com/bryanwahyu/fin-analyzer/internal/application/documents"
	appmappings "github.com/bryanwahyu/fin-analyzer/internal/application/mappings"
	appreports "github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	apptasks "github.com/bryanwahyu/fin-analyzer/internal/application/tasks"
	domai "github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

// Deps is everything the router needs; services are built in cmd/api.
type Deps struct {
	Name     string
	Version  string
	Database string

	Auth      *appauth.Service
	Analysis  *analysis.Orchestrator
	Reports   *appreports.Service
	Tasks     *apptasks.Service
	Mappings  *appmappings.Service
	Documents *appdocs.Service

	Health      map[string]middleware.HealthChecker
	Readiness   map[string]middleware.HealthChecker
	Metrics     *middleware.Metrics
	Limiter     *middleware.RateLimiter
	CORSOrigins []string
	// MaxUploadBytes caps multipart bodies; the file part itself is checked again by the services.
	MaxUploadBytes int64
	Log            logrus.FieldLogger
}

type Router struct {
	d Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = middleware.NewMetrics()
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter(100, 2)
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = appdocs.DefaultMaxBytes
	}
	r := &Router{d: d}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(d.Log))
	mux.Use(d.Metrics.Middleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// probes
	mux.Get("/", r.handleRoot)
	mux.Get("/health", middleware.HealthHandler(d.Name, d.Version, d.Health))
	mux.Get("/ready", middleware.ReadinessHandler(d.Readiness))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", d.Metrics.Handler(r.gauges))

	limit := middleware.RateLimit(d.Limiter)
	authed := middleware.BearerAuth(d.Auth, d.Log)

	mux.Group(func(pub chi.Router) {
		pub.Use(limit)
		pub.Post("/auth/register", r.wrap(r.handleRegister))
		pub.Post("/auth/login", r.wrap(r.handleLogin))
		pub.Post("/auth/refresh", r.wrap(r.handleRefresh))
		pub.Get("/analysis/types", r.wrap(r.handleAnalysisTypes))
	})

	mux.Group(func(rt chi.Router) {
		rt.Use(authed)
		rt.Use(limit)

		rt.Route("/auth", func(a chi.Router) {
			a.Post("/logout", r.wrap(r.handleLogout))
			a.Get("/me", r.wrap(r.handleMe))
			a.Post("/change-password", r.wrap(r.handleChangePassword))
			a.With(middleware.RequireAdmin).Get("/users", r.wrap(r.handleListUsers))
			a.With(middleware.RequireAdmin).Delete("/users/{id}", r.wrap(r.handleDeleteUser))
			a.With(middleware.RequireAdmin).Post("/cleanup-sessions", r.wrap(r.handleCleanupSessions))
		})

		rt.Post("/analysis/{type}", r.wrap(r.handleAnalyze))

		rt.Route("/tasks", func(t chi.Router) {
			t.Get("/active", r.wrap(r.handleActiveTasks))
			t.Get("/stats", r.wrap(r.handleTaskStats))
			t.Get("/queues", r.wrap(r.handleTaskQueues))
			t.Get("/{id}/status", r.wrap(r.handleTaskStatus))
			t.Post("/{id}/cancel", r.wrap(r.handleTaskCancel))
			t.Get("/{id}/errors", r.wrap(r.handleTaskErrors))
		})

		rt.Route("/task-mappings", func(m chi.Router) {
			m.Get("/", r.wrap(r.handleListMappings))
			m.Get("/by-task/{id}", r.wrap(r.handleMappingByTask))
			m.Delete("/by-task/{id}", r.wrap(r.handleDeleteMappingByTask))
			m.Get("/by-report/{id}", r.wrap(r.handleMappingByReport))
			m.Delete("/by-report/{id}", r.wrap(r.handleDeleteMappingByReport))
			m.Post("/cleanup", r.wrap(r.handleCleanupMappings))
		})

		rt.Route("/reports", func(rp chi.Router) {
			rp.Get("/", r.wrap(r.handleListReports))
			rp.Get("/stats/summary", r.wrap(r.handleReportStats))
			rp.Delete("/admin/{id}", r.wrap(r.handleAdminDeleteReport))
			rp.Get("/{id}", r.wrap(r.handleGetReport))
			rp.Get("/{id}/download", r.wrap(r.handleDownloadReport))
			rp.Put("/{id}", r.wrap(r.handleUpdateReport))
			rp.Delete("/{id}", r.wrap(r.handleDeleteReport))
		})

		rt.Route("/documents", func(dc chi.Router) {
			dc.Post("/upload", r.wrap(r.handleUploadDocument))
			dc.Get("/", r.wrap(r.handleListDocuments))
			dc.Get("/{id}", r.wrap(r.handleGetDocument))
			dc.Get("/{id}/download", r.wrap(r.handleDownloadDocument))
			dc.Delete("/{id}", r.wrap(r.handleDeleteDocument))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap is the only place errors turn into status codes.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status, detail := classify(err)
		if status >= http.StatusInternalServerError {
			r.d.Log.WithError(err).WithFields(logrus.Fields{
				"method": req.Method,
				"path":   req.URL.Path,
			}).Error("request failed")
		}
		middleware.WriteError(w, status, detail)
	}
}

func classify(err error) (int, string) {
	var ve *errs.ValidationError
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, strip(err, errs.ErrNotFound)
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, strip(err, errs.ErrAlreadyExists)
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, strip(err, errs.ErrConflict)
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, strip(err, errs.ErrForbidden)
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, strip(err, errs.ErrUnauthorized)
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "ai quota exceeded"
	}
	return http.StatusInternalServerError, "internal server error"
}

// strip drops the sentinel prefix so "not found: report x" reads "report x".
func strip(err, sentinel error) string {
	msg := err.Error()
	if msg == sentinel.Error() {
		return capitalize(msg)
	}
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func decode(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return errs.Invalid("invalid JSON body: %v", err)
	}
	return nil
}

func invalid(err error) error {
	return errs.Invalid("%v", err)
}

func message(w http.ResponseWriter, msg string) error {
	return writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// principal is set by BearerAuth on every protected route.
func principal(req *http.Request) users.Principal {
	p, _ := middleware.PrincipalFrom(req.Context())
	return p
}

func pathID(req *http.Request) (string, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateID(id); err != nil {
		return "", invalid(err)
	}
	return id, nil
}

// GET /
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"message":  r.d.Name + " is running",
		"version":  r.d.Version,
		"database": r.d.Database,
		"time":     time.Now().UTC(),
	})
}

func (r *Router) gauges() map[string]any {
	if r.d.Tasks == nil {
		return nil
	}
	st := r.d.Tasks.Stats()
	q := r.d.Tasks.Queues()
	return map[string]any{
		"tasks_active":  st.TotalActiveTasks,
		"tasks_pending": q.TotalPending,
		"workers":       st.TotalWorkers,
	}
}
