package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker probes one dependency.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function, e.g. a mongo ping or pool.Ready, to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker pings a SQL pool.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// runChecks runs every checker under one 5s budget and reports whether all passed.
func runChecks(ctx context.Context, checkers map[string]HealthChecker) (map[string]CheckStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out := make(map[string]CheckStatus, len(checkers))
	ok := true
	for name, c := range checkers {
		if err := c.Check(ctx); err != nil {
			ok = false
			out[name] = CheckStatus{Status: "unhealthy", Message: err.Error()}
			continue
		}
		out[name] = CheckStatus{Status: "healthy"}
	}
	return out, ok
}

func writeProbe(w http.ResponseWriter, ok bool, body any) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler reports on the backing store; any failed check answers 503.
func HealthHandler(service, version string, checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, ok := runChecks(r.Context(), checkers)
		h := HealthStatus{Status: "healthy", Service: service, Version: version, Timestamp: time.Now(), Checks: checks}
		if !ok {
			h.Status = "unhealthy"
		}
		writeProbe(w, ok, h)
	}
}

// ReadinessHandler says whether new analyses can be accepted. Callers pass the store
// checks plus the worker pool, so a stopped or saturated pool takes the instance out.
func ReadinessHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, ok := runChecks(r.Context(), checkers)
		status := "ready"
		if !ok {
			status = "not_ready"
		}
		writeProbe(w, ok, map[string]any{"status": status, "timestamp": time.Now(), "checks": checks})
	}
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
