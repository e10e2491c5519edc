package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores request and analysis counters.
type Metrics struct {
	RequestsTotal      atomic.Uint64
	RequestsInProgress atomic.Int64
	RequestsSuccess    atomic.Uint64
	RequestsFailed     atomic.Uint64
	AnalysesSubmitted  atomic.Uint64
	AnalysesRejected   atomic.Uint64
	TasksCancelled     atomic.Uint64
	StartTime          time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

func (m *Metrics) Submitted() { m.AnalysesSubmitted.Add(1) }

func (m *Metrics) Rejected() { m.AnalysesRejected.Add(1) }

func (m *Metrics) Cancelled() { m.TasksCancelled.Add(1) }

// Snapshot returns current metrics. gauges adds live values such as queue depth.
func (m *Metrics) Snapshot(gauges func() map[string]interface{}) map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := map[string]interface{}{
		"requests_total":       m.RequestsTotal.Load(),
		"requests_in_progress": m.RequestsInProgress.Load(),
		"requests_success":     m.RequestsSuccess.Load(),
		"requests_failed":      m.RequestsFailed.Load(),
		"analyses_submitted":   m.AnalysesSubmitted.Load(),
		"analyses_rejected":    m.AnalysesRejected.Load(),
		"tasks_cancelled":      m.TasksCancelled.Load(),
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
	if gauges != nil {
		for k, v := range gauges() {
			out[k] = v
		}
	}
	return out
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsTotal.Add(1)
		m.RequestsInProgress.Add(1)
		defer m.RequestsInProgress.Add(-1)

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			m.RequestsSuccess.Add(1)
		} else {
			m.RequestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(gauges func() map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot(gauges))
	}
}
