package httpserver

import (
	"fmt"
	"net/http"

	appmappings "github.com/bryanwahyu/fin-analyzer/internal/application/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

// GET /tasks/{id}/status
func (r *Router) handleTaskStatus(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	st, err := r.d.Tasks.Status(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

// POST /tasks/{id}/cancel
func (r *Router) handleTaskCancel(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	res, err := r.d.Tasks.Cancel(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	r.d.Metrics.Cancelled()
	return writeJSON(w, http.StatusOK, res)
}

// GET /tasks/{id}/errors?limit=
func (r *Router) handleTaskErrors(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	limit, err := middleware.QueryInt(req.URL.Query(), "limit", 100)
	if err != nil {
		return invalid(err)
	}
	list, err := r.d.Tasks.Errors(req.Context(), principal(req), id, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "errors": list, "total_count": len(list)})
}

func (r *Router) handleActiveTasks(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, r.d.Tasks.Active(principal(req)))
}

func (r *Router) handleTaskStats(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, r.d.Tasks.Stats())
}

func (r *Router) handleTaskQueues(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, http.StatusOK, r.d.Tasks.Queues())
}

// GET /task-mappings/?page=&page_size=
func (r *Router) handleListMappings(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, err := middleware.QueryInt(q, "page", 1)
	if err != nil {
		return invalid(err)
	}
	size, err := middleware.QueryInt(q, "page_size", appmappings.DefaultPageSize)
	if err != nil {
		return invalid(err)
	}
	res, err := r.d.Mappings.List(req.Context(), principal(req), middleware.ValidatePage(page), size)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleMappingByTask(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	m, err := r.d.Mappings.ByTask(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, m)
}

func (r *Router) handleMappingByReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	m, err := r.d.Mappings.ByReport(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, m)
}

func (r *Router) handleDeleteMappingByTask(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.d.Mappings.DeleteByTask(req.Context(), principal(req), id); err != nil {
		return err
	}
	return message(w, "Task mapping deleted successfully")
}

func (r *Router) handleDeleteMappingByReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.d.Mappings.DeleteByReport(req.Context(), principal(req), id); err != nil {
		return err
	}
	return message(w, "Report mapping deleted successfully")
}

// POST /task-mappings/cleanup?days_old=30 (admin)
func (r *Router) handleCleanupMappings(w http.ResponseWriter, req *http.Request) error {
	days, err := middleware.QueryInt(req.URL.Query(), "days_old", appmappings.DefaultRetentionDays)
	if err != nil {
		return invalid(err)
	}
	n, err := r.d.Mappings.Cleanup(req.Context(), principal(req), days)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Cleaned up %d old mappings", n),
		"cleaned_count": n,
		"days_old":      days,
	})
}
