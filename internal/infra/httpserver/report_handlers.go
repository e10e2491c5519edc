package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	appreports "github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

// GET /reports/?analysis_type=&search_query=&page=&page_size=
func (r *Router) handleListReports(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, err := middleware.QueryInt(q, "page", 1)
	if err != nil {
		return invalid(err)
	}
	size, err := middleware.QueryInt(q, "page_size", appreports.DefaultPageSize)
	if err != nil {
		return invalid(err)
	}
	lq := appreports.ListQuery{
		Search:   middleware.SanitizeString(q.Get("search_query")),
		Page:     middleware.ValidatePage(page),
		PageSize: size,
	}
	if raw := strings.TrimSpace(q.Get("analysis_type")); raw != "" {
		t, err := parseType(raw)
		if err != nil {
			return invalid(fmt.Errorf("unknown analysis_type %q", raw))
		}
		lq.Type = t
	}
	res, err := r.d.Reports.List(req.Context(), principal(req), lq)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleGetReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	v, err := r.d.Reports.Get(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, v)
}

// GET /reports/{id}/download streams the markdown artifact.
func (r *Router) handleDownloadReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	rc, rep, err := r.d.Reports.Open(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(rep.ReportPath)))
	_, err = io.Copy(w, rc)
	return err
}

// PUT /reports/{id} {"summary": "..."}
func (r *Router) handleUpdateReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	var body struct {
		Summary *string `json:"summary"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	v, err := r.d.Reports.UpdateSummary(req.Context(), principal(req), id, body.Summary)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, v)
}

func (r *Router) handleDeleteReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.d.Reports.Delete(req.Context(), principal(req), id); err != nil {
		return err
	}
	return message(w, "Report deleted successfully")
}

// DELETE /reports/admin/{id}
func (r *Router) handleAdminDeleteReport(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.d.Reports.AdminDelete(req.Context(), principal(req), id); err != nil {
		return err
	}
	return message(w, "Report deleted successfully by admin")
}

func (r *Router) handleReportStats(w http.ResponseWriter, req *http.Request) error {
	st, err := r.d.Reports.Stats(req.Context(), principal(req))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}
