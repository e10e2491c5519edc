package httpserver

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/fin-analyzer/internal/application/analysis"
	appdocs "github.com/bryanwahyu/fin-analyzer/internal/application/documents"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

const multipartMemory = 8 << 20

type analysisType struct {
	Type         domain.Type `json:"type"`
	Endpoint     string      `json:"endpoint"`
	Description  string      `json:"description"`
	DefaultQuery string      `json:"default_query"`
}

// GET /analysis/types
func (r *Router) handleAnalysisTypes(w http.ResponseWriter, req *http.Request) error {
	var out []analysisType
	for _, s := range domain.Catalog() {
		out = append(out, analysisType{
			Type:         s.Type,
			Endpoint:     "/analysis/" + string(s.Type),
			Description:  s.Description,
			DefaultQuery: s.DefaultQuery,
		})
	}
	return writeJSON(w, http.StatusOK, map[string]any{"available_analysis_types": out})
}

// parseType accepts the catalog names plus the short "verify" alias.
func parseType(raw string) (domain.Type, error) {
	if strings.EqualFold(raw, "verify") {
		raw = string(domain.TypeVerification)
	}
	t, ok := domain.ParseType(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown analysis type %q", errs.ErrNotFound, raw)
	}
	return t, nil
}

// parseMultipart reads a multipart body capped at MaxUploadBytes plus room for the text fields.
func (r *Router) parseMultipart(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.d.MaxUploadBytes+(1<<20))
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return errs.Invalid("invalid multipart form: %v", err)
	}
	return nil
}

func formFile(req *http.Request) (multipart.File, *multipart.FileHeader, error) {
	f, hdr, err := req.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errs.Invalid("invalid file part: %v", err)
	}
	return f, hdr, nil
}

// POST /analysis/{type}
// Multipart fields: query, file or document_id (exactly one of the last two).
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) (err error) {
	defer func() {
		if err != nil {
			r.d.Metrics.Rejected()
		}
	}()

	t, err := parseType(chi.URLParam(req, "type"))
	if err != nil {
		return err
	}
	if err := r.parseMultipart(w, req); err != nil {
		return err
	}
	defer req.MultipartForm.RemoveAll()

	areq := analysis.Request{
		Owner:      principal(req).UserID,
		Type:       t,
		Query:      middleware.SanitizeString(req.FormValue("query")),
		DocumentID: strings.TrimSpace(req.FormValue("document_id")),
	}
	if areq.DocumentID != "" {
		if err := middleware.ValidateID(areq.DocumentID); err != nil {
			return invalid(err)
		}
	}
	f, hdr, err := formFile(req)
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
		if hdr.Size > r.d.MaxUploadBytes {
			return errs.Invalid("file exceeds the %d MB limit", r.d.MaxUploadBytes>>20)
		}
		areq.File = &analysis.Upload{Name: appdocs.SanitizeName(hdr.Filename), Content: f}
	}

	queued, err := r.d.Analysis.Submit(req.Context(), areq)
	if err != nil {
		return err
	}
	r.d.Metrics.Submitted()
	return writeJSON(w, http.StatusOK, queued)
}
