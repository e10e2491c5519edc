package httpserver

import (
	"net/http"

	appdocs "github.com/bryanwahyu/fin-analyzer/internal/application/documents"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

// POST /documents/upload (multipart field "file")
func (r *Router) handleUploadDocument(w http.ResponseWriter, req *http.Request) error {
	if err := r.parseMultipart(w, req); err != nil {
		return err
	}
	defer req.MultipartForm.RemoveAll()

	f, hdr, err := formFile(req)
	if err != nil {
		return err
	}
	if f == nil {
		return errs.Invalid("file is required")
	}
	defer f.Close()

	doc, err := r.d.Documents.Upload(req.Context(), appdocs.UploadCommand{
		Owner:   principal(req).UserID,
		Name:    hdr.Filename,
		Content: f,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, doc)
}

// GET /documents/?search=&page=&page_size=
func (r *Router) handleListDocuments(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, err := middleware.QueryInt(q, "page", 1)
	if err != nil {
		return invalid(err)
	}
	size, err := middleware.QueryInt(q, "page_size", appdocs.DefaultPageSize)
	if err != nil {
		return invalid(err)
	}
	res, err := r.d.Documents.List(req.Context(), principal(req), middleware.SanitizeString(q.Get("search")), page, size)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleGetDocument(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	doc, err := r.d.Documents.Get(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, doc)
}

func (r *Router) handleDownloadDocument(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	f, doc, err := r.d.Documents.Open(req.Context(), principal(req), id)
	if err != nil {
		return err
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+appdocs.SanitizeName(doc.OriginalName)+`"`)
	http.ServeContent(w, req, doc.OriginalName, doc.UpdatedAt, f)
	return nil
}

func (r *Router) handleDeleteDocument(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.d.Documents.Delete(req.Context(), principal(req), id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "document_id": id})
}
