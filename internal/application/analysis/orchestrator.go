// Package analysis turns an upload or a stored document into a queued analysis task and runs it.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/documents"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
)

const taskPrefix = "analysis."

// TaskName is the dispatcher name of the work unit for t.
func TaskName(t domain.Type) string { return taskPrefix + string(t) }

// TypeOf reverses TaskName.
func TypeOf(name string) (domain.Type, bool) {
	if !strings.HasPrefix(name, taskPrefix) {
		return "", false
	}
	t := domain.Type(strings.TrimPrefix(name, taskPrefix))
	_, ok := domain.Lookup(t)
	return t, ok
}

type Orchestrator struct {
	Lifecycle  *reports.Lifecycle
	Dispatcher tasks.Dispatcher
	Mappings   *mappings.Service
	Documents  documents.Repository
	UploadDir  string
	Log        logrus.FieldLogger
}

// Upload is a file received with the request.
type Upload struct {
	Name    string
	Content io.Reader
}

type Request struct {
	Owner      string
	Type       domain.Type
	Query      string
	File       *Upload
	DocumentID string
}

// Queued is the acknowledgement returned once the task is on the queue.
type Queued struct {
	Status            string      `json:"status"`
	AnalysisType      domain.Type `json:"analysis_type"`
	Query             string      `json:"query"`
	FileProcessed     string      `json:"file_processed"`
	UserID            string      `json:"user_id"`
	ReportID          string      `json:"report_id"`
	TaskID            string      `json:"task_id"`
	ReportStatus      string      `json:"report_status"`
	ReportDownloadURL string      `json:"report_download_url"`
	TaskStatusURL     string      `json:"task_status_url"`
	Message           string      `json:"message"`
}

// source is the file the worker will read.
type source struct {
	path, name, documentID string
	temporary              bool
}

func (o *Orchestrator) resolve(ctx context.Context, req Request) (*source, error) {
	switch {
	case req.File == nil && req.DocumentID == "":
		return nil, errs.Invalid("Either file upload or document_id must be provided")
	case req.File != nil && req.DocumentID != "":
		return nil, errs.Invalid("Cannot provide both file upload and document_id. Choose one.")
	}

	if req.DocumentID != "" {
		doc, err := o.Documents.Get(ctx, req.DocumentID, req.Owner)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, fmt.Errorf("%w: document not found or you don't have permission to access it", errs.ErrNotFound)
			}
			return nil, fmt.Errorf("load document: %w", err)
		}
		return &source{path: doc.Path, name: doc.OriginalName, documentID: doc.ID}, nil
	}

	id := uuid.NewString()
	ext := filepath.Ext(req.File.Name)
	if ext == "" || ext == "." {
		ext = ".pdf"
	}
	name := req.File.Name
	if name == "" {
		name = "upload_" + id + ext
	}
	path := filepath.Join(o.UploadDir, fmt.Sprintf("analysis_%s_%s%s", id, req.Owner, strings.ToLower(ext)))
	if err := save(path, req.File.Content); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	return &source{path: path, name: name, temporary: true}, nil
}

func save(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Submit creates the report, dispatches the work unit and records the task mapping.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Queued, error) {
	spec, ok := domain.Lookup(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown analysis type %q", errs.ErrNotFound, req.Type)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = spec.DefaultQuery
	}

	src, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	log := o.Log.WithFields(logrus.Fields{"user_id": req.Owner, "analysis_type": req.Type})
	cleanup := func() {
		if src.temporary {
			if err := os.Remove(src.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.WithError(err).Warn("could not remove upload")
			}
		}
	}

	rep, err := o.Lifecycle.Create(ctx, reports.CreateCommand{
		Owner:      req.Owner,
		Type:       req.Type,
		Query:      query,
		FileName:   src.name,
		DocumentID: src.documentID,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	log = log.WithField("report_id", rep.ID)

	taskID, err := o.Dispatcher.Dispatch(ctx, TaskName(req.Type), tasks.Payload{
		ReportID:   rep.ID,
		Query:      query,
		FilePath:   src.path,
		FileName:   src.name,
		UserID:     req.Owner,
		DocumentID: src.documentID,
		Temporary:  src.temporary,
	})
	if err != nil {
		cleanup()
		o.abandon(ctx, rep, fmt.Sprintf("%s analysis could not be queued: %v", req.Type.Title(), err), log)
		return nil, fmt.Errorf("dispatch analysis: %w", err)
	}
	log = log.WithField("task_id", taskID)

	if _, err := o.Mappings.Create(ctx, taskID, rep.ID, req.Owner, req.Type); err != nil {
		o.Dispatcher.Cancel(taskID)
		cleanup()
		o.abandon(ctx, rep, fmt.Sprintf("%s analysis cancelled: task mapping could not be saved", req.Type.Title()), log)
		return nil, fmt.Errorf("record task mapping: %w", err)
	}

	log.Info("analysis queued")
	return &Queued{
		Status:            "queued",
		AnalysisType:      req.Type,
		Query:             query,
		FileProcessed:     src.name,
		UserID:            req.Owner,
		ReportID:          rep.ID,
		TaskID:            taskID,
		ReportStatus:      string(domain.StatusPending),
		ReportDownloadURL: reports.DownloadURL(rep.ID),
		TaskStatusURL:     "/tasks/" + taskID + "/status",
		Message:           "Analysis has been queued and will be processed in the background",
	}, nil
}

func (o *Orchestrator) abandon(ctx context.Context, rep *domain.Report, diagnostic string, log logrus.FieldLogger) {
	if err := o.Lifecycle.Fail(context.WithoutCancel(ctx), rep.ID, rep.UserID, diagnostic); err != nil {
		log.WithError(err).Error("could not fail abandoned report")
	}
}
