package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxSummaryLen   = 10000
)

// Service implements the owner-facing report use cases. When Dispatcher is set,
// deleting a report revokes its live task first.
type Service struct {
	Repo       domain.Repository
	Artifacts  domain.ArtifactStore
	Mappings   mappings.Repository
	Dispatcher tasks.Dispatcher
	Clock      application.Clock
	Log        logrus.FieldLogger
}

// View is a report plus its download link, present only when the artifact exists.
type View struct {
	*domain.Report
	DownloadURL *string `json:"download_url"`
}

type Page struct {
	Reports    []View `json:"reports"`
	Total      int64  `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

type ListQuery struct {
	Type     domain.Type
	Search   string
	Page     int
	PageSize int
}

// DownloadURL is the API path serving the artifact of report id.
func DownloadURL(id string) string { return "/reports/" + id + "/download" }

func (s *Service) view(ctx context.Context, rep *domain.Report) View {
	v := View{Report: rep}
	ok, err := s.Artifacts.Exists(ctx, rep.ReportPath)
	if err != nil {
		s.Log.WithError(err).WithField("report_id", rep.ID).Warn("artifact lookup failed")
	}
	if ok {
		u := DownloadURL(rep.ID)
		v.DownloadURL = &u
	}
	return v
}

func (s *Service) List(ctx context.Context, p users.Principal, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		return nil, errs.Invalid("page_size must be between 1 and %d", MaxPageSize)
	}
	if q.Type != "" {
		if _, ok := domain.Lookup(q.Type); !ok {
			return nil, errs.Invalid("unknown analysis_type %q", q.Type)
		}
	}

	f := domain.Filter{AnalysisType: q.Type, Search: q.Search}
	list, err := s.Repo.List(ctx, p.UserID, f, q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	total, err := s.Repo.Count(ctx, p.UserID, f)
	if err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}

	out := &Page{Reports: make([]View, 0, len(list)), Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: 1}
	if total > 0 {
		out.TotalPages = int(math.Ceil(float64(total) / float64(q.PageSize)))
	}
	for _, rep := range list {
		out.Reports = append(out.Reports, s.view(ctx, rep))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, p users.Principal, id string) (*View, error) {
	rep, err := s.Repo.Get(ctx, id, p.UserID)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, rep)
	return &v, nil
}

// Open returns the artifact stream; the caller closes it.
func (s *Service) Open(ctx context.Context, p users.Principal, id string) (io.ReadCloser, *domain.Report, error) {
	rep, err := s.Repo.Get(ctx, id, p.UserID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.Artifacts.Open(ctx, rep.ReportPath)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, fmt.Errorf("report file: %w", errs.ErrNotFound)
		}
		return nil, nil, err
	}
	return rc, rep, nil
}

// UpdateSummary lets the owner rewrite the summary once a worker has picked the report up.
func (s *Service) UpdateSummary(ctx context.Context, p users.Principal, id string, summary *string) (*View, error) {
	if summary != nil {
		text := strings.TrimSpace(*summary)
		if len(text) > MaxSummaryLen {
			return nil, errs.Invalid("summary must be at most %d characters", MaxSummaryLen)
		}
		ok, err := s.Repo.Apply(ctx, id, p.UserID, domain.Transition{
			From:    []domain.Status{domain.StatusInProgress, domain.StatusCompleted, domain.StatusFailed},
			Summary: &text,
		}, s.Clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: report is still pending", errs.ErrConflict)
		}
	}
	return s.Get(ctx, p, id)
}

func (s *Service) Delete(ctx context.Context, p users.Principal, id string) error {
	return s.delete(ctx, id, p.UserID)
}

// AdminDelete removes any user's report.
func (s *Service) AdminDelete(ctx context.Context, p users.Principal, id string) error {
	if !p.IsAdmin {
		return errs.ErrForbidden
	}
	return s.delete(ctx, id, "")
}

func (s *Service) delete(ctx context.Context, id, owner string) error {
	rep, err := s.Repo.Get(ctx, id, owner)
	if err != nil {
		return err
	}
	log := s.Log.WithField("report_id", id)
	s.revokeTask(id, log)
	if err := s.Repo.Delete(ctx, id, owner); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if err := s.Artifacts.Remove(ctx, rep.ReportPath); err != nil {
		log.WithError(err).Warn("could not delete report file")
	}
	if s.Mappings != nil {
		if err := s.Mappings.DeleteByReport(ctx, id, ""); err != nil && !errors.Is(err, errs.ErrNotFound) {
			log.WithError(err).Warn("could not delete task mapping")
		}
	}
	return nil
}

func (s *Service) revokeTask(reportID string, log logrus.FieldLogger) {
	if s.Dispatcher == nil {
		return
	}
	taskID, ok := s.Dispatcher.ReportTask(reportID)
	if !ok {
		return
	}
	payload, revoked := tasks.Revoke(s.Dispatcher, taskID)
	if !revoked {
		return
	}
	log = log.WithField("task_id", taskID)
	if err := payload.RemoveUpload(); err != nil {
		log.WithError(err).Warn("could not remove upload of revoked task")
	}
	log.Info("revoked task of deleted report")
}

type Stats struct {
	TotalReports   int64                 `json:"total_reports"`
	ByAnalysisType map[domain.Type]int64 `json:"by_analysis_type"`
}

func (s *Service) Stats(ctx context.Context, p users.Principal) (*Stats, error) {
	counts, err := s.Repo.CountByType(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("count reports by type: %w", err)
	}
	st := &Stats{ByAnalysisType: map[domain.Type]int64{}}
	for _, t := range domain.Types() {
		st.ByAnalysisType[t] = counts[t]
	}
	for _, n := range counts {
		st.TotalReports += n
	}
	return st, nil
}
