package mappings

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

const (
	DefaultPageSize      = 50
	MaxPageSize          = 100
	DefaultRetentionDays = 30
)

// Service exposes task-report mappings; non-admin callers only see their own.
type Service struct {
	Repo  domain.Repository
	Clock application.Clock
	Log   logrus.FieldLogger
}

func (s *Service) Create(ctx context.Context, taskID, reportID, owner string, t reports.Type) (*domain.Mapping, error) {
	now := s.Clock.Now()
	m := &domain.Mapping{
		TaskID:       taskID,
		ReportID:     reportID,
		UserID:       owner,
		AnalysisType: t,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create task mapping: %w", err)
	}
	return m, nil
}

func (s *Service) ByTask(ctx context.Context, p users.Principal, taskID string) (*domain.Mapping, error) {
	m, err := s.Repo.GetByTask(ctx, taskID, p.Scope())
	if err != nil {
		return nil, fmt.Errorf("task mapping: %w", err)
	}
	return m, nil
}

func (s *Service) ByReport(ctx context.Context, p users.Principal, reportID string) (*domain.Mapping, error) {
	m, err := s.Repo.GetByReport(ctx, reportID, p.Scope())
	if err != nil {
		return nil, fmt.Errorf("report mapping: %w", err)
	}
	return m, nil
}

// List pages the caller's own mappings, admins included.
func (s *Service) List(ctx context.Context, p users.Principal, page, pageSize int) (*domain.PaginatedResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return nil, errs.Invalid("page_size must be between 1 and %d", MaxPageSize)
	}
	list, err := s.Repo.List(ctx, p.UserID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list task mappings: %w", err)
	}
	total, err := s.Repo.Count(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("count task mappings: %w", err)
	}
	res := &domain.PaginatedResult{Data: list, Page: page, PageSize: pageSize, Total: total, TotalPages: 1}
	if total > 0 {
		res.TotalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}
	return res, nil
}

func (s *Service) DeleteByTask(ctx context.Context, p users.Principal, taskID string) error {
	if err := s.Repo.DeleteByTask(ctx, taskID, p.Scope()); err != nil {
		return fmt.Errorf("delete task mapping: %w", err)
	}
	return nil
}

func (s *Service) DeleteByReport(ctx context.Context, p users.Principal, reportID string) error {
	if err := s.Repo.DeleteByReport(ctx, reportID, p.Scope()); err != nil {
		return fmt.Errorf("delete report mapping: %w", err)
	}
	return nil
}

// Cleanup drops mappings older than days (1..365). Admin only.
func (s *Service) Cleanup(ctx context.Context, p users.Principal, days int) (int64, error) {
	if !p.IsAdmin {
		return 0, fmt.Errorf("%w: admin access required", errs.ErrForbidden)
	}
	if days < 1 || days > 365 {
		return 0, errs.Invalid("days_old must be between 1 and 365")
	}
	return s.Purge(ctx, days)
}

// Purge is the unchecked retention sweep shared with the reaper.
func (s *Service) Purge(ctx context.Context, days int) (int64, error) {
	cutoff := s.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.Repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup task mappings: %w", err)
	}
	s.Log.WithFields(logrus.Fields{"days_old": days, "deleted": n}).Info("old task mappings cleaned up")
	return n, nil
}
