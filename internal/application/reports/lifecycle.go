// Package reports owns the report state machine and the owner-facing report queries.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
)

// Lifecycle moves reports through pending -> in_progress -> completed|failed.
// Every write is a compare-and-set, so redelivered or late calls on a terminal report are no-ops.
type Lifecycle struct {
	Repo      domain.Repository
	Artifacts domain.ArtifactStore
	Clock     application.Clock
	Log       logrus.FieldLogger
}

type CreateCommand struct {
	Owner      string
	Type       domain.Type
	Query      string
	FileName   string
	DocumentID string
}

// ArtifactKey names the markdown output for one report.
func ArtifactKey(t domain.Type, owner string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("outputs/%s_%s_%s_%s.md", t, owner, now.UTC().Format("20060102_150405"), suffix)
}

func (l *Lifecycle) Create(ctx context.Context, cmd CreateCommand) (*domain.Report, error) {
	now := l.Clock.Now()
	summary := fmt.Sprintf("%s analysis queued...", cmd.Type.Title())
	rep := &domain.Report{
		UserID:       cmd.Owner,
		AnalysisType: cmd.Type,
		Query:        cmd.Query,
		FileName:     cmd.FileName,
		ReportPath:   ArtifactKey(cmd.Type, cmd.Owner, now),
		Status:       domain.StatusPending,
		Summary:      &summary,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if cmd.DocumentID != "" {
		doc := cmd.DocumentID
		rep.DocumentID = &doc
	}
	if err := l.Repo.Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	placeholder := fmt.Sprintf("# %s Analysis Report\n\n**Status:** queued\n\nThe analysis of %s has been queued and will appear here when it completes.\n",
		cmd.Type.Title(), cmd.FileName)
	if err := l.Artifacts.Put(ctx, rep.ReportPath, []byte(placeholder)); err != nil {
		l.Log.WithError(err).WithField("report_id", rep.ID).Warn("failed to write placeholder artifact")
	}
	return rep, nil
}

// MarkInProgress is a no-op unless the report is pending.
func (l *Lifecycle) MarkInProgress(ctx context.Context, id, owner string) error {
	rep, err := l.Repo.Get(ctx, id, owner)
	if err != nil {
		return err
	}
	if !rep.Status.CanTransition(domain.StatusInProgress) {
		return nil
	}
	summary := fmt.Sprintf("%s analysis in progress...", rep.AnalysisType.Title())
	_, err = l.Repo.Apply(ctx, id, owner, domain.Transition{
		From:    domain.Sources(domain.StatusInProgress),
		To:      domain.StatusInProgress,
		Summary: &summary,
	}, l.Clock.Now())
	return err
}

// RenderArtifact is the markdown body of a completed report.
func RenderArtifact(rep *domain.Report, text string, generated time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Analysis Report\n\n", rep.AnalysisType.Title())
	fmt.Fprintf(&b, "**Query:** %s\n\n", rep.Query)
	fmt.Fprintf(&b, "**Original File:** %s\n\n", rep.FileName)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", generated.UTC().Format(time.RFC3339))
	b.WriteString("---\n\n")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

func failureArtifact(t domain.Type, diagnostic string) []byte {
	return []byte(fmt.Sprintf("# %s Analysis Report\n\n**Status:** failed\n\n%s\n", t.Title(), diagnostic))
}

// Complete writes the artifact first, then flips in_progress to completed; a failed write
// leaves the report active. Pending and terminal reports are left alone.
func (l *Lifecycle) Complete(ctx context.Context, id, owner, text string) error {
	rep, err := l.Repo.Get(ctx, id, owner)
	if err != nil {
		return err
	}
	log := l.Log.WithFields(logrus.Fields{"report_id": id, "status": rep.Status})
	if !rep.Status.CanTransition(domain.StatusCompleted) {
		log.Debug("complete ignored outside in_progress")
		return nil
	}
	now := l.Clock.Now()
	if err := l.Artifacts.Put(ctx, rep.ReportPath, []byte(RenderArtifact(rep, text, now))); err != nil {
		return fmt.Errorf("write report artifact: %w", err)
	}
	summary := domain.Summarize(text)
	ok, err := l.Repo.Apply(ctx, id, owner, domain.Transition{
		From:    domain.Sources(domain.StatusCompleted),
		To:      domain.StatusCompleted,
		Summary: &summary,
	}, now)
	if err != nil || ok {
		return err
	}

	// Lost the race, usually to a cancel; the artifact must match whatever won.
	cur, err := l.Repo.Get(ctx, id, owner)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	if cur.Status == domain.StatusFailed {
		diagnostic := ""
		if cur.Summary != nil {
			diagnostic = *cur.Summary
		}
		if err := l.Artifacts.Put(ctx, cur.ReportPath, failureArtifact(cur.AnalysisType, diagnostic)); err != nil {
			log.WithError(err).Warn("failed to restore failure artifact")
		}
	}
	return nil
}

func (l *Lifecycle) Fail(ctx context.Context, id, owner, diagnostic string) error {
	rep, err := l.Repo.Get(ctx, id, owner)
	if err != nil {
		return err
	}
	if !rep.Status.CanTransition(domain.StatusFailed) {
		return nil
	}
	ok, err := l.Repo.Apply(ctx, id, owner, domain.Transition{
		From:    domain.Sources(domain.StatusFailed),
		To:      domain.StatusFailed,
		Summary: &diagnostic,
	}, l.Clock.Now())
	if err != nil || !ok {
		return err
	}

	if err := l.Artifacts.Put(ctx, rep.ReportPath, failureArtifact(rep.AnalysisType, diagnostic)); err != nil {
		l.Log.WithError(err).WithField("report_id", id).Warn("failed to write failure artifact")
	}
	return nil
}

// RecordAttemptFailure updates only the summary while the report is still active.
func (l *Lifecycle) RecordAttemptFailure(ctx context.Context, id, owner, diagnostic string) error {
	_, err := l.Repo.Apply(ctx, id, owner, domain.Transition{From: domain.Active, Summary: &diagnostic}, l.Clock.Now())
	return err
}

// Touch bumps updated_at on an active report; the reaper treats it as a heartbeat.
func (l *Lifecycle) Touch(ctx context.Context, id, owner string) error {
	_, err := l.Repo.Apply(ctx, id, owner, domain.Transition{From: domain.Active}, l.Clock.Now())
	return err
}
