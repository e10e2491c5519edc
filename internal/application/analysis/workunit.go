package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/taskerrors"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
)

// Extractor pulls plain text out of a document on disk.
type Extractor func(path string) (string, error)

// WorkUnit runs one analysis attempt. The same value serves every analysis type;
// the type is read from the task name.
type WorkUnit struct {
	Lifecycle *reports.Lifecycle
	AI        ai.Client
	Extract   Extractor
	Errors    taskerrors.Repository
	Clock     application.Clock
	Log       logrus.FieldLogger
}

var _ tasks.Handler = (*WorkUnit)(nil)

func (w *WorkUnit) spec(name string) (domain.Spec, error) {
	t, ok := TypeOf(name)
	if !ok {
		return domain.Spec{}, fmt.Errorf("unknown analysis task %q", name)
	}
	spec, _ := domain.Lookup(t)
	return spec, nil
}

// checkpoint records progress and heartbeats the report.
func (w *WorkUnit) checkpoint(ctx context.Context, a *tasks.Attempt, pct int, msg string, log logrus.FieldLogger) {
	a.Progress(pct, msg)
	if err := w.Lifecycle.Touch(ctx, a.Payload.ReportID, a.Payload.UserID); err != nil {
		log.WithError(err).Warn("report heartbeat failed")
	}
}

func (w *WorkUnit) Handle(ctx context.Context, a *tasks.Attempt) (string, error) {
	spec, err := w.spec(a.Name)
	if err != nil {
		return "", err
	}
	p := a.Payload
	log := w.Log.WithFields(logrus.Fields{
		"task_id":   a.TaskID,
		"report_id": p.ReportID,
		"user_id":   p.UserID,
		"attempt":   a.Number,
	})

	a.Progress(10, fmt.Sprintf("Starting %s analysis...", spec.Type))
	if err := w.Lifecycle.MarkInProgress(ctx, p.ReportID, p.UserID); err != nil {
		return "", fmt.Errorf("mark report in progress: %w", err)
	}

	text, err := w.Extract(p.FilePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p.FileName, err)
	}

	w.checkpoint(ctx, a, 30, "Running AI analysis...", log)
	result, err := w.AI.Analyze(ctx, ai.Request{
		Role:     spec.Role,
		Goal:     spec.Goal,
		Prompt:   spec.Prompt(p.Query),
		Document: text,
		FileName: p.FileName,
	})
	if err != nil {
		return "", fmt.Errorf("ai analysis: %w", err)
	}

	w.checkpoint(ctx, a, 70, "Generating report...", log)
	w.checkpoint(ctx, a, 90, "Saving results...", log)
	if err := w.Lifecycle.Complete(ctx, p.ReportID, p.UserID, result); err != nil {
		return "", fmt.Errorf("complete report: %w", err)
	}

	a.Progress(100, fmt.Sprintf("%s analysis completed successfully", spec.Type.Title()))
	w.removeUpload(p, log)
	log.Info("analysis completed")
	return domain.Summarize(result), nil
}

// OnFailure logs the failure and reflects it on the report; only the last attempt fails it.
func (w *WorkUnit) OnFailure(ctx context.Context, a *tasks.Attempt, cause error, retrying bool) {
	p := a.Payload
	log := w.Log.WithFields(logrus.Fields{
		"task_id":   a.TaskID,
		"report_id": p.ReportID,
		"user_id":   p.UserID,
		"attempt":   a.Number,
	})
	title := "Analysis"
	if t, ok := TypeOf(a.Name); ok {
		title = t.Title()
	}

	phase := taskerrors.PhaseAttempt
	switch {
	case errors.Is(cause, tasks.ErrTimeLimitExceeded):
		phase = taskerrors.PhaseTimeout
	case !retrying:
		phase = taskerrors.PhaseExhausted
	}
	if err := w.Errors.Save(ctx, &taskerrors.TaskError{
		TaskID:    a.TaskID,
		ReportID:  p.ReportID,
		UserID:    p.UserID,
		Attempt:   a.Number,
		Phase:     phase,
		Message:   cause.Error(),
		CreatedAt: w.Clock.Now(),
	}); err != nil {
		log.WithError(err).Error("could not record task error")
	}

	if retrying {
		msg := fmt.Sprintf("%s analysis failed (attempt %d/%d): %v", title, a.Number, a.MaxAttempts, cause)
		if err := w.Lifecycle.RecordAttemptFailure(ctx, p.ReportID, p.UserID, msg); err != nil {
			log.WithError(err).Error("could not update report after failed attempt")
		}
		log.WithError(cause).Warn("analysis attempt failed, retrying")
		return
	}

	msg := fmt.Sprintf("%s analysis failed: %v", title, cause)
	if err := w.Lifecycle.Fail(ctx, p.ReportID, p.UserID, msg); err != nil {
		log.WithError(err).Error("could not mark report failed")
	}
	w.removeUpload(p, log)
	log.WithError(cause).Error("analysis failed, retries exhausted")
}

func (w *WorkUnit) removeUpload(p tasks.Payload, log logrus.FieldLogger) {
	if err := p.RemoveUpload(); err != nil {
		log.WithError(err).Warn("could not remove upload")
	}
}
