// Package tasks answers task status questions from the dispatcher, falling back to persisted report state.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
	domainreports "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/taskerrors"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

// CancelledSummary is written to the report of a task the user cancelled.
const CancelledSummary = "Task cancelled by user"

type Service struct {
	Dispatcher domain.Dispatcher
	Mappings   mappings.Repository
	Reports    domainreports.Repository
	Lifecycle  *reports.Lifecycle
	TaskErrors taskerrors.Repository
	Log        logrus.FieldLogger
}

// Status is the client-facing task view.
type Status struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	ReportID string `json:"report_id,omitempty"`
}

// Describe maps a dispatcher snapshot onto the client vocabulary.
func Describe(s domain.Snapshot) Status {
	out := Status{TaskID: s.ID}
	switch s.State {
	case domain.StatePending:
		out.Status = "pending"
		out.Message = "Task is waiting to be processed"
	case domain.StateStarted:
		out.Status = "in_progress"
		out.Progress = s.Progress
		out.Message = s.Message
		if out.Message == "" {
			out.Message = "Task in progress"
		}
	case domain.StateRetry:
		out.Status = "retrying"
		out.Message = fmt.Sprintf("Task is being retried (attempt %d)", s.Retries+1)
	case domain.StateSuccess:
		out.Status = "completed"
		out.Progress = 100
		out.Message = "Task completed successfully"
		out.Result = s.Result
	case domain.StateFailure:
		out.Status = "failed"
		out.Message = "Task failed"
		out.Error = s.Error
		if out.Error == "" {
			out.Error = "Unknown error"
		}
	default:
		out.Status = strings.ToLower(string(s.State))
		out.Message = fmt.Sprintf("Task status: %s", s.State)
	}
	return out
}

// fromReport is used once the dispatcher has forgotten the task.
func fromReport(taskID string, rep *domainreports.Report) Status {
	out := Status{TaskID: taskID, ReportID: rep.ID}
	switch rep.Status {
	case domainreports.StatusPending:
		out.Status = "pending"
		out.Message = "Task is waiting to be processed"
	case domainreports.StatusInProgress:
		out.Status = "in_progress"
		out.Message = "Task in progress"
	case domainreports.StatusCompleted:
		out.Status = "completed"
		out.Progress = 100
		out.Message = "Task completed successfully"
		if rep.Summary != nil {
			out.Result = *rep.Summary
		}
	case domainreports.StatusFailed:
		out.Status = "failed"
		out.Message = "Task failed"
		out.Error = "Unknown error"
		if rep.Summary != nil {
			out.Error = *rep.Summary
		}
	default:
		out.Status = string(rep.Status)
	}
	return out
}

func (s *Service) mapping(ctx context.Context, p users.Principal, taskID string) (*mappings.Mapping, error) {
	m, err := s.Mappings.GetByTask(ctx, taskID, p.Scope())
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	return m, nil
}

func (s *Service) Status(ctx context.Context, p users.Principal, taskID string) (*Status, error) {
	m, err := s.mapping(ctx, p, taskID)
	if err != nil {
		return nil, err
	}
	if snap, ok := s.Dispatcher.Status(taskID); ok {
		st := Describe(snap)
		st.ReportID = m.ReportID
		return &st, nil
	}
	rep, err := s.Reports.Get(ctx, m.ReportID, "")
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", m.ReportID, err)
	}
	st := fromReport(taskID, rep)
	return &st, nil
}

type CancelResult struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Cancel revokes the task and fails its report; a finished report is left alone.
func (s *Service) Cancel(ctx context.Context, p users.Principal, taskID string) (*CancelResult, error) {
	m, err := s.mapping(ctx, p, taskID)
	if err != nil {
		return nil, err
	}
	payload, revoked := domain.Revoke(s.Dispatcher, taskID)
	if err := payload.RemoveUpload(); err != nil {
		s.Log.WithError(err).WithField("task_id", taskID).Warn("could not remove upload of cancelled task")
	}
	s.Log.WithFields(logrus.Fields{"task_id": taskID, "report_id": m.ReportID, "revoked": revoked}).Info("task cancel requested")

	if err := s.Lifecycle.Fail(ctx, m.ReportID, m.UserID, CancelledSummary); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("fail cancelled report: %w", err)
	}
	return &CancelResult{TaskID: taskID, Status: "cancelled", Message: "Task has been cancelled"}, nil
}

// Errors lists the recorded failures of a task, oldest first.
func (s *Service) Errors(ctx context.Context, p users.Principal, taskID string, limit int) ([]*taskerrors.TaskError, error) {
	if _, err := s.mapping(ctx, p, taskID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	list, err := s.TaskErrors.ListByTask(ctx, taskID, p.Scope(), limit)
	if err != nil {
		return nil, fmt.Errorf("list task errors: %w", err)
	}
	return list, nil
}

type ActiveTask struct {
	TaskID    string         `json:"task_id"`
	Name      string         `json:"name"`
	Worker    string         `json:"worker,omitempty"`
	State     domain.State   `json:"state"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Payload   domain.Payload `json:"kwargs"`
	TimeStart *int64         `json:"time_start"`
}

type ActiveList struct {
	ActiveTasks []ActiveTask `json:"active_tasks"`
	TotalCount  int          `json:"total_count"`
}

// Active lists live tasks; non-admins only see their own.
func (s *Service) Active(p users.Principal) ActiveList {
	out := ActiveList{ActiveTasks: []ActiveTask{}}
	for _, snap := range s.Dispatcher.Active() {
		if !p.IsAdmin && snap.Payload.UserID != p.UserID {
			continue
		}
		at := ActiveTask{
			TaskID:   snap.ID,
			Name:     snap.Name,
			Worker:   snap.Worker,
			State:    snap.State,
			Progress: snap.Progress,
			Message:  snap.Message,
			Payload:  snap.Payload,
		}
		if snap.StartedAt != nil {
			ts := snap.StartedAt.Unix()
			at.TimeStart = &ts
		}
		out.ActiveTasks = append(out.ActiveTasks, at)
	}
	out.TotalCount = len(out.ActiveTasks)
	return out
}

func (s *Service) Stats() domain.Stats { return s.Dispatcher.Stats() }

func (s *Service) Queues() domain.QueueInfo { return s.Dispatcher.Queues() }
