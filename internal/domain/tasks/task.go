// Package tasks defines the background task port: dispatcher-native states,
// the payload handed to a work unit and the introspection shapes.
package tasks

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrTimeLimitExceeded marks an attempt killed by the hard time limit.
var ErrTimeLimitExceeded = errors.New("hard time limit exceeded")

// State is the dispatcher-native task state.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateRetry   State = "RETRY"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	StateRevoked State = "REVOKED"
)

// Live states still own their report.
func (s State) Live() bool {
	return s == StatePending || s == StateStarted || s == StateRetry
}

// Payload is the input of one analysis task.
type Payload struct {
	ReportID   string `json:"report_id"`
	Query      string `json:"query"`
	FilePath   string `json:"file_path"`
	FileName   string `json:"file_name"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
	// Temporary marks FilePath as a per-request upload that the work unit removes once the task is over.
	Temporary bool `json:"temporary,omitempty"`
}

// RemoveUpload deletes FilePath when it is a per-request upload.
func (p Payload) RemoveUpload() error {
	if !p.Temporary || p.FilePath == "" {
		return nil
	}
	if err := os.Remove(p.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Snapshot is a point-in-time view of a task.
type Snapshot struct {
	ID         string     `json:"task_id"`
	Name       string     `json:"name"`
	State      State      `json:"state"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Retries    int        `json:"retries"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	Worker     string     `json:"worker,omitempty"`
	Payload    Payload    `json:"payload"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Attempt is one execution of a task handed to a Handler.
type Attempt struct {
	TaskID      string
	Name        string
	Payload     Payload
	Number      int // 1-based
	MaxAttempts int

	progress func(pct int, msg string)
}

func NewAttempt(taskID, name string, p Payload, number, max int, progress func(int, string)) *Attempt {
	return &Attempt{TaskID: taskID, Name: name, Payload: p, Number: number, MaxAttempts: max, progress: progress}
}

// Progress records an advisory checkpoint.
func (a *Attempt) Progress(pct int, msg string) {
	if a.progress != nil {
		a.progress(pct, msg)
	}
}

// Last reports whether no retry follows this attempt.
func (a *Attempt) Last() bool { return a.Number >= a.MaxAttempts }

// Handler is the work unit registered for a task name.
type Handler interface {
	Handle(ctx context.Context, a *Attempt) (string, error)
	// OnFailure runs after every failed attempt; retrying is false when the task gives up.
	OnFailure(ctx context.Context, a *Attempt, err error, retrying bool)
}

// WorkerStats is the per-worker view used by Stats.
type WorkerStats struct {
	Worker      string `json:"worker"`
	ActiveTasks int    `json:"active_tasks"`
	TotalTasks  int64  `json:"total_tasks"`
}

type Stats struct {
	Workers          []WorkerStats `json:"workers"`
	TotalWorkers     int           `json:"total_workers"`
	TotalActiveTasks int           `json:"total_active_tasks"`
}

type QueueInfo struct {
	Queues       map[string]int `json:"queues"`
	TotalPending int            `json:"total_pending"`
}

// Dispatcher port (asynchronous execution with bounded retry).
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, p Payload) (string, error)
	Status(id string) (Snapshot, bool)
	// Cancel is best-effort; it returns false when the task is unknown or already finished.
	Cancel(id string) bool
	ReportTask(reportID string) (string, bool)
	Active() []Snapshot
	Stats() Stats
	Queues() QueueInfo
}

// Revoke cancels a live task and returns the payload it was carrying.
// A revoked task never reaches its work unit again, so the caller owns the cleanup.
func Revoke(d Dispatcher, id string) (Payload, bool) {
	snap, known := d.Status(id)
	if !d.Cancel(id) || !known {
		return Payload{}, false
	}
	return snap.Payload, true
}

// LiveForDocument lists live tasks reading the given stored document.
func LiveForDocument(d Dispatcher, documentID string) []Snapshot {
	var out []Snapshot
	for _, s := range d.Active() {
		if s.Payload.DocumentID == documentID {
			out = append(out, s)
		}
	}
	return out
}
