package taskerrors

import "time"

// Phase of the failure.
const (
	PhaseAttempt   = "attempt"
	PhaseTimeout   = "timeout"
	PhaseExhausted = "exhausted"
)

// TaskError is one failed attempt of a background task.
type TaskError struct {
	ID        string    `json:"id" db:"id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	ReportID  string    `json:"report_id" db:"report_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Attempt   int       `json:"attempt" db:"attempt"`
	Phase     string    `json:"phase" db:"phase"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
