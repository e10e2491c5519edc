package reports

import (
	"time"
	"unicode/utf8"
)

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports never change status again.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Active statuses are the ones a worker may still move forward.
var Active = []Status{StatusPending, StatusInProgress}

// transitions is the full state machine. Pending may fail directly (cancel, reaper) but
// only an in-progress report can complete.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources lists the statuses allowed to move to to, in Active order.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range Active {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}

// Report is the persisted record of one analysis request.
type Report struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	DocumentID   *string   `json:"document_id" db:"document_id"`
	AnalysisType Type      `json:"analysis_type" db:"analysis_type"`
	Query        string    `json:"query" db:"query"`
	FileName     string    `json:"file_name" db:"file_name"`
	ReportPath   string    `json:"report_path" db:"report_path"`
	Status       Status    `json:"status" db:"status"`
	Summary      *string   `json:"summary" db:"summary"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Transition is a compare-and-set update applied only when the current status is in From.
// An empty To keeps the current status; nil fields are left untouched.
type Transition struct {
	From       []Status
	To         Status
	Summary    *string
	ReportPath *string
}

// Filter narrows list/count queries.
type Filter struct {
	AnalysisType  Type
	Search        string
	Statuses      []Status
	UpdatedBefore time.Time
}

// SummaryLimit is the number of runes kept in the list-view summary.
const SummaryLimit = 200

// Summarize keeps the first SummaryLimit runes and appends an ellipsis when text is longer.
func Summarize(text string) string {
	if utf8.RuneCountInString(text) <= SummaryLimit {
		return text
	}
	r := []rune(text)
	return string(r[:SummaryLimit]) + "..."
}
