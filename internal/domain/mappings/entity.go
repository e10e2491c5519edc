package mappings

import (
	"time"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
)

// Mapping links a dispatched task to the report it writes.
type Mapping struct {
	ID           string       `json:"id" db:"id"`
	TaskID       string       `json:"task_id" db:"task_id"`
	ReportID     string       `json:"report_id" db:"report_id"`
	UserID       string       `json:"user_id" db:"user_id"`
	AnalysisType reports.Type `json:"analysis_type" db:"analysis_type"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// PaginatedResult represents a page of mappings
type PaginatedResult struct {
	Data       []*Mapping `json:"mappings"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	Total      int64      `json:"total"`
	TotalPages int        `json:"total_pages"`
}
