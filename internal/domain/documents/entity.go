package documents

import "time"

// Document is an uploaded source file, independent of any analysis.
type Document struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	OriginalName string    `json:"original_name" db:"original_name"`
	StoredName   string    `json:"stored_name" db:"stored_name"`
	Path         string    `json:"path" db:"path"`
	SizeBytes    int64     `json:"size_bytes" db:"size_bytes"`
	Checksum     string    `json:"checksum" db:"checksum"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// PaginatedResult represents a page of documents
type PaginatedResult struct {
	Data       []*Document `json:"documents"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
}
