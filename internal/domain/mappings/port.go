package mappings

import (
	"context"
	"time"
)

// Repository port. task_id and report_id are both unique.
// An empty owner disables owner scoping.
type Repository interface {
	Create(ctx context.Context, m *Mapping) error
	GetByTask(ctx context.Context, taskID, owner string) (*Mapping, error)
	GetByReport(ctx context.Context, reportID, owner string) (*Mapping, error)
	List(ctx context.Context, owner string, limit, offset int) ([]*Mapping, error)
	Count(ctx context.Context, owner string) (int64, error)
	DeleteByTask(ctx context.Context, taskID, owner string) error
	DeleteByReport(ctx context.Context, reportID, owner string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
