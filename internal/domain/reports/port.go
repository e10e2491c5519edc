package reports

import (
	"context"
	"io"
	"time"
)

// Repository port (persistence for reports).
// An empty owner disables owner scoping; only admin paths and background sweeps pass it.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	Get(ctx context.Context, id, owner string) (*Report, error)
	List(ctx context.Context, owner string, f Filter, limit, offset int) ([]*Report, error)
	Count(ctx context.Context, owner string, f Filter) (int64, error)
	CountByType(ctx context.Context, owner string) (map[Type]int64, error)

	// Apply runs t as a compare-and-set and bumps updated_at to now.
	// It returns false when the report exists but its status is not in t.From.
	Apply(ctx context.Context, id, owner string, t Transition, now time.Time) (bool, error)
	Delete(ctx context.Context, id, owner string) error
}

// ArtifactStore port (report files). Keys are slash separated, e.g. "outputs/risk_u1_20250101_120000_ab12cd34.md".
type ArtifactStore interface {
	Put(ctx context.Context, key string, content []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
}
