package documents

import "context"

// Repository port. (user_id, stored_name) is unique.
type Repository interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id, owner string) (*Document, error)
	List(ctx context.Context, owner, search string, limit, offset int) ([]*Document, error)
	Count(ctx context.Context, owner, search string) (int64, error)
	Delete(ctx context.Context, id, owner string) error
}
