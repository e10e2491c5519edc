package taskerrors

import "context"

// Repository defines persistence for task errors
type Repository interface {
	Save(ctx context.Context, e *TaskError) error
	ListByTask(ctx context.Context, taskID, owner string, limit int) ([]*TaskError, error)
}
