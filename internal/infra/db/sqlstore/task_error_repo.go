package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/taskerrors"
)

const taskErrorColumns = `id, task_id, report_id, user_id, attempt, phase, message, created_at`

type TaskErrorRepo struct {
	db *sqlx.DB
}

func NewTaskErrorRepo(db *sqlx.DB) *TaskErrorRepo {
	return &TaskErrorRepo{db: db}
}

func (r *TaskErrorRepo) Save(ctx context.Context, e *taskerrors.TaskError) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	query := `INSERT INTO task_errors (` + taskErrorColumns + `)
		VALUES (:id, :task_id, :report_id, :user_id, :attempt, :phase, :message, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, e)
	return translate(err)
}

// ListByTask returns the failures of one task, oldest first.
func (r *TaskErrorRepo) ListByTask(ctx context.Context, taskID, owner string, limit int) ([]*taskerrors.TaskError, error) {
	w := &where{}
	w.add("task_id = ?", taskID)
	w.owner(owner)
	query := `SELECT ` + taskErrorColumns + ` FROM task_errors` + w.String() +
		` ORDER BY created_at ASC, attempt ASC LIMIT ?`

	out := []*taskerrors.TaskError{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), append(w.args, limit)...); err != nil {
		return nil, err
	}
	return out, nil
}
