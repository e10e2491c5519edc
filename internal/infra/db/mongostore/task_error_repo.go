package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/taskerrors"
)

type taskErrorDoc struct {
	ID        string    `bson:"_id"`
	TaskID    string    `bson:"task_id"`
	ReportID  string    `bson:"report_id"`
	UserID    string    `bson:"user_id"`
	Attempt   int       `bson:"attempt"`
	Phase     string    `bson:"phase"`
	Message   string    `bson:"message"`
	CreatedAt time.Time `bson:"created_at"`
}

type TaskErrorRepo struct {
	col *mongo.Collection
}

func (r *TaskErrorRepo) Save(ctx context.Context, e *taskerrors.TaskError) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	_, err := r.col.InsertOne(ctx, taskErrorDoc(*e))
	return translate(err)
}

func (r *TaskErrorRepo) ListByTask(ctx context.Context, taskID, owner string, limit int) ([]*taskerrors.TaskError, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "attempt", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, scoped("task_id", taskID, owner), opts)
	if err != nil {
		return nil, err
	}
	var docs []taskErrorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*taskerrors.TaskError, 0, len(docs))
	for _, d := range docs {
		te := taskerrors.TaskError(d)
		out = append(out, &te)
	}
	return out, nil
}
