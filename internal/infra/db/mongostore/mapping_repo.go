package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
)

type mappingDoc struct {
	ID           string    `bson:"_id"`
	TaskID       string    `bson:"task_id"`
	ReportID     string    `bson:"report_id"`
	UserID       string    `bson:"user_id"`
	AnalysisType string    `bson:"analysis_type"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d mappingDoc) entity() *mappings.Mapping {
	return &mappings.Mapping{
		ID:           d.ID,
		TaskID:       d.TaskID,
		ReportID:     d.ReportID,
		UserID:       d.UserID,
		AnalysisType: reports.Type(d.AnalysisType),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type MappingRepo struct {
	col *mongo.Collection
}

func (r *MappingRepo) Create(ctx context.Context, m *mappings.Mapping) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.CreatedAt

	_, err := r.col.InsertOne(ctx, mappingDoc{
		ID:           m.ID,
		TaskID:       m.TaskID,
		ReportID:     m.ReportID,
		UserID:       m.UserID,
		AnalysisType: string(m.AnalysisType),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	})
	return translate(err)
}

func (r *MappingRepo) findOne(ctx context.Context, filter bson.M) (*mappings.Mapping, error) {
	var d mappingDoc
	if err := r.col.FindOne(ctx, filter).Decode(&d); err != nil {
		return nil, translate(err)
	}
	return d.entity(), nil
}

func scoped(key, val, owner string) bson.M {
	f := ownerFilter(owner)
	f[key] = val
	return f
}

func (r *MappingRepo) GetByTask(ctx context.Context, taskID, owner string) (*mappings.Mapping, error) {
	return r.findOne(ctx, scoped("task_id", taskID, owner))
}

func (r *MappingRepo) GetByReport(ctx context.Context, reportID, owner string) (*mappings.Mapping, error) {
	return r.findOne(ctx, scoped("report_id", reportID, owner))
}

func (r *MappingRepo) List(ctx context.Context, owner string, limit, offset int) ([]*mappings.Mapping, error) {
	cur, err := r.col.Find(ctx, ownerFilter(owner), newestFirst(limit, offset))
	if err != nil {
		return nil, err
	}
	var docs []mappingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*mappings.Mapping, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.entity())
	}
	return out, nil
}

func (r *MappingRepo) Count(ctx context.Context, owner string) (int64, error) {
	return r.col.CountDocuments(ctx, ownerFilter(owner))
}

func (r *MappingRepo) DeleteByTask(ctx context.Context, taskID, owner string) error {
	return deleted(r.col.DeleteOne(ctx, scoped("task_id", taskID, owner)))
}

func (r *MappingRepo) DeleteByReport(ctx context.Context, reportID, owner string) error {
	return deleted(r.col.DeleteOne(ctx, scoped("report_id", reportID, owner)))
}

func (r *MappingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
