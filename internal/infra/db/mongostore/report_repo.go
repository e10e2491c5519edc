package mongostore

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
)

type reportDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	DocumentID   *string   `bson:"document_id"`
	AnalysisType string    `bson:"analysis_type"`
	Query        string    `bson:"query"`
	FileName     string    `bson:"file_name"`
	ReportPath   string    `bson:"report_path"`
	Status       string    `bson:"status"`
	Summary      *string   `bson:"summary"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toReportDoc(r *reports.Report) reportDoc {
	return reportDoc{
		ID:           r.ID,
		UserID:       r.UserID,
		DocumentID:   r.DocumentID,
		AnalysisType: string(r.AnalysisType),
		Query:        r.Query,
		FileName:     r.FileName,
		ReportPath:   r.ReportPath,
		Status:       string(r.Status),
		Summary:      r.Summary,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (d reportDoc) entity() *reports.Report {
	return &reports.Report{
		ID:           d.ID,
		UserID:       d.UserID,
		DocumentID:   d.DocumentID,
		AnalysisType: reports.Type(d.AnalysisType),
		Query:        d.Query,
		FileName:     d.FileName,
		ReportPath:   d.ReportPath,
		Status:       reports.Status(d.Status),
		Summary:      d.Summary,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type ReportRepo struct {
	col *mongo.Collection
}

func (r *ReportRepo) Create(ctx context.Context, rep *reports.Report) error {
	if rep.ID == "" {
		rep.ID = newID()
	}
	if rep.Status == "" {
		rep.Status = reports.StatusPending
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	if rep.UpdatedAt.IsZero() {
		rep.UpdatedAt = rep.CreatedAt
	}
	_, err := r.col.InsertOne(ctx, toReportDoc(rep))
	return translate(err)
}

func (r *ReportRepo) Get(ctx context.Context, id, owner string) (*reports.Report, error) {
	var d reportDoc
	if err := r.col.FindOne(ctx, byID(id, owner)).Decode(&d); err != nil {
		return nil, translate(err)
	}
	return d.entity(), nil
}

func statusValues(ss []reports.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func reportFilter(owner string, f reports.Filter) bson.M {
	m := ownerFilter(owner)
	if f.AnalysisType != "" {
		m["analysis_type"] = string(f.AnalysisType)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		re := contains(s)
		m["$or"] = bson.A{
			bson.M{"file_name": re},
			bson.M{"query": re},
			bson.M{"summary": re},
		}
	}
	if len(f.Statuses) > 0 {
		m["status"] = bson.M{"$in": statusValues(f.Statuses)}
	}
	if !f.UpdatedBefore.IsZero() {
		m["updated_at"] = bson.M{"$lt": f.UpdatedBefore.UTC()}
	}
	return m
}

func (r *ReportRepo) List(ctx context.Context, owner string, f reports.Filter, limit, offset int) ([]*reports.Report, error) {
	cur, err := r.col.Find(ctx, reportFilter(owner, f), newestFirst(limit, offset))
	if err != nil {
		return nil, err
	}
	var docs []reportDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*reports.Report, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.entity())
	}
	return out, nil
}

func (r *ReportRepo) Count(ctx context.Context, owner string, f reports.Filter) (int64, error) {
	return r.col.CountDocuments(ctx, reportFilter(owner, f))
}

func (r *ReportRepo) CountByType(ctx context.Context, owner string) (map[reports.Type]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: ownerFilter(owner)}},
		{{Key: "$group", Value: bson.M{"_id": "$analysis_type", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Type  string `bson:"_id"`
		Count int64  `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[reports.Type]int64, len(rows))
	for _, row := range rows {
		out[reports.Type(row.Type)] = row.Count
	}
	return out, nil
}

func transitionUpdate(t reports.Transition, now time.Time) bson.M {
	set := bson.M{"updated_at": now.UTC()}
	if t.To != "" {
		set["status"] = string(t.To)
	}
	if t.Summary != nil {
		set["summary"] = *t.Summary
	}
	if t.ReportPath != nil {
		set["report_path"] = *t.ReportPath
	}
	return bson.M{"$set": set}
}

func (r *ReportRepo) Apply(ctx context.Context, id, owner string, t reports.Transition, now time.Time) (bool, error) {
	filter := byID(id, owner)
	if len(t.From) > 0 {
		filter["status"] = bson.M{"$in": statusValues(t.From)}
	}
	res, err := r.col.UpdateOne(ctx, filter, transitionUpdate(t, now))
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id, owner); err != nil {
		return false, err
	}
	return false, nil
}

func (r *ReportRepo) Delete(ctx context.Context, id, owner string) error {
	return deleted(r.col.DeleteOne(ctx, byID(id, owner)))
}
