package mongostore

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/documents"
)

type documentDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	OriginalName string    `bson:"original_name"`
	StoredName   string    `bson:"stored_name"`
	Path         string    `bson:"path"`
	SizeBytes    int64     `bson:"size_bytes"`
	Checksum     string    `bson:"checksum"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d documentDoc) entity() *documents.Document {
	return &documents.Document{
		ID:           d.ID,
		UserID:       d.UserID,
		OriginalName: d.OriginalName,
		StoredName:   d.StoredName,
		Path:         d.Path,
		SizeBytes:    d.SizeBytes,
		Checksum:     d.Checksum,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type DocumentRepo struct {
	col *mongo.Collection
}

func (r *DocumentRepo) Create(ctx context.Context, d *documents.Document) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.CreatedAt

	_, err := r.col.InsertOne(ctx, documentDoc{
		ID:           d.ID,
		UserID:       d.UserID,
		OriginalName: d.OriginalName,
		StoredName:   d.StoredName,
		Path:         d.Path,
		SizeBytes:    d.SizeBytes,
		Checksum:     d.Checksum,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	})
	return translate(err)
}

func (r *DocumentRepo) Get(ctx context.Context, id, owner string) (*documents.Document, error) {
	var d documentDoc
	if err := r.col.FindOne(ctx, byID(id, owner)).Decode(&d); err != nil {
		return nil, translate(err)
	}
	return d.entity(), nil
}

func documentFilter(owner, search string) bson.M {
	m := ownerFilter(owner)
	if s := strings.TrimSpace(search); s != "" {
		m["original_name"] = contains(s)
	}
	return m
}

func (r *DocumentRepo) List(ctx context.Context, owner, search string, limit, offset int) ([]*documents.Document, error) {
	cur, err := r.col.Find(ctx, documentFilter(owner, search), newestFirst(limit, offset))
	if err != nil {
		return nil, err
	}
	var docs []documentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*documents.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.entity())
	}
	return out, nil
}

func (r *DocumentRepo) Count(ctx context.Context, owner, search string) (int64, error) {
	return r.col.CountDocuments(ctx, documentFilter(owner, search))
}

func (r *DocumentRepo) Delete(ctx context.Context, id, owner string) error {
	return deleted(r.col.DeleteOne(ctx, byID(id, owner)))
}
