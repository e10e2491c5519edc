// Package mongostore implements the repository ports on MongoDB.
// Ids are ObjectID hex strings stored directly in _id.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
)

const (
	colUsers      = "users"
	colSessions   = "sessions"
	colDocuments  = "documents"
	colReports    = "analysis_reports"
	colMappings   = "task_report_mappings"
	colTaskErrors = "task_errors"
)

type Store struct {
	Client *mongo.Client
	DB     *mongo.Database

	Reports    *ReportRepo
	Documents  *DocumentRepo
	Mappings   *MappingRepo
	Users      *UserRepo
	Sessions   *SessionRepo
	TaskErrors *TaskErrorRepo
}

// Connect dials uri, verifies the primary is reachable and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := New(client.Database(database))
	s.Client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func New(db *mongo.Database) *Store {
	return &Store{
		Client:     db.Client(),
		DB:         db,
		Reports:    &ReportRepo{col: db.Collection(colReports)},
		Documents:  &DocumentRepo{col: db.Collection(colDocuments)},
		Mappings:   &MappingRepo{col: db.Collection(colMappings)},
		Users:      &UserRepo{col: db.Collection(colUsers)},
		Sessions:   &SessionRepo{col: db.Collection(colSessions)},
		TaskErrors: &TaskErrorRepo{col: db.Collection(colTaskErrors)},
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes; it is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
	}
	plain := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys}
	}

	specs := map[string][]mongo.IndexModel{
		colUsers: {
			unique(bson.D{{Key: "username", Value: 1}}),
			unique(bson.D{{Key: "email", Value: 1}}),
		},
		colSessions: {plain(bson.D{{Key: "user_id", Value: 1}})},
		colDocuments: {
			unique(bson.D{{Key: "user_id", Value: 1}, {Key: "stored_name", Value: 1}}),
			plain(bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}),
		},
		colReports: {
			plain(bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}),
			plain(bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}),
		},
		colMappings: {
			unique(bson.D{{Key: "task_id", Value: 1}}),
			unique(bson.D{{Key: "report_id", Value: 1}}),
			plain(bson.D{{Key: "created_at", Value: 1}}),
		},
		colTaskErrors: {plain(bson.D{{Key: "task_id", Value: 1}, {Key: "created_at", Value: 1}})},
	}
	for name, models := range specs {
		if _, err := s.DB.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return errs.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return errs.ErrAlreadyExists
	}
	return err
}

// byID builds an _id filter, scoped to owner when it is set.
func byID(id, owner string) bson.M {
	f := bson.M{"_id": id}
	if owner != "" {
		f["user_id"] = owner
	}
	return f
}

func ownerFilter(owner string) bson.M {
	f := bson.M{}
	if owner != "" {
		f["user_id"] = owner
	}
	return f
}

// contains matches s literally, case-insensitive.
func contains(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func newestFirst(limit, offset int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
}

func deleted(res *mongo.DeleteResult, err error) error {
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}
