package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

type sessionDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	RefreshTokenHash string    `bson:"refresh_token_hash"`
	ExpiresAt        time.Time `bson:"expires_at"`
	IsActive         bool      `bson:"is_active"`
	CreatedAt        time.Time `bson:"created_at"`
}

type SessionRepo struct {
	col *mongo.Collection
}

func (r *SessionRepo) Create(ctx context.Context, s *users.Session) error {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.col.InsertOne(ctx, sessionDoc{
		ID:               s.ID,
		UserID:           s.UserID,
		RefreshTokenHash: s.RefreshTokenHash,
		ExpiresAt:        s.ExpiresAt.UTC(),
		IsActive:         s.IsActive,
		CreatedAt:        s.CreatedAt.UTC(),
	})
	return translate(err)
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*users.Session, error) {
	var d sessionDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, translate(err)
	}
	return &users.Session{
		ID:               d.ID,
		UserID:           d.UserID,
		RefreshTokenHash: d.RefreshTokenHash,
		ExpiresAt:        d.ExpiresAt,
		IsActive:         d.IsActive,
		CreatedAt:        d.CreatedAt,
	}, nil
}

func (r *SessionRepo) Revoke(ctx context.Context, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.col.UpdateMany(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"is_active": false}})
	return err
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"expires_at": bson.M{"$lt": now.UTC()}},
		bson.M{"is_active": false},
	}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
