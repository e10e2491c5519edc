package users

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdatePassword(ctx context.Context, id, hash string, now time.Time) error
	List(ctx context.Context, limit, offset int) ([]*User, error)
	Delete(ctx context.Context, id string) error
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	// DeleteExpired removes sessions that are expired or revoked.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
