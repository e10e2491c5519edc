package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

const sessionColumns = `id, user_id, refresh_token_hash, expires_at, is_active, created_at`

type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, s *users.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()

	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :user_id, :refresh_token_hash, :expires_at, :is_active, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, s)
	return translate(err)
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*users.Session, error) {
	var s users.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	if err := r.db.GetContext(ctx, &s, r.db.Rebind(query), id); err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *SessionRepo) Revoke(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET is_active = ? WHERE id = ?`), false, id))
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET is_active = ? WHERE user_id = ?`), false, userID)
	return err
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < ? OR is_active = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), now.UTC(), false)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
