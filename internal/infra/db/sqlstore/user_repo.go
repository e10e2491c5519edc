package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

const userColumns = `id, username, email, password_hash, is_active, is_admin, created_at, updated_at`

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create fails with ErrAlreadyExists when the username or email is taken.
func (r *UserRepo) Create(ctx context.Context, u *users.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.CreatedAt

	query := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :username, :email, :password_hash, :is_active, :is_admin, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, u)
	return translate(err)
}

func (r *UserRepo) Get(ctx context.Context, id string) (*users.User, error) {
	var u users.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	if err := r.db.GetContext(ctx, &u, r.db.Rebind(query), id); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	var u users.User
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	if err := r.db.GetContext(ctx, &u, r.db.Rebind(query), username); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id, hash string, now time.Time) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	return affected(r.db.ExecContext(ctx, r.db.Rebind(query), hash, now.UTC(), id))
}

func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]*users.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	out := []*users.User{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), limit, offset); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UserRepo) Delete(ctx context.Context, id string) error {
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), id))
}
