package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/documents"
)

const documentColumns = `id, user_id, original_name, stored_name, path, size_bytes, checksum, created_at, updated_at`

type DocumentRepo struct {
	db *sqlx.DB
}

func NewDocumentRepo(db *sqlx.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, d *documents.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.CreatedAt

	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES (:id, :user_id, :original_name, :stored_name, :path, :size_bytes, :checksum, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, d)
	return translate(err)
}

func (r *DocumentRepo) Get(ctx context.Context, id, owner string) (*documents.Document, error) {
	w := &where{}
	w.add("id = ?", id)
	w.owner(owner)

	var d documents.Document
	query := `SELECT ` + documentColumns + ` FROM documents` + w.String()
	if err := r.db.GetContext(ctx, &d, r.db.Rebind(query), w.args...); err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func documentWhere(owner, search string) *where {
	w := &where{}
	w.owner(owner)
	if s := strings.TrimSpace(search); s != "" {
		w.add(`LOWER(original_name) LIKE ? ESCAPE '!'`, likeContains(s))
	}
	return w
}

func (r *DocumentRepo) List(ctx context.Context, owner, search string, limit, offset int) ([]*documents.Document, error) {
	w := documentWhere(owner, search)
	query := `SELECT ` + documentColumns + ` FROM documents` + w.String() +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	out := []*documents.Document{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), append(w.args, limit, offset)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DocumentRepo) Count(ctx context.Context, owner, search string) (int64, error) {
	w := documentWhere(owner, search)
	var n int64
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM documents`+w.String()), w.args...)
	return n, err
}

func (r *DocumentRepo) Delete(ctx context.Context, id, owner string) error {
	w := &where{}
	w.add("id = ?", id)
	w.owner(owner)
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM documents`+w.String()), w.args...))
}
