package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/mappings"
)

const mappingColumns = `id, task_id, report_id, user_id, analysis_type, created_at, updated_at`

type MappingRepo struct {
	db *sqlx.DB
}

func NewMappingRepo(db *sqlx.DB) *MappingRepo {
	return &MappingRepo{db: db}
}

func (r *MappingRepo) Create(ctx context.Context, m *mappings.Mapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.CreatedAt

	query := `INSERT INTO task_report_mappings (` + mappingColumns + `)
		VALUES (:id, :task_id, :report_id, :user_id, :analysis_type, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return translate(err)
}

func (r *MappingRepo) getBy(ctx context.Context, col, val, owner string) (*mappings.Mapping, error) {
	w := &where{}
	w.add(col+" = ?", val)
	w.owner(owner)

	var m mappings.Mapping
	query := `SELECT ` + mappingColumns + ` FROM task_report_mappings` + w.String()
	if err := r.db.GetContext(ctx, &m, r.db.Rebind(query), w.args...); err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *MappingRepo) GetByTask(ctx context.Context, taskID, owner string) (*mappings.Mapping, error) {
	return r.getBy(ctx, "task_id", taskID, owner)
}

func (r *MappingRepo) GetByReport(ctx context.Context, reportID, owner string) (*mappings.Mapping, error) {
	return r.getBy(ctx, "report_id", reportID, owner)
}

func (r *MappingRepo) List(ctx context.Context, owner string, limit, offset int) ([]*mappings.Mapping, error) {
	w := &where{}
	w.owner(owner)
	query := `SELECT ` + mappingColumns + ` FROM task_report_mappings` + w.String() +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	out := []*mappings.Mapping{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), append(w.args, limit, offset)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MappingRepo) Count(ctx context.Context, owner string) (int64, error) {
	w := &where{}
	w.owner(owner)
	var n int64
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM task_report_mappings`+w.String()), w.args...)
	return n, err
}

func (r *MappingRepo) deleteBy(ctx context.Context, col, val, owner string) error {
	w := &where{}
	w.add(col+" = ?", val)
	w.owner(owner)
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM task_report_mappings`+w.String()), w.args...))
}

func (r *MappingRepo) DeleteByTask(ctx context.Context, taskID, owner string) error {
	return r.deleteBy(ctx, "task_id", taskID, owner)
}

func (r *MappingRepo) DeleteByReport(ctx context.Context, reportID, owner string) error {
	return r.deleteBy(ctx, "report_id", reportID, owner)
}

func (r *MappingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM task_report_mappings WHERE created_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
