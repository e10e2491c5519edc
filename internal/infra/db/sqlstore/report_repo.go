package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
)

const reportColumns = `id, user_id, document_id, analysis_type, query, file_name, report_path, status, summary, created_at, updated_at`

type ReportRepo struct {
	db *sqlx.DB
}

func NewReportRepo(db *sqlx.DB) *ReportRepo {
	return &ReportRepo{db: db}
}

func (r *ReportRepo) Create(ctx context.Context, rep *reports.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.Status == "" {
		rep.Status = reports.StatusPending
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	rep.CreatedAt = rep.CreatedAt.UTC()
	if rep.UpdatedAt.IsZero() {
		rep.UpdatedAt = rep.CreatedAt
	}
	rep.UpdatedAt = rep.UpdatedAt.UTC()

	query := `INSERT INTO analysis_reports (` + reportColumns + `)
		VALUES (:id, :user_id, :document_id, :analysis_type, :query, :file_name, :report_path, :status, :summary, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, rep)
	return translate(err)
}

func (r *ReportRepo) Get(ctx context.Context, id, owner string) (*reports.Report, error) {
	w := &where{}
	w.add("id = ?", id)
	w.owner(owner)

	var rep reports.Report
	query := `SELECT ` + reportColumns + ` FROM analysis_reports` + w.String()
	if err := r.db.GetContext(ctx, &rep, r.db.Rebind(query), w.args...); err != nil {
		return nil, translate(err)
	}
	return &rep, nil
}

func reportWhere(owner string, f reports.Filter) *where {
	w := &where{}
	w.owner(owner)
	if f.AnalysisType != "" {
		w.add("analysis_type = ?", string(f.AnalysisType))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		term := likeContains(s)
		w.add(`(LOWER(file_name) LIKE ? ESCAPE '!' OR LOWER(query) LIKE ? ESCAPE '!' OR LOWER(COALESCE(summary, '')) LIKE ? ESCAPE '!')`,
			term, term, term)
	}
	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		w.in("status", vals)
	}
	if !f.UpdatedBefore.IsZero() {
		w.add("updated_at < ?", f.UpdatedBefore.UTC())
	}
	return w
}

// List returns newest first.
func (r *ReportRepo) List(ctx context.Context, owner string, f reports.Filter, limit, offset int) ([]*reports.Report, error) {
	w := reportWhere(owner, f)
	query := `SELECT ` + reportColumns + ` FROM analysis_reports` + w.String() +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args := append(w.args, limit, offset)

	out := []*reports.Report{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReportRepo) Count(ctx context.Context, owner string, f reports.Filter) (int64, error) {
	w := reportWhere(owner, f)
	var n int64
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM analysis_reports`+w.String()), w.args...)
	return n, err
}

func (r *ReportRepo) CountByType(ctx context.Context, owner string) (map[reports.Type]int64, error) {
	w := &where{}
	w.owner(owner)

	var rows []struct {
		Type  reports.Type `db:"analysis_type"`
		Count int64        `db:"n"`
	}
	query := `SELECT analysis_type, COUNT(*) AS n FROM analysis_reports` + w.String() + ` GROUP BY analysis_type`
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), w.args...); err != nil {
		return nil, err
	}
	out := make(map[reports.Type]int64, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Count
	}
	return out, nil
}

// Apply is a single conditional UPDATE; when nothing matched it checks whether the report exists at all.
func (r *ReportRepo) Apply(ctx context.Context, id, owner string, t reports.Transition, now time.Time) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now.UTC()}
	if t.To != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(t.To))
	}
	if t.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *t.Summary)
	}
	if t.ReportPath != nil {
		sets = append(sets, "report_path = ?")
		args = append(args, *t.ReportPath)
	}

	w := &where{}
	w.add("id = ?", id)
	w.owner(owner)
	if len(t.From) > 0 {
		vals := make([]string, len(t.From))
		for i, s := range t.From {
			vals[i] = string(s)
		}
		w.in("status", vals)
	}

	query := `UPDATE analysis_reports SET ` + strings.Join(sets, ", ") + w.String()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), append(args, w.args...)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id, owner); err != nil {
		return false, err
	}
	return false, nil
}

func (r *ReportRepo) Delete(ctx context.Context, id, owner string) error {
	w := &where{}
	w.add("id = ?", id)
	w.owner(owner)
	return affected(r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM analysis_reports`+w.String()), w.args...))
}
