// Package sqlstore implements the repository ports on top of sqlx.
// The same queries run on sqlite, postgres and mysql; placeholders are
// written as "?" and rebound for the driver in use.
package sqlstore

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
)

// Store groups the repositories sharing one connection pool.
type Store struct {
	DB *sqlx.DB

	Reports    *ReportRepo
	Documents  *DocumentRepo
	Mappings   *MappingRepo
	Users      *UserRepo
	Sessions   *SessionRepo
	TaskErrors *TaskErrorRepo
}

func New(db *sqlx.DB) *Store {
	return &Store{
		DB:         db,
		Reports:    NewReportRepo(db),
		Documents:  NewDocumentRepo(db),
		Mappings:   NewMappingRepo(db),
		Users:      NewUserRepo(db),
		Sessions:   NewSessionRepo(db),
		TaskErrors: NewTaskErrorRepo(db),
	}
}

// translate maps driver errors onto the domain vocabulary.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return errs.ErrNotFound
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	}
	return err
}

func isUniqueViolation(err error) bool {
	var le *sqlite.Error
	if errors.As(err, &le) {
		code := le.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}

// affected turns a zero-row write into ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// escapeLikePattern escapes LIKE wildcards; queries declare '!' as the escape character.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "!", "!!")
	s = strings.ReplaceAll(s, "%", "!%")
	s = strings.ReplaceAll(s, "_", "!_")
	return s
}

func likeContains(s string) string {
	return "%" + strings.ToLower(escapeLikePattern(s)) + "%"
}

// where collects AND-ed conditions with their args.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// owner adds a user_id condition unless owner is empty.
func (w *where) owner(owner string) {
	if owner != "" {
		w.add("user_id = ?", owner)
	}
}

func (w *where) in(col string, vals []string) {
	if len(vals) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	w.add(col+" IN ("+marks+")", args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
