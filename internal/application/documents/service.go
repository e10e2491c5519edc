package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/documents"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	DefaultMaxBytes = 20 << 20
)

// Allowed lists the accepted upload extensions.
var Allowed = map[string]bool{".pdf": true, ".txt": true, ".md": true, ".csv": true}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName keeps the base name and replaces anything outside [A-Za-z0-9._-].
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

// Service stores uploaded documents. With a Dispatcher set, a document that a
// live analysis is still reading cannot be deleted.
type Service struct {
	Repo       domain.Repository
	Dir        string
	MaxBytes   int64
	Dispatcher tasks.Dispatcher
	Clock      application.Clock
	Log        logrus.FieldLogger
}

type UploadCommand struct {
	Owner   string
	Name    string
	Content io.Reader
}

func (s *Service) maxBytes() int64 {
	if s.MaxBytes > 0 {
		return s.MaxBytes
	}
	return DefaultMaxBytes
}

// StoredName is {base}_{owner}_{sha256[:8]}_{rand8}{ext}; identical content uploaded twice gets two names.
func StoredName(name, owner, checksum string) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s_%s%s", base, SanitizeName(owner), checksum[:8], rnd, ext)
}

// Upload streams the content to Dir while hashing it, then records the row.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (*domain.Document, error) {
	name := SanitizeName(cmd.Name)
	if name == "" {
		return nil, errs.Invalid("file name is required")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !Allowed[ext] {
		return nil, errs.Invalid("unsupported file type %q (allowed: .pdf, .txt, .md, .csv)", ext)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	limit := s.maxBytes()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(cmd.Content, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n > limit {
		return nil, errs.Invalid("file exceeds the %d MB limit", limit>>20)
	}
	if n == 0 {
		return nil, errs.Invalid("file is empty")
	}

	sum := hex.EncodeToString(h.Sum(nil))
	stored := StoredName(name, cmd.Owner, sum)
	path := filepath.Join(s.Dir, stored)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := s.Clock.Now()
	doc := &domain.Document{
		UserID:       cmd.Owner,
		OriginalName: name,
		StoredName:   stored,
		Path:         path,
		SizeBytes:    n,
		Checksum:     sum,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("save document: %w", err)
	}
	s.Log.WithFields(logrus.Fields{"user_id": cmd.Owner, "document_id": doc.ID, "size": n}).Info("document uploaded")
	return doc, nil
}

// List pages documents; admins see every user's.
func (s *Service) List(ctx context.Context, p users.Principal, search string, page, pageSize int) (*domain.PaginatedResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return nil, errs.Invalid("page_size must be between 1 and %d", MaxPageSize)
	}
	search = strings.TrimSpace(search)
	list, err := s.Repo.List(ctx, p.Scope(), search, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	total, err := s.Repo.Count(ctx, p.Scope(), search)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	res := &domain.PaginatedResult{Data: list, Page: page, PageSize: pageSize, Total: total, TotalPages: 1}
	if total > 0 {
		res.TotalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, p users.Principal, id string) (*domain.Document, error) {
	return s.Repo.Get(ctx, id, p.Scope())
}

// Open returns the stored file; the caller closes it.
func (s *Service) Open(ctx context.Context, p users.Principal, id string) (*os.File, *domain.Document, error) {
	doc, err := s.Repo.Get(ctx, id, p.Scope())
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(doc.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("document file: %w", errs.ErrNotFound)
		}
		return nil, nil, err
	}
	return f, doc, nil
}

// Delete drops the row first, then the file on a best-effort basis.
func (s *Service) Delete(ctx context.Context, p users.Principal, id string) error {
	doc, err := s.Repo.Get(ctx, id, p.Scope())
	if err != nil {
		return err
	}
	if s.Dispatcher != nil {
		if live := tasks.LiveForDocument(s.Dispatcher, id); len(live) > 0 {
			return fmt.Errorf("%w: document is in use by running analysis task %s", errs.ErrConflict, live[0].ID)
		}
	}
	if err := s.Repo.Delete(ctx, id, p.Scope()); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.Log.WithError(err).WithField("document_id", id).Warn("could not delete document file")
	}
	return nil
}
