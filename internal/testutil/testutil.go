// Package testutil builds throwaway stores for service tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/migrations"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/sqlite"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/fin-analyzer/internal/infra/storage"
)

// Store returns a migrated sqlite store in a temp dir.
func Store(t *testing.T) *sqlstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, migrations.Up("sqlite", sqlite.DSN(path)))

	db, err := sqlite.Connect(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlstore.New(db)
}

// Artifacts returns a LocalStore rooted in a temp dir.
func Artifacts(t *testing.T) *storage.LocalStore {
	t.Helper()
	return storage.NewLocal(t.TempDir())
}

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
