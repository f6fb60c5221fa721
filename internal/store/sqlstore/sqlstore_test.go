package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tollgate/internal"
	"github.com/DukeRupert/tollgate/internal/store"
	"github.com/DukeRupert/tollgate/internal/store/sqlstore"
	"github.com/DukeRupert/tollgate/internal/store/storetest"
)

func init() {
	goose.SetLogger(goose.NopLogger())
}

func newSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quota.db")
	s, err := sqlstore.Open(context.Background(), sqlstore.SQLite, path)
	require.NoError(t, err)
	require.NoError(t, internal.RunMigrations(s.DB(), string(sqlstore.SQLite)))
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newSQLite(t)
	})
}

// TestPostgres runs the suite against a real Postgres when
// TOLLGATE_TEST_DATABASE_URL points at a disposable database.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TOLLGATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TOLLGATE_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := sqlstore.Open(ctx, sqlstore.Postgres, dsn)
		require.NoError(t, err)
		require.NoError(t, internal.RunMigrations(s.DB(), string(sqlstore.Postgres)))
		_, err = s.DB().ExecContext(ctx,
			`TRUNCATE usage_daily, user_plans, quota_notifications, contacts, usage_events`)
		require.NoError(t, err)
		return s
	})
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.Dialect("oracle"), "")
	require.Error(t, err)
	assert.True(t, store.Error.Has(err))
}

func TestStore_ClosedDatabase(t *testing.T) {
	s := newSQLite(t)
	require.NoError(t, s.Close())

	_, err := s.ReadCount(context.Background(), "user-1", "2026-10-17")
	require.Error(t, err)
	assert.True(t, store.Error.Has(err), "a closed database is a store fault, not zero usage")

	_, err = s.ReadPlan(context.Background(), "user-1")
	require.Error(t, err)
	assert.False(t, store.ErrNotFound.Has(err))
}
