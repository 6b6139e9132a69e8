// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fundora/apiserver/config"
	"github.com/fundora/apiserver/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// Open returns a migrated sqlite database under t.TempDir. It is closed
// when the test ends.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "fundora.db"),
	}
	require.NoError(t, db.MigrateUp(cfg))

	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
