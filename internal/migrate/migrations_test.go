package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"examline/internal/db"
	"examline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, migrate.Migrate(conn))
	require.NoError(t, migrate.Migrate(conn))

	latest, err := migrate.Latest()
	require.NoError(t, err)
	got, err := migrate.Version(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, latest, got)

	for _, table := range []string{"jobs", "workers", "job_workers", "items", "item_assignments", "events"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestVersionBeforeMigrate(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := migrate.Version(context.Background(), conn)
	require.NoError(t, err)
	require.Zero(t, v)
}
