package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNDefaults(t *testing.T) {
	dsn := DSN(Config{Workspace: "ws"})
	assert.True(t, strings.HasPrefix(dsn, "file:"+filepath.Join("ws", WorkspaceDir, FileName)+"?"))
	assert.Contains(t, dsn, "busy_timeout%2810000%29")
	assert.Contains(t, dsn, "_txlock=immediate")

	dsn = DSN(Config{Workspace: "ws", BusyTimeout: 2 * time.Second})
	assert.Contains(t, dsn, "busy_timeout%282000%29")
}

func TestOpenCreatesWorkspace(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = os.Stat(filepath.Join(ws, WorkspaceDir))
	require.NoError(t, err)

	var mode string
	require.NoError(t, conn.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, conn.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}
