// Package db locates and opens the workspace SQLite store.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	WorkspaceDir = ".examline"
	FileName     = "examline.db"

	defaultBusyTimeout = 10 * time.Second
)

// Config selects the database file and connection tuning. Zero values use
// the defaults.
type Config struct {
	Workspace    string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func root(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// Path returns the database file for a workspace.
func Path(workspace string) string {
	return filepath.Join(root(workspace), WorkspaceDir, FileName)
}

// EnsureWorkspace creates the hidden workspace directory and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(root(workspace), WorkspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// DSN builds the driver connection string. Transactions take the write lock
// at BEGIN (_txlock=immediate) so a read followed by a write never fails on
// lock upgrade; busy_timeout makes competing writers wait.
func DSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + Path(cfg.Workspace) + "?" + q.Encode()
}

// Open creates the workspace if needed and returns a verified connection
// pool.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}
