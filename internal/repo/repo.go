package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"examline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by conditional updates whose guard no longer
	// matches the stored row.
	ErrConflict = errors.New("conflicting update")
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,title,status,created_at) VALUES (?,?,?,?)`,
		j.ID, j.Title, j.Status, j.CreatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return getJob(ctx, r.DB, id)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return getJob(ctx, tx, id)
}

func getJob(ctx context.Context, q DBTX, id string) (domain.Job, error) {
	var j domain.Job
	err := q.QueryRowContext(ctx, `SELECT id,title,status,created_at FROM jobs WHERE id=?`, id).
		Scan(&j.ID, &j.Title, &j.Status, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,status,created_at FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Title, &j.Status, &j.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) AddJobWorker(ctx context.Context, tx *sql.Tx, jobID, workerID, ts string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO job_workers(job_id,worker_id,added_at) VALUES (?,?,?)`, jobID, workerID, ts)
	return err
}

func (r Repo) RemoveJobWorker(ctx context.Context, tx *sql.Tx, jobID, workerID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM job_workers WHERE job_id=? AND worker_id=?`, jobID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonTerminalClause(column string) (string, []any) {
	args := make([]any, 0, len(domain.NonTerminalStatuses))
	for _, s := range domain.NonTerminalStatuses {
		args = append(args, s)
	}
	return fmt.Sprintf("%s IN (%s)", column, placeholders(len(args))), args
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) SetJobStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
