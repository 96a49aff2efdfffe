package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"examline/internal/domain"
)

const itemColumns = `id,job_id,submitter_id,worker_id,status,assigned_at,completed_at,warned_at,reassignment_count,created_at,updated_at`

func scanItem(s scanner) (domain.WorkItem, error) {
	var it domain.WorkItem
	var worker, assigned, completed, warned sql.NullString
	err := s.Scan(&it.ID, &it.JobID, &it.SubmitterID, &worker, &it.Status, &assigned, &completed, &warned,
		&it.ReassignmentCount, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return it, err
	}
	it.WorkerID = strPtr(worker)
	it.AssignedAt = strPtr(assigned)
	it.CompletedAt = strPtr(completed)
	it.WarnedAt = strPtr(warned)
	return it, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO items(id,job_id,submitter_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		it.ID, it.JobID, it.SubmitterID, it.Status, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return getItem(ctx, r.DB, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	return getItem(ctx, tx, id)
}

func getItem(ctx context.Context, q DBTX, id string) (domain.WorkItem, error) {
	it, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

type ItemFilters struct {
	JobID        string
	WorkerID     string
	Status       string
	Unassigned   bool
	Assigned     bool
	NonTerminal  bool
	AssignedUpTo string
	IDs          []string
	Limit        int
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.WorkItem, error) {
	return listItems(ctx, r.DB, f)
}

func listItems(ctx context.Context, q DBTX, f ItemFilters) ([]domain.WorkItem, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.JobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, f.JobID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Unassigned {
		clauses = append(clauses, "worker_id IS NULL")
	}
	if f.Assigned {
		clauses = append(clauses, "worker_id IS NOT NULL AND assigned_at IS NOT NULL")
	}
	if f.NonTerminal {
		clause, statusArgs := nonTerminalClause("status")
		clauses = append(clauses, clause)
		args = append(args, statusArgs...)
	}
	if f.AssignedUpTo != "" {
		clauses = append(clauses, "assigned_at<=?")
		args = append(args, f.AssignedUpTo)
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// AssignItemIf moves an item to a new worker only while it is still owned by
// expectedWorker ("" for unassigned) and non-terminal.
func (r Repo) AssignItemIf(ctx context.Context, tx *sql.Tx, itemID, expectedWorker, newWorker, status, ts string, countReassignment bool) error {
	clause, args := nonTerminalClause("status")
	inc := 0
	if countReassignment {
		inc = 1
	}
	query := `UPDATE items SET worker_id=?, status=?, assigned_at=?, warned_at=NULL, reassignment_count=reassignment_count+?, updated_at=?
WHERE id=? AND worker_id IS ? AND ` + clause
	all := append([]any{newWorker, status, ts, inc, ts, itemID, nullable(expectedWorker)}, args...)
	return expectOne(tx.ExecContext(ctx, query, all...))
}

// RefreshAssignedAt restarts the ownership clock without changing owner.
func (r Repo) RefreshAssignedAt(ctx context.Context, tx *sql.Tx, itemID, workerID, ts string) error {
	clause, args := nonTerminalClause("status")
	all := append([]any{ts, ts, itemID, workerID}, args...)
	return expectOne(tx.ExecContext(ctx, `UPDATE items SET assigned_at=?, warned_at=NULL, updated_at=? WHERE id=? AND worker_id=? AND `+clause, all...))
}

// SetItemStatusIf transitions an item from one status to another, guarded on
// both the current status and owner.
func (r Repo) SetItemStatusIf(ctx context.Context, tx *sql.Tx, itemID, workerID, from, to string, completedAt *string, ts string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE items SET status=?, completed_at=?, updated_at=? WHERE id=? AND worker_id=? AND status=?`,
		to, nullableStringPtr(completedAt), ts, itemID, workerID, from))
}

// MarkItemWarned stamps warned_at unless the item was already warned since
// its current assignment started.
func (r Repo) MarkItemWarned(ctx context.Context, tx *sql.Tx, itemID, workerID, ts string) error {
	clause, args := nonTerminalClause("status")
	all := append([]any{ts, ts, itemID, workerID}, args...)
	return expectOne(tx.ExecContext(ctx, `UPDATE items SET warned_at=?, updated_at=?
WHERE id=? AND worker_id=? AND (warned_at IS NULL OR warned_at<assigned_at) AND `+clause, all...))
}

// CountWorkerItems returns completed and non-terminal item counts for a worker.
func (r Repo) CountWorkerItems(ctx context.Context, tx *sql.Tx, workerID string) (completed, open int, err error) {
	clause, args := nonTerminalClause("status")
	all := append([]any{domain.StatusCompleted}, args...)
	all = append(all, workerID)
	err = tx.QueryRowContext(ctx, `SELECT
  COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN `+clause+` THEN 1 ELSE 0 END),0)
FROM items WHERE worker_id=?`, all...).Scan(&completed, &open)
	return completed, open, err
}

// CompletionSpans returns assigned_at/completed_at pairs of the worker's
// completed items.
func (r Repo) CompletionSpans(ctx context.Context, tx *sql.Tx, workerID string) ([][2]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT assigned_at, completed_at FROM items
WHERE worker_id=? AND status=? AND assigned_at IS NOT NULL AND completed_at IS NOT NULL`, workerID, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res [][2]string
	for rows.Next() {
		var span [2]string
		if err := rows.Scan(&span[0], &span[1]); err != nil {
			return nil, err
		}
		res = append(res, span)
	}
	return res, rows.Err()
}

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO item_assignments(item_id,worker_id,reason,assigned_at) VALUES (?,?,?,?)`,
		a.ItemID, a.WorkerID, a.Reason, a.AssignedAt)
	return err
}

// ReleaseAssignment closes the open ownership period of an item, if any.
func (r Repo) ReleaseAssignment(ctx context.Context, tx *sql.Tx, itemID, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE item_assignments SET released_at=? WHERE item_id=? AND released_at IS NULL`, ts, itemID)
	return err
}

func (r Repo) ListAssignments(ctx context.Context, itemID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,worker_id,reason,assigned_at,released_at FROM item_assignments WHERE item_id=? ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var released sql.NullString
		if err := rows.Scan(&a.ID, &a.ItemID, &a.WorkerID, &a.Reason, &a.AssignedAt, &released); err != nil {
			return nil, err
		}
		a.ReleasedAt = strPtr(released)
		res = append(res, a)
	}
	return res, rows.Err()
}
