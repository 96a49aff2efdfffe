package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"examline/internal/domain"
)

const workerColumns = `id,name,email,is_active,total_assigned,total_completed,total_reassigned_away,average_completion_hours,current_workload,performance_score,score_version,last_active_at,warning_count,created_at,updated_at`

func scanWorker(s scanner) (domain.Worker, error) {
	var w domain.Worker
	var email, lastActive sql.NullString
	var avg sql.NullFloat64
	var active int
	err := s.Scan(&w.ID, &w.Name, &email, &active, &w.Stats.TotalAssigned, &w.Stats.TotalCompleted, &w.Stats.TotalReassignedAway,
		&avg, &w.Stats.CurrentWorkload, &w.Stats.PerformanceScore, &w.Stats.ScoreVersion, &lastActive, &w.Stats.WarningCount,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return w, err
	}
	w.IsActive = active != 0
	if email.Valid {
		w.Email = email.String
	}
	if avg.Valid {
		v := avg.Float64
		w.Stats.AverageCompletionHours = &v
	}
	if lastActive.Valid {
		w.Stats.LastActiveAt = &lastActive.String
	}
	return w, nil
}

func (r Repo) InsertWorker(ctx context.Context, tx *sql.Tx, w domain.Worker) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workers(id,name,email,is_active,performance_score,score_version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, nullable(w.Email), boolInt(w.IsActive), w.Stats.PerformanceScore, w.Stats.ScoreVersion, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	return getWorker(ctx, r.DB, id)
}

func (r Repo) GetWorkerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Worker, error) {
	return getWorker(ctx, tx, id)
}

func getWorker(ctx context.Context, q DBTX, id string) (domain.Worker, error) {
	w, err := scanWorker(q.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	return w, err
}

type WorkerFilters struct {
	JobID      string
	ActiveOnly bool
}

func (r Repo) ListWorkers(ctx context.Context, f WorkerFilters) ([]domain.Worker, error) {
	return listWorkers(ctx, r.DB, f)
}

// EligibleWorkers returns the active workers attached to a job.
func (r Repo) EligibleWorkers(ctx context.Context, jobID string) ([]domain.Worker, error) {
	return listWorkers(ctx, r.DB, WorkerFilters{JobID: jobID, ActiveOnly: true})
}

func listWorkers(ctx context.Context, q DBTX, f WorkerFilters) ([]domain.Worker, error) {
	var clauses []string
	var args []any
	if f.JobID != "" {
		clauses = append(clauses, "id IN (SELECT worker_id FROM job_workers WHERE job_id=?)")
		args = append(args, f.JobID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// IsEligible reports whether the worker is active and attached to the job.
func (r Repo) IsEligible(ctx context.Context, tx *sql.Tx, jobID, workerID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM workers w JOIN job_workers jw ON jw.worker_id=w.id
WHERE jw.job_id=? AND w.id=? AND w.is_active=1`, jobID, workerID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) SetWorkerActive(ctx context.Context, tx *sql.Tx, id string, active bool, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET is_active=?, updated_at=? WHERE id=?`, boolInt(active), ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRecomputedStats writes the fields the stats refresh derives. Counters
// maintained incrementally (reassigned-away, warnings, activity) are left alone.
func (r Repo) SaveRecomputedStats(ctx context.Context, tx *sql.Tx, id string, s domain.WorkerStats, ts string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workers SET total_assigned=?, total_completed=?, average_completion_hours=?, current_workload=?,
performance_score=?, score_version=?, updated_at=? WHERE id=?`,
		s.TotalAssigned, s.TotalCompleted, nullableFloatPtr(s.AverageCompletionHours), s.CurrentWorkload,
		s.PerformanceScore, s.ScoreVersion, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustWorkload applies an atomic delta to current_workload, floored at 0.
func (r Repo) AdjustWorkload(ctx context.Context, tx *sql.Tx, id string, delta int, ts string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE workers SET current_workload=MAX(current_workload+?,0), updated_at=? WHERE id=?`, delta, ts, id))
}

func (r Repo) IncrementReassignedAway(ctx context.Context, tx *sql.Tx, id, ts string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE workers SET total_reassigned_away=total_reassigned_away+1, updated_at=? WHERE id=?`, ts, id))
}

func (r Repo) IncrementWarnings(ctx context.Context, tx *sql.Tx, id, ts string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE workers SET warning_count=warning_count+1, updated_at=? WHERE id=?`, ts, id))
}

func (r Repo) TouchWorkerActivity(ctx context.Context, tx *sql.Tx, id, ts string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE workers SET last_active_at=?, updated_at=? WHERE id=?`, ts, ts, id))
}

// CountAssignedItems counts distinct items the worker has ever owned.
func (r Repo) CountAssignedItems(ctx context.Context, tx *sql.Tx, workerID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(DISTINCT item_id) FROM item_assignments WHERE worker_id=?`, workerID).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
