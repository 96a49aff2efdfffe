package engine

import (
	"context"
	"database/sql"
	"time"

	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/repo"
	"examline/internal/scoring"
)

// maxCompletionHours bounds the spans averaged into completion time; longer
// spans are treated as data-entry artifacts.
const maxCompletionHours = 720.0

// RefreshWorkerStats recomputes a worker's aggregates from its items and
// stores the resulting score.
func (e Engine) RefreshWorkerStats(ctx context.Context, workerID, actorID string) (domain.Worker, error) {
	if workerID == "" {
		return domain.Worker{}, &ValidationError{Field: "worker_id", Reason: "required"}
	}
	unlock := e.lockWorkers(workerID)
	defer unlock()

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()

	w, err := e.refreshWorkerTx(ctx, tx, workerID)
	if err != nil {
		e.collector().StatsRefreshed("failure")
		return w, err
	}
	if err := e.appendEvent(ctx, tx, events.WorkerStatsRefreshed, "", events.KindWorker, w.ID, actorID, events.Payload{
		"performance_score": w.Stats.PerformanceScore,
		"current_workload":  w.Stats.CurrentWorkload,
		"score_version":     w.Stats.ScoreVersion,
	}); err != nil {
		return w, dependency("append event", err)
	}
	if err := commit(tx); err != nil {
		e.collector().StatsRefreshed("failure")
		return w, err
	}
	e.collector().StatsRefreshed("success")
	return w, nil
}

// RefreshReport summarizes a RefreshAllStats run.
type RefreshReport struct {
	Refreshed []string      `json:"refreshed"`
	Errors    []ItemFailure `json:"errors"`
}

// RefreshAllStats refreshes every worker. A failing worker is recorded and
// the run continues.
func (e Engine) RefreshAllStats(ctx context.Context, actorID string) (RefreshReport, error) {
	workers, err := e.Repo.ListWorkers(ctx, repo.WorkerFilters{})
	if err != nil {
		return RefreshReport{}, dependency("list workers", err)
	}
	report := RefreshReport{Refreshed: []string{}, Errors: []ItemFailure{}}
	for _, w := range workers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := e.RefreshWorkerStats(ctx, w.ID, actorID); err != nil {
			report.Errors = append(report.Errors, failure("", w.ID, err))
			e.logger().Warn("stats refresh failed", "worker_id", w.ID, "error", err)
			continue
		}
		report.Refreshed = append(report.Refreshed, w.ID)
	}
	e.logger().Info("stats refreshed", "workers", len(report.Refreshed), "errors", len(report.Errors))
	return report, nil
}

// refreshWorkerTx recomputes and persists one worker's stats inside tx. The
// caller holds the worker's lock.
func (e Engine) refreshWorkerTx(ctx context.Context, tx *sql.Tx, workerID string) (domain.Worker, error) {
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		return w, notFound(err, "worker", workerID)
	}
	assigned, err := e.Repo.CountAssignedItems(ctx, tx, workerID)
	if err != nil {
		return w, dependency("count assignments", err)
	}
	completed, open, err := e.Repo.CountWorkerItems(ctx, tx, workerID)
	if err != nil {
		return w, dependency("count items", err)
	}
	spans, err := e.Repo.CompletionSpans(ctx, tx, workerID)
	if err != nil {
		return w, dependency("load completion spans", err)
	}

	now := e.now()
	stats := w.Stats
	stats.TotalAssigned = assigned
	stats.TotalCompleted = completed
	stats.CurrentWorkload = open
	stats.AverageCompletionHours = averageCompletionHours(spans)
	stats.PerformanceScore = scoring.Score(stats, now)
	stats.ScoreVersion = scoring.FormulaVersion

	ts := domain.FormatTime(now)
	if err := e.Repo.SaveRecomputedStats(ctx, tx, workerID, stats, ts); err != nil {
		return w, notFound(err, "worker", workerID)
	}
	w.Stats = stats
	w.UpdatedAt = ts
	return w, nil
}

// averageCompletionHours averages assigned-to-completed spans within
// (0, maxCompletionHours]. It returns nil when no span qualifies.
func averageCompletionHours(spans [][2]string) *float64 {
	var sum float64
	var n int
	for _, s := range spans {
		start, err := domain.ParseTime(s[0])
		if err != nil {
			continue
		}
		end, err := domain.ParseTime(s[1])
		if err != nil {
			continue
		}
		h := end.Sub(start).Hours()
		if h <= 0 || h > maxCompletionHours {
			continue
		}
		sum += h
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// refreshPool refreshes every eligible worker of a job ahead of a decision
// that depends on fresh scores.
func (e Engine) refreshPool(ctx context.Context, jobID string) error {
	pool, err := e.Repo.EligibleWorkers(ctx, jobID)
	if err != nil {
		return dependency("list eligible workers", err)
	}
	for _, w := range pool {
		if err := e.refreshWorker(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) refreshWorker(ctx context.Context, workerID string) error {
	unlock := e.lockWorkers(workerID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.refreshWorkerTx(ctx, tx, workerID); err != nil {
		e.collector().StatsRefreshed("failure")
		return err
	}
	if err := commit(tx); err != nil {
		return err
	}
	e.collector().StatsRefreshed("success")
	return nil
}

func hoursSince(ts *string, now time.Time) (float64, bool) {
	t, ok := domain.ParseTimePtr(ts)
	if !ok {
		return 0, false
	}
	return now.Sub(t).Hours(), true
}
