package engine

import (
	"context"
	"errors"
	"time"

	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/planner"
	"examline/internal/repo"
)

// Idle classification of an assigned item.
const (
	bandNone = iota
	bandWarn
	bandIdle
)

// SweepItem is an item the sweep warned about.
type SweepItem struct {
	ItemID    string  `json:"item_id"`
	JobID     string  `json:"job_id"`
	WorkerID  string  `json:"worker_id"`
	IdleHours float64 `json:"idle_hours"`
}

// SweepReport is the outcome of one idle sweep.
type SweepReport struct {
	IdleThresholdHours    float64              `json:"idle_threshold_hours"`
	WarningThresholdHours float64              `json:"warning_threshold_hours"`
	Scanned               int                  `json:"scanned"`
	Warned                []SweepItem          `json:"warned"`
	Reallocated           []ReallocationResult `json:"reallocated"`
	Errors                []ItemFailure        `json:"errors"`
	StartedAt             string               `json:"started_at"`
	FinishedAt            string               `json:"finished_at"`
}

// classify places an item in the warning band [warn, idle) or the idle band
// from idle on, by hours since assignment.
func classify(elapsedHours, idleHours, warnHours float64) int {
	switch {
	case elapsedHours >= idleHours:
		return bandIdle
	case elapsedHours >= warnHours:
		return bandWarn
	}
	return bandNone
}

// SweepIdle warns workers holding items past warnHours and moves items held
// past idleHours to the best other eligible worker of the same job. Zero
// thresholds fall back to the configured ones. Each item is handled on its
// own; failures are collected in the report.
func (e Engine) SweepIdle(ctx context.Context, idleHours, warnHours float64) (SweepReport, error) {
	if idleHours == 0 && e.Config != nil {
		idleHours = e.Config.Engine.IdleThresholdHours
	}
	if warnHours == 0 && e.Config != nil {
		warnHours = e.Config.Engine.WarningThresholdHours
	}
	report := SweepReport{
		IdleThresholdHours:    idleHours,
		WarningThresholdHours: warnHours,
		Warned:                []SweepItem{},
		Reallocated:           []ReallocationResult{},
		Errors:                []ItemFailure{},
	}
	if warnHours <= 0 {
		return report, &ValidationError{Field: "warning_hours", Reason: "must be positive"}
	}
	if idleHours <= warnHours {
		return report, &ValidationError{Field: "idle_hours", Reason: "must be greater than warning_hours"}
	}

	started := time.Now()
	now := e.now()
	report.StartedAt = domain.FormatTime(now)
	items, err := e.Repo.ListItems(ctx, repo.ItemFilters{
		Assigned:     true,
		NonTerminal:  true,
		AssignedUpTo: domain.FormatTime(now.Add(-hours(warnHours))),
	})
	if err != nil {
		return report, dependency("list assigned items", err)
	}
	report.Scanned = len(items)

	refreshed := map[string]error{}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			e.finishSweep(ctx, &report, started)
			return report, err
		}
		elapsed, ok := hoursSince(it.AssignedAt, now)
		if !ok {
			continue
		}
		switch classify(elapsed, idleHours, warnHours) {
		case bandWarn:
			warned, err := e.warn(ctx, it, elapsed, idleHours)
			if err != nil {
				report.Errors = append(report.Errors, failure(it.ID, it.Worker(), err))
				continue
			}
			if warned {
				report.Warned = append(report.Warned, SweepItem{ItemID: it.ID, JobID: it.JobID, WorkerID: it.Worker(), IdleHours: elapsed})
			}
		case bandIdle:
			if _, done := refreshed[it.JobID]; !done {
				refreshed[it.JobID] = e.refreshPool(ctx, it.JobID)
			}
			if err := refreshed[it.JobID]; err != nil {
				report.Errors = append(report.Errors, failure(it.ID, it.Worker(), err))
				continue
			}
			res, err := e.reclaim(ctx, it)
			if err != nil {
				report.Errors = append(report.Errors, failure(it.ID, it.Worker(), err))
				e.logger().Warn("sweep: item not reallocated", "item_id", it.ID, "worker_id", it.Worker(), "error", err)
				continue
			}
			report.Reallocated = append(report.Reallocated, res)
		}
	}
	e.finishSweep(ctx, &report, started)
	return report, nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// reclaim moves an idle item to the best other eligible worker. The target is
// chosen before anything is written, so an item without a replacement keeps
// its owner and its owner's stats untouched.
func (e Engine) reclaim(ctx context.Context, it domain.WorkItem) (ReallocationResult, error) {
	pool, err := e.Repo.EligibleWorkers(ctx, it.JobID)
	if err != nil {
		return ReallocationResult{}, dependency("list eligible workers", err)
	}
	candidates := make([]planner.Candidate, len(pool))
	for i, w := range pool {
		candidates[i] = planner.Candidate{WorkerID: w.ID, Score: w.Stats.PerformanceScore, Workload: w.Stats.CurrentWorkload}
	}
	target, ok := planner.Replacement(candidates, it.Worker())
	if !ok {
		return ReallocationResult{}, &NoEligibleWorkerError{JobID: it.JobID, ItemID: it.ID}
	}
	res, msgs, err := e.assign(ctx, it.ID, target.WorkerID, domain.ReasonAutomatic, "system", &it)
	if err != nil {
		return res, err
	}
	e.send(msgs...)
	return res, nil
}

// warn records a reminder for an item in the warning band. It reports false
// when the worker was already warned for the current assignment.
func (e Engine) warn(ctx context.Context, it domain.WorkItem, elapsed, idleHours float64) (bool, error) {
	unlockItem := e.lockItem(it.ID)
	defer unlockItem()
	workerID := it.Worker()
	unlockWorker := e.lockWorkers(workerID)
	defer unlockWorker()

	tx, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ts := domain.FormatTime(e.now())
	if err := e.Repo.MarkItemWarned(ctx, tx, it.ID, workerID, ts); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return false, nil
		}
		return false, dependency("mark item warned", err)
	}
	if err := e.Repo.IncrementWarnings(ctx, tx, workerID, ts); err != nil {
		return false, notFound(err, "worker", workerID)
	}
	w, err := e.refreshWorkerTx(ctx, tx, workerID)
	if err != nil {
		return false, err
	}
	if err := e.appendEvent(ctx, tx, events.ItemWarned, it.JobID, events.KindItem, it.ID, events.SystemActor, events.Payload{
		"worker_id":     workerID,
		"idle_hours":    elapsed,
		"warning_count": w.Stats.WarningCount,
	}); err != nil {
		return false, dependency("append event", err)
	}
	if err := commit(tx); err != nil {
		return false, err
	}
	e.send(idleReminderMessage(w, it, elapsed, idleHours))
	return true, nil
}

func (e Engine) finishSweep(ctx context.Context, report *SweepReport, started time.Time) {
	report.FinishedAt = domain.FormatTime(e.now())
	e.collector().SweepCompleted(len(report.Warned), len(report.Reallocated), len(report.Errors), time.Since(started).Seconds())

	// Recorded on a fresh context so an interrupted sweep still leaves a trace.
	recordCtx := context.WithoutCancel(ctx)
	tx, err := e.begin(recordCtx)
	if err == nil {
		defer tx.Rollback()
		err = e.appendEvent(recordCtx, tx, events.SweepCompleted, "", events.KindSweep, "", events.SystemActor, events.Payload{
			"scanned":     report.Scanned,
			"warned":      len(report.Warned),
			"reallocated": len(report.Reallocated),
			"errors":      len(report.Errors),
		})
		if err == nil {
			err = commit(tx)
		}
	}
	if err != nil {
		e.logger().Warn("sweep: event not recorded", "error", err)
	}
	e.logger().Info("sweep completed", "scanned", report.Scanned, "warned", len(report.Warned),
		"reallocated", len(report.Reallocated), "errors", len(report.Errors))
}
