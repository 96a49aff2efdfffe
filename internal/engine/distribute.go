package engine

import (
	"context"
	"errors"

	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/notify"
	"examline/internal/planner"
	"examline/internal/repo"
)

// DistributionResult reports a distribution run. Plan holds what was
// planned; Assigned counts the assignments that were applied.
type DistributionResult struct {
	JobID    string        `json:"job_id"`
	Plan     planner.Plan  `json:"plan"`
	Assigned int           `json:"assigned"`
	Failed   []ItemFailure `json:"failed"`
	Skipped  []ItemFailure `json:"skipped"`
}

// PlanDistribution assigns the job's unassigned items across its eligible
// workers by capacity. When itemIDs is empty every unassigned, non-terminal
// item of the job is placed. Each item commits on its own; a failing item is
// recorded and the run continues.
func (e Engine) PlanDistribution(ctx context.Context, jobID string, itemIDs []string, actorID string) (DistributionResult, error) {
	result := DistributionResult{JobID: jobID, Failed: []ItemFailure{}, Skipped: []ItemFailure{}}
	if jobID == "" {
		return result, &ValidationError{Field: "job_id", Reason: "required"}
	}
	for _, id := range itemIDs {
		if id == "" {
			return result, &ValidationError{Field: "item_ids", Reason: "must not contain empty ids"}
		}
	}
	job, err := e.Job(ctx, jobID)
	if err != nil {
		return result, err
	}
	if job.Status != domain.JobActive {
		return result, &InvalidStateError{Kind: "job", ID: job.ID, Status: job.Status, Reason: "job is not accepting assignments"}
	}

	if err := e.refreshPool(ctx, jobID); err != nil {
		e.collector().DistributionFailed("refresh")
		return result, err
	}
	pool, err := e.Repo.EligibleWorkers(ctx, jobID)
	if err != nil {
		return result, dependency("list eligible workers", err)
	}
	if len(pool) == 0 {
		e.collector().DistributionFailed("no_eligible_workers")
		return result, &NoEligibleWorkerError{JobID: jobID}
	}

	items, skipped, err := e.distributableItems(ctx, jobID, itemIDs)
	if err != nil {
		return result, err
	}
	result.Skipped = skipped

	candidates := make([]planner.Candidate, len(pool))
	workers := make(map[string]domain.Worker, len(pool))
	for i, w := range pool {
		candidates[i] = planner.Candidate{WorkerID: w.ID, Score: w.Stats.PerformanceScore, Workload: w.Stats.CurrentWorkload}
		workers[w.ID] = w
	}
	plan, err := planner.Build(items, candidates, 0)
	if err != nil {
		return result, &NoEligibleWorkerError{JobID: jobID}
	}
	result.Plan = plan
	if len(items) == 0 {
		return result, nil
	}

	perWorker := map[string]int{}
	for _, a := range plan.Assignments {
		unassigned := domain.WorkItem{ID: a.ItemID}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, _, err := e.assign(ctx, a.ItemID, a.WorkerID, domain.ReasonDistribution, actorID, &unassigned); err != nil {
			result.Failed = append(result.Failed, failure(a.ItemID, a.WorkerID, err))
			e.logger().Warn("distribution: item not assigned", "job_id", jobID, "item_id", a.ItemID, "worker_id", a.WorkerID, "error", err)
			continue
		}
		result.Assigned++
		perWorker[a.WorkerID]++
	}
	e.collector().ItemsDistributed(result.Assigned)

	if err := e.recordDistribution(ctx, result, actorID); err != nil {
		e.logger().Warn("distribution: event not recorded", "job_id", jobID, "error", err)
	}
	var msgs []notify.Message
	for _, s := range plan.Slots {
		if n := perWorker[s.WorkerID]; n > 0 {
			msgs = append(msgs, batchAssignedMessage(workers[s.WorkerID], jobID, n))
		}
	}
	e.send(msgs...)
	e.logger().Info("distribution completed", "job_id", jobID, "assigned", result.Assigned,
		"failed", len(result.Failed), "overflows", plan.Overflows, "fingerprint", plan.Fingerprint)
	return result, nil
}

// distributableItems resolves the items to place. Explicit ids that are
// already assigned or completed are returned as skipped.
func (e Engine) distributableItems(ctx context.Context, jobID string, itemIDs []string) ([]string, []ItemFailure, error) {
	skipped := []ItemFailure{}
	if len(itemIDs) == 0 {
		items, err := e.Repo.ListItems(ctx, repo.ItemFilters{JobID: jobID, Unassigned: true, NonTerminal: true})
		if err != nil {
			return nil, nil, dependency("list items", err)
		}
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		return ids, skipped, nil
	}

	seen := map[string]bool{}
	var ids []string
	for _, id := range itemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		it, err := e.Repo.GetItem(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, &NotFoundError{Kind: "item", ID: id}
		}
		if err != nil {
			return nil, nil, dependency("load item", err)
		}
		switch {
		case it.JobID != jobID:
			return nil, nil, &ValidationError{Field: "item_ids", Reason: "item " + id + " belongs to job " + it.JobID}
		case domain.IsTerminal(it.Status):
			skipped = append(skipped, failure(id, it.Worker(), &InvalidStateError{Kind: "item", ID: id, Status: it.Status, Reason: "already completed"}))
		case it.WorkerID != nil:
			skipped = append(skipped, failure(id, it.Worker(), &InvalidStateError{Kind: "item", ID: id, Status: it.Status, Reason: "already assigned"}))
		default:
			ids = append(ids, id)
		}
	}
	return ids, skipped, nil
}

func (e Engine) recordDistribution(ctx context.Context, res DistributionResult, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.appendEvent(ctx, tx, events.DistributionCompleted, res.JobID, events.KindJob, res.JobID, actorID, events.Payload{
		"assigned":    res.Assigned,
		"failed":      len(res.Failed),
		"overflows":   res.Plan.Overflows,
		"fingerprint": res.Plan.Fingerprint,
	}); err != nil {
		return err
	}
	return commit(tx)
}
