package engine

import (
	"context"
	"fmt"

	"examline/internal/domain"
	"examline/internal/events"
)

func ensureItemTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusPending, domain.StatusReopened:
		if newStatus == domain.StatusInProgress || newStatus == domain.StatusCompleted {
			return nil
		}
	case domain.StatusInProgress:
		if newStatus == domain.StatusCompleted {
			return nil
		}
	case domain.StatusCompleted:
		if newStatus == domain.StatusReopened {
			return nil
		}
	}
	return fmt.Errorf("invalid item status transition %s -> %s", oldStatus, newStatus)
}

// StartItem marks an assigned item as being worked on by its worker.
func (e Engine) StartItem(ctx context.Context, itemID, workerID string) (domain.WorkItem, error) {
	return e.transition(ctx, itemID, workerID, domain.StatusInProgress)
}

// CompleteItem marks an item completed by its worker and releases it from
// the worker's workload.
func (e Engine) CompleteItem(ctx context.Context, itemID, workerID string) (domain.WorkItem, error) {
	return e.transition(ctx, itemID, workerID, domain.StatusCompleted)
}

// ReopenItem sends a completed item back to the worker who completed it.
func (e Engine) ReopenItem(ctx context.Context, itemID, actorID string) (domain.WorkItem, error) {
	it, err := e.Item(ctx, itemID)
	if err != nil {
		return it, err
	}
	if it.WorkerID == nil {
		return it, &InvalidStateError{Kind: "item", ID: it.ID, Status: it.Status, Reason: "item has no worker"}
	}
	return e.transitionAs(ctx, itemID, it.Worker(), domain.StatusReopened, actorID)
}

func (e Engine) transition(ctx context.Context, itemID, workerID, to string) (domain.WorkItem, error) {
	return e.transitionAs(ctx, itemID, workerID, to, workerID)
}

func (e Engine) transitionAs(ctx context.Context, itemID, workerID, to, actorID string) (domain.WorkItem, error) {
	if itemID == "" {
		return domain.WorkItem{}, &ValidationError{Field: "item_id", Reason: "required"}
	}
	if workerID == "" {
		return domain.WorkItem{}, &ValidationError{Field: "worker_id", Reason: "required"}
	}
	unlockItem := e.lockItem(itemID)
	defer unlockItem()
	unlockWorker := e.lockWorkers(workerID)
	defer unlockWorker()

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return it, notFound(err, "item", itemID)
	}
	if it.Worker() != workerID {
		return it, &InvalidStateError{Kind: "item", ID: it.ID, Status: it.Status, Reason: "not assigned to worker " + workerID}
	}
	if err := ensureItemTransition(it.Status, to); err != nil {
		return it, &InvalidStateError{Kind: "item", ID: it.ID, Status: it.Status, Reason: err.Error()}
	}

	now := e.now()
	ts := domain.FormatTime(now)
	var completedAt *string
	if to == domain.StatusCompleted {
		completedAt = &ts
	}
	if err := e.Repo.SetItemStatusIf(ctx, tx, it.ID, workerID, it.Status, to, completedAt, ts); err != nil {
		return it, conflict(err, it)
	}
	// A reopened item starts a new holding period for the same worker.
	if to == domain.StatusReopened {
		if err := e.Repo.RefreshAssignedAt(ctx, tx, it.ID, workerID, ts); err != nil {
			return it, conflict(err, it)
		}
		it.AssignedAt = &ts
		it.WarnedAt = nil
	}
	switch to {
	case domain.StatusCompleted:
		err = e.Repo.AdjustWorkload(ctx, tx, workerID, -1, ts)
	case domain.StatusReopened:
		err = e.Repo.AdjustWorkload(ctx, tx, workerID, 1, ts)
	}
	if err != nil {
		return it, notFound(err, "worker", workerID)
	}
	if to != domain.StatusReopened {
		if err := e.Repo.TouchWorkerActivity(ctx, tx, workerID, ts); err != nil {
			return it, notFound(err, "worker", workerID)
		}
	}
	w, err := e.refreshWorkerTx(ctx, tx, workerID)
	if err != nil {
		return it, err
	}
	from := it.Status
	it.Status = to
	it.CompletedAt = completedAt
	it.UpdatedAt = ts
	if err := e.appendEvent(ctx, tx, lifecycleEvent(to), it.JobID, events.KindItem, it.ID, actorID, events.Payload{
		"from":              from,
		"to":                to,
		"worker_id":         workerID,
		"performance_score": w.Stats.PerformanceScore,
	}); err != nil {
		return it, dependency("append event", err)
	}
	if err := commit(tx); err != nil {
		return it, err
	}
	return it, nil
}

func lifecycleEvent(status string) string {
	switch status {
	case domain.StatusInProgress:
		return events.ItemStarted
	case domain.StatusCompleted:
		return events.ItemCompleted
	case domain.StatusReopened:
		return events.ItemReopened
	}
	return "item." + status
}
