package engine

import (
	"context"
	"errors"
	"fmt"

	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/notify"
	"examline/internal/repo"
)

// ReallocationResult describes one applied assignment. Unchanged is set when
// the item already belonged to the target worker and only its assignment
// clock was restarted.
type ReallocationResult struct {
	ItemID            string `json:"item_id"`
	JobID             string `json:"job_id"`
	FromWorkerID      string `json:"from_worker_id,omitempty"`
	ToWorkerID        string `json:"to_worker_id"`
	Reason            string `json:"reason"`
	AssignedAt        string `json:"assigned_at"`
	ReassignmentCount int    `json:"reassignment_count"`
	Unchanged         bool   `json:"unchanged,omitempty"`
}

// Reallocate moves an item to workerID. reason is manual or automatic.
func (e Engine) Reallocate(ctx context.Context, itemID, workerID, reason, actorID string) (ReallocationResult, error) {
	if itemID == "" {
		return ReallocationResult{}, &ValidationError{Field: "item_id", Reason: "required"}
	}
	if workerID == "" {
		return ReallocationResult{}, &ValidationError{Field: "worker_id", Reason: "required"}
	}
	if reason == "" {
		reason = domain.ReasonManual
	}
	if reason != domain.ReasonManual && reason != domain.ReasonAutomatic {
		return ReallocationResult{}, &ValidationError{Field: "reason", Reason: "must be manual or automatic"}
	}
	res, msgs, err := e.assign(ctx, itemID, workerID, reason, actorID, nil)
	if err != nil {
		return res, err
	}
	e.send(msgs...)
	return res, nil
}

// assign is the single mutation point for item ownership. It runs in one
// transaction guarded by a conditional update on the item's current owner,
// and returns the notifications to send once committed. When seen is set the
// item must still carry the owner and assignment time it had when read.
func (e Engine) assign(ctx context.Context, itemID, toWorker, reason, actorID string, seen *domain.WorkItem) (ReallocationResult, []notify.Message, error) {
	unlockItem := e.lockItem(itemID)
	defer unlockItem()

	current, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return ReallocationResult{}, nil, notFound(err, "item", itemID)
	}
	unlockWorkers := e.lockWorkers(current.Worker(), toWorker)
	defer unlockWorkers()

	tx, err := e.begin(ctx)
	if err != nil {
		return ReallocationResult{}, nil, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return ReallocationResult{}, nil, notFound(err, "item", itemID)
	}
	if item.Worker() != current.Worker() || (seen != nil && !sameAssignment(item, *seen)) {
		return ReallocationResult{}, nil, &InvalidStateError{Kind: "item", ID: itemID, Status: item.Status, Reason: "concurrent update"}
	}
	if domain.IsTerminal(item.Status) {
		return ReallocationResult{}, nil, &InvalidStateError{Kind: "item", ID: itemID, Status: item.Status, Reason: "cannot reassign a completed item"}
	}
	target, err := e.Repo.GetWorkerTx(ctx, tx, toWorker)
	if err != nil {
		return ReallocationResult{}, nil, notFound(err, "worker", toWorker)
	}
	eligible, err := e.Repo.IsEligible(ctx, tx, item.JobID, toWorker)
	if err != nil {
		return ReallocationResult{}, nil, dependency("check eligibility", err)
	}
	if !eligible {
		return ReallocationResult{}, nil, &ValidationError{Field: "worker_id", Reason: fmt.Sprintf("worker %s is inactive or not in job %s", toWorker, item.JobID)}
	}

	ts := domain.FormatTime(e.now())
	from := item.Worker()
	res := ReallocationResult{
		ItemID:            item.ID,
		JobID:             item.JobID,
		FromWorkerID:      from,
		ToWorkerID:        toWorker,
		Reason:            reason,
		AssignedAt:        ts,
		ReassignmentCount: item.ReassignmentCount,
	}

	if from == toWorker {
		if err := e.Repo.RefreshAssignedAt(ctx, tx, item.ID, toWorker, ts); err != nil {
			return res, nil, conflict(err, item)
		}
		if err := e.appendEvent(ctx, tx, events.ItemAssignmentRefreshed, item.JobID, events.KindItem, item.ID, actorID, events.Payload{
			"worker_id": toWorker, "reason": reason,
		}); err != nil {
			return res, nil, dependency("append event", err)
		}
		if err := commit(tx); err != nil {
			return res, nil, err
		}
		res.Unchanged = true
		res.FromWorkerID = ""
		return res, nil, nil
	}

	reassigned := from != ""
	if err := e.Repo.AssignItemIf(ctx, tx, item.ID, from, toWorker, domain.StatusPending, ts, reassigned); err != nil {
		return res, nil, conflict(err, item)
	}
	if reassigned {
		res.ReassignmentCount++
	}
	if err := e.Repo.ReleaseAssignment(ctx, tx, item.ID, ts); err != nil {
		return res, nil, dependency("release assignment", err)
	}
	if err := e.Repo.InsertAssignment(ctx, tx, domain.Assignment{ItemID: item.ID, WorkerID: toWorker, Reason: reason, AssignedAt: ts}); err != nil {
		return res, nil, dependency("record assignment", err)
	}

	var previous domain.Worker
	if reassigned {
		if err := e.Repo.AdjustWorkload(ctx, tx, from, -1, ts); err != nil {
			return res, nil, notFound(err, "worker", from)
		}
		if reason == domain.ReasonAutomatic {
			if err := e.Repo.IncrementReassignedAway(ctx, tx, from, ts); err != nil {
				return res, nil, notFound(err, "worker", from)
			}
		}
		if previous, err = e.refreshWorkerTx(ctx, tx, from); err != nil {
			return res, nil, err
		}
	}
	if err := e.Repo.AdjustWorkload(ctx, tx, toWorker, 1, ts); err != nil {
		return res, nil, notFound(err, "worker", toWorker)
	}
	if target, err = e.refreshWorkerTx(ctx, tx, toWorker); err != nil {
		return res, nil, err
	}

	evtType := events.ItemAssigned
	if reassigned {
		evtType = events.ItemReallocated
	}
	if err := e.appendEvent(ctx, tx, evtType, item.JobID, events.KindItem, item.ID, actorID, events.Payload{
		"from_worker_id":     from,
		"to_worker_id":       toWorker,
		"reason":             reason,
		"reassignment_count": res.ReassignmentCount,
	}); err != nil {
		return res, nil, dependency("append event", err)
	}
	if err := commit(tx); err != nil {
		return res, nil, err
	}
	e.collector().Reallocated(reason)

	var msgs []notify.Message
	if reassigned {
		msgs = append(msgs, reassignedAwayMessage(previous, item, reason))
	}
	msgs = append(msgs, assignedMessage(target, item))
	return res, msgs, nil
}

// conflict maps a missed conditional update to an InvalidStateError.
func conflict(err error, item domain.WorkItem) error {
	if errors.Is(err, repo.ErrConflict) {
		return &InvalidStateError{Kind: "item", ID: item.ID, Status: item.Status, Reason: "concurrent update"}
	}
	return dependency("update item", err)
}

func sameAssignment(a, b domain.WorkItem) bool {
	if a.Worker() != b.Worker() {
		return false
	}
	if a.AssignedAt == nil || b.AssignedAt == nil {
		return a.AssignedAt == nil && b.AssignedAt == nil
	}
	return *a.AssignedAt == *b.AssignedAt
}
