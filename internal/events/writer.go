// Package events records the audit trail of engine mutations. Events are
// written in the same transaction as the change they describe.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	JobCreated       = "job.created"
	JobClosed        = "job.closed"
	JobWorkerAdded   = "job.worker.added"
	JobWorkerRemoved = "job.worker.removed"

	WorkerCreated        = "worker.created"
	WorkerActivated      = "worker.activated"
	WorkerDeactivated    = "worker.deactivated"
	WorkerStatsRefreshed = "worker.stats.refreshed"

	ItemsSubmitted          = "items.submitted"
	ItemAssigned            = "item.assigned"
	ItemReallocated         = "item.reallocated"
	ItemAssignmentRefreshed = "item.assignment.refreshed"
	ItemWarned              = "item.warned"
	ItemStarted             = "item.started"
	ItemCompleted           = "item.completed"
	ItemReopened            = "item.reopened"

	DistributionCompleted = "distribution.completed"
	SweepCompleted        = "sweep.completed"
)

// Entity kinds.
const (
	KindJob    = "job"
	KindWorker = "worker"
	KindItem   = "item"
	KindSweep  = "sweep"
)

// SystemActor is recorded when no caller identity is known.
const SystemActor = "system"

type Payload map[string]any

// Record is one event to append.
type Record struct {
	Type       string
	JobID      string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

type Writer struct {
	Now func() time.Time
}

// Append inserts rec using tx and returns the new event id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) (int64, error) {
	if rec.Type == "" || rec.EntityKind == "" {
		return 0, errors.New("event type and entity kind are required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if rec.Payload == nil {
		rec.Payload = Payload{}
	}
	if rec.ActorID == "" {
		rec.ActorID = SystemActor
	}
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", rec.Type, err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullable(rec.JobID), rec.EntityKind, nullable(rec.EntityID), rec.ActorID, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
