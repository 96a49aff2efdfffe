package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examline/internal/db"
	"examline/internal/events"
	"examline/internal/migrate"
)

func TestAppendDefaultsActorAndPayload(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := events.Writer{Now: func() time.Time { return fixed }}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	first, err := w.Append(ctx, tx, events.Record{Type: events.SweepCompleted, EntityKind: events.KindSweep})
	require.NoError(t, err)
	second, err := w.Append(ctx, tx, events.Record{
		Type:       events.ItemWarned,
		JobID:      "job-1",
		EntityKind: events.KindItem,
		EntityID:   "item-1",
		ActorID:    "alice",
		Payload:    events.Payload{"idle_hours": 30},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Greater(t, second, first)

	var ts, actor, payload string
	var jobID, entityID *string
	err = conn.QueryRow(`SELECT ts, actor_id, payload_json, job_id, entity_id FROM events WHERE id=?`, first).
		Scan(&ts, &actor, &payload, &jobID, &entityID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T09:00:00Z", ts)
	assert.Equal(t, events.SystemActor, actor)
	assert.Equal(t, "{}", payload)
	assert.Nil(t, jobID)
	assert.Nil(t, entityID)

	err = conn.QueryRow(`SELECT actor_id, payload_json FROM events WHERE id=?`, second).Scan(&actor, &payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", actor)
	assert.JSONEq(t, `{"idle_hours":30}`, payload)
}

func TestAppendRejectsIncompleteRecord(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = events.Writer{}.Append(ctx, tx, events.Record{Type: events.JobCreated})
	assert.Error(t, err)
}
