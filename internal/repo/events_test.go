package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examline/internal/db"
	"examline/internal/events"
	"examline/internal/migrate"
	"examline/internal/repo"
)

func seedEvents(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	for _, rec := range []events.Record{
		{Type: events.JobCreated, JobID: "J1", EntityKind: events.KindJob, EntityID: "J1"},
		{Type: events.ItemAssigned, JobID: "J1", EntityKind: events.KindItem, EntityID: "i1"},
		{Type: events.ItemAssigned, JobID: "J2", EntityKind: events.KindItem, EntityID: "i2"},
		{Type: events.ItemWarned, JobID: "J1", EntityKind: events.KindItem, EntityID: "i1"},
		{Type: events.SweepCompleted, EntityKind: events.KindSweep},
	} {
		_, err := events.Writer{}.Append(ctx, tx, rec)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	return repo.Repo{DB: conn}
}

func TestListEventsFilters(t *testing.T) {
	r := seedEvents(t)
	ctx := context.Background()

	all, err := r.ListEvents(ctx, repo.EventFilters{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, events.SweepCompleted, all[0].Type)
	assert.Empty(t, all[0].JobID)

	j1, err := r.ListEvents(ctx, repo.EventFilters{JobID: "J1", EntityID: "i1"})
	require.NoError(t, err)
	require.Len(t, j1, 2)
	assert.Equal(t, events.ItemWarned, j1[0].Type)

	assigned, err := r.ListEvents(ctx, repo.EventFilters{Type: events.ItemAssigned, EntityKind: events.KindItem})
	require.NoError(t, err)
	assert.Len(t, assigned, 2)
}

func TestListEventsPaging(t *testing.T) {
	r := seedEvents(t)
	ctx := context.Background()

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)

	older, err := r.ListEvents(ctx, repo.EventFilters{Before: latest, Limit: 2})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, latest-1, older[0].ID)
	assert.Equal(t, latest-2, older[1].ID)

	newer, err := r.ListEvents(ctx, repo.EventFilters{After: latest - 2})
	require.NoError(t, err)
	require.Len(t, newer, 2)
	assert.Equal(t, latest-1, newer[0].ID)
	assert.Equal(t, latest, newer[1].ID)
}
