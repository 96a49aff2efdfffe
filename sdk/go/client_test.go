package examlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"examline/internal/config"
	"examline/internal/db"
	"examline/internal/engine"
	"examline/internal/migrate"
	"examline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	h, err := server.New(server.Config{Engine: engine.New(conn, config.Default()), BasePath: "/v1"})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/v1", "sdk-test")
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.CreateJob(ctx, "maths", "Maths paper 2")
	require.NoError(t, err)
	for _, id := range []string{"ana", "ben"} {
		_, err := c.CreateWorker(ctx, id, "Examiner "+id, id+"@school.test")
		require.NoError(t, err)
		require.NoError(t, c.AddWorker(ctx, "maths", id))
	}
	items, err := c.SubmitItems(ctx, "maths", []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	require.Len(t, items, 3)

	dist, err := c.Distribute(ctx, "maths")
	require.NoError(t, err)
	require.Equal(t, 3, dist.Assigned)
	require.Len(t, dist.Plan.Assignments, 3)

	it, err := c.Item(ctx, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, it.WorkerID)
	target := "ana"
	if *it.WorkerID == "ana" {
		target = "ben"
	}
	moved, err := c.Reallocate(ctx, it.ID, target, "")
	require.NoError(t, err)
	require.Equal(t, "manual", moved.Reason)
	require.Equal(t, target, moved.ToWorkerID)

	w, err := c.RefreshWorker(ctx, target)
	require.NoError(t, err)
	require.Greater(t, w.Stats.CurrentWorkload, 0)

	report, err := c.Sweep(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, report.Reallocated)

	evts, err := c.Events(ctx, 5)
	require.NoError(t, err)
	require.Len(t, evts, 5)
	require.Equal(t, "sweep.completed", evts[0].Type)
}

func TestClientAPIError(t *testing.T) {
	c := newClient(t)
	_, err := c.Worker(context.Background(), "ghost")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "not_found", apiErr.Code)
}
