package app

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"examline/internal/config"
	"examline/internal/engine"
	"examline/internal/notify"
	"examline/internal/repo"
)

func TestOpenDefaults(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: t.TempDir(), LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	require.Equal(t, 24.0, a.Config.Engine.IdleThresholdHours)
	require.NotNil(t, a.Dispatcher, "default sender logs notifications")
	require.Same(t, a.Dispatcher, a.Engine.Notifier)
	require.NotNil(t, a.MetricsHandler())

	_, err = a.Engine.CreateJob(ctx, "exam", "Exam", "tester")
	require.NoError(t, err)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	yml := []byte("engine:\n  idle_threshold_hours: 48\n  warning_threshold_hours: 30\nnotifications:\n  sender: none\nmetrics:\n  enabled: false\n")
	require.NoError(t, os.WriteFile(config.Path(ws), yml, 0o644))

	a, err := Open(ctx, Options{Workspace: ws, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	require.Equal(t, 48.0, a.Config.Engine.IdleThresholdHours)
	require.Nil(t, a.Dispatcher)
	require.IsType(t, notify.Discard{}, a.Engine.Notifier)
	require.Nil(t, a.MetricsHandler())
}

func TestOpenRejectsInvalidOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.WarningThresholdHours = 30
	_, err := Open(context.Background(), Options{Workspace: t.TempDir(), Config: cfg, LogOutput: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestSchedulerRunsRefreshAtStart(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: t.TempDir(), LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	_, err = a.Engine.CreateWorker(ctx, engine.WorkerCreateOptions{ID: "ana", Name: "Ana"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	r := a.Scheduler()
	r.Start(runCtx)
	require.Eventually(t, func() bool {
		evts, err := a.Engine.ListEvents(ctx, repo.EventFilters{Type: "worker.stats.refreshed", EntityID: "ana"})
		return err == nil && len(evts) == 1 && evts[0].ActorID == "scheduler"
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	r.Wait()
}
