// Package app opens a workspace and wires the engine with its collaborators.
// The CLI and the HTTP server both start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"examline/internal/config"
	"examline/internal/db"
	"examline/internal/engine"
	"examline/internal/logging"
	"examline/internal/metrics"
	"examline/internal/migrate"
	"examline/internal/notify"
	"examline/internal/scheduler"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// Config overrides the workspace examline.yml when set.
	Config *config.Config
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

type App struct {
	Workspace  string
	Config     *config.Config
	DB         *sql.DB
	Engine     engine.Engine
	Log        *slog.Logger
	Registry   *prometheus.Registry
	Dispatcher *notify.Dispatcher
}

// Open loads config, opens and migrates the database and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	log, err := logging.New(out, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Workspace: opts.Workspace, Config: cfg, DB: conn, Log: log}
	var collector metrics.Collector = metrics.NewNop()
	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		collector = metrics.NewPrometheus(a.Registry, cfg.Metrics.Namespace)
	}

	e := engine.New(conn, cfg)
	e.Log = log
	e.Metrics = collector
	sender, err := newSender(cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if sender != nil {
		n := cfg.Notifications
		a.Dispatcher = notify.NewDispatcher(sender, n.QueueSize, time.Duration(n.TimeoutSeconds)*time.Second, log, collector)
		e.Notifier = a.Dispatcher
	}
	a.Engine = e
	return a, nil
}

func newSender(cfg *config.Config, log *slog.Logger) (notify.Sender, error) {
	n := cfg.Notifications
	switch n.Sender {
	case config.SenderNone, "":
		return nil, nil
	case config.SenderLog:
		return notify.LogSender{Log: log}, nil
	case config.SenderWebhook:
		return notify.NewWebhookSender(n.Webhook.URL, n.Webhook.Secret, time.Duration(n.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown notification sender %q", n.Sender)
	}
}

// MetricsHandler serves the app registry, or nil when metrics are disabled.
func (a *App) MetricsHandler() http.Handler {
	if a.Registry == nil {
		return nil
	}
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
}

// Scheduler returns a runner for the periodic sweep and stats refresh.
func (a *App) Scheduler() *scheduler.Runner {
	s := a.Config.Scheduler
	return scheduler.NewRunner(a.Log,
		scheduler.Task{
			Name:     "idle-sweep",
			Interval: s.SweepInterval.Std(),
			Run: func(ctx context.Context) error {
				report, err := a.Engine.SweepIdle(ctx, 0, 0)
				if err != nil {
					return err
				}
				if len(report.Errors) > 0 {
					return fmt.Errorf("sweep finished with %d item errors", len(report.Errors))
				}
				return nil
			},
		},
		scheduler.Task{
			Name:       "stats-refresh-all",
			Interval:   s.RefreshInterval.Std(),
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				report, err := a.Engine.RefreshAllStats(ctx, "scheduler")
				if err != nil {
					return err
				}
				if len(report.Errors) > 0 {
					return fmt.Errorf("refresh finished with %d worker errors", len(report.Errors))
				}
				return nil
			},
		},
	)
}

// Close drains pending notifications and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
