// Package scheduler runs periodic engine tasks on fixed intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// RunAtStart fires the task once before the first tick.
	RunAtStart bool
}

// Runner drives a set of tasks, each on its own ticker. A task never
// overlaps itself: a tick that arrives while the previous run is still in
// progress is skipped.
type Runner struct {
	tasks []Task
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewRunner(log *slog.Logger, tasks ...Task) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{tasks: tasks, log: log}
}

// Start launches every task and returns immediately. Tasks stop when ctx is
// cancelled; Wait blocks until they have.
func (r *Runner) Start(ctx context.Context) {
	for _, t := range r.tasks {
		if t.Interval <= 0 || t.Run == nil {
			r.log.Warn("scheduler: task skipped", "task", t.Name, "interval", t.Interval)
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()
	var running atomic.Bool
	var inflight sync.WaitGroup
	defer inflight.Wait()

	fire := func() {
		if !running.CompareAndSwap(false, true) {
			r.log.Warn("scheduler: previous run still active, skipping tick", "task", t.Name)
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer running.Store(false)
			start := time.Now()
			if err := t.Run(ctx); err != nil {
				r.log.Error("scheduler: task failed", "task", t.Name, "error", err)
				return
			}
			r.log.Debug("scheduler: task done", "task", t.Name, "took", time.Since(start))
		}()
	}

	if t.RunAtStart {
		fire()
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}
