package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"examline/internal/app"
	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/repo"
)

func distributeCmd() *cobra.Command {
	var jobID string
	var itemIDs []string
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Hand a job's unassigned copies to its examiners",
		Long:  "Examiners are taken in score order; each receives copies up to a capacity derived from score and current load. When every capacity is used up the rest go round-robin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.PlanDistribution(ctx, jobID, itemIDs, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(fmt.Sprintf("Job %s: %d assigned, plan %s", res.JobID, res.Assigned, res.Plan.Fingerprint))
				tw.AppendHeader(table.Row{"Worker", "Score", "Workload", "Capacity", "Allocated"})
				for _, s := range res.Plan.Slots {
					tw.AppendRow(table.Row{s.WorkerID, fmt.Sprintf("%.1f", s.Score), s.Workload, s.Capacity, s.Allocated})
				}
				if res.Plan.Overflows > 0 {
					tw.AppendFooter(table.Row{"overflow", "", "", "", res.Plan.Overflows})
				}
				tw.Render()
				printFailures(res.Failed)
				if len(res.Skipped) > 0 {
					fmt.Printf("skipped %d item(s) already assigned or graded\n", len(res.Skipped))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringSliceVar(&itemIDs, "item", nil, "only these item ids (repeatable)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func reallocateCmd() *cobra.Command {
	var to, reason string
	cmd := &cobra.Command{
		Use:   "reallocate <item-id>",
		Short: "Move a copy to another examiner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Reallocate(ctx, args[0], to, reason, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Unchanged {
					fmt.Printf("%s already with %s; assignment clock restarted\n", res.ItemID, res.ToWorkerID)
					return nil
				}
				fmt.Printf("%s: %s -> %s (%s, move #%d)\n", res.ItemID, orNone(res.FromWorkerID), res.ToWorkerID, res.Reason, res.ReassignmentCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target worker id")
	cmd.Flags().StringVar(&reason, "reason", "manual", "manual or automatic")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func sweepCmd() *cobra.Command {
	var idle, warn float64
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remind examiners about idle copies and reclaim stale ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.SweepIdle(ctx, idle, warn)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printSweep(report)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&idle, "idle-hours", 0, "reallocate after this many hours (default from config)")
	cmd.Flags().Float64Var(&warn, "warning-hours", 0, "remind after this many hours (default from config)")
	return cmd
}

func printSweep(r engine.SweepReport) {
	fmt.Printf("scanned %d, warned %d, reallocated %d (warn %.0fh, idle %.0fh)\n",
		r.Scanned, len(r.Warned), len(r.Reallocated), r.WarningThresholdHours, r.IdleThresholdHours)
	if len(r.Warned) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetTitle("Reminded")
		tw.AppendHeader(table.Row{"Item", "Job", "Worker", "Idle h"})
		for _, w := range r.Warned {
			tw.AppendRow(table.Row{w.ItemID, w.JobID, w.WorkerID, fmt.Sprintf("%.1f", w.IdleHours)})
		}
		tw.Render()
	}
	if len(r.Reallocated) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetTitle("Reallocated")
		tw.AppendHeader(table.Row{"Item", "Job", "From", "To"})
		for _, m := range r.Reallocated {
			tw.AppendRow(table.Row{m.ItemID, m.JobID, m.FromWorkerID, m.ToWorkerID})
		}
		tw.Render()
	}
	printFailures(r.Errors)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Read the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var (
		f      repo.EventFilters
		follow bool
		every  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if err := printEvents(evts); err != nil || !follow {
					return err
				}
				last, err := a.Engine.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if every <= 0 {
					every = time.Second
				}
				tick := time.NewTicker(every)
				defer tick.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-tick.C:
					}
					next := f
					next.After, next.Before = last, 0
					evts, err := a.Engine.ListEvents(ctx, next)
					if err != nil {
						return err
					}
					if len(evts) == 0 {
						continue
					}
					last = evts[len(evts)-1].ID
					if err := printEvents(evts); err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.JobID, "job", "", "job filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events until interrupted")
	cmd.Flags().DurationVar(&every, "interval", time.Second, "poll interval with --follow")
	return cmd
}

func printEvents(evts []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(evts)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Job", "Entity", "Actor", "Payload"})
	for _, e := range evts {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.JobID, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
	}
	tw.Render()
	return nil
}
