package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"examline/internal/app"
	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/repo"
)

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage exam jobs and their examiner pools"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobCloseCmd())
	job.AddCommand(jobAddWorkerCmd())
	job.AddCommand(jobRemoveWorkerCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var id, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				j, err := a.Engine.CreateJob(ctx, id, title, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "job title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func jobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jobs, err := a.Engine.Repo.ListJobs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Created"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Title, j.Status, j.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				j, err := a.Engine.Job(ctx, args[0])
				if err != nil {
					return err
				}
				ws, err := a.Engine.ListWorkers(ctx, j.ID, false)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"job": j, "workers": ws})
				}
				fmt.Printf("%s  %s  [%s]\n", j.ID, j.Title, j.Status)
				printWorkers(ws)
				return nil
			})
		},
	}
}

func jobCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <job-id>",
		Short: "Close a job; no further items or distributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				j, err := a.Engine.CloseJob(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobAddWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-worker <job-id> <worker-id>...",
		Short: "Attach examiners to a job",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, w := range args[1:] {
					if err := a.Engine.AddWorkerToJob(ctx, args[0], w, actorID()); err != nil {
						return err
					}
				}
				fmt.Printf("added %d worker(s) to %s\n", len(args)-1, args[0])
				return nil
			})
		},
	}
}

func jobRemoveWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-worker <job-id> <worker-id>",
		Short: "Detach an examiner from a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RemoveWorkerFromJob(ctx, args[0], args[1], actorID()); err != nil {
					return err
				}
				fmt.Printf("removed %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Manage examiners and their stats"}
	w.AddCommand(workerCreateCmd())
	w.AddCommand(workerListCmd())
	w.AddCommand(workerShowCmd())
	w.AddCommand(workerActiveCmd("activate", true))
	w.AddCommand(workerActiveCmd("deactivate", false))
	w.AddCommand(workerRefreshCmd())
	w.AddCommand(workerRefreshAllCmd())
	return w
}

func workerCreateCmd() *cobra.Command {
	var opts engine.WorkerCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an examiner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.ActorID = actorID()
				w, err := a.Engine.CreateWorker(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "worker id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "notification address")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workerListCmd() *cobra.Command {
	var jobID string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List examiners with scores and workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ws, err := a.Engine.ListWorkers(ctx, jobID, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ws)
				}
				printWorkers(ws)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only workers in this job's pool")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active workers")
	return cmd
}

func workerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <worker-id>",
		Short: "Show an examiner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.Worker(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workerActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <worker-id>",
		Short: use + " an examiner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.SetWorkerActive(ctx, args[0], active, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workerRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <worker-id>",
		Short: "Recompute an examiner's stats and score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w, err := a.Engine.RefreshWorkerStats(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func workerRefreshAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-all",
		Short: "Recompute stats for every examiner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.RefreshAllStats(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("refreshed %d worker(s)\n", len(report.Refreshed))
				printFailures(report.Errors)
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Submit and grade exam copies"}
	it.AddCommand(itemSubmitCmd())
	it.AddCommand(itemListCmd())
	it.AddCommand(itemShowCmd())
	it.AddCommand(itemTransitionCmd("start", "Start grading a copy"))
	it.AddCommand(itemTransitionCmd("complete", "Mark a copy graded"))
	it.AddCommand(itemReopenCmd())
	return it
}

func itemSubmitCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "submit <submitter-id>...",
		Short: "Submit one copy per submitter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.SubmitItems(ctx, jobID, args, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printItems(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printItems(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.JobID, "job", "", "job filter")
	cmd.Flags().StringVar(&f.WorkerID, "worker", "", "worker filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only unassigned copies")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a copy and its assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.Item(ctx, args[0])
				if err != nil {
					return err
				}
				history, err := a.Engine.ItemHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item": it, "history": history})
				}
				printItems([]domain.WorkItem{it})
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Worker", "Reason", "Assigned", "Released"})
				for _, h := range history {
					tw.AppendRow(table.Row{h.WorkerID, h.Reason, h.AssignedAt, deref(h.ReleasedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func itemTransitionCmd(verb, short string) *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   verb + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var it domain.WorkItem
				var err error
				if verb == "start" {
					it, err = a.Engine.StartItem(ctx, args[0], workerID)
				} else {
					it, err = a.Engine.CompleteItem(ctx, args[0], workerID)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "assigned worker id")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func itemReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <item-id>",
		Short: "Send a graded copy back to its examiner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.ReopenItem(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func printWorkers(ws []domain.Worker) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Active", "Score", "Workload", "Assigned", "Completed", "Reassigned", "Avg h"})
	for _, w := range ws {
		avg := "-"
		if w.Stats.AverageCompletionHours != nil {
			avg = fmt.Sprintf("%.1f", *w.Stats.AverageCompletionHours)
		}
		tw.AppendRow(table.Row{
			w.ID, w.Name, w.IsActive, fmt.Sprintf("%.1f", w.Stats.PerformanceScore), w.Stats.CurrentWorkload,
			w.Stats.TotalAssigned, w.Stats.TotalCompleted, w.Stats.TotalReassignedAway, avg,
		})
	}
	tw.Render()
}

func printItems(items []domain.WorkItem) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Job", "Submitter", "Worker", "Status", "Assigned", "Moves"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.JobID, it.SubmitterID, it.Worker(), it.Status, deref(it.AssignedAt), it.ReassignmentCount})
	}
	tw.Render()
}

func printFailures(fs []engine.ItemFailure) {
	if len(fs) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Failures")
	tw.AppendHeader(table.Row{"Item", "Worker", "Error"})
	for _, f := range fs {
		tw.AppendRow(table.Row{f.ItemID, f.WorkerID, f.Error})
	}
	tw.Render()
}
