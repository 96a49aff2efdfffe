package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"examline/internal/app"
	"examline/internal/config"
	"examline/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "examline",
	Short: "Examline CLI",
	Long: `Examline hands out exam copies to examiners and keeps them moving.
- Job: one exam sitting; it owns a pool of examiners and the submitted copies.
- Worker: an examiner. Each carries stats (assigned, completed, reassigned away, average hours, workload) and a 0-100 performance score.
- Distribution: unassigned copies go to examiners in score order, each up to a capacity derived from score and current load.
- Sweep: copies held too long first earn the examiner a reminder, then move to the best other examiner.
- Event log: every change is recorded; read it with 'examline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("EXAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "local-user", "actor identifier recorded on events")
	pf.String("log-level", "", "log level (overrides config)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(distributeCmd())
	rootCmd.AddCommand(reallocateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads the workspace config and applies flag/env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Config: cfg})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

// printJSONOrTable prints v as JSON with --json, otherwise as a
// field/value table of its top-level JSON fields.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return printJSON(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		val := fields[k]
		switch val.(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(val)
			val = string(b)
		case nil:
			val = ""
		}
		tw.AppendRow(table.Row{k, val})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
