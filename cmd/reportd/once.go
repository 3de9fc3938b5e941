package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/reportkit/reportkit/internal/job"
	"github.com/reportkit/reportkit/internal/store"
)

var (
	onceJob  string
	onceJSON bool
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one job immediately and print its result",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	onceCmd.Flags().StringVar(&onceJob, "job", "", "job ID")
	onceCmd.Flags().BoolVar(&onceJSON, "json", false, "print the run as JSON")
	onceCmd.MarkFlagRequired("job") //nolint:errcheck
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := jobOrErr(cfg, onceJob)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.EffectiveDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	run := job.NewRunner(db, nil).Run(ctx, j)

	out := cmd.OutOrStdout()
	if onceJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else {
		printRun(out, run)
	}

	if run.State == job.StateFailed {
		return fmt.Errorf("job %s failed: %s", run.JobID, run.Error)
	}
	return nil
}

func printRun(w io.Writer, run job.Run) {
	t := newTable(w)
	t.SetTitle("%s  %s  (%s)", run.JobID, run.State, run.Duration().Round(time.Millisecond))
	t.AppendHeader(table.Row{"Fetched", "Outliers", "Attempted", "Inserted", "Skipped", "Deduplicated", "Failed"})
	res := run.Result
	t.AppendRow(table.Row{run.Fetched, run.Outliers, res.Attempted, res.Inserted, res.Skipped, res.Deduplicated, res.Failed})
	t.Render()

	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
