package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/reportkit/reportkit/internal/store"
)

var (
	tableJob    string
	tableUnique bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the jobs defined in the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"ID", "Schedule", "Source", "Table", "Key", "Outliers"})
		for _, j := range cfg.Jobs {
			outliers := "-"
			if j.Outlier != nil {
				outliers = fmt.Sprintf("%s > %.2f (%s)", j.Outlier.Column, j.Outlier.Threshold, j.Outlier.Action)
			}
			schedule := j.Schedule
			if schedule == "" {
				schedule = "on demand"
			}
			t.AppendRow(table.Row{j.ID, schedule, j.Source.Type, j.Table, j.KeyColumn, outliers})
		}
		t.Render()
		return nil
	},
}

var initTableCmd = &cobra.Command{
	Use:   "init-table",
	Short: "Create a job's target table if it does not exist",
	Long: `Create the target table of a job with one text column per output column.

With --unique the key column gets a UNIQUE constraint, which makes concurrent
reportd processes writing the same table safe: the losing insert fails
instead of duplicating the row.`,
	Args: cobra.NoArgs,
	RunE: runInitTable,
}

func init() {
	initTableCmd.Flags().StringVar(&tableJob, "job", "", "job ID")
	initTableCmd.Flags().BoolVar(&tableUnique, "unique", true, "add a UNIQUE constraint on the key column")
	initTableCmd.MarkFlagRequired("job") //nolint:errcheck
	rootCmd.AddCommand(jobsCmd, initTableCmd)
}

func runInitTable(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := jobOrErr(cfg, tableJob)
	if err != nil {
		return err
	}
	cols := j.Columns()
	if len(cols) == 0 {
		return fmt.Errorf("job %s: columns are only known at fetch time; list them under source.columns", j.ID)
	}

	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.EffectiveDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.EnsureTable(ctx, db, j.Table, cols, j.KeyColumn, tableUnique); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "table %s ready (%s)\n", j.Table, strings.Join(cols, ", "))
	return nil
}
