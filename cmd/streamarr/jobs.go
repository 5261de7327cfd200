package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run maintenance jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List maintenance jobs and their schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE")
			for _, j := range a.scheduler.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", j.ID, j.Name, j.Schedule)
			}
			return w.Flush()
		})
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a maintenance job once and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.scheduler.RunNow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s finished\n", args[0])
			return nil
		})
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd)
}

// withApp loads config, builds the app without serving and runs fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.close(); err != nil {
		logger.Warn("close error", "error", err)
	}
	return runErr
}
