// ABOUTME: CLI command for applying the schema plan.
// ABOUTME: Prints a per-step report and the SQL of any pending steps.
package main

import (
	"errors"

	"github.com/harperreed/profilectl/internal/migrate"
	"github.com/spf13/cobra"
)

var (
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema plan",
	Long: `Apply the plan's operations in phase order: add_column, then
set_default_where_null, then create_index, then add_check.

Every step is probe-guarded and idempotent, so rerunning is always safe.
Steps that cannot be applied automatically are reported as pending with the
exact SQL to run by hand.

USAGE:

  profilectl migrate --dry-run   # Report what would change
  profilectl migrate             # Apply

Exits 1 when a step failed or is pending. A dry run exits 1 only on failures.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := migrate.New(client,
			migrate.WithLogger(logger),
			migrate.WithRunID(runID),
			migrate.WithDryRun(migrateDryRun),
		).Run(cmd.Context(), activePlan.Ordered())

		out := cmd.OutOrStdout()
		printHeader(out, "migrate")
		printMigration(out, report)
		if err != nil && !errors.Is(err, migrate.ErrAborted) {
			return err
		}
		return migrationExit(report, err)
	},
}

// migrationExit maps a report to the command's error.
func migrationExit(report *migrate.Report, runErr error) error {
	if runErr != nil || report.HasFailures() {
		return errIncomplete
	}
	if !report.DryRun && !report.OK() {
		return errIncomplete
	}
	return nil
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report what would change without writing")
	rootCmd.AddCommand(migrateCmd)
}
