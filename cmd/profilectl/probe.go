// ABOUTME: CLI command for probing planned columns.
// ABOUTME: Reports present, missing and undetermined columns without writing.
package main

import (
	"fmt"
	"strings"

	"github.com/harperreed/profilectl/internal/probe"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe [table.column ...]",
	Short: "Report which columns are selectable",
	Long: `Probe columns through the REST surface with a narrow select.

With no arguments every column added by the plan is probed. Exits 1 when
any probed column is not present.

EXAMPLES:

  profilectl probe
  profilectl probe user_profiles.country athlete_profiles.is_public`,
	RunE: func(cmd *cobra.Command, args []string) error {
		type target struct{ table, column string }
		var targets []target
		if len(args) == 0 {
			cols := activePlan.Columns()
			for _, table := range activePlan.Tables() {
				for _, col := range cols[table] {
					targets = append(targets, target{table, col})
				}
			}
		}
		for _, arg := range args {
			table, column, ok := strings.Cut(arg, ".")
			if !ok || table == "" || column == "" {
				return fmt.Errorf("invalid column %q: want table.column", arg)
			}
			targets = append(targets, target{table, column})
		}

		results := make([]probe.Result, 0, len(targets))
		missing := 0
		for _, t := range targets {
			r := probe.Column(cmd.Context(), client, t.table, t.column)
			if !r.Exists() {
				missing++
			}
			results = append(results, r)
		}

		out := cmd.OutOrStdout()
		printHeader(out, "probe")
		printProbe(out, results)
		if missing > 0 {
			fmt.Fprintf(out, "%s\n", faint.Sprintf("%d of %d columns not present; run migrate", missing, len(results)))
			return errIncomplete
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
