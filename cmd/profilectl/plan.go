// ABOUTME: CLI command for printing the plan as SQL.
// ABOUTME: Needs no credentials; useful for review or manual application.
package main

import (
	"fmt"

	"github.com/harperreed/profilectl/internal/plan"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the plan as SQL",
	Long: `Print every plan operation as SQL in execution order, followed by the
personal key mapping used by normalize. Does not contact the project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := plan.Script(activePlan.Ordered())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, script)

		n := activePlan.Normalize
		fmt.Fprintf(out, "-- normalize %s.profile_json -> %s\n", n.SourceTable, n.TargetTable)
		for _, key := range n.Keys() {
			col := n.PersonalKeys[key]
			if col == "" {
				col = "(discarded)"
			}
			fmt.Fprintf(out, "--   %s -> %s\n", key, col)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
