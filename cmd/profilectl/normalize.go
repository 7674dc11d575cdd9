// ABOUTME: CLI command for moving personal keys out of profile_json.
// ABOUTME: Pages serially through athlete_profiles; safe to rerun after a partial run.
package main

import (
	"fmt"

	"github.com/harperreed/profilectl/internal/normalize"
	"github.com/spf13/cobra"
)

var (
	normalizeDryRun     bool
	normalizePageSize   int
	normalizeNoBackfill bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Move personal keys into user_profiles",
	Long: `Remove first_name, last_name, email, sex and age from
athlete_profiles.profile_json, writing them to user_profiles where the
profile's field is still empty. Existing profile values are never
overwritten. The plan's personal_keys section maps each key to its column.

Also backfills athlete_profiles.user_profile_id unless --no-backfill is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pageSize := normalizePageSize
		if pageSize <= 0 {
			pageSize = cfg.PageSize
		}
		opts := []normalize.Option{
			normalize.WithPageSize(pageSize),
			normalize.WithDryRun(normalizeDryRun),
			normalize.WithLogger(logger),
		}
		if normalizeNoBackfill {
			opts = append(opts, normalize.WithBackfill(false))
		}

		stats, err := normalize.New(client, activePlan.Normalize, opts...).Run(cmd.Context())
		out := cmd.OutOrStdout()
		printHeader(out, "normalize")
		if err != nil {
			fmt.Fprintf(out, "%s %s\n", red.Sprint("✗"), red.Sprint(err))
			fmt.Fprintf(out, "%s\n", faint.Sprintf("progress before the failure: %s; rerun to resume", stats))
			return errIncomplete
		}
		printStats(out, stats, normalizeDryRun)
		return nil
	},
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeDryRun, "dry-run", false, "count changes without writing")
	normalizeCmd.Flags().IntVar(&normalizePageSize, "page-size", 0, "rows per page (default PROFILECTL_PAGE_SIZE)")
	normalizeCmd.Flags().BoolVar(&normalizeNoBackfill, "no-backfill", false, "do not set athlete_profiles.user_profile_id")
	rootCmd.AddCommand(normalizeCmd)
}
