// ABOUTME: CLI command for read-only verification.
// ABOUTME: Checks columns, normalization invariants, the leaderboard query and the backend.
package main

import (
	"context"

	"github.com/harperreed/profilectl/internal/verify"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run read-only checks",
	Long: `Check that every planned column is selectable, that profile_json holds
no personal keys, that is_public is never null, that each owner has exactly
one user_profiles row, and that the leaderboard query joins both tables.

When REACT_APP_BACKEND_URL is set and reachable, its health, leaderboard,
athlete-profiles and public-profile endpoints are checked too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := runVerify(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printHeader(out, "verify")
		printVerify(out, report)
		if !report.OK() {
			return errIncomplete
		}
		return nil
	},
}

func runVerify(ctx context.Context) (*verify.Report, error) {
	opts := []verify.Option{verify.WithLogger(logger), verify.WithPageSize(cfg.PageSize)}
	if cfg.BackendURL != "" {
		opts = append(opts, verify.WithBackend(cfg.BackendURL, client.HTTPClient))
	}
	return verify.New(client, activePlan, opts...).Run(ctx)
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
