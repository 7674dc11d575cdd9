// ABOUTME: CLI command running the full sequence in one invocation.
// ABOUTME: Schema phases, normalize, checks, optional seed, then verify.
package main

import (
	"errors"
	"fmt"

	"github.com/harperreed/profilectl/internal/migrate"
	"github.com/harperreed/profilectl/internal/normalize"
	"github.com/harperreed/profilectl/internal/seed"
	"github.com/spf13/cobra"
)

var (
	allSeed bool
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Migrate, normalize, add checks, optionally seed, and verify",
	Long: `Run the whole sequence:

  1. schema phases (add_column, set_default_where_null, create_index)
  2. normalize
  3. add_check steps, which assume normalized data
  4. seed, only with --seed
  5. verify

A run aborted by rejected credentials stops at once. A normalize failure
skips the checks and seed but still verifies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		printHeader(out, "all")
		incomplete := false

		exec := migrate.New(client, migrate.WithLogger(logger), migrate.WithRunID(runID))
		schema, err := exec.Run(ctx, activePlan.Schema())
		fmt.Fprintln(out, bold.Sprint("schema"))
		printMigration(out, schema)
		if err != nil {
			if errors.Is(err, migrate.ErrAborted) {
				return errIncomplete
			}
			return err
		}
		incomplete = incomplete || !schema.OK()

		fmt.Fprintln(out, bold.Sprint("normalize"))
		stats, err := normalize.New(client, activePlan.Normalize,
			normalize.WithPageSize(cfg.PageSize),
			normalize.WithLogger(logger),
		).Run(ctx)
		normalized := err == nil
		if err != nil {
			incomplete = true
			fmt.Fprintf(out, "%s %s\n", red.Sprint("✗"), red.Sprint(err))
		} else {
			printStats(out, stats, false)
		}

		if normalized {
			fmt.Fprintln(out, bold.Sprint("checks"))
			checks, err := exec.Run(ctx, activePlan.Checks())
			printMigration(out, checks)
			if err != nil {
				return errIncomplete
			}
			incomplete = incomplete || !checks.OK()

			if allSeed {
				fmt.Fprintln(out, bold.Sprint("seed"))
				seeded, err := seed.New(client, logger).Run(ctx, seed.Catalog)
				printSeeded(out, seeded)
				if err != nil {
					incomplete = true
					fmt.Fprintf(out, "%s %s\n", red.Sprint("✗"), red.Sprint(err))
				}
			}
		}

		fmt.Fprintln(out, bold.Sprint("verify"))
		report, err := runVerify(ctx)
		if err != nil {
			return err
		}
		printVerify(out, report)
		if incomplete || !report.OK() {
			return errIncomplete
		}
		return nil
	},
}

func init() {
	allCmd.Flags().BoolVar(&allSeed, "seed", false, "insert demonstration athletes before verifying")
	rootCmd.AddCommand(allCmd)
}
