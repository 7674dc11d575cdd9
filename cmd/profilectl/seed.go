// ABOUTME: CLI command for inserting demonstration athletes.
// ABOUTME: Always inserts new rows, so it requires --yes.
package main

import (
	"errors"
	"fmt"

	"github.com/harperreed/profilectl/internal/seed"
	"github.com/spf13/cobra"
)

var (
	seedYes bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demonstration athletes",
	Long: `Insert three public demonstration athletes with hybrid scores 91.2, 87.5
and 85.8. Each run mints new identifiers and adds another copy; existing
rows are never updated. Personal fields go to user_profiles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !seedYes {
			return errors.New("seed inserts new rows on every run; pass --yes to continue")
		}
		out := cmd.OutOrStdout()
		printHeader(out, "seed")
		seeded, err := seed.New(client, logger).Run(cmd.Context(), seed.Catalog)
		printSeeded(out, seeded)
		if err != nil {
			fmt.Fprintf(out, "%s %s\n", red.Sprint("✗"), red.Sprint(err))
			return errIncomplete
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedYes, "yes", false, "confirm inserting demonstration rows")
	rootCmd.AddCommand(seedCmd)
}
