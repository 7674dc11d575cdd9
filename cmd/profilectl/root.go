// ABOUTME: Root Cobra command for the profilectl CLI.
// ABOUTME: Loads plan, config and the REST client once per run in PersistentPreRunE.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/harperreed/profilectl/internal/config"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/rest"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

// errIncomplete signals a run that printed its own report but had failed
// or pending steps.
var errIncomplete = errors.New("run incomplete")

var (
	planPath string
	verbose  bool

	cfg        *config.Config
	client     *rest.Client
	activePlan *plan.Plan
	runID      string
	logger     *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "profilectl",
	Short: "Evolve and verify the athlete profile schema",
	Long: `Profilectl evolves the user_profiles and athlete_profiles tables of a hosted
Postgres project through its REST surface, moves personal data out of
athlete_profiles.profile_json, and verifies the result.

COMMANDS:

  probe      Report which planned columns are selectable
  migrate    Add columns, backfill defaults, create indexes and checks
  normalize  Move personal keys from profile_json into user_profiles
  seed       Insert demonstration athletes (requires --yes)
  verify     Run read-only checks, including the sibling backend
  all        migrate, normalize, checks, optional seed, then verify
  plan       Print the plan as SQL (no credentials needed)

ENVIRONMENT:

  SUPABASE_URL            Data surface base URL (required)
  SUPABASE_SERVICE_KEY    Service key (required)
  SUPABASE_ACCESS_TOKEN   Enables the management SQL endpoint
  SUPABASE_PROJECT_REF    Project ref when it cannot be derived from the URL
  REACT_APP_BACKEND_URL   Sibling backend for verify
  PROFILECTL_TIMEOUT      Per-request timeout (default 30s)
  PROFILECTL_PAGE_SIZE    Rows per page (default 100)

SQL PATHS:

  DDL goes through the management endpoint when a token is set, otherwise
  through an exec_sql or exec helper function. With neither, steps are
  reported as pending with the SQL to run by hand.

EXIT CODE:

  0 when every step applied or was already present, 1 otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Prefix: "profilectl", Level: level})

		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		if planPath != "" {
			activePlan, err = plan.Load(planPath)
		} else {
			activePlan, err = plan.Default()
		}
		if err != nil {
			return fmt.Errorf("failed to load plan: %w", err)
		}

		if cmd.Name() == "plan" {
			return nil
		}

		cfg, err = config.Load()
		if err != nil {
			return err
		}
		runID = ulid.Make().String()
		client = rest.NewClient(cfg, runID).WithLogger(logger)
		logger.Debug("run started", "run_id", runID, "management", cfg.ManagementEnabled())
		return nil
	},
}

// Execute runs the root command with an interrupt-aware context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&planPath, "plan", "", "plan file (default: built-in plan)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
