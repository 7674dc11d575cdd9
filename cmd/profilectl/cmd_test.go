// ABOUTME: Tests for CLI commands, flags and exit behavior.
// ABOUTME: Runs the root command end to end against the fake project.
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harperreed/profilectl/internal/config"
	"github.com/harperreed/profilectl/internal/fakerest"
	"github.com/harperreed/profilectl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	planPath, verbose = "", false
	migrateDryRun = false
	normalizeDryRun, normalizePageSize, normalizeNoBackfill = false, 0, false
	seedYes, allSeed = false, false
	cfg, client, activePlan, runID = nil, nil, nil, ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// useProject points the environment at s, and at backend when non-empty.
func useProject(t *testing.T, s *fakerest.Server, backend string) {
	t.Helper()
	t.Setenv("SUPABASE_URL", s.URL)
	t.Setenv("SUPABASE_SERVICE_KEY", s.ServiceKey)
	t.Setenv("SUPABASE_ACCESS_TOKEN", s.AccessToken)
	t.Setenv("SUPABASE_PROJECT_REF", s.ProjectRef)
	t.Setenv("SUPABASE_MANAGEMENT_URL", s.URL)
	t.Setenv("REACT_APP_BACKEND_URL", backend)
	t.Setenv("PROFILECTL_TIMEOUT", "5s")
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const countryPlan = `
operations:
  - {op: add_column, table: user_profiles, column: country, type: text}
normalize:
  source_table: athlete_profiles
  target_table: user_profiles
  personal_keys: {first_name: first_name, last_name: last_name, email: email, sex: gender, age: ""}
`

func TestRootCmd(t *testing.T) {
	assert.Equal(t, "profilectl", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	want := []string{"probe", "migrate", "normalize", "seed", "verify", "all", "plan", "mcp"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("plan"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
	}{
		{"migrate", "dry-run"},
		{"normalize", "dry-run"},
		{"normalize", "page-size"},
		{"normalize", "no-backfill"},
		{"seed", "yes"},
		{"all", "seed"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+" --"+tt.flag, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			assert.NotNil(t, cmd.Flags().Lookup(tt.flag))
		})
	}
}

func TestPlanNeedsNoCredentials(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_KEY", "")

	out, err := execute(t, "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text;")
	assert.Contains(t, out, "--   sex -> gender")
	assert.Contains(t, out, "--   age -> (discarded)")
}

func TestMissingConfigFails(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_KEY", "")

	_, err := execute(t, "probe")
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "SUPABASE_URL", cfgErr.Var)
}

func TestBadPlanFails(t *testing.T) {
	path := writePlan(t, "operations:\n  - {op: drop_table, table: user_profiles}\n")
	_, err := execute(t, "plan", "--plan", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop_table")
}

func TestProbe(t *testing.T) {
	s := fakerest.New(t)
	s.CreateMigrated()
	useProject(t, s, "")

	out, err := execute(t, "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "user_profiles.country: present")

	out, err = execute(t, "probe", "user_profiles.shoe_size")
	assert.ErrorIs(t, err, errIncomplete)
	assert.Contains(t, out, "user_profiles.shoe_size: missing_column")

	_, err = execute(t, "probe", "nodot")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errIncomplete)
}

func TestMigratePendingExitsOne(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	useProject(t, s, "")
	path := writePlan(t, countryPlan)

	out, err := execute(t, "migrate", "--plan", path)
	assert.ErrorIs(t, err, errIncomplete)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text;")
	assert.False(t, s.HasColumn("user_profiles", "country"))

	out, err = execute(t, "verify", "--plan", path)
	assert.ErrorIs(t, err, errIncomplete)
	assert.Contains(t, out, "missing: country")
}

func TestMigrateDryRunExitsZeroWhenOnlyPending(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	useProject(t, s, "")

	out, err := execute(t, "migrate", "--dry-run", "--plan", writePlan(t, countryPlan))
	require.NoError(t, err)
	assert.Contains(t, out, "column missing")
}

func TestMigrateAppliesOverManagement(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement())
	s.CreateBaseline()
	useProject(t, s, "")

	out, err := execute(t, "migrate")
	require.NoError(t, err, out)
	assert.True(t, s.HasColumn("user_profiles", "country"))
	assert.Contains(t, out, "via management")

	out, err = execute(t, "migrate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "already present")
}

func TestNormalize(t *testing.T) {
	s := fakerest.New(t)
	s.CreateMigrated()
	useProject(t, s, "")
	s.Insert(models.TableUserProfiles, map[string]any{"user_id": "u1"})
	s.Insert(models.TableAthleteProfiles, map[string]any{
		"user_id":      "u1",
		"profile_json": map[string]any{"first_name": "Alex", "sex": "Male", "weekly_miles": 45},
	})

	out, err := execute(t, "normalize", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, s.Rows(models.TableAthleteProfiles)[0]["profile_json"], "first_name")

	out, err = execute(t, "normalize", "--page-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "rewrote 1 (2 keys removed)")
	assert.Equal(t, map[string]any{"weekly_miles": 45.0}, s.Rows(models.TableAthleteProfiles)[0]["profile_json"])
	assert.Equal(t, "Male", s.Rows(models.TableUserProfiles)[0]["gender"])
}

func TestSeedRequiresYes(t *testing.T) {
	s := fakerest.New(t)
	s.CreateMigrated()
	useProject(t, s, "")

	_, err := execute(t, "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.Empty(t, s.Rows(models.TableAthleteProfiles))

	out, err := execute(t, "seed", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "maya")
	assert.Len(t, s.Rows(models.TableAthleteProfiles), 3)
}

func TestAllColdStart(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement())
	s.CreateBaseline()
	useProject(t, s, "")

	out, err := execute(t, "all")
	require.NoError(t, err, out)
	assert.True(t, s.HasConstraint("user_profiles_privacy_level_check"))
	assert.True(t, s.HasIndex("idx_athlete_profiles_public_hybrid_score"))
	assert.Contains(t, out, "backend skipped")
}

func TestAllWithSeedRanksAthletes(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement())
	s.CreateBaseline()
	s.Insert(models.TableAthleteProfiles, map[string]any{
		"user_id":      "legacy",
		"profile_json": map[string]any{"first_name": "Old", "email": "old@example.com", "vo2_max": 40},
	})
	backend := fakerest.NewBackend(t, s)
	useProject(t, s, backend.URL)

	out, err := execute(t, "all", "--seed")
	require.NoError(t, err, out)
	assert.Contains(t, out, "3 entries ranked")
	assert.Contains(t, out, "backend public-profile")

	var legacy map[string]any
	for _, row := range s.Rows(models.TableAthleteProfiles) {
		if row["user_id"] == "legacy" {
			legacy = row
		}
	}
	require.NotNil(t, legacy)
	assert.Equal(t, map[string]any{"vo2_max": 40.0}, legacy["profile_json"])
	assert.Equal(t, false, legacy["is_public"])
	assert.NotNil(t, legacy["user_profile_id"])
}
