// ABOUTME: Tests for the migration executor against the fake project.
// ABOUTME: Covers apply, advisory mode, idempotence, retries, missing tables and aborts.
package migrate

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/harperreed/profilectl/internal/fakerest"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(s *fakerest.Server) *rest.Client {
	c := rest.NewClient(s.Config(), "test")
	c.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, rest.MaxAttempts-1)
	}
	return c
}

func defaultOps(t *testing.T) []plan.Operation {
	t.Helper()
	p, err := plan.Default()
	require.NoError(t, err)
	return p.Ordered()
}

var addCountry = plan.Operation{Op: plan.AddColumn, Table: "user_profiles", Column: "country", Type: "text"}

func TestAddMissingColumn(t *testing.T) {
	s := fakerest.New(t, fakerest.WithHelper("exec_sql"))
	s.CreateBaseline()

	report, err := New(newClient(s)).Run(context.Background(), []plan.Operation{addCountry})
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)

	step := report.Steps[0]
	assert.Equal(t, Applied, step.Status)
	assert.Equal(t, rest.PathRPC, step.Path)
	assert.True(t, s.HasColumn("user_profiles", "country"))
	assert.Equal(t, 1, s.Reloads())
	// Probe before and after the apply.
	assert.Equal(t, 2, s.Count(http.MethodGet, "/rest/v1/user_profiles"))
	assert.True(t, report.OK())
}

func TestPendingWithoutSQLPath(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()

	report, err := New(newClient(s)).Run(context.Background(), []plan.Operation{addCountry})
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)

	step := report.Steps[0]
	assert.Equal(t, Pending, step.Status)
	assert.Equal(t, "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text", step.SQL)
	assert.False(t, report.OK())
	assert.False(t, report.HasFailures())
	assert.Contains(t, report.PendingSQL(), step.SQL+";")
	assert.False(t, s.HasColumn("user_profiles", "country"))
}

func TestDefaultPlanIsIdempotent(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement())
	s.CreateBaseline()
	s.Insert("user_profiles", map[string]any{"user_id": "u1", "email": "u1@example.com"})
	s.Insert("athlete_profiles", map[string]any{"user_id": "u1", "profile_json": map[string]any{"weekly_miles": 45.0}})
	ops := defaultOps(t)

	first, err := New(newClient(s)).Run(context.Background(), ops)
	require.NoError(t, err)
	assert.True(t, first.OK(), first.Summary())

	p, err := plan.Default()
	require.NoError(t, err)
	for table, cols := range p.Columns() {
		for _, col := range cols {
			assert.True(t, s.HasColumn(table, col), "%s.%s", table, col)
		}
	}
	assert.Equal(t, false, s.Rows("athlete_profiles")[0]["is_public"])
	assert.Equal(t, "imperial", s.Rows("user_profiles")[0]["units_preference"])
	assert.Equal(t, []any{}, s.Rows("user_profiles")[0]["wearables"])
	assert.True(t, s.HasIndex("idx_athlete_profiles_public_hybrid_score"))
	assert.True(t, s.HasConstraint("user_profiles_privacy_level_check"))

	users, athletes := s.Rows("user_profiles"), s.Rows("athlete_profiles")

	second, err := New(newClient(s)).Run(context.Background(), ops)
	require.NoError(t, err)
	assert.True(t, second.OK(), second.Summary())
	assert.Zero(t, second.Counts()[Failed])
	for _, step := range second.Steps {
		if step.Op.Op == plan.AddColumn || step.Op.Op == plan.SetDefaultWhereNull || step.Op.Op == plan.AddCheck {
			assert.Equal(t, AlreadyPresent, step.Status, step.Op.String())
		}
	}
	assert.Equal(t, users, s.Rows("user_profiles"))
	assert.Equal(t, athletes, s.Rows("athlete_profiles"))
}

func TestRetryOnTransientPatchFailure(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	s.CreateTable("flags", fakerest.Column{Name: "is_public", Type: fakerest.Bool})
	s.Insert("flags", map[string]any{"is_public": nil})
	s.FailNext(http.MethodPatch, 2)

	op := plan.Operation{Op: plan.SetDefaultWhereNull, Table: "flags", Column: "is_public", Value: false}
	report, err := New(newClient(s)).Run(context.Background(), []plan.Operation{op})
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, Applied, report.Steps[0].Status)
	assert.Equal(t, 1, report.Steps[0].Rows)
	assert.Equal(t, 3, s.Count(http.MethodPatch, "/rest/v1/flags"))
	assert.Equal(t, false, s.Rows("flags")[0]["is_public"])
}

func TestBackfillWaitsForPendingColumn(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()

	ops := []plan.Operation{
		{Op: plan.AddColumn, Table: "athlete_profiles", Column: "is_public", Type: "boolean", Default: "false"},
		{Op: plan.SetDefaultWhereNull, Table: "athlete_profiles", Column: "is_public", Value: false},
	}
	report, err := New(newClient(s)).Run(context.Background(), ops)
	require.NoError(t, err)
	assert.Equal(t, Pending, report.Steps[0].Status)
	assert.Equal(t, Pending, report.Steps[1].Status)
	assert.Equal(t, "UPDATE public.athlete_profiles SET is_public = false WHERE is_public IS NULL", report.Steps[1].SQL)
	assert.Zero(t, s.Count(http.MethodPatch, "/rest/v1/athlete_profiles"))
}

func TestMissingTableSkipsItsSteps(t *testing.T) {
	s := fakerest.New(t, fakerest.WithHelper("exec_sql"))
	s.CreateBaseline()

	ops := []plan.Operation{
		{Op: plan.AddColumn, Table: "teams", Column: "name", Type: "text"},
		addCountry,
		{Op: plan.SetDefaultWhereNull, Table: "teams", Column: "name", Value: "x"},
	}
	report, err := New(newClient(s)).Run(context.Background(), ops)
	require.NoError(t, err)
	assert.Equal(t, Failed, report.Steps[0].Status)
	assert.Equal(t, Applied, report.Steps[1].Status)
	assert.Equal(t, Failed, report.Steps[2].Status)
	assert.Contains(t, report.Steps[2].Detail, "missing")
	assert.True(t, report.HasFailures())
}

func TestUnauthorizedAbortsRun(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	c := newClient(s)
	c.ServiceKey = "wrong"

	ops := []plan.Operation{addCountry, {Op: plan.AddColumn, Table: "user_profiles", Column: "gender", Type: "text"}}
	report, err := New(c).Run(context.Background(), ops)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.True(t, rest.IsKind(err, rest.KindUnauthorized))
	require.Len(t, report.Steps, 2)
	assert.Equal(t, Failed, report.Steps[0].Status)
	assert.Equal(t, "not attempted: run aborted", report.Steps[1].Detail)
}

func TestRejectedKeyAbortsIndexOnlyRun(t *testing.T) {
	s := fakerest.New(t, fakerest.WithHelper("exec_sql"))
	s.CreateBaseline()
	c := newClient(s)
	c.ServiceKey = "rejected-key"

	ops := []plan.Operation{
		{Op: plan.CreateIndex, Table: "athlete_profiles", Name: "idx_x", Expression: "user_id"},
		{Op: plan.CreateIndex, Table: "athlete_profiles", Name: "idx_y", Expression: "is_public"},
	}
	report, err := New(c).Run(context.Background(), ops)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, rest.IsKind(err, rest.KindUnauthorized))
	require.Len(t, report.Steps, 2)
	assert.Equal(t, Failed, report.Steps[0].Status)
	assert.NotContains(t, report.Steps[0].Detail, "run manually")
	assert.Equal(t, "not attempted: run aborted", report.Steps[1].Detail)
	assert.Empty(t, report.ByStatus(Pending))
}

func TestCancelledContextAborts(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(newClient(s)).Run(ctx, []plan.Operation{addCountry})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, report.Steps[0].Status)
	assert.Zero(t, s.Count(http.MethodGet, "/rest/v1/user_profiles"))
}

func TestCheckReportsOffendingRow(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement())
	s.CreateBaseline()
	s.CreateTable("prefs", fakerest.Column{Name: "units_preference", Type: fakerest.Text})
	bad := s.Insert("prefs", map[string]any{"units_preference": "stone"})
	s.Insert("prefs", map[string]any{"units_preference": nil})

	op := plan.Operation{
		Op:        plan.AddCheck,
		Table:     "prefs",
		Name:      "prefs_units_check",
		Predicate: "units_preference IS NULL OR units_preference IN ('imperial', 'metric')",
		Offenders: "units_preference=not.in.(imperial,metric)",
	}
	report, err := New(newClient(s)).Run(context.Background(), []plan.Operation{op})
	require.NoError(t, err)
	step := report.Steps[0]
	assert.Equal(t, Failed, step.Status)
	assert.Contains(t, step.Detail, bad["id"].(string))
	assert.True(t, rest.IsKind(step.Err, rest.KindConstraintViolation))
	assert.False(t, s.HasConstraint("prefs_units_check"))
}

func TestConcurrentIndexOverHelperIsPending(t *testing.T) {
	s := fakerest.New(t, fakerest.WithHelper("exec_sql"))
	s.CreateBaseline()

	op := plan.Operation{Op: plan.CreateIndex, Table: "athlete_profiles", Name: "idx_athlete_profiles_user_id", Expression: "user_id"}
	report, err := New(newClient(s)).Run(context.Background(), []plan.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, Pending, report.Steps[0].Status)
	assert.Contains(t, report.Steps[0].Detail, "outside a transaction")
	assert.False(t, s.HasIndex("idx_athlete_profiles_user_id"))
}

func TestDryRunWritesNothing(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement())
	s.CreateBaseline()
	s.Insert("athlete_profiles", map[string]any{"user_id": "u1"})

	report, err := New(newClient(s), WithDryRun(true), WithRunID("01DRY")).Run(context.Background(), defaultOps(t))
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, "01DRY", report.RunID)
	assert.False(t, report.HasFailures(), report.Summary())
	assert.Zero(t, s.Count(http.MethodPost, "/v1/projects/"+fakerest.DefaultProjectRef+"/database/query"))
	assert.Zero(t, s.Count(http.MethodPatch, "/rest/v1/athlete_profiles"))
	assert.False(t, s.HasColumn("user_profiles", "country"))
}

func TestReportSummary(t *testing.T) {
	r := &Report{Steps: []StepResult{
		{Status: Applied}, {Status: Applied}, {Status: AlreadyPresent}, {Status: Pending},
	}}
	assert.Equal(t, "2 applied, 1 already present, 1 pending", r.Summary())
	assert.Equal(t, "nothing to do", (&Report{}).Summary())

	other := &Report{Steps: []StepResult{{Status: Failed}}}
	r.Merge(other)
	assert.True(t, r.HasFailures())
	assert.Len(t, r.ByStatus(Applied), 2)
}
