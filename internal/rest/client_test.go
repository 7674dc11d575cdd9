// ABOUTME: Tests for the REST client: headers, retries, SQL path selection and helper discovery.
// ABOUTME: Uses httptest servers and the fake project.
package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/harperreed/profilectl/internal/fakerest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(s *fakerest.Server) *Client {
	c := NewClient(s.Config(), "01TESTRUN")
	c.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, MaxAttempts-1)
	}
	return c
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, ServiceKey: "svc", RunID: "01RUN", HTTPClient: srv.Client()}
	_, err := c.Insert(context.Background(), "user_profiles", map[string]string{"user_id": "u1"})
	require.NoError(t, err)

	assert.Equal(t, "svc", got.Get("apikey"))
	assert.Equal(t, "Bearer svc", got.Get("Authorization"))
	assert.Equal(t, "profilectl/01RUN", got.Get("X-Client-Info"))
	assert.Equal(t, "return=representation", got.Get("Prefer"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
}

func TestRetryOnTransientNetworkFailure(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	s.Insert("user_profiles", map[string]any{"user_id": "u1"})
	s.FailNext(http.MethodPatch, 2)

	c := testClient(s)
	rows, err := c.Update(context.Background(), "user_profiles", map[string]any{"email": "u1@example.com"}, Eq("user_id", "u1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, s.Count(http.MethodPatch, "/rest/v1/user_profiles"))
	assert.Equal(t, "u1@example.com", s.Rows("user_profiles")[0]["email"])
}

func TestRetryGivesUpAfterThreeAttempts(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	s.FailNext(http.MethodPatch, 3)

	c := testClient(s)
	_, err := c.Update(context.Background(), "user_profiles", map[string]any{"email": "x"}, Eq("user_id", "u1"))
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, 3, s.Count(http.MethodPatch, "/rest/v1/user_profiles"))
}

func TestNoRetryOnClassifiedFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"42703","message":"column x does not exist"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, ServiceKey: "svc", HTTPClient: srv.Client()}
	_, err := c.Select(context.Background(), "t", Query{Select: []string{"x"}, Limit: 1})
	require.Error(t, err)
	assert.Equal(t, KindMissingColumn, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatewayErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := &Client{
		BaseURL:    srv.URL,
		ServiceKey: "svc",
		HTTPClient: srv.Client(),
		NewBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) },
	}
	rows, err := c.Select(context.Background(), "t", Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCancelledContextStopsRequests(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	c := testClient(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Select(ctx, "user_profiles", Query{Limit: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdateRequiresFilter(t *testing.T) {
	c := &Client{BaseURL: "http://unused", HTTPClient: http.DefaultClient}
	_, err := c.Update(context.Background(), "user_profiles", map[string]any{"email": "x"})
	assert.Error(t, err)
}

func TestApplySQLWithoutAnyPath(t *testing.T) {
	s := fakerest.New(t)
	s.CreateBaseline()
	c := testClient(s)

	path, err := c.ApplySQL(context.Background(), "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoExecPath))
	assert.Equal(t, PathNone, path)
	assert.Contains(t, err.Error(), "exec_sql, exec")
	assert.False(t, s.HasColumn("user_profiles", "country"))
	assert.Empty(t, c.ExecPaths(context.Background()))
}

func TestHelperDiscoveryFallsBackToExec(t *testing.T) {
	s := fakerest.New(t, fakerest.WithHelper("exec"))
	s.CreateBaseline()
	c := testClient(s)
	ctx := context.Background()

	h, err := c.SQLHelper(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "exec", h.Name)

	path, err := c.ApplySQL(ctx, "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text")
	require.NoError(t, err)
	assert.Equal(t, PathRPC, path)
	assert.True(t, s.HasColumn("user_profiles", "country"))

	// Discovery is cached: exec_sql is probed once.
	_, err = c.ApplySQL(ctx, "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS timezone text")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count(http.MethodPost, "/rest/v1/rpc/exec_sql"))
	assert.Equal(t, []ExecPath{PathRPC}, c.ExecPaths(ctx))
}

func TestApplySQLReturnsRejectedServiceKey(t *testing.T) {
	tests := []struct {
		name   string
		helper bool
	}{
		{name: "helper installed", helper: true},
		{name: "no helper", helper: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []fakerest.Option
			if tt.helper {
				opts = append(opts, fakerest.WithHelper("exec_sql"))
			}
			s := fakerest.New(t, opts...)
			s.CreateBaseline()
			c := testClient(s)
			c.ServiceKey = "rejected-key"

			path, err := c.ApplySQL(context.Background(), "CREATE INDEX IF NOT EXISTS idx_x ON public.athlete_profiles (user_id)")
			require.Error(t, err)
			assert.Equal(t, PathNone, path)
			assert.False(t, errors.Is(err, ErrNoExecPath))
			assert.True(t, CredentialsRejected(err))
		})
	}
}

func TestBlankAccessTokenSkipsManagement(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement(), fakerest.WithHelper("exec_sql"))
	s.CreateBaseline()
	cfg := s.Config()
	cfg.AccessToken = "  \t"
	c := NewClient(cfg, "01TESTRUN")

	assert.False(t, c.ManagementEnabled())
	path, err := c.ApplySQL(context.Background(), "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text")
	require.NoError(t, err)
	assert.Equal(t, PathRPC, path)
	assert.Zero(t, s.Count(http.MethodPost, "/v1/projects/"+s.ProjectRef+"/database/query"))
}

func TestApplySQLFallsBackFromManagementToRPC(t *testing.T) {
	s := fakerest.New(t, fakerest.WithManagement(), fakerest.WithHelper("exec_sql"))
	s.CreateBaseline()
	c := testClient(s)
	c.AccessToken = "revoked"

	path, err := c.ApplySQL(context.Background(), "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text")
	require.NoError(t, err)
	assert.Equal(t, PathRPC, path)
	assert.True(t, s.HasColumn("user_profiles", "country"))
}
