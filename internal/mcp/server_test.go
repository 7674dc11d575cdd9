// ABOUTME: Tests for MCP server, tools, and resources.
// ABOUTME: Calls handlers directly against the fake project.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/harperreed/profilectl/internal/fakerest"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/rest"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func setupServer(t *testing.T, backend bool) (*Server, *fakerest.Server) {
	t.Helper()

	fake := fakerest.New(t)
	fake.CreateMigrated()

	p, err := plan.Default()
	if err != nil {
		t.Fatalf("Failed to load plan: %v", err)
	}

	backendURL := ""
	if backend {
		backendURL = fakerest.NewBackend(t, fake).URL
	}

	c := rest.NewClient(fake.Config(), "test")
	server, err := NewServer(c, p, backendURL, c.HTTPClient)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server, fake
}

func TestNewServer(t *testing.T) {
	server, _ := setupServer(t, false)

	if server.mcpServer == nil {
		t.Error("Expected non-nil mcpServer")
	}
	if server.client == nil {
		t.Error("Expected non-nil client")
	}
	if server.plan == nil {
		t.Error("Expected non-nil plan")
	}
}

func TestBackendClientHasTimeout(t *testing.T) {
	p, err := plan.Default()
	if err != nil {
		t.Fatalf("Failed to load plan: %v", err)
	}
	fake := fakerest.New(t)
	c := rest.NewClient(fake.Config(), "test")

	server, err := NewServer(c, p, "http://backend.invalid", nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.http == http.DefaultClient || server.http.Timeout != backendTimeout {
		t.Errorf("Expected a client with a %v timeout, got %v", backendTimeout, server.http.Timeout)
	}

	server, err = NewServer(c, p, "http://backend.invalid", c.HTTPClient)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.http != c.HTTPClient {
		t.Error("Expected the REST client's HTTP client to be used")
	}
	if server.http.Timeout <= 0 {
		t.Errorf("Expected the REST client timeout to carry over, got %v", server.http.Timeout)
	}
}

func TestHandleProbeColumn(t *testing.T) {
	server, _ := setupServer(t, false)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   probeColumnInput
		want    string
		wantErr bool
	}{
		{name: "present", input: probeColumnInput{Table: "user_profiles", Column: "country"}, want: "present"},
		{name: "missing column", input: probeColumnInput{Table: "user_profiles", Column: "shoe_size"}, want: "missing_column"},
		{name: "missing table", input: probeColumnInput{Table: "teams", Column: "name"}, want: "missing_table"},
		{name: "no column", input: probeColumnInput{Table: "teams"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, output, err := server.handleProbeColumn(ctx, &mcp.CallToolRequest{}, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if output.Outcome != tt.want {
				t.Errorf("Outcome = %q, want %q", output.Outcome, tt.want)
			}
		})
	}
}

func TestHandleShowPlan(t *testing.T) {
	server, _ := setupServer(t, false)
	ctx := context.Background()

	_, all, err := server.handleShowPlan(ctx, &mcp.CallToolRequest{}, showPlanInput{})
	if err != nil {
		t.Fatalf("handleShowPlan failed: %v", err)
	}
	if len(all.Steps) != len(server.plan.Operations) {
		t.Errorf("Expected %d steps, got %d", len(server.plan.Operations), len(all.Steps))
	}
	if all.PersonalKeys["sex"] != "gender" {
		t.Errorf("Expected sex -> gender mapping, got %q", all.PersonalKeys["sex"])
	}

	_, filtered, err := server.handleShowPlan(ctx, &mcp.CallToolRequest{}, showPlanInput{Table: "user_profiles"})
	if err != nil {
		t.Fatalf("handleShowPlan failed: %v", err)
	}
	for _, step := range filtered.Steps {
		if !strings.Contains(step.SQL, "user_profiles") {
			t.Errorf("Step %s does not touch user_profiles: %s", step.Op, step.SQL)
		}
	}
	if len(filtered.Steps) == 0 || len(filtered.Steps) >= len(all.Steps) {
		t.Errorf("Expected a strict subset, got %d of %d", len(filtered.Steps), len(all.Steps))
	}
}

func TestHandleVerify(t *testing.T) {
	server, fake := setupServer(t, true)
	ctx := context.Background()

	_, output, err := server.handleVerify(ctx, &mcp.CallToolRequest{}, verifyInput{})
	if err != nil {
		t.Fatalf("handleVerify failed: %v", err)
	}
	if !output.OK {
		t.Errorf("Expected verify to pass, got %+v", output.Checks)
	}

	found := false
	for _, c := range output.Checks {
		if c.Name == "backend health" {
			found = true
		}
	}
	if !found {
		t.Error("Expected backend checks to run")
	}

	if n := fake.Count(http.MethodPatch, "/rest/v1/athlete_profiles") + fake.Count(http.MethodPost, "/rest/v1/athlete_profiles"); n != 0 {
		t.Errorf("verify wrote to the project: %d requests", n)
	}
}

func TestPlanResource(t *testing.T) {
	server, _ := setupServer(t, false)

	result, err := server.handlePlanResource(context.Background(), &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handlePlanResource failed: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("Expected 1 content, got %d", len(result.Contents))
	}
	text := result.Contents[0].Text
	if !strings.Contains(text, "ALTER TABLE public.user_profiles ADD COLUMN IF NOT EXISTS country text;") {
		t.Errorf("Plan script missing country column:\n%s", text)
	}
	if strings.Index(text, "ADD COLUMN") > strings.Index(text, "CREATE INDEX") {
		t.Error("Expected columns before indexes")
	}
}

func TestPersonalKeysResource(t *testing.T) {
	server, _ := setupServer(t, false)

	result, err := server.handlePersonalKeysResource(context.Background(), &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handlePersonalKeysResource failed: %v", err)
	}

	var data struct {
		SourceTable  string            `json:"source_table"`
		PersonalKeys map[string]string `json:"personal_keys"`
	}
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &data); err != nil {
		t.Fatalf("Failed to parse resource: %v", err)
	}
	if data.SourceTable != "athlete_profiles" {
		t.Errorf("source_table = %q", data.SourceTable)
	}
	if v, ok := data.PersonalKeys["age"]; !ok || v != "" {
		t.Errorf("Expected age to be discarded, got %q (present %v)", v, ok)
	}
}
