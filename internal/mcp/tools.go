// ABOUTME: MCP tool implementations: probe_column, show_plan and verify.
// ABOUTME: None of the tools writes to the project.
package mcp

import (
	"context"
	"fmt"

	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/probe"
	"github.com/harperreed/profilectl/internal/verify"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "probe_column",
		Description: "Check whether a table column is selectable through the REST surface",
	}, s.handleProbeColumn)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "show_plan",
		Description: "Show the migration plan's operations and rendered SQL",
	}, s.handleShowPlan)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "verify",
		Description: "Run the read-only post-migration checks",
	}, s.handleVerify)
}

// Tool input/output types

type probeColumnInput struct {
	Table  string `json:"table" jsonschema:"Table name, e.g. user_profiles"`
	Column string `json:"column" jsonschema:"Column name, e.g. country"`
}

type probeColumnOutput struct {
	Table   string `json:"table"`
	Column  string `json:"column"`
	Outcome string `json:"outcome"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type showPlanInput struct {
	Table string `json:"table,omitempty" jsonschema:"Only show operations on this table"`
}

type planStep struct {
	Op  string `json:"op"`
	SQL string `json:"sql"`
}

type showPlanOutput struct {
	Steps        []planStep        `json:"steps"`
	PersonalKeys map[string]string `json:"personal_keys"`
}

type verifyInput struct{}

type checkOutput struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type verifyOutput struct {
	OK     bool          `json:"ok"`
	Checks []checkOutput `json:"checks"`
}

// Tool handlers

func (s *Server) handleProbeColumn(ctx context.Context, req *mcp.CallToolRequest, input probeColumnInput) (*mcp.CallToolResult, probeColumnOutput, error) {
	if input.Table == "" || input.Column == "" {
		return nil, probeColumnOutput{}, fmt.Errorf("table and column are required")
	}

	res := probe.Column(ctx, s.client, input.Table, input.Column)
	return nil, probeColumnOutput{
		Table:   input.Table,
		Column:  input.Column,
		Outcome: string(res.Outcome),
		Kind:    string(res.Kind),
		Message: res.String(),
	}, nil
}

func (s *Server) handleShowPlan(ctx context.Context, req *mcp.CallToolRequest, input showPlanInput) (*mcp.CallToolResult, showPlanOutput, error) {
	out := showPlanOutput{Steps: []planStep{}, PersonalKeys: s.plan.Normalize.PersonalKeys}
	for _, op := range s.plan.Ordered() {
		if input.Table != "" && op.Table != input.Table {
			continue
		}
		sql, err := op.SQL()
		if err != nil {
			return nil, showPlanOutput{}, fmt.Errorf("render %s: %w", op, err)
		}
		out.Steps = append(out.Steps, planStep{Op: op.String(), SQL: sql})
	}
	return nil, out, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcp.CallToolRequest, input verifyInput) (*mcp.CallToolResult, verifyOutput, error) {
	var opts []verify.Option
	if s.backendURL != "" {
		opts = append(opts, verify.WithBackend(s.backendURL, s.http))
	}
	report, err := verify.New(s.client, s.plan, opts...).Run(ctx)
	if err != nil {
		return nil, verifyOutput{}, fmt.Errorf("verify: %w", err)
	}

	out := verifyOutput{OK: report.OK()}
	for _, c := range report.Checks {
		out.Checks = append(out.Checks, checkOutput{Name: c.Name, Status: string(c.Status), Detail: c.Detail})
	}
	return nil, out, nil
}

// planScript renders the whole plan as a script.
func planScript(p *plan.Plan) (string, error) {
	return plan.Script(p.Ordered())
}
