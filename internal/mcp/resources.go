// ABOUTME: MCP resources for the active plan.
// ABOUTME: Provides profilectl://plan.sql and profilectl://personal-keys.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	planURI         = "profilectl://plan.sql"
	personalKeysURI = "profilectl://personal-keys"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         planURI,
		Name:        "Migration Plan SQL",
		Description: "Every plan operation rendered as SQL, in execution order",
		MIMEType:    "text/plain",
	}, s.handlePlanResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         personalKeysURI,
		Name:        "Personal Key Mapping",
		Description: "Which profile_json keys move to which user_profiles columns",
		MIMEType:    "application/json",
	}, s.handlePersonalKeysResource)
}

// Resource handlers

func (s *Server) handlePlanResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	script, err := planScript(s.plan)
	if err != nil {
		return nil, fmt.Errorf("failed to render plan: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      planURI,
			MIMEType: "text/plain",
			Text:     script,
		}},
	}, nil
}

func (s *Server) handlePersonalKeysResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	result := map[string]any{
		"source_table":  s.plan.Normalize.SourceTable,
		"target_table":  s.plan.Normalize.TargetTable,
		"personal_keys": s.plan.Normalize.PersonalKeys,
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      personalKeysURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
