// ABOUTME: MCP server exposing read-only schema and verification tools.
// ABOUTME: Wraps the MCP server with a data-surface reader and the active plan.
package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/probe"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with read access to the project.
type Server struct {
	mcpServer  *mcp.Server
	client     probe.Selecter
	plan       *plan.Plan
	backendURL string
	http       *http.Client
}

// backendTimeout bounds backend checks when no HTTP client is supplied.
const backendTimeout = 30 * time.Second

// NewServer creates a new MCP server. backendURL may be empty. hc carries
// backend checks; nil gets a client with backendTimeout.
func NewServer(client probe.Selecter, p *plan.Plan, backendURL string, hc *http.Client) (*Server, error) {
	if hc == nil {
		hc = &http.Client{Timeout: backendTimeout}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "profilectl",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcpServer:  mcpServer,
		client:     client,
		plan:       p,
		backendURL: backendURL,
		http:       hc,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
