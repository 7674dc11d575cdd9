// ABOUTME: CLI command for starting the MCP server.
// ABOUTME: Runs a stdio MCP server with read-only tools.
package main

import (
	"github.com/harperreed/profilectl/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server",
	Long: `Start the Model Context Protocol (MCP) server for AI assistant integration.
The server communicates via stdin/stdout and never writes to the project.

  {
    "mcpServers": {
      "profilectl": { "command": "profilectl", "args": ["mcp"] }
    }
  }

AVAILABLE TOOLS:

  probe_column  Check whether a column is selectable
  show_plan     Plan operations with rendered SQL
  verify        Run the read-only checks

AVAILABLE RESOURCES:

  profilectl://plan.sql        The plan as a SQL script
  profilectl://personal-keys   The normalize key mapping`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(client, activePlan, cfg.BackendURL, client.HTTPClient)
		if err != nil {
			return err
		}
		return server.Serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
