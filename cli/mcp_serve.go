package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"agentsync/config"
	"agentsync/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve [project-path]",
	Short: "Start agentsync as an MCP server",
	Long: `Start agentsync as an MCP (Model Context Protocol) server.

This lets AI agents use agentsync as a native tool. The server
communicates via stdio and exposes the following tools:

  - agentsync_ask: Ask the project's agent a question
  - agentsync_projects: List remote projects available to the API key
  - agentsync_status: Report sync status (ledger entries, watcher state)

Arguments:
  project-path  Optional path to the agentsync project directory.
                If not provided, searches for .agentsync from the
                current directory.

Configuration for Claude Code:
  claude mcp add agentsync -- agentsync mcp-serve

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "agentsync": {
        "command": "agentsync",
        "args": ["mcp-serve"]
      }
    }
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	var projectRoot string

	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		if !config.Exists(abs) {
			return fmt.Errorf("no agentsync project found at %s (run 'agentsync init' first)", abs)
		}
		projectRoot = abs
	} else {
		root, err := config.FindProjectRoot()
		if err != nil {
			return err
		}
		projectRoot = root
	}

	srv, err := mcp.NewServer(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return srv.ServeStdio()
}
