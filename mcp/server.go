// Package mcp provides an MCP (Model Context Protocol) server for agentsync.
// This allows AI agents to query a synced knowledge base project and inspect
// the sync state as native tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alpkeskin/gotoon"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"agentsync/api"
	"agentsync/chat"
	"agentsync/config"
	"agentsync/daemon"
	"agentsync/ledger"
)

// Server wraps the MCP server with agentsync functionality.
type Server struct {
	mcpServer   *server.MCPServer
	projectRoot string
	cfg         *config.Config
}

// ProjectInfo is a lightweight struct for MCP output.
type ProjectInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ChatActive bool   `json:"chat_active"`
}

// SyncStatus represents the current state of the sync pipeline.
type SyncStatus struct {
	ProjectID     string `json:"project_id"`
	LedgerBackend string `json:"ledger_backend"`
	LedgerEntries int    `json:"ledger_entries,omitempty"`
	WatcherPID    int    `json:"watcher_pid,omitempty"`
	WatcherState  string `json:"watcher_state"`
}

// AskResult is the answer payload of the ask tool.
type AskResult struct {
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

// encodeOutput encodes data in the specified format (json or toon).
func encodeOutput(data any, format string) (string, error) {
	switch format {
	case "toon":
		return gotoon.Encode(data)
	default: // "json"
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(jsonBytes), nil
	}
}

// NewServer creates a new MCP server rooted at an initialized project.
func NewServer(projectRoot string) (*Server, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	s := &Server{
		projectRoot: projectRoot,
		cfg:         cfg,
	}

	s.mcpServer = server.NewMCPServer(
		"agentsync",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s, nil
}

// registerTools registers all agentsync tools with the MCP server.
func (s *Server) registerTools() {
	askTool := mcp.NewTool("agentsync_ask",
		mcp.WithDescription("Ask a question against the synced knowledge base project. Returns the agent's full answer along with the conversation id for follow-up turns."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The question to ask"),
		),
		mcp.WithString("conversation",
			mcp.Description("Conversation id from a previous turn to continue (optional; a new conversation is created when omitted)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(askTool, s.handleAsk)

	projectsTool := mcp.NewTool("agentsync_projects",
		mcp.WithDescription("List the remote knowledge base projects available to the configured API key."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(projectsTool, s.handleProjects)

	statusTool := mcp.NewTool("agentsync_status",
		mcp.WithDescription("Report the sync pipeline state: configured project, ledger backend and entry count, and whether a background watcher is running."),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default) or 'toon' (token-efficient)"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleStatus)
}

func (s *Server) newClient() (*api.Client, error) {
	opts := []api.Option{}
	if s.cfg.API.BaseURL != "" {
		opts = append(opts, api.WithBaseURL(s.cfg.API.BaseURL))
	}
	if s.cfg.API.APIKey != "" {
		opts = append(opts, api.WithAPIKey(s.cfg.API.APIKey))
	}
	return api.NewClient(opts...)
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	conversationID := req.GetString("conversation", "")
	format := req.GetString("format", "json")

	if s.cfg.Project.ID == "" {
		return mcp.NewToolResultError("no project configured (run 'agentsync init' first)"), nil
	}

	client, err := s.newClient()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create API client: %v", err)), nil
	}

	session := chat.NewSession(client, s.cfg.Project.ID, conversationID)
	answer, err := session.Ask(ctx, prompt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}

	output, err := encodeOutput(AskResult{
		ProjectID:      s.cfg.Project.ID,
		ConversationID: session.ConversationID(),
		Answer:         answer,
	}, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

func (s *Server) handleProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "json")

	client, err := s.newClient()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create API client: %v", err)), nil
	}

	projects, err := client.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	infos := make([]ProjectInfo, 0, len(projects))
	for _, p := range projects {
		infos = append(infos, ProjectInfo{
			ID:         p.ID,
			Name:       p.ProjectName,
			ChatActive: p.IsChatActive,
		})
	}

	output, err := encodeOutput(infos, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "json")

	status := SyncStatus{
		ProjectID:     s.cfg.Project.ID,
		LedgerBackend: s.cfg.Ledger.Backend,
		WatcherState:  "not running",
	}

	if s.cfg.Ledger.Backend == "gob" {
		led := ledger.NewGOBLedger(config.GetLedgerPath(s.projectRoot))
		if err := led.Open(ctx); err == nil {
			status.LedgerEntries = led.Stats()
		}
	}

	if logDir, err := daemon.GetDefaultLogDir(); err == nil {
		if pid, err := daemon.GetRunningPID(logDir); err == nil && pid > 0 {
			status.WatcherPID = pid
			status.WatcherState = "running"
		}
	}

	output, err := encodeOutput(status, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}

	return mcp.NewToolResultText(output), nil
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
