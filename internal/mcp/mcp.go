// Package mcp implements the Model Context Protocol server for Baley.
//
// The MCP server exposes execution, spawning, key-value storage, and the
// approval engine through MCP tools and resources, so MCP-compatible AI
// agents can drive the platform without going through the HTTP API.
package mcp

import (
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/baleyhq/baley/internal/approval"
	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/spawn"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/tools"
)

// Server wraps the MCP server with Baley's service layer. All operations run
// against the single workspace the server was bound to at startup.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	db          *storage.DB
	execSvc     *exec.Service
	spawner     *spawn.Executor
	approvals   *approval.Engine
	registry    *tools.Registry
	workspaceID uuid.UUID
	logger      *slog.Logger
}

// Config carries the dependencies for New.
type Config struct {
	DB          *storage.DB
	ExecSvc     *exec.Service
	Spawner     *spawn.Executor
	Approvals   *approval.Engine
	Registry    *tools.Registry
	WorkspaceID uuid.UUID
	Version     string
	Logger      *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(cfg Config) *Server {
	s := &Server{
		db:          cfg.DB,
		execSvc:     cfg.ExecSvc,
		spawner:     cfg.Spawner,
		approvals:   cfg.Approvals,
		registry:    cfg.Registry,
		workspaceID: cfg.WorkspaceID,
		logger:      cfg.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"baley",
		cfg.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// baley://agents — all agents in the bound workspace.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"baley://agents",
			"Agents",
			mcplib.WithResourceDescription("All agents in the workspace"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)

	// baley://tools — the visible tool catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"baley://tools",
			"Tool Catalog",
			mcplib.WithResourceDescription("Built-in and promoted tools visible in the workspace"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleToolsResource,
	)

	// baley://agent/{agent}/executions — recent executions of one agent.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"baley://agent/{agent}/executions",
			"Agent Executions",
			mcplib.WithTemplateDescription("Recent executions for a specific agent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleExecutionsResource,
	)
}

func (s *Server) registerTools() {
	// baley_execute — run an agent and wait for its terminal record.
	s.mcpServer.AddTool(
		mcplib.NewTool("baley_execute",
			mcplib.WithDescription("Execute an agent by id or name and return its terminal execution record"),
			mcplib.WithString("agent", mcplib.Description("Agent id or exact name"), mcplib.Required()),
			mcplib.WithString("input", mcplib.Description("JSON object passed as the agent input")),
		),
		s.handleExecute,
	)

	// baley_spawn — spawn one agent as a child of another.
	s.mcpServer.AddTool(
		mcplib.NewTool("baley_spawn",
			mcplib.WithDescription("Spawn a target agent as a child of a parent agent, with depth and policy checks"),
			mcplib.WithString("parent", mcplib.Description("Parent agent id or name"), mcplib.Required()),
			mcplib.WithString("target", mcplib.Description("Target agent id or name"), mcplib.Required()),
			mcplib.WithString("input", mcplib.Description("JSON object passed as the child input")),
		),
		s.handleSpawn,
	)

	// baley_memory — read or write an agent's private memory.
	s.mcpServer.AddTool(
		mcplib.NewTool("baley_memory",
			mcplib.WithDescription("Read or write a key in an agent's private memory"),
			mcplib.WithString("agent", mcplib.Description("Agent id or name"), mcplib.Required()),
			mcplib.WithString("action", mcplib.Description("One of: get, set, delete, list"), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Memory key")),
			mcplib.WithString("value", mcplib.Description("JSON value for set")),
		),
		s.handleMemory,
	)

	// baley_shared — read or write the workspace-shared store.
	s.mcpServer.AddTool(
		mcplib.NewTool("baley_shared",
			mcplib.WithDescription("Read or write a key in workspace-shared storage"),
			mcplib.WithString("action", mcplib.Description("One of: get, set, delete, list"), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Storage key")),
			mcplib.WithString("value", mcplib.Description("JSON value for set")),
			mcplib.WithNumber("ttl_seconds", mcplib.Description("Optional expiry for set")),
		),
		s.handleShared,
	)

	// baley_approve — match existing approval patterns against a tool call.
	s.mcpServer.AddTool(
		mcplib.NewTool("baley_approve",
			mcplib.WithDescription("Check whether an approval pattern covers a tool call, and record its use"),
			mcplib.WithString("tool_name", mcplib.Description("Tool the call targets"), mcplib.Required()),
			mcplib.WithString("agent_goal", mcplib.Description("Goal text of the calling agent")),
			mcplib.WithBoolean("record_use", mcplib.Description("Record a use against the best match")),
		),
		s.handleApprove,
	)
}
