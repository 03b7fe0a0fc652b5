package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/tools"
)

const mcpCaller = "mcp"

func (s *Server) handleAgentsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	agents, err := s.db.ListAgents(ctx, s.workspaceID, 100, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: list agents: %w", err)
	}
	data, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal agents: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "baley://agents",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleToolsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	ec := tools.NewExecContext(s.workspaceID, model.Agent{WorkspaceID: s.workspaceID}, uuid.Nil, 0, mcpCaller)
	defs, err := s.registry.Catalog(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("mcp: tool catalog: %w", err)
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal catalog: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "baley://tools",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleExecutionsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	var name string
	if _, err := fmt.Sscanf(uri, "baley://agent/%s", &name); err != nil || name == "" {
		return nil, fmt.Errorf("mcp: invalid executions URI: %s", uri)
	}
	// Sscanf grabs the trailing "/executions" with %s.
	if len(name) > 11 && name[len(name)-11:] == "/executions" {
		name = name[:len(name)-11]
	}

	agent, err := s.db.FindAgent(ctx, s.workspaceID, name)
	if err != nil {
		return nil, fmt.Errorf("mcp: agent executions: %w", err)
	}
	execs, err := s.db.ListExecutions(ctx, s.workspaceID, agent.ID, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: agent executions: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"agent":      agent.Name,
		"executions": execs,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal executions: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleExecute(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("agent", "")
	if name == "" {
		return errorResult("agent is required"), nil
	}
	input, err := parseInputArg(request.GetString("input", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	agent, err := s.db.FindAgent(ctx, s.workspaceID, name)
	if err != nil {
		return errorResult(fmt.Sprintf("agent lookup failed: %v", err)), nil
	}

	final, err := s.execSvc.Execute(ctx, agent, input, exec.Options{
		TriggeredBy:  model.TriggeredManual,
		Caller:       mcpCaller,
		FireTriggers: true,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("execution failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(final, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleSpawn(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	parentName := request.GetString("parent", "")
	targetName := request.GetString("target", "")
	if parentName == "" || targetName == "" {
		return errorResult("parent and target are required"), nil
	}
	input, err := parseInputArg(request.GetString("input", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	parent, err := s.db.FindAgent(ctx, s.workspaceID, parentName)
	if err != nil {
		return errorResult(fmt.Sprintf("parent lookup failed: %v", err)), nil
	}

	parentCtx := tools.NewExecContext(s.workspaceID, parent, uuid.Nil, 0, mcpCaller)
	result, err := s.spawner.Spawn(ctx, targetName, input, parentCtx)
	if err != nil {
		return errorResult(fmt.Sprintf("spawn failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(result, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleMemory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("agent", "")
	action := request.GetString("action", "")
	key := request.GetString("key", "")
	if name == "" || action == "" {
		return errorResult("agent and action are required"), nil
	}

	agent, err := s.db.FindAgent(ctx, s.workspaceID, name)
	if err != nil {
		return errorResult(fmt.Sprintf("agent lookup failed: %v", err)), nil
	}

	switch action {
	case "get":
		entry, err := s.db.GetMemory(ctx, s.workspaceID, agent.ID, key)
		if err != nil {
			return errorResult(fmt.Sprintf("get failed: %v", err)), nil
		}
		return jsonResult(entry), nil
	case "set":
		raw := request.GetString("value", "")
		if !json.Valid([]byte(raw)) {
			return errorResult("value must be valid JSON"), nil
		}
		entry, err := s.db.SetMemory(ctx, s.workspaceID, agent.ID, key, json.RawMessage(raw), nil)
		if err != nil {
			return errorResult(fmt.Sprintf("set failed: %v", err)), nil
		}
		return jsonResult(entry), nil
	case "delete":
		if err := s.db.DeleteMemory(ctx, s.workspaceID, agent.ID, key); err != nil {
			return errorResult(fmt.Sprintf("delete failed: %v", err)), nil
		}
		return textResult(`{"deleted":true}`), nil
	case "list":
		entries, err := s.db.ListMemory(ctx, s.workspaceID, agent.ID)
		if err != nil {
			return errorResult(fmt.Sprintf("list failed: %v", err)), nil
		}
		return jsonResult(entries), nil
	default:
		return errorResult(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *Server) handleShared(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action := request.GetString("action", "")
	key := request.GetString("key", "")
	if action == "" {
		return errorResult("action is required"), nil
	}

	switch action {
	case "get":
		entry, err := s.db.GetShared(ctx, s.workspaceID, key)
		if err != nil {
			return errorResult(fmt.Sprintf("get failed: %v", err)), nil
		}
		return jsonResult(entry), nil
	case "set":
		raw := request.GetString("value", "")
		if !json.Valid([]byte(raw)) {
			return errorResult("value must be valid JSON"), nil
		}
		var ttl *time.Duration
		if secs := request.GetInt("ttl_seconds", 0); secs > 0 {
			d := time.Duration(secs) * time.Second
			ttl = &d
		}
		entry, err := s.db.SetShared(ctx, s.workspaceID, key, json.RawMessage(raw), ttl, nil, nil)
		if err != nil {
			return errorResult(fmt.Sprintf("set failed: %v", err)), nil
		}
		return jsonResult(entry), nil
	case "delete":
		if err := s.db.DeleteShared(ctx, s.workspaceID, key); err != nil {
			return errorResult(fmt.Sprintf("delete failed: %v", err)), nil
		}
		return textResult(`{"deleted":true}`), nil
	case "list":
		entries, err := s.db.ListShared(ctx, s.workspaceID)
		if err != nil {
			return errorResult(fmt.Sprintf("list failed: %v", err)), nil
		}
		return jsonResult(entries), nil
	default:
		return errorResult(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *Server) handleApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	toolName := request.GetString("tool_name", "")
	if toolName == "" {
		return errorResult("tool_name is required"), nil
	}
	agentGoal := request.GetString("agent_goal", "")

	matches, err := s.approvals.Match(ctx, s.workspaceID, toolName, agentGoal)
	if err != nil {
		return errorResult(fmt.Sprintf("match failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return jsonResult(map[string]any{"approved": false}), nil
	}

	best := matches[0]
	out := map[string]any{
		"approved":    true,
		"pattern_id":  best.ID,
		"trust_level": best.TrustLevel,
	}
	if request.GetBool("record_use", false) {
		usage, err := s.approvals.RecordUsage(ctx, s.workspaceID, best.ID)
		if err != nil {
			return errorResult(fmt.Sprintf("record use failed: %v", err)), nil
		}
		out["usage_count"] = usage.UsageCount
		out["trust_level"] = usage.TrustLevel
		out["promoted"] = usage.Promoted
	}
	return jsonResult(out), nil
}

func parseInputArg(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, err
	}
	return input, nil
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return textResult(string(data))
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
