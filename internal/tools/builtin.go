package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baleyhq/baley/internal/model"
)

// Built-in tool names. These are reserved: an ephemeral tool may not shadow
// any of them.
const (
	ToolWebSearch     = "web_search"
	ToolHTTPRequest   = "http_request"
	ToolDatabaseQuery = "database_query"
	ToolMemory        = "memory"
	ToolSharedStorage = "shared_storage"
	ToolSpawnAgent    = "spawn_agent"
	ToolCreateTool    = "create_tool"
	ToolCreateAgent   = "create_agent"
	ToolPromoteTool   = "promote_tool"
	ToolPromoteAgent  = "promote_agent"
)

// builtinDefs is the authoritative metadata table for built-in tools. Danger
// level and the approval flag are looked up here by name, never derived from
// a handler at call time.
var builtinDefs = map[string]model.ToolDefinition{
	ToolWebSearch: {
		Name:        ToolWebSearch,
		Description: "Search the web and return result snippets.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
		}, "query"),
		DangerLevel:      model.DangerSafe,
		RequiresApproval: false,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolHTTPRequest: {
		Name:        ToolHTTPRequest,
		Description: "Perform an HTTP request and return status, headers, and body.",
		InputSchema: objectSchema(map[string]any{
			"url":    map[string]any{"type": "string"},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "DELETE"}},
			"body":   map[string]any{"type": "string"},
		}, "url"),
		DangerLevel:      model.DangerModerate,
		RequiresApproval: true,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolDatabaseQuery: {
		Name:        ToolDatabaseQuery,
		Description: "Run a read-only SQL query against a connected database.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
		}, "query"),
		DangerLevel:      model.DangerDangerous,
		RequiresApproval: true,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolMemory: {
		Name:        ToolMemory,
		Description: "Agent-scoped key/value memory that persists across executions. Actions: get, set, delete, list.",
		InputSchema: objectSchema(map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"get", "set", "delete", "list"}},
			"key":    map[string]any{"type": "string"},
			"value":  map[string]any{},
		}, "action"),
		DangerLevel:      model.DangerSafe,
		RequiresApproval: false,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolSharedStorage: {
		Name:        ToolSharedStorage,
		Description: "Workspace-scoped key/value storage for cross-agent hand-off, with optional TTL. Actions: write, read, delete, list.",
		InputSchema: objectSchema(map[string]any{
			"action":      map[string]any{"type": "string", "enum": []string{"write", "read", "delete", "list"}},
			"key":         map[string]any{"type": "string"},
			"value":       map[string]any{},
			"ttl_seconds": map[string]any{"type": "integer"},
		}, "action"),
		DangerLevel:      model.DangerSafe,
		RequiresApproval: false,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolSpawnAgent: {
		Name:        ToolSpawnAgent,
		Description: "Run another agent in this workspace as a child of the current execution and return its output.",
		InputSchema: objectSchema(map[string]any{
			"agent": map[string]any{"type": "string", "description": "Agent id or exact name."},
			"input": map[string]any{"type": "object"},
		}, "agent"),
		DangerLevel:      model.DangerModerate,
		RequiresApproval: false,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolCreateTool: {
		Name:        ToolCreateTool,
		Description: "Create an ephemeral tool, available for the rest of this execution, from a natural-language implementation.",
		InputSchema: objectSchema(map[string]any{
			"name":           map[string]any{"type": "string"},
			"description":    map[string]any{"type": "string"},
			"implementation": map[string]any{"type": "string"},
		}, "name", "description", "implementation"),
		DangerLevel:      model.DangerModerate,
		RequiresApproval: false,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolCreateAgent: {
		Name:        ToolCreateAgent,
		Description: "Create an ephemeral agent with a subset of this execution's tools and run it immediately.",
		InputSchema: objectSchema(map[string]any{
			"name":  map[string]any{"type": "string"},
			"goal":  map[string]any{"type": "string"},
			"tools": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"model": map[string]any{"type": "string"},
			"input": map[string]any{"type": "object"},
		}, "name", "goal"),
		DangerLevel:      model.DangerModerate,
		RequiresApproval: false,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolPromoteTool: {
		Name:        ToolPromoteTool,
		Description: "Persist an ephemeral tool created in this execution as a permanent workspace tool.",
		InputSchema: objectSchema(map[string]any{
			"name": map[string]any{"type": "string"},
		}, "name"),
		DangerLevel:      model.DangerModerate,
		RequiresApproval: true,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
	ToolPromoteAgent: {
		Name:        ToolPromoteAgent,
		Description: "Persist an agent definition as a permanent agent in this workspace.",
		InputSchema: objectSchema(map[string]any{
			"name":  map[string]any{"type": "string"},
			"goal":  map[string]any{"type": "string"},
			"tools": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"model": map[string]any{"type": "string"},
		}, "name", "goal"),
		DangerLevel:      model.DangerModerate,
		RequiresApproval: true,
		Provenance:       model.ToolBuiltin,
		Kind:             model.HandlerNative,
	},
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// IsReserved reports whether a name collides with a built-in tool.
func IsReserved(name string) bool {
	_, ok := builtinDefs[name]
	return ok
}

// BuiltinDefinition looks up built-in tool metadata by name.
func BuiltinDefinition(name string) (model.ToolDefinition, bool) {
	def, ok := builtinDefs[name]
	return def, ok
}

// maxHTTPBody caps response bodies returned to agents.
const maxHTTPBody = 256 * 1024

func (r *Registry) httpRequestHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		url, _ := args["url"].(string)
		if url == "" {
			return nil, &ValidationError{Name: ToolHTTPRequest, Reason: "url is required"}
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, &ValidationError{Name: ToolHTTPRequest, Reason: "url must be http or https"}
		}
		method, _ := args["method"].(string)
		if method == "" {
			method = http.MethodGet
		}
		var body io.Reader
		if b, ok := args["body"].(string); ok && b != "" {
			body = strings.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
		if err != nil {
			return nil, fmt.Errorf("http_request: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http_request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
		if err != nil {
			return nil, fmt.Errorf("http_request: read body: %w", err)
		}

		out := map[string]any{
			"status": resp.StatusCode,
			"body":   string(data),
		}
		if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
			var parsed any
			if json.Unmarshal(data, &parsed) == nil {
				out["json"] = parsed
			}
		}
		r.logger.Debug("http_request tool call",
			"execution_id", ec.ExecutionID, "method", method, "status", resp.StatusCode)
		return out, nil
	}
}

// webSearchHandler and databaseQueryHandler are extension points: the core
// registers their metadata so policy and approval checks apply, but the
// backends are wired by the deployment. Unconfigured, they fail the call.
func (r *Registry) webSearchHandler(*ExecContext) Handler {
	return func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("web_search: no search backend configured")
	}
}

func (r *Registry) databaseQueryHandler(*ExecContext) Handler {
	return func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("database_query: no external database connection configured")
	}
}

func newToolHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
