package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/runner"
	"github.com/baleyhq/baley/internal/storage"
)

// Registry binds tool handlers to execution contexts. One registry serves the
// whole process; all per-execution state lives in the ExecContext it is given.
type Registry struct {
	db         *storage.DB
	runner     runner.Runner
	logger     *slog.Logger
	httpClient *http.Client

	spawner Spawner
}

// NewRegistry creates a tool registry.
func NewRegistry(db *storage.DB, rn runner.Runner, logger *slog.Logger) *Registry {
	return &Registry{
		db:         db,
		runner:     rn,
		logger:     logger.With("component", "tools"),
		httpClient: newToolHTTPClient(),
	}
}

// BindSpawner wires the spawn executor in after construction. The executor
// needs the registry to resolve child tool maps, so the two are connected at
// assembly time rather than in either constructor.
func (r *Registry) BindSpawner(s Spawner) {
	r.spawner = s
}

// GetRuntimeTools returns every tool callable in the given execution context:
// built-ins, the workspace's promoted tools, and any ephemeral tools created
// earlier in the same execution. Handlers close over the context.
func (r *Registry) GetRuntimeTools(ctx context.Context, ec *ExecContext) (map[string]Handler, error) {
	handlers := map[string]Handler{
		ToolWebSearch:     r.webSearchHandler(ec),
		ToolHTTPRequest:   r.httpRequestHandler(ec),
		ToolDatabaseQuery: r.databaseQueryHandler(ec),
		ToolMemory:        r.memoryHandler(ec),
		ToolSharedStorage: r.sharedStorageHandler(ec),
		ToolSpawnAgent:    r.spawnAgentHandler(ec),
		ToolCreateTool:    r.createToolHandler(ec),
		ToolCreateAgent:   r.createAgentHandler(ec),
		ToolPromoteTool:   r.promoteToolHandler(ec),
		ToolPromoteAgent:  r.promoteAgentHandler(ec),
	}

	promoted, err := r.db.ListWorkspaceTools(ctx, ec.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("tools: load promoted tools: %w", err)
	}
	for _, t := range promoted {
		def := t.Definition
		handlers[def.Name] = r.interpretedHandler(ec, def)
	}

	for _, def := range ec.EphemeralTools() {
		handlers[def.Name] = r.interpretedHandler(ec, def)
	}
	return handlers, nil
}

// InvokeTool dispatches one runtime tool call in the given execution
// context. The tool map is resolved at call time, so an ephemeral tool
// registered earlier in the same execution is callable here even though it
// did not exist when the run started.
func (r *Registry) InvokeTool(ctx context.Context, ec *ExecContext, name string, args map[string]any) (map[string]any, error) {
	handlers, err := r.GetRuntimeTools(ctx, ec)
	if err != nil {
		return nil, err
	}
	h, ok := handlers[name]
	if !ok {
		return nil, &ValidationError{Name: name, Reason: "not a callable tool in this execution"}
	}
	return h(ctx, args)
}

// Catalog returns the tool definitions visible in a context, in name order.
// This is what gets presented as "available tools" to a reasoning loop and to
// the MCP surface.
func (r *Registry) Catalog(ctx context.Context, ec *ExecContext) ([]model.ToolDefinition, error) {
	defs := make([]model.ToolDefinition, 0, len(builtinDefs))
	for _, d := range builtinDefs {
		defs = append(defs, d)
	}

	promoted, err := r.db.ListWorkspaceTools(ctx, ec.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("tools: load promoted tools: %w", err)
	}
	for _, t := range promoted {
		defs = append(defs, t.Definition)
	}
	defs = append(defs, ec.EphemeralTools()...)

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Definition resolves tool metadata by name in a context: built-ins first,
// then this execution's ephemeral tools, then the workspace's promoted tools.
func (r *Registry) Definition(ctx context.Context, ec *ExecContext, name string) (model.ToolDefinition, error) {
	if def, ok := BuiltinDefinition(name); ok {
		return def, nil
	}
	if def, ok := ec.EphemeralTool(name); ok {
		return def, nil
	}
	t, err := r.db.GetWorkspaceTool(ctx, ec.WorkspaceID, name)
	if err != nil {
		return model.ToolDefinition{}, err
	}
	return t.Definition, nil
}
