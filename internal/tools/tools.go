// Package tools implements the tool registry and the ephemeral tool/agent
// lifecycle.
//
// A Registry binds built-in, promoted, and execution-scoped ephemeral tools
// to an ExecContext. There is no process-global tool state: each execution
// owns its context and the ephemeral tools registered into it, so nothing
// leaks across requests.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/model"
)

// Handler executes one tool call with already-bound context.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Spawner starts a child agent execution on behalf of a tool call. Implemented
// by the spawn executor; declared here so the registry does not depend on it.
type Spawner interface {
	Spawn(ctx context.Context, targetIDOrName string, input map[string]any, ec *ExecContext) (model.SpawnResult, error)
}

// ValidationError reports malformed ephemeral tool or agent configuration.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Name, e.Reason)
}

// ExecContext carries the identities of one execution plus its private
// ephemeral tool table. A spawned child gets a fresh context with a fresh
// table — ephemeral tools never cross execution boundaries.
type ExecContext struct {
	WorkspaceID uuid.UUID
	Agent       model.Agent
	ExecutionID uuid.UUID
	SpawnDepth  int
	// Caller identifies the credential that initiated the root execution.
	Caller string

	mu        sync.Mutex
	ephemeral map[string]model.ToolDefinition
}

// NewExecContext creates the context for one execution.
func NewExecContext(workspaceID uuid.UUID, agent model.Agent, executionID uuid.UUID, spawnDepth int, caller string) *ExecContext {
	return &ExecContext{
		WorkspaceID: workspaceID,
		Agent:       agent,
		ExecutionID: executionID,
		SpawnDepth:  spawnDepth,
		Caller:      caller,
		ephemeral:   make(map[string]model.ToolDefinition),
	}
}

// Child derives the context for a spawned execution: depth incremented,
// ephemeral table empty.
func (ec *ExecContext) Child(agent model.Agent, executionID uuid.UUID) *ExecContext {
	return NewExecContext(ec.WorkspaceID, agent, executionID, ec.SpawnDepth+1, ec.Caller)
}

// AddEphemeralTool registers a tool for the remainder of this execution.
func (ec *ExecContext) AddEphemeralTool(def model.ToolDefinition) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, exists := ec.ephemeral[def.Name]; exists {
		return &ValidationError{Name: def.Name, Reason: "tool already registered in this execution"}
	}
	ec.ephemeral[def.Name] = def
	return nil
}

// EphemeralTool looks up a tool registered in this execution.
func (ec *ExecContext) EphemeralTool(name string) (model.ToolDefinition, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	def, ok := ec.ephemeral[name]
	return def, ok
}

// EphemeralTools returns a snapshot of the tools registered in this execution.
func (ec *ExecContext) EphemeralTools() []model.ToolDefinition {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	defs := make([]model.ToolDefinition, 0, len(ec.ephemeral))
	for _, d := range ec.ephemeral {
		defs = append(defs, d)
	}
	return defs
}
