// Package trigger implements the completion-trigger chain engine: a
// cycle-safe directed graph of agent-to-agent edges, fired when a source
// agent's execution reaches a terminal status.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

// CycleError reports an edge that would close a cycle in the workspace's
// enabled-edge graph.
type CycleError struct {
	SourceAgentID uuid.UUID
	TargetAgentID uuid.UUID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("edge %s -> %s would create a cycle in the trigger graph", e.SourceAgentID, e.TargetAgentID)
}

// SelfTriggerError reports an agent configured to trigger itself.
type SelfTriggerError struct {
	AgentID uuid.UUID
}

func (e *SelfTriggerError) Error() string {
	return fmt.Sprintf("agent %s may not trigger itself", e.AgentID)
}

// Engine owns the trigger graph and processes completion events.
type Engine struct {
	db     *storage.DB
	exec   *exec.Service
	logger *slog.Logger
}

// NewEngine creates the trigger chain engine.
func NewEngine(db *storage.DB, execSvc *exec.Service, logger *slog.Logger) *Engine {
	return &Engine{
		db:     db,
		exec:   execSvc,
		logger: logger.With("component", "trigger"),
	}
}

// CreateEdge validates and persists a new trigger edge. Self-loops, duplicate
// (source, target) pairs, and cycle-closing edges are rejected; acyclicity is
// checked transactionally against the committed graph.
func (e *Engine) CreateEdge(ctx context.Context, edge model.TriggerEdge) (model.TriggerEdge, error) {
	if edge.Type == "" {
		edge.Type = model.TriggerOnCompletion
	}
	if !model.ValidTriggerType(edge.Type) {
		return model.TriggerEdge{}, fmt.Errorf("trigger: unknown trigger type %q", edge.Type)
	}
	if edge.SourceAgentID == edge.TargetAgentID {
		return model.TriggerEdge{}, &SelfTriggerError{AgentID: edge.SourceAgentID}
	}

	// Both endpoints must exist in the workspace.
	if _, err := e.db.GetAgentByID(ctx, edge.WorkspaceID, edge.SourceAgentID); err != nil {
		return model.TriggerEdge{}, fmt.Errorf("trigger: source agent: %w", err)
	}
	if _, err := e.db.GetAgentByID(ctx, edge.WorkspaceID, edge.TargetAgentID); err != nil {
		return model.TriggerEdge{}, fmt.Errorf("trigger: target agent: %w", err)
	}

	edge.Enabled = true
	created, err := e.db.CreateTriggerEdge(ctx, edge)
	if err != nil {
		if errors.Is(err, storage.ErrEdgeCycle) {
			return model.TriggerEdge{}, &CycleError{SourceAgentID: edge.SourceAgentID, TargetAgentID: edge.TargetAgentID}
		}
		return model.TriggerEdge{}, err
	}
	e.logger.Info("trigger edge created",
		"edge_id", created.ID, "source", created.SourceAgentID, "target", created.TargetAgentID,
		"type", created.Type, "workspace_id", created.WorkspaceID)
	return created, nil
}

// SetEnabled toggles an edge; re-enabling re-validates acyclicity.
func (e *Engine) SetEnabled(ctx context.Context, workspaceID, id uuid.UUID, enabled bool) error {
	err := e.db.SetTriggerEdgeEnabled(ctx, workspaceID, id, enabled)
	if errors.Is(err, storage.ErrEdgeCycle) {
		edge, getErr := e.db.GetTriggerEdge(ctx, workspaceID, id)
		if getErr == nil {
			return &CycleError{SourceAgentID: edge.SourceAgentID, TargetAgentID: edge.TargetAgentID}
		}
	}
	return err
}

// shouldFire applies the edge's type filter to the source status.
func shouldFire(t model.TriggerType, status model.ExecutionStatus) bool {
	switch t {
	case model.TriggerOnCompletion:
		return true
	case model.TriggerOnSuccess:
		return status == model.ExecutionCompleted
	case model.TriggerOnFailure:
		return status == model.ExecutionFailed
	}
	return false
}

// ProcessCompletion fires every enabled edge whose source matches the event,
// in fetch order. Each firing edge runs independently: a failure is captured
// into that edge's result and never blocks sibling edges. The returned slice
// holds one result per firing edge, in processing order.
func (e *Engine) ProcessCompletion(ctx context.Context, event model.CompletionEvent) []model.TriggerResult {
	edges, err := e.db.ListEnabledEdgesBySource(ctx, event.WorkspaceID, event.AgentID)
	if err != nil {
		e.logger.Error("list edges for completion failed",
			"agent_id", event.AgentID, "execution_id", event.ExecutionID, "error", err)
		return nil
	}

	var results []model.TriggerResult
	for _, edge := range edges {
		if !shouldFire(edge.Type, event.Status) {
			continue
		}
		results = append(results, e.fireEdge(ctx, edge, event))
	}
	return results
}

// fireEdge runs one target agent through the execution primitive. The new
// execution carries the edge id as its trigger source and the same
// terminal-status guarantee as any other run.
func (e *Engine) fireEdge(ctx context.Context, edge model.TriggerEdge, event model.CompletionEvent) model.TriggerResult {
	result := model.TriggerResult{
		TriggerID:     edge.ID,
		TargetAgentID: edge.TargetAgentID,
	}

	target, err := e.db.GetAgentByID(ctx, edge.WorkspaceID, edge.TargetAgentID)
	if err != nil {
		msg := err.Error()
		result.Error = &msg
		return result
	}

	input := BuildInput(edge, event.Output)
	source := edge.ID.String()
	final, err := e.exec.Execute(ctx, target, input, exec.Options{
		TriggeredBy:   model.TriggeredAgent,
		TriggerSource: &source,
		SpawnDepth:    0,
		FireTriggers:  true,
	})
	result.ExecutionID = final.ID
	if err != nil {
		msg := err.Error()
		result.Error = &msg
		return result
	}

	result.Success = true
	e.logger.Info("trigger edge fired",
		"edge_id", edge.ID, "target", target.Name, "execution_id", final.ID,
		"source_execution_id", event.ExecutionID)
	return result
}
