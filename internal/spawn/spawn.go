// Package spawn implements the recursive spawn executor: running one agent
// as a child of another with depth, policy, and cycle protection.
package spawn

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/policy"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/tools"
)

// DepthError reports a spawn attempted at or beyond the configured depth
// limit. No execution record exists for the rejected spawn.
type DepthError struct {
	Depth int
	Max   int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("spawn depth %d exceeds maximum %d", e.Depth, e.Max)
}

// PolicyError reports a target agent whose declared tools violate workspace
// policy. Tool names the first offending tool.
type PolicyError struct {
	AgentName string
	Tool      string
	Forbidden bool
}

func (e *PolicyError) Error() string {
	if e.Forbidden {
		return fmt.Sprintf("agent %q declares tool %q, which is forbidden by workspace policy", e.AgentName, e.Tool)
	}
	return fmt.Sprintf("agent %q declares tool %q, which is not in the workspace allowlist", e.AgentName, e.Tool)
}

// Executor runs spawn requests. It satisfies the registry's Spawner
// interface so the spawn_agent tool can reach it.
type Executor struct {
	db       *storage.DB
	exec     *exec.Service
	policies *policy.Loader
	maxDepth int
	logger   *slog.Logger
}

// NewExecutor creates a spawn executor with the given depth limit.
func NewExecutor(db *storage.DB, execSvc *exec.Service, policies *policy.Loader, maxDepth int, logger *slog.Logger) *Executor {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Executor{
		db:       db,
		exec:     execSvc,
		policies: policies,
		maxDepth: maxDepth,
		logger:   logger.With("component", "spawn"),
	}
}

// MaxDepth returns the configured recursion limit.
func (x *Executor) MaxDepth() int { return x.maxDepth }

// Spawn runs the target agent one level below the calling execution.
//
// The depth check happens synchronously before any suspension point and
// before any execution record is created, so two concurrent spawns at the
// boundary depth cannot race past the limit and a rejected spawn leaves no
// trace. Resolution tries an identifier-shaped match first, then exact name.
func (x *Executor) Spawn(ctx context.Context, targetIDOrName string, input map[string]any, parent *tools.ExecContext) (model.SpawnResult, error) {
	if parent.SpawnDepth >= x.maxDepth {
		return model.SpawnResult{}, &DepthError{Depth: parent.SpawnDepth, Max: x.maxDepth}
	}

	target, err := x.db.FindAgent(ctx, parent.WorkspaceID, targetIDOrName)
	if err != nil {
		return model.SpawnResult{}, err
	}

	if err := x.checkPolicy(ctx, target); err != nil {
		return model.SpawnResult{}, err
	}

	x.logger.Info("spawning agent",
		"target", target.Name, "parent_execution_id", parent.ExecutionID,
		"depth", parent.SpawnDepth+1, "workspace_id", parent.WorkspaceID)

	opts := exec.Options{
		TriggeredBy:  model.TriggeredAgent,
		SpawnDepth:   parent.SpawnDepth + 1,
		Caller:       parent.Caller,
		FireTriggers: true,
	}
	// Spawns initiated outside a running execution (API callers acting as an
	// agent) have no parent record to link.
	if parent.ExecutionID != uuid.Nil {
		source := parent.ExecutionID.String()
		parentID := parent.ExecutionID
		opts.TriggerSource = &source
		opts.ParentID = &parentID
	}
	final, err := x.exec.Execute(ctx, target, input, opts)
	if err != nil {
		// The child's record is already terminal; the parent must still see
		// the failure to decide how to proceed.
		return model.SpawnResult{}, err
	}

	var duration int64
	if final.DurationMs != nil {
		duration = *final.DurationMs
	}
	return model.SpawnResult{
		Output:      final.Output,
		ExecutionID: final.ID,
		DurationMs:  duration,
	}, nil
}

// checkPolicy rejects the spawn when the target's declared tools intersect
// the workspace's forbidden list, or fall outside a configured allowlist.
func (x *Executor) checkPolicy(ctx context.Context, target model.Agent) error {
	pol, err := x.policies.Get(ctx, target.WorkspaceID)
	if err != nil {
		return err
	}
	for _, t := range target.Tools {
		if slices.Contains(pol.ForbiddenTools, t) {
			return &PolicyError{AgentName: target.Name, Tool: t, Forbidden: true}
		}
	}
	if pol.AllowedTools != nil {
		for _, t := range target.Tools {
			if !slices.Contains(pol.AllowedTools, t) {
				return &PolicyError{AgentName: target.Name, Tool: t}
			}
		}
	}
	return nil
}
