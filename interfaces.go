package baley

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Runner executes a single agent turn against a model backend.
// When provided via WithRunner, replaces the auto-detected Ollama/noop backend.
// Uses plain maps (not internal request types) so external consumers don't
// depend on internal packages; New() wraps it in an adapter for internal use.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (map[string]any, error)
	// Name identifies the backend in logs and health output.
	Name() string
}

// RunRequest carries everything a Runner needs for one agent turn.
type RunRequest struct {
	AgentName string
	Goal      string
	Model     string
	Input     map[string]any
	// Tools are the names of the tools visible to the agent for this turn.
	Tools []string
	// Invoke calls a runtime tool by name within this execution: built-ins,
	// the workspace's promoted tools, and ephemeral tools created earlier in
	// the same run. Safe for concurrent use. Nil when no tool surface is
	// attached (interpreted sub-agent turns).
	Invoke func(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	// SpawnDepth is the position in the spawn chain, 0 for a root execution.
	SpawnDepth int
}

// CompletionHook receives async notifications when an execution reaches a
// terminal status. Multiple hooks may be registered via multiple
// WithCompletionHook calls. Hook methods run in goroutines — they must not
// block indefinitely. Failures are logged but never fail the execution.
type CompletionHook interface {
	OnExecutionCompleted(ctx context.Context, ev Completion) error
}

// Completion is the public shape of a terminal execution event.
type Completion struct {
	ExecutionID uuid.UUID
	AgentID     uuid.UUID
	AgentName   string
	WorkspaceID uuid.UUID
	Status      string
	Output      map[string]any
	Error       *string
	SpawnDepth  int
	CompletedAt time.Time
}
