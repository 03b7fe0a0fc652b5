// Package runner abstracts the model backend that executes agent goals.
//
// Defines a Runner interface and two implementations: an Ollama-backed runner
// for local inference and a noop runner used when no backend is configured.
// The interface allows swapping backends without changing the executor.
package runner

import (
	"context"
	"encoding/json"

	"github.com/baleyhq/baley/internal/model"
)

// Request carries everything a backend needs to run one agent turn.
type Request struct {
	Agent model.Agent
	// Input is the structured input for this execution.
	Input map[string]any
	// Tools are the runtime tool definitions visible to the agent,
	// including any ephemeral tools created earlier in the same execution.
	Tools []model.ToolDefinition
	// Invoke calls a runtime tool by name on behalf of the agent. The
	// executor binds it to the execution's tool map, so tools created
	// mid-run are callable too. Nil when no tool surface is attached.
	Invoke func(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	// SpawnDepth is the position in the spawn chain, 0 for a root execution.
	SpawnDepth int
}

// Result is a completed agent turn.
type Result struct {
	// Output is the structured output of the run. Backends that produce
	// plain text wrap it as {"text": ...}.
	Output map[string]any
	// Raw is the unprocessed backend response, kept for diagnostics.
	Raw json.RawMessage
}

// Runner executes a single agent turn against a model backend.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
	// Name identifies the backend in logs and health output.
	Name() string
}

// Noop echoes the input back as output. Used when no model backend is
// configured, which keeps the governance paths (records, triggers, approvals)
// fully exercisable without inference.
type Noop struct{}

// NewNoop creates a runner that echoes its input.
func NewNoop() *Noop {
	return &Noop{}
}

// Name identifies the backend.
func (*Noop) Name() string { return "noop" }

// Run returns the input as the output, tagged with the agent name.
func (*Noop) Run(_ context.Context, req Request) (Result, error) {
	out := map[string]any{
		"agent": req.Agent.Name,
		"echo":  req.Input,
	}
	return Result{Output: out}, nil
}
