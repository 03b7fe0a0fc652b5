package tools

import (
	"context"
	"fmt"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/runner"
)

// ValidateEphemeralTool checks a runtime tool definition: well-formed,
// non-reserved name, non-empty description and implementation text.
func ValidateEphemeralTool(name, description, implementation string) error {
	if err := model.ValidateToolName(name); err != nil {
		return &ValidationError{Name: name, Reason: err.Error()}
	}
	if IsReserved(name) {
		return &ValidationError{Name: name, Reason: "name is reserved for a built-in tool"}
	}
	if description == "" {
		return &ValidationError{Name: name, Reason: "description is required"}
	}
	if implementation == "" {
		return &ValidationError{Name: name, Reason: "implementation is required"}
	}
	if len(implementation) > model.MaxToolImplLen {
		return &ValidationError{Name: name, Reason: "implementation exceeds maximum length"}
	}
	if len(description) > model.MaxDescriptionLen {
		return &ValidationError{Name: name, Reason: "description exceeds maximum length"}
	}
	return nil
}

func (r *Registry) createToolHandler(ec *ExecContext) Handler {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		name, _ := args["name"].(string)
		description, _ := args["description"].(string)
		implementation, _ := args["implementation"].(string)

		if err := ValidateEphemeralTool(name, description, implementation); err != nil {
			return nil, err
		}

		def := model.ToolDefinition{
			Name:             name,
			Description:      description,
			InputSchema:      objectSchema(map[string]any{}),
			DangerLevel:      model.DangerModerate,
			RequiresApproval: true,
			Provenance:       model.ToolEphemeral,
			Kind:             model.HandlerInterpreted,
			Implementation:   implementation,
		}
		if err := ec.AddEphemeralTool(def); err != nil {
			return nil, err
		}
		r.logger.Info("ephemeral tool created",
			"tool", name, "execution_id", ec.ExecutionID, "agent_id", ec.Agent.ID)
		return map[string]any{"name": name, "created": true}, nil
	}
}

// interpretedHandler executes a natural-language tool by delegating to a
// single-purpose sub-agent whose goal embeds the implementation text. The
// sub-agent's output is parsed leniently by the runner (fence stripping, JSON
// fallback); failures are wrapped with the tool name for diagnosability.
func (r *Registry) interpretedHandler(ec *ExecContext, def model.ToolDefinition) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		subAgent := model.Agent{
			Name: "tool:" + def.Name,
			Goal: fmt.Sprintf(
				"You implement the tool %q. %s\n\nImplementation:\n%s\n\nApply the implementation to the call arguments and respond with the result as JSON.",
				def.Name, def.Description, def.Implementation,
			),
		}
		res, err := r.runner.Run(ctx, runner.Request{
			Agent:      subAgent,
			Input:      args,
			SpawnDepth: ec.SpawnDepth,
		})
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		return res.Output, nil
	}
}

func (r *Registry) spawnAgentHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if r.spawner == nil {
			return nil, fmt.Errorf("spawn_agent: no spawn executor bound")
		}
		target, _ := args["agent"].(string)
		if target == "" {
			return nil, &ValidationError{Name: ToolSpawnAgent, Reason: "agent is required"}
		}
		input, _ := args["input"].(map[string]any)

		res, err := r.spawner.Spawn(ctx, target, input, ec)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"output":       res.Output,
			"execution_id": res.ExecutionID.String(),
			"duration_ms":  res.DurationMs,
		}, nil
	}
}

// createAgentHandler builds an ephemeral agent from the call arguments and
// runs it immediately. The requested tool subset is filtered down to tools
// actually present in the parent's tool map; missing names are dropped with a
// warning, not an error. Nothing is persisted.
func (r *Registry) createAgentHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		name, _ := args["name"].(string)
		goal, _ := args["goal"].(string)
		if name == "" {
			return nil, &ValidationError{Name: ToolCreateAgent, Reason: "name is required"}
		}
		if goal == "" {
			return nil, &ValidationError{Name: name, Reason: "goal is required"}
		}
		if err := model.ValidateGoal(goal); err != nil {
			return nil, &ValidationError{Name: name, Reason: err.Error()}
		}

		parentTools, err := r.GetRuntimeTools(ctx, ec)
		if err != nil {
			return nil, err
		}

		var requested []string
		if raw, ok := args["tools"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					requested = append(requested, s)
				}
			}
		}
		var granted []string
		var warnings []string
		for _, t := range requested {
			if _, ok := parentTools[t]; !ok {
				warnings = append(warnings, fmt.Sprintf("tool %q is not available and was dropped", t))
				r.logger.Warn("ephemeral agent requested unavailable tool",
					"agent", name, "tool", t, "execution_id", ec.ExecutionID)
				continue
			}
			granted = append(granted, t)
		}

		mdl, _ := args["model"].(string)
		input, _ := args["input"].(map[string]any)

		ephemeral := model.Agent{
			Name:  name,
			Goal:  goal,
			Model: mdl,
			Tools: granted,
		}
		defs := make([]model.ToolDefinition, 0, len(granted))
		for _, t := range granted {
			if def, derr := r.Definition(ctx, ec, t); derr == nil {
				defs = append(defs, def)
			}
		}

		res, err := r.runner.Run(ctx, runner.Request{
			Agent:      ephemeral,
			Input:      input,
			Tools:      defs,
			SpawnDepth: ec.SpawnDepth,
		})
		if err != nil {
			return nil, fmt.Errorf("create_agent %s: %w", name, err)
		}

		out := map[string]any{
			"agent":  name,
			"output": res.Output,
		}
		if len(warnings) > 0 {
			out["warnings"] = warnings
		}
		return out, nil
	}
}
