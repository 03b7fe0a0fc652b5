package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

// PromoteTool makes an ephemeral tool from this execution permanent in its
// workspace. The name is checked against built-ins and existing permanent
// tools before the record is created.
func (r *Registry) PromoteTool(ctx context.Context, ec *ExecContext, name string, promotedBy string) (model.PermanentTool, error) {
	def, ok := ec.EphemeralTool(name)
	if !ok {
		return model.PermanentTool{}, fmt.Errorf("tools: ephemeral tool %q: %w", name, storage.ErrNotFound)
	}
	if IsReserved(name) {
		return model.PermanentTool{}, &ValidationError{Name: name, Reason: "name is reserved for a built-in tool"}
	}
	if _, err := r.db.GetWorkspaceTool(ctx, ec.WorkspaceID, name); err == nil {
		return model.PermanentTool{}, &ValidationError{Name: name, Reason: "a permanent tool with this name already exists"}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.PermanentTool{}, err
	}

	def.Provenance = model.ToolPromoted
	promoted, err := r.db.CreateWorkspaceTool(ctx, model.PermanentTool{
		WorkspaceID: ec.WorkspaceID,
		Definition:  def,
		PromotedBy:  &promotedBy,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateTool) {
			return model.PermanentTool{}, &ValidationError{Name: name, Reason: "a permanent tool with this name already exists"}
		}
		return model.PermanentTool{}, err
	}
	r.logger.Info("tool promoted", "tool", name, "workspace_id", ec.WorkspaceID, "promoted_by", promotedBy)
	return promoted, nil
}

// PromoteAgent persists an ephemeral agent definition as a permanent agent in
// the workspace, checking for a name collision first.
func (r *Registry) PromoteAgent(ctx context.Context, ec *ExecContext, agent model.Agent) (model.Agent, error) {
	if err := model.ValidateAgentName(agent.Name); err != nil {
		return model.Agent{}, &ValidationError{Name: agent.Name, Reason: err.Error()}
	}
	if err := model.ValidateGoal(agent.Goal); err != nil {
		return model.Agent{}, &ValidationError{Name: agent.Name, Reason: err.Error()}
	}
	if _, err := r.db.GetAgentByName(ctx, ec.WorkspaceID, agent.Name); err == nil {
		return model.Agent{}, &ValidationError{Name: agent.Name, Reason: "an agent with this name already exists"}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.Agent{}, err
	}

	agent.WorkspaceID = ec.WorkspaceID
	agent.Status = model.AgentStatusActive
	created, err := r.db.CreateAgent(ctx, agent)
	if err != nil {
		return model.Agent{}, err
	}
	r.logger.Info("agent promoted", "agent", created.Name, "workspace_id", ec.WorkspaceID)
	return created, nil
}

func (r *Registry) promoteToolHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		name, _ := args["name"].(string)
		if name == "" {
			return nil, &ValidationError{Name: ToolPromoteTool, Reason: "name is required"}
		}
		promoted, err := r.PromoteTool(ctx, ec, name, ec.Caller)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"promoted":   true,
			"name":       promoted.Definition.Name,
			"provenance": string(promoted.Definition.Provenance),
		}, nil
	}
}

// promoteAgentHandler persists an agent definition from the call arguments.
// The requested tool subset is filtered to tools callable in this execution,
// the same way create_agent filters its grant.
func (r *Registry) promoteAgentHandler(ec *ExecContext) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		name, _ := args["name"].(string)
		goal, _ := args["goal"].(string)
		mdl, _ := args["model"].(string)

		available, err := r.GetRuntimeTools(ctx, ec)
		if err != nil {
			return nil, err
		}
		var granted []string
		var warnings []string
		if raw, ok := args["tools"].([]any); ok {
			for _, v := range raw {
				s, ok := v.(string)
				if !ok {
					continue
				}
				if _, ok := available[s]; !ok {
					warnings = append(warnings, fmt.Sprintf("tool %q is not available and was dropped", s))
					continue
				}
				granted = append(granted, s)
			}
		}

		created, err := r.PromoteAgent(ctx, ec, model.Agent{
			Name:  name,
			Goal:  goal,
			Model: mdl,
			Tools: granted,
		})
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"promoted": true,
			"agent_id": created.ID.String(),
			"name":     created.Name,
		}
		if len(warnings) > 0 {
			out["warnings"] = warnings
		}
		return out, nil
	}
}
