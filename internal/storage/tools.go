package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/baleyhq/baley/internal/model"
)

// ErrDuplicateTool is returned when a promoted tool name already exists in
// the workspace.
var ErrDuplicateTool = errors.New("storage: tool name already exists")

const workspaceToolColumns = `id, workspace_id, name, description, input_schema, danger_level, requires_approval, kind, implementation, promoted_by, created_at`

func scanWorkspaceTool(row pgx.Row) (model.PermanentTool, error) {
	var t model.PermanentTool
	err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.Definition.Name, &t.Definition.Description, &t.Definition.InputSchema,
		&t.Definition.DangerLevel, &t.Definition.RequiresApproval, &t.Definition.Kind,
		&t.Definition.Implementation, &t.PromotedBy, &t.CreatedAt,
	)
	t.Definition.Provenance = model.ToolPromoted
	return t, err
}

// CreateWorkspaceTool persists a promoted tool definition.
func (db *DB) CreateWorkspaceTool(ctx context.Context, tool model.PermanentTool) (model.PermanentTool, error) {
	if tool.ID == uuid.Nil {
		tool.ID = uuid.New()
	}
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = time.Now().UTC()
	}
	if tool.Definition.InputSchema == nil {
		tool.Definition.InputSchema = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO workspace_tools (id, workspace_id, name, description, input_schema, danger_level, requires_approval, kind, implementation, promoted_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tool.ID, tool.WorkspaceID, tool.Definition.Name, tool.Definition.Description, tool.Definition.InputSchema,
		string(tool.Definition.DangerLevel), tool.Definition.RequiresApproval, string(tool.Definition.Kind),
		tool.Definition.Implementation, tool.PromotedBy, tool.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.PermanentTool{}, fmt.Errorf("storage: tool %q: %w", tool.Definition.Name, ErrDuplicateTool)
		}
		return model.PermanentTool{}, fmt.Errorf("storage: create workspace tool: %w", err)
	}
	tool.Definition.Provenance = model.ToolPromoted
	return tool, nil
}

// GetWorkspaceTool retrieves a promoted tool by name.
func (db *DB) GetWorkspaceTool(ctx context.Context, workspaceID uuid.UUID, name string) (model.PermanentTool, error) {
	t, err := scanWorkspaceTool(db.pool.QueryRow(ctx,
		`SELECT `+workspaceToolColumns+` FROM workspace_tools WHERE workspace_id = $1 AND name = $2`,
		workspaceID, name,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PermanentTool{}, fmt.Errorf("storage: tool %q: %w", name, ErrNotFound)
		}
		return model.PermanentTool{}, fmt.Errorf("storage: get workspace tool: %w", err)
	}
	return t, nil
}

// ListWorkspaceTools returns all promoted tools in a workspace in name order.
func (db *DB) ListWorkspaceTools(ctx context.Context, workspaceID uuid.UUID) ([]model.PermanentTool, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+workspaceToolColumns+` FROM workspace_tools WHERE workspace_id = $1 ORDER BY name ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list workspace tools: %w", err)
	}
	defer rows.Close()

	var tools []model.PermanentTool
	for rows.Next() {
		t, err := scanWorkspaceTool(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan workspace tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// DeleteWorkspaceTool removes a promoted tool by name.
func (db *DB) DeleteWorkspaceTool(ctx context.Context, workspaceID uuid.UUID, name string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM workspace_tools WHERE workspace_id = $1 AND name = $2`,
		workspaceID, name,
	)
	if err != nil {
		return fmt.Errorf("storage: delete workspace tool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: tool %q: %w", name, ErrNotFound)
	}
	return nil
}
