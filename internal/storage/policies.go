package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/baleyhq/baley/internal/model"
)

// GetWorkspacePolicy retrieves the tool policy for a workspace. A workspace
// with no stored row gets the zero policy (nothing forbidden, everything
// allowed) rather than ErrNotFound.
func (db *DB) GetWorkspacePolicy(ctx context.Context, workspaceID uuid.UUID) (model.WorkspacePolicy, error) {
	var p model.WorkspacePolicy
	err := db.pool.QueryRow(ctx,
		`SELECT workspace_id, forbidden_tools, allowed_tools, updated_at
		 FROM workspace_policies WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&p.WorkspaceID, &p.ForbiddenTools, &p.AllowedTools, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkspacePolicy{WorkspaceID: workspaceID, ForbiddenTools: []string{}}, nil
		}
		return model.WorkspacePolicy{}, fmt.Errorf("storage: get workspace policy: %w", err)
	}
	if p.ForbiddenTools == nil {
		p.ForbiddenTools = []string{}
	}
	return p, nil
}

// UpsertWorkspacePolicy replaces the tool policy for a workspace.
func (db *DB) UpsertWorkspacePolicy(ctx context.Context, policy model.WorkspacePolicy) (model.WorkspacePolicy, error) {
	if policy.ForbiddenTools == nil {
		policy.ForbiddenTools = []string{}
	}
	var p model.WorkspacePolicy
	err := db.pool.QueryRow(ctx,
		`INSERT INTO workspace_policies (workspace_id, forbidden_tools, allowed_tools, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (workspace_id)
		 DO UPDATE SET forbidden_tools = EXCLUDED.forbidden_tools, allowed_tools = EXCLUDED.allowed_tools, updated_at = now()
		 RETURNING workspace_id, forbidden_tools, allowed_tools, updated_at`,
		policy.WorkspaceID, policy.ForbiddenTools, policy.AllowedTools,
	).Scan(&p.WorkspaceID, &p.ForbiddenTools, &p.AllowedTools, &p.UpdatedAt)
	if err != nil {
		return model.WorkspacePolicy{}, fmt.Errorf("storage: upsert workspace policy: %w", err)
	}
	return p, nil
}
