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

const agentColumns = `id, workspace_id, name, goal, model, tools, status, version, run_count, metadata, created_at, updated_at`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.Name, &a.Goal, &a.Model, &a.Tools,
		&a.Status, &a.Version, &a.RunCount, &a.Metadata, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// CreateAgent inserts a new agent at version 1.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	agent.Version = 1
	if agent.Status == "" {
		agent.Status = model.AgentStatusDraft
	}
	if agent.Metadata == nil {
		agent.Metadata = map[string]any{}
	}
	if agent.Tools == nil {
		agent.Tools = []string{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (id, workspace_id, name, goal, model, tools, status, version, run_count, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		agent.ID, agent.WorkspaceID, agent.Name, agent.Goal, agent.Model, agent.Tools,
		string(agent.Status), agent.Version, agent.RunCount, agent.Metadata, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

// GetAgentByID retrieves an agent by UUID, scoped to a workspace for tenant isolation.
func (db *DB) GetAgentByID(ctx context.Context, workspaceID, id uuid.UUID) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// GetAgentByName retrieves an agent by exact name within a workspace.
func (db *DB) GetAgentByName(ctx context.Context, workspaceID uuid.UUID, name string) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE workspace_id = $1 AND name = $2`,
		workspaceID, name,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %q: %w", name, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent by name: %w", err)
	}
	return a, nil
}

// FindAgent resolves an agent by identifier-shaped match first, then exact name.
func (db *DB) FindAgent(ctx context.Context, workspaceID uuid.UUID, idOrName string) (model.Agent, error) {
	if id, err := uuid.Parse(idOrName); err == nil {
		a, err := db.GetAgentByID(ctx, workspaceID, id)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Agent{}, err
		}
		// Identifier-shaped but unknown — fall through to name match.
	}
	return db.GetAgentByName(ctx, workspaceID, idOrName)
}

// ListAgents returns agents within a workspace with pagination.
// limit is clamped to [1, 1000] with a default of 200; offset must be non-negative.
func (db *DB) ListAgents(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]model.Agent, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE workspace_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent performs an optimistic-concurrency update: the write applies
// only if the stored version still matches expectedVersion, and bumps the
// version by one. Returns ErrVersionConflict when the row moved on.
func (db *DB) UpdateAgent(ctx context.Context, agent model.Agent, expectedVersion int) (model.Agent, error) {
	if agent.Tools == nil {
		agent.Tools = []string{}
	}
	if agent.Metadata == nil {
		agent.Metadata = map[string]any{}
	}
	updated, err := scanAgent(db.pool.QueryRow(ctx,
		`UPDATE agents
		 SET name = $1, goal = $2, model = $3, tools = $4, status = $5, metadata = $6,
		     version = version + 1, updated_at = now()
		 WHERE workspace_id = $7 AND id = $8 AND version = $9
		 RETURNING `+agentColumns,
		agent.Name, agent.Goal, agent.Model, agent.Tools, string(agent.Status), agent.Metadata,
		agent.WorkspaceID, agent.ID, expectedVersion,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing agent from a lost version race.
			if _, getErr := db.GetAgentByID(ctx, agent.WorkspaceID, agent.ID); getErr != nil {
				return model.Agent{}, getErr
			}
			return model.Agent{}, fmt.Errorf("storage: agent %s at version %d: %w", agent.ID, expectedVersion, ErrVersionConflict)
		}
		return model.Agent{}, fmt.Errorf("storage: update agent: %w", err)
	}
	return updated, nil
}

// UpdateAgentStatus sets only the lifecycle status, bypassing version checks.
// Used by the executor to flip an agent into the error state.
func (db *DB) UpdateAgentStatus(ctx context.Context, workspaceID, id uuid.UUID, status model.AgentStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents SET status = $1, updated_at = now() WHERE workspace_id = $2 AND id = $3`,
		string(status), workspaceID, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteAgent removes an agent and (via cascades) its executions and edges.
func (db *DB) DeleteAgent(ctx context.Context, workspaceID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM agents WHERE workspace_id = $1 AND id = $2`, workspaceID, id,
	)
	if err != nil {
		return fmt.Errorf("storage: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountAgents returns the number of agents in a workspace.
func (db *DB) CountAgents(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE workspace_id = $1`, workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count agents: %w", err)
	}
	return count, nil
}
