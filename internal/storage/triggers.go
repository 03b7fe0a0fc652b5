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

// ErrDuplicateEdge is returned when an edge with the same (source, target)
// pair already exists in the workspace.
var ErrDuplicateEdge = errors.New("storage: trigger edge already exists")

// ErrEdgeCycle is returned when inserting an edge would close a cycle in the
// workspace's enabled-edge graph.
var ErrEdgeCycle = errors.New("storage: trigger edge would create a cycle")

const triggerColumns = `id, workspace_id, source_agent_id, target_agent_id, type, enabled, field_mapping, static_input, condition, created_at, updated_at`

func scanTriggerEdge(row pgx.Row) (model.TriggerEdge, error) {
	var t model.TriggerEdge
	err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.SourceAgentID, &t.TargetAgentID, &t.Type, &t.Enabled,
		&t.FieldMapping, &t.StaticInput, &t.Condition, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

// CreateTriggerEdge inserts a trigger edge after validating acyclicity inside
// a single transaction. A per-workspace advisory lock serialises concurrent
// edge creation so two racing inserts cannot jointly form a cycle.
func (db *DB) CreateTriggerEdge(ctx context.Context, edge model.TriggerEdge) (model.TriggerEdge, error) {
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	now := time.Now().UTC()
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = now
	}
	edge.UpdatedAt = now

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.TriggerEdge{}, fmt.Errorf("storage: begin create edge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialise edge creation per workspace for the duration of this tx.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('trigger_edges'), hashtext($1::text))`,
		edge.WorkspaceID,
	); err != nil {
		return model.TriggerEdge{}, fmt.Errorf("storage: lock edge graph: %w", err)
	}

	existing, err := listTriggerEdgesTx(ctx, tx, edge.WorkspaceID)
	if err != nil {
		return model.TriggerEdge{}, err
	}
	for _, e := range existing {
		if e.SourceAgentID == edge.SourceAgentID && e.TargetAgentID == edge.TargetAgentID {
			return model.TriggerEdge{}, fmt.Errorf("storage: edge %s -> %s: %w", edge.SourceAgentID, edge.TargetAgentID, ErrDuplicateEdge)
		}
	}
	if model.HasPath(existing, edge.TargetAgentID, edge.SourceAgentID) {
		return model.TriggerEdge{}, fmt.Errorf("storage: edge %s -> %s: %w", edge.SourceAgentID, edge.TargetAgentID, ErrEdgeCycle)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trigger_edges (id, workspace_id, source_agent_id, target_agent_id, type, enabled, field_mapping, static_input, condition, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		edge.ID, edge.WorkspaceID, edge.SourceAgentID, edge.TargetAgentID, string(edge.Type), edge.Enabled,
		edge.FieldMapping, edge.StaticInput, edge.Condition, edge.CreatedAt, edge.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return model.TriggerEdge{}, fmt.Errorf("storage: edge %s -> %s: %w", edge.SourceAgentID, edge.TargetAgentID, ErrDuplicateEdge)
		}
		return model.TriggerEdge{}, fmt.Errorf("storage: create trigger edge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.TriggerEdge{}, fmt.Errorf("storage: commit create edge tx: %w", err)
	}
	return edge, nil
}

func listTriggerEdgesTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) ([]model.TriggerEdge, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+triggerColumns+` FROM trigger_edges WHERE workspace_id = $1 AND enabled`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list edges in tx: %w", err)
	}
	defer rows.Close()

	var edges []model.TriggerEdge
	for rows.Next() {
		t, err := scanTriggerEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan trigger edge: %w", err)
		}
		edges = append(edges, t)
	}
	return edges, rows.Err()
}

// GetTriggerEdge retrieves a trigger edge by id within a workspace.
func (db *DB) GetTriggerEdge(ctx context.Context, workspaceID, id uuid.UUID) (model.TriggerEdge, error) {
	t, err := scanTriggerEdge(db.pool.QueryRow(ctx,
		`SELECT `+triggerColumns+` FROM trigger_edges WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TriggerEdge{}, fmt.Errorf("storage: trigger edge %s: %w", id, ErrNotFound)
		}
		return model.TriggerEdge{}, fmt.Errorf("storage: get trigger edge: %w", err)
	}
	return t, nil
}

// ListTriggerEdges returns all edges in a workspace, enabled or not.
func (db *DB) ListTriggerEdges(ctx context.Context, workspaceID uuid.UUID) ([]model.TriggerEdge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+triggerColumns+` FROM trigger_edges WHERE workspace_id = $1 ORDER BY created_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list trigger edges: %w", err)
	}
	defer rows.Close()

	var edges []model.TriggerEdge
	for rows.Next() {
		t, err := scanTriggerEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan trigger edge: %w", err)
		}
		edges = append(edges, t)
	}
	return edges, rows.Err()
}

// ListEnabledEdgesBySource returns the enabled edges whose source matches,
// in creation order. Firing order follows this fetch order.
func (db *DB) ListEnabledEdgesBySource(ctx context.Context, workspaceID, sourceAgentID uuid.UUID) ([]model.TriggerEdge, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+triggerColumns+` FROM trigger_edges
		 WHERE workspace_id = $1 AND source_agent_id = $2 AND enabled
		 ORDER BY created_at ASC`,
		workspaceID, sourceAgentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list edges by source: %w", err)
	}
	defer rows.Close()

	var edges []model.TriggerEdge
	for rows.Next() {
		t, err := scanTriggerEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan trigger edge: %w", err)
		}
		edges = append(edges, t)
	}
	return edges, rows.Err()
}

// SetTriggerEdgeEnabled toggles an edge. Enabling re-checks acyclicity under
// the same advisory lock as creation, since a disabled edge is invisible to
// cycle validation.
func (db *DB) SetTriggerEdgeEnabled(ctx context.Context, workspaceID, id uuid.UUID, enabled bool) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin toggle edge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('trigger_edges'), hashtext($1::text))`,
		workspaceID,
	); err != nil {
		return fmt.Errorf("storage: lock edge graph: %w", err)
	}

	edge, err := scanTriggerEdge(tx.QueryRow(ctx,
		`SELECT `+triggerColumns+` FROM trigger_edges WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: trigger edge %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("storage: get trigger edge: %w", err)
	}

	if enabled && !edge.Enabled {
		existing, err := listTriggerEdgesTx(ctx, tx, workspaceID)
		if err != nil {
			return err
		}
		if model.HasPath(existing, edge.TargetAgentID, edge.SourceAgentID) {
			return fmt.Errorf("storage: edge %s -> %s: %w", edge.SourceAgentID, edge.TargetAgentID, ErrEdgeCycle)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE trigger_edges SET enabled = $1, updated_at = now() WHERE workspace_id = $2 AND id = $3`,
		enabled, workspaceID, id,
	); err != nil {
		return fmt.Errorf("storage: toggle trigger edge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit toggle edge tx: %w", err)
	}
	return nil
}

// DeleteTriggerEdge removes an edge.
func (db *DB) DeleteTriggerEdge(ctx context.Context, workspaceID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM trigger_edges WHERE workspace_id = $1 AND id = $2`, workspaceID, id,
	)
	if err != nil {
		return fmt.Errorf("storage: delete trigger edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: trigger edge %s: %w", id, ErrNotFound)
	}
	return nil
}
