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

const executionColumns = `id, workspace_id, agent_id, status, input, output, error, triggered_by, trigger_source, spawn_depth, parent_id, started_at, completed_at, duration_ms, created_at`

func scanExecution(row pgx.Row) (model.Execution, error) {
	var e model.Execution
	err := row.Scan(
		&e.ID, &e.WorkspaceID, &e.AgentID, &e.Status, &e.Input, &e.Output, &e.Error,
		&e.TriggeredBy, &e.TriggerSource, &e.SpawnDepth, &e.ParentID,
		&e.StartedAt, &e.CompletedAt, &e.DurationMs, &e.CreatedAt,
	)
	return e, err
}

// CreateExecution inserts a new execution record and increments the owning
// agent's run counter atomically within a single transaction — the only pair
// of writes in the system that must commit together.
func (db *DB) CreateExecution(ctx context.Context, exec model.Execution) (model.Execution, error) {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = now
	}
	if exec.Status == "" {
		exec.Status = model.ExecutionPending
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Execution{}, fmt.Errorf("storage: begin create execution tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO executions (id, workspace_id, agent_id, status, input, output, error, triggered_by, trigger_source, spawn_depth, parent_id, started_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		exec.ID, exec.WorkspaceID, exec.AgentID, string(exec.Status), exec.Input, exec.Output, exec.Error,
		string(exec.TriggeredBy), exec.TriggerSource, exec.SpawnDepth, exec.ParentID, exec.StartedAt, exec.CreatedAt,
	); err != nil {
		return model.Execution{}, fmt.Errorf("storage: create execution: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agents SET run_count = run_count + 1 WHERE id = $1`, exec.AgentID,
	); err != nil {
		return model.Execution{}, fmt.Errorf("storage: increment run count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Execution{}, fmt.Errorf("storage: commit create execution tx: %w", err)
	}
	return exec, nil
}

// UpdateExecution records a terminal status with output, error, and timing.
// This is a best-effort, independently-committed write — it is never rolled
// back by a later failure elsewhere in the chain.
func (db *DB) UpdateExecution(ctx context.Context, id uuid.UUID, status model.ExecutionStatus, output map[string]any, execErr *string) (model.Execution, error) {
	now := time.Now().UTC()
	e, err := scanExecution(db.pool.QueryRow(ctx,
		`UPDATE executions
		 SET status = $1, output = $2, error = $3, completed_at = $4,
		     duration_ms = (EXTRACT(EPOCH FROM ($4::timestamptz - started_at)) * 1000)::bigint
		 WHERE id = $5
		 RETURNING `+executionColumns,
		string(status), output, execErr, now, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Execution{}, fmt.Errorf("storage: execution %s: %w", id, ErrNotFound)
		}
		return model.Execution{}, fmt.Errorf("storage: update execution: %w", err)
	}
	return e, nil
}

// MarkExecutionRunning flips a pending execution to running.
func (db *DB) MarkExecutionRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE executions SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.ExecutionRunning), id, string(model.ExecutionPending),
	)
	if err != nil {
		return fmt.Errorf("storage: mark execution running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: execution %s not pending: %w", id, ErrNotFound)
	}
	return nil
}

// GetExecution retrieves an execution by id within a workspace.
func (db *DB) GetExecution(ctx context.Context, workspaceID, id uuid.UUID) (model.Execution, error) {
	e, err := scanExecution(db.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Execution{}, fmt.Errorf("storage: execution %s: %w", id, ErrNotFound)
		}
		return model.Execution{}, fmt.Errorf("storage: get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions for an agent, newest first.
func (db *DB) ListExecutions(ctx context.Context, workspaceID, agentID uuid.UUID, limit, offset int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE workspace_id = $1 AND agent_id = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		workspaceID, agentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// CountExecutionsByStatus returns per-status execution counts for a workspace.
func (db *DB) CountExecutionsByStatus(ctx context.Context, workspaceID uuid.UUID) (map[model.ExecutionStatus]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT status, count(*) FROM executions WHERE workspace_id = $1 GROUP BY status`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ExecutionStatus]int)
	for rows.Next() {
		var status string
		var c int
		if err := rows.Scan(&status, &c); err != nil {
			return nil, fmt.Errorf("storage: scan execution count: %w", err)
		}
		counts[model.ExecutionStatus(status)] = c
	}
	return counts, rows.Err()
}
