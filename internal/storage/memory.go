package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/baleyhq/baley/internal/model"
)

const memoryColumns = `workspace_id, agent_id, key, value, execution_id, created_at, updated_at`

func scanMemoryEntry(row pgx.Row) (model.MemoryEntry, error) {
	var m model.MemoryEntry
	err := row.Scan(&m.WorkspaceID, &m.AgentID, &m.Key, &m.Value, &m.ExecutionID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// SetMemory upserts an agent-scoped memory entry. Concurrent writes to the
// same key converge on a single row with last-writer-wins semantics.
func (db *DB) SetMemory(ctx context.Context, workspaceID, agentID uuid.UUID, key string, value json.RawMessage, executionID *uuid.UUID) (model.MemoryEntry, error) {
	m, err := scanMemoryEntry(db.pool.QueryRow(ctx,
		`INSERT INTO memory_entries (workspace_id, agent_id, key, value, execution_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (workspace_id, agent_id, key)
		 DO UPDATE SET value = EXCLUDED.value, execution_id = EXCLUDED.execution_id, updated_at = now()
		 RETURNING `+memoryColumns,
		workspaceID, agentID, key, value, executionID,
	))
	if err != nil {
		return model.MemoryEntry{}, fmt.Errorf("storage: set memory %q: %w", key, err)
	}
	return m, nil
}

// GetMemory retrieves a single memory entry.
func (db *DB) GetMemory(ctx context.Context, workspaceID, agentID uuid.UUID, key string) (model.MemoryEntry, error) {
	m, err := scanMemoryEntry(db.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memory_entries WHERE workspace_id = $1 AND agent_id = $2 AND key = $3`,
		workspaceID, agentID, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MemoryEntry{}, fmt.Errorf("storage: memory %q: %w", key, ErrNotFound)
		}
		return model.MemoryEntry{}, fmt.Errorf("storage: get memory %q: %w", key, err)
	}
	return m, nil
}

// ListMemory returns all memory entries for an agent in key order.
func (db *DB) ListMemory(ctx context.Context, workspaceID, agentID uuid.UUID) ([]model.MemoryEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memory_entries WHERE workspace_id = $1 AND agent_id = $2 ORDER BY key ASC`,
		workspaceID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list memory: %w", err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		m, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan memory entry: %w", err)
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// DeleteMemory removes a single memory entry.
func (db *DB) DeleteMemory(ctx context.Context, workspaceID, agentID uuid.UUID, key string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE workspace_id = $1 AND agent_id = $2 AND key = $3`,
		workspaceID, agentID, key,
	)
	if err != nil {
		return fmt.Errorf("storage: delete memory %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: memory %q: %w", key, ErrNotFound)
	}
	return nil
}

// ClearMemory removes all memory entries for an agent. Returns the number of
// entries removed.
func (db *DB) ClearMemory(ctx context.Context, workspaceID, agentID uuid.UUID) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE workspace_id = $1 AND agent_id = $2`,
		workspaceID, agentID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: clear memory: %w", err)
	}
	return tag.RowsAffected(), nil
}
