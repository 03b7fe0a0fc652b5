package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/baleyhq/baley/internal/model"
)

const sharedColumns = `workspace_id, key, value, expires_at, agent_id, execution_id, created_at, updated_at`

func scanSharedEntry(row pgx.Row) (model.SharedEntry, error) {
	var s model.SharedEntry
	err := row.Scan(&s.WorkspaceID, &s.Key, &s.Value, &s.ExpiresAt, &s.AgentID, &s.ExecutionID, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// SetShared upserts a workspace-scoped shared entry. A non-nil ttl sets the
// expiry relative to now; nil means the entry never expires. Rewriting an
// existing key replaces its expiry as well as its value.
func (db *DB) SetShared(ctx context.Context, workspaceID uuid.UUID, key string, value json.RawMessage, ttl *time.Duration, agentID, executionID *uuid.UUID) (model.SharedEntry, error) {
	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}
	s, err := scanSharedEntry(db.pool.QueryRow(ctx,
		`INSERT INTO shared_entries (workspace_id, key, value, expires_at, agent_id, execution_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (workspace_id, key)
		 DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at,
		               agent_id = EXCLUDED.agent_id, execution_id = EXCLUDED.execution_id, updated_at = now()
		 RETURNING `+sharedColumns,
		workspaceID, key, value, expiresAt, agentID, executionID,
	))
	if err != nil {
		return model.SharedEntry{}, fmt.Errorf("storage: set shared %q: %w", key, err)
	}
	return s, nil
}

// GetShared retrieves a shared entry, treating an elapsed TTL as absence.
// Expired rows are deleted eagerly on read rather than waiting for the sweep.
func (db *DB) GetShared(ctx context.Context, workspaceID uuid.UUID, key string) (model.SharedEntry, error) {
	s, err := scanSharedEntry(db.pool.QueryRow(ctx,
		`SELECT `+sharedColumns+` FROM shared_entries WHERE workspace_id = $1 AND key = $2`,
		workspaceID, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SharedEntry{}, fmt.Errorf("storage: shared %q: %w", key, ErrNotFound)
		}
		return model.SharedEntry{}, fmt.Errorf("storage: get shared %q: %w", key, err)
	}
	if s.ExpiresAt != nil && !time.Now().UTC().Before(*s.ExpiresAt) {
		// Guard the delete on the same expiry so a concurrent rewrite with a
		// fresh TTL is never removed.
		_, _ = db.pool.Exec(ctx,
			`DELETE FROM shared_entries WHERE workspace_id = $1 AND key = $2 AND expires_at = $3`,
			workspaceID, key, s.ExpiresAt,
		)
		return model.SharedEntry{}, fmt.Errorf("storage: shared %q: %w", key, ErrNotFound)
	}
	return s, nil
}

// ListShared returns all live shared entries in a workspace, excluding any
// whose TTL has elapsed, in key order.
func (db *DB) ListShared(ctx context.Context, workspaceID uuid.UUID) ([]model.SharedEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sharedColumns+` FROM shared_entries
		 WHERE workspace_id = $1 AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY key ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list shared: %w", err)
	}
	defer rows.Close()

	var entries []model.SharedEntry
	for rows.Next() {
		s, err := scanSharedEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan shared entry: %w", err)
		}
		entries = append(entries, s)
	}
	return entries, rows.Err()
}

// DeleteShared removes a shared entry.
func (db *DB) DeleteShared(ctx context.Context, workspaceID uuid.UUID, key string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM shared_entries WHERE workspace_id = $1 AND key = $2`,
		workspaceID, key,
	)
	if err != nil {
		return fmt.Errorf("storage: delete shared %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: shared %q: %w", key, ErrNotFound)
	}
	return nil
}

// SweepExpiredShared removes every shared entry whose TTL has elapsed.
// Returns the number of entries removed.
func (db *DB) SweepExpiredShared(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM shared_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep expired shared: %w", err)
	}
	return tag.RowsAffected(), nil
}
