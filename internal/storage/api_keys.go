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

const apiKeyColumns = `id, key_id, key_hash, workspace_id, role, label, created_at, expires_at, last_used_at`

func scanAPIKey(row pgx.Row) (model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(&k.ID, &k.KeyID, &k.KeyHash, &k.WorkspaceID, &k.Role, &k.Label, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt)
	return k, err
}

// CreateAPIKey inserts a new API key record.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	if key.Role == "" {
		key.Role = model.RoleAgent
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_id, key_hash, workspace_id, role, label, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.KeyID, key.KeyHash, key.WorkspaceID, string(key.Role), key.Label, key.CreatedAt, key.ExpiresAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return key, nil
}

// GetActiveAPIKey looks up a non-expired key by its public key id. Used
// during token exchange before the workspace is known.
func (db *DB) GetActiveAPIKey(ctx context.Context, keyID string) (model.APIKey, error) {
	k, err := scanAPIKey(db.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE key_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		keyID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key: %w", err)
	}
	return k, nil
}

// TouchAPIKeyLastUsed updates last_used_at. Fire-and-forget from the token
// exchange path.
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: touch api key last_used: %w", err)
	}
	return nil
}

// DeleteAPIKey removes a key by its public key id within a workspace.
func (db *DB) DeleteAPIKey(ctx context.Context, workspaceID uuid.UUID, keyID string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE workspace_id = $1 AND key_id = $2`, workspaceID, keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %q: %w", keyID, ErrNotFound)
	}
	return nil
}
