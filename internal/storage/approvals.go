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

const approvalColumns = `id, workspace_id, tool_name, action_pattern, goal_expression, trust_level, usage_count, expires_at, revoked_at, revoked_by, revoked_reason, last_used_at, created_at`

func scanApprovalPattern(row pgx.Row) (model.ApprovalPattern, error) {
	var p model.ApprovalPattern
	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.ToolName, &p.ActionPattern, &p.GoalExpression,
		&p.TrustLevel, &p.UsageCount, &p.ExpiresAt,
		&p.RevokedAt, &p.RevokedBy, &p.RevokedReason, &p.LastUsedAt, &p.CreatedAt,
	)
	return p, err
}

// CreateApprovalPattern inserts a new pattern at the provisional trust level.
func (db *DB) CreateApprovalPattern(ctx context.Context, p model.ApprovalPattern) (model.ApprovalPattern, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.TrustLevel == "" {
		p.TrustLevel = model.TrustProvisional
	}
	if p.ActionPattern == nil {
		p.ActionPattern = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO approval_patterns (id, workspace_id, tool_name, action_pattern, goal_expression, trust_level, usage_count, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.WorkspaceID, p.ToolName, p.ActionPattern, p.GoalExpression,
		string(p.TrustLevel), p.UsageCount, p.ExpiresAt, p.CreatedAt,
	)
	if err != nil {
		return model.ApprovalPattern{}, fmt.Errorf("storage: create approval pattern: %w", err)
	}
	return p, nil
}

// GetApprovalPattern retrieves a pattern by id within a workspace.
func (db *DB) GetApprovalPattern(ctx context.Context, workspaceID, id uuid.UUID) (model.ApprovalPattern, error) {
	p, err := scanApprovalPattern(db.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_patterns WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ApprovalPattern{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrNotFound)
		}
		return model.ApprovalPattern{}, fmt.Errorf("storage: get approval pattern: %w", err)
	}
	return p, nil
}

// ListActivePatterns returns non-revoked, non-expired patterns for a tool in
// trust order (permanent first) then oldest first, so the most established
// pattern wins a tie.
func (db *DB) ListActivePatterns(ctx context.Context, workspaceID uuid.UUID, toolName string) ([]model.ApprovalPattern, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_patterns
		 WHERE workspace_id = $1 AND tool_name = $2
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY CASE trust_level WHEN 'permanent' THEN 0 WHEN 'trusted' THEN 1 ELSE 2 END, created_at ASC`,
		workspaceID, toolName,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active patterns: %w", err)
	}
	defer rows.Close()

	var patterns []model.ApprovalPattern
	for rows.Next() {
		p, err := scanApprovalPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan approval pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// ListApprovalPatterns returns every pattern in a workspace, revoked included,
// newest first.
func (db *DB) ListApprovalPatterns(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]model.ApprovalPattern, error) {
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
		`SELECT `+approvalColumns+` FROM approval_patterns
		 WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list approval patterns: %w", err)
	}
	defer rows.Close()

	var patterns []model.ApprovalPattern
	for rows.Next() {
		p, err := scanApprovalPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan approval pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// PatternUsage is the outcome of a single usage increment.
type PatternUsage struct {
	UsageCount int64
	TrustLevel model.TrustLevel
	// Promoted is true only for the one increment that crossed the trust
	// threshold and moved the pattern from provisional to trusted.
	Promoted bool
}

// RecordPatternUsage increments the usage counter and promotes provisional
// patterns to trusted once the counter reaches trustThreshold. The whole
// read-modify-write runs as one statement with a row lock, so N concurrent
// calls yield exactly N increments and at most one promotion.
func (db *DB) RecordPatternUsage(ctx context.Context, workspaceID, id uuid.UUID, trustThreshold int64) (PatternUsage, error) {
	var (
		usage    PatternUsage
		oldLevel string
		newLevel string
	)
	err := db.pool.QueryRow(ctx,
		`UPDATE approval_patterns
		 SET usage_count = approval_patterns.usage_count + 1,
		     trust_level = CASE
		         WHEN approval_patterns.trust_level = 'provisional' AND approval_patterns.usage_count + 1 >= $3 THEN 'trusted'
		         ELSE approval_patterns.trust_level
		     END,
		     last_used_at = now()
		 FROM (
		     SELECT id, trust_level AS old_level FROM approval_patterns
		     WHERE workspace_id = $1 AND id = $2 AND revoked_at IS NULL
		     FOR UPDATE
		 ) prev
		 WHERE approval_patterns.id = prev.id
		 RETURNING approval_patterns.usage_count, approval_patterns.trust_level, prev.old_level`,
		workspaceID, id, trustThreshold,
	).Scan(&usage.UsageCount, &newLevel, &oldLevel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Missing row or revoked pattern; tell them apart for the caller.
			p, getErr := db.GetApprovalPattern(ctx, workspaceID, id)
			if getErr != nil {
				return PatternUsage{}, getErr
			}
			if p.Revoked() {
				return PatternUsage{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrPatternRevoked)
			}
			return PatternUsage{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrNotFound)
		}
		return PatternUsage{}, fmt.Errorf("storage: record pattern usage: %w", err)
	}
	usage.TrustLevel = model.TrustLevel(newLevel)
	usage.Promoted = oldLevel == string(model.TrustProvisional) && newLevel == string(model.TrustTrusted)
	return usage, nil
}

// RevokeApprovalPattern marks a pattern revoked. Revocation is terminal:
// revoking an already-revoked pattern is rejected rather than overwritten.
func (db *DB) RevokeApprovalPattern(ctx context.Context, workspaceID, id uuid.UUID, revokedBy, reason string) (model.ApprovalPattern, error) {
	p, err := scanApprovalPattern(db.pool.QueryRow(ctx,
		`UPDATE approval_patterns
		 SET revoked_at = now(), revoked_by = $3, revoked_reason = $4
		 WHERE workspace_id = $1 AND id = $2 AND revoked_at IS NULL
		 RETURNING `+approvalColumns,
		workspaceID, id, revokedBy, reason,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := db.GetApprovalPattern(ctx, workspaceID, id)
			if getErr != nil {
				return model.ApprovalPattern{}, getErr
			}
			if existing.Revoked() {
				return model.ApprovalPattern{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrPatternRevoked)
			}
			return model.ApprovalPattern{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrNotFound)
		}
		return model.ApprovalPattern{}, fmt.Errorf("storage: revoke approval pattern: %w", err)
	}
	return p, nil
}

// ElevateApprovalPattern promotes a pattern directly to the permanent trust
// level. Only a live pattern can be elevated.
func (db *DB) ElevateApprovalPattern(ctx context.Context, workspaceID, id uuid.UUID) (model.ApprovalPattern, error) {
	p, err := scanApprovalPattern(db.pool.QueryRow(ctx,
		`UPDATE approval_patterns
		 SET trust_level = $3
		 WHERE workspace_id = $1 AND id = $2 AND revoked_at IS NULL
		 RETURNING `+approvalColumns,
		workspaceID, id, string(model.TrustPermanent),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := db.GetApprovalPattern(ctx, workspaceID, id)
			if getErr != nil {
				return model.ApprovalPattern{}, getErr
			}
			if existing.Revoked() {
				return model.ApprovalPattern{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrPatternRevoked)
			}
			return model.ApprovalPattern{}, fmt.Errorf("storage: approval pattern %s: %w", id, ErrNotFound)
		}
		return model.ApprovalPattern{}, fmt.Errorf("storage: elevate approval pattern: %w", err)
	}
	return p, nil
}

// SweepExpiredPatterns revokes live patterns whose expiry has passed. Returns
// the number of patterns revoked.
func (db *DB) SweepExpiredPatterns(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE approval_patterns
		 SET revoked_at = now(), revoked_by = 'system', revoked_reason = 'expired'
		 WHERE revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep expired patterns: %w", err)
	}
	return tag.RowsAffected(), nil
}
