// Package approval implements the trust-escalating approval pattern engine.
//
// A pattern describes the shape of a previously human-approved tool call.
// Matching patterns are candidates for auto-approving future calls; each use
// increments a counter, and a provisional pattern that reaches the trust
// threshold is promoted to trusted exactly once. The atomicity of that
// increment-and-promote is delegated to a single storage-level statement.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

// Engine matches tool calls against stored approval patterns.
type Engine struct {
	db             *storage.DB
	trustThreshold int64
	// patternExpiry, when positive, is applied to newly created patterns
	// that do not carry their own expiry. Zero means patterns never expire.
	patternExpiry time.Duration
	logger        *slog.Logger
}

// NewEngine creates the approval engine. threshold is the usage count at
// which a provisional pattern becomes trusted (default 10).
func NewEngine(db *storage.DB, threshold int64, patternExpiry time.Duration, logger *slog.Logger) *Engine {
	if threshold <= 0 {
		threshold = 10
	}
	return &Engine{
		db:             db,
		trustThreshold: threshold,
		patternExpiry:  patternExpiry,
		logger:         logger.With("component", "approval"),
	}
}

// TrustThreshold returns the configured promotion threshold.
func (e *Engine) TrustThreshold() int64 { return e.trustThreshold }

// Create stores a new pattern at the provisional trust level, applying the
// engine's default expiry when the pattern has none.
func (e *Engine) Create(ctx context.Context, p model.ApprovalPattern) (model.ApprovalPattern, error) {
	if p.ToolName == "" {
		return model.ApprovalPattern{}, fmt.Errorf("approval: tool name is required")
	}
	if p.GoalExpression != nil {
		if _, err := regexp.Compile(*p.GoalExpression); err != nil {
			return model.ApprovalPattern{}, fmt.Errorf("approval: invalid goal expression: %w", err)
		}
	}
	if p.ExpiresAt == nil && e.patternExpiry > 0 {
		t := time.Now().UTC().Add(e.patternExpiry)
		p.ExpiresAt = &t
	}
	p.TrustLevel = model.TrustProvisional
	created, err := e.db.CreateApprovalPattern(ctx, p)
	if err != nil {
		return model.ApprovalPattern{}, err
	}
	e.logger.Info("approval pattern created",
		"pattern_id", created.ID, "tool", created.ToolName, "workspace_id", created.WorkspaceID)
	return created, nil
}

// Match returns the non-revoked, non-expired patterns for (workspace, tool)
// whose goal expression matches the calling agent's goal. A pattern without a
// goal expression is universal for its tool. The caller decides whether a
// match suffices to skip a human approval step.
func (e *Engine) Match(ctx context.Context, workspaceID uuid.UUID, toolName, agentGoal string) ([]model.ApprovalPattern, error) {
	candidates, err := e.db.ListActivePatterns(ctx, workspaceID, toolName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var matches []model.ApprovalPattern
	for _, p := range candidates {
		if p.Revoked() || p.ExpiredAt(now) {
			continue
		}
		if p.GoalExpression != nil && *p.GoalExpression != "" {
			re, err := regexp.Compile(*p.GoalExpression)
			if err != nil {
				// A stored expression that no longer compiles cannot match.
				e.logger.Warn("skipping pattern with invalid goal expression",
					"pattern_id", p.ID, "error", err)
				continue
			}
			if !re.MatchString(agentGoal) {
				continue
			}
		}
		matches = append(matches, p)
	}
	return matches, nil
}

// RecordUsage counts one auto-approved use of a pattern. N concurrent calls
// yield exactly N increments, and the provisional-to-trusted promotion fires
// exactly once, on the call that crossed the threshold.
func (e *Engine) RecordUsage(ctx context.Context, workspaceID, patternID uuid.UUID) (storage.PatternUsage, error) {
	usage, err := e.db.RecordPatternUsage(ctx, workspaceID, patternID, e.trustThreshold)
	if err != nil {
		return storage.PatternUsage{}, err
	}
	if usage.Promoted {
		e.logger.Info("pattern promoted to trusted",
			"pattern_id", patternID, "usage_count", usage.UsageCount, "workspace_id", workspaceID)
	}
	return usage, nil
}

// Revoke terminates a pattern. A revoked pattern never matches or auto-
// approves again, and revocation itself cannot be undone.
func (e *Engine) Revoke(ctx context.Context, workspaceID, patternID uuid.UUID, revokedBy, reason string) (model.ApprovalPattern, error) {
	p, err := e.db.RevokeApprovalPattern(ctx, workspaceID, patternID, revokedBy, reason)
	if err != nil {
		return model.ApprovalPattern{}, err
	}
	e.logger.Info("pattern revoked",
		"pattern_id", patternID, "revoked_by", revokedBy, "reason", reason)
	return p, nil
}

// Elevate promotes a pattern to permanent. This is the only path to the
// permanent level — it is never reached automatically.
func (e *Engine) Elevate(ctx context.Context, workspaceID, patternID uuid.UUID) (model.ApprovalPattern, error) {
	p, err := e.db.ElevateApprovalPattern(ctx, workspaceID, patternID)
	if err != nil {
		return model.ApprovalPattern{}, err
	}
	e.logger.Info("pattern elevated to permanent", "pattern_id", patternID)
	return p, nil
}
