package model

import (
	"time"

	"github.com/google/uuid"
)

// TrustLevel is the escalation state of an approval pattern.
//
// State machine: provisional → trusted happens automatically when the usage
// counter reaches the trust threshold; permanent is reachable only by
// explicit manual elevation; revocation is terminal from any state.
type TrustLevel string

const (
	TrustProvisional TrustLevel = "provisional"
	TrustTrusted     TrustLevel = "trusted"
	TrustPermanent   TrustLevel = "permanent"
)

// ApprovalPattern is a stored, reusable description of a tool call shape
// that may auto-approve future calls of the same shape.
type ApprovalPattern struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	ToolName    string    `json:"tool_name"`
	// ActionPattern is the structural shape of the approved call arguments.
	ActionPattern map[string]any `json:"action_pattern"`
	// GoalExpression, when set, is a regular expression that must match the
	// calling agent's goal text. Empty means the pattern is universal for
	// its tool.
	GoalExpression *string    `json:"goal_expression,omitempty"`
	TrustLevel     TrustLevel `json:"trust_level"`
	UsageCount     int64      `json:"usage_count"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokedBy      *string    `json:"revoked_by,omitempty"`
	RevokedReason  *string    `json:"revoked_reason,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Revoked reports whether the pattern has been revoked. Revoked patterns can
// never be updated or used to auto-approve again.
func (p ApprovalPattern) Revoked() bool {
	return p.RevokedAt != nil
}

// ExpiredAt reports whether the pattern is expired at the given instant.
func (p ApprovalPattern) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}
